// Package consensus is the opaque chain-weight collaborator named in
// spec.md §1 ("consensus weight formulas ... treated as opaque
// functions"): it compares two tipsets and decides which one the chain
// store should adopt as its new head.
//
// Grounded on venus's pkg/consensus weight accumulation over a tipset's
// blocks and their parent actor power.
package consensus

import (
	"context"

	fbig "github.com/filecoin-project/go-state-types/big"

	"github.com/filecoin-project/fuhon/pkg/state"
	"github.com/filecoin-project/fuhon/pkg/types"
)

// wRatioNum/wRatioDen scale the power actor's total quality-adjusted
// power into the bonus term Weight adds, the same ratio venus's Expected
// Consensus weight formula applies.
var (
	wRatioNum = fbig.NewInt(2)
	wRatioDen = fbig.NewInt(5)
)

// Weight computes a tipset's chain weight: its parent weight, plus one
// unit per block, plus a fractional bonus proportional to the power
// actor's total quality-adjusted power recorded in the tipset's own
// parent state. This is an opaque collaborator per spec.md §1; callers
// never need to understand the formula, only that it is monotonic and
// deterministic (spec.md §8, invariant 8).
func Weight(ctx context.Context, store interface {
	PowerState(ctx context.Context) (*state.PowerState, error)
}, ts *types.Tipset) (fbig.Int, error) {
	base := ts.ParentWeight()
	blockCount := fbig.NewInt(int64(len(ts.Blocks())))
	base = fbig.Add(base, blockCount)

	pst, err := store.PowerState(ctx)
	if err != nil {
		// A tipset whose parent state predates the power actor (e.g. the
		// tipset built directly on genesis) contributes no bonus term.
		return base, nil
	}
	bonus := fbig.Div(fbig.Mul(pst.TotalQualityAdjPower, wRatioNum), wRatioDen)
	return fbig.Add(base, bonus), nil
}

// Greater reports whether a should replace b as the chain head: purely
// by weight, ties broken by the lexicographically smaller tipset key so
// the comparison is a total order (spec.md §8, invariant 8 requires a
// deterministic choice on ties).
func Greater(aw fbig.Int, a *types.Tipset, bw fbig.Int, b *types.Tipset) bool {
	switch fbig.Cmp(aw, bw) {
	case 1:
		return true
	case -1:
		return false
	default:
		return a.Key().String() < b.Key().String()
	}
}
