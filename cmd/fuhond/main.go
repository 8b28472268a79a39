// Command fuhond is the daemon entrypoint: it loads (or creates) an
// on-disk repo, wires every collaborator and submodule together, and
// serves the resulting façade over JSON-RPC.
//
// Grounded on venus's cmd/main.go command-table shape and lotus's
// daemon/rpc.go JSON-RPC server wiring.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/filecoin-project/go-state-types/abi"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/filecoin-project/fuhon/app/api"
	"github.com/filecoin-project/fuhon/app/submodule/chain"
	"github.com/filecoin-project/fuhon/app/submodule/mining"
	"github.com/filecoin-project/fuhon/app/submodule/mpool"
	"github.com/filecoin-project/fuhon/app/submodule/state"
	"github.com/filecoin-project/fuhon/app/submodule/sync"
	"github.com/filecoin-project/fuhon/app/submodule/wallet"
	"github.com/filecoin-project/fuhon/pkg/beacon"
	"github.com/filecoin-project/fuhon/pkg/chainstore"
	"github.com/filecoin-project/fuhon/pkg/config"
	"github.com/filecoin-project/fuhon/pkg/consensus"
	"github.com/filecoin-project/fuhon/pkg/genesis"
	"github.com/filecoin-project/fuhon/pkg/interpreter"
	"github.com/filecoin-project/fuhon/pkg/ipld"
	"github.com/filecoin-project/fuhon/pkg/keystore"
	"github.com/filecoin-project/fuhon/pkg/messagepool"
	"github.com/filecoin-project/fuhon/pkg/msgwaiter"
	"github.com/filecoin-project/fuhon/pkg/statemanager"
	"github.com/filecoin-project/fuhon/pkg/types"
)

var log = logging.Logger("fuhond")

func main() {
	logging.SetAllLoggers(logging.LevelInfo)

	app := &cli.App{
		Name:  "fuhond",
		Usage: "a minimal Filecoin-style chain daemon",
		Commands: []*cli.Command{
			daemonCmd,
			versionCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Errorf("%s", err)
		os.Exit(1)
	}
}

var versionCmd = &cli.Command{
	Name:  "version",
	Usage: "print node version",
	Action: func(cctx *cli.Context) error {
		fmt.Println("fuhon 0.3.0")
		return nil
	},
}

var daemonCmd = &cli.Command{
	Name:  "daemon",
	Usage: "start the fuhon daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "repo", Value: "~/.fuhon"},
	},
	Action: func(cctx *cli.Context) error {
		return runDaemon(cctx.Context, cctx.String("repo"))
	},
}

func runDaemon(ctx context.Context, repoPath string) error {
	cfgPath := filepath.Join(repoPath, "config.toml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Default()
		cfg.Repo.Path = repoPath
		if mkErr := os.MkdirAll(repoPath, 0755); mkErr != nil {
			return mkErr
		}
		if saveErr := config.Save(cfgPath, cfg); saveErr != nil {
			return saveErr
		}
	}

	store, err := ipld.NewBadgerStore(filepath.Join(cfg.Repo.Path, "blockstore"))
	if err != nil {
		return err
	}

	keys := keystore.New()
	minerAddr, err := keys.GenerateSECP()
	if err != nil {
		return err
	}

	genesisTs, err := genesis.Build(ctx, store, cfg.Network.Name, []genesis.Alloc{
		{Addr: minerAddr, Balance: fbig.NewInt(1_000_000_000_000)},
	})
	if err != nil {
		return err
	}

	chainStore := chainstore.New(genesisTs)
	interp := interpreter.New(store, stubStateTransition)
	sm := statemanager.New(store, chainStore, interp)
	beaconizer := beacon.New(fixedBeacon{})
	pool := messagepool.New(func(ctx context.Context, actor address.Address) (uint64, error) {
		tc, err := sm.TipsetContext(ctx, types.EmptyTSK, false)
		if err != nil {
			return 0, err
		}
		id, err := tc.State.LookupID(ctx, actor)
		if err != nil {
			return 0, err
		}
		a, err := tc.State.Get(ctx, id)
		if err != nil {
			return 0, err
		}
		return a.Nonce, nil
	})
	waiter := msgwaiter.New(store, chainStore, interp)

	weightFn := func(ctx context.Context, ts *types.Tipset) (fbig.Int, error) {
		return consensus.Weight(ctx, statemanager.StateTreeAt(store, ts.ParentStateRoot()), ts)
	}

	facade := &api.Facade{
		Chain: &chain.ChainSubmodule{
			Store:   store,
			Chain:   chainStore,
			SM:      sm,
			Weight:  weightFn,
			Beacon:  beaconizer,
			Draw:    drawRandomness,
			Genesis: genesisTs,
		},
		Mining: &mining.MiningSubmodule{
			Store:              store,
			SM:                 sm,
			Beacon:             beaconizer,
			Keys:               keys,
			Interp:             interp,
			Challenger:         allSectorsChallenger,
			DrawPoStRandomness: drawPoStRandomness,
		},
		Mpool:  &mpool.MpoolSubmodule{SM: sm, Pool: pool, Keys: keys},
		Wallet: &wallet.WalletSubmodule{SM: sm, Keys: keys},
		State: &state.StateSubmodule{
			SM:      sm,
			Waiter:  waiter,
			Invoke:  stubInvoke,
			Network: cfg.Network.Name,
		},
		Sync: &sync.SyncSubmodule{Store: store, Chain: chainStore},
	}

	rpcServer := jsonrpc.NewServer()
	rpcServer.Register("Filecoin", facade)

	log.Infof("serving on %s", cfg.API.ListenAddr)
	http.Handle("/rpc/v0", rpcServer)
	return http.ListenAndServe(cfg.API.ListenAddr, nil)
}

// stubStateTransition is the out-of-scope VM entry point (spec.md §1:
// "the VM's actor implementations themselves ... treated as a pure
// function"). It leaves the state root unchanged and returns a
// zero-value success receipt, giving the daemon something runnable
// while the real VM stays a plugged-in collaborator.
func stubStateTransition(ctx context.Context, store ipld.Store, stateRoot cid.Cid, msg *types.UnsignedMessage) (cid.Cid, *types.MessageReceipt, error) {
	return stateRoot, &types.MessageReceipt{ExitCode: 0}, nil
}

func stubInvoke(ctx context.Context, store ipld.Store, tipset *types.Tipset, msg *types.UnsignedMessage) (*types.MessageReceipt, error) {
	return &types.MessageReceipt{ExitCode: 0}, nil
}

func drawRandomness(beaconData []byte, tag chain.RandomnessTag, epoch int64, entropy []byte) [32]byte {
	return sha256Fold(beaconData, uint64(tag), epoch, entropy)
}

func drawPoStRandomness(beaconData []byte, epoch abi.ChainEpoch, miner address.Address) []byte {
	digest := sha256Fold(beaconData, 0, int64(epoch), miner.Bytes())
	return digest[:]
}

type fixedBeacon struct{}

func (fixedBeacon) Entry(ctx context.Context, round uint64) (*types.BeaconEntry, error) {
	return &types.BeaconEntry{Round: round, Data: []byte(fmt.Sprintf("beacon-%d", round))}, nil
}

func (fixedBeacon) MaxRound(ctx context.Context, epoch abi.ChainEpoch) uint64 {
	return uint64(epoch)
}

func allSectorsChallenger(minerID abi.ActorID, postRand []byte, numSectors int) []int {
	idx := make([]int, numSectors)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
