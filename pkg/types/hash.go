package types

import (
	sha256 "github.com/minio/sha256-simd"
)

// sha256Sum hashes data with the SIMD-accelerated sha256 implementation
// the wider Filecoin stack uses for ticket and randomness digests.
func sha256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Digest returns the sha256 digest of the ticket's VRF proof, the value
// used to seed chain randomness (spec.md §9's "MakeRandomSeed").
func (t Ticket) Digest() [32]byte {
	return sha256Sum(t.VRFProof)
}
