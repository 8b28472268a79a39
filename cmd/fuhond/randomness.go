package main

import (
	"encoding/binary"

	sha256 "github.com/minio/sha256-simd"
)

// sha256Fold concatenates beaconData, tag, epoch, and entropy and hashes
// the result, the same domain-separated folding shape lotus's
// DrawRandomness applies before handing bytes to a VRF/ticket
// consumer.
func sha256Fold(beaconData []byte, tag uint64, epoch int64, entropy []byte) [32]byte {
	h := sha256.New()
	h.Write(beaconData)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], tag)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(epoch))
	h.Write(buf[:])
	h.Write(entropy)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
