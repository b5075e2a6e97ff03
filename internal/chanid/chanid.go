// Package chanid computes the stable per-process hash used to turn one MQTT
// topic segment into a ChanID, and reserves the two wildcard sentinels.
package chanid

import "github.com/cespare/xxhash/v2"

// ID is a 64-bit hash of a single topic segment's UTF-8 bytes.
type ID uint64

// Reserved IDs for the MQTT wildcards. Computed once at init so every
// package that imports chanid agrees on the same values for the lifetime
// of the process, per spec: "must be deterministic within a run."
var (
	SW = Hash([]byte("+"))
	MW = Hash([]byte("#"))
)

// Hash returns the ChanID for one topic segment. It need not be
// cryptographic, only deterministic within a process run.
func Hash(segment []byte) ID {
	return ID(xxhash.Sum64(segment))
}
