// Package inbound routes venue callbacks back to the host's borrowing logic.
//
// Every callback is authorized against the recorded venue and claimed
// before its calldata is decoded, so an unauthorized or replayed callback
// never reaches host logic.
package inbound
