package inbound

import (
	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/protocol"
)

func malformed(variant protocol.Variant, err error) error {
	return core.ErrMalformedCalldata(variant.Descriptor().Name, err)
}

// arrayLength reports the first decoded collection whose length is not one.
func arrayLength(cb protocol.Callback) (int, bool) {
	for _, n := range []int{len(cb.Assets), len(cb.Amounts), len(cb.Fees)} {
		if n != 1 {
			return n, false
		}
	}
	return 1, true
}
