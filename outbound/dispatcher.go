package outbound

import (
	"context"

	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/protocol"
)

// Dispatcher turns one uniform borrow request into the venue's own call.
type Dispatcher struct {
	engine core.Address
	config core.Config
}

func NewDispatcher(engine core.Address, cfg core.Config) *Dispatcher {
	return &Dispatcher{engine: engine, config: cfg}
}

// Validate applies the request preconditions in their fixed order.
func Validate(req core.BorrowRequest) error {
	switch {
	case core.IsZeroAddress(req.Venue):
		return core.ErrInvalidProvider()
	case core.IsZeroAddress(req.Asset):
		return core.ErrInvalidAsset(req.Asset)
	case req.Amount == nil || req.Amount.Sign() <= 0:
		return core.ErrInsufficientAmount()
	case req.Amount.BitLen() > core.MaxAmountBits:
		return core.ErrAmountOverflow(req.Amount.BitLen())
	case len(req.Payload) == 0:
		return core.ErrInvalidDataLength()
	}
	return nil
}

// Resolve returns the variant serving id, rejecting unknown and disabled
// protocols alike.
func (d *Dispatcher) Resolve(id core.ProtocolID) (protocol.Variant, error) {
	variant, ok := protocol.Lookup(id)
	if !ok || !d.config.ProtocolEnabled(id) {
		return nil, core.ErrUnsupportedProtocol(id)
	}
	return variant, nil
}

// Encode builds the outbound calldata, introspecting the venue first when
// the convention needs it.
func (d *Dispatcher) Encode(ctx context.Context, frame core.Frame, variant protocol.Variant, req core.BorrowRequest) ([]byte, error) {
	slot := protocol.SlotNone
	if introspector, ok := variant.(protocol.Introspector); ok {
		resolved, err := introspector.ResolveSlot(ctx, frame.Executor, frame.Self, req.Venue, req.Asset)
		if err != nil {
			return nil, err
		}
		slot = resolved
	}
	data, err := variant.EncodeOutbound(frame.Self, req, slot)
	if err != nil {
		return nil, core.ErrInternal("encode outbound request", err)
	}
	return data, nil
}

// Initiate validates req, records the request context and issues exactly
// one call to the venue. The venue's own failure is returned unchanged.
func (d *Dispatcher) Initiate(ctx context.Context, frame core.Frame, req core.BorrowRequest) error {
	if err := core.AssertHosted(frame, d.engine); err != nil {
		return err
	}
	if err := Validate(req); err != nil {
		return err
	}
	variant, err := d.Resolve(req.Protocol)
	if err != nil {
		return err
	}
	if frame.Executor == nil {
		return core.ErrInternal("frame executor is required", nil)
	}

	store := core.NewContextStore(frame)
	if store.Active() && !d.config.Hardening.AllowNestedInitiate {
		return core.ErrReentrantInitiate()
	}

	data, err := d.Encode(ctx, frame, variant, req)
	if err != nil {
		return err
	}

	saved := store.Save()
	defer store.Restore(saved)

	rc := core.RequestContext{Venue: req.Venue}
	if variant.Descriptor().StoresAssetAmount {
		rc.Asset = req.Asset
		rc.Amount = core.CloneAmount(req.Amount)
	}
	store.Record(rc)

	_, err = frame.Executor.Call(ctx, frame.Self, req.Venue, data)
	return err
}
