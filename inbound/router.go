package inbound

import (
	"context"

	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/protocol"
	"github.com/goliatone/go-flashroute/settlement"
)

// Authorizer decides whether the frame's caller may deliver a callback for
// the recorded request.
type Authorizer interface {
	Authorize(ctx context.Context, frame core.Frame, rc core.RequestContext) error
}

// VenueAuthorizer accepts only the venue the outstanding request was sent to.
type VenueAuthorizer struct{}

func (VenueAuthorizer) Authorize(_ context.Context, frame core.Frame, rc core.RequestContext) error {
	if rc.Empty() || frame.Caller != rc.Venue {
		return core.ErrUnauthorizedCallback(frame.Caller)
	}
	return nil
}

type Router struct {
	Authorizer Authorizer
	Repayer    settlement.Repayer

	engine core.Address
	config core.Config
}

func NewRouter(engine core.Address, cfg core.Config) *Router {
	return &Router{
		Authorizer: VenueAuthorizer{},
		Repayer:    settlement.NewRepayer(),
		engine:     engine,
		config:     cfg,
	}
}

// Handle authorizes, decodes and settles one venue callback and returns the
// acknowledgement the venue expects.
func (r *Router) Handle(ctx context.Context, frame core.Frame, calldata []byte) ([]byte, error) {
	if err := core.AssertHosted(frame, r.engine); err != nil {
		return nil, err
	}
	if frame.Executor == nil {
		return nil, core.ErrInternal("frame executor is required", nil)
	}

	store := core.NewContextStore(frame)
	rc := store.Load()
	if !store.Active() {
		rc = core.RequestContext{}
	}
	authorizer := r.Authorizer
	if authorizer == nil {
		authorizer = VenueAuthorizer{}
	}
	if err := authorizer.Authorize(ctx, frame, rc); err != nil {
		return nil, err
	}
	if !r.config.Hardening.AllowContextReuse && !store.Consume() {
		return nil, core.ErrUnauthorizedCallback(frame.Caller)
	}

	tag, _ := protocol.SelectorOf(calldata)
	variant, ok := protocol.ShapeForSelector(tag)
	if !ok {
		return nil, core.ErrUnsupportedSelector(tag)
	}
	desc := variant.Descriptor()
	cb, err := variant.DecodeCallback(calldata)
	if err != nil {
		return nil, malformed(variant, err)
	}
	if desc.CarriesInitiator && (cb.Initiator == nil || *cb.Initiator != frame.Self) {
		initiator := core.Address{}
		if cb.Initiator != nil {
			initiator = *cb.Initiator
		}
		return nil, core.ErrInvalidInitiator(initiator)
	}
	if desc.Arrayed {
		if n, ok := arrayLength(cb); !ok {
			return nil, core.ErrInvalidParametersLength(n)
		}
	}
	terms, err := variant.Terms(cb, rc)
	if err != nil {
		return nil, err
	}

	if desc.Handshake {
		if err := r.Repayer.Receive(ctx, frame, rc.Venue, terms.Asset, terms.Principal); err != nil {
			return nil, err
		}
	}
	if frame.Borrower == nil {
		return nil, core.ErrInternal("host borrower is required", nil)
	}
	loan := core.Loan{
		Protocol:   desc.ID,
		Venue:      rc.Venue,
		Asset:      terms.Asset,
		Principal:  core.CloneAmount(terms.Principal),
		Fee:        core.CloneAmount(terms.Fee),
		AmountOwed: core.CloneAmount(terms.Owed),
		Payload:    core.ClonePayload(cb.Payload),
	}
	if err := frame.Borrower.OnBorrow(ctx, frame, loan); err != nil {
		return nil, err
	}
	if err := r.Repayer.Repay(ctx, frame, desc, rc.Venue, terms); err != nil {
		return nil, err
	}
	ack, err := variant.Ack()
	if err != nil {
		return nil, core.ErrInternal("encode acknowledgement", err)
	}
	return ack, nil
}
