package engine

import (
	"context"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/inbound"
	"github.com/goliatone/go-flashroute/outbound"
	"github.com/goliatone/go-flashroute/protocol"
)

// Engine is the flash-loan dispatch and callback routing engine deployed at
// one address and executed inside hosts.
type Engine struct {
	address    core.Address
	deps       core.Dependencies
	dispatcher *outbound.Dispatcher
	router     *inbound.Router
	observer   *core.Observer
}

func New(address core.Address, opts ...core.Option) (*Engine, error) {
	if core.IsZeroAddress(address) {
		return nil, core.ErrInternal("engine address is required", nil)
	}
	deps, err := core.ResolveDependencies(opts...)
	if err != nil {
		return nil, err
	}
	return &Engine{
		address:    address,
		deps:       deps,
		dispatcher: outbound.NewDispatcher(address, deps.Config),
		router:     inbound.NewRouter(address, deps.Config),
		observer:   deps.Observer(deps.Config.ServiceName),
	}, nil
}

func (e *Engine) Address() core.Address {
	return e.address
}

func (e *Engine) Config() core.Config {
	return e.deps.Config
}

func (e *Engine) Dependencies() core.Dependencies {
	return e.deps
}

// Router exposes the callback router so callers can swap its authorizer.
func (e *Engine) Router() *inbound.Router {
	return e.router
}

func (e *Engine) Initiate(ctx context.Context, frame core.Frame, req core.BorrowRequest) (err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"protocol": req.Protocol.String(),
		"venue":    req.Venue.Hex(),
		"asset":    req.Asset.Hex(),
		"self":     frame.Self.Hex(),
	}
	if req.Amount != nil {
		fields["amount"] = req.Amount.String()
	}
	defer func() {
		e.observer.Observe(ctx, startedAt, "initiate", err, fields)
	}()
	return e.dispatcher.Initiate(ctx, frame, req)
}

// HandleCallback is the single inbound entry point for every venue
// convention.
func (e *Engine) HandleCallback(ctx context.Context, frame core.Frame, calldata []byte) (ack []byte, err error) {
	startedAt := time.Now()
	tag, _ := protocol.SelectorOf(calldata)
	fields := map[string]any{
		"caller":   frame.Caller.Hex(),
		"self":     frame.Self.Hex(),
		"selector": "0x" + hex.EncodeToString(tag[:]),
	}
	if variant, ok := protocol.ShapeForSelector(tag); ok {
		fields["protocol"] = variant.Descriptor().Name
	}
	defer func() {
		e.observer.Observe(ctx, startedAt, "callback", err, fields)
	}()
	return e.router.Handle(ctx, frame, calldata)
}

// InitiateCalldata decodes an initiate call into a borrow request.
func InitiateCalldata(calldata []byte) (core.BorrowRequest, error) {
	args, err := protocol.UnpackInputs(protocol.EngineABI, "initiate", calldata)
	if err != nil {
		return core.BorrowRequest{}, core.ErrMalformedCalldata("initiate", err)
	}
	if len(args) != 5 {
		return core.BorrowRequest{}, core.ErrMalformedCalldata("initiate", nil)
	}
	id, ok1 := args[0].(uint8)
	venue, ok2 := args[1].(core.Address)
	asset, ok3 := args[2].(core.Address)
	amount, ok4 := args[3].(*big.Int)
	payload, ok5 := args[4].([]byte)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return core.BorrowRequest{}, core.ErrMalformedCalldata("initiate", nil)
	}
	return core.BorrowRequest{
		Protocol: core.ProtocolID(id),
		Venue:    venue,
		Asset:    asset,
		Amount:   amount,
		Payload:  payload,
	}, nil
}

// PackInitiate encodes req as an initiate call.
func PackInitiate(req core.BorrowRequest) ([]byte, error) {
	amount := req.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	payload := req.Payload
	if payload == nil {
		payload = []byte{}
	}
	return protocol.EngineABI.Pack("initiate", uint8(req.Protocol), req.Venue, req.Asset, amount, payload)
}

// IsInitiate reports whether calldata targets the initiate entry point.
func IsInitiate(calldata []byte) bool {
	tag, ok := protocol.SelectorOf(calldata)
	return ok && tag == protocol.Selector(protocol.EngineABI, "initiate")
}

// ListProtocols summarizes every convention, flagging those the engine's
// configuration disables.
func (e *Engine) ListProtocols(context.Context) ([]protocol.Info, error) {
	descriptors := protocol.Descriptors()
	out := make([]protocol.Info, 0, len(descriptors))
	for _, desc := range descriptors {
		out = append(out, desc.Info(e.deps.Config.ProtocolEnabled(desc.ID)))
	}
	return out, nil
}

func (e *Engine) DescribeProtocol(_ context.Context, id core.ProtocolID) (protocol.Info, error) {
	variant, ok := protocol.Lookup(id)
	if !ok {
		return protocol.Info{}, core.ErrUnsupportedProtocol(id)
	}
	desc := variant.Descriptor()
	return desc.Info(e.deps.Config.ProtocolEnabled(id)), nil
}
