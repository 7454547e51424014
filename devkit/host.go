package devkit

import (
	"context"

	"github.com/goliatone/go-flashroute/chain"
	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/engine"
)

// Host executes the engine inside its own identity. initiate calls go to
// the dispatch entry point and everything else to the callback router.
// Deploying a Host at the engine's own address stands in for calling the
// engine directly.
type Host struct {
	Engine   *engine.Engine
	Borrower core.Borrower
}

// NewHost runs borrower as host logic, or Keep when borrower is nil.
func NewHost(eng *engine.Engine, borrower core.Borrower) *Host {
	if borrower == nil {
		borrower = Keep()
	}
	return &Host{Engine: eng, Borrower: borrower}
}

func (h *Host) Call(ctx context.Context, env *chain.Env, msg chain.Message) ([]byte, error) {
	frame := core.Frame{
		Self:     env.Self(),
		Caller:   msg.From,
		Executor: env,
		Borrower: h.Borrower,
	}
	if engine.IsInitiate(msg.Data) {
		req, err := engine.InitiateCalldata(msg.Data)
		if err != nil {
			return nil, err
		}
		return nil, h.Engine.Initiate(ctx, frame, req)
	}
	return h.Engine.HandleCallback(ctx, frame, msg.Data)
}
