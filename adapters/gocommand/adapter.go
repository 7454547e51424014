package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	flashcommand "github.com/goliatone/go-flashroute/command"
	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/protocol"
	flashquery "github.com/goliatone/go-flashroute/query"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// on Initialize.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Bus subscribes the flashroute command and queries on the go-command
// dispatcher. Commands and queries live in separate registries so queue
// resolvers only ever see commands. Close releases the subscriptions.
type Bus struct {
	commands      *RegistryAdapter
	queries       *RegistryAdapter
	subscriptions []commanddispatcher.Subscription
}

type BusOption func(*busOptions)

type busOptions struct {
	queueRegistry *jobqueuecommand.Registry
	queries       *RegistryAdapter
	runnerOpts    []runner.Option
}

// WithQueueRegistry mirrors the borrow command into a go-job queue registry.
func WithQueueRegistry(registry *jobqueuecommand.Registry) BusOption {
	return func(o *busOptions) {
		o.queueRegistry = registry
	}
}

// WithQueryRegistry sets the registry holding the protocol queries.
func WithQueryRegistry(adapter *RegistryAdapter) BusOption {
	return func(o *busOptions) {
		o.queries = adapter
	}
}

func WithRunnerOptions(opts ...runner.Option) BusOption {
	return func(o *busOptions) {
		o.runnerOpts = append(o.runnerOpts, opts...)
	}
}

// NewBus registers the borrow command on commands and the protocol queries
// on a registry of their own.
func NewBus(
	commands *RegistryAdapter,
	borrow flashcommand.BorrowService,
	catalog flashquery.ProtocolCatalog,
	opts ...BusOption,
) (*Bus, error) {
	if commands == nil {
		commands = NewRegistryAdapter(nil)
	}
	if borrow == nil || catalog == nil {
		return nil, fmt.Errorf("gocommand: borrow service and protocol catalog are required")
	}
	cfg := busOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.queries == nil {
		cfg.queries = NewRegistryAdapter(nil)
	}
	if cfg.queries == commands {
		return nil, fmt.Errorf("gocommand: query registry must differ from the command registry")
	}
	bus := &Bus{commands: commands, queries: cfg.queries}
	if cfg.queueRegistry != nil {
		if err := commands.AddQueueResolver("queue", cfg.queueRegistry); err != nil {
			return nil, err
		}
	}

	sub, err := RegisterAndSubscribe(commands, flashcommand.NewInitiateBorrowCommand(borrow), cfg.runnerOpts...)
	if err != nil {
		return nil, err
	}
	bus.subscriptions = append(bus.subscriptions, sub)

	sub, err = RegisterAndSubscribeQuery(bus.queries, flashquery.NewListProtocolsQuery(catalog), cfg.runnerOpts...)
	if err != nil {
		bus.Close()
		return nil, err
	}
	bus.subscriptions = append(bus.subscriptions, sub)

	sub, err = RegisterAndSubscribeQuery(bus.queries, flashquery.NewDescribeProtocolQuery(catalog), cfg.runnerOpts...)
	if err != nil {
		bus.Close()
		return nil, err
	}
	bus.subscriptions = append(bus.subscriptions, sub)

	if err := commands.Initialize(); err != nil {
		bus.Close()
		return nil, err
	}
	if err := bus.queries.Initialize(); err != nil {
		bus.Close()
		return nil, err
	}
	return bus, nil
}

func (b *Bus) Close() {
	if b == nil {
		return
	}
	for _, sub := range b.subscriptions {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

// DispatchBorrow sends the borrow command and collects its receipt. The
// receipt of a failed borrow is returned alongside the error.
func DispatchBorrow(ctx context.Context, req core.BorrowRequest) (core.BorrowReceipt, error) {
	msg := flashcommand.InitiateBorrowMessage{Request: req}
	if err := ValidateMessageContract(msg); err != nil {
		return core.BorrowReceipt{}, err
	}
	collector := command.NewResult[core.BorrowReceipt]()
	err := commanddispatcher.Dispatch(command.ContextWithResult(ctx, collector), msg)
	receipt, _ := collector.Load()
	return receipt, err
}

func QueryProtocols(ctx context.Context, enabledOnly bool) ([]protocol.Info, error) {
	return commanddispatcher.Query[flashquery.ListProtocolsMessage, []protocol.Info](
		ctx,
		flashquery.ListProtocolsMessage{EnabledOnly: enabledOnly},
	)
}

func QueryProtocol(ctx context.Context, id core.ProtocolID) (protocol.Info, error) {
	msg := flashquery.DescribeProtocolMessage{Protocol: id}
	if err := ValidateMessageContract(msg); err != nil {
		return protocol.Info{}, err
	}
	return commanddispatcher.Query[flashquery.DescribeProtocolMessage, protocol.Info](ctx, msg)
}
