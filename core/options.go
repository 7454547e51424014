package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type builder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
}

type Option func(*builder)

func WithConfig(cfg Config) Option {
	return func(b *builder) {
		b.runtimeConfig = cfg
	}
}

func WithLogger(logger Logger) Option {
	return func(b *builder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *builder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *builder) {
		b.metricsRecorder = recorder
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *builder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *builder) {
		b.optionsResolver = resolver
	}
}

// Dependencies is the resolved ambient stack shared by the engine packages.
type Dependencies struct {
	Config         Config
	Logger         Logger
	LoggerProvider LoggerProvider
	Metrics        MetricsRecorder
}

func (d Dependencies) Observer(name string) *Observer {
	return NewObserver(name, d.Logger, d.Metrics)
}

// ResolveDependencies applies options over the defaults and resolves the
// final configuration through the config provider and options resolver.
func ResolveDependencies(options ...Option) (Dependencies, error) {
	b := builder{
		metricsRecorder: NopMetricsRecorder{},
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&b)
	}

	provider, logger := glog.Resolve("flashroute", b.loggerProvider, b.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("flashroute"); named != nil {
			logger = glog.Ensure(named)
		}
	}
	if b.metricsRecorder == nil {
		b.metricsRecorder = NopMetricsRecorder{}
	}
	if b.configProvider == nil {
		b.configProvider = NewCfgxConfigProvider(nil)
	}
	if b.optionsResolver == nil {
		b.optionsResolver = GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := b.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return Dependencies{}, ErrInternal("config load failed", err)
	}
	final, err := b.optionsResolver.Resolve(defaults, loaded, b.runtimeConfig)
	if err != nil {
		return Dependencies{}, ErrInternal("config resolve failed", err)
	}

	return Dependencies{
		Config:         final,
		Logger:         logger,
		LoggerProvider: provider,
		Metrics:        b.metricsRecorder,
	}, nil
}

// StaticConfigLoader serves a fixed raw map, typically parsed from flags.
type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || len(cfg.Protocols.Enabled) > 0 {
		layer["protocols"] = map[string]any{
			"enabled": append([]string(nil), cfg.Protocols.Enabled...),
		}
	}
	hardening := map[string]any{}
	if includeZero || cfg.Hardening.AllowContextReuse {
		hardening["allow_context_reuse"] = cfg.Hardening.AllowContextReuse
	}
	if includeZero || cfg.Hardening.AllowNestedInitiate {
		hardening["allow_nested_initiate"] = cfg.Hardening.AllowNestedInitiate
	}
	if len(hardening) > 0 {
		layer["hardening"] = hardening
	}
	return layer
}
