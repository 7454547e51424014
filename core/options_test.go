package core

import (
	"context"
	"errors"
	"testing"
)

type fixedConfigProvider struct {
	cfg Config
	err error
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, p.err
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

func TestResolveDependencies_Defaults(t *testing.T) {
	deps, err := ResolveDependencies()
	if err != nil {
		t.Fatalf("resolve dependencies: %v", err)
	}
	if deps.Logger == nil {
		t.Fatalf("expected default logger")
	}
	if deps.LoggerProvider == nil {
		t.Fatalf("expected default logger provider")
	}
	if deps.Metrics == nil {
		t.Fatalf("expected default metrics recorder")
	}
	if deps.Config.ServiceName != "flashroute" {
		t.Fatalf("expected default service_name=flashroute, got %q", deps.Config.ServiceName)
	}
	if deps.Config.Hardening.AllowContextReuse || deps.Config.Hardening.AllowNestedInitiate {
		t.Fatalf("expected hardening enabled by default, got %#v", deps.Config.Hardening)
	}
}

func TestResolveDependencies_RuntimeConfigOverridesLoaded(t *testing.T) {
	loader := StaticConfigLoader{Values: map[string]any{
		"service_name": "from-config",
		"protocols": map[string]any{
			"enabled": []any{"aave_v3", "morpho"},
		},
	}}
	deps, err := ResolveDependencies(
		WithConfigProvider(NewCfgxConfigProvider(loader)),
		WithConfig(Config{
			ServiceName: "from-runtime",
			Hardening:   HardeningConfig{AllowNestedInitiate: true},
		}),
	)
	if err != nil {
		t.Fatalf("resolve dependencies: %v", err)
	}
	if deps.Config.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime service name, got %q", deps.Config.ServiceName)
	}
	if !deps.Config.Hardening.AllowNestedInitiate {
		t.Fatalf("expected runtime hardening override")
	}
	if deps.Config.Hardening.AllowContextReuse {
		t.Fatalf("expected context reuse to stay disabled")
	}
	if !deps.Config.ProtocolEnabled(ProtocolMorpho) || deps.Config.ProtocolEnabled(ProtocolUniswapV2) {
		t.Fatalf("expected loaded protocol allow-list, got %#v", deps.Config.Protocols.Enabled)
	}
}

func TestResolveDependencies_WithXOverrides(t *testing.T) {
	logger := newCaptureLogger()
	metrics := &captureMetricsRecorder{}
	deps, err := ResolveDependencies(
		WithLogger(logger),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithMetricsRecorder(metrics),
		WithConfigProvider(&fixedConfigProvider{cfg: DefaultConfig()}),
		WithOptionsResolver(&fixedOptionsResolver{cfg: Config{ServiceName: "fixed"}}),
	)
	if err != nil {
		t.Fatalf("resolve dependencies: %v", err)
	}
	if deps.Metrics != metrics {
		t.Fatalf("expected custom metrics recorder")
	}
	if deps.Config.ServiceName != "fixed" {
		t.Fatalf("expected resolver output, got %q", deps.Config.ServiceName)
	}
	deps.Logger.Info("hello")
	if len(logger.snapshot()) != 1 {
		t.Fatalf("expected provider logger to receive logs")
	}
}

func TestResolveDependencies_ConfigLoadFailure(t *testing.T) {
	_, err := ResolveDependencies(WithConfigProvider(&fixedConfigProvider{err: errors.New("boom")}))
	if err == nil {
		t.Fatalf("expected config load failure")
	}
	if !HasTextCode(err, ErrorInternal) {
		t.Fatalf("expected %s, got %v", ErrorInternal, err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate: %v", err)
	}
	cfg.ServiceName = " "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing service_name to fail")
	}
	cfg = DefaultConfig()
	cfg.Protocols.Enabled = []string{"compound"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown protocol name to fail")
	}
	cfg.Protocols.Enabled = []string{"9"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected out of range protocol id to fail")
	}
	cfg.Protocols.Enabled = []string{"4", "erc3156"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected numeric and named protocols to validate: %v", err)
	}
	if !cfg.ProtocolEnabled(ProtocolUniswapV2) || !cfg.ProtocolEnabled(ProtocolERC3156) {
		t.Fatalf("expected listed protocols enabled")
	}
	if cfg.ProtocolEnabled(ProtocolAaveV3) {
		t.Fatalf("expected unlisted protocol disabled")
	}
	if DefaultConfig().ProtocolEnabled(ProtocolID(7)) {
		t.Fatalf("expected unknown id to never be enabled")
	}
}
