package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-flashroute/core"
)

// engineOptions turns the global flags into engine options: the config
// file feeds the cfgx loader and --verbose attaches a stderr logger.
func engineOptions(opts *RootOptions, errOut io.Writer) ([]core.Option, error) {
	var out []core.Option
	if path := strings.TrimSpace(opts.Config); path != "" {
		values, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, core.WithConfigProvider(core.NewCfgxConfigProvider(core.StaticConfigLoader{Values: values})))
	}
	if opts.Verbose {
		out = append(out, core.WithLogger(&writerLogger{w: errOut}))
	}
	return out, nil
}

func readConfigFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return values, nil
}

// writerLogger is the CLI's line logger for --verbose.
type writerLogger struct {
	w io.Writer
}

func (l *writerLogger) log(level string, msg string, args ...any) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	if len(args)%2 == 1 {
		fmt.Fprintf(&b, " %v", args[len(args)-1])
	}
	fmt.Fprintln(l.w, b.String())
}

func (l *writerLogger) Trace(msg string, args ...any) { l.log("TRACE", msg, args...) }
func (l *writerLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args...) }
func (l *writerLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args...) }
func (l *writerLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args...) }
func (l *writerLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args...) }
func (l *writerLogger) Fatal(msg string, args ...any) { l.log("FATAL", msg, args...) }

func (l *writerLogger) WithContext(context.Context) glog.Logger {
	return l
}

var _ glog.Logger = (*writerLogger)(nil)
