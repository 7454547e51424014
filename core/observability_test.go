package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

type stubLoggerProvider struct {
	logger Logger
}

func (p stubLoggerProvider) GetLogger(string) Logger {
	return p.logger
}

func TestObserver_RecordsSuccessCounterHistogramAndLog(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	observer := NewObserver("flashroute", logger, metrics)

	observer.Observe(context.Background(), time.Now(), "initiate", nil, map[string]any{
		"protocol": "morpho",
	})

	if !hasCounter(metrics.counters, "flashroute.initiate.total", "success") {
		t.Fatalf("expected flashroute.initiate.total success counter")
	}
	if !hasHistogram(metrics.histograms, "flashroute.initiate.duration_ms", "success") {
		t.Fatalf("expected flashroute.initiate.duration_ms histogram")
	}
	if !hasLog(logger.snapshot(), "info", "initiate succeeded", "initiate") {
		t.Fatalf("expected initiate succeeded structured log")
	}
	if metrics.counters[0].tags["protocol"] != "morpho" {
		t.Fatalf("expected protocol tag, got %#v", metrics.counters[0].tags)
	}
}

func TestObserver_EnrichesFailureWithTextCode(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	observer := NewObserver("flashroute", logger, metrics)

	observer.Observe(context.Background(), time.Now(), "handle callback", ErrUnauthorizedCallback(Address{}), nil)

	if !hasCounter(metrics.counters, "flashroute.handle_callback.total", "failure") {
		t.Fatalf("expected normalized failure counter")
	}
	if metrics.counters[0].tags["error_code"] != ErrorUnauthorizedCallback {
		t.Fatalf("expected error_code tag, got %#v", metrics.counters[0].tags)
	}
	records := logger.snapshot()
	if !hasLog(records, "error", "handle_callback failed", "handle_callback") {
		t.Fatalf("expected failure log")
	}
	if records[0].fields["error_code"] != ErrorUnauthorizedCallback {
		t.Fatalf("expected error_code log field, got %#v", records[0].fields)
	}
}

func TestObserver_PlainErrorHasNoTextCode(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	observer := NewObserver("", nil, metrics)

	observer.Observe(context.Background(), time.Now(), "", errors.New("venue reverted"), nil)

	if !hasCounter(metrics.counters, "flashroute.unknown.total", "failure") {
		t.Fatalf("expected fallback names, got %#v", metrics.counters)
	}
	if _, ok := metrics.counters[0].tags["error_code"]; ok {
		t.Fatalf("expected no error_code tag for plain errors")
	}
}

func TestObserver_NilIsSafe(t *testing.T) {
	var observer *Observer
	observer.Observe(context.Background(), time.Now(), "initiate", nil, nil)
	observer.Debug(context.Background(), "ignored", nil)
}

func hasCounter(items []capturedCounter, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasHistogram(items []capturedHistogram, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasLog(items []capturedLog, level string, message string, eventType string) bool {
	for _, item := range items {
		if item.level != level {
			continue
		}
		if item.msg != message {
			continue
		}
		if item.fields["event_type"] == eventType {
			return true
		}
	}
	return false
}
