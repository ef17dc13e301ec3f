package taxonomy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/docutag/taxonomy/hierarchy"
	"github.com/docutag/taxonomy/matcher"
	"github.com/docutag/taxonomy/metrics"
	"github.com/docutag/taxonomy/models"
)

type testService struct {
	*Service
	logs     *bytes.Buffer
	spans    *tracetest.InMemoryExporter
	registry *prometheus.Registry
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	logs := &bytes.Buffer{}
	spans := tracetest.NewInMemoryExporter()
	registry := prometheus.NewRegistry()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	s, err := New(DefaultConfig(),
		WithLogger(slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithMetrics(metrics.New(registry)),
		WithTracerProvider(tp),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &testService{Service: s, logs: logs, spans: spans, registry: registry}
}

func (ts *testService) logMessages(t *testing.T) []string {
	t.Helper()
	var msgs []string
	for _, line := range strings.Split(strings.TrimSpace(ts.logs.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		msgs = append(msgs, entry["msg"].(string))
	}
	return msgs
}

func TestBuildHierarchy(t *testing.T) {
	ts := newTestService(t)
	records := []models.RawURLRecord{
		{URL: "https://shop.com/"},
		{URL: "https://shop.com/electronics"},
		{URL: "https://shop.com/electronics/"},
	}

	result, err := ts.BuildHierarchy(context.Background(), records)
	if err != nil {
		t.Fatalf("BuildHierarchy() error: %v", err)
	}
	if len(result.Nodes) != 2 || len(result.Warnings) != 1 {
		t.Errorf("result = %d nodes %d warnings, want 2 and 1", len(result.Nodes), len(result.Warnings))
	}

	spans := ts.spans.GetSpans()
	if len(spans) != 1 || spans[0].Name != "hierarchy.build" {
		t.Errorf("spans = %v, want hierarchy.build", spans)
	}

	msgs := ts.logMessages(t)
	if len(msgs) != 2 || msgs[0] != "hierarchy warning" || msgs[1] != "hierarchy built" {
		t.Errorf("log messages = %v", msgs)
	}

	if count, err := testutil.GatherAndCount(ts.registry, "taxonomy_hierarchy_builds_total"); err != nil || count != 1 {
		t.Errorf("builds metric = %d, %v", count, err)
	}
}

func TestMatch(t *testing.T) {
	ts := newTestService(t)
	sources := []string{"https://www.shop.com/products/", "http://shop.com/about"}
	targets := []string{"https://shop.com/products", "https://shop.com/about", "https://shop.com/contact"}

	out, err := ts.Match(context.Background(), sources, targets, MatchOptions{})
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if len(out.Matches) != 2 {
		t.Errorf("Matches = %d, want 2", len(out.Matches))
	}
	if len(out.Report.UnmatchedTargets) != 1 || out.Report.UnmatchedTargets[0] != "https://shop.com/contact" {
		t.Errorf("UnmatchedTargets = %v", out.Report.UnmatchedTargets)
	}

	spans := ts.spans.GetSpans()
	if len(spans) != 1 || spans[0].Name != "matcher.batch" {
		t.Errorf("spans = %v, want matcher.batch", spans)
	}
}

func TestMatchOptions(t *testing.T) {
	ts := newTestService(t)
	strict := 1.0
	sources := []string{"https://www.shop.com/products/"}
	targets := []string{"https://shop.com/products"}

	out, err := ts.Match(context.Background(), sources, targets, MatchOptions{MinConfidence: &strict})
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if len(out.Matches) != 0 {
		t.Errorf("Matches = %v, want none at min confidence 1.0", out.Matches)
	}

	invalid := 1.5
	_, err = ts.Match(context.Background(), sources, targets, MatchOptions{MinConfidence: &invalid})
	if !errors.Is(err, matcher.ErrInvalidConfig) {
		t.Errorf("Match() error = %v, want ErrInvalidConfig", err)
	}

	same := true
	out, err = ts.Match(context.Background(), []string{"https://other.org/products"}, targets, MatchOptions{RequireSameDomain: &same})
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if len(out.Matches) != 0 {
		t.Errorf("Matches = %v, want none across domains", out.Matches)
	}
}

func TestMatchMetrics(t *testing.T) {
	ts := newTestService(t)
	records := []models.MetricRecord{
		{URL: "http://shop.com/products/", Payload: map[string]interface{}{"sessions": 12}},
		{URL: "https://www.shop.com/products", Payload: map[string]interface{}{"sessions": 3}},
		{URL: "https://shop.com/zzq/nothing", Payload: map[string]interface{}{"sessions": 1}},
	}

	out, err := ts.MatchMetrics(context.Background(), records, []string{"https://shop.com/products"}, MatchOptions{})
	if err != nil {
		t.Fatalf("MatchMetrics() error: %v", err)
	}
	if len(out.Attachments) != 1 || len(out.Attachments[0].Records) != 2 {
		t.Errorf("Attachments = %+v, want both product records on one target", out.Attachments)
	}
	if len(out.Unattached) != 1 {
		t.Errorf("Unattached = %+v, want 1", out.Unattached)
	}
}

func TestCancelledContext(t *testing.T) {
	ts := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := ts.BuildHierarchy(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("BuildHierarchy() error = %v, want context.Canceled", err)
	}
	if _, err := ts.Match(ctx, nil, nil, MatchOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Match() error = %v, want context.Canceled", err)
	}
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hierarchy.MaxDepthWarning = -1
	if _, err := New(cfg); !errors.Is(err, hierarchy.ErrInvalidConfig) {
		t.Errorf("New() error = %v, want hierarchy.ErrInvalidConfig", err)
	}

	cfg = DefaultConfig()
	cfg.Matcher.MinConfidence = 2
	if _, err := New(cfg); !errors.Is(err, matcher.ErrInvalidConfig) {
		t.Errorf("New() error = %v, want matcher.ErrInvalidConfig", err)
	}
}
