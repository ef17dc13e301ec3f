// Package taxonomy builds site hierarchies from flat URL lists and matches
// externally reported URLs against them.
//
// The Service wraps the pure core packages (hierarchy, matcher) with logging,
// tracing and metrics. The core itself performs no I/O.
package taxonomy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/docutag/taxonomy/hierarchy"
	"github.com/docutag/taxonomy/matcher"
	"github.com/docutag/taxonomy/metrics"
	"github.com/docutag/taxonomy/models"
)

const tracerName = "github.com/docutag/taxonomy"

// Config contains service configuration
type Config struct {
	Hierarchy hierarchy.Config
	Matcher   matcher.Config
}

// DefaultConfig returns default service configuration
func DefaultConfig() Config {
	return Config{
		Hierarchy: hierarchy.DefaultConfig(),
		Matcher:   matcher.DefaultConfig(),
	}
}

// Option customizes a Service
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the Prometheus collectors. Without it nothing is recorded.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// Service handles hierarchy builds and match batches
type Service struct {
	config  Config
	builder *hierarchy.Builder
	matcher *matcher.Matcher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// New creates a new Service, rejecting invalid configuration
func New(config Config, opts ...Option) (*Service, error) {
	builder, err := hierarchy.New(config.Hierarchy)
	if err != nil {
		return nil, fmt.Errorf("failed to create hierarchy builder: %w", err)
	}
	m, err := matcher.New(config.Matcher)
	if err != nil {
		return nil, fmt.Errorf("failed to create matcher: %w", err)
	}

	s := &Service{
		config:  config,
		builder: builder,
		matcher: m,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the configuration the service was created with
func (s *Service) Config() Config {
	return s.config
}

// BuildHierarchy builds a taxonomy tree from records. The only error is a
// context cancelled before or during the build; data problems are warnings.
func (s *Service) BuildHierarchy(ctx context.Context, records []models.RawURLRecord) (*models.HierarchyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "hierarchy.build", trace.WithAttributes(
		attribute.Int("taxonomy.records", len(records)),
	))
	defer span.End()

	start := time.Now()
	result := s.builder.Build(records)
	elapsed := time.Since(start)

	// A cancelled build is discarded whole
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("taxonomy.nodes", len(result.Nodes)),
		attribute.Int("taxonomy.roots", len(result.RootIDs)),
		attribute.Int("taxonomy.max_depth", result.MaxDepth),
		attribute.Int("taxonomy.warnings", len(result.Warnings)),
	)
	s.metrics.ObserveHierarchy(result, elapsed)

	for _, w := range result.Warnings {
		s.logger.DebugContext(ctx, "hierarchy warning",
			"type", w.Type,
			"url", w.URL,
			"node_id", w.NodeID,
			"message", w.Message,
		)
	}
	s.logger.InfoContext(ctx, "hierarchy built",
		"records", len(records),
		"nodes", len(result.Nodes),
		"roots", len(result.RootIDs),
		"max_depth", result.MaxDepth,
		"warnings", len(result.Warnings),
		"duration_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

// MatchOptions override matcher settings for a single batch
type MatchOptions struct {
	MinConfidence     *float64
	RequireSameDomain *bool
}

func (o MatchOptions) empty() bool {
	return o.MinConfidence == nil && o.RequireSameDomain == nil
}

// MatchOutput is the result of one match batch
type MatchOutput struct {
	Matches     map[string]models.MatchResult `json:"matches"`
	Report      models.UnmatchedReport        `json:"report"`
	Attachments []models.Attachment           `json:"attachments,omitempty"`
	Unattached  []models.MetricRecord         `json:"unattached,omitempty"`
}

// Match maps sources onto targets and reports what is left unmatched.
// Invalid overrides return an error wrapping matcher.ErrInvalidConfig.
func (s *Service) Match(ctx context.Context, sources, targets []string, opts MatchOptions) (*MatchOutput, error) {
	m, err := s.matcherFor(opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "matcher.batch", trace.WithAttributes(
		attribute.Int("taxonomy.sources", len(sources)),
		attribute.Int("taxonomy.targets", len(targets)),
	))
	defer span.End()

	start := time.Now()
	matches := m.MatchBatch(sources, targets)
	report := m.GenerateUnmatchedReport(sources, targets, matches)
	elapsed := time.Since(start)

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("taxonomy.matched", report.Stats.Matched),
		attribute.Int("taxonomy.unmatched_sources", report.Stats.UnmatchedSources),
		attribute.Int("taxonomy.unmatched_targets", report.Stats.UnmatchedTargets),
	)
	s.metrics.ObserveMatch(matches, report.Stats.UnmatchedSources, elapsed)

	s.logger.InfoContext(ctx, "match batch completed",
		"sources", report.Stats.TotalSources,
		"targets", report.Stats.TotalTargets,
		"matched", report.Stats.Matched,
		"unmatched_sources", report.Stats.UnmatchedSources,
		"unmatched_targets", report.Stats.UnmatchedTargets,
		"low_confidence", report.Stats.LowConfidence,
		"mean_confidence", report.Stats.MeanConfidence,
		"duration_ms", elapsed.Milliseconds(),
	)

	return &MatchOutput{Matches: matches, Report: report}, nil
}

// MatchMetrics matches the URLs of metric records onto targets and groups the
// records by the target they resolved to
func (s *Service) MatchMetrics(ctx context.Context, records []models.MetricRecord, targets []string, opts MatchOptions) (*MatchOutput, error) {
	out, err := s.Match(ctx, matcher.SourceURLs(records), targets, opts)
	if err != nil {
		return nil, err
	}
	out.Attachments, out.Unattached = matcher.AttachMetrics(records, out.Matches)
	return out, nil
}

// FuzzyMatch returns the similarity of two URLs under the configured scorer
func (s *Service) FuzzyMatch(a, b string) float64 {
	return s.matcher.FuzzyMatch(a, b)
}

// matcherFor returns the configured matcher, or a new one when opts override it
func (s *Service) matcherFor(opts MatchOptions) (*matcher.Matcher, error) {
	if opts.empty() {
		return s.matcher, nil
	}
	cfg := s.config.Matcher
	if opts.MinConfidence != nil {
		cfg.MinConfidence = *opts.MinConfidence
	}
	if opts.RequireSameDomain != nil {
		cfg.Similarity.RequireSameDomain = *opts.RequireSameDomain
	}
	m, err := matcher.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid match options: %w", err)
	}
	return m, nil
}
