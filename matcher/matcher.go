// Package matcher maps URLs reported by external systems onto canonical taxonomy URLs.
package matcher

import (
	"errors"
	"fmt"

	"github.com/docutag/taxonomy/index"
	"github.com/docutag/taxonomy/models"
	"github.com/docutag/taxonomy/normalize"
	"github.com/docutag/taxonomy/similarity"
)

// ErrInvalidConfig is returned when a Config cannot be used
var ErrInvalidConfig = errors.New("invalid matcher config")

// Config contains matcher configuration
type Config struct {
	MinConfidence          float64 // Matches below this are dropped
	LowConfidenceThreshold float64 // Matches below this are listed for review
	FallbackThreshold      float64 // Broaden the search when the path index best is below this
	EarlyExitThreshold     float64 // Stop scanning once a candidate reaches this
	Similarity             similarity.Config
}

// DefaultConfig returns default matcher configuration
func DefaultConfig() Config {
	return Config{
		MinConfidence:          0.7,
		LowConfidenceThreshold: 0.8,
		FallbackThreshold:      0.9,
		EarlyExitThreshold:     0.95,
		Similarity:             similarity.DefaultConfig(),
	}
}

// Validate checks the configuration for contract violations
func (c Config) Validate() error {
	thresholds := []struct {
		name  string
		value float64
	}{
		{"min confidence", c.MinConfidence},
		{"low confidence threshold", c.LowConfidenceThreshold},
		{"fallback threshold", c.FallbackThreshold},
		{"early exit threshold", c.EarlyExitThreshold},
	}
	for _, th := range thresholds {
		if th.value < 0 || th.value > 1 {
			return fmt.Errorf("%w: %s %v outside [0,1]", ErrInvalidConfig, th.name, th.value)
		}
	}
	if err := c.Similarity.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Matcher finds the best canonical target for each source URL
type Matcher struct {
	config Config
	scorer *similarity.Scorer
}

// New creates a Matcher, rejecting invalid configuration
func New(config Config) (*Matcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	scorer, err := similarity.New(config.Similarity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Matcher{config: config, scorer: scorer}, nil
}

// Config returns the configuration the matcher was created with
func (m *Matcher) Config() Config {
	return m.config
}

// MatchBatch matches sources against targets with the given configuration
func MatchBatch(sources, targets []string, config Config) (map[string]models.MatchResult, error) {
	m, err := New(config)
	if err != nil {
		return nil, err
	}
	return m.MatchBatch(sources, targets), nil
}

// FuzzyMatch returns the confidence that a and b denote the same resource under
// the default scoring rules
func FuzzyMatch(a, b string) float64 {
	return defaultScorer.Score(a, b).Confidence
}

var defaultScorer = func() *similarity.Scorer {
	s, err := similarity.New(similarity.DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("default similarity config rejected: %v", err))
	}
	return s
}()

// FuzzyMatch returns the confidence that a and b denote the same resource
func (m *Matcher) FuzzyMatch(a, b string) float64 {
	return m.scorer.Score(a, b).Confidence
}

// MatchBatch returns the best match for every source that reaches
// MinConfidence. Sources without a match are absent from the map.
// A fresh index over targets is built for each call.
func (m *Matcher) MatchBatch(sources, targets []string) map[string]models.MatchResult {
	b := &batch{
		matcher: m,
		idx:     index.Build(targets, m.scorer.Normalizer()),
		scored:  make([]int, len(targets)),
	}

	results := make(map[string]models.MatchResult, len(sources))
	done := make(map[string]bool, len(sources))
	for _, source := range sources {
		if done[source] {
			continue
		}
		done[source] = true

		if result, ok := b.match(source); ok {
			results[source] = result
		}
	}
	return results
}

// batch holds the state of one MatchBatch call
type batch struct {
	matcher *Matcher
	idx     *index.Index
	scored  []int // Generation in which each target position was last scored
	gen     int
}

// candidate is the best target found so far for one source
type candidate struct {
	entry      index.Entry
	confidence float64
	matchType  models.MatchType
	found      bool
}

// consider scores entry and keeps it only when it strictly beats the current
// best, so earlier stages and earlier targets win ties
func (b *batch) consider(src normalize.URL, entry index.Entry, matchType models.MatchType, best *candidate) {
	if b.scored[entry.Position] == b.gen {
		return
	}
	b.scored[entry.Position] = b.gen

	score := b.matcher.scorer.Compare(src, entry.URL).Confidence
	if !best.found || score > best.confidence {
		*best = candidate{entry: entry, confidence: score, matchType: matchType, found: true}
	}
}

func (b *batch) match(source string) (models.MatchResult, bool) {
	cfg := b.matcher.config
	scorer := b.matcher.scorer
	src := scorer.Normalizer().Normalize(source)

	b.gen++
	var best candidate

	if e, ok := b.idx.Exact(src); ok {
		best = candidate{entry: e, found: true}
		if src.Raw == e.URL.Raw {
			best.confidence = similarity.ExactConfidence
			best.matchType = models.MatchExact
		} else {
			best.confidence = scorer.Compare(src, e.URL).Confidence
			best.matchType = models.MatchNormalized
		}
		return b.result(src, best)
	}

	for _, e := range b.idx.ByPath(src) {
		b.consider(src, e, models.MatchFuzzy, &best)
	}

	if !best.found || best.confidence < cfg.FallbackThreshold {
		for _, e := range b.idx.BySegment(src) {
			b.consider(src, e, models.MatchPattern, &best)
		}
		for _, e := range b.idx.All() {
			if best.found && best.confidence >= cfg.EarlyExitThreshold {
				break
			}
			if best.found && scorer.UpperBound(src, e.URL) <= best.confidence {
				continue
			}
			b.consider(src, e, models.MatchFuzzy, &best)
		}
	}

	return b.result(src, best)
}

func (b *batch) result(src normalize.URL, best candidate) (models.MatchResult, bool) {
	if !best.found || best.confidence < b.matcher.config.MinConfidence {
		return models.MatchResult{}, false
	}
	return models.MatchResult{
		SourceURL:       src.Raw,
		TargetURL:       best.entry.Target(),
		Confidence:      best.confidence,
		MatchType:       best.matchType,
		Transformations: Transformations(src, best.entry.URL),
	}, true
}
