// Package similarity scores how likely two URL strings are to denote the same resource.
package similarity

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/docutag/taxonomy/normalize"
)

// ErrInvalidConfig is returned when a Config cannot be used
var ErrInvalidConfig = errors.New("invalid similarity config")

const (
	// ExactConfidence is returned for byte-identical inputs
	ExactConfidence = 1.0
	// NormalizedConfidence is returned when inputs only differ by normalization.
	// Normalization is lossy, so it never reaches ExactConfidence.
	NormalizedConfidence = 0.95
	// DegradedDiscount scales any score involving an unparseable URL
	DegradedDiscount = 0.8
)

// Component names a part of a URL that can differ between two inputs
type Component string

const (
	ComponentProtocol Component = "protocol"
	ComponentHost     Component = "host"
	ComponentPath     Component = "path"
	ComponentQuery    Component = "query"
	ComponentFragment Component = "fragment"
)

// Weights controls how much each component contributes to a fuzzy score
type Weights struct {
	Hostname float64 `json:"hostname"`
	Path     float64 `json:"path"`
	Query    float64 `json:"query"`
	Fragment float64 `json:"fragment"`
}

// DefaultWeights returns the default component weights
func DefaultWeights() Weights {
	return Weights{
		Hostname: 0.30,
		Path:     0.50,
		Query:    0.15,
		Fragment: 0.05,
	}
}

func (w Weights) total() float64 {
	return w.Hostname + w.Path + w.Query + w.Fragment
}

// Config contains scorer configuration
type Config struct {
	Weights           Weights
	SegmentThreshold  float64 // Minimum segment similarity that earns partial credit
	MaxEditDistance   int     // Maximum edits between two segments that earn partial credit
	RequireSameDomain bool    // Score 0 when registrable domains differ
	Normalize         normalize.Options
}

// DefaultConfig returns default scorer configuration
func DefaultConfig() Config {
	return Config{
		Weights:           DefaultWeights(),
		SegmentThreshold:  0.8,
		MaxEditDistance:   3,
		RequireSameDomain: false,
		Normalize:         normalize.DefaultOptions(),
	}
}

// Validate checks the configuration for contract violations
func (c Config) Validate() error {
	w := c.Weights
	if w.Hostname < 0 || w.Path < 0 || w.Query < 0 || w.Fragment < 0 {
		return fmt.Errorf("%w: weights must not be negative", ErrInvalidConfig)
	}
	if w.total() <= 0 {
		return fmt.Errorf("%w: weights must sum to a positive value", ErrInvalidConfig)
	}
	if c.SegmentThreshold < 0 || c.SegmentThreshold > 1 {
		return fmt.Errorf("%w: segment threshold %v outside [0,1]", ErrInvalidConfig, c.SegmentThreshold)
	}
	if c.MaxEditDistance < 0 {
		return fmt.Errorf("%w: max edit distance %d is negative", ErrInvalidConfig, c.MaxEditDistance)
	}
	if err := c.Normalize.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Scores holds the per-component scores behind a fuzzy confidence
type Scores struct {
	Hostname float64 `json:"hostname"`
	Path     float64 `json:"path"`
	Query    float64 `json:"query"`
	Fragment float64 `json:"fragment"`
}

// Result is an auditable confidence value
type Result struct {
	Confidence  float64     `json:"confidence"`
	Components  *Scores     `json:"components,omitempty"` // Only set for weighted scores
	Differences []Component `json:"differences"`
	Reason      string      `json:"reason"`
}

// Reasons reported in Result.Reason
const (
	ReasonExact          = "exact"
	ReasonNormalized     = "normalized"
	ReasonWeighted       = "weighted"
	ReasonDomainMismatch = "domain_mismatch"
	ReasonDegraded       = "degraded"
)

// Scorer computes weighted multi-factor similarity between URLs
type Scorer struct {
	config     Config
	normalizer *normalize.Normalizer
}

// New creates a Scorer, rejecting invalid configuration
func New(config Config) (*Scorer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	n, err := normalize.New(config.Normalize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Scorer{config: config, normalizer: n}, nil
}

// Normalizer returns the normalizer the scorer applies to string inputs
func (s *Scorer) Normalizer() *normalize.Normalizer {
	return s.normalizer
}

// Score normalizes both strings and compares them
func (s *Scorer) Score(a, b string) Result {
	if a == b {
		return Result{Confidence: ExactConfidence, Differences: []Component{}, Reason: ReasonExact}
	}
	return s.Compare(s.normalizer.Normalize(a), s.normalizer.Normalize(b))
}

// Compare scores two already-normalized URLs
func (s *Scorer) Compare(a, b normalize.URL) Result {
	if a.Raw == b.Raw {
		return Result{Confidence: ExactConfidence, Differences: []Component{}, Reason: ReasonExact}
	}

	diffs := Differences(a, b)

	// A degraded URL has no host, so it never shares a domain
	if s.config.RequireSameDomain && (a.Degraded || b.Degraded) {
		return Result{Confidence: 0, Differences: diffs, Reason: ReasonDomainMismatch}
	}

	if a.Degraded || b.Degraded {
		return Result{
			Confidence:  clamp(Ratio(a.Canonical, b.Canonical) * DegradedDiscount),
			Differences: diffs,
			Reason:      ReasonDegraded,
		}
	}

	if a.Canonical == b.Canonical {
		return Result{Confidence: NormalizedConfidence, Differences: diffs, Reason: ReasonNormalized}
	}

	if s.config.RequireSameDomain && !SameDomain(a.Host, b.Host) {
		return Result{Confidence: 0, Differences: diffs, Reason: ReasonDomainMismatch}
	}

	scores := &Scores{
		Hostname: hostScore(a.Host, b.Host),
		Path:     s.pathScore(a.Segments, b.Segments),
		Query:    queryScore(a, b),
		Fragment: fragmentScore(a.Fragment, b.Fragment),
	}

	w := s.config.Weights
	weighted := w.Hostname*scores.Hostname + w.Path*scores.Path + w.Query*scores.Query + w.Fragment*scores.Fragment
	confidence := weighted / w.total()

	// A weighted score never outranks a normalization-only difference
	confidence = min(confidence, NormalizedConfidence)

	return Result{
		Confidence:  clamp(confidence),
		Components:  scores,
		Differences: diffs,
		Reason:      ReasonWeighted,
	}
}

// UpperBound returns a cheap ceiling on Compare(a, b).Confidence, used to skip
// candidates that cannot beat a score already found
func (s *Scorer) UpperBound(a, b normalize.URL) float64 {
	if a.Degraded || b.Degraded || a.Canonical == b.Canonical {
		return ExactConfidence
	}
	la, lb := len(a.Segments), len(b.Segments)
	pathBound := 1.0
	switch {
	case la == 0 && lb == 0:
	case la == 0 || lb == 0:
		pathBound = 0
	default:
		pathBound = float64(min(la, lb)) / float64(max(la, lb))
	}
	w := s.config.Weights
	return min((w.Hostname+w.Path*pathBound+w.Query+w.Fragment)/w.total(), NormalizedConfidence)
}

// Differences lists the components that differ between the original inputs
func Differences(a, b normalize.URL) []Component {
	diffs := []Component{}
	if a.Original.Scheme != b.Original.Scheme {
		diffs = append(diffs, ComponentProtocol)
	}
	if !strings.EqualFold(a.Original.Host, b.Original.Host) {
		diffs = append(diffs, ComponentHost)
	}
	if a.Original.Path != b.Original.Path {
		diffs = append(diffs, ComponentPath)
	}
	if a.Original.RawQuery != b.Original.RawQuery {
		diffs = append(diffs, ComponentQuery)
	}
	if a.Original.Fragment != b.Original.Fragment {
		diffs = append(diffs, ComponentFragment)
	}
	return diffs
}

// SameDomain reports whether two hosts share a registrable domain
// (blog.shop.com and shop.com do; shop.com and shop.org do not)
func SameDomain(a, b string) bool {
	a, b = hostname(a), hostname(b)
	if a == b {
		return true
	}
	da, errA := publicsuffix.EffectiveTLDPlusOne(a)
	db, errB := publicsuffix.EffectiveTLDPlusOne(b)
	if errA != nil || errB != nil {
		return false
	}
	return da == db
}

// hostname strips the port from a normalized host
func hostname(host string) string {
	if strings.HasPrefix(host, "[") {
		if i := strings.Index(host, "]"); i > 0 {
			return host[1:i]
		}
		return host
	}
	if i := strings.LastIndex(host, ":"); i >= 0 {
		return host[:i]
	}
	return host
}

func hostScore(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return Ratio(a, b)
}

// pathScore compares segments pairwise up to the shorter path, dividing by the
// longer one. Non-identical segments earn partial credit only when they are
// close enough to be a typo or pluralization.
func (s *Scorer) pathScore(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	total := 0.0
	for i := 0; i < min(len(a), len(b)); i++ {
		total += s.segmentScore(a[i], b[i])
	}
	return total / float64(max(len(a), len(b)))
}

func (s *Scorer) segmentScore(a, b string) float64 {
	if a == b {
		return 1.0
	}
	limit := s.config.MaxEditDistance
	dist := BoundedDistance(a, b, limit)
	if dist > limit {
		return 0
	}
	maxLen := max(len([]rune(a)), len([]rune(b)))
	sim := 1.0 - float64(dist)/float64(maxLen)
	if sim > s.config.SegmentThreshold {
		return sim
	}
	return 0
}

// queryScore averages the Jaccard similarity of the parameter keys with the
// fraction of shared keys whose values also match
func queryScore(a, b normalize.URL) float64 {
	if len(a.Query) == 0 && len(b.Query) == 0 {
		return 1.0
	}
	shared, valueMatches := 0, 0
	for key, av := range a.Query {
		bv, ok := b.Query[key]
		if !ok {
			continue
		}
		shared++
		if slices.Equal(av, bv) {
			valueMatches++
		}
	}
	union := len(a.Query) + len(b.Query) - shared
	if union == 0 || shared == 0 {
		return 0
	}
	jaccard := float64(shared) / float64(union)
	values := float64(valueMatches) / float64(shared)
	return (jaccard + values) / 2
}

func fragmentScore(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return 0
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
