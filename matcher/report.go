package matcher

import (
	"cmp"
	"slices"
	"strings"

	"github.com/docutag/taxonomy/models"
)

// GenerateUnmatchedReport partitions sources into matched and unmatched, lists
// targets no source chose and the matches that need review
func (m *Matcher) GenerateUnmatchedReport(sources, targets []string, matches map[string]models.MatchResult) models.UnmatchedReport {
	report := models.UnmatchedReport{
		UnmatchedSources: []string{},
		UnmatchedTargets: []string{},
		LowConfidence:    []models.MatchResult{},
		Stats: models.MatchStats{
			ByType: make(map[models.MatchType]int),
		},
	}

	chosen := make(map[string]bool, len(matches))
	seenSource := make(map[string]bool, len(sources))
	total := 0.0

	for _, source := range sources {
		if seenSource[source] {
			continue
		}
		seenSource[source] = true
		report.Stats.TotalSources++

		match, ok := matches[source]
		if !ok {
			report.UnmatchedSources = append(report.UnmatchedSources, source)
			continue
		}

		chosen[match.TargetURL] = true
		report.Stats.Matched++
		report.Stats.ByType[match.MatchType]++
		total += match.Confidence

		if match.Confidence < m.config.LowConfidenceThreshold {
			report.LowConfidence = append(report.LowConfidence, match)
		}
	}

	seenTarget := make(map[string]bool, len(targets))
	for _, target := range targets {
		if seenTarget[target] {
			continue
		}
		seenTarget[target] = true
		report.Stats.TotalTargets++

		if !chosen[target] {
			report.UnmatchedTargets = append(report.UnmatchedTargets, target)
		}
	}

	slices.SortStableFunc(report.LowConfidence, func(a, b models.MatchResult) int {
		if c := cmp.Compare(a.Confidence, b.Confidence); c != 0 {
			return c
		}
		return strings.Compare(a.SourceURL, b.SourceURL)
	})

	report.Stats.UnmatchedSources = len(report.UnmatchedSources)
	report.Stats.UnmatchedTargets = len(report.UnmatchedTargets)
	report.Stats.LowConfidence = len(report.LowConfidence)
	if report.Stats.Matched > 0 {
		report.Stats.MeanConfidence = total / float64(report.Stats.Matched)
	}
	return report
}

// AttachMetrics groups metric records by the target their URL matched. Groups
// are ordered by first appearance; records without a match are returned
// separately in input order.
func AttachMetrics(records []models.MetricRecord, matches map[string]models.MatchResult) ([]models.Attachment, []models.MetricRecord) {
	attachments := []models.Attachment{}
	unattached := []models.MetricRecord{}
	byTarget := make(map[string]int)

	for _, rec := range records {
		match, ok := matches[rec.URL]
		if !ok {
			unattached = append(unattached, rec)
			continue
		}

		i, ok := byTarget[match.TargetURL]
		if !ok {
			i = len(attachments)
			byTarget[match.TargetURL] = i
			attachments = append(attachments, models.Attachment{
				TargetURL:  match.TargetURL,
				Confidence: match.Confidence,
			})
		}
		attachments[i].Records = append(attachments[i].Records, rec)
		attachments[i].Confidence = min(attachments[i].Confidence, match.Confidence)
	}
	return attachments, unattached
}

// SourceURLs returns the URL of every metric record in input order
func SourceURLs(records []models.MetricRecord) []string {
	urls := make([]string, len(records))
	for i, rec := range records {
		urls[i] = rec.URL
	}
	return urls
}
