package models

import "time"

// RawURLRecord is one entry from a sitemap or product feed
type RawURLRecord struct {
	URL          string                 `json:"url"`
	Title        string                 `json:"title,omitempty"`
	LastModified *time.Time             `json:"last_modified,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// TaxonomyNode is one canonical URL in the derived site hierarchy
type TaxonomyNode struct {
	ID           string                 `json:"id"`   // Deterministic hash of URL
	URL          string                 `json:"url"`  // Normalized URL
	Path         string                 `json:"path"` // Normalized path, "/" for the domain root
	Host         string                 `json:"host"`
	Title        string                 `json:"title"`
	ParentID     *string                `json:"parent_id"`
	Depth        int                    `json:"depth"`
	Children     []string               `json:"children"`
	Slug         string                 `json:"slug"`
	Breadcrumb   []string               `json:"breadcrumb"`
	LastModified *time.Time             `json:"last_modified,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// IsRoot reports whether the node has no parent
func (n *TaxonomyNode) IsRoot() bool {
	return n.ParentID == nil
}

// WarningType classifies a non-fatal anomaly found while building a hierarchy
type WarningType string

const (
	WarningDuplicateURL      WarningType = "duplicate_url"
	WarningCircularReference WarningType = "circular_reference"
	WarningOrphanedNode      WarningType = "orphaned_node"
	WarningExcessiveDepth    WarningType = "excessive_depth"
	WarningDegradedURL       WarningType = "degraded_url"
	WarningOutOfScope        WarningType = "out_of_scope"
	WarningIDCollision       WarningType = "id_collision"
)

// Warning is a structured, non-fatal processing issue meant for operator review
type Warning struct {
	Type    WarningType `json:"type"`
	Message string      `json:"message"`
	URL     string      `json:"url,omitempty"`
	NodeID  string      `json:"node_id,omitempty"`
}

// HierarchyStats summarizes the shape of a hierarchy
type HierarchyStats struct {
	TotalNodes  int     `json:"total_nodes"`
	RootNodes   int     `json:"root_nodes"`
	LeafNodes   int     `json:"leaf_nodes"`
	AvgChildren float64 `json:"avg_children"`
	MaxChildren int     `json:"max_children"`
}

// HierarchyResult is the output of a single hierarchy build
type HierarchyResult struct {
	Nodes    []*TaxonomyNode `json:"nodes"` // Ordered by depth, then path
	RootIDs  []string        `json:"root_ids"`
	MaxDepth int             `json:"max_depth"`
	Stats    HierarchyStats  `json:"stats"`
	Warnings []Warning       `json:"warnings"`
}

// Node returns the node with the given id, or nil
func (r *HierarchyResult) Node(id string) *TaxonomyNode {
	for _, n := range r.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// NodeByURL returns the node with the given normalized URL, or nil
func (r *HierarchyResult) NodeByURL(normalizedURL string) *TaxonomyNode {
	for _, n := range r.Nodes {
		if n.URL == normalizedURL {
			return n
		}
	}
	return nil
}

// URLs returns the normalized URL of every node, in node order
func (r *HierarchyResult) URLs() []string {
	urls := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		urls[i] = n.URL
	}
	return urls
}

// MatchType records how a match was established
type MatchType string

const (
	MatchExact      MatchType = "exact"
	MatchNormalized MatchType = "normalized"
	MatchFuzzy      MatchType = "fuzzy"
	MatchPattern    MatchType = "pattern" // Matched through the final path segment only
)

// MatchResult correlates one external source URL with a canonical target URL
type MatchResult struct {
	SourceURL       string    `json:"source_url"`
	TargetURL       string    `json:"target_url"`
	Confidence      float64   `json:"confidence"` // 0.0 to 1.0
	MatchType       MatchType `json:"match_type"`
	Transformations []string  `json:"transformations"`
}

// MatchStats aggregates a batch of matches
type MatchStats struct {
	TotalSources     int               `json:"total_sources"`
	TotalTargets     int               `json:"total_targets"`
	Matched          int               `json:"matched"`
	UnmatchedSources int               `json:"unmatched_sources"`
	UnmatchedTargets int               `json:"unmatched_targets"`
	LowConfidence    int               `json:"low_confidence"`
	ByType           map[MatchType]int `json:"by_type"`
	MeanConfidence   float64           `json:"mean_confidence"`
}

// UnmatchedReport lists everything a human should look at after a matching run
type UnmatchedReport struct {
	UnmatchedSources []string      `json:"unmatched_sources"`
	UnmatchedTargets []string      `json:"unmatched_targets"`
	LowConfidence    []MatchResult `json:"low_confidence"` // Ascending by confidence
	Stats            MatchStats    `json:"stats"`
}

// MetricRecord is a URL reported by an external metrics system with its opaque payload
type MetricRecord struct {
	URL     string                 `json:"url"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Attachment groups the metric records that resolved to one target URL
type Attachment struct {
	TargetURL  string         `json:"target_url"`
	Records    []MetricRecord `json:"records"`
	Confidence float64        `json:"confidence"` // Lowest confidence among the attached records
}
