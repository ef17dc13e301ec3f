// Package hierarchy turns a flat list of URL records into a forest of taxonomy nodes.
package hierarchy

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/docutag/taxonomy/models"
	"github.com/docutag/taxonomy/normalize"
	"github.com/docutag/taxonomy/slug"
)

// ErrInvalidConfig is returned when a Config cannot be used
var ErrInvalidConfig = errors.New("invalid hierarchy config")

// Config contains hierarchy builder configuration
type Config struct {
	Normalize          normalize.Options
	MaxDepthWarning    int      // Warn when the tree is deeper than this
	AttachToDomainRoot bool     // Attach nodes without a resolvable ancestor to their host's "/" node
	AllowedHosts       []string // Hosts in scope; empty means every host
}

// DefaultConfig returns default hierarchy configuration.
// Query parameters do not create separate taxonomy nodes.
func DefaultConfig() Config {
	opts := normalize.DefaultOptions()
	opts.IgnoreQueryParams = true

	return Config{
		Normalize:          opts,
		MaxDepthWarning:    10,
		AttachToDomainRoot: true,
	}
}

// Validate checks the configuration for contract violations
func (c Config) Validate() error {
	if c.MaxDepthWarning < 0 {
		return fmt.Errorf("%w: max depth warning %d is negative", ErrInvalidConfig, c.MaxDepthWarning)
	}
	for _, h := range c.AllowedHosts {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("%w: allowed hosts must not contain empty entries", ErrInvalidConfig)
		}
	}
	if err := c.Normalize.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Builder constructs hierarchies. It holds no per-build state and can be
// reused across builds and goroutines.
type Builder struct {
	config       Config
	normalizer   *normalize.Normalizer
	allowedHosts map[string]bool
}

// New creates a Builder, rejecting invalid configuration
func New(config Config) (*Builder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	n, err := normalize.New(config.Normalize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	b := &Builder{config: config, normalizer: n}
	if len(config.AllowedHosts) > 0 {
		b.allowedHosts = make(map[string]bool, len(config.AllowedHosts))
		for _, h := range config.AllowedHosts {
			// Allowed hosts go through the same host rules as record URLs
			b.allowedHosts[n.Normalize(h).Host] = true
		}
	}
	return b, nil
}

// NodeID derives the stable id of a normalized URL. It is a name-based UUID
// (SHA-1), unique in practice but not guaranteed collision free.
func NodeID(canonical string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(canonical)).String()
}

// entry is a node under construction
type entry struct {
	node     *models.TaxonomyNode
	parts    []string // Escaped path segments, used for parent keys
	degraded bool
}

// Build converts records into a hierarchy. It never fails: every anomaly in
// the input is reported as a warning on the result.
func (b *Builder) Build(records []models.RawURLRecord) *models.HierarchyResult {
	warnings := []models.Warning{}

	entries := b.collect(records, &warnings)

	// Candidate parents have fewer segments, so they are linked first
	slices.SortStableFunc(entries, func(x, y *entry) int {
		if c := cmp.Compare(len(x.parts), len(y.parts)); c != 0 {
			return c
		}
		return strings.Compare(x.node.URL, y.node.URL)
	})

	b.link(entries)

	nodes := make([]*models.TaxonomyNode, len(entries))
	byID := make(map[string]*models.TaxonomyNode, len(entries))
	for i, e := range entries {
		nodes[i] = e.node
		byID[e.node.ID] = e.node
	}

	maxDepth, depthWarnings := assignDepths(nodes, byID)
	warnings = append(warnings, depthWarnings...)
	warnings = append(warnings, detectCycles(nodes, byID)...)
	warnings = append(warnings, detectOrphans(nodes, byID)...)

	if maxDepth > b.config.MaxDepthWarning {
		warnings = append(warnings, models.Warning{
			Type:    models.WarningExcessiveDepth,
			Message: fmt.Sprintf("very deep hierarchy: max depth %d exceeds %d", maxDepth, b.config.MaxDepthWarning),
		})
	}

	slices.SortStableFunc(nodes, func(x, y *models.TaxonomyNode) int {
		if c := cmp.Compare(x.Depth, y.Depth); c != 0 {
			return c
		}
		return strings.Compare(x.URL, y.URL)
	})

	rootIDs := []string{}
	for _, n := range nodes {
		if n.IsRoot() {
			rootIDs = append(rootIDs, n.ID)
		}
	}

	return &models.HierarchyResult{
		Nodes:    nodes,
		RootIDs:  rootIDs,
		MaxDepth: maxDepth,
		Stats:    computeStats(nodes),
		Warnings: warnings,
	}
}

// collect normalizes records into entries, dropping out-of-scope records,
// duplicates and id collisions
func (b *Builder) collect(records []models.RawURLRecord, warnings *[]models.Warning) []*entry {
	entries := make([]*entry, 0, len(records))
	seenURL := make(map[string]bool, len(records))
	seenID := make(map[string]string, len(records))

	for _, rec := range records {
		u := b.normalizer.Normalize(rec.URL)

		if u.Canonical == "" {
			*warnings = append(*warnings, models.Warning{
				Type:    models.WarningDegradedURL,
				Message: "empty URL skipped",
				URL:     rec.URL,
			})
			continue
		}

		if b.allowedHosts != nil && !b.inScope(u) {
			*warnings = append(*warnings, models.Warning{
				Type:    models.WarningOutOfScope,
				Message: fmt.Sprintf("host %q is not in scope", u.Host),
				URL:     rec.URL,
			})
			continue
		}

		if seenURL[u.Canonical] {
			*warnings = append(*warnings, models.Warning{
				Type:    models.WarningDuplicateURL,
				Message: fmt.Sprintf("duplicate URL dropped: %s", u.Canonical),
				URL:     rec.URL,
				NodeID:  NodeID(u.Canonical),
			})
			continue
		}
		seenURL[u.Canonical] = true

		id := NodeID(u.Canonical)
		if other, ok := seenID[id]; ok {
			*warnings = append(*warnings, models.Warning{
				Type:    models.WarningIDCollision,
				Message: fmt.Sprintf("id %s already assigned to %s", id, other),
				URL:     rec.URL,
				NodeID:  id,
			})
			continue
		}
		seenID[id] = u.Canonical

		if u.Degraded {
			*warnings = append(*warnings, models.Warning{
				Type:    models.WarningDegradedURL,
				Message: "URL could not be parsed, kept as a standalone node",
				URL:     rec.URL,
				NodeID:  id,
			})
		}

		entries = append(entries, b.newEntry(id, u, rec))
	}
	return entries
}

func (b *Builder) newEntry(id string, u normalize.URL, rec models.RawURLRecord) *entry {
	s := slug.FromSegments(u.Segments)
	if u.Degraded {
		s = slug.GenerateWithFallback(u.Canonical, slug.RootSlug)
	}

	title := strings.TrimSpace(rec.Title)
	if title == "" {
		title = slug.Humanize(s)
	}

	breadcrumb := make([]string, len(u.Segments))
	copy(breadcrumb, u.Segments)

	return &entry{
		node: &models.TaxonomyNode{
			ID:           id,
			URL:          u.Canonical,
			Path:         u.Path,
			Host:         u.Host,
			Title:        title,
			Children:     []string{},
			Slug:         s,
			Breadcrumb:   breadcrumb,
			LastModified: rec.LastModified,
			Metadata:     rec.Metadata,
		},
		parts:    pathParts(u.Path),
		degraded: u.Degraded,
	}
}

func (b *Builder) inScope(u normalize.URL) bool {
	if u.Degraded {
		return false
	}
	for host := range b.allowedHosts {
		if u.Host == host || strings.HasSuffix(u.Host, "."+host) {
			return true
		}
	}
	return false
}

// link infers parent/child relationships from path structure alone.
// entries must be sorted by ascending segment count.
func (b *Builder) link(entries []*entry) {
	byKey := make(map[string]*entry, len(entries))
	for _, e := range entries {
		if e.degraded {
			continue
		}
		key := parentKey(e.node.Host, e.parts)
		if _, ok := byKey[key]; !ok {
			byKey[key] = e
		}
	}

	for _, e := range entries {
		if e.degraded || len(e.parts) == 0 {
			continue
		}

		var parent *entry
		for k := len(e.parts) - 1; k >= 1; k-- {
			if p, ok := byKey[parentKey(e.node.Host, e.parts[:k])]; ok {
				parent = p
				break
			}
		}
		// The domain root is the structural parent of top-level pages. Deeper
		// pages whose intermediate paths are missing only attach when configured.
		if parent == nil && (len(e.parts) == 1 || b.config.AttachToDomainRoot) {
			if p, ok := byKey[parentKey(e.node.Host, nil)]; ok {
				parent = p
			}
		}
		if parent == nil {
			continue
		}

		parentID := parent.node.ID
		e.node.ParentID = &parentID
		parent.node.Children = append(parent.node.Children, e.node.ID)
	}
}

// pathParts splits an escaped path into its non-empty segments
func pathParts(p string) []string {
	parts := []string{}
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

func parentKey(host string, parts []string) string {
	return host + "/" + strings.Join(parts, "/")
}

// assignDepths walks the forest breadth first from every root. A node reached
// twice is not descended into again and is reported as a circular reference.
func assignDepths(nodes []*models.TaxonomyNode, byID map[string]*models.TaxonomyNode) (int, []models.Warning) {
	warnings := []models.Warning{}
	visited := make(map[string]bool, len(nodes))
	maxDepth := 0

	queue := make([]*models.TaxonomyNode, 0, len(nodes))
	for _, n := range nodes {
		if n.IsRoot() {
			n.Depth = 0
			visited[n.ID] = true
			queue = append(queue, n)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, childID := range current.Children {
			child, ok := byID[childID]
			if !ok {
				continue
			}
			if visited[childID] {
				warnings = append(warnings, models.Warning{
					Type:    models.WarningCircularReference,
					Message: fmt.Sprintf("node %s reached more than once from %s", childID, current.ID),
					URL:     child.URL,
					NodeID:  childID,
				})
				continue
			}
			visited[childID] = true
			child.Depth = current.Depth + 1
			maxDepth = max(maxDepth, child.Depth)
			queue = append(queue, child)
		}
	}
	return maxDepth, warnings
}

const (
	white = iota // unvisited
	gray         // on the current parent chain
	black        // done
)

// detectCycles follows parent links with three-color marking and reports each
// cycle once, at the node where it closes
func detectCycles(nodes []*models.TaxonomyNode, byID map[string]*models.TaxonomyNode) []models.Warning {
	warnings := []models.Warning{}
	color := make(map[string]int, len(nodes))

	for _, start := range nodes {
		if color[start.ID] != white {
			continue
		}

		var chain []string
		current := start
		for current != nil && color[current.ID] == white {
			color[current.ID] = gray
			chain = append(chain, current.ID)
			if current.ParentID == nil {
				break
			}
			current = byID[*current.ParentID]
		}

		if current != nil && color[current.ID] == gray && current.ParentID != nil {
			warnings = append(warnings, models.Warning{
				Type:    models.WarningCircularReference,
				Message: fmt.Sprintf("node %s is its own ancestor", current.ID),
				URL:     current.URL,
				NodeID:  current.ID,
			})
		}

		for _, id := range chain {
			color[id] = black
		}
	}
	return warnings
}

// detectOrphans reports nodes whose parent id does not resolve
func detectOrphans(nodes []*models.TaxonomyNode, byID map[string]*models.TaxonomyNode) []models.Warning {
	warnings := []models.Warning{}
	for _, n := range nodes {
		if n.ParentID == nil {
			continue
		}
		if _, ok := byID[*n.ParentID]; !ok {
			warnings = append(warnings, models.Warning{
				Type:    models.WarningOrphanedNode,
				Message: fmt.Sprintf("parent %s of node %s does not exist", *n.ParentID, n.ID),
				URL:     n.URL,
				NodeID:  n.ID,
			})
		}
	}
	return warnings
}

func computeStats(nodes []*models.TaxonomyNode) models.HierarchyStats {
	stats := models.HierarchyStats{TotalNodes: len(nodes)}
	totalChildren := 0
	for _, n := range nodes {
		if n.IsRoot() {
			stats.RootNodes++
		}
		if len(n.Children) == 0 {
			stats.LeafNodes++
		}
		totalChildren += len(n.Children)
		stats.MaxChildren = max(stats.MaxChildren, len(n.Children))
	}
	if len(nodes) > 0 {
		stats.AvgChildren = float64(totalChildren) / float64(len(nodes))
	}
	return stats
}
