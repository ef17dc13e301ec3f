package hierarchy

import (
	"errors"
	"slices"
	"testing"

	"github.com/docutag/taxonomy/models"
)

func records(urls ...string) []models.RawURLRecord {
	out := make([]models.RawURLRecord, len(urls))
	for i, u := range urls {
		out[i] = models.RawURLRecord{URL: u}
	}
	return out
}

func newTestBuilder(t *testing.T, modify func(*Config)) *Builder {
	t.Helper()
	cfg := DefaultConfig()
	if modify != nil {
		modify(&cfg)
	}
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return b
}

func countWarnings(result *models.HierarchyResult, typ models.WarningType) int {
	count := 0
	for _, w := range result.Warnings {
		if w.Type == typ {
			count++
		}
	}
	return count
}

func TestBuildSingleRootTree(t *testing.T) {
	b := newTestBuilder(t, nil)
	result := b.Build(records(
		"https://shop.com/",
		"https://shop.com/electronics",
		"https://shop.com/electronics/phones",
		"https://shop.com/electronics/phones/android",
	))

	if len(result.RootIDs) != 1 {
		t.Fatalf("RootIDs = %d, want 1", len(result.RootIDs))
	}
	if len(result.Nodes) != 4 {
		t.Errorf("Nodes = %d, want 4", len(result.Nodes))
	}
	if result.MaxDepth != 3 {
		t.Errorf("MaxDepth = %d, want 3", result.MaxDepth)
	}

	phones := result.NodeByURL("https://shop.com/electronics/phones")
	if phones == nil {
		t.Fatal("phones node missing")
	}
	if len(phones.Children) != 1 {
		t.Fatalf("phones children = %d, want 1", len(phones.Children))
	}

	android := result.Node(phones.Children[0])
	if android == nil {
		t.Fatal("android node missing")
	}
	if android.Title != "Android" {
		t.Errorf("Title = %q, want %q", android.Title, "Android")
	}
	if android.Slug != "android" {
		t.Errorf("Slug = %q, want %q", android.Slug, "android")
	}
	if !slices.Equal(android.Breadcrumb, []string{"electronics", "phones", "android"}) {
		t.Errorf("Breadcrumb = %v", android.Breadcrumb)
	}
	if android.Depth != 3 {
		t.Errorf("Depth = %d, want 3", android.Depth)
	}

	root := result.Node(result.RootIDs[0])
	if root.Slug != "home" || root.Title != "Home" || root.Path != "/" {
		t.Errorf("root = slug %q title %q path %q, want home/Home//", root.Slug, root.Title, root.Path)
	}

	stats := result.Stats
	if stats.TotalNodes != 4 || stats.RootNodes != 1 || stats.LeafNodes != 1 || stats.MaxChildren != 1 {
		t.Errorf("Stats = %+v", stats)
	}
	if stats.AvgChildren != 0.75 {
		t.Errorf("AvgChildren = %v, want 0.75", stats.AvgChildren)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", result.Warnings)
	}
}

func TestBuildMultipleRoots(t *testing.T) {
	b := newTestBuilder(t, nil)
	result := b.Build(records(
		"https://shop.com/products",
		"https://shop.com/blog",
		"https://shop.com/about",
	))

	if result.Stats.RootNodes != 3 {
		t.Errorf("RootNodes = %d, want 3", result.Stats.RootNodes)
	}
	if len(result.RootIDs) != 3 {
		t.Errorf("RootIDs = %d, want 3", len(result.RootIDs))
	}
	if result.MaxDepth != 0 {
		t.Errorf("MaxDepth = %d, want 0", result.MaxDepth)
	}
}

func TestBuildDuplicates(t *testing.T) {
	b := newTestBuilder(t, nil)
	result := b.Build(records(
		"https://SHOP.com/Products/",
		"https://shop.com/products",
	))

	if len(result.Nodes) != 1 {
		t.Errorf("Nodes = %d, want 1", len(result.Nodes))
	}
	if got := countWarnings(result, models.WarningDuplicateURL); got != 1 {
		t.Errorf("duplicate warnings = %d, want 1", got)
	}
}

func TestBuildDeepChain(t *testing.T) {
	urls := []string{"https://shop.com/"}
	path := "https://shop.com"
	for i := 1; i <= 11; i++ {
		path += "/level" + string(rune('a'+i))
		urls = append(urls, path)
	}

	b := newTestBuilder(t, nil)
	result := b.Build(records(urls...))

	if len(result.Nodes) != 12 {
		t.Fatalf("Nodes = %d, want 12", len(result.Nodes))
	}
	if result.MaxDepth != 11 {
		t.Errorf("MaxDepth = %d, want 11", result.MaxDepth)
	}
	if got := countWarnings(result, models.WarningExcessiveDepth); got != 1 {
		t.Errorf("excessive depth warnings = %d, want 1", got)
	}
}

func TestBuildSupplementedFields(t *testing.T) {
	b := newTestBuilder(t, nil)
	result := b.Build([]models.RawURLRecord{
		{URL: "https://shop.com/smart-phones_2024"},
		{URL: "https://shop.com/gifts", Title: "  Gift Guide "},
	})

	phones := result.NodeByURL("https://shop.com/smart-phones_2024")
	if phones == nil || phones.Title != "Smart Phones 2024" {
		t.Errorf("humanized title = %+v", phones)
	}
	gifts := result.NodeByURL("https://shop.com/gifts")
	if gifts == nil || gifts.Title != "Gift Guide" {
		t.Errorf("supplied title = %+v", gifts)
	}
}

func TestBuildAttachToDomainRoot(t *testing.T) {
	input := records(
		"https://shop.com/",
		"https://shop.com/about",
		"https://shop.com/electronics/phones/android",
	)

	tests := []struct {
		name       string
		attach     bool
		rootNodes  int
		androidTop bool
	}{
		{"attach to home page", true, 1, false},
		{"keep as separate root", false, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder(t, func(c *Config) { c.AttachToDomainRoot = tt.attach })
			result := b.Build(input)

			if result.Stats.RootNodes != tt.rootNodes {
				t.Errorf("RootNodes = %d, want %d", result.Stats.RootNodes, tt.rootNodes)
			}
			android := result.NodeByURL("https://shop.com/electronics/phones/android")
			if android.IsRoot() != tt.androidTop {
				t.Errorf("android IsRoot = %v, want %v", android.IsRoot(), tt.androidTop)
			}
			// Top-level pages always belong under the home page
			about := result.NodeByURL("https://shop.com/about")
			if about.IsRoot() {
				t.Error("about is a root, want child of home page")
			}
		})
	}
}

func TestBuildMultipleHosts(t *testing.T) {
	b := newTestBuilder(t, nil)
	result := b.Build(records(
		"https://shop.com/",
		"https://blog.shop.com/",
		"https://blog.shop.com/posts",
		"https://shop.com/posts",
	))

	if result.Stats.RootNodes != 2 {
		t.Errorf("RootNodes = %d, want 2", result.Stats.RootNodes)
	}
	blogPosts := result.NodeByURL("https://blog.shop.com/posts")
	blogRoot := result.NodeByURL("https://blog.shop.com/")
	if blogPosts.ParentID == nil || *blogPosts.ParentID != blogRoot.ID {
		t.Error("blog posts not attached to the blog home page")
	}
}

func TestBuildAllowedHosts(t *testing.T) {
	b := newTestBuilder(t, func(c *Config) { c.AllowedHosts = []string{"www.shop.com"} })
	result := b.Build(records(
		"https://shop.com/a",
		"https://blog.shop.com/b",
		"https://other.org/c",
	))

	if len(result.Nodes) != 2 {
		t.Errorf("Nodes = %d, want 2", len(result.Nodes))
	}
	if got := countWarnings(result, models.WarningOutOfScope); got != 1 {
		t.Errorf("out of scope warnings = %d, want 1", got)
	}
}

func TestBuildMalformedInput(t *testing.T) {
	b := newTestBuilder(t, nil)
	result := b.Build(records(
		"",
		"http://[::1",
		"https://shop.com/",
		"https://shop.com/a",
	))

	if len(result.Nodes) != 3 {
		t.Errorf("Nodes = %d, want 3", len(result.Nodes))
	}
	if got := countWarnings(result, models.WarningDegradedURL); got != 2 {
		t.Errorf("degraded warnings = %d, want 2", got)
	}
	degraded := result.NodeByURL("http://[::1")
	if degraded == nil || !degraded.IsRoot() {
		t.Errorf("degraded node = %+v, want standalone root", degraded)
	}
}

func TestBuildEmpty(t *testing.T) {
	b := newTestBuilder(t, nil)
	result := b.Build(nil)

	if len(result.Nodes) != 0 || len(result.RootIDs) != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
	if result.Stats.AvgChildren != 0 {
		t.Errorf("AvgChildren = %v, want 0", result.Stats.AvgChildren)
	}
}

var propertyInput = []string{
	"https://shop.com/",
	"https://shop.com/electronics",
	"https://shop.com/electronics/phones",
	"https://shop.com/electronics/phones/android",
	"https://shop.com/electronics/laptops/gaming",
	"https://shop.com/garden/tools/shovels",
	"https://shop.com/garden",
	"https://blog.shop.com/posts/2024/launch",
	"https://blog.shop.com/posts",
	"https://shop.com/Electronics/Phones/",
	"http://www.shop.com/garden/",
}

func TestBuildDepthInvariant(t *testing.T) {
	b := newTestBuilder(t, nil)
	result := b.Build(records(propertyInput...))

	for _, n := range result.Nodes {
		if n.IsRoot() {
			if n.Depth != 0 {
				t.Errorf("root %s depth = %d, want 0", n.URL, n.Depth)
			}
			continue
		}
		parent := result.Node(*n.ParentID)
		if parent == nil {
			t.Fatalf("parent of %s missing", n.URL)
		}
		if n.Depth != parent.Depth+1 {
			t.Errorf("depth(%s) = %d, parent depth = %d", n.URL, n.Depth, parent.Depth)
		}
	}
}

func TestBuildAcyclic(t *testing.T) {
	b := newTestBuilder(t, nil)
	result := b.Build(records(propertyInput...))

	for _, n := range result.Nodes {
		seen := map[string]bool{n.ID: true}
		current := n
		for current.ParentID != nil {
			if seen[*current.ParentID] {
				t.Fatalf("%s is its own ancestor", n.URL)
			}
			seen[*current.ParentID] = true
			current = result.Node(*current.ParentID)
		}
	}
	if got := countWarnings(result, models.WarningCircularReference); got != 0 {
		t.Errorf("circular warnings = %d, want 0", got)
	}
}

func TestBuildOrderIndependent(t *testing.T) {
	b := newTestBuilder(t, nil)

	forward := b.Build(records(propertyInput...))
	reversed := slices.Clone(propertyInput)
	slices.Reverse(reversed)
	backward := b.Build(records(reversed...))

	if len(forward.Nodes) != len(backward.Nodes) {
		t.Fatalf("node counts differ: %d vs %d", len(forward.Nodes), len(backward.Nodes))
	}
	for i := range forward.Nodes {
		f, r := forward.Nodes[i], backward.Nodes[i]
		if f.ID != r.ID || f.Depth != r.Depth || !slices.Equal(f.Children, r.Children) {
			t.Errorf("node %d differs: %+v vs %+v", i, f, r)
		}
		if (f.ParentID == nil) != (r.ParentID == nil) || (f.ParentID != nil && *f.ParentID != *r.ParentID) {
			t.Errorf("parent of %s differs", f.URL)
		}
	}
}

func TestNodeIDStable(t *testing.T) {
	a := NodeID("https://shop.com/products")
	b := NodeID("https://shop.com/products")
	c := NodeID("https://shop.com/about")
	if a != b {
		t.Errorf("NodeID not deterministic: %s vs %s", a, b)
	}
	if a == c {
		t.Error("NodeID equal for different URLs")
	}
}

func ptr(s string) *string { return &s }

func TestDetectCycles(t *testing.T) {
	a := &models.TaxonomyNode{ID: "a", ParentID: ptr("b")}
	b := &models.TaxonomyNode{ID: "b", ParentID: ptr("a")}
	c := &models.TaxonomyNode{ID: "c", ParentID: ptr("a")}
	self := &models.TaxonomyNode{ID: "self", ParentID: ptr("self")}
	root := &models.TaxonomyNode{ID: "root"}
	leaf := &models.TaxonomyNode{ID: "leaf", ParentID: ptr("root")}

	nodes := []*models.TaxonomyNode{a, b, c, self, root, leaf}
	byID := map[string]*models.TaxonomyNode{}
	for _, n := range nodes {
		byID[n.ID] = n
	}

	warnings := detectCycles(nodes, byID)
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want 2 cycles", warnings)
	}
	for _, w := range warnings {
		if w.Type != models.WarningCircularReference {
			t.Errorf("warning type = %q", w.Type)
		}
	}
}

func TestAssignDepthsVisitedGuard(t *testing.T) {
	r1 := &models.TaxonomyNode{ID: "r1", Children: []string{"shared"}}
	r2 := &models.TaxonomyNode{ID: "r2", Children: []string{"shared"}}
	shared := &models.TaxonomyNode{ID: "shared", ParentID: ptr("r1"), Children: []string{"r1"}}

	nodes := []*models.TaxonomyNode{r1, r2, shared}
	byID := map[string]*models.TaxonomyNode{"r1": r1, "r2": r2, "shared": shared}

	maxDepth, warnings := assignDepths(nodes, byID)
	if maxDepth != 1 {
		t.Errorf("maxDepth = %d, want 1", maxDepth)
	}
	if len(warnings) != 2 {
		t.Errorf("warnings = %v, want 2", warnings)
	}
}

func TestDetectOrphans(t *testing.T) {
	orphan := &models.TaxonomyNode{ID: "orphan", ParentID: ptr("gone")}
	root := &models.TaxonomyNode{ID: "root"}
	nodes := []*models.TaxonomyNode{orphan, root}
	byID := map[string]*models.TaxonomyNode{"orphan": orphan, "root": root}

	warnings := detectOrphans(nodes, byID)
	if len(warnings) != 1 || warnings[0].NodeID != "orphan" {
		t.Errorf("warnings = %v, want one orphan", warnings)
	}
	if cycles := detectCycles(nodes, byID); len(cycles) != 0 {
		t.Errorf("orphan reported as cycle: %v", cycles)
	}
}

func TestNewInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative depth", func(c *Config) { c.MaxDepthWarning = -1 }},
		{"empty allowed host", func(c *Config) { c.AllowedHosts = []string{" "} }},
		{"invalid normalize options", func(c *Config) { c.Normalize.DefaultScheme = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
