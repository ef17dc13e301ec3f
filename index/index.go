// Package index provides per-batch lookup structures over a set of target URLs.
//
// An Index is immutable once built. Build a fresh one for every batch and
// discard it afterwards; it is safe for concurrent reads but is never shared
// across batches.
package index

import (
	"github.com/docutag/taxonomy/normalize"
)

// Entry is a normalized target together with its position in the input
type Entry struct {
	URL      normalize.URL
	Position int
}

// Target returns the target URL as it was supplied
func (e Entry) Target() string {
	return e.URL.Raw
}

// Index maps normalized targets by full URL, by path and by final path segment.
// Every bucket lists entries in input order.
type Index struct {
	entries   []Entry
	exact     map[string][]int
	byPath    map[string][]int
	bySegment map[string][]int
}

// Build normalizes every target once and indexes it. Duplicate targets are kept
// so positions line up with the input.
func Build(targets []string, n *normalize.Normalizer) *Index {
	idx := &Index{
		entries:   make([]Entry, len(targets)),
		exact:     make(map[string][]int, len(targets)),
		byPath:    make(map[string][]int, len(targets)),
		bySegment: make(map[string][]int),
	}
	for i, target := range targets {
		u := n.Normalize(target)
		idx.entries[i] = Entry{URL: u, Position: i}
		idx.exact[u.Canonical] = append(idx.exact[u.Canonical], i)
		if u.Degraded {
			continue
		}
		idx.byPath[u.Path] = append(idx.byPath[u.Path], i)
		if last := u.LastSegment(); last != "" {
			idx.bySegment[last] = append(idx.bySegment[last], i)
		}
	}
	return idx
}

// Len returns the number of indexed targets
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Exact returns the first target whose canonical form equals the given URL's
func (idx *Index) Exact(u normalize.URL) (Entry, bool) {
	positions := idx.exact[u.Canonical]
	if len(positions) == 0 {
		return Entry{}, false
	}
	return idx.entries[positions[0]], true
}

// ByPath returns every target sharing the URL's path, regardless of host and query
func (idx *Index) ByPath(u normalize.URL) []Entry {
	if u.Degraded {
		return nil
	}
	return idx.collect(idx.byPath[u.Path])
}

// BySegment returns every target whose final path segment equals the URL's
func (idx *Index) BySegment(u normalize.URL) []Entry {
	last := u.LastSegment()
	if u.Degraded || last == "" {
		return nil
	}
	return idx.collect(idx.bySegment[last])
}

// All returns every target in input order
func (idx *Index) All() []Entry {
	return idx.entries
}

func (idx *Index) collect(positions []int) []Entry {
	if len(positions) == 0 {
		return nil
	}
	out := make([]Entry, len(positions))
	for i, p := range positions {
		out[i] = idx.entries[p]
	}
	return out
}
