package matcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/docutag/taxonomy/normalize"
)

// Transformations describes, in order, what changes turn the source URL into
// the target URL. Identical inputs yield an empty list.
func Transformations(src, tgt normalize.URL) []string {
	out := []string{}
	so, to := src.Original, tgt.Original

	if src.Degraded || tgt.Degraded {
		if src.Raw != tgt.Raw {
			out = append(out, "compared unparseable URL as text")
		}
		return out
	}

	if so.Scheme != to.Scheme {
		out = append(out, fmt.Sprintf("changed protocol %s -> %s", so.Scheme, to.Scheme))
	}

	if so.Host != to.Host {
		sh, th := strings.ToLower(so.Host), strings.ToLower(to.Host)
		switch {
		case sh == th:
			out = append(out, "lowercased host")
		case strings.TrimPrefix(sh, "www.") == strings.TrimPrefix(th, "www."):
			if strings.HasPrefix(sh, "www.") {
				out = append(out, "removed www prefix")
			} else {
				out = append(out, "added www prefix")
			}
		default:
			out = append(out, fmt.Sprintf("changed host %s -> %s", so.Host, to.Host))
		}
	}

	if so.Path != to.Path {
		sp, tp := strings.TrimRight(so.Path, "/"), strings.TrimRight(to.Path, "/")
		switch {
		case sp == tp:
			out = append(out, slashChange(so.Path, to.Path))
		case strings.EqualFold(sp, tp):
			out = append(out, "lowercased path")
			if len(so.Path) != len(to.Path) {
				out = append(out, slashChange(so.Path, to.Path))
			}
		default:
			out = append(out, fmt.Sprintf("changed path %s -> %s", displayPath(so.Path), displayPath(to.Path)))
		}
	}

	if so.RawQuery != to.RawQuery {
		out = append(out, queryChange(so.RawQuery, to.RawQuery))
	}

	if so.Fragment != to.Fragment {
		switch {
		case to.Fragment == "":
			out = append(out, "removed fragment")
		case so.Fragment == "":
			out = append(out, "added fragment")
		default:
			out = append(out, fmt.Sprintf("changed fragment %s -> %s", so.Fragment, to.Fragment))
		}
	}

	return out
}

func slashChange(from, to string) string {
	if len(from) > len(to) {
		return "removed trailing slash"
	}
	return "added trailing slash"
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func queryChange(from, to string) string {
	switch {
	case to == "":
		return "removed query parameters"
	case from == "":
		return "added query parameters"
	}
	fq, errFrom := url.ParseQuery(from)
	tq, errTo := url.ParseQuery(to)
	if errFrom == nil && errTo == nil && fq.Encode() == tq.Encode() {
		return "reordered query parameters"
	}
	return fmt.Sprintf("changed query %s -> %s", from, to)
}
