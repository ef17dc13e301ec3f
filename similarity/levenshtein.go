package similarity

// Distance returns the Levenshtein edit distance between a and b, counted in runes
func Distance(a, b string) int {
	return BoundedDistance(a, b, -1)
}

// BoundedDistance returns the edit distance between a and b, or limit+1 as soon
// as the distance is known to exceed limit. A negative limit disables the bound.
func BoundedDistance(a, b string, limit int) int {
	if a == b {
		return 0
	}
	ar := []rune(a)
	br := []rune(b)
	if len(ar) < len(br) {
		ar, br = br, ar
	}
	if limit >= 0 && len(ar)-len(br) > limit {
		return limit + 1
	}
	if len(br) == 0 {
		return len(ar)
	}

	// Two rows instead of the full matrix
	prev := make([]int, len(br)+1)
	curr := make([]int, len(br)+1)
	for j := range prev {
		prev[j] = j
	}
	for i, ca := range ar {
		curr[0] = i + 1
		rowMin := curr[0]
		for j, cb := range br {
			cost := 1
			if ca == cb {
				cost = 0
			}
			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
			if curr[j+1] < rowMin {
				rowMin = curr[j+1]
			}
		}
		if limit >= 0 && rowMin > limit {
			return limit + 1
		}
		prev, curr = curr, prev
	}
	if limit >= 0 && prev[len(br)] > limit {
		return limit + 1
	}
	return prev[len(br)]
}

// Ratio returns 1 - distance/maxLen, so identical strings score 1.0
func Ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(Distance(a, b))/float64(maxLen)
}
