package container

import "strings"

// AlignmentRule maps an entry name to the boundary its data must start on.
// Zero or one means no constraint.
type AlignmentRule func(name string) int

// SuffixAlignment aligns every entry whose name ends in suffix.
func SuffixAlignment(suffix string, boundary int) AlignmentRule {
	return func(name string) int {
		if strings.HasSuffix(name, suffix) {
			return boundary
		}
		return 0
	}
}

// ExactAlignment aligns the single entry called target.
func ExactAlignment(target string, boundary int) AlignmentRule {
	return func(name string) int {
		if name == target {
			return boundary
		}
		return 0
	}
}

// ComposeAlignment returns the first non-trivial boundary among rules.
func ComposeAlignment(rules ...AlignmentRule) AlignmentRule {
	return func(name string) int {
		for _, r := range rules {
			if r == nil {
				continue
			}
			if b := r(name); b > 1 {
				return b
			}
		}
		return 0
	}
}
