package feature

import (
	"path/filepath"
	"strings"
)

// ConflictReason describes why two features were flagged as conflicting by
// AnalyzeConflicts.
type ConflictReason struct {
	FeatureA string `json:"a"`
	FeatureB string `json:"b"`
	Reason   string `json:"reason"`
}

// AnalyzeConflicts performs static, advisory conflict prediction over
// overlapping file-pattern hints between features. It never blocks
// dispatch on its own; callers surface the result as a warning.
func AnalyzeConflicts(features []Feature) []ConflictReason {
	var out []ConflictReason
	for i := range features {
		for j := i + 1; j < len(features); j++ {
			a, b := features[i], features[j]
			if filesOverlap(a.Files, b.Files) {
				out = append(out, ConflictReason{
					FeatureA: a.ID,
					FeatureB: b.ID,
					Reason:   "overlapping file patterns",
				})
				continue
			}
			if keywordsOverlap(a.Description, b.Description) {
				out = append(out, ConflictReason{
					FeatureA: a.ID,
					FeatureB: b.ID,
					Reason:   "overlapping description keywords",
				})
			}
		}
	}
	return out
}

// HasConflict reports whether candidate overlaps any feature already
// in_progress among the rest.
func HasConflict(candidate Feature, rest []Feature) bool {
	for _, other := range rest {
		if other.ID == candidate.ID || other.Status != StatusInProgress {
			continue
		}
		if filesOverlap(candidate.Files, other.Files) {
			return true
		}
	}
	return false
}

// SuggestParallelGroups greedily partitions features into file-disjoint
// groups, the batch-planning supplement (SPEC_FULL.md supplemented feature
// 1). The scheduler's Dispatch does not call it; dispatch runs only the
// pairwise AnalyzeConflicts check, as an advisory pass.
func SuggestParallelGroups(features []Feature) [][]Feature {
	if len(features) == 0 {
		return nil
	}
	var groups [][]Feature
	used := make(map[string]bool, len(features))

	for _, f := range features {
		if used[f.ID] {
			continue
		}
		group := []Feature{f}
		used[f.ID] = true

		for _, candidate := range features {
			if used[candidate.ID] {
				continue
			}
			conflicts := false
			for _, member := range group {
				if filesOverlap(candidate.Files, member.Files) {
					conflicts = true
					break
				}
			}
			if !conflicts {
				group = append(group, candidate)
				used[candidate.ID] = true
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// ValidateFilePatterns rejects empty, absolute, or dangerously-broad
// patterns before they are stored on a feature.
func ValidateFilePatterns(patterns []string) []string {
	var problems []string
	for _, p := range patterns {
		switch {
		case p == "":
			problems = append(problems, "empty file pattern")
		case p == "/" || p == "/*" || p == "/**":
			problems = append(problems, "pattern too broad: "+p)
		case filepath.IsAbs(p):
			problems = append(problems, "pattern should be relative: "+p)
		}
	}
	return problems
}

func filesOverlap(a, b []string) bool {
	for _, pa := range a {
		for _, pb := range b {
			if patternsOverlap(pa, pb) {
				return true
			}
		}
	}
	return false
}

func patternsOverlap(a, b string) bool {
	a = filepath.Clean(a)
	b = filepath.Clean(b)

	if a == b {
		return true
	}
	if isParentPath(a, b) || isParentPath(b, a) {
		return true
	}

	aParts := strings.Split(a, string(filepath.Separator))
	bParts := strings.Split(b, string(filepath.Separator))

	minLen := len(aParts)
	if len(bParts) < minLen {
		minLen = len(bParts)
	}

	common := 0
	for i := 0; i < minLen; i++ {
		if aParts[i] == bParts[i] || aParts[i] == "*" || bParts[i] == "*" ||
			aParts[i] == "**" || bParts[i] == "**" {
			common++
		} else {
			break
		}
	}
	if common == minLen {
		return true
	}

	if strings.Contains(a, "**") || strings.Contains(b, "**") {
		aDir := firstConcreteDir(a)
		bDir := firstConcreteDir(b)
		if aDir != "" && bDir != "" && (aDir == bDir || strings.HasPrefix(aDir, bDir) || strings.HasPrefix(bDir, aDir)) {
			return true
		}
	}
	return false
}

func isParentPath(parent, child string) bool {
	parent = strings.TrimSuffix(parent, "/*")
	parent = strings.TrimSuffix(parent, "/**")
	child = strings.TrimSuffix(child, "/*")
	child = strings.TrimSuffix(child, "/**")
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

func firstConcreteDir(pattern string) string {
	for _, part := range strings.Split(pattern, string(filepath.Separator)) {
		if part != "*" && part != "**" && !strings.Contains(part, "*") {
			return part
		}
	}
	return ""
}

// keywordsOverlap is a conservative heuristic: two descriptions "overlap"
// if they share a distinctive (len > 4) word. This is an advisory,
// false-positive-tolerant signal layered alongside file-pattern overlap.
func keywordsOverlap(a, b string) bool {
	wordsA := significantWords(a)
	if len(wordsA) == 0 {
		return false
	}
	wordsB := significantWords(b)
	for w := range wordsA {
		if wordsB[w] {
			return true
		}
	}
	return false
}

func significantWords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'")
		if len(w) > 4 {
			out[w] = true
		}
	}
	return out
}
