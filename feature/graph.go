package feature

import "fmt"

// ErrCycle is the sentinel for a proposed dependency set that would
// introduce a cycle in the feature graph. WouldCycle below performs the
// check; no function in this package returns ErrCycle itself.
var ErrCycle = fmt.Errorf("feature: dependency cycle")

// WouldCycle reports whether setting featureID's dependsOn to deps would
// introduce a cycle, given the rest of the graph in features. It performs a
// DFS from each proposed dependency looking for a path back to featureID.
func WouldCycle(features []Feature, featureID string, deps []string) bool {
	byID := make(map[string][]string, len(features))
	for _, f := range features {
		if f.ID == featureID {
			continue
		}
		byID[f.ID] = f.DependsOn
	}
	byID[featureID] = deps

	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	var dfs func(id string) bool
	dfs = func(id string) bool {
		if visiting[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visiting[id] = true
		for _, dep := range byID[id] {
			if dfs(dep) {
				return true
			}
		}
		visiting[id] = false
		visited[id] = true
		return false
	}

	return dfs(featureID)
}

// IsReady reports whether f is eligible for dispatch: pending status and
// every dependency completed. Protocol-level gating (pre-execution
// validation) is layered on top by the scheduler, not here.
func IsReady(f Feature, byID map[string]Feature) bool {
	if f.Status != StatusPending {
		return false
	}
	for _, dep := range f.DependsOn {
		other, ok := byID[dep]
		if !ok || other.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// IndexByID builds the id->Feature lookup IsReady and the scheduler need.
func IndexByID(features []Feature) map[string]Feature {
	out := make(map[string]Feature, len(features))
	for _, f := range features {
		out[f.ID] = f
	}
	return out
}

// BlockedBy returns the ids of pending features whose DependsOn includes
// id — used by the adaptive priority formula's "# pending features blocked
// by it" term.
func BlockedBy(features []Feature, id string) []string {
	var out []string
	for _, f := range features {
		if f.Status != StatusPending {
			continue
		}
		for _, dep := range f.DependsOn {
			if dep == id {
				out = append(out, f.ID)
				break
			}
		}
	}
	return out
}
