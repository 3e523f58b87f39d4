package cascade

import (
	"sort"

	"atelier-pricing/internal/pricing"
)

// Index is the dependency map of the catalog: which processes consume a
// material, and which tasks consume a material or a process. It is rebuilt
// from the catalog snapshot at the start of every propagation run, so
// discovering dependents never requires a network round trip.
type Index struct {
	processesByMaterial map[string][]string
	tasksByMaterial     map[string][]string
	tasksByProcess      map[string][]string
}

// BuildIndex derives the dependency index from catalog snapshots.
func BuildIndex(processes []pricing.Process, tasks []pricing.Task) *Index {
	ix := &Index{
		processesByMaterial: make(map[string][]string),
		tasksByMaterial:     make(map[string][]string),
		tasksByProcess:      make(map[string][]string),
	}
	for i := range processes {
		p := &processes[i]
		for _, ref := range p.Materials {
			ix.processesByMaterial[ref.MaterialID] = append(ix.processesByMaterial[ref.MaterialID], p.ID)
		}
	}
	for i := range tasks {
		t := &tasks[i]
		for _, ref := range t.Materials {
			ix.tasksByMaterial[ref.MaterialID] = append(ix.tasksByMaterial[ref.MaterialID], t.ID)
		}
		for _, ref := range t.Processes {
			ix.tasksByProcess[ref.ProcessID] = append(ix.tasksByProcess[ref.ProcessID], t.ID)
		}
	}
	return ix
}

// ProcessesUsingMaterials returns the ids of all processes that reference any
// of the given materials, sorted and deduplicated.
func (ix *Index) ProcessesUsingMaterials(materialIDs []string) []string {
	seen := make(map[string]struct{})
	for _, mid := range materialIDs {
		for _, pid := range ix.processesByMaterial[mid] {
			seen[pid] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// TasksUsing returns the ids of all tasks that reference any of the given
// materials directly or any of the given processes, sorted and deduplicated.
func (ix *Index) TasksUsing(materialIDs, processIDs []string) []string {
	seen := make(map[string]struct{})
	for _, mid := range materialIDs {
		for _, tid := range ix.tasksByMaterial[mid] {
			seen[tid] = struct{}{}
		}
	}
	for _, pid := range processIDs {
		for _, tid := range ix.tasksByProcess[pid] {
			seen[tid] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
