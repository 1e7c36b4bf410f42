package update

import (
	"fmt"
	"strings"
)

// PlanEntry describes one subsystem that should be updated in this pass.
type PlanEntry struct {
	// Subsystem is the component to update.
	Subsystem Subsystem
	// Current is the version currently recorded in the store.
	Current string
	// Target is the version published upstream.
	Target string
}

// Plan is the ordered set of outdated subsystems for one pass.
// It is built once per pass, consumed once, and never persisted.
type Plan struct {
	entries []PlanEntry
}

// Add appends an entry to the plan.
func (p *Plan) Add(entry PlanEntry) {
	p.entries = append(p.entries, entry)
}

// Entries returns the entries in the order they were added.
func (p *Plan) Entries() []PlanEntry {
	return p.entries
}

// IsEmpty reports whether nothing is outdated.
func (p *Plan) IsEmpty() bool {
	return len(p.entries) == 0
}

// Contains reports whether the plan includes the given subsystem.
func (p *Plan) Contains(subsystem Subsystem) bool {
	return p.Entry(subsystem) != nil
}

// Entry returns the entry for the subsystem, or nil when it is not planned.
func (p *Plan) Entry(subsystem Subsystem) *PlanEntry {
	for i := range p.entries {
		if p.entries[i].Subsystem == subsystem {
			return &p.entries[i]
		}
	}

	return nil
}

// String renders the plan for operator confirmation.
func (p *Plan) String() string {
	if p.IsEmpty() {
		return "all subsystems are up to date"
	}

	var b strings.Builder

	for _, entry := range p.entries {
		fmt.Fprintf(&b, "%s: %s -> %s\n",
			entry.Subsystem.DisplayName(), entry.Current, entry.Target)
	}

	return strings.TrimRight(b.String(), "\n")
}
