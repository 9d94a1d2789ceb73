package core

import "fmt"

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusDone, StatusError},
}

// CanTransition reports whether an item may move from one status to another.
// Done and Error are terminal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends an item's lifecycle.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusError }

func (r *ProcessingResult) advance(to Status) {
	if !CanTransition(r.Status, to) {
		panic(fmt.Sprintf("core: illegal status transition %s -> %s for %q", r.Status, to, r.OriginalName))
	}
	r.Status = to
}
