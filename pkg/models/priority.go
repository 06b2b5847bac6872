package models

// Priority represents how urgently a task should be picked up.
type Priority string

const (
	// PriorityUrgent is picked before everything else.
	PriorityUrgent Priority = "urgent"
	// PriorityHigh is picked before medium and low work.
	PriorityHigh Priority = "high"
	// PriorityMedium is the default priority.
	PriorityMedium Priority = "medium"
	// PriorityLow is picked last.
	PriorityLow Priority = "low"
)

// Valid returns true if the priority is a known value. An empty priority is
// treated as medium and is valid.
func (p Priority) Valid() bool {
	switch p {
	case "", PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank returns the sort rank of the priority; lower ranks are selected first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// OrDefault returns medium for an empty priority.
func (p Priority) OrDefault() Priority {
	if p == "" {
		return PriorityMedium
	}
	return p
}
