package domain

import "time"

// Slot addresses one concurrent execution unit. In flat mode Tab is always 0
// and Instance equals the task's worker index; in hierarchical mode the pair
// is assigned round-robin at submission and never rebalanced.
type Slot struct {
	Instance int
	Tab      int
}

// RegistrationTask is the unit of work handed to a FlowExecutor. A task is
// owned by exactly one executor at a time.
type RegistrationTask struct {
	ID         int
	Slot       Slot
	Account    *Account
	// Outcome carries the failure detail set by the step that gave up;
	// empty while the task is still progressing.
	Outcome    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// TaskResult is the terminal record reported for one task. Err is empty on
// success.
type TaskResult struct {
	TaskID    int
	Success   bool
	Email     string
	Err       string
	Timestamp time.Time
}

// BatchSummary aggregates a finished batch for user-visible reporting.
type BatchSummary struct {
	Attempted int
	Succeeded int
	Total     int
	Results   []TaskResult
}
