package harness

// Trace event types.
const (
	EventStep     = "step"
	EventChange   = "change"
	EventResult   = "result"
	EventRealtime = "realtime"
)

// TraceEvent is one entry of a scenario trace. Temporary ids are rewritten
// as "temp#N" in order of first appearance so traces are reproducible.
type TraceEvent struct {
	Seq     int        `json:"seq"`
	Type    string     `json:"type"`
	Op      string     `json:"op,omitempty"`
	Ref     string     `json:"ref,omitempty"`
	ID      string     `json:"id,omitempty"`
	Outcome string     `json:"outcome,omitempty"`
	Changes []ChangeOp `json:"changes,omitempty"`
}

// ChangeOp is one committed cache write.
type ChangeOp struct {
	Kind      string `json:"kind"`
	ID        string `json:"id,omitempty"`
	OldID     string `json:"old_id,omitempty"`
	Pending   string `json:"pending,omitempty"`
	Title     string `json:"title,omitempty"`
	Completed bool   `json:"completed,omitempty"`
	Gone      bool   `json:"gone,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds steps, cache changes and operation results in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// add appends ev with the next sequence number.
func (r *Result) add(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}

// Count returns how many trace events have type typ.
func (r *Result) Count(typ string) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.Type == typ {
			n++
		}
	}
	return n
}
