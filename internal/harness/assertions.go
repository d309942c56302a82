package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/optimist/internal/collection"
	"github.com/roach88/optimist/internal/errs"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// evaluate checks assertions against the current state and returns one
// message per failure.
func (h *Harness) evaluate(assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.check(a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) check(a Assertion) error {
	switch a.Type {
	case AssertList:
		return h.assertList(a)
	case AssertEntity:
		return h.assertEntity(a)
	case AssertAbsent:
		if _, ok := h.store.Get(h.resolve(a.ID)); ok {
			return &AssertionError{Type: a.Type, Expected: a.ID + " not visible", Actual: "visible"}
		}
		return nil
	case AssertStatus:
		return h.assertStatus(a)
	case AssertServer:
		return h.assertServer(a)
	case AssertRemoteCalls:
		if got := h.src.Calls(a.Call); got != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d %s calls", a.Count, a.Call), Actual: fmt.Sprint(got)}
		}
		return nil
	case AssertTraceCount:
		h.mu.Lock()
		got := h.result.Count(a.Event)
		h.mu.Unlock()
		if got != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d %s events", a.Count, a.Event), Actual: fmt.Sprint(got)}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) assertList(a Assertion) error {
	h.mu.Lock()
	var got []string
	for _, todo := range h.store.List() {
		got = append(got, h.names.name(todo.ID))
	}
	h.mu.Unlock()

	if strings.Join(got, ",") != strings.Join(a.IDs, ",") {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%v", a.IDs), Actual: fmt.Sprintf("%v", got)}
	}
	return nil
}

func (h *Harness) assertEntity(a Assertion) error {
	id := h.resolve(a.ID)
	for _, rec := range h.store.Records() {
		if rec.ID != id {
			continue
		}
		actual := map[string]any{
			"title":     rec.Entity.Title,
			"completed": rec.Entity.Completed,
			"pending":   rec.Pending.String(),
			"origin":    string(rec.Origin),
			"visible":   rec.Visible(),
			"gone":      rec.Gone,
		}
		return matchFields(a.Type+" "+a.ID, actual, a.Expect)
	}
	return &AssertionError{Type: a.Type, Expected: a.ID + " in cache", Actual: "absent"}
}

func (h *Harness) assertStatus(a Assertion) error {
	st := h.store.Status()
	actual := map[string]any{
		"is_loading":     st.IsLoading,
		"is_error":       st.IsError,
		"is_syncing":     st.IsSyncing,
		"create_pending": st.CreatePending,
		"update_pending": st.UpdatePending,
		"delete_pending": st.DeletePending,
		"error":          string(errs.KindOf(st.Error)),
		"fetched":        !st.LastFetched.IsZero(),
	}
	return matchFields(a.Type, actual, a.Expect)
}

func (h *Harness) assertServer(a Assertion) error {
	id := h.resolve(a.ID)
	var row *collection.TodoWire
	for _, r := range h.src.Rows() {
		if r.ID == id {
			row = &r
			break
		}
	}

	if a.Absent {
		if row != nil {
			return &AssertionError{Type: a.Type, Expected: a.ID + " absent on server", Actual: "present"}
		}
		return nil
	}
	if row == nil {
		return &AssertionError{Type: a.Type, Expected: a.ID + " on server", Actual: "absent"}
	}
	actual := map[string]any{
		"title":     row.Title,
		"completed": row.Completed == "true",
	}
	return matchFields(a.Type+" "+a.ID, actual, a.Expect)
}

// matchFields checks that every expected key matches actual (subset
// semantics). Values compare by their printed form so YAML ints and bools
// match Go values of any width.
func matchFields(what string, actual, expected map[string]any) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return fmt.Errorf("%s: unknown field %q", what, k)
		}
		want := expected[k]
		if want == nil {
			want = ""
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return &AssertionError{
				Type:     what,
				Expected: fmt.Sprintf("%s=%v", k, want),
				Actual:   fmt.Sprintf("%s=%v", k, got),
			}
		}
	}
	return nil
}
