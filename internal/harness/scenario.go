package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario drives one todo store through a sequence of steps against an
// in-memory remote source and checks the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ClientID tags this store's mutations. Defaults to "client-a".
	ClientID string `yaml:"client_id,omitempty"`

	// Clock is the initial logical clock reading. Realtime steps with a
	// negative version_offset need room below the pending version.
	Clock int64 `yaml:"clock,omitempty"`

	// StaleTime is how long fetched data stays fresh ("30s", "5m").
	StaleTime string `yaml:"stale_time,omitempty"`

	// Prune drops records a newer fetch no longer contains.
	Prune bool `yaml:"prune,omitempty"`

	// Seed rows exist on the server before the first step.
	Seed []Row `yaml:"seed,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Row is a server-side todo.
type Row struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	Completed bool   `yaml:"completed,omitempty"`
}

// Step is one action. Op selects which fields apply.
type Step struct {
	Op string `yaml:"op"`

	// As names an async operation so a later await can refer to it.
	As string `yaml:"as,omitempty"`

	// Async starts the operation on its own goroutine. The step returns
	// once the call is parked at the source or has finished.
	Async bool `yaml:"async,omitempty"`

	// ID targets a record. Temporary ids are written as "temp#N".
	ID string `yaml:"id,omitempty"`

	Title     string `yaml:"title,omitempty"`
	Completed *bool  `yaml:"completed,omitempty"`

	// Call names a remote operation: list, create, update, remove.
	Call string `yaml:"call,omitempty"`

	// Error is the message of an injected failure.
	Error string `yaml:"error,omitempty"`

	// Ref names the operation an await waits for. On release it names the
	// operation to wait for after unparking its call.
	Ref string `yaml:"ref,omitempty"`

	// Expect is "ok" or an error kind ("REMOTE_MUTATION", "IN_FLIGHT").
	Expect string `yaml:"expect,omitempty"`

	// Kind is the realtime event kind: INSERT, UPDATE, DELETE.
	Kind string `yaml:"kind,omitempty"`

	// Origin is the realtime origin client id.
	Origin string `yaml:"origin,omitempty"`

	// Version is an explicit realtime version.
	Version int64 `yaml:"version,omitempty"`

	// VersionOffset stamps the realtime event relative to the clock.
	VersionOffset *int64 `yaml:"version_offset,omitempty"`

	// Duration advances the wall clock.
	Duration string `yaml:"duration,omitempty"`

	Row *Row `yaml:"row,omitempty"`

	// Assertions checked at this point (op: check).
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step operations.
const (
	OpEnable       = "enable"
	OpDisable      = "disable"
	OpCreate       = "create"
	OpUpdate       = "update"
	OpRemove       = "remove"
	OpRefetch      = "refetch"
	OpTrigger      = "trigger"
	OpAwait        = "await"
	OpHold         = "hold"
	OpResume       = "resume"
	OpRelease      = "release"
	OpFailNext     = "fail_next"
	OpRealtime     = "realtime"
	OpServerPut    = "server_put"
	OpServerDelete = "server_delete"
	OpAdvance      = "advance"
	OpCheck        = "check"
)

// Assertion checks store, status or server state.
type Assertion struct {
	// Type is one of list, entity, absent, status, server, remote_calls,
	// trace_count.
	Type string `yaml:"type"`

	// IDs is the expected visible list, in order (list).
	IDs []string `yaml:"ids,omitempty"`

	// ID selects a record (entity, absent, server).
	ID string `yaml:"id,omitempty"`

	// Expect holds expected field values. Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Call and Count check remote call counts (remote_calls). Event and
	// Count check trace events (trace_count).
	Call  string `yaml:"call,omitempty"`
	Event string `yaml:"event,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Absent asserts the server has no such row (server).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion types.
const (
	AssertList        = "list"
	AssertEntity      = "entity"
	AssertAbsent      = "absent"
	AssertStatus      = "status"
	AssertServer      = "server"
	AssertRemoteCalls = "remote_calls"
	AssertTraceCount  = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Clock < 0 {
		return fmt.Errorf("clock must be non-negative")
	}
	if s.StaleTime != "" {
		if _, err := time.ParseDuration(s.StaleTime); err != nil {
			return fmt.Errorf("stale_time: %w", err)
		}
	}
	for i, row := range s.Seed {
		if row.ID == "" {
			return fmt.Errorf("seed[%d]: id is required", i)
		}
	}

	names := make(map[string]bool)
	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i], names); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(fmt.Sprintf("assertions[%d]", i), &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step, names map[string]bool) error {
	where := fmt.Sprintf("steps[%d]", i)

	switch st.Op {
	case OpEnable, OpDisable, OpHold, OpResume, OpTrigger:
	case OpCreate:
		if st.Title == "" && st.Row == nil {
			return fmt.Errorf("%s: create needs a title", where)
		}
	case OpUpdate:
		if st.ID == "" {
			return fmt.Errorf("%s: update needs an id", where)
		}
	case OpRemove, OpServerDelete:
		if st.ID == "" {
			return fmt.Errorf("%s: %s needs an id", where, st.Op)
		}
	case OpRefetch:
	case OpAwait:
		if st.Ref == "" {
			return fmt.Errorf("%s: await needs a ref", where)
		}
		if !names[st.Ref] {
			return fmt.Errorf("%s: await of unknown operation %q", where, st.Ref)
		}
	case OpRelease, OpFailNext:
		if !validCall(st.Call) {
			return fmt.Errorf("%s: %s needs a call (list, create, update, remove)", where, st.Op)
		}
		if st.Op == OpRelease && st.Ref != "" && !names[st.Ref] {
			return fmt.Errorf("%s: release of unknown operation %q", where, st.Ref)
		}
		if st.Op == OpFailNext && st.Error == "" {
			return fmt.Errorf("%s: fail_next needs an error", where)
		}
	case OpRealtime:
		switch st.Kind {
		case "INSERT", "UPDATE":
			if st.Row == nil {
				return fmt.Errorf("%s: realtime %s needs a row", where, st.Kind)
			}
		case "DELETE":
			if st.ID == "" && st.Row == nil {
				return fmt.Errorf("%s: realtime DELETE needs an id", where)
			}
		default:
			return fmt.Errorf("%s: unknown realtime kind %q", where, st.Kind)
		}
		if st.Version != 0 && st.VersionOffset != nil {
			return fmt.Errorf("%s: version and version_offset are exclusive", where)
		}
	case OpServerPut:
		if st.Row == nil || st.Row.ID == "" {
			return fmt.Errorf("%s: server_put needs a row with an id", where)
		}
	case OpAdvance:
		if _, err := time.ParseDuration(st.Duration); err != nil {
			return fmt.Errorf("%s: advance: %w", where, err)
		}
	case OpCheck:
		if len(st.Assertions) == 0 {
			return fmt.Errorf("%s: check needs assertions", where)
		}
		for j := range st.Assertions {
			if err := validateAssertion(fmt.Sprintf("%s.assertions[%d]", where, j), &st.Assertions[j]); err != nil {
				return err
			}
		}
	case "":
		return fmt.Errorf("%s: op is required", where)
	default:
		return fmt.Errorf("%s: unknown op %q", where, st.Op)
	}

	if st.Async && st.As == "" {
		return fmt.Errorf("%s: async %s needs a name (as)", where, st.Op)
	}
	if st.As != "" {
		if names[st.As] {
			return fmt.Errorf("%s: duplicate operation name %q", where, st.As)
		}
		names[st.As] = true
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(where string, a *Assertion) error {
	switch a.Type {
	case AssertList:
	case AssertEntity:
		if a.ID == "" || len(a.Expect) == 0 {
			return fmt.Errorf("%s: entity needs id and expect", where)
		}
	case AssertAbsent:
		if a.ID == "" {
			return fmt.Errorf("%s: absent needs an id", where)
		}
	case AssertStatus:
		if len(a.Expect) == 0 {
			return fmt.Errorf("%s: status needs expect", where)
		}
	case AssertServer:
		if a.ID == "" {
			return fmt.Errorf("%s: server needs an id", where)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("%s: server needs expect or absent", where)
		}
	case AssertRemoteCalls:
		if !validCall(a.Call) {
			return fmt.Errorf("%s: remote_calls needs a call", where)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("%s: trace_count needs an event", where)
		}
	case "":
		return fmt.Errorf("%s: type is required", where)
	default:
		return fmt.Errorf("%s: unknown assertion type %q", where, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("%s: count must be non-negative", where)
	}
	return nil
}

func validCall(call string) bool {
	switch call {
	case "list", "create", "update", "remove":
		return true
	}
	return false
}

// FindScenarioFiles returns the .yaml and .yml files under dir, optionally
// filtered by a glob on the file name without extension.
func FindScenarioFiles(dir, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}
