package collection

import (
	"time"

	"github.com/roach88/optimist/internal/engine"
	"github.com/roach88/optimist/internal/realtime"
	"github.com/roach88/optimist/internal/remote"
	"github.com/roach88/optimist/internal/transform"
	"github.com/roach88/optimist/internal/validate"
)

// Todo collection identifiers.
const (
	TodoName      = "todos"
	TodoEventType = "todos"
	TodoEntityKey = "todo"
)

// DefaultNewWindow is how long a todo counts as new.
const DefaultNewWindow = 24 * time.Hour

// TodoWire is a todo as the backend stores it. Booleans and timestamps are
// strings.
type TodoWire struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed string `json:"completed"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (w TodoWire) GetID() string { return w.ID }

// Todo is a todo as the UI reads it.
type Todo struct {
	ID        string
	Title     string
	Completed bool
	CreatedAt time.Time
	UpdatedAt time.Time

	// IsNew is true for todos created within the transformer's window,
	// including every optimistic todo.
	IsNew bool
}

func (t Todo) GetID() string { return t.ID }

// TodoInput is what a caller supplies to create a todo.
type TodoInput struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed,omitempty"`
}

// TodoTransformer converts between TodoWire and Todo.
type TodoTransformer struct {
	// Now defaults to time.Now.
	Now func() time.Time

	// NewWindow defaults to DefaultNewWindow.
	NewWindow time.Duration
}

var _ transform.Transformer[TodoWire, Todo, TodoInput] = TodoTransformer{}

func (t TodoTransformer) ToUI(w TodoWire) Todo {
	created := parseTime(w.CreatedAt)
	return Todo{
		ID:        w.ID,
		Title:     w.Title,
		Completed: parseBool(w.Completed),
		CreatedAt: created,
		UpdatedAt: parseTime(w.UpdatedAt),
		IsNew:     !created.IsZero() && t.now().Sub(created) < t.window(),
	}
}

func (t TodoTransformer) ToAPI(u Todo) TodoWire {
	return TodoWire{
		ID:        u.ID,
		Title:     u.Title,
		Completed: formatBool(u.Completed),
		CreatedAt: formatTime(u.CreatedAt),
		UpdatedAt: formatTime(u.UpdatedAt),
	}
}

func (t TodoTransformer) Optimistic(in TodoInput, ctx transform.OptimisticContext) Todo {
	return Todo{
		ID:        ctx.TempID,
		Title:     in.Title,
		Completed: in.Completed,
		CreatedAt: ctx.Now,
		UpdatedAt: ctx.Now,
		IsNew:     true,
	}
}

func (t TodoTransformer) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t TodoTransformer) window() time.Duration {
	if t.NewWindow > 0 {
		return t.NewWindow
	}
	return DefaultNewWindow
}

// NewTodoWire builds the stored row for a create. Used by the memory and
// SQLite sources.
func NewTodoWire(id string, in TodoInput, now time.Time) TodoWire {
	ts := formatTime(now)
	return TodoWire{
		ID:        id,
		Title:     in.Title,
		Completed: formatBool(in.Completed),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

var _ remote.NewFunc[TodoWire, TodoInput] = NewTodoWire

var todoSchema = mustSchema("todo.cue", "#TodoInput")

// ValidateTodo checks create input against the todo schema.
func ValidateTodo(in TodoInput) error {
	return validate.Func[TodoInput](todoSchema)(in)
}

// TodoLess orders todos oldest first, then by id.
func TodoLess(a, b Todo) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// TodoConfig returns the store configuration for todos over src.
func TodoConfig(src remote.Source[TodoWire, TodoInput], tr TodoTransformer) engine.Config[TodoWire, Todo, TodoInput] {
	return engine.Config[TodoWire, Todo, TodoInput]{
		Name:        TodoName,
		Source:      src,
		Transformer: tr,
		Validate:    ValidateTodo,
		Less:        TodoLess,
	}
}

// TodoRealtime returns the realtime configuration for todos.
func TodoRealtime(sub realtime.Subscriber, clientID string) *engine.RealtimeConfig[TodoWire] {
	return &engine.RealtimeConfig[TodoWire]{
		Subscriber:    sub,
		EventType:     TodoEventType,
		DataExtractor: realtime.ExtractField[TodoWire](TodoEntityKey),
		ClientID:      clientID,
	}
}

// TodoPublish returns the frame layout TodoRealtime consumes.
func TodoPublish() remote.PublishConfig {
	return remote.PublishConfig{
		Topic:     TodoEventType,
		EventType: TodoEventType,
		EntityKey: TodoEntityKey,
	}
}

// SetCompleted returns a patch that sets the completion flag and stamps now.
func SetCompleted(done bool, now time.Time) func(Todo) Todo {
	return func(t Todo) Todo {
		t.Completed = done
		t.UpdatedAt = now
		return t
	}
}

// Rename returns a patch that sets the title and stamps now.
func Rename(title string, now time.Time) func(Todo) Todo {
	return func(t Todo) Todo {
		t.Title = title
		t.UpdatedAt = now
		return t
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
