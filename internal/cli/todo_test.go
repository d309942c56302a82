package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type todoResponse struct {
	Status string   `json:"status"`
	Data   TodoView `json:"data"`
	Error  *CLIError
}

type todoListResponse struct {
	Status string     `json:"status"`
	Data   []TodoView `json:"data"`
}

func addTodo(t *testing.T, dbPath string, title ...string) TodoView {
	t.Helper()

	args := append([]string{"todo", "add", "--db", dbPath, "--format", "json"}, title...)
	out, _, err := execute(t, args...)
	require.NoError(t, err)

	var resp todoResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func listTodos(t *testing.T, dbPath string) []TodoView {
	t.Helper()

	out, _, err := execute(t, "todo", "ls", "--db", dbPath, "--format", "json")
	require.NoError(t, err)

	var resp todoListResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestTodoLifecycle(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "optimist.db")

	milk := addTodo(t, dbPath, "buy", "milk")
	assert.NotEmpty(t, milk.ID)
	assert.Equal(t, "buy milk", milk.Title)
	assert.False(t, milk.Completed)
	assert.True(t, milk.New)
	assert.NotEmpty(t, milk.CreatedAt)

	bread := addTodo(t, dbPath, "bread")

	todos := listTodos(t, dbPath)
	require.Len(t, todos, 2)
	assert.Equal(t, milk.ID, todos[0].ID, "oldest first")
	assert.Equal(t, bread.ID, todos[1].ID)

	out, _, err := execute(t, "todo", "done", "--db", dbPath, "--format", "json", milk.ID)
	require.NoError(t, err)
	var done todoResponse
	require.NoError(t, json.Unmarshal([]byte(out), &done))
	assert.True(t, done.Data.Completed)

	_, _, err = execute(t, "todo", "rename", "--db", dbPath, bread.ID, "rye", "bread")
	require.NoError(t, err)

	out, _, err = execute(t, "todo", "rm", "--db", dbPath, milk.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "removed "+milk.ID)

	todos = listTodos(t, dbPath)
	require.Len(t, todos, 1)
	assert.Equal(t, bread.ID, todos[0].ID)
	assert.Equal(t, "rye bread", todos[0].Title)
}

func TestTodoDoneUndo(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "optimist.db")
	tea := addTodo(t, dbPath, "tea")

	_, _, err := execute(t, "todo", "done", "--db", dbPath, tea.ID)
	require.NoError(t, err)
	_, _, err = execute(t, "todo", "done", "--undo", "--db", dbPath, tea.ID)
	require.NoError(t, err)

	todos := listTodos(t, dbPath)
	require.Len(t, todos, 1)
	assert.False(t, todos[0].Completed)
}

func TestTodoListText(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "optimist.db")

	out, _, err := execute(t, "todo", "ls", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No todos.")

	tea := addTodo(t, dbPath, "tea")
	out, _, err = execute(t, "todo", "ls", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "[ ] "+tea.ID+"  tea", strings.TrimSpace(out))
}

func TestTodoAddValidation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "optimist.db")

	out, _, err := execute(t, "todo", "add", "--db", dbPath, "--format", "json", "   ")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp todoResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION", resp.Error.Code)

	assert.Empty(t, listTodos(t, dbPath), "rejected input never reaches the remote")
}

func TestTodoUnknownID(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "optimist.db")

	for _, args := range [][]string{
		{"todo", "done", "--db", dbPath, "nope"},
		{"todo", "rm", "--db", dbPath, "nope"},
	} {
		out, _, err := execute(t, args...)
		require.Error(t, err, "%v", args)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, "Error [NOT_FOUND]")
	}
}

func TestTodoMemoryRemote(t *testing.T) {
	t.Setenv(RedisURLEnv, "")

	out, errOut, err := execute(t, "todo", "add", "tea")
	require.NoError(t, err)
	assert.Contains(t, out, "tea")
	assert.Contains(t, errOut, "changes are discarded on exit")
}

func TestTodoArgs(t *testing.T) {
	_, _, err := execute(t, "todo", "add")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")

	_, _, err = execute(t, "todo", "rename", "srv-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 2 arg")
}
