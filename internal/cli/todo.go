package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/optimist/internal/collection"
	"github.com/roach88/optimist/internal/engine"
)

type todoStore = engine.Store[collection.TodoWire, collection.Todo, collection.TodoInput]

// TodoOptions holds flags shared by the todo subcommands.
type TodoOptions struct {
	*RootOptions
	flags configFlags
	Token string
}

// TodoView is the output form of one todo.
type TodoView struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	CreatedAt string `json:"created_at,omitempty"`
	New       bool   `json:"new,omitempty"`
}

func (v TodoView) String() string {
	mark := " "
	if v.Completed {
		mark = "x"
	}
	return fmt.Sprintf("[%s] %s  %s", mark, v.ID, v.Title)
}

func newTodoView(t collection.Todo) TodoView {
	v := TodoView{ID: t.ID, Title: t.Title, Completed: t.Completed, New: t.IsNew}
	if !t.CreatedAt.IsZero() {
		v.CreatedAt = t.CreatedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// NewTodoCommand creates the todo command and its subcommands.
func NewTodoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TodoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "todo",
		Short: "Create, complete, remove and list todos",
		Long: `Apply one mutation to the todo collection through the optimistic store.

Each subcommand fetches the collection, runs the mutation, and prints the
settled result. Against the memory remote nothing outlives the process;
use --db (or remote.kind: sqlite) to persist.

Examples:
  optimist todo add --db ./optimist.db "buy milk"
  optimist todo done --db ./optimist.db 0190a4c2-...
  optimist todo ls --db ./optimist.db --format json`,
	}

	opts.flags.registerPersistent(cmd)
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "cli", "auth token passed to the remote")

	cmd.AddCommand(newTodoAddCommand(opts))
	cmd.AddCommand(newTodoDoneCommand(opts))
	cmd.AddCommand(newTodoRenameCommand(opts))
	cmd.AddCommand(newTodoRemoveCommand(opts))
	cmd.AddCommand(newTodoListCommand(opts))

	return cmd
}

func newTodoAddCommand(opts *TodoOptions) *cobra.Command {
	var completed bool
	cmd := &cobra.Command{
		Use:           "add <title>",
		Short:         "Create a todo",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args, " ")
			return withTodos(opts, cmd, func(ctx context.Context, s *todoStore, out *OutputFormatter) error {
				t, err := s.Create(ctx, collection.TodoInput{Title: title, Completed: completed})
				if err != nil {
					return out.Fail("create failed", err)
				}
				return out.Success(newTodoView(t))
			})
		},
	}
	cmd.Flags().BoolVar(&completed, "completed", false, "create the todo already completed")
	return cmd
}

func newTodoDoneCommand(opts *TodoOptions) *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:           "done <id>",
		Short:         "Mark a todo completed",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTodos(opts, cmd, func(ctx context.Context, s *todoStore, out *OutputFormatter) error {
				t, err := s.Update(ctx, args[0], collection.SetCompleted(!undo, time.Now()))
				if err != nil {
					return out.Fail("update failed", err)
				}
				return out.Success(newTodoView(t))
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "mark the todo not completed")
	return cmd
}

func newTodoRenameCommand(opts *TodoOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rename <id> <title>",
		Short:         "Change a todo's title",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args[1:], " ")
			return withTodos(opts, cmd, func(ctx context.Context, s *todoStore, out *OutputFormatter) error {
				t, err := s.Update(ctx, args[0], collection.Rename(title, time.Now()))
				if err != nil {
					return out.Fail("update failed", err)
				}
				return out.Success(newTodoView(t))
			})
		},
	}
}

func newTodoRemoveCommand(opts *TodoOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rm <id>",
		Aliases:       []string{"remove"},
		Short:         "Remove a todo",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTodos(opts, cmd, func(ctx context.Context, s *todoStore, out *OutputFormatter) error {
				if err := s.Remove(ctx, args[0]); err != nil {
					return out.Fail("remove failed", err)
				}
				return out.Success(fmt.Sprintf("removed %s", args[0]))
			})
		},
	}
}

func newTodoListCommand(opts *TodoOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "ls",
		Aliases:       []string{"list"},
		Short:         "List todos",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTodos(opts, cmd, func(ctx context.Context, s *todoStore, out *OutputFormatter) error {
				todos := s.List()
				views := make([]TodoView, 0, len(todos))
				for _, t := range todos {
					views = append(views, newTodoView(t))
				}
				if out.Format == "json" {
					return out.Success(views)
				}
				if len(views) == 0 {
					return out.Success("No todos.")
				}
				for _, v := range views {
					fmt.Fprintln(out.Writer, v)
				}
				return nil
			})
		},
	}
}

// withTodos opens a todo store, fetches the collection, and runs fn.
func withTodos(opts *TodoOptions, cmd *cobra.Command, fn func(context.Context, *todoStore, *OutputFormatter) error) error {
	b, err := opts.setup(cmd, &opts.flags)
	if err != nil {
		return err
	}
	defer b.Close()

	if b.db == nil {
		b.log.Warn("memory remote: changes are discarded on exit")
	}

	s, err := b.openTodos()
	if err != nil {
		return err
	}
	defer s.Dispose()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.formatter(cmd)
	if err := s.Enable(ctx, opts.Token); err != nil {
		return out.Fail("fetch failed", err)
	}
	return fn(ctx, s, out)
}
