package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/optimist/internal/cache"
	"github.com/roach88/optimist/internal/collection"
	"github.com/roach88/optimist/internal/engine"
	"github.com/roach88/optimist/internal/entity"
	"github.com/roach88/optimist/internal/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	flags       configFlags
	Token       string
	MetricsAddr string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch a collection live",
		Long: `Open a store over the configured remote, fetch the collection, and
print every committed cache change until interrupted.

With a realtime transport configured, changes made by other clients
(for example "optimist todo add" against the same database and Redis)
appear as they are published.

Example:
  optimist run --db ./optimist.db
  optimist run --config optimist.yaml --metrics 127.0.0.1:9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStore(opts, cmd)
		},
	}

	opts.flags.register(cmd)
	cmd.Flags().StringVar(&opts.Token, "token", "cli", "auth token passed to the remote")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics", "", "serve Prometheus metrics on this address")

	return cmd
}

func runStore(opts *RunOptions, cmd *cobra.Command) error {
	b, err := opts.setup(cmd, &opts.flags)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := b.Close(); closeErr != nil {
			b.log.Error("error closing backend", "error", closeErr)
		}
	}()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			b.log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	addr := opts.MetricsAddr
	if addr == "" {
		addr = b.cfg.MetricsAddr
	}
	if addr != "" {
		_, stop, err := serveMetrics(addr, b.log)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start metrics server", err)
		}
		defer stop()
	}

	out := opts.formatter(cmd)
	switch b.cfg.Collection {
	case collection.PostName:
		s, err := b.openPosts()
		if err != nil {
			return err
		}
		return watch(ctx, s, opts.Token, out, b.log, postLine)
	default:
		s, err := b.openTodos()
		if err != nil {
			return err
		}
		return watch(ctx, s, opts.Token, out, b.log, todoLine)
	}
}

// watch enables s, prints its list, then prints every change until ctx ends.
func watch[W, U entity.Identifiable, I any](ctx context.Context, s *engine.Store[W, U, I], token string, out *OutputFormatter, log *slog.Logger, line func(U) string) error {
	defer s.Dispose()

	p := &changePrinter[U]{out: out, count: s.Count, line: line}
	unsubscribe := s.Subscribe(p.print)
	defer unsubscribe()

	log.Info("store starting", "collection", s.Name(), "client_id", s.ClientID())
	if err := s.Enable(ctx, token); err != nil {
		return WrapExitError(ExitFailure, "initial fetch failed", err)
	}

	if out.Format != "json" {
		fmt.Fprintf(out.Writer, "Watching %s (%d entities). Press Ctrl-C to stop.\n", s.Name(), s.Count())
		for _, u := range s.List() {
			fmt.Fprintf(out.Writer, "  %s\n", line(u))
		}
	}

	err := s.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "store error", err)
	}

	log.Info("store stopped gracefully")
	return nil
}

// changeLine is the JSON form of one committed change.
type changeLine struct {
	Ops   []opLine `json:"ops"`
	Count int      `json:"count"`
}

type opLine struct {
	Kind    string `json:"kind"`
	ID      string `json:"id,omitempty"`
	OldID   string `json:"old_id,omitempty"`
	Pending string `json:"pending,omitempty"`
	Gone    bool   `json:"gone,omitempty"`
}

type changePrinter[U entity.Identifiable] struct {
	out   *OutputFormatter
	count func() int
	line  func(U) string
}

func (p *changePrinter[U]) print(c cache.Change[U]) {
	cl := changeLine{Ops: make([]opLine, 0, len(c.Ops)), Count: p.count()}
	for _, op := range c.Ops {
		ol := opLine{Kind: string(op.Kind), ID: op.ID, OldID: op.OldID}
		if op.Kind != cache.OpReset {
			ol.Pending = op.Record.Pending.String()
			ol.Gone = op.Record.Gone
		}
		cl.Ops = append(cl.Ops, ol)
	}

	if p.out.Format == "json" {
		_ = json.NewEncoder(p.out.Writer).Encode(cl)
		return
	}

	for i, op := range c.Ops {
		switch op.Kind {
		case cache.OpReset:
			fmt.Fprintln(p.out.Writer, "reset")
		case cache.OpReplace:
			fmt.Fprintf(p.out.Writer, "replace %s -> %s\n", op.OldID, p.line(op.Record.Entity))
		case cache.OpRemove:
			fmt.Fprintf(p.out.Writer, "remove  %s\n", op.ID)
		default:
			fmt.Fprintf(p.out.Writer, "%-7s %s [%s]\n", op.Kind, p.line(op.Record.Entity), cl.Ops[i].Pending)
		}
	}
	fmt.Fprintf(p.out.Writer, "(%d visible)\n", cl.Count)
}

func todoLine(t collection.Todo) string {
	mark := " "
	if t.Completed {
		mark = "x"
	}
	return fmt.Sprintf("[%s] %s (%s)", mark, t.Title, t.ID)
}

func postLine(p collection.Post) string {
	return fmt.Sprintf("%s by %s (%s, %d min)", p.Title, p.Author, p.ID, p.ReadingMinutes)
}

// serveMetrics exposes the Prometheus registry on addr. It returns the bound
// address and a func that shuts the server down.
func serveMetrics(addr string, log *slog.Logger) (net.Addr, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	log.Info("serving metrics", "addr", ln.Addr().String())

	return ln.Addr(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
