package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/optimist/internal/collection"
	"github.com/roach88/optimist/internal/engine"
	"github.com/roach88/optimist/internal/entity"
	"github.com/roach88/optimist/internal/realtime"
	"github.com/roach88/optimist/internal/realtime/redisbus"
	"github.com/roach88/optimist/internal/remote"
	"github.com/roach88/optimist/internal/remote/memory"
	"github.com/roach88/optimist/internal/remote/sqlite"
	"github.com/roach88/optimist/internal/store"
)

// backend holds the connections a command opens from Config.
type backend struct {
	cfg *Config
	log *slog.Logger

	db  *store.Store     // nil for the memory remote
	bus realtime.Channel // nil when realtime is off

	closers []func() error
}

// openBackend connects to the remote store and realtime transport named by
// cfg. The caller must Close it.
func openBackend(cfg *Config, log *slog.Logger) (*backend, error) {
	b := &backend{cfg: cfg, log: log}

	if cfg.Remote.Kind == RemoteSQLite {
		log.Debug("opening database", "path", cfg.Remote.Path)
		st, err := store.Open(cfg.Remote.Path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		b.db = st
		b.closers = append(b.closers, st.Close)
	}

	switch cfg.Realtime.Kind {
	case RealtimeMemory:
		hub := realtime.NewHub()
		b.bus = hub
		b.closers = append(b.closers, hub.Close)
	case RealtimeRedis:
		log.Debug("connecting to redis", "url", cfg.Realtime.URL)
		bus, err := redisbus.New(cfg.Realtime.URL)
		if err != nil {
			b.Close()
			return nil, WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		if cfg.Realtime.Prefix != "" {
			bus = bus.WithPrefix(cfg.Realtime.Prefix)
		}
		b.bus = bus
		b.closers = append(b.closers, bus.Close)
	}

	return b, nil
}

// Close releases every connection in reverse order of opening.
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// source builds the remote for one collection: SQLite or memory, with
// latency metrics, publishing to the realtime transport when one is open.
func source[W entity.Identifiable, I any](b *backend, name string, newFunc remote.NewFunc[W, I], pub remote.PublishConfig) remote.Source[W, I] {
	var src remote.Source[W, I]
	if b.db != nil {
		src = sqlite.New(b.db, name, newFunc)
	} else {
		src = memory.New(newFunc)
	}
	src = remote.Instrument(name, src)

	if b.bus != nil {
		pub.Logger = b.log
		src = remote.WithRealtime(src, b.bus, pub)
	}
	return src
}

// configure applies the shared Config fields to a collection config.
func configure[W, U entity.Identifiable, I any](b *backend, c *engine.Config[W, U, I], rt *engine.RealtimeConfig[W]) []engine.Option {
	c.StaleTime = b.cfg.StaleTime
	c.Prune = b.cfg.Prune
	if b.bus != nil {
		c.Realtime = rt
	}
	return []engine.Option{
		engine.WithLogger(b.log),
		engine.WithClientID(b.cfg.ClientID),
	}
}

// openTodos builds a todo store over the backend.
func (b *backend) openTodos() (*engine.Store[collection.TodoWire, collection.Todo, collection.TodoInput], error) {
	src := source(b, collection.TodoName, collection.NewTodoWire, collection.TodoPublish())
	c := collection.TodoConfig(src, collection.TodoTransformer{})
	opts := configure(b, &c, collection.TodoRealtime(b.bus, b.cfg.ClientID))

	s, err := engine.New(c, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create todo store", err)
	}
	return s, nil
}

// openPosts builds a post store over the backend.
func (b *backend) openPosts() (*engine.Store[collection.PostWire, collection.Post, collection.PostInput], error) {
	src := source(b, collection.PostName, collection.NewPostWire, collection.PostPublish())
	c := collection.PostConfig(src)
	opts := configure(b, &c, collection.PostRealtime(b.bus, b.cfg.ClientID))

	s, err := engine.New(c, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create post store", err)
	}
	return s, nil
}

// requireDB returns an error unless the sqlite remote is configured.
func (b *backend) requireDB(command string) error {
	if b.db == nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s needs the sqlite remote (set remote.kind or --db)", command))
	}
	return nil
}
