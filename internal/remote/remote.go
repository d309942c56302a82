// Package remote defines the boundary between the engine and the
// authoritative store of a collection.
//
// A Source is chosen at construction time. The memory package serves tests
// and offline mode; the sqlite package serves durable local deployments.
// Decorators add metrics (Instrument) and change publication (WithRealtime)
// around any Source.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/optimist/internal/entity"
)

// ErrNotFound is returned by sources for operations on unknown ids.
var ErrNotFound = errors.New("remote: not found")

// Source is the remote store of one collection.
type Source[W entity.Identifiable, I any] interface {
	// List returns the full collection in source order.
	List(ctx context.Context) ([]W, error)

	// Create stores a new entity built from input and returns it with its
	// server-assigned id.
	Create(ctx context.Context, input I) (W, error)

	// Update replaces the entity id with data and returns the stored result.
	Update(ctx context.Context, id string, data W) (W, error)

	// Remove deletes id and returns the removed id.
	Remove(ctx context.Context, id string) (string, error)
}

// NewFunc builds the entity a source stores for a create, given the id the
// source assigned.
type NewFunc[W entity.Identifiable, I any] func(id string, input I, now time.Time) W

// Funcs adapts four functions to a Source.
type Funcs[W entity.Identifiable, I any] struct {
	ListFunc   func(ctx context.Context) ([]W, error)
	CreateFunc func(ctx context.Context, input I) (W, error)
	UpdateFunc func(ctx context.Context, id string, data W) (W, error)
	RemoveFunc func(ctx context.Context, id string) (string, error)
}

func (f Funcs[W, I]) List(ctx context.Context) ([]W, error) { return f.ListFunc(ctx) }

func (f Funcs[W, I]) Create(ctx context.Context, input I) (W, error) {
	return f.CreateFunc(ctx, input)
}

func (f Funcs[W, I]) Update(ctx context.Context, id string, data W) (W, error) {
	return f.UpdateFunc(ctx, id, data)
}

func (f Funcs[W, I]) Remove(ctx context.Context, id string) (string, error) {
	return f.RemoveFunc(ctx, id)
}

type ctxKey int

const (
	clientIDKey ctxKey = iota
	tokenKey
)

// WithClientID tags ctx with the id of the client issuing a mutation.
// Transports use it to mark the realtime notifications the mutation causes.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientIDFrom returns the client id set by WithClientID, or "".
func ClientIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}

// WithToken attaches the caller's auth token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFrom returns the token set by WithToken, or "".
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}
