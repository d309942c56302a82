// Package transform defines the contract between wire entities (what the
// remote source returns) and UI entities (what the cache holds).
package transform

import (
	"fmt"
	"time"

	"github.com/roach88/optimist/internal/entity"
)

// OptimisticContext is what the optimistic factory needs to synthesize a
// complete UI entity without I/O.
type OptimisticContext struct {
	// TempID is the identifier the synthesized entity must carry.
	TempID string

	// ClientID identifies the local client.
	ClientID string

	// Now is the creation instant.
	Now time.Time
}

// Transformer maps between wire entities W and UI entities U and builds
// optimistic UI entities from create input I.
//
// ToUI must be total for any well-formed wire entity. Optimistic must not
// block or perform I/O.
type Transformer[W, U entity.Identifiable, I any] interface {
	ToUI(w W) U
	ToAPI(u U) W
	Optimistic(input I, ctx OptimisticContext) U
}

// Funcs adapts three functions to a Transformer.
type Funcs[W, U entity.Identifiable, I any] struct {
	ToUIFunc       func(W) U
	ToAPIFunc      func(U) W
	OptimisticFunc func(I, OptimisticContext) U
}

func (f Funcs[W, U, I]) ToUI(w W) U { return f.ToUIFunc(w) }

func (f Funcs[W, U, I]) ToAPI(u U) W { return f.ToAPIFunc(u) }

func (f Funcs[W, U, I]) Optimistic(input I, ctx OptimisticContext) U {
	return f.OptimisticFunc(input, ctx)
}

// SafeToUI converts w, turning a transformer panic or a missing identifier
// into an error so the caller can drop the record and log.
func SafeToUI[W, U entity.Identifiable, I any](t Transformer[W, U, I], w W) (u U, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform: ToUI panicked: %v", r)
		}
	}()

	if w.GetID() == "" {
		return u, fmt.Errorf("transform: wire entity has no id")
	}
	u = t.ToUI(w)
	if u.GetID() != w.GetID() {
		return u, fmt.Errorf("transform: ToUI changed id %q to %q", w.GetID(), u.GetID())
	}
	return u, nil
}

// SafeOptimistic builds the optimistic entity and checks it carries ctx.TempID.
func SafeOptimistic[W, U entity.Identifiable, I any](t Transformer[W, U, I], input I, ctx OptimisticContext) (u U, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform: Optimistic panicked: %v", r)
		}
	}()

	u = t.Optimistic(input, ctx)
	if u.GetID() != ctx.TempID {
		return u, fmt.Errorf("transform: optimistic entity id %q, want %q", u.GetID(), ctx.TempID)
	}
	return u, nil
}
