package transform

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wire struct {
	ID    string
	Title string
}

func (w wire) GetID() string { return w.ID }

type ui struct {
	ID    string
	Title string
	Upper string
}

func (u ui) GetID() string { return u.ID }

func newFuncs() Funcs[wire, ui, string] {
	return Funcs[wire, ui, string]{
		ToUIFunc: func(w wire) ui {
			if w.Title == "panic" {
				panic("bad title")
			}
			return ui{ID: w.ID, Title: w.Title, Upper: strings.ToUpper(w.Title)}
		},
		ToAPIFunc: func(u ui) wire { return wire{ID: u.ID, Title: u.Title} },
		OptimisticFunc: func(title string, ctx OptimisticContext) ui {
			return ui{ID: ctx.TempID, Title: title, Upper: strings.ToUpper(title)}
		},
	}
}

func TestFuncs_RoundTrip(t *testing.T) {
	tr := newFuncs()
	u := tr.ToUI(wire{ID: "1", Title: "hi"})
	assert.Equal(t, ui{ID: "1", Title: "hi", Upper: "HI"}, u)
	assert.Equal(t, wire{ID: "1", Title: "hi"}, tr.ToAPI(u))
}

func TestSafeToUI(t *testing.T) {
	tr := newFuncs()

	u, err := SafeToUI[wire, ui, string](tr, wire{ID: "1", Title: "ok"})
	require.NoError(t, err)
	assert.Equal(t, "OK", u.Upper)

	_, err = SafeToUI[wire, ui, string](tr, wire{Title: "no id"})
	assert.ErrorContains(t, err, "no id")

	_, err = SafeToUI[wire, ui, string](tr, wire{ID: "2", Title: "panic"})
	assert.ErrorContains(t, err, "panicked")
}

func TestSafeOptimistic(t *testing.T) {
	tr := newFuncs()
	ctx := OptimisticContext{TempID: "temp-1-00000000", Now: time.Now()}

	u, err := SafeOptimistic[wire, ui, string](tr, "draft", ctx)
	require.NoError(t, err)
	assert.Equal(t, "temp-1-00000000", u.ID)

	bad := tr
	bad.OptimisticFunc = func(title string, _ OptimisticContext) ui { return ui{ID: "wrong"} }
	_, err = SafeOptimistic[wire, ui, string](bad, "draft", ctx)
	assert.Error(t, err)
}
