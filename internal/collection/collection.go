// Package collection defines the concrete collections built on the generic
// store: todos and posts. Each collection provides its wire and UI types,
// a transformer, an input schema and constructors for engine and realtime
// configuration.
package collection

import (
	"embed"

	"github.com/roach88/optimist/internal/validate"
)

//go:embed schema/*.cue
var schemas embed.FS

func mustSchema(file, def string) *validate.Schema {
	src, err := schemas.ReadFile("schema/" + file)
	if err != nil {
		panic(err)
	}
	return validate.MustCompile(file, string(src), def)
}

// formatBool renders a bool the way legacy backends store it.
func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// parseBool accepts "true", "1", "yes" (any case). Anything else is false.
func parseBool(s string) bool {
	switch s {
	case "true", "TRUE", "True", "1", "yes", "YES", "Yes":
		return true
	}
	return false
}
