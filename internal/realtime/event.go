package realtime

import (
	"fmt"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"

	"github.com/roach88/optimist/internal/entity"
)

// Kind is the change an event reports.
type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

// Valid reports whether k is one of the three known kinds.
func (k Kind) Valid() bool {
	return k == KindInsert || k == KindUpdate || k == KindDelete
}

// Envelope keys with fixed meaning. Every other top-level key is kept in
// Event.Fields for the data extractor.
const (
	keyType    = "type"
	keyEvent   = "event"
	keyOrigin  = "originClientId"
	keyVersion = "version"
)

// Event is a decoded realtime frame.
//
// Wire shape:
//
//	{"type": "todos", "event": "UPDATE", "todo": {...}, "originClientId": "c-1", "version": 7}
type Event struct {
	Type    string
	Kind    Kind
	Origin  string

	// Version orders the event against local writes. It must come from the
	// same logical clock that stamps the receiving cache (see cache.Clock),
	// not from a server revision counter; an UPDATE whose Version is below a
	// settled record's is stale. Zero stamps the event with the receiver's
	// current clock value.
	Version int64
	Fields  map[string]json.RawMessage
}

// PeekType reads the "type" member without decoding the rest of the frame.
func PeekType(frame []byte) (string, error) {
	typ, err := jsonparser.GetString(frame, keyType)
	if err != nil {
		return "", fmt.Errorf("realtime: read type: %w", err)
	}
	return typ, nil
}

// Decode parses a frame into an Event.
func Decode(frame []byte) (Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Event{}, fmt.Errorf("realtime: decode frame: %w", err)
	}

	var ev Event
	if err := decodeMember(raw, keyType, &ev.Type); err != nil {
		return Event{}, err
	}
	var kind string
	if err := decodeMember(raw, keyEvent, &kind); err != nil {
		return Event{}, err
	}
	ev.Kind = Kind(kind)
	if err := decodeMember(raw, keyOrigin, &ev.Origin); err != nil {
		return Event{}, err
	}
	if err := decodeMember(raw, keyVersion, &ev.Version); err != nil {
		return Event{}, err
	}

	for _, k := range []string{keyType, keyEvent, keyOrigin, keyVersion} {
		delete(raw, k)
	}
	ev.Fields = raw
	return ev, nil
}

func decodeMember(raw map[string]json.RawMessage, key string, dst any) error {
	v, ok := raw[key]
	if !ok || string(v) == "null" {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("realtime: decode %q: %w", key, err)
	}
	return nil
}

// Encode renders ev as a frame.
func Encode(ev Event) ([]byte, error) {
	out := make(map[string]any, len(ev.Fields)+4)
	for k, v := range ev.Fields {
		out[k] = v
	}
	out[keyType] = ev.Type
	out[keyEvent] = string(ev.Kind)
	if ev.Origin != "" {
		out[keyOrigin] = ev.Origin
	}
	if ev.Version != 0 {
		out[keyVersion] = ev.Version
	}

	frame, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("realtime: encode frame: %w", err)
	}
	return frame, nil
}

// NewEvent builds an event carrying payload under key.
func NewEvent(typ string, kind Kind, key string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("realtime: encode %q: %w", key, err)
	}
	return Event{
		Type:   typ,
		Kind:   kind,
		Fields: map[string]json.RawMessage{key: data},
	}, nil
}

// ExtractField returns a data extractor that decodes the member named key.
func ExtractField[W entity.Identifiable](key string) func(Event) (W, error) {
	return func(ev Event) (W, error) {
		var w W
		data, ok := ev.Fields[key]
		if !ok {
			return w, fmt.Errorf("realtime: event has no %q member", key)
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return w, fmt.Errorf("realtime: decode %q: %w", key, err)
		}
		return w, nil
	}
}
