// Package target decodes the "newTarget" assignment records pushed by the
// control server.
package target

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrMissingUser      = errors.New("target: missing required field \"user\"")
	ErrMissingGame      = errors.New("target: missing required field \"game\"")
	ErrMissingTimestamp = errors.New("target: missing required field \"timestamp\"")
)

// Record is one decoded target assignment. Optional fields are nil when
// the server omitted them (or sent null); they are never defaulted.
type Record struct {
	Name      *string
	Game      int8
	GUID      *string
	GameID    *string
	User      string
	Timestamp Timestamp
}

// wireRecord is the encoding form. Decode does not use it: encoding/json
// matches keys case-insensitively and the schema's names are exact.
type wireRecord struct {
	Name      *string    `json:"name,omitempty"`
	Game      *int8      `json:"game"`
	GUID      *string    `json:"guid,omitempty"`
	GameID    *string    `json:"gameId,omitempty"`
	User      *string    `json:"user"`
	Timestamp *Timestamp `json:"timestamp"`
}

// Decode parses a JSON text payload into a Record. Keys must match the
// schema exactly; differently cased keys are ignored like any unknown key.
func Decode(data []byte) (Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Record{}, fmt.Errorf("decode target: %w", err)
	}
	if fields == nil {
		return Record{}, fmt.Errorf("decode target: payload is null")
	}

	var w wireRecord
	for _, f := range []struct {
		key string
		dst any
	}{
		{"name", &w.Name},
		{"game", &w.Game},
		{"guid", &w.GUID},
		{"gameId", &w.GameID},
		{"user", &w.User},
		{"timestamp", &w.Timestamp},
	} {
		raw, ok := fields[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return Record{}, fmt.Errorf("decode target field %q: %w", f.key, err)
		}
	}

	switch {
	case w.User == nil:
		return Record{}, ErrMissingUser
	case w.Game == nil:
		return Record{}, ErrMissingGame
	case w.Timestamp == nil:
		return Record{}, ErrMissingTimestamp
	}
	return Record{
		Name:      w.Name,
		Game:      *w.Game,
		GUID:      w.GUID,
		GameID:    w.GameID,
		User:      *w.User,
		Timestamp: *w.Timestamp,
	}, nil
}

// MarshalJSON encodes the record in wire form, omitting absent fields.
func (r Record) MarshalJSON() ([]byte, error) {
	game, user, ts := r.Game, r.User, r.Timestamp
	return json.Marshal(wireRecord{
		Name:      r.Name,
		Game:      &game,
		GUID:      r.GUID,
		GameID:    r.GameID,
		User:      &user,
		Timestamp: &ts,
	})
}

// Equal compares two records field by field.
func (r Record) Equal(other Record) bool {
	return optionalEqual(r.Name, other.Name) &&
		r.Game == other.Game &&
		optionalEqual(r.GUID, other.GUID) &&
		optionalEqual(r.GameID, other.GameID) &&
		r.User == other.User &&
		r.Timestamp.Equal(other.Timestamp)
}

// LogValue renders the record as a group; absent fields are logged as
// <none> so they stay distinguishable from empty strings.
func (r Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", optionalString(r.Name)),
		slog.Int("game", int(r.Game)),
		slog.String("guid", optionalString(r.GUID)),
		slog.String("gameId", optionalString(r.GameID)),
		slog.String("user", r.User),
		slog.String("timestamp", r.Timestamp.String()),
	)
}

func optionalEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func optionalString(s *string) string {
	if s == nil {
		return "<none>"
	}
	return *s
}
