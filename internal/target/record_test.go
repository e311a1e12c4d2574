package target

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestDecodeOptionalFieldsAbsent(t *testing.T) {
	rec, err := Decode([]byte(`{"game":1,"user":"alice","timestamp":1700000000000}`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if rec.Name != nil {
		t.Errorf("Name = %q, want absent", *rec.Name)
	}
	if rec.GUID != nil {
		t.Errorf("GUID = %q, want absent", *rec.GUID)
	}
	if rec.GameID != nil {
		t.Errorf("GameID = %q, want absent", *rec.GameID)
	}
	if rec.User != "alice" {
		t.Errorf("User = %q, want alice", rec.User)
	}
	if rec.Game != 1 {
		t.Errorf("Game = %d, want 1", rec.Game)
	}
	if ms, ok := rec.Timestamp.Uint64(); !ok || ms != 1700000000000 {
		t.Errorf("Timestamp = %s, want 1700000000000", rec.Timestamp)
	}
}

func TestDecodeFullyPopulated(t *testing.T) {
	rec, err := Decode([]byte(`{"name":"srv1","game":5,"guid":"g-1","gameId":"bf4-2","user":"bob","timestamp":1}`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	want := Record{
		Name:      strPtr("srv1"),
		Game:      5,
		GUID:      strPtr("g-1"),
		GameID:    strPtr("bf4-2"),
		User:      "bob",
		Timestamp: NewTimestamp(1),
	}
	if !rec.Equal(want) {
		t.Errorf("Decode() = %+v, want %+v", rec, want)
	}
}

func TestDecodeNullOptionalIsAbsent(t *testing.T) {
	rec, err := Decode([]byte(`{"name":null,"game":0,"guid":null,"gameId":null,"user":"","timestamp":0}`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if rec.Name != nil || rec.GUID != nil || rec.GameID != nil {
		t.Errorf("null optionals should decode as absent, got %+v", rec)
	}
}

func TestDecodeEmptyOptionalIsPresent(t *testing.T) {
	rec, err := Decode([]byte(`{"name":"","game":1,"user":"u","timestamp":2}`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if rec.Name == nil || *rec.Name != "" {
		t.Errorf("Name = %v, want present empty string", rec.Name)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"missing user", `{"game":1,"timestamp":1}`, ErrMissingUser},
		{"null user", `{"game":1,"user":null,"timestamp":1}`, ErrMissingUser},
		{"missing game", `{"user":"a","timestamp":1}`, ErrMissingGame},
		{"missing timestamp", `{"game":1,"user":"a"}`, ErrMissingTimestamp},
		{"negative timestamp", `{"game":1,"user":"a","timestamp":-1}`, ErrTimestampRange},
		{"timestamp too wide", `{"game":1,"user":"a","timestamp":340282366920938463463374607431768211456}`, ErrTimestampRange},
		{"game overflow", `{"game":300,"user":"a","timestamp":1}`, nil},
		{"game wrong type", `{"game":"bf4","user":"a","timestamp":1}`, nil},
		{"fractional timestamp", `{"game":1,"user":"a","timestamp":1.5}`, nil},
		{"quoted timestamp", `{"game":1,"user":"a","timestamp":"1"}`, nil},
		{"user wrong type", `{"game":1,"user":7,"timestamp":1}`, nil},
		{"upper-case keys", `{"GAME":1,"USER":"mallory","TimeStamp":7}`, ErrMissingUser},
		{"upper-case user only", `{"game":1,"User":"mallory","timestamp":7}`, ErrMissingUser},
		{"upper-case game", `{"GAME":1,"user":"a","timestamp":7}`, ErrMissingGame},
		{"mixed-case timestamp", `{"game":1,"user":"a","TimeStamp":7}`, ErrMissingTimestamp},
		{"null payload", `null`, nil},
		{"not an object", `[1,2,3]`, nil},
		{"malformed", `{"game":`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			if err == nil {
				t.Fatalf("Decode(%s) succeeded, want error", tt.payload)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode(%s) error = %v, want %v", tt.payload, err, tt.wantErr)
			}
		})
	}
}

func TestDecodeMaxTimestamp(t *testing.T) {
	const max = "340282366920938463463374607431768211455" // 2^128 - 1
	rec, err := Decode([]byte(`{"game":-128,"user":"a","timestamp":` + max + `}`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if rec.Timestamp.String() != max {
		t.Errorf("Timestamp = %s, want %s", rec.Timestamp, max)
	}
	if rec.Game != -128 {
		t.Errorf("Game = %d, want -128", rec.Game)
	}
	if _, ok := rec.Timestamp.Uint64(); ok {
		t.Error("Uint64() ok = true for a 128-bit value")
	}
}

func TestRoundTripOptionalCombinations(t *testing.T) {
	big128, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	ts, err := ParseTimestamp(big128.String())
	if err != nil {
		t.Fatal(err)
	}

	for mask := 0; mask < 8; mask++ {
		rec := Record{Game: 4, User: "carol", Timestamp: ts}
		if mask&1 != 0 {
			rec.Name = strPtr("server")
		}
		if mask&2 != 0 {
			rec.GUID = strPtr("guid-9")
		}
		if mask&4 != 0 {
			rec.GameID = strPtr("")
		}

		data, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("mask %d: Marshal() error: %v", mask, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("mask %d: Decode(%s) error: %v", mask, data, err)
		}
		if !got.Equal(rec) {
			t.Errorf("mask %d: round trip = %+v, want %+v (wire %s)", mask, got, rec, data)
		}
	}
}

func TestMarshalOmitsAbsentFields(t *testing.T) {
	data, err := json.Marshal(Record{Game: 1, User: "alice", Timestamp: NewTimestamp(1700000000000)})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"game":1,"user":"alice","timestamp":1700000000000}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

func TestTimestampTime(t *testing.T) {
	ts := NewTimestamp(1700000000000)
	got, ok := ts.Time()
	if !ok {
		t.Fatal("Time() ok = false")
	}
	if got.Unix() != 1700000000 {
		t.Errorf("Time().Unix() = %d, want 1700000000", got.Unix())
	}

	var zero Timestamp
	if zero.String() != "0" {
		t.Errorf("zero Timestamp = %s, want 0", zero)
	}
	if !zero.Equal(NewTimestamp(0)) {
		t.Error("zero Timestamp should equal NewTimestamp(0)")
	}
}

func TestDecodeIgnoresMiscasedOptionalKeys(t *testing.T) {
	rec, err := Decode([]byte(`{"game":1,"user":"a","timestamp":1,"gameid":"x","Name":"y","GUID":"z"}`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if rec.GameID != nil || rec.Name != nil || rec.GUID != nil {
		t.Errorf("mis-cased keys populated optional fields: %+v", rec)
	}
}
