package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// SignalValue is either a 0-100 reading or a classification label.
type SignalValue interface {
	Numeric() (float64, bool)
	Label() (string, bool)
}

type NumericValue float64

func (v NumericValue) Numeric() (float64, bool) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func (v NumericValue) Label() (string, bool) { return "", false }

type LabelValue string

func (v LabelValue) Numeric() (float64, bool) { return 0, false }

func (v LabelValue) Label() (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(string(v)))
	return s, s != ""
}

// Signal is one source's reading about one ticker. Never mutated after creation.
type Signal struct {
	SourceID string      `json:"source_id"`
	Ticker   string      `json:"ticker"`
	Group    Group       `json:"group,omitempty"`
	Value    SignalValue `json:"-"`
	AsOf     time.Time   `json:"as_of"`
}

type signalJSON struct {
	SourceID string          `json:"source_id"`
	Ticker   string          `json:"ticker"`
	Group    Group           `json:"group,omitempty"`
	Value    json.RawMessage `json:"value"`
	AsOf     time.Time       `json:"as_of"`
}

func (s Signal) MarshalJSON() ([]byte, error) {
	out := signalJSON{SourceID: s.SourceID, Ticker: s.Ticker, Group: s.Group, AsOf: s.AsOf}
	var raw []byte
	var err error
	switch {
	case s.Value == nil:
		raw = []byte("null")
	default:
		if f, ok := s.Value.Numeric(); ok {
			raw, err = json.Marshal(f)
		} else if l, ok := s.Value.Label(); ok {
			raw, err = json.Marshal(l)
		} else {
			raw = []byte("null")
		}
	}
	if err != nil {
		return nil, err
	}
	out.Value = raw
	return json.Marshal(out)
}

// UnmarshalJSON maps a JSON number to NumericValue and a JSON string to LabelValue.
// Any other shape leaves Value nil, which the pipeline treats as missing.
func (s *Signal) UnmarshalJSON(data []byte) error {
	var in signalJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode signal: %w", err)
	}
	s.SourceID = in.SourceID
	s.Ticker = in.Ticker
	s.Group = Group(strings.ToLower(strings.TrimSpace(string(in.Group))))
	s.AsOf = in.AsOf
	s.Value = nil

	raw := strings.TrimSpace(string(in.Value))
	if raw == "" || raw == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(in.Value, &f); err == nil {
		s.Value = NumericValue(f)
		return nil
	}
	var l string
	if err := json.Unmarshal(in.Value, &l); err == nil {
		s.Value = LabelValue(l)
	}
	return nil
}

// SignalSet is an immutable snapshot of signals keyed by source id.
type SignalSet map[string]Signal

// Clone returns an independent copy of the set.
func (s SignalSet) Clone() SignalSet {
	out := make(SignalSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SourceIDs returns the ids present in the set.
func (s SignalSet) SourceIDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}
