// Package place defines the suggestion record shared by the geocoder, cache,
// scoring and HTTP layers.
package place

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Field names used on the wire.
const (
	FieldPlaceID     = "osm_id"
	FieldDisplayName = "display_name"
	FieldImportance  = "importance"
	FieldType        = "type"
	FieldScore       = "custom_autocomplete_score"
)

// Suggestion is one geocoder candidate.
//
// The interpreted fields are typed; everything else the geocoder returned is
// kept verbatim in Extra and written back out at the top level.
type Suggestion struct {
	PlaceID     string
	DisplayName string
	Importance  float64
	Type        string
	Score       float64
	Extra       map[string]json.RawMessage
}

// Clone returns a copy that does not share the Extra map.
func (s Suggestion) Clone() Suggestion {
	if s.Extra != nil {
		extra := make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			extra[k] = v
		}
		s.Extra = extra
	}
	return s
}

// MarshalJSON writes the suggestion as a flat object.
func (s Suggestion) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+5)
	for k, v := range s.Extra {
		out[k] = v
	}
	out[FieldPlaceID] = s.PlaceID
	out[FieldDisplayName] = s.DisplayName
	out[FieldImportance] = s.Importance
	out[FieldType] = s.Type
	out[FieldScore] = s.Score
	return json.Marshal(out)
}

// UnmarshalJSON reads a flat geocoder object. osm_id may be a number or a
// string and is normalized to its decimal string form.
func (s *Suggestion) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("suggestion must be a JSON object")
	}

	var out Suggestion
	var err error

	if v, ok := raw[FieldPlaceID]; ok {
		if out.PlaceID, err = NormalizeID(v); err != nil {
			return fmt.Errorf("%s: %w", FieldPlaceID, err)
		}
		delete(raw, FieldPlaceID)
	}
	if v, ok := raw[FieldDisplayName]; ok {
		if err := decodeOptional(v, &out.DisplayName); err != nil {
			return fmt.Errorf("%s: %w", FieldDisplayName, err)
		}
		delete(raw, FieldDisplayName)
	}
	if v, ok := raw[FieldImportance]; ok {
		if out.Importance, err = decodeFloat(v); err != nil {
			return fmt.Errorf("%s: %w", FieldImportance, err)
		}
		delete(raw, FieldImportance)
	}
	if v, ok := raw[FieldType]; ok {
		if err := decodeOptional(v, &out.Type); err != nil {
			return fmt.Errorf("%s: %w", FieldType, err)
		}
		delete(raw, FieldType)
	}
	if v, ok := raw[FieldScore]; ok {
		if out.Score, err = decodeFloat(v); err != nil {
			return fmt.Errorf("%s: %w", FieldScore, err)
		}
		delete(raw, FieldScore)
	}

	if len(raw) > 0 {
		out.Extra = raw
	}
	*s = out
	return nil
}

// NormalizeID converts a JSON number or string to the decimal string form
// used as the place key everywhere. Integral numbers in exponent or
// fractional notation (1.5e10, 42.0) collapse to their plain digits.
func NormalizeID(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", nil
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", fmt.Errorf("expected number or string")
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	f, _, err := big.ParseFloat(n.String(), 10, 256, big.ToNearestEven)
	if err == nil && f.IsInt() {
		return f.Text('f', 0), nil
	}
	return n.String(), nil
}

func decodeOptional(v json.RawMessage, dst *string) error {
	if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil
	}
	return json.Unmarshal(v, dst)
}

// decodeFloat accepts a number or a numeric string. Some geocoder builds
// emit importance as a string.
func decodeFloat(v json.RawMessage) (float64, error) {
	v = bytes.TrimSpace(v)
	if bytes.Equal(v, []byte("null")) {
		return 0, nil
	}
	if len(v) > 0 && v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, err
		}
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	err := json.Unmarshal(v, &f)
	return f, err
}
