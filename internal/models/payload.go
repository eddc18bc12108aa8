package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Payload carries task input and output. Every value is addressed by a
// stable key so later plan steps can bind to it.
type Payload map[string]any

// Clone returns a shallow copy.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into p, overwriting existing keys.
func (p Payload) Merge(other Payload) {
	for k, v := range other {
		p[k] = v
	}
}

// Has reports whether key is present.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Decode converts the payload into a typed struct through its JSON form.
func (p Payload) Decode(v any) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// PayloadFrom converts a typed struct into a Payload through its JSON form.
func PayloadFrom(v any) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return p, nil
}

// GetString returns the value at key when it is a string.
func (p Payload) GetString(key string) string {
	s, _ := p[key].(string)
	return s
}

// GetInt returns the value at key as an integer. JSON numbers and numeric
// strings are accepted.
func (p Payload) GetInt(key string) (int64, bool) {
	switch v := p[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// GetStrings returns the value at key as a string slice. A single string
// becomes a one element slice; non-string elements are skipped.
func (p Payload) GetStrings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
