package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
)

// Parse reads a parameter string in one of two forms:
//
//	{"lr": 0.01, "epochs": 100}   JSON object, key order preserved
//	lr=0.01,epochs=100            comma-separated pairs, values coerced by Coerce
//
// An empty string yields no parameters.
func Parse(s string) (Params, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Params{}, nil
	}

	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		p, err := parseJSON(s)
		if err != nil {
			return nil, apperror.ValidationFailed("params", fmt.Sprintf("invalid JSON format: %v", err))
		}
		return p, nil
	}

	var p Params
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, apperror.ValidationFailed("params",
				fmt.Sprintf("invalid parameter format: %q, expected 'key=value' or JSON", pair))
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, apperror.ValidationFailed("params", fmt.Sprintf("missing name in %q", pair))
		}
		p.Set(key, Coerce(strings.TrimSpace(value)))
	}
	return p, nil
}

// Coerce converts a bare value to the narrowest matching type: nil for
// none/null, bool, int64, float64, or a string with surrounding quotes removed.
func Coerce(value string) any {
	switch strings.ToLower(value) {
	case "none", "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}

	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}

	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// parseJSON decodes a JSON object token by token so key order survives.
func parseJSON(s string) (Params, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected an object")
	}

	var p Params
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string key, got %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		value, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("value of %q: %w", key, err)
		}
		p.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after object")
	}
	return p, nil
}

// decodeValue maps JSON numbers onto int64 when integral and float64
// otherwise. Objects and arrays are returned as decoded and later rejected by
// Inject.
func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	n, ok := v.(json.Number)
	if !ok {
		return v, nil
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, err
	}
	return f, nil
}
