package parse

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMissing is returned for an absent or null field.
	ErrMissing = errors.New("field is missing")
	// ErrNotNumber is returned when a field cannot be read as a finite number.
	ErrNotNumber = errors.New("field is not a number")
)

var null = []byte("null")

// Present reports whether raw carries a non-null JSON value.
func Present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, null)
}

// Number reads a finite number that may have been sent either as a JSON
// number or as a numeric string ("42", " 42.5 "). Booleans, objects and
// blank strings are rejected.
func Number(raw json.RawMessage) (float64, error) {
	if !Present(raw) {
		return 0, ErrMissing
	}

	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0, ErrNotNumber
	}

	var text string
	switch t := v.(type) {
	case json.Number:
		text = t.String()
	case string:
		text = strings.TrimSpace(t)
	default:
		return 0, ErrNotNumber
	}
	if text == "" {
		return 0, ErrNotNumber
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrNotNumber
	}
	return f, nil
}

// Text reads a field as a trimmed string. Numbers are rendered the way the
// device most likely wrote them: integer literals verbatim, everything else
// in shortest decimal form. Absent, null and non-scalar values yield "".
func Text(raw json.RawMessage) string {
	if !Present(raw) {
		return ""
	}

	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return ""
	}

	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		if _, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return t.String()
		}
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
