// Package jsonutil decodes loosely typed JSON produced by language models.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a raw JSON value to a string, accepting
// numbers and booleans where a string was asked for. Returns "" for null.
func FlexibleStringValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}

	return string(raw)
}

// Float is a float64 that also decodes from a numeric string such as "0.85".
type Float float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(data []byte) error {
	v, err := parseNumber(data)
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Int is an int that also decodes from numeric strings and integral floats
// such as "3" or 3.0. Fractional values are rejected.
type Int int

// UnmarshalJSON implements json.Unmarshaler.
func (i *Int) UnmarshalJSON(data []byte) error {
	v, err := parseNumber(data)
	if err != nil {
		return err
	}
	if v != math.Trunc(v) {
		return fmt.Errorf("jsonutil: %s is not an integer", data)
	}
	*i = Int(v)
	return nil
}

// IntList decodes an array of Int, or a single Int as a one-element list.
type IntList []int

// UnmarshalJSON implements json.Unmarshaler.
func (l *IntList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*l = nil
		return nil
	}

	if len(data) > 0 && data[0] != '[' {
		var one Int
		if err := one.UnmarshalJSON(data); err != nil {
			return err
		}
		*l = IntList{int(one)}
		return nil
	}

	var items []Int
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(IntList, len(items))
	for i, v := range items {
		out[i] = int(v)
	}
	*l = out
	return nil
}

func parseNumber(data []byte) (float64, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return 0, fmt.Errorf("jsonutil: missing number")
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("jsonutil: %q is not a number", s)
		}
		return v, nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("jsonutil: %s is not a number", data)
	}
	return v, nil
}
