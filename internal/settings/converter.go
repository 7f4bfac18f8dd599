// Package settings is the runtime key/value store for the bridge. Keys
// are declared in a fixed schema, each bound to one converter from a
// closed set; values are cached in memory in their storage form and
// flushed to SQLite on Update. Malformed stored values are purged and
// replaced by the key's default rather than surfaced to callers.
package settings

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// InvalidValueError reports operator input rejected by a converter.
type InvalidValueError struct {
	Key    string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("settings: invalid value for %q: %s", e.Key, e.Reason)
}

// Converter validates operator input into storage form and decodes
// storage form into a typed value. The implementation set is closed:
// every key's converter is one of the variants in this file.
type Converter interface {
	// Sanitize validates an operator-supplied value and returns the
	// form persisted to storage.
	Sanitize(raw string) (string, error)

	// Decode converts a stored value to its typed form. ok is false
	// when the stored value is malformed; callers purge the key and
	// fall back to the default.
	Decode(stored string) (value any, ok bool)

	sealed()
}

// StringConv stores free-form text.
type StringConv struct{}

func (StringConv) Sanitize(raw string) (string, error) { return raw, nil }
func (StringConv) Decode(stored string) (any, bool)    { return stored, true }
func (StringConv) sealed()                             {}

// IntConv stores a decimal integer.
type IntConv struct{}

func (IntConv) Sanitize(raw string) (string, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return "", fmt.Errorf("not a valid integer")
	}
	return strconv.FormatInt(n, 10), nil
}

func (IntConv) Decode(stored string) (any, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(stored), 10, 64)
	if err != nil {
		return int64(0), false
	}
	return n, true
}

func (IntConv) sealed() {}

// BoolConv stores a yes/no choice as "0" or "1".
type BoolConv struct{}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "y", "yes", "t", "true", "on", "enable", "enabled":
		return true, nil
	case "0", "n", "no", "f", "false", "off", "disable", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("not a valid yes/no value")
}

func (BoolConv) Sanitize(raw string) (string, error) {
	b, err := parseBool(raw)
	if err != nil {
		return "", err
	}
	if b {
		return "1", nil
	}
	return "0", nil
}

func (BoolConv) Decode(stored string) (any, bool) {
	b, err := parseBool(stored)
	if err != nil {
		return false, false
	}
	return b, true
}

func (BoolConv) sealed() {}

// ColorConv stores a hex color as "#rrggbb".
type ColorConv struct{}

func (ColorConv) Sanitize(raw string) (string, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(hex) == 3 {
		var b strings.Builder
		for _, r := range hex {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		hex = b.String()
	}
	if len(hex) != 6 {
		return "", fmt.Errorf("not a valid hex color")
	}
	if _, err := strconv.ParseUint(hex, 16, 32); err != nil {
		return "", fmt.Errorf("not a valid hex color")
	}
	return "#" + strings.ToLower(hex), nil
}

func (ColorConv) Decode(stored string) (any, bool) {
	hex := strings.TrimPrefix(strings.TrimSpace(stored), "#")
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil || len(hex) != 6 {
		return 0, false
	}
	return int(n), true
}

func (ColorConv) sealed() {}

// DurationConv stores an ISO-8601 duration string.
type DurationConv struct{}

func (DurationConv) Sanitize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if _, err := ParseISODuration(raw); err != nil {
		return "", fmt.Errorf("not a valid ISO-8601 duration")
	}
	return raw, nil
}

func (DurationConv) Decode(stored string) (any, bool) {
	d, err := ParseISODuration(strings.TrimSpace(stored))
	if err != nil {
		return time.Duration(0), false
	}
	return d, true
}

func (DurationConv) sealed() {}

// EmojiConv stores an emoji, either a literal glyph or a :name: form
// with the colons stripped. Validation against the service's custom
// emoji set is the transport's concern, not ours.
type EmojiConv struct{}

func (EmojiConv) Sanitize(raw string) (string, error) {
	raw = strings.Trim(strings.TrimSpace(raw), ":")
	if raw == "" {
		return "", fmt.Errorf("not a valid emoji")
	}
	return raw, nil
}

func (EmojiConv) Decode(stored string) (any, bool) {
	if strings.TrimSpace(stored) == "" {
		return "", false
	}
	return stored, true
}

func (EmojiConv) sealed() {}

// ListConv stores a JSON array of strings.
type ListConv struct{}

func (ListConv) Sanitize(raw string) (string, error) {
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return "", fmt.Errorf("not a valid string array")
	}
	out, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("not a valid string array")
	}
	return string(out), nil
}

func (ListConv) Decode(stored string) (any, bool) {
	var items []string
	if err := json.Unmarshal([]byte(stored), &items); err != nil {
		return []string(nil), false
	}
	return items, true
}

func (ListConv) sealed() {}

// RawJSONConv stores an opaque JSON document. Used for the composite
// views (subscriptions, notification squad, closures) that the store
// manages through dedicated accessors rather than operator commands.
type RawJSONConv struct{}

func (RawJSONConv) Sanitize(raw string) (string, error) {
	if !json.Valid([]byte(raw)) {
		return "", fmt.Errorf("not valid JSON")
	}
	return raw, nil
}

func (RawJSONConv) Decode(stored string) (any, bool) {
	if !json.Valid([]byte(stored)) {
		return json.RawMessage(nil), false
	}
	return json.RawMessage(stored), true
}

func (RawJSONConv) sealed() {}
