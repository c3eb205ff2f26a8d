// Package tokenid canonicalises a market's outcome token identifiers into a single key.
//
// Upstream payloads carry token IDs as a native list, a JSON-encoded string, the literal
// "None", or occasionally garbage. Normalize maps all of those onto one string so that the
// batch index and the query-time resolver join on identical keys. The key for a list is the
// compact JSON encoding of its trimmed, non-empty entries sorted lexically, which makes the
// function idempotent and insensitive to entry order.
package tokenid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Normalize returns the canonical key for raw, or "" when raw carries no identifiers.
func Normalize(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return fromList(items)
	case []any:
		return fromList(v)
	case string:
		return fromString(v)
	case fmt.Stringer:
		return fromString(v.String())
	default:
		return fromString(fmt.Sprint(v))
	}
}

func fromString(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || strings.EqualFold(trimmed, "none") {
		return ""
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return trimmed
	}
	// Trailing content means the input was not a single JSON value.
	if dec.More() {
		return trimmed
	}

	list, ok := parsed.([]any)
	if !ok {
		return trimmed
	}
	return fromList(list)
}

func fromList(items []any) string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := stringify(item)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		ids = append(ids, s)
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	return encode(ids)
}

func stringify(item any) (string, bool) {
	switch v := item.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v), true
		}
		return string(b), true
	}
}

// encode writes ids as compact JSON without HTML escaping.
func encode(ids []string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ids); err != nil {
		return strings.Join(ids, ",")
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Split parses a canonical key back into its identifiers.
// Keys that are not lists come back as a single identifier.
func Split(key string) []string {
	if key == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(key), &ids); err != nil {
		return []string{key}
	}
	return ids
}
