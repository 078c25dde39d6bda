package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/systmms/cookieguard/internal/credential"
)

// isoLayouts are accepted for string expiry values
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseStructured reads a JSON array of cookie objects, or an object with a "cookies" array
func parseStructured(data []byte) ([]credential.Record, []string, error) {
	if err := checkStructuredShape(data); err != nil {
		return nil, nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var items []interface{}
	switch v := doc.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		items, _ = v["cookies"].([]interface{})
	}

	var (
		records  []credential.Record
		warnings []string
	)
	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			warnings = append(warnings, fmt.Sprintf("entry %d: not an object", i))
			continue
		}

		domain := stringField(obj, "domain")
		name := stringField(obj, "name")
		if domain == "" || name == "" {
			warnings = append(warnings, fmt.Sprintf("entry %d: missing domain or name", i))
			continue
		}

		raw, ok := obj["expires"]
		if !ok {
			raw = obj["expirationDate"]
		}
		expires, err := parseExpiry(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("entry %d (%s): %v", i, name, err))
			continue
		}
		if session, _ := obj["session"].(bool); session {
			expires = 0
		}

		includeSub := strings.HasPrefix(domain, ".")
		if hostOnly, ok := obj["hostOnly"].(bool); ok {
			includeSub = !hostOnly
		}
		path := stringField(obj, "path")
		if path == "" {
			path = "/"
		}
		secure, _ := obj["secure"].(bool)
		httpOnly, _ := obj["httpOnly"].(bool)

		records = append(records, credential.Record{
			Domain:            domain,
			IncludeSubdomains: includeSub,
			Path:              path,
			Secure:            secure,
			Expires:           expires,
			Name:              name,
			Value:             stringField(obj, "value"),
			HTTPOnly:          httpOnly,
		})
	}
	return records, warnings, nil
}

func stringField(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

// parseExpiry accepts epoch seconds (integer, fractional or numeric string) or ISO-8601.
// Missing, null and non-positive values are session-scoped.
func parseExpiry(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case json.Number:
		f, ok := parseEpoch(v.String())
		if !ok {
			return 0, fmt.Errorf("invalid expiry %q", v.String())
		}
		return epoch(f), nil
	case float64:
		return epoch(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		if f, ok := parseEpoch(s); ok {
			return epoch(f), nil
		}
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Unix(), nil
			}
		}
		return 0, fmt.Errorf("invalid expiry %q", s)
	}
	return 0, fmt.Errorf("invalid expiry type %T", raw)
}

// parseEpoch parses a numeric expiry. Values too large for a float64 parse as +Inf.
func parseEpoch(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err == nil {
		return f, true
	}
	if errors.Is(err, strconv.ErrRange) && math.IsInf(f, 1) {
		return f, true
	}
	return 0, false
}

// epoch converts float seconds, treating non-positive and NaN as session-scoped and clamping
// far-future values to credential.MaxExpires
func epoch(f float64) int64 {
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= float64(credential.MaxExpires) {
		return credential.MaxExpires
	}
	return int64(f)
}
