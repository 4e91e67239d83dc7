package catalog

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Archive.org metadata values are loosely typed: the same field can be
// a string, a number, or a list of either depending on the uploader.
// These helpers normalize that mess.

// asStrings decodes a raw value into a flat list of strings, accepting
// scalars, numbers and mixed lists.
func asStrings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}

	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return []string{num.String()}
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}

	out := make([]string, 0, len(list))

	for _, item := range list {
		out = append(out, asStrings(item)...)
	}

	return out
}

// firstString returns the first string form of a raw value, or "".
func firstString(raw json.RawMessage) string {
	values := asStrings(raw)
	if len(values) == 0 {
		return ""
	}

	return values[0]
}

// parseYear extracts a year from a scalar or list value.
func parseYear(raw json.RawMessage) int {
	s := firstString(raw)
	if s == "" {
		return 0
	}

	year, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}

	return year
}

// parseFloat extracts a float from a scalar or list value.
func parseFloat(raw json.RawMessage) float64 {
	s := firstString(raw)
	if s == "" {
		return 0
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}

	return f
}

// parseRuntime converts a runtime value to seconds. Accepts "HH:MM:SS",
// "MM:SS", and plain second counts (including fractional ones).
func parseRuntime(raw json.RawMessage) int {
	s := strings.TrimSpace(firstString(raw))
	if s == "" {
		return 0
	}

	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")

		switch len(parts) {
		case 3:
			h, errH := strconv.Atoi(parts[0])
			m, errM := strconv.Atoi(parts[1])
			sec, errS := strconv.Atoi(parts[2])

			if errH != nil || errM != nil || errS != nil {
				return 0
			}

			return h*3600 + m*60 + sec
		case 2:
			m, errM := strconv.Atoi(parts[0])
			sec, errS := strconv.Atoi(parts[1])

			if errM != nil || errS != nil {
				return 0
			}

			return m*60 + sec
		default:
			return 0
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}

	return int(f)
}

// parseGenres maps subject values to at most maxGenres genre labels.
func parseGenres(raw json.RawMessage) []string {
	subjects := asStrings(raw)
	if len(subjects) > maxGenres {
		subjects = subjects[:maxGenres]
	}

	return subjects
}
