package catalog

import (
	"encoding/json"
	"testing"
)

func TestParseYear(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{name: "string scalar", raw: `"1968"`, want: 1968},
		{name: "number scalar", raw: `1968`, want: 1968},
		{name: "list of strings", raw: `["1968", "1969"]`, want: 1968},
		{name: "garbage", raw: `"circa 1968"`, want: 0},
		{name: "absent", raw: ``, want: 0},
		{name: "null", raw: `null`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseYear(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("parseYear(%s) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseRuntime(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{name: "HH:MM:SS", raw: `"1:32:45"`, want: 5565},
		{name: "MM:SS", raw: `"32:45"`, want: 1965},
		{name: "plain seconds", raw: `"5565"`, want: 5565},
		{name: "fractional seconds", raw: `"5565.7"`, want: 5565},
		{name: "numeric seconds", raw: `5565`, want: 5565},
		{name: "list value", raw: `["1:32:45"]`, want: 5565},
		{name: "malformed clock", raw: `"1:xx:45"`, want: 0},
		{name: "too many segments", raw: `"1:2:3:4"`, want: 0},
		{name: "absent", raw: ``, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRuntime(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("parseRuntime(%s) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseGenres(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "single string", raw: `"horror"`, want: []string{"horror"}},
		{name: "list", raw: `["horror", "zombie"]`, want: []string{"horror", "zombie"}},
		{
			name: "capped at five",
			raw:  `["a", "b", "c", "d", "e", "f", "g"]`,
			want: []string{"a", "b", "c", "d", "e"},
		},
		{name: "absent", raw: ``, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseGenres(json.RawMessage(tt.raw))
			if len(got) != len(tt.want) {
				t.Fatalf("parseGenres(%s) = %v, want %v", tt.raw, got, tt.want)
			}

			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parseGenres(%s)[%d] = %q, want %q", tt.raw, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseFloat(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{name: "string rating", raw: `"4.5"`, want: 4.5},
		{name: "numeric rating", raw: `4.5`, want: 4.5},
		{name: "garbage", raw: `"n/a"`, want: 0},
		{name: "absent", raw: ``, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseFloat(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("parseFloat(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
