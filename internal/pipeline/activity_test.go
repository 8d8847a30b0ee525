package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseActivity(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want string
	}{
		{"nil", nil, ""},
		{"bare label", "STILL", "STILL"},
		{"json string", `"STILL"`, "STILL"},
		{"json object", `{"name":"IN_VEHICLE"}`, "IN_VEHICLE"},
		{"json string wrapping object", `"{\"name\":\"STILL\"}"`, "STILL"},
		{"bytes", []byte(`{"name":"WALKING"}`), "WALKING"},
		{"raw message", json.RawMessage(`{"name":"STILL"}`), "STILL"},
		{"decoded map", map[string]any{"name": "STILL"}, "STILL"},
		{"string map", map[string]string{"name": "RUNNING"}, "RUNNING"},
		{"struct", Activity{Name: "STILL"}, "STILL"},
		{"nil struct pointer", (*Activity)(nil), ""},
		{"malformed object", `{"name":`, ""},
		{"array", `["STILL"]`, ""},
		{"number", 42, ""},
		{"map without name", map[string]any{"type": "STILL"}, ""},
		{"blank", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseActivity(tt.raw))
		})
	}
}
