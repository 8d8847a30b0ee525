package pipeline

import (
	"encoding/json"
	"strings"
)

// Activity is the structured form of a device activity label.
type Activity struct {
	Name string `json:"name"`
}

// ParseActivity extracts the activity name from the shapes devices are known to
// store: a bare label, a JSON string, a JSON object with a name, or an already
// decoded object. Anything else is an unknown activity and yields "".
func ParseActivity(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return parseActivityText(v, 0)
	case []byte:
		return parseActivityText(string(v), 0)
	case json.RawMessage:
		return parseActivityText(string(v), 0)
	case Activity:
		return v.Name
	case *Activity:
		if v == nil {
			return ""
		}
		return v.Name
	case map[string]any:
		name, _ := v["name"].(string)
		return name
	case map[string]string:
		return v["name"]
	}
	return ""
}

func parseActivityText(s string, depth int) string {
	s = strings.TrimSpace(s)
	if s == "" || depth > 2 {
		return ""
	}
	switch s[0] {
	case '{':
		var a Activity
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			return ""
		}
		return a.Name
	case '"':
		var inner string
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return ""
		}
		return parseActivityText(inner, depth+1)
	case '[':
		return ""
	}
	return s
}
