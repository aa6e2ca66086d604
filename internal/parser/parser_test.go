package parser

import (
	"strings"
	"testing"
)

func TestParseJSON(t *testing.T) {
	res := ParseJSON(`{"id":1}`, 3)
	if res == nil || !res.OK {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.LineNumber != 3 {
		t.Fatalf("expected line 3, got %d", res.LineNumber)
	}
	obj, ok := res.Data.(map[string]interface{})
	if !ok || obj["id"] != float64(1) {
		t.Fatalf("unexpected data: %#v", res.Data)
	}

	if res := ParseJSON("   ", 1); res != nil {
		t.Fatalf("expected nil for empty line, got %+v", res)
	}

	res = ParseJSON("{invalid}", 2)
	if res == nil || res.OK {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.Err == "" || res.Raw != "{invalid}" {
		t.Fatalf("expected error and raw line, got %+v", res)
	}
}

func TestParseJSONTruncatesRaw(t *testing.T) {
	line := "{" + strings.Repeat("x", 500)
	res := ParseJSON(line, 1)
	if res == nil || res.OK {
		t.Fatalf("expected failure, got %+v", res)
	}
	if len(res.Raw) != 200 {
		t.Fatalf("expected raw truncated to 200 chars, got %d", len(res.Raw))
	}
}

func TestParseCSV(t *testing.T) {
	res := ParseCSV("a, b ,c", 1, nil)
	if res == nil || !res.OK {
		t.Fatalf("expected success, got %+v", res)
	}
	cells, ok := res.Data.([]interface{})
	if !ok || len(cells) != 3 || cells[1] != "b" {
		t.Fatalf("unexpected cells: %#v", res.Data)
	}

	res = ParseCSV("1,alice", 2, []string{"id", "name"})
	row, ok := res.Data.(map[string]interface{})
	if !ok || row["id"] != "1" || row["name"] != "alice" {
		t.Fatalf("unexpected row: %#v", res.Data)
	}

	// Known limitation: quoted commas are split anyway.
	res = ParseCSV(`"a,b",c`, 3, nil)
	cells = res.Data.([]interface{})
	if len(cells) != 3 {
		t.Fatalf("expected naive split into 3 cells, got %#v", cells)
	}

	if res := ParseCSV("", 4, nil); res != nil {
		t.Fatalf("expected nil for empty line, got %+v", res)
	}
}

func TestParseText(t *testing.T) {
	res := ParseText("  hello world ", 1)
	if res == nil || !res.OK {
		t.Fatalf("expected success, got %+v", res)
	}
	obj := res.Data.(map[string]interface{})
	if obj["text"] != "  hello world " {
		t.Fatalf("expected original un-trimmed line, got %#v", obj["text"])
	}
	if res := ParseText("   ", 2); res != nil {
		t.Fatalf("expected nil for blank line, got %+v", res)
	}
}

func TestParseAuto(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string // "json", "csv", "text", "skip"
	}{
		{"json object", `{"a":1}`, "json"},
		{"json array", `[1,2]`, "json"},
		{"csv", "a,b,c", "csv"},
		{"invalid json with commas falls to csv", "{bad,data}", "csv"},
		{"plain text", "hello", "text"},
		{"empty", "  ", "skip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseAuto(tt.line, 1)
			if tt.want == "skip" {
				if res != nil {
					t.Fatalf("expected nil, got %+v", res)
				}
				return
			}
			if res == nil || !res.OK {
				t.Fatalf("expected success, got %+v", res)
			}
			switch tt.want {
			case "json":
				switch res.Data.(type) {
				case map[string]interface{}, []interface{}:
				default:
					t.Fatalf("expected decoded json, got %#v", res.Data)
				}
			case "csv":
				if _, ok := res.Data.([]interface{}); !ok {
					t.Fatalf("expected cell slice, got %#v", res.Data)
				}
			case "text":
				obj, ok := res.Data.(map[string]interface{})
				if !ok || obj["text"] != tt.line {
					t.Fatalf("expected text wrapper, got %#v", res.Data)
				}
			}
		})
	}
}

func TestSelect(t *testing.T) {
	jsonLine := `{"a":1}`
	if res := Select("application/json; charset=utf-8")(jsonLine, 1); res == nil || !res.OK {
		t.Fatalf("json parser rejected valid json")
	}
	if res := Select("text/csv")("a,b", 1); res == nil || !res.OK {
		t.Fatalf("csv parser rejected csv line")
	}
	res := Select("text/plain")("a,b", 1)
	if obj, ok := res.Data.(map[string]interface{}); !ok || obj["text"] != "a,b" {
		t.Fatalf("text parser should wrap the line, got %#v", res.Data)
	}
	// Unknown content type falls back to auto-detection.
	if res := Select("application/octet-stream")(jsonLine, 1); res == nil || !res.OK {
		t.Fatalf("auto parser rejected valid json")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		data interface{}
		want bool
	}{
		{"non-empty object", map[string]interface{}{"a": 1}, true},
		{"empty object", map[string]interface{}{}, false},
		{"non-empty array", []interface{}{"a"}, true},
		{"empty array", []interface{}{}, false},
		{"string", "hello", false},
		{"number", float64(5), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Validate(tt.data); got != tt.want {
				t.Fatalf("Validate(%#v) = %v, want %v", tt.data, got, tt.want)
			}
		})
	}
}
