// Package parser holds the pure per-line parsing and validation functions used
// by the processing worker. No I/O, no state.
package parser

import (
	"encoding/json"
	"strings"
)

// maxRawLen bounds how much of a failed line is echoed back in the error.
const maxRawLen = 200

// Result is the outcome of parsing a single line. A nil Result means the line
// was empty and should be skipped.
type Result struct {
	OK         bool
	LineNumber int
	Data       interface{}
	Err        string
	Raw        string
}

// Func parses one line. The line number is 1-based.
type Func func(line string, n int) *Result

// ParseJSON decodes one trimmed line as JSON. Empty lines yield nil.
func ParseJSON(line string, n int) *Result {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	var data interface{}
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return &Result{
			LineNumber: n,
			Err:        err.Error(),
			Raw:        truncate(trimmed),
		}
	}
	return &Result{OK: true, LineNumber: n, Data: data}
}

// ParseCSV splits one line on commas and trims each cell. With headers the
// cells are zipped into a map; without, the raw cell slice is returned. Quoted
// commas are not handled.
func ParseCSV(line string, n int, headers []string) *Result {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	cells := strings.Split(trimmed, ",")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	if len(headers) > 0 {
		row := make(map[string]interface{}, len(headers))
		for i, h := range headers {
			if i < len(cells) {
				row[h] = cells[i]
			}
		}
		return &Result{OK: true, LineNumber: n, Data: row}
	}
	data := make([]interface{}, len(cells))
	for i, c := range cells {
		data[i] = c
	}
	return &Result{OK: true, LineNumber: n, Data: data}
}

// ParseText wraps the original, un-trimmed line. Lines that are empty after
// trimming yield nil.
func ParseText(line string, n int) *Result {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	return &Result{OK: true, LineNumber: n, Data: map[string]interface{}{"text": line}}
}

// ParseAuto guesses the format of one line: JSON when it starts with '{' or
// '[', CSV when it contains a comma, plain text otherwise. The first
// successful parse wins.
func ParseAuto(line string, n int) *Result {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if res := ParseJSON(line, n); res != nil && res.OK {
			return res
		}
	}
	if strings.Contains(trimmed, ",") {
		return ParseCSV(line, n, nil)
	}
	return ParseText(line, n)
}

// Select picks a parser by content-type substring match, falling back to
// auto-detection.
func Select(contentType string) Func {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return ParseJSON
	case strings.Contains(ct, "csv"):
		return func(line string, n int) *Result { return ParseCSV(line, n, nil) }
	case strings.Contains(ct, "text"):
		return ParseText
	default:
		return ParseAuto
	}
}

// Validate rejects data that is not a non-empty object. Arrays count as
// objects here, mirroring the loose typing of the upstream feeds.
func Validate(data interface{}) bool {
	switch v := data.(type) {
	case map[string]interface{}:
		return len(v) > 0
	case []interface{}:
		return len(v) > 0
	default:
		return false
	}
}

func truncate(s string) string {
	if len(s) > maxRawLen {
		return s[:maxRawLen]
	}
	return s
}
