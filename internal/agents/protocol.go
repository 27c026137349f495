package agents

import (
	"strconv"
	"strings"
)

// Record is one tagged line of agent output:
//
//	TAG: text | KEY: value | KEY: value
type Record struct {
	Tag    string
	Text   string
	Fields map[string]string
}

// Field returns the trimmed value of key, or "".
func (r Record) Field(key string) string {
	return r.Fields[key]
}

// Float parses a numeric field.
func (r Record) Float(key string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Fields[key]), 64)
	return v, err == nil
}

// Int parses an integer field, accepting a leading sign.
func (r Record) Int(key string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(r.Fields[key]), "+"))
	return v, err == nil
}

// ParseRecords returns every line of raw that starts with tag.
func ParseRecords(raw, tag string) []Record {
	prefix := tag + ":"
	var out []Record
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		parts := strings.Split(line, "|")
		rec := Record{
			Tag:    tag,
			Text:   strings.TrimSpace(strings.TrimPrefix(parts[0], prefix)),
			Fields: map[string]string{},
		}
		for _, p := range parts[1:] {
			key, value, ok := strings.Cut(p, ":")
			if !ok {
				continue
			}
			rec.Fields[strings.ToUpper(strings.TrimSpace(key))] = strings.TrimSpace(value)
		}
		out = append(out, rec)
	}
	return out
}

// Take is the parsed initial position of one agent.
type Take struct {
	Text       string
	Confidence float64
	Risks      []string
}

// ParseTake reads the TAKE, CONFIDENCE and RISKS lines. Missing confidence
// defaults to 0.5; values are clamped to [0, 1].
func ParseTake(raw string) Take {
	t := Take{Confidence: 0.5}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "TAKE:"):
			t.Text = strings.TrimSpace(strings.TrimPrefix(line, "TAKE:"))
		case strings.HasPrefix(line, "CONFIDENCE:"):
			if v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "CONFIDENCE:")), 64); err == nil {
				t.Confidence = clamp(v, 0, 1)
			}
		case strings.HasPrefix(line, "RISKS:"):
			for _, r := range strings.Split(strings.TrimPrefix(line, "RISKS:"), "|") {
				if r = strings.TrimSpace(r); r != "" {
					t.Risks = append(t.Risks, r)
				}
			}
		}
	}
	return t
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
