package gateway

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// EntryKind classifies one element of a tool listing.
type EntryKind int

const (
	// Header is a section title such as "GPT Models:".
	Header EntryKind = iota
	// Name is a bare list item.
	Name
	// Record is an object item carrying a name field.
	Record
)

// Entry is one element of a decoded listing, in tool order.
type Entry struct {
	Kind EntryKind
	Text string
}

// Model is a selectable model as returned to clients.
type Model struct {
	Name string `json:"name"`
}

var indexPrefix = regexp.MustCompile(`^\[\d+\]\s*`)

// DecodeList parses listing output. Two shapes are accepted: a JSON array
// whose elements are strings or {"name": ...} objects, or plain text with one
// item per line where lines ending in ':' are section headers and a leading
// "[n]" index is dropped. Empty output is an empty list. Anything else, such
// as a JSON object, is a *FormatError.
func DecodeList(tool string, out []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return []Entry{}, nil
	}

	switch {
	case trimmed[0] == '[' && !indexPrefix.Match(trimmed):
		return decodeJSONList(tool, trimmed)
	case trimmed[0] == '{' || trimmed[0] == '"':
		return nil, formatErr(tool, "expected a list, got a JSON value", out)
	}

	var entries []Entry
	for _, line := range strings.Split(string(trimmed), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entries = append(entries, lineEntry(line))
	}
	return entries, nil
}

func lineEntry(line string) Entry {
	if strings.HasSuffix(line, ":") {
		return Entry{Kind: Header, Text: line}
	}
	return Entry{Kind: Name, Text: strings.TrimSpace(indexPrefix.ReplaceAllString(line, ""))}
}

func decodeJSONList(tool string, data []byte) ([]Entry, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, formatErr(tool, "malformed JSON list: "+err.Error(), data)
	}

	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			if strings.HasSuffix(strings.TrimSpace(s), ":") {
				entries = append(entries, Entry{Kind: Header, Text: s})
			} else {
				entries = append(entries, Entry{Kind: Name, Text: s})
			}
			continue
		}

		var obj struct {
			Name *string `json:"name"`
		}
		if err := json.Unmarshal(r, &obj); err != nil || obj.Name == nil {
			return nil, formatErr(tool, "list element is neither a string nor a named record: "+string(r), data)
		}
		if strings.HasSuffix(strings.TrimSpace(*obj.Name), ":") {
			entries = append(entries, Entry{Kind: Header, Text: *obj.Name})
		} else {
			entries = append(entries, Entry{Kind: Record, Text: *obj.Name})
		}
	}
	return entries, nil
}

// FilterModels drops section headers and blank names and returns the model
// names in the order the tool listed them.
func FilterModels(entries []Entry) []Model {
	models := make([]Model, 0, len(entries))
	for _, e := range entries {
		if e.Kind == Header || strings.TrimSpace(e.Text) == "" {
			continue
		}
		models = append(models, Model{Name: e.Text})
	}
	return models
}

// PatternNames validates that a listing holds plain names and returns them
// unchanged. Section headers are skipped; named records are a *FormatError.
func PatternNames(tool string, entries []Entry) ([]string, error) {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		switch e.Kind {
		case Header:
			continue
		case Record:
			return nil, &FormatError{Tool: tool, Reason: "pattern listing contains a record: " + e.Text}
		}
		names = append(names, e.Text)
	}
	return names, nil
}
