// Package medical turns a user's loosely structured medical snapshot into a
// short text block appended to the system prompt.
//
// Snapshots come from the website as arbitrary JSON. Nothing here returns an
// error: absent, mistyped or malformed fields simply contribute nothing.
package medical

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	KeyMedications = "autoanosis_medications"
	KeyConditions  = "autoanosis_conditions"
	KeyAllergies   = "autoanosis_allergies"
	KeyMemory      = "autoanosis_memory"

	// Label introduces the block in the system prompt.
	Label = "User health profile (provided by the user, use it to personalize answers):"

	maxItems     = 10
	maxNotes     = 3
	maxItemRunes = 200
)

// Build renders the snapshot, or returns "" when no category has content.
func Build(snapshot map[string]any) string {
	if len(snapshot) == 0 {
		return ""
	}

	lines := make([]string, 0, 4)
	if s := medications(snapshot[KeyMedications]); s != "" {
		lines = append(lines, "Medications: "+s)
	}
	if s := joinField(snapshot[KeyConditions], "name", ", "); s != "" {
		lines = append(lines, "Conditions: "+s)
	}
	if s := joinField(snapshot[KeyAllergies], "name", ", "); s != "" {
		lines = append(lines, "Allergies: "+s)
	}
	if s := notes(snapshot[KeyMemory]); s != "" {
		lines = append(lines, "Recent notes: "+s)
	}
	if len(lines) == 0 {
		return ""
	}
	return Label + "\n" + strings.Join(lines, "\n")
}

func medications(v any) string {
	var parts []string
	for _, entry := range entries(v) {
		name := text(entry, "name")
		if name == "" {
			continue
		}
		if dosage := text(entry, "dosage"); dosage != "" {
			name = fmt.Sprintf("%s (%s)", name, dosage)
		}
		parts = append(parts, name)
		if len(parts) == maxItems {
			break
		}
	}
	return strings.Join(parts, ", ")
}

func joinField(v any, field, sep string) string {
	var parts []string
	for _, entry := range entries(v) {
		if s := text(entry, field); s != "" {
			parts = append(parts, s)
			if len(parts) == maxItems {
				break
			}
		}
	}
	return strings.Join(parts, sep)
}

// notes keeps the last three well-formed notes; the list is oldest first.
func notes(v any) string {
	var all []string
	for _, entry := range entries(v) {
		if s := text(entry, "note"); s != "" {
			all = append(all, s)
		}
	}
	if len(all) > maxNotes {
		all = all[len(all)-maxNotes:]
	}
	return strings.Join(all, "; ")
}

// entries returns the mapping elements of v when v is a list.
func entries(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// text returns entry[field] as a single trimmed, bounded line.
func text(entry map[string]any, field string) string {
	s, ok := entry[field].(string)
	if !ok {
		return ""
	}
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxItemRunes {
		s = string([]rune(s)[:maxItemRunes]) + "…"
	}
	return s
}
