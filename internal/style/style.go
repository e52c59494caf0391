// Package style defines the writing-style table used to rewrite transcripts.
//
// Every style pairs a stable identifier with the instruction text sent to the
// LLM as the system prompt. The table is an explicit enumerated configuration:
// it ships with built-in defaults, can be extended or overridden from the YAML
// config, and is validated once at startup. Lookups never fail — an
// unrecognised identifier resolves to the default style so a stale client can
// never break processing.
package style

import (
	"errors"
	"fmt"
)

// DefaultID is the identifier of the built-in fallback style.
const DefaultID = "clear"

// Style is one entry of the writing-style table.
type Style struct {
	// ID is the stable identifier clients send (e.g., "meeting").
	ID string `yaml:"id"`

	// Name is the human-readable display name.
	Name string `yaml:"name"`

	// Description is a short summary shown in style pickers.
	Description string `yaml:"description"`

	// Instruction is the system prompt sent to the LLM for this style.
	Instruction string `yaml:"instruction"`
}

// Builtin returns the built-in style table. The first entry is the default
// `clear` style.
func Builtin() []Style {
	return []Style{
		{
			ID:          "clear",
			Name:        "Clear & Simple",
			Description: "Clean, easy-to-read text",
			Instruction: "Convert this spoken transcript into clear, well-structured text. Remove filler words, fix grammar, and organize into proper paragraphs while maintaining the original meaning and tone.",
		},
		{
			ID:          "journal",
			Name:        "Personal Journal",
			Description: "Reflective personal writing",
			Instruction: "Transform this transcript into a personal journal entry. Make it reflective and well-structured, maintaining the personal tone while improving clarity and flow.",
		},
		{
			ID:          "meeting",
			Name:        "Meeting Notes",
			Description: "Professional meeting format",
			Instruction: "Convert this into professional meeting notes. Organize into bullet points, highlight key decisions and action items, and maintain a business-appropriate tone.",
		},
		{
			ID:          "email",
			Name:        "Professional Email",
			Description: "Business email format",
			Instruction: "Transform this transcript into a professional email format. Include appropriate greeting and closing, organize the content logically, and maintain a business tone.",
		},
		{
			ID:          "academic",
			Name:        "Academic Writing",
			Description: "Scholarly and formal",
			Instruction: "Convert this into academic prose. Use formal language, proper structure, and scholarly tone while maintaining the original ideas and arguments.",
		},
		{
			ID:          "bullet",
			Name:        "Bullet Points",
			Description: "Hierarchical, scannable lists",
			Instruction: "Convert this transcript into clear bullet points. Organize the information hierarchically and make it easy to scan and understand.",
		},
		{
			ID:          "creative",
			Name:        "Creative Prose",
			Description: "Engaging narrative writing",
			Instruction: "Transform this transcript into creative, engaging prose. Enhance the narrative flow, use vivid language, and make it compelling to read.",
		},
	}
}

// Table is a validated, immutable style lookup table.
type Table struct {
	styles    []Style
	byID      map[string]Style
	defaultID string
}

// NewTable builds a Table from the given styles with defaultID as the
// fallback. Returns an error when styles is empty, contains duplicate or
// incomplete entries, or does not contain defaultID.
func NewTable(styles []Style, defaultID string) (*Table, error) {
	if len(styles) == 0 {
		return nil, errors.New("style: table must not be empty")
	}
	if defaultID == "" {
		defaultID = DefaultID
	}

	var errs []error
	byID := make(map[string]Style, len(styles))
	for i, s := range styles {
		prefix := fmt.Sprintf("style: styles[%d]", i)
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
			continue
		}
		if s.Instruction == "" {
			errs = append(errs, fmt.Errorf("%s (%q) has no instruction", prefix, s.ID))
		}
		if _, dup := byID[s.ID]; dup {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate", prefix, s.ID))
			continue
		}
		byID[s.ID] = s
	}
	if _, ok := byID[defaultID]; !ok {
		errs = append(errs, fmt.Errorf("style: default style %q is not in the table", defaultID))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Table{styles: styles, byID: byID, defaultID: defaultID}, nil
}

// Default builds a Table from [Builtin] with the "clear" default.
// It panics if the built-in table is invalid, which would be a programming error.
func Default() *Table {
	t, err := NewTable(Builtin(), DefaultID)
	if err != nil {
		panic("style: built-in table invalid: " + err.Error())
	}
	return t
}

// Resolve returns the style for id. An empty or unrecognised id resolves to
// the default style. The second return value reports whether id was found
// verbatim in the table.
func (t *Table) Resolve(id string) (Style, bool) {
	if s, ok := t.byID[id]; ok {
		return s, true
	}
	return t.byID[t.defaultID], false
}

// DefaultStyle returns the table's default style.
func (t *Table) DefaultStyle() Style {
	return t.byID[t.defaultID]
}

// All returns the table entries in their configured order.
// The returned slice must not be modified.
func (t *Table) All() []Style {
	return t.styles
}
