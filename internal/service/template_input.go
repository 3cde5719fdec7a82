package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"thumbnail-bot/internal/model"
)

const (
	MaxNameLength   = 128
	MaxLabelLength  = 64
	MaxButtonsCount = 20
)

// ValidationError reports user-correctable input problems.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// TemplateInput represents data required to create a template.
type TemplateInput struct {
	Name    string
	Buttons []model.Button
	Shared  bool
}

// Validate trims the input in place and checks it is saveable: a non-blank
// name and at least one button with a label and an http(s) URL.
func (in *TemplateInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(in.Name) > MaxNameLength {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("must be at most %d characters", MaxNameLength)}
	}
	if len(in.Buttons) == 0 {
		return &ValidationError{Field: "buttons", Reason: "at least one button is required"}
	}
	if len(in.Buttons) > MaxButtonsCount {
		return &ValidationError{Field: "buttons", Reason: fmt.Sprintf("at most %d buttons are allowed", MaxButtonsCount)}
	}
	for i := range in.Buttons {
		if err := ValidateButton(&in.Buttons[i]); err != nil {
			err.Field = fmt.Sprintf("buttons[%d].%s", i, err.Field)
			return err
		}
	}
	return nil
}

// ValidateButton trims the button in place and checks its label and URL.
func ValidateButton(b *model.Button) *ValidationError {
	b.Label = strings.TrimSpace(b.Label)
	b.URL = strings.TrimSpace(b.URL)
	if b.Label == "" {
		return &ValidationError{Field: "label", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(b.Label) > MaxLabelLength {
		return &ValidationError{Field: "label", Reason: fmt.Sprintf("must be at most %d characters", MaxLabelLength)}
	}
	if !IsValidURL(b.URL) {
		return &ValidationError{Field: "url", Reason: "must start with http:// or https://"}
	}
	return nil
}

// IsValidURL reports whether s looks like an HTTP(S) URL: the scheme prefix
// (any case) followed by a non-empty remainder without whitespace.
func IsValidURL(s string) bool {
	lower := strings.ToLower(s)
	var rest string
	switch {
	case strings.HasPrefix(lower, "https://"):
		rest = s[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		rest = s[len("http://"):]
	default:
		return false
	}
	return rest != "" && !strings.ContainsAny(rest, " \t\r\n")
}

type payloadButton struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

type payload struct {
	Name    string          `json:"name"`
	Buttons []payloadButton `json:"buttons"`
	Shared  bool            `json:"shared"`
}

// ParsePayload decodes the single-shot creation payload, e.g.
//
//	{"name":"My","buttons":[{"type":"url","text":"YT","url":"https://youtube.com"}]}
//
// "label" and "text" are both accepted for the button caption. The result is validated.
func ParsePayload(raw string) (TemplateInput, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(raw))))
	dec.DisallowUnknownFields()

	var p payload
	if err := dec.Decode(&p); err != nil {
		return TemplateInput{}, &ValidationError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if dec.More() {
		return TemplateInput{}, &ValidationError{Reason: "invalid JSON: trailing data after object"}
	}

	input := TemplateInput{Name: p.Name, Shared: p.Shared}
	for i, b := range p.Buttons {
		if b.Type != "" && !strings.EqualFold(b.Type, "url") {
			return TemplateInput{}, &ValidationError{Field: fmt.Sprintf("buttons[%d].type", i), Reason: fmt.Sprintf("unsupported button type %q", b.Type)}
		}
		label := b.Label
		if label == "" {
			label = b.Text
		}
		input.Buttons = append(input.Buttons, model.Button{Label: label, URL: b.URL})
	}

	if err := input.Validate(); err != nil {
		return TemplateInput{}, err
	}
	return input, nil
}
