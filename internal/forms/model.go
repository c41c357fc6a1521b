// Package forms stores clinical form templates and validates submissions against them.
package forms

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrTemplateNotFound = errors.New("forms: template not found")
	ErrDuplicateName    = errors.New("forms: template name already exists")
)

type ElementType string

const (
	ElementText     ElementType = "text"
	ElementTextarea ElementType = "textarea"
	ElementNumber   ElementType = "number"
	ElementDate     ElementType = "date"
	ElementEmail    ElementType = "email"
	ElementPhone    ElementType = "phone"
	ElementSelect   ElementType = "select"
	ElementRadio    ElementType = "radio"
	ElementCheckbox ElementType = "checkbox"
	ElementRating   ElementType = "rating"
	ElementSnomed   ElementType = "snomed"
)

var ElementTypes = []ElementType{
	ElementText, ElementTextarea, ElementNumber, ElementDate, ElementEmail, ElementPhone,
	ElementSelect, ElementRadio, ElementCheckbox, ElementRating, ElementSnomed,
}

// MaxRating is the top of the star scale.
const MaxRating = 5

type Validation struct {
	MinLength *int   `json:"minLength,omitempty" yaml:"minLength"`
	MaxLength *int   `json:"maxLength,omitempty" yaml:"maxLength"`
	Pattern   string `json:"pattern,omitempty" yaml:"pattern"`
}

type Element struct {
	ID          string      `json:"id" yaml:"id"`
	Type        ElementType `json:"type" yaml:"type"`
	Label       string      `json:"label" yaml:"label"`
	Required    bool        `json:"required" yaml:"required"`
	Options     []string    `json:"options,omitempty" yaml:"options"`
	Placeholder string      `json:"placeholder,omitempty" yaml:"placeholder"`
	Validation  *Validation `json:"validation,omitempty" yaml:"validation"`
}

type Row struct {
	ID       string    `json:"id" yaml:"id"`
	Elements []Element `json:"elements" yaml:"elements"`
}

type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Rows        []Row     `json:"rows"`
	Version     int       `json:"version"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Elements flattens the rows in display order.
func (t *Template) Elements() []Element {
	var out []Element
	for _, r := range t.Rows {
		out = append(out, r.Elements...)
	}
	return out
}

// TemplateRequest is the body of create and update.
type TemplateRequest struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Category    string `json:"category" yaml:"category"`
	Rows        []Row  `json:"rows" yaml:"rows"`
}

func (r *TemplateRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
	for i := range r.Rows {
		for j := range r.Rows[i].Elements {
			e := &r.Rows[i].Elements[j]
			e.ID = strings.TrimSpace(e.ID)
			e.Type = ElementType(strings.ToLower(strings.TrimSpace(string(e.Type))))
		}
	}
}

type Submission struct {
	ID              string                     `json:"id"`
	TemplateID      string                     `json:"templateId"`
	TemplateVersion int                        `json:"templateVersion"`
	EmployeeID      string                     `json:"employeeId"`
	Answers         map[string]json.RawMessage `json:"answers"`
	SubmittedBy     string                     `json:"submittedBy"`
	SubmittedAt     time.Time                  `json:"submittedAt"`
}

type SubmitRequest struct {
	EmployeeID string                     `json:"employeeId"`
	Answers    map[string]json.RawMessage `json:"answers"`
}

// AnswerError lists the answers that failed validation, keyed by element id.
type AnswerError struct {
	Fields map[string]string
}

func (e *AnswerError) Error() string {
	return "forms: invalid answers"
}
