package forms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/civil"
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
)

// Validate checks the template shape. Keys are field paths such as rows[0].elements[1].options.
func (r TemplateRequest) Validate() map[string]string {
	r.normalize()
	errs := map[string]string{}
	if r.Name == "" {
		errs["name"] = "Name is required"
	}
	seen := map[string]bool{}
	count := 0
	for i, row := range r.Rows {
		for j, e := range row.Elements {
			count++
			path := fmt.Sprintf("rows[%d].elements[%d]", i, j)
			switch {
			case e.ID == "":
				errs[path+".id"] = "Element id is required"
			case seen[e.ID]:
				errs[path+".id"] = "Duplicate element id " + e.ID
			}
			seen[e.ID] = true
			if strings.TrimSpace(e.Label) == "" {
				errs[path+".label"] = "Label is required"
			}
			if !slices.Contains(ElementTypes, e.Type) {
				errs[path+".type"] = "Unknown element type " + string(e.Type)
			}
			if (e.Type == ElementSelect || e.Type == ElementRadio) && len(e.Options) == 0 {
				errs[path+".options"] = "Options are required for " + string(e.Type)
			}
			if v := e.Validation; v != nil {
				if v.MinLength != nil && v.MaxLength != nil && *v.MinLength > *v.MaxLength {
					errs[path+".validation"] = "minLength must not exceed maxLength"
				}
				if (v.MinLength != nil && *v.MinLength < 0) || (v.MaxLength != nil && *v.MaxLength < 0) {
					errs[path+".validation"] = "Lengths must not be negative"
				}
				if v.Pattern != "" {
					if _, err := regexp.Compile(v.Pattern); err != nil {
						errs[path+".validation"] = "Pattern does not compile"
					}
				}
			}
		}
	}
	if count == 0 {
		errs["rows"] = "At least one element is required"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// checkAnswers validates answers against t. known reports whether a SNOMED code exists.
func checkAnswers(t *Template, answers map[string]json.RawMessage, known func(string) bool) map[string]string {
	errs := map[string]string{}
	elements := map[string]Element{}
	for _, e := range t.Elements() {
		elements[e.ID] = e
	}
	for key := range answers {
		if _, ok := elements[key]; !ok {
			errs[key] = "Unknown field"
		}
	}
	for id, e := range elements {
		raw, ok := answers[id]
		if !ok || isBlank(raw) {
			if e.Required {
				errs[id] = e.Label + " is required"
			}
			continue
		}
		if msg := checkAnswer(e, raw, known); msg != "" {
			errs[id] = msg
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func isBlank(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) || bytes.Equal(raw, []byte("[]")) {
		return true
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func checkAnswer(e Element, raw json.RawMessage, known func(string) bool) string {
	switch e.Type {
	case ElementCheckbox:
		if len(e.Options) == 0 {
			var b bool
			if json.Unmarshal(raw, &b) != nil {
				return "Must be true or false"
			}
			if e.Required && !b {
				return e.Label + " is required"
			}
			return ""
		}
		var picked []string
		if json.Unmarshal(raw, &picked) != nil {
			return "Must be a list of options"
		}
		for _, p := range picked {
			if !slices.Contains(e.Options, p) {
				return "Unknown option " + p
			}
		}
		return ""
	case ElementNumber:
		s, ok := scalar(raw)
		if !ok {
			return "Must be a number"
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return "Must be a number"
		}
		return ""
	case ElementRating:
		s, ok := scalar(raw)
		n, err := strconv.Atoi(s)
		if !ok || err != nil || n < 1 || n > MaxRating {
			return fmt.Sprintf("Must be a whole number from 1 to %d", MaxRating)
		}
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) != nil {
		return "Must be text"
	}
	s = strings.TrimSpace(s)
	switch e.Type {
	case ElementDate:
		if _, err := civil.ParseDate(s); err != nil {
			return "Must be a date in YYYY-MM-DD format"
		}
	case ElementEmail:
		if !auth.EmailPattern.MatchString(s) {
			return "Must be a valid email address"
		}
	case ElementPhone:
		if !employees.PhonePattern.MatchString(s) {
			return "Must be a valid phone number"
		}
	case ElementSelect, ElementRadio:
		if !slices.Contains(e.Options, s) {
			return "Unknown option " + s
		}
	case ElementSnomed:
		if known == nil || !known(s) {
			return "Unknown SNOMED CT code " + s
		}
	}
	return checkText(e.Validation, s)
}

// scalar accepts a JSON number or a numeric string.
func scalar(raw json.RawMessage) (string, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), true
	}
	return "", false
}

func checkText(v *Validation, s string) string {
	if v == nil {
		return ""
	}
	n := utf8.RuneCountInString(s)
	if v.MinLength != nil && n < *v.MinLength {
		return fmt.Sprintf("Must be at least %d characters", *v.MinLength)
	}
	if v.MaxLength != nil && n > *v.MaxLength {
		return fmt.Sprintf("Must be at most %d characters", *v.MaxLength)
	}
	if v.Pattern != "" {
		re, err := regexp.Compile(v.Pattern)
		if err != nil || !re.MatchString(s) {
			return "Does not match the required format"
		}
	}
	return ""
}
