package forms

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func validRequest() TemplateRequest {
	return TemplateRequest{
		Name:     "Noise exposure review",
		Category: "Surveillance",
		Rows: []Row{{
			ID: "r1",
			Elements: []Element{
				{ID: "hours", Type: ElementNumber, Label: "Hours per day", Required: true},
				{ID: "protection", Type: ElementSelect, Label: "Hearing protection", Options: []string{"None", "Plugs", "Muffs"}},
			},
		}},
	}
}

func TestTemplateRequestValidate(t *testing.T) {
	assert.Nil(t, validRequest().Validate())

	tests := []struct {
		name   string
		mutate func(*TemplateRequest)
		field  string
	}{
		{"missing name", func(r *TemplateRequest) { r.Name = "  " }, "name"},
		{"no elements", func(r *TemplateRequest) { r.Rows = []Row{{ID: "empty"}} }, "rows"},
		{"duplicate id", func(r *TemplateRequest) { r.Rows[0].Elements[1].ID = "hours" }, "rows[0].elements[1].id"},
		{"unknown type", func(r *TemplateRequest) { r.Rows[0].Elements[0].Type = "slider" }, "rows[0].elements[0].type"},
		{"select without options", func(r *TemplateRequest) { r.Rows[0].Elements[1].Options = nil }, "rows[0].elements[1].options"},
		{"min above max", func(r *TemplateRequest) {
			r.Rows[0].Elements[0].Validation = &Validation{MinLength: intPtr(5), MaxLength: intPtr(2)}
		}, "rows[0].elements[0].validation"},
		{"bad pattern", func(r *TemplateRequest) {
			r.Rows[0].Elements[0].Validation = &Validation{Pattern: "([a-z"}
		}, "rows[0].elements[0].validation"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			req.Rows = append([]Row(nil), req.Rows...)
			req.Rows[0].Elements = append([]Element(nil), req.Rows[0].Elements...)
			tc.mutate(&req)
			errs := req.Validate()
			require.NotNil(t, errs)
			assert.Contains(t, errs, tc.field)
		})
	}
}

func answers(kv map[string]string) map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	for k, v := range kv {
		out[k] = json.RawMessage(v)
	}
	return out
}

func TestCheckAnswers(t *testing.T) {
	tmpl := &Template{Rows: []Row{{ID: "r", Elements: []Element{
		{ID: "name", Type: ElementText, Label: "Name", Required: true, Validation: &Validation{MinLength: intPtr(2), Pattern: "^[A-Za-z ]+$"}},
		{ID: "dob", Type: ElementDate, Label: "Date of birth"},
		{ID: "email", Type: ElementEmail, Label: "Email"},
		{ID: "phone", Type: ElementPhone, Label: "Phone"},
		{ID: "hours", Type: ElementNumber, Label: "Hours"},
		{ID: "shift", Type: ElementRadio, Label: "Shift", Options: []string{"Day", "Night"}},
		{ID: "consent", Type: ElementCheckbox, Label: "Consent", Required: true},
		{ID: "hazards", Type: ElementCheckbox, Label: "Hazards", Options: []string{"Noise", "Dust"}},
		{ID: "rating", Type: ElementRating, Label: "Rating"},
		{ID: "finding", Type: ElementSnomed, Label: "Finding"},
	}}}}
	known := func(code string) bool { return code == "6571000" }

	ok := answers(map[string]string{
		"name":    `"Jane Doe"`,
		"dob":     `"1990-04-01"`,
		"email":   `"jane@example.com"`,
		"phone":   `"+44 7700 900123"`,
		"hours":   `7.5`,
		"shift":   `"Night"`,
		"consent": `true`,
		"hazards": `["Noise"]`,
		"rating":  `"4"`,
		"finding": `"6571000"`,
	})
	assert.Nil(t, checkAnswers(tmpl, ok, known))

	bad := answers(map[string]string{
		"name":    `"J"`,
		"dob":     `"01/04/1990"`,
		"email":   `"not-an-email"`,
		"phone":   `"call me"`,
		"hours":   `"many"`,
		"shift":   `"Evening"`,
		"hazards": `["Heat"]`,
		"rating":  `9`,
		"finding": `"123"`,
		"extra":   `"x"`,
	})
	errs := checkAnswers(tmpl, bad, known)
	for _, field := range []string{"name", "dob", "email", "phone", "hours", "shift", "consent", "hazards", "rating", "finding", "extra"} {
		assert.Contains(t, errs, field)
	}
	assert.Equal(t, "Consent is required", errs["consent"])
	assert.Equal(t, "Unknown field", errs["extra"])

	unchecked := answers(map[string]string{"name": `"Jane Doe"`, "consent": `false`})
	assert.Equal(t, "Consent is required", checkAnswers(tmpl, unchecked, known)["consent"])
}

func TestCheckAnswersSharedFormatRules(t *testing.T) {
	tmpl := &Template{Rows: []Row{{Elements: []Element{
		{ID: "email", Type: ElementEmail, Label: "Email"},
		{ID: "phone", Type: ElementPhone, Label: "Phone"},
		{ID: "hours", Type: ElementNumber, Label: "Hours"},
	}}}}
	cases := []struct {
		field, value string
		valid        bool
	}{
		{"email", `"jane@example.com"`, true},
		{"email", `"a@b"`, false},
		{"email", `"Jane <jane@example.com>"`, false},
		{"phone", `"07700 900123"`, true},
		{"phone", `"(020) 7946-0018"`, true},
		{"phone", `"123"`, false},
		{"phone", `"+44 7700 900123 ext 4"`, false},
		{"hours", `7.5`, true},
		{"hours", `"8"`, true},
		{"hours", `"NaN"`, false},
		{"hours", `"Inf"`, false},
		{"hours", `"-Infinity"`, false},
		{"hours", `"1e400"`, false},
	}
	for _, tc := range cases {
		t.Run(tc.field+" "+tc.value, func(t *testing.T) {
			errs := checkAnswers(tmpl, answers(map[string]string{tc.field: tc.value}), nil)
			if tc.valid {
				assert.Nil(t, errs)
			} else {
				assert.Contains(t, errs, tc.field)
			}
		})
	}
}

func TestCheckAnswersPattern(t *testing.T) {
	tmpl := &Template{Rows: []Row{{Elements: []Element{
		{ID: "name", Type: ElementText, Label: "Name", Validation: &Validation{Pattern: "^[A-Za-z ]+$"}},
	}}}}
	errs := checkAnswers(tmpl, answers(map[string]string{"name": `"R2D2"`}), nil)
	assert.Equal(t, "Does not match the required format", errs["name"])
	assert.Nil(t, checkAnswers(tmpl, answers(map[string]string{"name": `"  "`}), nil), "blank optional answers are skipped")
}

func TestBuiltins(t *testing.T) {
	reqs, err := Builtins()
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "Pre-Employment Health Questionnaire", reqs[0].Name)
	assert.Equal(t, "return-to-work", reqs[1].Category)

	_, err = parseBuiltins([]byte("- name: Broken\n  rows: []\n"))
	assert.Error(t, err)
}
