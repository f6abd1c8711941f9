package convert

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/phrazzld/kcjob/internal/domain"
)

const choicePrefix = "choice_"

// validateCommon applies the rules shared by every format.
func validateCommon(records []rawRecord) error {
	for i, rec := range records {
		for _, field := range []string{"id", "type", "question"} {
			if isBlank(rec[field]) {
				return recordError(i, field, "'%s' field is required and cannot be empty", field)
			}
		}
	}
	return nil
}

// validateJSONStructure applies the nested-shape rules for json and jsonl input.
func validateJSONStructure(records []rawRecord) error {
	for i, rec := range records {
		question, ok := rec["question"].(map[string]any)
		if !ok {
			return recordError(i, "question", "'question' field must be an object, not %s", jsonTypeName(rec["question"]))
		}
		if _, ok := question["stem"]; !ok {
			return recordError(i, "question.stem", "'question' object missing required 'stem' field")
		}

		if rec["type"] != domain.QuestionTypeMultipleChoice {
			continue
		}
		raw, ok := question["choices"]
		if !ok {
			return recordError(i, "question.choices", "Multiple Choice question missing 'choices' array")
		}
		choices, ok := raw.([]any)
		if !ok || len(choices) == 0 {
			return recordError(i, "question.choices", "'choices' must be a non-empty array for Multiple Choice questions")
		}
		if len(choices) == 1 {
			return recordError(i, "question.choices", "'choices' for Multiple Choice questions must have more than one option")
		}
		for j, item := range choices {
			choice, ok := item.(map[string]any)
			if !ok {
				return choiceError(i, j, "Each choice must be an object")
			}
			_, hasLabel := choice["label"]
			_, hasText := choice["text"]
			if !hasLabel || !hasText {
				return choiceError(i, j, "Each choice must have 'label' and 'text' fields")
			}
		}
	}
	return nil
}

func choiceError(index, choice int, msg string) *ValidationError {
	return &ValidationError{
		Index:   index,
		Field:   fmt.Sprintf("question.choices[%d]", choice),
		Message: fmt.Sprintf("Record %d, Choice %d: %s", index+1, choice+1, msg),
	}
}

// validateTabular applies the flat-row rules for csv and excel input.
func validateTabular(records []rawRecord) error {
	for i, rec := range records {
		if rec["type"] != domain.QuestionTypeMultipleChoice {
			continue
		}
		cols := choiceColumns(rec)
		if len(cols) == 0 {
			return recordError(i, "choices", "Multiple Choice question missing choice columns (columns starting with '%s')", choicePrefix)
		}
		populated := 0
		for _, col := range cols {
			if !isBlank(rec[col]) {
				populated++
			}
		}
		switch populated {
		case 0:
			return recordError(i, "choices", "Multiple Choice question has no populated choice columns")
		case 1:
			return recordError(i, "choices", "'choices' for Multiple Choice questions must have more than one option")
		}
	}
	return nil
}

// validateSchema checks value types against the embedded record schema.
func validateSchema(schema *jsonschema.Schema, records []rawRecord) error {
	for i, rec := range records {
		err := schema.Validate(rec)
		if err == nil {
			continue
		}
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return recordError(i, "", "%v", err)
		}
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		field := strings.ReplaceAll(strings.TrimPrefix(leaf.InstanceLocation, "/"), "/", ".")
		if field == "" {
			return recordError(i, "", "%s", leaf.Message)
		}
		return recordError(i, field, "'%s' %s", field, leaf.Message)
	}
	return nil
}

// newValidator reports struct fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRecords is the last check on the canonical records.
func validateRecords(v *validator.Validate, records []domain.Record) error {
	for i := range records {
		err := v.Struct(records[i])
		if err == nil {
			continue
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return recordError(i, "", "%v", err)
		}
		fe := verrs[0]
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		return recordError(i, field, "'%s' failed %s validation", field, fe.Tag())
	}
	return nil
}

func choiceColumns(rec rawRecord) []string {
	var cols []string
	for k := range rec {
		if strings.HasPrefix(k, choicePrefix) {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)
	return cols
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	default:
		return false
	}
}
