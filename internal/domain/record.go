package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// QuestionTypeMultipleChoice is the type tag that requires a choices list.
const QuestionTypeMultipleChoice = "Multiple Choice"

// Choice is one labeled option of a multiple-choice question.
type Choice struct {
	Label string `json:"label" validate:"required"`
	Text  string `json:"text" validate:"required"`
}

// Question is the structured prompt of a record.
type Question struct {
	Stem    string   `json:"stem" validate:"required"`
	Choices []Choice `json:"choices,omitempty" validate:"omitempty,dive"`
}

// Record is one question item in canonical shape. Extra holds any
// additional source columns, passed through untouched.
type Record struct {
	ID       string         `json:"id" validate:"required"`
	Type     string         `json:"type" validate:"required"`
	Question Question       `json:"question"`
	Extra    map[string]any `json:"-"`
}

// IsMultipleChoice reports whether the record carries the multiple-choice tag.
func (r Record) IsMultipleChoice() bool {
	return r.Type == QuestionTypeMultipleChoice
}

// MarshalJSON flattens Extra next to the canonical fields, with stable key order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		val, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal field %s: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
		return nil
	}

	if err := write("id", r.ID); err != nil {
		return nil, err
	}
	if err := write("type", r.Type); err != nil {
		return nil, err
	}
	if err := write("question", r.Question); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		switch k {
		case "id", "type", "question":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, r.Extra[k]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the canonical fields and keeps the rest in Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Record
	if v, ok := raw["id"]; ok {
		id, err := scalarString(v)
		if err != nil {
			return fmt.Errorf("field id: %w", err)
		}
		out.ID = id
	}
	if v, ok := raw["type"]; ok {
		if err := json.Unmarshal(v, &out.Type); err != nil {
			return fmt.Errorf("field type: %w", err)
		}
	}
	if v, ok := raw["question"]; ok {
		if err := json.Unmarshal(v, &out.Question); err != nil {
			return fmt.Errorf("field question: %w", err)
		}
	}

	for k, v := range raw {
		switch k {
		case "id", "type", "question":
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		if out.Extra == nil {
			out.Extra = make(map[string]any)
		}
		out.Extra[k] = val
	}

	*r = out
	return nil
}

// scalarString accepts JSON strings and numbers, since ids are often numeric.
func scalarString(v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("expected string or number")
	}
	return n.String(), nil
}
