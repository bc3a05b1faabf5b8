package domain

import (
	"encoding/json"
	"fmt"
)

// QuestionType identifies the kind of question a task produces.
type QuestionType string

// Supported question types
const (
	QuestionTypeMCQ         QuestionType = "mcq"
	QuestionTypeTrueFalse   QuestionType = "true_false"
	QuestionTypeShortAnswer QuestionType = "short_answer"
	QuestionTypeEssay       QuestionType = "essay"
)

// QuestionTypes lists every supported type in a stable order.
var QuestionTypes = []QuestionType{
	QuestionTypeMCQ,
	QuestionTypeTrueFalse,
	QuestionTypeShortAnswer,
	QuestionTypeEssay,
}

// Valid reports whether t is a supported question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeMCQ, QuestionTypeTrueFalse, QuestionTypeShortAnswer, QuestionTypeEssay:
		return true
	}
	return false
}

// ParseQuestionType converts s into a QuestionType.
func ParseQuestionType(s string) (QuestionType, error) {
	t := QuestionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidQuestionType, s)
	}
	return t, nil
}

// Difficulty is the target difficulty of a question.
type Difficulty string

// Supported difficulties
const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is a supported difficulty.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// ParseDifficulty converts s into a Difficulty. An empty string yields medium.
func ParseDifficulty(s string) (Difficulty, error) {
	if s == "" {
		return DifficultyMedium, nil
	}
	d := Difficulty(s)
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDifficulty, s)
	}
	return d, nil
}

// QuestionSpec is the typed, per-kind part of a job payload.
type QuestionSpec interface {
	QuestionType() QuestionType
	Validate() error
}

// MCQSpec describes a multiple choice question.
type MCQSpec struct {
	OptionCount int `json:"option_count"`
}

// QuestionType implements QuestionSpec.
func (MCQSpec) QuestionType() QuestionType { return QuestionTypeMCQ }

// Validate implements QuestionSpec.
func (s MCQSpec) Validate() error {
	if s.OptionCount < 3 || s.OptionCount > 6 {
		return fmt.Errorf("%w: mcq option count %d outside 3..6", ErrInvalidPayload, s.OptionCount)
	}
	return nil
}

// TrueFalseSpec describes a true/false statement.
type TrueFalseSpec struct {
	RequireJustification bool `json:"require_justification"`
}

// QuestionType implements QuestionSpec.
func (TrueFalseSpec) QuestionType() QuestionType { return QuestionTypeTrueFalse }

// Validate implements QuestionSpec.
func (TrueFalseSpec) Validate() error { return nil }

// ShortAnswerSpec describes a question answered in a few words.
type ShortAnswerSpec struct {
	MaxAnswerWords int `json:"max_answer_words"`
}

// QuestionType implements QuestionSpec.
func (ShortAnswerSpec) QuestionType() QuestionType { return QuestionTypeShortAnswer }

// Validate implements QuestionSpec.
func (s ShortAnswerSpec) Validate() error {
	if s.MaxAnswerWords <= 0 {
		return fmt.Errorf("%w: short answer word limit must be positive", ErrInvalidPayload)
	}
	return nil
}

// EssaySpec describes an open essay prompt with a grading rubric.
type EssaySpec struct {
	MinWords     int `json:"min_words"`
	RubricPoints int `json:"rubric_points"`
}

// QuestionType implements QuestionSpec.
func (EssaySpec) QuestionType() QuestionType { return QuestionTypeEssay }

// Validate implements QuestionSpec.
func (s EssaySpec) Validate() error {
	if s.MinWords <= 0 {
		return fmt.Errorf("%w: essay minimum words must be positive", ErrInvalidPayload)
	}
	if s.RubricPoints <= 0 {
		return fmt.Errorf("%w: essay rubric needs at least one point", ErrInvalidPayload)
	}
	return nil
}

// DefaultSpec returns the per-type settings used when a plan does not customise a type.
func DefaultSpec(t QuestionType) (QuestionSpec, error) {
	switch t {
	case QuestionTypeMCQ:
		return MCQSpec{OptionCount: 4}, nil
	case QuestionTypeTrueFalse:
		return TrueFalseSpec{}, nil
	case QuestionTypeShortAnswer:
		return ShortAnswerSpec{MaxAnswerWords: 12}, nil
	case QuestionTypeEssay:
		return EssaySpec{MinWords: 150, RubricPoints: 3}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidQuestionType, t)
}

// JobPayload is the tagged variant carried by a job: Type is the
// discriminant and Spec the typed body for that kind.
type JobPayload struct {
	Type       QuestionType
	Difficulty Difficulty
	Topics     []string
	Spec       QuestionSpec
}

// NewJobPayload builds a payload with the default spec for t.
func NewJobPayload(t QuestionType, d Difficulty, topics []string) (JobPayload, error) {
	spec, err := DefaultSpec(t)
	if err != nil {
		return JobPayload{}, err
	}
	p := JobPayload{Type: t, Difficulty: d, Topics: topics, Spec: spec}
	return p, p.Validate()
}

// Validate checks that the discriminant agrees with the typed spec.
func (p JobPayload) Validate() error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, ErrInvalidQuestionType)
	}
	if !p.Difficulty.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, ErrInvalidDifficulty)
	}
	if p.Spec == nil {
		return fmt.Errorf("%w: missing spec for %s", ErrInvalidPayload, p.Type)
	}
	if p.Spec.QuestionType() != p.Type {
		return fmt.Errorf("%w: spec kind %s does not match type %s",
			ErrInvalidPayload, p.Spec.QuestionType(), p.Type)
	}
	return p.Spec.Validate()
}

type payloadEnvelope struct {
	Type       QuestionType    `json:"type"`
	Difficulty Difficulty      `json:"difficulty"`
	Topics     []string        `json:"topics,omitempty"`
	Spec       json.RawMessage `json:"spec"`
}

// MarshalJSON encodes the payload as {"type":..., "spec":{...}}.
func (p JobPayload) MarshalJSON() ([]byte, error) {
	spec, err := json.Marshal(p.Spec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payloadEnvelope{
		Type:       p.Type,
		Difficulty: p.Difficulty,
		Topics:     p.Topics,
		Spec:       spec,
	})
}

// UnmarshalJSON decodes the envelope and picks the concrete spec from the
// type discriminant.
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	var env payloadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var spec QuestionSpec
	switch env.Type {
	case QuestionTypeMCQ:
		var s MCQSpec
		if err := decodeSpec(env.Spec, &s); err != nil {
			return err
		}
		spec = s
	case QuestionTypeTrueFalse:
		var s TrueFalseSpec
		if err := decodeSpec(env.Spec, &s); err != nil {
			return err
		}
		spec = s
	case QuestionTypeShortAnswer:
		var s ShortAnswerSpec
		if err := decodeSpec(env.Spec, &s); err != nil {
			return err
		}
		spec = s
	case QuestionTypeEssay:
		var s EssaySpec
		if err := decodeSpec(env.Spec, &s); err != nil {
			return err
		}
		spec = s
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPayload, env.Type)
	}

	*p = JobPayload{Type: env.Type, Difficulty: env.Difficulty, Topics: env.Topics, Spec: spec}
	return nil
}

func decodeSpec(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: missing spec", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
