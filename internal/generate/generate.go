// Package generate turns a topic description into a validated test.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlab/testcraft/internal/llm"
	"github.com/tutorlab/testcraft/internal/prompts"
	"github.com/tutorlab/testcraft/internal/schema"
)

// questionSetSchema is the JSON shape the model must produce for a
// generation request.
var questionSetSchema = &llm.Schema{
	Name:        "question-set",
	Description: "A set of test questions with correct answers and concept tags",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question_id":   map[string]any{"type": "string"},
						"question_text": map[string]any{"type": "string", "minLength": 1},
						"question_type": map[string]any{
							"type": "string",
							"enum": []any{"mcq", "short", "numerical"},
						},
						"mcq_options": map[string]any{
							"type": []any{"array", "null"},
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"option": map[string]any{"type": "string"},
									"label":  map[string]any{"type": "string"},
								},
								"required": []any{"option", "label"},
							},
						},
						"correct_answer": map[string]any{"type": "string", "minLength": 1},
						"explanation":    map[string]any{"type": "string"},
						"concept_tag":    map[string]any{"type": "string"},
						"points":         map[string]any{"type": "integer"},
					},
					"required": []any{"question_text", "question_type", "correct_answer"},
				},
			},
		},
		"required": []any{"questions"},
	},
}

// questionSet is the decoded model output before repair and validation.
type questionSet struct {
	Questions []schema.Question `json:"questions"`
}

// Config holds generation engine settings.
type Config struct {
	// MaxAttempts bounds the structured-decode repair loop.
	MaxAttempts int

	// DefaultPoints is assigned when the model omits a point value.
	DefaultPoints int
}

// Engine generates tests via the prompt builder and the LLM gateway.
type Engine struct {
	completer llm.Completer
	cfg       Config
}

// New creates a generation engine.
func New(c llm.Completer, cfg Config) *Engine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = llm.DefaultMaxAttempts
	}
	if cfg.DefaultPoints <= 0 {
		cfg.DefaultPoints = 10
	}
	return &Engine{completer: c, cfg: cfg}
}

// Generate produces a validated test for the requested topic, difficulty,
// and type mix. It fails hard when the model under-delivers even after
// repair: a silently short test would corrupt the total_points contract.
func (e *Engine) Generate(ctx context.Context, req schema.GenerateRequest) (*schema.Test, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	prompt := prompts.Generation(req.Topic, req.Difficulty, req.NumberOfQuestions, req.QuestionTypes)

	var set questionSet
	if err := llm.DecodeStructured(ctx, e.completer, prompt, questionSetSchema, &set, e.cfg.MaxAttempts); err != nil {
		return nil, err
	}

	if got := len(set.Questions); got != req.NumberOfQuestions {
		return nil, fmt.Errorf("model generated %d questions, expected %d", got, req.NumberOfQuestions)
	}

	questions := e.repairQuestions(set.Questions)

	if err := checkTypes(questions, req); err != nil {
		return nil, err
	}

	total := 0
	for _, q := range questions {
		total += q.Points
	}

	test := &schema.Test{
		ID:          newTestID(),
		Topic:       req.Topic,
		Difficulty:  req.Difficulty,
		Questions:   questions,
		TotalPoints: total,
		CreatedAt:   time.Now().UTC(),
	}
	if err := test.Validate(); err != nil {
		return nil, fmt.Errorf("generated test invalid: %w", err)
	}

	slog.Info("generated test",
		"test_id", test.ID,
		"topic", test.Topic,
		"difficulty", test.Difficulty,
		"questions", len(test.Questions),
		"total_points", test.TotalPoints,
	)
	return test, nil
}

// repairQuestions fixes the defects the engine owns rather than the model:
// missing or duplicate ids, omitted points, and omitted default fields.
func (e *Engine) repairQuestions(in []schema.Question) []schema.Question {
	out := make([]schema.Question, len(in))
	seen := make(map[string]bool, len(in))

	for i, q := range in {
		id := strings.TrimSpace(q.ID)
		if id == "" || seen[id] {
			id = freshID(seen, i+1)
		}
		seen[id] = true
		q.ID = id

		if q.Points <= 0 {
			q.Points = e.cfg.DefaultPoints
		}
		if strings.TrimSpace(q.ConceptTag) == "" {
			q.ConceptTag = "general"
		}
		if strings.TrimSpace(q.Explanation) == "" {
			q.Explanation = "No explanation provided"
		}
		if q.Type != schema.TypeMCQ {
			q.MCQOptions = nil
		}
		out[i] = q
	}
	return out
}

// freshID returns the first "q<n>" id, counting up from n, that is not
// already taken. A positional replacement alone could collide with a
// model-supplied id later in the set.
func freshID(seen map[string]bool, n int) string {
	id := fmt.Sprintf("q%d", n)
	for seen[id] {
		n++
		id = fmt.Sprintf("q%d", n)
	}
	return id
}

// checkTypes enforces the type mix: every generated question must use a
// requested type, and every requested type must appear when the question
// count allows it.
func checkTypes(questions []schema.Question, req schema.GenerateRequest) error {
	requested := make(map[schema.QuestionType]bool, len(req.QuestionTypes))
	for _, t := range req.QuestionTypes {
		requested[t] = false
	}

	for _, q := range questions {
		if _, ok := requested[q.Type]; !ok {
			return fmt.Errorf("model generated question %q with unrequested type %q", q.ID, q.Type)
		}
		requested[q.Type] = true
	}

	if req.NumberOfQuestions >= len(req.QuestionTypes) {
		for _, t := range req.QuestionTypes {
			if !requested[t] {
				return fmt.Errorf("model omitted requested question type %q", t)
			}
		}
	}
	return nil
}

func newTestID() string {
	return "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
