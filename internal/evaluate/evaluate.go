// Package evaluate grades student answers against a stored test and
// aggregates the per-question judgments into a test-level result.
package evaluate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/tutorlab/testcraft/internal/llm"
	"github.com/tutorlab/testcraft/internal/prompts"
	"github.com/tutorlab/testcraft/internal/schema"
)

// rubricMax is the sum of the three 0-5 rubric sub-scores.
const rubricMax = 15

// UnknownQuestionError means a submitted answer references a question id
// that is not part of the test. The whole evaluation fails; a malformed
// request is not the same as an unanswered question.
type UnknownQuestionError struct {
	QuestionID string
}

func (e *UnknownQuestionError) Error() string {
	return fmt.Sprintf("answer references unknown question %q", e.QuestionID)
}

var rubricSchema = &llm.Schema{
	Name:        "rubric-evaluation",
	Description: "Rubric sub-scores and feedback for a free-text answer",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"accuracy_score":          map[string]any{"type": "integer", "minimum": 0, "maximum": 5},
			"clarity_score":           map[string]any{"type": "integer", "minimum": 0, "maximum": 5},
			"explanation_score":       map[string]any{"type": "integer", "minimum": 0, "maximum": 5},
			"feedback":                map[string]any{"type": "string"},
			"is_conceptually_correct": map[string]any{"type": "boolean"},
		},
		"required": []any{"accuracy_score", "clarity_score", "explanation_score", "feedback"},
	},
}

var mcqFeedbackSchema = &llm.Schema{
	Name:        "mcq-feedback",
	Description: "Qualitative feedback for a multiple-choice answer",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"is_correct": map[string]any{"type": "boolean"},
			"feedback":   map[string]any{"type": "string"},
		},
		"required": []any{"feedback"},
	},
}

var overallSchema = &llm.Schema{
	Name:        "overall-feedback",
	Description: "Test-level improvement suggestions and overall feedback",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"improvement_suggestions": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"overall_feedback": map[string]any{"type": "string"},
		},
		"required": []any{"improvement_suggestions", "overall_feedback"},
	},
}

type rubricOutput struct {
	AccuracyScore    int    `json:"accuracy_score"`
	ClarityScore     int    `json:"clarity_score"`
	ExplanationScore int    `json:"explanation_score"`
	Feedback         string `json:"feedback"`
	Correct          bool   `json:"is_conceptually_correct"`
}

type mcqFeedbackOutput struct {
	IsCorrect bool   `json:"is_correct"`
	Feedback  string `json:"feedback"`
}

type overallOutput struct {
	ImprovementSuggestions []string `json:"improvement_suggestions"`
	OverallFeedback        string   `json:"overall_feedback"`
}

// Config holds evaluation engine settings.
type Config struct {
	// MaxAttempts bounds each structured-decode repair loop.
	MaxAttempts int

	// MasteryThreshold is the normalized per-concept score below which a
	// concept is classified weak. Default 0.70.
	MasteryThreshold float64
}

// DefaultMasteryThreshold classifies a concept weak below 70%.
const DefaultMasteryThreshold = 0.70

// Engine grades submissions using the prompt builder and the LLM gateway.
type Engine struct {
	completer llm.Completer
	cfg       Config
}

// New creates an evaluation engine.
func New(c llm.Completer, cfg Config) *Engine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = llm.DefaultMaxAttempts
	}
	if cfg.MasteryThreshold <= 0 || cfg.MasteryThreshold >= 1 {
		cfg.MasteryThreshold = DefaultMasteryThreshold
	}
	return &Engine{completer: c, cfg: cfg}
}

// Evaluate grades each answer against its question, in test order, and
// aggregates into an EvaluationResult. Questions without a submitted answer
// are excluded from both the feedback list and max_score. An answer for a
// question the test does not contain fails the whole evaluation.
func (e *Engine) Evaluate(ctx context.Context, test *schema.Test, answers []schema.StudentAnswer) (*schema.EvaluationResult, error) {
	if err := test.Validate(); err != nil {
		return nil, fmt.Errorf("stored test is invalid: %w", err)
	}

	answerByID := make(map[string]string, len(answers))
	for _, a := range answers {
		if _, ok := test.QuestionByID(a.QuestionID); !ok {
			return nil, &UnknownQuestionError{QuestionID: a.QuestionID}
		}
		if _, dup := answerByID[a.QuestionID]; dup {
			return nil, &schema.ValidationError{
				Field:   "student_answers",
				Message: fmt.Sprintf("duplicate answer for question %q", a.QuestionID),
			}
		}
		answerByID[a.QuestionID] = a.Answer
	}

	result := &schema.EvaluationResult{TestID: test.ID}

	if len(answerByID) == 0 {
		result.EmptySubmission = true
		result.WeakConcepts = []string{}
		result.ImprovementSuggestions = []string{}
		result.OverallFeedback = "No answers submitted."
		return result, nil
	}

	for _, q := range test.Questions {
		answer, answered := answerByID[q.ID]
		if !answered {
			continue
		}

		var fb schema.QuestionFeedback
		var err error
		if q.Type == schema.TypeMCQ {
			fb = e.gradeMCQ(ctx, q, answer)
		} else {
			fb, err = e.gradeFreeText(ctx, q, answer)
			if err != nil {
				return nil, fmt.Errorf("grade question %s: %w", q.ID, err)
			}
		}

		result.QuestionFeedback = append(result.QuestionFeedback, fb)
		result.TotalScore += fb.PointsEarned
		result.MaxScore += fb.PointsPossible
	}

	result.Percentage = round2(100 * float64(result.TotalScore) / float64(result.MaxScore))
	result.WeakConcepts = weakConcepts(result.QuestionFeedback, e.cfg.MasteryThreshold)

	e.fillOverallFeedback(ctx, result)
	return result, nil
}

// gradeMCQ decides correctness locally by label comparison; the LLM call is
// advisory feedback only and its failure never affects the score.
func (e *Engine) gradeMCQ(ctx context.Context, q schema.Question, answer string) schema.QuestionFeedback {
	correct := normalizeLabel(answer) == normalizeLabel(q.Correct)
	earned := 0
	if correct {
		earned = q.Points
	}

	feedback := ""
	var out mcqFeedbackOutput
	if err := llm.DecodeStructured(ctx, e.completer, prompts.MCQFeedback(q, answer), mcqFeedbackSchema, &out, e.cfg.MaxAttempts); err != nil {
		slog.Warn("mcq feedback call failed, using fallback", "question_id", q.ID, "error", err)
	} else {
		feedback = strings.TrimSpace(out.Feedback)
	}
	if feedback == "" {
		if correct {
			feedback = "Your answer is correct. " + q.Explanation
		} else {
			feedback = "Your answer is incorrect. " + q.Explanation
		}
	}

	return schema.QuestionFeedback{
		QuestionID:     q.ID,
		Type:           q.Type,
		StudentAnswer:  answer,
		CorrectAnswer:  q.Correct,
		IsCorrect:      &correct,
		PointsEarned:   earned,
		PointsPossible: q.Points,
		Feedback:       feedback,
		ConceptTag:     q.ConceptTag,
	}
}

// gradeFreeText obtains the three rubric sub-scores from the model and
// converts them to points. A blank submission short-circuits to zero without
// an external call. A gateway failure here fails the evaluation: a guessed
// score is worse than no score.
func (e *Engine) gradeFreeText(ctx context.Context, q schema.Question, answer string) (schema.QuestionFeedback, error) {
	fb := schema.QuestionFeedback{
		QuestionID:     q.ID,
		Type:           q.Type,
		StudentAnswer:  answer,
		CorrectAnswer:  q.Correct,
		PointsPossible: q.Points,
		ConceptTag:     q.ConceptTag,
	}

	if strings.TrimSpace(answer) == "" {
		zero := 0
		fb.AccuracyScore, fb.ClarityScore, fb.ExplanationScore = &zero, &zero, &zero
		fb.Feedback = "No answer provided."
		return fb, nil
	}

	var out rubricOutput
	if err := llm.DecodeStructured(ctx, e.completer, prompts.Rubric(q, answer), rubricSchema, &out, e.cfg.MaxAttempts); err != nil {
		return schema.QuestionFeedback{}, err
	}

	// Clamp post-decode even though the schema bounds the range.
	accuracy := clampScore(out.AccuracyScore)
	clarity := clampScore(out.ClarityScore)
	explanation := clampScore(out.ExplanationScore)

	fb.AccuracyScore, fb.ClarityScore, fb.ExplanationScore = &accuracy, &clarity, &explanation
	fb.PointsEarned = rubricPoints(accuracy, clarity, explanation, q.Points)
	fb.Feedback = out.Feedback
	return fb, nil
}

// fillOverallFeedback adds the advisory summary, falling back to templated
// text when the model call fails. It never touches the scores.
func (e *Engine) fillOverallFeedback(ctx context.Context, result *schema.EvaluationResult) {
	var out overallOutput
	err := llm.DecodeStructured(ctx, e.completer,
		prompts.OverallFeedback(result.WeakConcepts, result.Percentage),
		overallSchema, &out, e.cfg.MaxAttempts)
	if err == nil && strings.TrimSpace(out.OverallFeedback) != "" && len(out.ImprovementSuggestions) > 0 {
		result.ImprovementSuggestions = out.ImprovementSuggestions
		result.OverallFeedback = out.OverallFeedback
		return
	}
	if err != nil {
		slog.Warn("overall feedback call failed, using fallback", "test_id", result.TestID, "error", err)
	}

	if len(result.WeakConcepts) > 0 {
		result.ImprovementSuggestions = []string{
			"Focus on improving: " + strings.Join(result.WeakConcepts, ", "),
			"Review explanations for incorrect answers",
			"Try more practice tests to strengthen understanding",
		}
	} else {
		result.ImprovementSuggestions = []string{
			"Continue practicing",
			"Review explanations for incorrect answers",
		}
	}
	result.OverallFeedback = fmt.Sprintf("Test completed with %.1f%% score. Review the feedback for each question.", result.Percentage)
}

// rubricPoints converts the 0-15 rubric total into question points,
// rounding half away from zero.
func rubricPoints(accuracy, clarity, explanation, possible int) int {
	total := accuracy + clarity + explanation
	return int(math.Round(float64(possible) * float64(total) / rubricMax))
}

// weakConcepts groups feedback by concept tag and flags tags whose
// normalized score falls below the mastery threshold. The result is sorted
// for deterministic output.
func weakConcepts(feedback []schema.QuestionFeedback, threshold float64) []string {
	earned := make(map[string]int)
	possible := make(map[string]int)
	for _, fb := range feedback {
		earned[fb.ConceptTag] += fb.PointsEarned
		possible[fb.ConceptTag] += fb.PointsPossible
	}

	weak := make([]string, 0)
	for tag, max := range possible {
		if max == 0 {
			continue
		}
		if float64(earned[tag])/float64(max) < threshold {
			weak = append(weak, tag)
		}
	}
	sort.Strings(weak)
	return weak
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}

func normalizeLabel(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
