// Package schema defines the shared vocabulary of the service: question,
// test, answer, and result types plus the validation every cross-component
// payload goes through before use.
package schema

import (
	"fmt"
	"strings"
	"time"
)

// QuestionType represents the kind of a test question.
type QuestionType string

const (
	TypeMCQ       QuestionType = "mcq"
	TypeShort     QuestionType = "short"
	TypeNumerical QuestionType = "numerical"
)

// QuestionTypes lists all supported question types.
var QuestionTypes = []QuestionType{TypeMCQ, TypeShort, TypeNumerical}

// IsValid reports whether the question type is one of the supported values.
func (t QuestionType) IsValid() bool {
	switch t {
	case TypeMCQ, TypeShort, TypeNumerical:
		return true
	}
	return false
}

// Difficulty represents a test difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid reports whether the difficulty is one of the supported values.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// ValidationError describes a malformed payload, naming the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// MCQOption is a single labeled choice of a multiple-choice question.
type MCQOption struct {
	Option string `json:"option"`
	Label  string `json:"label"`
}

// Question is the internal question record. It carries the grading
// artifacts (correct answer, explanation) and must never be sent to the
// student-facing side; use Public for that.
type Question struct {
	ID          string       `json:"question_id"`
	Text        string       `json:"question_text"`
	Type        QuestionType `json:"question_type"`
	MCQOptions  []MCQOption  `json:"mcq_options,omitempty"`
	Correct     string       `json:"correct_answer"`
	Explanation string       `json:"explanation"`
	ConceptTag  string       `json:"concept_tag"`
	Points      int          `json:"points"`
}

// Validate checks the question's structural invariants.
func (q Question) Validate() error {
	if q.ID == "" {
		return &ValidationError{Field: "question_id", Message: "must not be empty"}
	}
	if strings.TrimSpace(q.Text) == "" {
		return &ValidationError{Field: "question_text", Message: "must not be empty"}
	}
	if !q.Type.IsValid() {
		return &ValidationError{Field: "question_type", Message: fmt.Sprintf("unknown type %q", q.Type)}
	}
	if q.Points <= 0 {
		return &ValidationError{Field: "points", Message: "must be a positive integer"}
	}
	if q.Correct == "" {
		return &ValidationError{Field: "correct_answer", Message: "must not be empty"}
	}
	if q.Type == TypeMCQ {
		if len(q.MCQOptions) < 2 || len(q.MCQOptions) > 6 {
			return &ValidationError{Field: "mcq_options", Message: fmt.Sprintf("need 2-6 options, got %d", len(q.MCQOptions))}
		}
		if !q.correctLabelPresent() {
			return &ValidationError{Field: "correct_answer", Message: fmt.Sprintf("label %q not among options", q.Correct)}
		}
	} else if len(q.MCQOptions) > 0 {
		return &ValidationError{Field: "mcq_options", Message: "only multiple-choice questions carry options"}
	}
	return nil
}

func (q Question) correctLabelPresent() bool {
	want := strings.ToUpper(strings.TrimSpace(q.Correct))
	for _, opt := range q.MCQOptions {
		if strings.ToUpper(strings.TrimSpace(opt.Label)) == want {
			return true
		}
	}
	return false
}

// PublicQuestion is the student-facing view of a question, without the
// correct answer or explanation.
type PublicQuestion struct {
	ID         string       `json:"question_id"`
	Text       string       `json:"question_text"`
	Type       QuestionType `json:"question_type"`
	MCQOptions []MCQOption  `json:"mcq_options,omitempty"`
	Points     int          `json:"points"`
}

// Public strips the grading artifacts from a question.
func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:         q.ID,
		Text:       q.Text,
		Type:       q.Type,
		MCQOptions: q.MCQOptions,
		Points:     q.Points,
	}
}

// Test is an ordered, immutable set of questions produced by the generation
// engine. TotalPoints is always derived from the questions, never supplied.
type Test struct {
	ID          string     `json:"test_id"`
	Topic       string     `json:"topic"`
	Difficulty  Difficulty `json:"difficulty"`
	Questions   []Question `json:"questions"`
	TotalPoints int        `json:"total_points"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Validate checks the test-level invariants: non-empty ordered question set,
// unique question ids, and a total that matches the question points.
func (t Test) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "test_id", Message: "must not be empty"}
	}
	if !t.Difficulty.IsValid() {
		return &ValidationError{Field: "difficulty", Message: fmt.Sprintf("unknown difficulty %q", t.Difficulty)}
	}
	if len(t.Questions) == 0 {
		return &ValidationError{Field: "questions", Message: "must not be empty"}
	}
	seen := make(map[string]bool, len(t.Questions))
	sum := 0
	for i, q := range t.Questions {
		if err := q.Validate(); err != nil {
			return &ValidationError{Field: fmt.Sprintf("questions[%d]", i), Message: err.Error()}
		}
		if seen[q.ID] {
			return &ValidationError{Field: "questions", Message: fmt.Sprintf("duplicate question_id %q", q.ID)}
		}
		seen[q.ID] = true
		sum += q.Points
	}
	if t.TotalPoints != sum {
		return &ValidationError{Field: "total_points", Message: fmt.Sprintf("got %d, question points sum to %d", t.TotalPoints, sum)}
	}
	return nil
}

// QuestionByID returns the question with the given id, or false.
func (t Test) QuestionByID(id string) (Question, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// PublicTest is the student-facing view of a generated test.
type PublicTest struct {
	ID          string           `json:"test_id"`
	Questions   []PublicQuestion `json:"questions"`
	TotalPoints int              `json:"total_points"`
	Topic       string           `json:"topic"`
	Difficulty  Difficulty       `json:"difficulty"`
}

// Public returns the test without any grading artifacts.
func (t Test) Public() PublicTest {
	pub := PublicTest{
		ID:          t.ID,
		Questions:   make([]PublicQuestion, 0, len(t.Questions)),
		TotalPoints: t.TotalPoints,
		Topic:       t.Topic,
		Difficulty:  t.Difficulty,
	}
	for _, q := range t.Questions {
		pub.Questions = append(pub.Questions, q.Public())
	}
	return pub
}

// GenerateRequest holds the parameters for test generation.
type GenerateRequest struct {
	Topic             string         `json:"topic"`
	Difficulty        Difficulty     `json:"difficulty"`
	NumberOfQuestions int            `json:"number_of_questions"`
	QuestionTypes     []QuestionType `json:"question_types"`
}

// Validate rejects malformed generation parameters before any external call.
func (r GenerateRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return &ValidationError{Field: "topic", Message: "must not be empty"}
	}
	if !r.Difficulty.IsValid() {
		return &ValidationError{Field: "difficulty", Message: fmt.Sprintf("unknown difficulty %q", r.Difficulty)}
	}
	if r.NumberOfQuestions < 1 || r.NumberOfQuestions > 20 {
		return &ValidationError{Field: "number_of_questions", Message: "must be between 1 and 20"}
	}
	if len(r.QuestionTypes) == 0 {
		return &ValidationError{Field: "question_types", Message: "must not be empty"}
	}
	seen := make(map[QuestionType]bool, len(r.QuestionTypes))
	for _, qt := range r.QuestionTypes {
		if !qt.IsValid() {
			return &ValidationError{Field: "question_types", Message: fmt.Sprintf("unknown type %q", qt)}
		}
		if seen[qt] {
			return &ValidationError{Field: "question_types", Message: fmt.Sprintf("duplicate type %q", qt)}
		}
		seen[qt] = true
	}
	return nil
}

// StudentAnswer is a single submitted answer, referencing a question of the
// associated test by id.
type StudentAnswer struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// EvaluateRequest holds a full answer submission for a stored test.
type EvaluateRequest struct {
	TestID         string          `json:"test_id"`
	LearnerID      string          `json:"learner_id,omitempty"`
	StudentAnswers []StudentAnswer `json:"student_answers"`
}

// Validate rejects structurally malformed submissions. Whether each answer
// references a real question is the evaluation engine's check, since it
// needs the stored test.
func (r EvaluateRequest) Validate() error {
	if r.TestID == "" {
		return &ValidationError{Field: "test_id", Message: "must not be empty"}
	}
	seen := make(map[string]bool, len(r.StudentAnswers))
	for i, a := range r.StudentAnswers {
		if a.QuestionID == "" {
			return &ValidationError{Field: fmt.Sprintf("student_answers[%d].question_id", i), Message: "must not be empty"}
		}
		if seen[a.QuestionID] {
			return &ValidationError{Field: "student_answers", Message: fmt.Sprintf("duplicate answer for question %q", a.QuestionID)}
		}
		seen[a.QuestionID] = true
	}
	return nil
}

// QuestionFeedback is the grading outcome for a single answered question.
// IsCorrect is set for multiple-choice only; the three rubric sub-scores are
// set for short/numerical only.
type QuestionFeedback struct {
	QuestionID       string       `json:"question_id"`
	Type             QuestionType `json:"question_type"`
	StudentAnswer    string       `json:"student_answer"`
	CorrectAnswer    string       `json:"correct_answer"`
	IsCorrect        *bool        `json:"is_correct,omitempty"`
	AccuracyScore    *int         `json:"accuracy_score,omitempty"`
	ClarityScore     *int         `json:"clarity_score,omitempty"`
	ExplanationScore *int         `json:"explanation_score,omitempty"`
	PointsEarned     int          `json:"points_earned"`
	PointsPossible   int          `json:"points_possible"`
	Feedback         string       `json:"feedback"`
	ConceptTag       string       `json:"concept_tag"`
}

// EvaluationResult is the aggregated outcome of grading one submission.
// EmptySubmission marks the max_score = 0 case (nothing answered), which is
// reported as a zero result rather than an error.
type EvaluationResult struct {
	TestID                 string             `json:"test_id"`
	TotalScore             int                `json:"total_score"`
	MaxScore               int                `json:"max_score"`
	Percentage             float64            `json:"percentage"`
	QuestionFeedback       []QuestionFeedback `json:"question_feedback"`
	WeakConcepts           []string           `json:"weak_concepts"`
	ImprovementSuggestions []string           `json:"improvement_suggestions"`
	OverallFeedback        string             `json:"overall_feedback"`
	EmptySubmission        bool               `json:"empty_submission,omitempty"`
}

// TestRecord is the compact per-test summary kept in a learner's history.
type TestRecord struct {
	TestID       string    `json:"test_id"`
	Topic        string    `json:"topic"`
	Score        int       `json:"score"`
	MaxScore     int       `json:"max_score"`
	Percentage   float64   `json:"percentage"`
	TakenAt      time.Time `json:"taken_at"`
	WeakConcepts []string  `json:"weak_concepts"`
}

// LearnerRecord is the per-learner accumulator maintained by the progress
// tracker. History is append-only; ConceptMastery maps concept tags to a
// rolling mastery estimate in [0,1]; WeakConcepts is recomputed on every
// update. RecordedTests guards against double-counting the same test.
type LearnerRecord struct {
	LearnerID      string             `json:"learner_id"`
	TestHistory    []TestRecord       `json:"test_history"`
	ConceptMastery map[string]float64 `json:"concept_mastery"`
	WeakConcepts   []string           `json:"weak_concepts"`
	RecordedTests  map[string]bool    `json:"recorded_tests"`
	TotalTests     int                `json:"total_tests"`
	AverageScore   float64            `json:"average_score"`
}

// NewLearnerRecord creates an empty record for a learner.
func NewLearnerRecord(learnerID string) *LearnerRecord {
	return &LearnerRecord{
		LearnerID:      learnerID,
		ConceptMastery: make(map[string]float64),
		RecordedTests:  make(map[string]bool),
	}
}
