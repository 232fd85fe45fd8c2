package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlab/testcraft/internal/evaluate"
	"github.com/tutorlab/testcraft/internal/generate"
	"github.com/tutorlab/testcraft/internal/llm"
	"github.com/tutorlab/testcraft/internal/progress"
	"github.com/tutorlab/testcraft/internal/schema"
	"github.com/tutorlab/testcraft/internal/store"
)

type testEnv struct {
	store     *store.Store
	completer *llm.ScriptedCompleter
	router    *chi.Mux
}

func newTestEnv(t *testing.T, responses ...llm.ScriptedResponse) *testEnv {
	t.Helper()

	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sc := llm.NewScriptedCompleter(responses...)
	h := New(
		s,
		generate.New(sc, generate.Config{}),
		evaluate.New(sc, evaluate.Config{MaxAttempts: 1}),
		progress.New(s, progress.Config{}),
		Info{Model: "test-model", LLMURL: "http://llm.local"},
	)

	r := chi.NewRouter()
	h.Routes(r)
	return &testEnv{store: s, completer: sc, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

const questionSetJSON = `{"questions": [
	{"question_id": "q1", "question_text": "What is 1/2 + 1/4?", "question_type": "mcq",
	 "mcq_options": [{"option": "3/4", "label": "A"}, {"option": "2/6", "label": "B"}],
	 "correct_answer": "A", "explanation": "Use a common denominator.",
	 "concept_tag": "fraction_addition", "points": 10}
]}`

func generateBody() schema.GenerateRequest {
	return schema.GenerateRequest{
		Topic:             "fractions",
		Difficulty:        schema.DifficultyEasy,
		NumberOfQuestions: 1,
		QuestionTypes:     []schema.QuestionType{schema.TypeMCQ},
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody[map[string]string](t, rr)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test-model", body["model"])
}

func TestHandleGenerate(t *testing.T) {
	env := newTestEnv(t, llm.ScriptedResponse{Content: questionSetJSON})

	rr := env.do(t, http.MethodPost, "/test/generate", generateBody())
	require.Equal(t, http.StatusOK, rr.Code)

	// Grading artifacts must never reach the student-facing response.
	assert.NotContains(t, rr.Body.String(), "correct_answer")
	assert.NotContains(t, rr.Body.String(), "explanation")

	pub := decodeBody[schema.PublicTest](t, rr)
	assert.NotEmpty(t, pub.ID)
	assert.Equal(t, 10, pub.TotalPoints)
	require.Len(t, pub.Questions, 1)
	assert.Equal(t, "q1", pub.Questions[0].ID)

	// The full test, grading artifacts included, is persisted.
	stored, err := env.store.GetTest(pub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "A", stored.Questions[0].Correct)
}

func TestHandleGenerateBadRequest(t *testing.T) {
	env := newTestEnv(t)

	req := generateBody()
	req.NumberOfQuestions = 50
	rr := env.do(t, http.MethodPost, "/test/generate", req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	body := decodeBody[map[string]string](t, rr)
	assert.Contains(t, body["error"], "number_of_questions")
	assert.Equal(t, 0, env.completer.CallCount())
}

func TestHandleGenerateMalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/test/generate", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleGenerateModelFailure(t *testing.T) {
	env := newTestEnv(t,
		llm.ScriptedResponse{Content: "nope"},
		llm.ScriptedResponse{Content: "nope"},
		llm.ScriptedResponse{Content: "nope"},
	)

	rr := env.do(t, http.MethodPost, "/test/generate", generateBody())
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestHandleEvaluate(t *testing.T) {
	env := newTestEnv(t,
		llm.ScriptedResponse{Content: questionSetJSON},
		llm.ScriptedResponse{Content: `{"is_correct": true, "feedback": "Right, 3/4 it is."}`},
		llm.ScriptedResponse{Content: `{"improvement_suggestions": ["Keep going"], "overall_feedback": "Solid work."}`},
	)

	gen := env.do(t, http.MethodPost, "/test/generate", generateBody())
	require.Equal(t, http.StatusOK, gen.Code)
	pub := decodeBody[schema.PublicTest](t, gen)

	rr := env.do(t, http.MethodPost, "/test/evaluate", schema.EvaluateRequest{
		TestID:         pub.ID,
		LearnerID:      "alice",
		StudentAnswers: []schema.StudentAnswer{{QuestionID: "q1", Answer: "A"}},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	result := decodeBody[schema.EvaluationResult](t, rr)
	assert.Equal(t, pub.ID, result.TestID)
	assert.Equal(t, 10, result.TotalScore)
	assert.Equal(t, 10, result.MaxScore)
	assert.Equal(t, 100.0, result.Percentage)
	assert.Contains(t, rr.Body.String(), `"progress_recorded":true`)

	// Evaluation is persisted and progress is recorded for the learner.
	evals, err := env.store.ListEvaluations("alice")
	require.NoError(t, err)
	require.Len(t, evals, 1)

	rec, err := env.store.GetLearnerRecord("alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.TotalTests)
}

func TestHandleEvaluateDefaultLearner(t *testing.T) {
	env := newTestEnv(t,
		llm.ScriptedResponse{Content: questionSetJSON},
		llm.ScriptedResponse{Content: `{"is_correct": false, "feedback": "Not quite."}`},
		llm.ScriptedResponse{Content: `{"improvement_suggestions": ["Review addition"], "overall_feedback": "Keep at it."}`},
	)

	gen := env.do(t, http.MethodPost, "/test/generate", generateBody())
	require.Equal(t, http.StatusOK, gen.Code)
	pub := decodeBody[schema.PublicTest](t, gen)

	rr := env.do(t, http.MethodPost, "/test/evaluate", schema.EvaluateRequest{
		TestID:         pub.ID,
		StudentAnswers: []schema.StudentAnswer{{QuestionID: "q1", Answer: "B"}},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rec, err := env.store.GetLearnerRecord("default_student")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

// failingLearnerStore rejects every write, standing in for a broken
// persistence layer behind the progress tracker.
type failingLearnerStore struct{}

func (failingLearnerStore) GetLearnerRecord(string) (*schema.LearnerRecord, error) {
	return nil, nil
}

func (failingLearnerStore) PutLearnerRecord(*schema.LearnerRecord) error {
	return errors.New("disk full")
}

func TestHandleEvaluateProgressFailureStillReturnsResult(t *testing.T) {
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sc := llm.NewScriptedCompleter(
		llm.ScriptedResponse{Content: questionSetJSON},
		llm.ScriptedResponse{Content: `{"is_correct": true, "feedback": "Right."}`},
		llm.ScriptedResponse{Content: `{"improvement_suggestions": ["Keep going"], "overall_feedback": "Solid."}`},
	)
	h := New(
		s,
		generate.New(sc, generate.Config{}),
		evaluate.New(sc, evaluate.Config{MaxAttempts: 1}),
		progress.New(failingLearnerStore{}, progress.Config{}),
		Info{Model: "test-model", LLMURL: "http://llm.local"},
	)
	r := chi.NewRouter()
	h.Routes(r)
	env := &testEnv{store: s, completer: sc, router: r}

	gen := env.do(t, http.MethodPost, "/test/generate", generateBody())
	require.Equal(t, http.StatusOK, gen.Code)
	pub := decodeBody[schema.PublicTest](t, gen)

	rr := env.do(t, http.MethodPost, "/test/evaluate", schema.EvaluateRequest{
		TestID:         pub.ID,
		LearnerID:      "alice",
		StudentAnswers: []schema.StudentAnswer{{QuestionID: "q1", Answer: "A"}},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	result := decodeBody[schema.EvaluationResult](t, rr)
	assert.Equal(t, 10, result.TotalScore)
	assert.Contains(t, rr.Body.String(), `"progress_recorded":false`)
}

func TestHandleEvaluateTestNotFound(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/test/evaluate", schema.EvaluateRequest{
		TestID:         "test_missing00000",
		StudentAnswers: []schema.StudentAnswer{{QuestionID: "q1", Answer: "A"}},
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleEvaluateUnknownQuestion(t *testing.T) {
	env := newTestEnv(t, llm.ScriptedResponse{Content: questionSetJSON})

	gen := env.do(t, http.MethodPost, "/test/generate", generateBody())
	require.Equal(t, http.StatusOK, gen.Code)
	pub := decodeBody[schema.PublicTest](t, gen)

	rr := env.do(t, http.MethodPost, "/test/evaluate", schema.EvaluateRequest{
		TestID:         pub.ID,
		StudentAnswers: []schema.StudentAnswer{{QuestionID: "q99", Answer: "A"}},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleEvaluateDuplicateAnswers(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/test/evaluate", schema.EvaluateRequest{
		TestID: "test_whatever000",
		StudentAnswers: []schema.StudentAnswer{
			{QuestionID: "q1", Answer: "A"},
			{QuestionID: "q1", Answer: "B"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 0, env.completer.CallCount())
}

func TestHandleLearner(t *testing.T) {
	env := newTestEnv(t,
		llm.ScriptedResponse{Content: questionSetJSON},
		llm.ScriptedResponse{Content: `{"is_correct": true, "feedback": "Right."}`},
		llm.ScriptedResponse{Content: `{"improvement_suggestions": ["Keep going"], "overall_feedback": "Solid."}`},
	)

	gen := env.do(t, http.MethodPost, "/test/generate", generateBody())
	require.Equal(t, http.StatusOK, gen.Code)
	pub := decodeBody[schema.PublicTest](t, gen)

	eval := env.do(t, http.MethodPost, "/test/evaluate", schema.EvaluateRequest{
		TestID:         pub.ID,
		LearnerID:      "alice",
		StudentAnswers: []schema.StudentAnswer{{QuestionID: "q1", Answer: "A"}},
	})
	require.Equal(t, http.StatusOK, eval.Code)

	rr := env.do(t, http.MethodGet, "/learner/alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "alice", body["learner_id"])
	assert.Equal(t, float64(1), body["total_tests"])
	assert.Equal(t, "insufficient data", body["trend"])
	assert.NotEmpty(t, body["recommendations"])
}

func TestHandleLearnerNotFound(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/learner/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
