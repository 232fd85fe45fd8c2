package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlab/testcraft/internal/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTest(id string) *schema.Test {
	return &schema.Test{
		ID:         id,
		Topic:      "fractions",
		Difficulty: schema.DifficultyEasy,
		Questions: []schema.Question{
			{
				ID:   "q1",
				Text: "What is 1/2 + 1/4?",
				Type: schema.TypeMCQ,
				MCQOptions: []schema.MCQOption{
					{Option: "3/4", Label: "A"},
					{Option: "2/6", Label: "B"},
				},
				Correct:     "A",
				Explanation: "Use a common denominator.",
				ConceptTag:  "fraction_addition",
				Points:      10,
			},
		},
		TotalPoints: 10,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestSaveAndGetTest(t *testing.T) {
	s := newTestStore(t)

	want := sampleTest("test_abc123def456")
	require.NoError(t, s.SaveTest(want))

	got, err := s.GetTest("test_abc123def456")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Topic, got.Topic)
	assert.Equal(t, want.Difficulty, got.Difficulty)
	assert.Equal(t, want.TotalPoints, got.TotalPoints)
	require.Len(t, got.Questions, 1)
	assert.Equal(t, want.Questions[0], got.Questions[0])
}

func TestGetTestMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetTest("test_nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveTestWriteOnce(t *testing.T) {
	s := newTestStore(t)

	tt := sampleTest("test_abc123def456")
	require.NoError(t, s.SaveTest(tt))
	assert.Error(t, s.SaveTest(tt))

	count, err := s.TestCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSaveAndListEvaluations(t *testing.T) {
	s := newTestStore(t)

	first := &schema.EvaluationResult{
		TestID:                 "test_1",
		TotalScore:             9,
		MaxScore:               10,
		Percentage:             90,
		WeakConcepts:           []string{},
		ImprovementSuggestions: []string{"Continue practicing"},
		OverallFeedback:        "Well done.",
	}
	second := &schema.EvaluationResult{
		TestID:                 "test_2",
		TotalScore:             4,
		MaxScore:               10,
		Percentage:             40,
		WeakConcepts:           []string{"algebra"},
		ImprovementSuggestions: []string{"Focus on improving: algebra"},
		OverallFeedback:        "Needs work.",
	}
	require.NoError(t, s.SaveEvaluation("alice", first))
	require.NoError(t, s.SaveEvaluation("alice", second))
	require.NoError(t, s.SaveEvaluation("bob", first))

	results, err := s.ListEvaluations("alice")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "test_1", results[0].TestID)
	assert.Equal(t, "test_2", results[1].TestID)
	assert.Equal(t, []string{"algebra"}, results[1].WeakConcepts)

	none, err := s.ListEvaluations("carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLearnerRecordRoundtrip(t *testing.T) {
	s := newTestStore(t)

	missing, err := s.GetLearnerRecord("alice")
	require.NoError(t, err)
	assert.Nil(t, missing)

	rec := schema.NewLearnerRecord("alice")
	rec.TotalTests = 1
	rec.AverageScore = 85
	rec.ConceptMastery["algebra"] = 0.85
	rec.RecordedTests["test_1"] = true
	rec.TestHistory = []schema.TestRecord{{
		TestID:     "test_1",
		Topic:      "algebra",
		Score:      17,
		MaxScore:   20,
		Percentage: 85,
		TakenAt:    time.Now().UTC().Truncate(time.Second),
	}}
	require.NoError(t, s.PutLearnerRecord(rec))

	got, err := s.GetLearnerRecord("alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.TotalTests, got.TotalTests)
	assert.Equal(t, rec.ConceptMastery, got.ConceptMastery)
	assert.True(t, got.RecordedTests["test_1"])
	require.Len(t, got.TestHistory, 1)
	assert.Equal(t, rec.TestHistory[0], got.TestHistory[0])
}

func TestPutLearnerRecordUpsert(t *testing.T) {
	s := newTestStore(t)

	rec := schema.NewLearnerRecord("alice")
	rec.TotalTests = 1
	require.NoError(t, s.PutLearnerRecord(rec))

	rec.TotalTests = 2
	rec.ConceptMastery["geometry"] = 0.4
	require.NoError(t, s.PutLearnerRecord(rec))

	got, err := s.GetLearnerRecord("alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.TotalTests)
	assert.Equal(t, 0.4, got.ConceptMastery["geometry"])
}
