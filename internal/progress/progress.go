// Package progress maintains per-learner history and concept mastery from
// completed evaluations.
package progress

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tutorlab/testcraft/internal/schema"
)

// LearnerStore is the persistence collaborator for learner records.
// GetLearnerRecord returns nil for a learner with no record yet.
type LearnerStore interface {
	GetLearnerRecord(learnerID string) (*schema.LearnerRecord, error)
	PutLearnerRecord(rec *schema.LearnerRecord) error
}

// Config holds progress tracker settings.
type Config struct {
	// MasteryThreshold is the mastery estimate below which a concept is
	// weak. Must match the evaluation engine's threshold.
	MasteryThreshold float64

	// Alpha is the exponential-moving-average weight for new scores.
	// Recent performance dominates but history is not discarded.
	Alpha float64
}

// DefaultAlpha weights the newest per-concept score at 30%.
const DefaultAlpha = 0.3

// Tracker applies evaluation results to learner records. Updates for the
// same learner serialize on a per-learner lock; distinct learners never
// contend.
type Tracker struct {
	store LearnerStore
	cfg   Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a progress tracker.
func New(store LearnerStore, cfg Config) *Tracker {
	if cfg.MasteryThreshold <= 0 || cfg.MasteryThreshold >= 1 {
		cfg.MasteryThreshold = 0.70
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = DefaultAlpha
	}
	return &Tracker{
		store: store,
		cfg:   cfg,
		locks: make(map[string]*sync.Mutex),
	}
}

// learnerLock returns the mutex for a learner, creating it on first use.
// Entries are never evicted; the map is bounded by the learner population.
func (t *Tracker) learnerLock(learnerID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[learnerID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[learnerID] = l
	}
	return l
}

// Record applies a completed evaluation to the learner's record and
// persists it. Recording the same test_id twice for a learner is a no-op:
// the record changes exactly once.
func (t *Tracker) Record(learnerID, topic string, result *schema.EvaluationResult) (*schema.LearnerRecord, error) {
	if learnerID == "" {
		return nil, &schema.ValidationError{Field: "learner_id", Message: "must not be empty"}
	}
	if result == nil || result.TestID == "" {
		return nil, &schema.ValidationError{Field: "result.test_id", Message: "must not be empty"}
	}

	lock := t.learnerLock(learnerID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := t.store.GetLearnerRecord(learnerID)
	if err != nil {
		return nil, fmt.Errorf("load learner record: %w", err)
	}
	if rec == nil {
		rec = schema.NewLearnerRecord(learnerID)
	}

	if rec.RecordedTests[result.TestID] {
		return rec, nil
	}

	rec.TestHistory = append(rec.TestHistory, schema.TestRecord{
		TestID:       result.TestID,
		Topic:        topic,
		Score:        result.TotalScore,
		MaxScore:     result.MaxScore,
		Percentage:   result.Percentage,
		TakenAt:      time.Now().UTC(),
		WeakConcepts: result.WeakConcepts,
	})
	rec.RecordedTests[result.TestID] = true
	rec.TotalTests = len(rec.TestHistory)

	var sum float64
	for _, tr := range rec.TestHistory {
		sum += tr.Percentage
	}
	rec.AverageScore = round2(sum / float64(rec.TotalTests))

	t.updateMastery(rec, result)
	rec.WeakConcepts = t.weakFromMastery(rec.ConceptMastery)

	if err := t.store.PutLearnerRecord(rec); err != nil {
		return nil, fmt.Errorf("save learner record: %w", err)
	}
	return rec, nil
}

// updateMastery folds the per-concept normalized scores of one evaluation
// into the rolling mastery estimates.
func (t *Tracker) updateMastery(rec *schema.LearnerRecord, result *schema.EvaluationResult) {
	earned := make(map[string]int)
	possible := make(map[string]int)
	for _, fb := range result.QuestionFeedback {
		earned[fb.ConceptTag] += fb.PointsEarned
		possible[fb.ConceptTag] += fb.PointsPossible
	}

	for tag, max := range possible {
		if max == 0 {
			continue
		}
		score := float64(earned[tag]) / float64(max)
		if prev, ok := rec.ConceptMastery[tag]; ok {
			rec.ConceptMastery[tag] = t.cfg.Alpha*score + (1-t.cfg.Alpha)*prev
		} else {
			rec.ConceptMastery[tag] = score
		}
	}
}

func (t *Tracker) weakFromMastery(mastery map[string]float64) []string {
	weak := make([]string, 0)
	for tag, m := range mastery {
		if m < t.cfg.MasteryThreshold {
			weak = append(weak, tag)
		}
	}
	sort.Strings(weak)
	return weak
}

// Trend classifies the recent score trajectory. It is a derived view,
// recomputed from history at read time rather than stored.
func Trend(rec *schema.LearnerRecord) string {
	n := len(rec.TestHistory)
	if n < 2 {
		return "insufficient data"
	}

	recent := rec.TestHistory[n/2:]
	earlier := rec.TestHistory[:n/2]

	diff := avgPercentage(recent) - avgPercentage(earlier)
	switch {
	case diff > 5:
		return "improving"
	case diff < -5:
		return "declining"
	default:
		return "steady"
	}
}

// Recommendations derives study suggestions from the current weak-concept
// set and trend. Advisory text only, never stored as ground truth.
func Recommendations(rec *schema.LearnerRecord) []string {
	var recs []string
	if len(rec.WeakConcepts) > 0 {
		recs = append(recs, "Prioritize practice on: "+strings.Join(rec.WeakConcepts, ", "))
	}
	switch Trend(rec) {
	case "declining":
		recs = append(recs, "Recent scores are slipping; revisit fundamentals before taking new tests")
	case "improving":
		recs = append(recs, "Scores are trending up; try a harder difficulty next")
	}
	if len(recs) == 0 {
		recs = append(recs, "Keep practicing regularly to maintain mastery")
	}
	return recs
}

func avgPercentage(records []schema.TestRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range records {
		sum += r.Percentage
	}
	return sum / float64(len(records))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
