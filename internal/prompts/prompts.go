// Package prompts renders generation and grading tasks into prompt text.
// Builders are pure string transforms: no I/O, no LLM calls.
package prompts

import (
	"fmt"
	"strings"

	"github.com/tutorlab/testcraft/internal/schema"
)

// Generation builds the question-generation prompt. The embedded JSON
// example doubles as a schema description so that compliant output is the
// model's path of least resistance.
func Generation(topic string, difficulty schema.Difficulty, numQuestions int, types []schema.QuestionType) string {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate exactly %d test questions on the topic: %q.\n\n", numQuestions, topic)
	fmt.Fprintf(&sb, "Difficulty level: %s\n", difficulty)
	fmt.Fprintf(&sb, "Question types to include: %s\n\n", strings.Join(names, ", "))

	sb.WriteString("STRICT REQUIREMENTS:\n")
	sb.WriteString("1. Generate diverse questions covering different aspects of the topic\n")
	sb.WriteString("2. Each question must be clear, unambiguous, and educational\n")
	sb.WriteString("3. For mcq questions: provide 4 options labeled A, B, C, D and set correct_answer to the correct label\n")
	sb.WriteString("4. For short answer: expect 2-4 sentence responses\n")
	sb.WriteString("5. For numerical: expect numeric answers with units if applicable\n")
	fmt.Fprintf(&sb, "6. Difficulty must match: %s\n", difficulty)
	sb.WriteString("   - easy: basic recall and understanding\n")
	sb.WriteString("   - medium: application and analysis\n")
	sb.WriteString("   - hard: synthesis and evaluation\n")
	sb.WriteString("7. Each question worth 10 points\n")
	sb.WriteString("8. MANDATORY: every question MUST include \"explanation\" and \"concept_tag\" fields\n\n")

	sb.WriteString("OUTPUT FORMAT (JSON only):\n")
	sb.WriteString(`{
  "questions": [
    {
      "question_id": "q1",
      "question_text": "What is...",
      "question_type": "mcq",
      "mcq_options": [
        {"option": "Choice A", "label": "A"},
        {"option": "Choice B", "label": "B"},
        {"option": "Choice C", "label": "C"},
        {"option": "Choice D", "label": "D"}
      ],
      "correct_answer": "A",
      "explanation": "Why this is correct and what concept it tests",
      "concept_tag": "main_concept_being_tested",
      "points": 10
    },
    {
      "question_id": "q2",
      "question_text": "Explain...",
      "question_type": "short",
      "correct_answer": "Expected answer content...",
      "explanation": "What a good answer should include and why",
      "concept_tag": "specific_concept_name",
      "points": 10
    },
    {
      "question_id": "q3",
      "question_text": "Calculate...",
      "question_type": "numerical",
      "correct_answer": "42.5 meters",
      "explanation": "Step-by-step calculation behind the answer",
      "concept_tag": "specific_concept_name",
      "points": 10
    }
  ]
}`)
	sb.WriteString("\n\nReturn ONLY the JSON. No markdown, no explanations, no code blocks.\n")

	return sb.String()
}

// MCQFeedback builds the advisory feedback prompt for a multiple-choice
// answer. The binary correctness decision is made locally; the model only
// supplies explanatory text.
func MCQFeedback(q schema.Question, studentAnswer string) string {
	var sb strings.Builder
	sb.WriteString("Evaluate this multiple-choice question answer.\n\n")
	sb.WriteString("QUESTION: " + q.Text + "\n")
	for _, opt := range q.MCQOptions {
		fmt.Fprintf(&sb, "  %s) %s\n", opt.Label, opt.Option)
	}
	sb.WriteString("CORRECT ANSWER: " + q.Correct + "\n")
	sb.WriteString("STUDENT ANSWER: " + studentAnswer + "\n")
	if q.Explanation != "" {
		sb.WriteString("EXPLANATION: " + q.Explanation + "\n")
	}
	sb.WriteString("CONCEPT: " + q.ConceptTag + "\n\n")
	sb.WriteString("The answer is graded by exact label match; explain briefly why the correct choice is right and what concept it tests.\n\n")
	sb.WriteString("OUTPUT FORMAT (JSON only):\n")
	sb.WriteString(`{"is_correct": true, "feedback": "Brief feedback explaining the answer"}`)
	sb.WriteString("\n\nReturn ONLY the JSON. No markdown, no explanations.\n")
	return sb.String()
}

// Rubric builds the rubric-based grading prompt for short-answer and
// numerical questions. The reference answer is included as grading context.
func Rubric(q schema.Question, studentAnswer string) string {
	kind := "short answer"
	if q.Type == schema.TypeNumerical {
		kind = "numerical"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Evaluate this %s question response using a strict rubric.\n\n", kind)
	sb.WriteString("QUESTION: " + q.Text + "\n")
	sb.WriteString("CORRECT/EXPECTED ANSWER: " + q.Correct + "\n")
	sb.WriteString("STUDENT ANSWER: " + studentAnswer + "\n")
	if q.Explanation != "" {
		sb.WriteString("EXPLANATION: " + q.Explanation + "\n")
	}
	sb.WriteString("CONCEPT: " + q.ConceptTag + "\n\n")

	sb.WriteString("EVALUATION RUBRIC (0-5 scale for each):\n\n")
	sb.WriteString("1. ACCURACY (0-5):\n")
	sb.WriteString("   - 5: perfectly accurate, all key points correct\n")
	sb.WriteString("   - 3: partially accurate, some key points missing\n")
	sb.WriteString("   - 0: completely wrong or no answer\n\n")
	sb.WriteString("2. CONCEPTUAL CLARITY (0-5):\n")
	sb.WriteString("   - 5: demonstrates deep understanding of the concept\n")
	sb.WriteString("   - 3: basic understanding shown\n")
	sb.WriteString("   - 0: no understanding demonstrated\n\n")
	sb.WriteString("3. EXPLANATION QUALITY (0-5):\n")
	sb.WriteString("   - 5: clear, logical, well-structured explanation\n")
	sb.WriteString("   - 3: adequate explanation\n")
	sb.WriteString("   - 0: no explanation or incomprehensible\n\n")

	sb.WriteString("OUTPUT FORMAT (JSON only):\n")
	sb.WriteString(`{"accuracy_score": 0, "clarity_score": 0, "explanation_score": 0, "feedback": "Specific, constructive feedback explaining the scores", "is_conceptually_correct": false}`)
	sb.WriteString("\n\nEach score is an integer from 0 to 5. Return ONLY the JSON. No markdown, no code blocks.\n")
	return sb.String()
}

// OverallFeedback builds the test-level summary prompt. Its output is
// advisory only and never influences the score.
func OverallFeedback(weakConcepts []string, percentage float64) string {
	concepts := "none identified"
	if len(weakConcepts) > 0 {
		concepts = strings.Join(weakConcepts, ", ")
	}

	var sb strings.Builder
	sb.WriteString("Generate personalized overall feedback for a student's test performance.\n\n")
	fmt.Fprintf(&sb, "Total Score: %.1f%%\n", percentage)
	sb.WriteString("Weak Concepts: " + concepts + "\n\n")
	sb.WriteString("Provide:\n")
	sb.WriteString("1. Overall assessment of performance\n")
	sb.WriteString("2. Specific areas needing improvement\n")
	sb.WriteString("3. 2-3 actionable study suggestions\n\n")
	sb.WriteString("Keep feedback encouraging but honest. Focus on growth mindset.\n\n")
	sb.WriteString("OUTPUT FORMAT (JSON only):\n")
	sb.WriteString(`{"improvement_suggestions": ["Specific suggestion 1", "Specific suggestion 2"], "overall_feedback": "Brief overall assessment and encouragement (2-3 sentences)"}`)
	sb.WriteString("\n\nReturn ONLY the JSON. No markdown, no code blocks.\n")
	return sb.String()
}
