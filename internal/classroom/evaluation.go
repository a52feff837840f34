package classroom

// Evaluation is the one canonical shape for AI-produced scoring. Whatever
// the AI service returns is normalized into this before it is stored.
type Evaluation struct {
	TotalQuestions int              `json:"total_questions" bson:"total_questions"`
	TotalMarks     float64          `json:"total_marks" bson:"total_marks"`
	TotalScore     float64          `json:"total_score" bson:"total_score"`
	CorrectAnswers int              `json:"correct_answers" bson:"correct_answers"`
	Percentage     float64          `json:"percentage" bson:"percentage"`
	Questions      []QuestionResult `json:"question_results" bson:"question_results"`
	Degraded       bool             `json:"degraded,omitempty" bson:"degraded,omitempty"`
}

type QuestionResult struct {
	ID         string   `json:"id" bson:"id"`
	Type       string   `json:"type,omitempty" bson:"type,omitempty"`
	Score      float64  `json:"score" bson:"score"`
	Marks      float64  `json:"marks" bson:"marks"`
	Feedback   string   `json:"feedback,omitempty" bson:"feedback,omitempty"`
	IsCorrect  bool     `json:"is_correct" bson:"is_correct"`
	Similarity *float64 `json:"similarity,omitempty" bson:"similarity,omitempty"`
}

// Recompute fills totals from the per-question results.
func (e *Evaluation) Recompute() {
	e.TotalQuestions = len(e.Questions)
	e.TotalMarks, e.TotalScore, e.CorrectAnswers = 0, 0, 0
	for _, q := range e.Questions {
		e.TotalMarks += q.Marks
		e.TotalScore += q.Score
		if q.IsCorrect {
			e.CorrectAnswers++
		}
	}
	if e.TotalMarks > 0 {
		e.Percentage = evalRound2(e.TotalScore / e.TotalMarks * 100)
	} else {
		e.Percentage = 0
	}
}

func evalRound2(f float64) float64 {
	if f < 0 {
		return -evalRound2(-f)
	}
	return float64(int64(f*100+0.5)) / 100
}
