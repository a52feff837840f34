package aigateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/mind-engage/mindengage-classroom/internal/classroom"
)

type wireQuestion struct {
	ID           json.RawMessage `json:"id"`
	QuestionID   json.RawMessage `json:"question_id"`
	Type         string          `json:"type"`
	Score        *float64        `json:"score"`
	ScoreAwarded *float64        `json:"score_awarded"`
	Marks        *float64        `json:"marks"`
	MaxMarks     *float64        `json:"max_marks"`
	Feedback     string          `json:"feedback"`
	IsCorrect    *bool           `json:"is_correct"`
	Similarity   *float64        `json:"similarity"`
}

type wireEvaluation struct {
	QuestionResults json.RawMessage `json:"question_results"`
	Evaluation      json.RawMessage `json:"evaluation"`
	Details         json.RawMessage `json:"details"`

	TotalQuestions *int     `json:"total_questions"`
	TotalMarks     *float64 `json:"total_marks"`
	TotalScore     *float64 `json:"total_score"`
	CorrectAnswers *int     `json:"correct_answers"`
	Percentage     *float64 `json:"percentage"`
}

// NormalizeEvaluation accepts every response shape the evaluator has
// produced and returns the canonical form. Per-question results may sit
// under question_results, evaluation or details (or be the whole body),
// and the awarded score may be named score or score_awarded. Totals the
// service left out are computed from the questions.
func NormalizeEvaluation(raw json.RawMessage) (classroom.Evaluation, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		qs, err := decodeQuestions(raw)
		if err != nil {
			return classroom.Evaluation{}, err
		}
		ev := classroom.Evaluation{Questions: qs}
		ev.Recompute()
		return ev, nil
	}

	var w wireEvaluation
	if err := json.Unmarshal(raw, &w); err != nil {
		return classroom.Evaluation{}, &Error{Kind: KindInvalidResponse, Message: "malformed evaluation", Err: err}
	}

	var list json.RawMessage
	for _, cand := range []json.RawMessage{w.QuestionResults, w.Evaluation, w.Details} {
		c := bytes.TrimSpace(cand)
		if len(c) == 0 || bytes.Equal(c, []byte("null")) {
			continue
		}
		if c[0] == '{' {
			// nested envelope, e.g. {"evaluation": {"question_results": [...]}}
			return NormalizeEvaluation(c)
		}
		list = c
		break
	}

	var ev classroom.Evaluation
	if list != nil {
		qs, err := decodeQuestions(list)
		if err != nil {
			return classroom.Evaluation{}, err
		}
		ev.Questions = qs
	} else {
		ev.Questions = []classroom.QuestionResult{}
	}
	ev.Recompute()

	if w.TotalQuestions != nil {
		ev.TotalQuestions = *w.TotalQuestions
	}
	if w.TotalMarks != nil {
		ev.TotalMarks = *w.TotalMarks
	}
	if w.TotalScore != nil {
		ev.TotalScore = *w.TotalScore
	}
	if w.CorrectAnswers != nil {
		ev.CorrectAnswers = *w.CorrectAnswers
	}
	switch {
	case w.Percentage != nil:
		ev.Percentage = *w.Percentage
	case w.TotalScore != nil || w.TotalMarks != nil:
		if ev.TotalMarks > 0 {
			ev.Percentage = float64(int64(ev.TotalScore/ev.TotalMarks*10000+0.5)) / 100
		}
	}
	return ev, nil
}

func decodeQuestions(raw json.RawMessage) ([]classroom.QuestionResult, error) {
	var wq []wireQuestion
	if err := json.Unmarshal(raw, &wq); err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Message: "malformed question results", Err: err}
	}
	out := make([]classroom.QuestionResult, 0, len(wq))
	for i, q := range wq {
		r := classroom.QuestionResult{
			ID:         idString(q.ID, q.QuestionID, i),
			Type:       q.Type,
			Feedback:   q.Feedback,
			Similarity: q.Similarity,
		}
		switch {
		case q.Score != nil:
			r.Score = *q.Score
		case q.ScoreAwarded != nil:
			r.Score = *q.ScoreAwarded
		}
		switch {
		case q.Marks != nil:
			r.Marks = *q.Marks
		case q.MaxMarks != nil:
			r.Marks = *q.MaxMarks
		}
		if q.IsCorrect != nil {
			r.IsCorrect = *q.IsCorrect
		} else {
			r.IsCorrect = r.Marks > 0 && r.Score >= r.Marks
		}
		out = append(out, r)
	}
	return out, nil
}

// idString renders numeric or string ids the same way; position+1 when absent.
func idString(id, alt json.RawMessage, idx int) string {
	for _, raw := range []json.RawMessage{id, alt} {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		var n json.Number
		if json.Unmarshal(raw, &n) == nil {
			return strings.TrimSuffix(n.String(), ".0")
		}
	}
	return strconv.Itoa(idx + 1)
}
