package aigateway_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-classroom/internal/aigateway"
)

func TestNormalizeEvaluation_Shapes(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		wantTotal float64
		wantPct   float64
		wantIDs   []string
	}{
		{
			name: "question_results with totals",
			raw: `{"total_questions":2,"total_marks":4,"total_score":3,"correct_answers":1,"percentage":75,
				"question_results":[{"id":1,"type":"mcq","score":2,"marks":2,"is_correct":true},
				{"id":2,"type":"short","score":1,"marks":2,"similarity":0.61,"is_correct":false}]}`,
			wantTotal: 3, wantPct: 75, wantIDs: []string{"1", "2"},
		},
		{
			name:      "legacy evaluation list without totals",
			raw:       `{"evaluation":[{"question_id":"q1","score_awarded":1,"max_marks":4}]}`,
			wantTotal: 1, wantPct: 25, wantIDs: []string{"q1"},
		},
		{
			name:      "details list",
			raw:       `{"details":[{"score":0,"marks":5},{"score":5,"marks":5}]}`,
			wantTotal: 5, wantPct: 50, wantIDs: []string{"1", "2"},
		},
		{
			name:      "nested envelope",
			raw:       `{"evaluation":{"question_results":[{"id":"a","score":2,"marks":2}]}}`,
			wantTotal: 2, wantPct: 100, wantIDs: []string{"a"},
		},
		{
			name:      "bare array",
			raw:       `[{"id":7,"score":1,"marks":1}]`,
			wantTotal: 1, wantPct: 100, wantIDs: []string{"7"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := aigateway.NormalizeEvaluation(json.RawMessage(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.wantTotal, ev.TotalScore)
			assert.Equal(t, tc.wantPct, ev.Percentage)
			ids := make([]string, 0, len(ev.Questions))
			for _, q := range ev.Questions {
				ids = append(ids, q.ID)
			}
			assert.Equal(t, tc.wantIDs, ids)
		})
	}
}

func TestNormalizeEvaluation_CorrectnessFallback(t *testing.T) {
	ev, err := aigateway.NormalizeEvaluation(json.RawMessage(`{"question_results":[{"score":2,"marks":2},{"score":1,"marks":2}]}`))
	require.NoError(t, err)
	assert.True(t, ev.Questions[0].IsCorrect)
	assert.False(t, ev.Questions[1].IsCorrect)
	assert.Equal(t, 1, ev.CorrectAnswers)
	assert.Equal(t, 2, ev.TotalQuestions)
}

func TestNormalizeEvaluation_Malformed(t *testing.T) {
	_, err := aigateway.NormalizeEvaluation(json.RawMessage(`{"question_results":"oops"}`))
	assert.Equal(t, aigateway.KindInvalidResponse, aigateway.KindOf(err))
}
