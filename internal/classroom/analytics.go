package classroom

import (
	"math"
	"sort"
	"time"
)

const (
	dashboardTopN = 5
	unknownTopic  = "Unknown"
)

type TopicWeakness struct {
	Topic        string  `json:"topic"`
	Attempts     int     `json:"attempts"`
	WeaknessRate float64 `json:"weakness_rate"`
}

type StudentScore struct {
	StudentID    string  `json:"student_id"`
	AverageScore float64 `json:"average_score"`
}

// Dashboard is the teacher's class overview built from progress records.
type Dashboard struct {
	ClassAverage      float64          `json:"class_average"`
	WeakTopics        []TopicWeakness  `json:"weak_topics"`
	TopStudents       []StudentScore   `json:"top_students"`
	TotalStudents     int              `json:"total_students"`
	TotalSubmissions  int              `json:"total_submissions"`
	RecentSubmissions []ProgressRecord `json:"recent_submissions"`
}

type AnalyticsEntry struct {
	Topic        string    `json:"topic"`
	MockTestID   string    `json:"mock_test_id,omitempty"`
	AssignmentID string    `json:"assignment_id,omitempty"`
	Percentage   float64   `json:"percentage"`
	Timestamp    time.Time `json:"timestamp"`
}

type StudentAnalytics struct {
	StudentID    string           `json:"student_id"`
	TestsTaken   int              `json:"tests_taken"`
	TotalScore   float64          `json:"total_score"`
	AverageScore float64          `json:"average_score"`
	Submissions  []AnalyticsEntry `json:"submissions"`
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }

func topicOf(r ProgressRecord) string {
	if r.Topic == "" {
		return unknownTopic
	}
	return r.Topic
}

// BuildDashboard aggregates records across students. A question scoring
// below one mark counts against its record's topic; the five weakest topics
// and five best student averages are kept.
func BuildDashboard(recs []ProgressRecord) Dashboard {
	out := Dashboard{
		WeakTopics:        []TopicWeakness{},
		TopStudents:       []StudentScore{},
		RecentSubmissions: []ProgressRecord{},
		TotalSubmissions:  len(recs),
	}
	if len(recs) == 0 {
		return out
	}

	type tally struct{ attempts, low int }
	topics := map[string]*tally{}
	type acc struct {
		sum float64
		n   int
	}
	students := map[string]*acc{}
	sum := 0.0
	for _, r := range recs {
		sum += r.Percentage
		if r.StudentID != "" {
			a := students[r.StudentID]
			if a == nil {
				a = &acc{}
				students[r.StudentID] = a
			}
			a.sum += r.Percentage
			a.n++
		}
		t := topicOf(r)
		for _, q := range r.Evaluation.Questions {
			tt := topics[t]
			if tt == nil {
				tt = &tally{}
				topics[t] = tt
			}
			tt.attempts++
			if q.Score < 1 {
				tt.low++
			}
		}
	}
	out.ClassAverage = round2(sum / float64(len(recs)))
	out.TotalStudents = len(students)

	for name, t := range topics {
		out.WeakTopics = append(out.WeakTopics, TopicWeakness{
			Topic: name, Attempts: t.attempts, WeaknessRate: float64(t.low) / float64(t.attempts),
		})
	}
	sort.Slice(out.WeakTopics, func(i, j int) bool {
		a, b := out.WeakTopics[i], out.WeakTopics[j]
		if a.WeaknessRate != b.WeaknessRate {
			return a.WeaknessRate > b.WeaknessRate
		}
		return a.Topic < b.Topic
	})
	if len(out.WeakTopics) > dashboardTopN {
		out.WeakTopics = out.WeakTopics[:dashboardTopN]
	}

	for id, a := range students {
		out.TopStudents = append(out.TopStudents, StudentScore{StudentID: id, AverageScore: round2(a.sum / float64(a.n))})
	}
	sortScores(out.TopStudents)
	if len(out.TopStudents) > dashboardTopN {
		out.TopStudents = out.TopStudents[:dashboardTopN]
	}

	recent := append([]ProgressRecord(nil), recs...)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].Timestamp.After(recent[j].Timestamp) })
	if len(recent) > dashboardTopN {
		recent = recent[:dashboardTopN]
	}
	out.RecentSubmissions = recent
	return out
}

func sortScores(s []StudentScore) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].AverageScore != s[j].AverageScore {
			return s[i].AverageScore > s[j].AverageScore
		}
		return s[i].StudentID < s[j].StudentID
	})
}

// AnalyzeStudents groups records per student, best average first.
func AnalyzeStudents(recs []ProgressRecord) []StudentAnalytics {
	by := map[string]*StudentAnalytics{}
	for _, r := range recs {
		if r.StudentID == "" {
			continue
		}
		s := by[r.StudentID]
		if s == nil {
			s = &StudentAnalytics{StudentID: r.StudentID, Submissions: []AnalyticsEntry{}}
			by[r.StudentID] = s
		}
		s.TestsTaken++
		s.TotalScore += r.Percentage
		s.Submissions = append(s.Submissions, AnalyticsEntry{
			Topic:        topicOf(r),
			MockTestID:   r.MockTestID,
			AssignmentID: r.AssignmentID,
			Percentage:   r.Percentage,
			Timestamp:    r.Timestamp,
		})
	}
	out := make([]StudentAnalytics, 0, len(by))
	for _, s := range by {
		s.AverageScore = round2(s.TotalScore / float64(s.TestsTaken))
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AverageScore != out[j].AverageScore {
			return out[i].AverageScore > out[j].AverageScore
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out
}
