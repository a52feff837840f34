package classroom

import (
	"strings"
	"time"
)

const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

type User struct {
	ID           string    `json:"id" bson:"_id"`
	Role         string    `json:"role" bson:"role"` // teacher|student
	Email        string    `json:"email" bson:"email"`
	PasswordHash string    `json:"-" bson:"password"`
	Name         string    `json:"name" bson:"name"`
	RoomID       string    `json:"room_id,omitempty" bson:"room_id,omitempty"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

type Room struct {
	RoomID    string    `json:"room_id" bson:"_id"` // 6-char uppercase code
	RoomName  string    `json:"room_name" bson:"room_name"`
	TeacherID string    `json:"teacher_id" bson:"teacher_id"`
	Students  []string  `json:"students" bson:"students"`
	IsActive  bool      `json:"is_active" bson:"is_active"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

type Question struct {
	Question string   `json:"question" bson:"question"`
	Type     string   `json:"type" bson:"type"` // MCQ|Short|Long|...
	Options  []string `json:"options,omitempty" bson:"options,omitempty"`
	Answer   string   `json:"answer" bson:"answer"`
	Marks    float64  `json:"marks" bson:"marks"`
}

type Paper struct {
	ID         string     `json:"id" bson:"_id"`
	Title      string     `json:"title" bson:"title"`
	Questions  []Question `json:"questions" bson:"questions"`
	TotalMarks float64    `json:"total_marks" bson:"total_marks"`
	Locked     bool       `json:"locked" bson:"locked"` // set on first download/share
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
}

// SumMarks recomputes TotalMarks from the questions.
func (p *Paper) SumMarks() {
	total := 0.0
	for _, q := range p.Questions {
		total += q.Marks
	}
	p.TotalMarks = total
}

// DedupeQuestions drops repeated question text, compared case-insensitively
// after trimming. The first occurrence wins.
func DedupeQuestions(qs []Question) []Question {
	seen := make(map[string]bool, len(qs))
	out := make([]Question, 0, len(qs))
	for _, q := range qs {
		k := strings.ToLower(strings.TrimSpace(q.Question))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, q)
	}
	return out
}

// ForStudent returns a copy without answer keys.
func (p Paper) ForStudent() Paper {
	qs := make([]Question, len(p.Questions))
	for i, q := range p.Questions {
		q.Answer = ""
		qs[i] = q
	}
	p.Questions = qs
	return p
}

type Assignment struct {
	ID         string     `json:"id" bson:"_id"`
	PaperID    string     `json:"paper_id" bson:"paper_id"`
	PaperTitle string     `json:"paper_title" bson:"paper_title"`
	TeacherID  string     `json:"teacher_id" bson:"teacher_id"`
	StudentIDs []string   `json:"student_ids" bson:"student_ids"`
	RoomID     string     `json:"room_id,omitempty" bson:"room_id,omitempty"`
	DueDate    *time.Time `json:"due_date,omitempty" bson:"due_date,omitempty"`
	Status     string     `json:"status" bson:"status"` // active|closed
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
}

// HasStudent reports whether studentID was assigned.
func (a Assignment) HasStudent(studentID string) bool {
	for _, s := range a.StudentIDs {
		if s == studentID {
			return true
		}
	}
	return false
}

// Submission is keyed by (AssignmentID, StudentID); a later write replaces
// an earlier one.
type Submission struct {
	AssignmentID       string                 `json:"assignment_id" bson:"assignment_id"`
	StudentID          string                 `json:"student_id" bson:"student_id"`
	Answers            map[string]interface{} `json:"answers" bson:"answers"`
	Evaluation         Evaluation             `json:"evaluation" bson:"evaluation"`
	Percentage         float64                `json:"percentage" bson:"percentage"`
	TeacherFeedback    string                 `json:"teacher_feedback,omitempty" bson:"teacher_feedback,omitempty"`
	Degraded           bool                   `json:"degraded" bson:"degraded"`
	SubmittedAt        time.Time              `json:"submitted_at" bson:"submitted_at"`
	TeacherEvaluatedAt *time.Time             `json:"teacher_evaluated_at,omitempty" bson:"teacher_evaluated_at,omitempty"`
}

// CorrectCount counts results that are marked correct or earned at least
// half of their marks.
func (s Submission) CorrectCount() int {
	n := 0
	for _, q := range s.Evaluation.Questions {
		if q.IsCorrect || (q.Marks > 0 && q.Score >= q.Marks*0.5) {
			n++
		}
	}
	return n
}

type ProgressRecord struct {
	ID           string     `json:"id" bson:"_id"`
	StudentID    string     `json:"student_id" bson:"student_id"`
	MockTestID   string     `json:"mock_test_id" bson:"mock_test_id"`
	AssignmentID string     `json:"assignment_id,omitempty" bson:"assignment_id,omitempty"`
	PaperID      string     `json:"paper_id,omitempty" bson:"paper_id,omitempty"`
	Topic        string     `json:"topic,omitempty" bson:"topic,omitempty"`
	Percentage   float64    `json:"percentage" bson:"percentage"`
	Evaluation   Evaluation `json:"evaluation" bson:"evaluation"`
	BonusPoints  int        `json:"bonus_points" bson:"bonus_points"`
	Timestamp    time.Time  `json:"timestamp" bson:"timestamp"`
}

// BonusPointsFor awards 10 points per question that is correct or scored.
func BonusPointsFor(ev Evaluation) int {
	pts := 0
	for _, q := range ev.Questions {
		if q.IsCorrect || q.Score > 0 {
			pts += 10
		}
	}
	return pts
}

type ProgressSummary struct {
	StudentID         string           `json:"student_id"`
	TotalTests        int              `json:"total_tests"`
	AveragePercentage float64          `json:"average_percentage"`
	BonusPoints       int              `json:"bonus_points"`
	Records           []ProgressRecord `json:"records"`
}

// Summarize aggregates a student's progress log.
func Summarize(studentID string, recs []ProgressRecord) ProgressSummary {
	out := ProgressSummary{StudentID: studentID, Records: recs}
	if out.Records == nil {
		out.Records = []ProgressRecord{}
	}
	sum := 0.0
	for _, r := range recs {
		sum += r.Percentage
		out.BonusPoints += r.BonusPoints
	}
	out.TotalTests = len(recs)
	if out.TotalTests > 0 {
		out.AveragePercentage = sum / float64(out.TotalTests)
	}
	return out
}
