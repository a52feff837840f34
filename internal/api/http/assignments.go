package http

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/mindengage-classroom/internal/auth/middleware"
	"github.com/mind-engage/mindengage-classroom/internal/classroom"
	"github.com/mind-engage/mindengage-classroom/internal/submission"
)

type createAssignmentRequest struct {
	PaperID    string     `json:"paper_id" validate:"required"`
	StudentIDs []string   `json:"student_ids" validate:"required_without=RoomID,dive,required"`
	RoomID     string     `json:"room_id" validate:"required_without=StudentIDs,omitempty,len=6"`
	DueDate    *time.Time `json:"due_date"`
}

// CreateAssignmentHandler assigns a paper to students. A room id expands
// to the room's current members.
func CreateAssignmentHandler(store classroom.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAssignmentRequest
		if !decodeValid(w, r, &req) {
			return
		}
		ctx := r.Context()
		teacher := auth.FromContext(ctx).ID

		p, err := store.GetPaper(ctx, req.PaperID)
		if errors.Is(err, classroom.ErrNotFound) {
			respondError(w, http.StatusBadRequest, "paper not found")
			return
		}
		if err != nil {
			respondStoreError(w, err)
			return
		}

		students := append([]string(nil), req.StudentIDs...)
		if req.RoomID != "" {
			rm, err := store.GetRoom(ctx, req.RoomID)
			if err != nil {
				respondStoreError(w, err)
				return
			}
			if rm.TeacherID != teacher {
				respondError(w, http.StatusForbidden, "room belongs to another teacher")
				return
			}
			students = append(students, rm.Students...)
		}
		students = uniqueStrings(students)
		if len(students) == 0 {
			respondError(w, http.StatusBadRequest, "no students to assign")
			return
		}

		a, err := store.CreateAssignment(ctx, classroom.Assignment{
			PaperID:    p.ID,
			PaperTitle: p.Title,
			TeacherID:  teacher,
			StudentIDs: students,
			RoomID:     req.RoomID,
			DueDate:    req.DueDate,
			Status:     "active",
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, a)
	}
}

type studentAssignment struct {
	classroom.Assignment
	Submitted   bool       `json:"submitted"`
	Percentage  *float64   `json:"percentage,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

// ListAssignmentsHandler lists a teacher's own assignments, or the ones a
// student was given together with their submission status.
func ListAssignmentsHandler(store classroom.AssignmentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := auth.FromContext(ctx)
		opts := classroom.AssignmentListOpts{
			Limit:  parseIntDefault(r.URL.Query().Get("limit"), 50),
			Offset: parseIntDefault(r.URL.Query().Get("offset"), 0),
		}
		if id.IsTeacher() {
			opts.TeacherID = id.ID
		} else {
			opts.StudentID = id.ID
		}
		list, err := store.ListAssignments(ctx, opts)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if id.IsTeacher() {
			if list == nil {
				list = []classroom.Assignment{}
			}
			respondJSON(w, http.StatusOK, map[string]any{"assignments": list})
			return
		}
		out := make([]studentAssignment, 0, len(list))
		for _, a := range list {
			sa := studentAssignment{Assignment: a}
			sa.StudentIDs = nil
			s, err := store.GetSubmission(ctx, a.ID, id.ID)
			switch {
			case err == nil:
				sa.Submitted = true
				sa.Percentage = &s.Percentage
				sa.SubmittedAt = &s.SubmittedAt
			case !errors.Is(err, classroom.ErrNotFound):
				respondStoreError(w, err)
				return
			}
			out = append(out, sa)
		}
		respondJSON(w, http.StatusOK, map[string]any{"assignments": out})
	}
}

// loadAssignment fetches the assignment and checks the caller is its
// teacher or one of its students.
func loadAssignment(ctx context.Context, w http.ResponseWriter, store classroom.AssignmentStore, id string) (classroom.Assignment, bool) {
	a, err := store.GetAssignment(ctx, id)
	if err != nil {
		respondStoreError(w, err)
		return classroom.Assignment{}, false
	}
	who := auth.FromContext(ctx)
	if a.TeacherID == who.ID || who.Role == "admin" || a.HasStudent(who.ID) {
		return a, true
	}
	respondError(w, http.StatusForbidden, "not your assignment")
	return classroom.Assignment{}, false
}

func GetAssignmentHandler(store classroom.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := loadAssignment(r.Context(), w, store, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		p, err := store.GetPaper(r.Context(), a.PaperID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if !auth.FromContext(r.Context()).IsTeacher() {
			p = p.ForStudent()
			a.StudentIDs = nil
		}
		respondJSON(w, http.StatusOK, map[string]any{"assignment": a, "paper": p})
	}
}

type submitRequest struct {
	Answers map[string]interface{} `json:"answers" validate:"required"`
}

// SubmitAssignmentHandler runs the evaluate, save and submit flow for the
// calling student.
func SubmitAssignmentHandler(store classroom.Store, flows *submission.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		student := auth.FromContext(ctx).ID
		a, err := store.GetAssignment(ctx, chi.URLParam(r, "id"))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if !a.HasStudent(student) {
			respondError(w, http.StatusForbidden, "not assigned to you")
			return
		}
		if a.Status == "closed" {
			respondError(w, http.StatusConflict, "assignment is closed")
			return
		}
		var req submitRequest
		if !decodeValid(w, r, &req) {
			return
		}
		p, err := store.GetPaper(ctx, a.PaperID)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		out, err := flows.Submit(ctx, submission.Input{Assignment: a, Paper: p, StudentID: student, Answers: req.Answers})
		var se *submission.SubmitError
		switch {
		case err == nil:
			respondJSON(w, http.StatusOK, out)
		case errors.Is(err, submission.ErrAlreadySubmitted):
			respondJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "state": out.StateName})
		case errors.As(err, &se) && se.Connectivity:
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error": "Network error. Please check your connection and try again.", "state": out.StateName, "attempts": se.Attempts,
			})
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "submission interrupted", "state": out.StateName})
		default:
			respondJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "state": out.StateName})
		}
	}
}

type submissionView struct {
	classroom.Submission
	CorrectCount int `json:"correct_count"`
}

// ListSubmissionsHandler is the teacher's per-assignment overview.
func ListSubmissionsHandler(store classroom.AssignmentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		a, err := store.GetAssignment(ctx, chi.URLParam(r, "id"))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if who := auth.FromContext(ctx); a.TeacherID != who.ID && who.Role != "admin" {
			respondError(w, http.StatusForbidden, "not your assignment")
			return
		}
		subs, err := store.ListSubmissions(ctx, a.ID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		sort.Slice(subs, func(i, j int) bool { return subs[i].SubmittedAt.After(subs[j].SubmittedAt) })
		views := make([]submissionView, 0, len(subs))
		for _, s := range subs {
			views = append(views, submissionView{Submission: s, CorrectCount: s.CorrectCount()})
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"assignment_id":   a.ID,
			"paper_title":     a.PaperTitle,
			"total_assigned":  len(a.StudentIDs),
			"total_submitted": len(views),
			"submissions":     views,
		})
	}
}

func GetSubmissionHandler(store classroom.AssignmentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		a, ok := loadAssignment(ctx, w, store, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		studentID := chi.URLParam(r, "studentID")
		if who := auth.FromContext(ctx); !who.IsTeacher() && who.ID != studentID {
			respondError(w, http.StatusForbidden, "not your submission")
			return
		}
		s, err := store.GetSubmission(ctx, a.ID, studentID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, submissionView{Submission: s, CorrectCount: s.CorrectCount()})
	}
}

type teacherEvaluationRequest struct {
	TeacherFeedback string                `json:"teacher_feedback"`
	Percentage      *float64              `json:"percentage" validate:"omitempty,min=0,max=100"`
	Evaluation      *classroom.Evaluation `json:"evaluation"`
}

// UpdateSubmissionEvaluationHandler records the teacher's review, which is
// how a degraded submission gets a real score.
func UpdateSubmissionEvaluationHandler(store classroom.AssignmentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		a, err := store.GetAssignment(ctx, chi.URLParam(r, "id"))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if who := auth.FromContext(ctx); a.TeacherID != who.ID && who.Role != "admin" {
			respondError(w, http.StatusForbidden, "not your assignment")
			return
		}
		var req teacherEvaluationRequest
		if !decodeValid(w, r, &req) {
			return
		}
		s, err := store.GetSubmission(ctx, a.ID, chi.URLParam(r, "studentID"))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if req.Evaluation != nil {
			ev := *req.Evaluation
			ev.Recompute()
			ev.Degraded = false
			s.Evaluation = ev
			s.Percentage = ev.Percentage
		}
		if req.Percentage != nil {
			s.Percentage = *req.Percentage
			s.Evaluation.Percentage = *req.Percentage
		}
		s.TeacherFeedback = req.TeacherFeedback
		now := time.Now().UTC()
		s.TeacherEvaluatedAt = &now
		s.Degraded = s.Degraded && req.Evaluation == nil && req.Percentage == nil

		saved, err := store.UpsertSubmission(ctx, s)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, submissionView{Submission: saved, CorrectCount: saved.CorrectCount()})
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
