package http

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/mindengage-classroom/internal/auth/middleware"
	"github.com/mind-engage/mindengage-classroom/internal/classroom"
	syncx "github.com/mind-engage/mindengage-classroom/internal/sync"
)

type saveProgressRequest struct {
	MockTestID   string               `json:"mock_test_id" validate:"required"`
	AssignmentID string               `json:"assignment_id"`
	PaperID      string               `json:"paper_id"`
	Topic        string               `json:"topic"`
	Percentage   float64              `json:"percentage" validate:"min=0,max=100"`
	Evaluation   classroom.Evaluation `json:"evaluation"`
}

// POST /api/progress records a practice result for the caller.
func SaveProgressHandler(progress classroom.ProgressStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveProgressRequest
		if !decodeValid(w, r, &req) {
			return
		}
		rec, err := progress.AppendProgress(r.Context(), classroom.ProgressRecord{
			StudentID:    auth.FromContext(r.Context()).ID,
			MockTestID:   req.MockTestID,
			AssignmentID: req.AssignmentID,
			PaperID:      req.PaperID,
			Topic:        req.Topic,
			Percentage:   req.Percentage,
			Evaluation:   req.Evaluation,
			BonusPoints:  classroom.BonusPointsFor(req.Evaluation),
			Timestamp:    time.Now().UTC(),
		})
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, rec)
	}
}

// GET /api/progress/{studentID}
func GetProgressHandler(progress classroom.ProgressStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := chi.URLParam(r, "studentID")
		recs, err := progress.ListProgress(r.Context(), sid)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, classroom.Summarize(sid, recs))
	}
}

// GET /api/events?after=<seq>&limit=<n>
func ListEventsHandler(events syncx.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
		list, err := events.ListSince(r.Context(), after, parseIntDefault(r.URL.Query().Get("limit"), 100))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if list == nil {
			list = []syncx.Event{}
		}
		next := after
		if n := len(list); n > 0 {
			next = list[n-1].Seq
		}
		respondJSON(w, http.StatusOK, map[string]any{"events": list, "next": next})
	}
}

// studentIDsParam accepts ?student_ids=a&student_ids=b and ?student_ids=a,b.
func studentIDsParam(r *http.Request) []string {
	var out []string
	for _, v := range r.URL.Query()["student_ids"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return uniqueStrings(out)
}

// classProgress loads progress for the students the caller teaches, from
// its rooms and assignments, narrowed to requested when given. Admins may
// name any students.
func classProgress(ctx context.Context, st classroom.Store, id auth.Identity, requested []string) ([]classroom.ProgressRecord, error) {
	var ids []string
	if id.Role == "admin" && len(requested) > 0 {
		ids = requested
	} else {
		taught := map[string]bool{}
		rooms, err := st.ListRoomsByTeacher(ctx, id.ID)
		if err != nil {
			return nil, err
		}
		for _, rm := range rooms {
			for _, s := range rm.Students {
				taught[s] = true
			}
		}
		as, err := st.ListAssignments(ctx, classroom.AssignmentListOpts{TeacherID: id.ID, Limit: 1000})
		if err != nil {
			return nil, err
		}
		for _, a := range as {
			for _, s := range a.StudentIDs {
				taught[s] = true
			}
		}
		if len(requested) > 0 {
			for _, s := range requested {
				if taught[s] {
					ids = append(ids, s)
				}
			}
		} else {
			for s := range taught {
				ids = append(ids, s)
			}
			sort.Strings(ids)
		}
	}

	out := []classroom.ProgressRecord{}
	for _, sid := range ids {
		recs, err := st.ListProgress(ctx, sid)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// GET /api/teacher/dashboard?student_ids=...
func TeacherDashboardHandler(st classroom.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := classProgress(r.Context(), st, auth.FromContext(r.Context()), studentIDsParam(r))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, classroom.BuildDashboard(recs))
	}
}

// GET /api/analytics/students?student_ids=...
func StudentAnalyticsHandler(st classroom.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := classProgress(r.Context(), st, auth.FromContext(r.Context()), studentIDsParam(r))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		students := classroom.AnalyzeStudents(recs)
		respondJSON(w, http.StatusOK, map[string]any{
			"students":       students,
			"total_students": len(students),
			"total_tests":    len(recs),
		})
	}
}
