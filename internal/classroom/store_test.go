package classroom_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/mind-engage/mindengage-classroom/internal/classroom"
	"github.com/mind-engage/mindengage-classroom/internal/db"

	_ "modernc.org/sqlite" // driver for "sqlite"
)

func openSQLite(t *testing.T) classroom.Store {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// one connection, otherwise every conn gets its own :memory: database
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = conn.Close() })
	if err := db.EnsureSchema(context.Background(), conn, db.DriverSQLite); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return classroom.NewSQLStore(conn, string(db.DriverSQLite))
}

func eachStore(t *testing.T, fn func(t *testing.T, s classroom.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, classroom.NewInMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, openSQLite(t)) })
}

func seedAssignment(t *testing.T, s classroom.Store) classroom.Assignment {
	t.Helper()
	ctx := context.Background()
	p := classroom.Paper{ID: "paper-1", Title: "Algebra", Questions: []classroom.Question{
		{Question: "2+2?", Type: "MCQ", Options: []string{"3", "4"}, Answer: "4", Marks: 2},
		{Question: "Define a group.", Type: "Short", Answer: "a set with an operation", Marks: 3},
	}}
	p.SumMarks()
	if err := s.PutPaper(ctx, p); err != nil {
		t.Fatalf("put paper: %v", err)
	}
	a, err := s.CreateAssignment(ctx, classroom.Assignment{
		PaperID: p.ID, PaperTitle: p.Title, TeacherID: "t1", StudentIDs: []string{"s1", "s2"},
	})
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	return a
}

func TestStore_UsersUniqueEmail(t *testing.T) {
	eachStore(t, func(t *testing.T, s classroom.Store) {
		ctx := context.Background()
		u, err := s.CreateUser(ctx, classroom.User{Role: classroom.RoleTeacher, Email: " Ada@Example.com ", PasswordHash: "x"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if u.Email != "ada@example.com" {
			t.Fatalf("email not normalized: %q", u.Email)
		}
		if _, err := s.CreateUser(ctx, classroom.User{Role: classroom.RoleStudent, Email: "ada@example.com", PasswordHash: "y"}); !errors.Is(err, classroom.ErrDuplicateEmail) {
			t.Fatalf("want ErrDuplicateEmail, got %v", err)
		}
		got, err := s.GetUserByEmail(ctx, "ADA@example.com")
		if err != nil || got.ID != u.ID {
			t.Fatalf("lookup by email: %+v %v", got, err)
		}
		if err := s.SetUserRoom(ctx, u.ID, "ABC123"); err != nil {
			t.Fatalf("set room: %v", err)
		}
		if got, _ := s.GetUser(ctx, u.ID); got.RoomID != "ABC123" {
			t.Fatalf("room not set: %+v", got)
		}
		if _, err := s.GetUser(ctx, "nope"); !errors.Is(err, classroom.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})
}

func TestStore_RoomsDuplicateCodeAndMembership(t *testing.T) {
	eachStore(t, func(t *testing.T, s classroom.Store) {
		ctx := context.Background()
		if _, err := s.CreateRoom(ctx, classroom.Room{RoomID: "ABC123", RoomName: "Physics", TeacherID: "t1", IsActive: true}); err != nil {
			t.Fatalf("create room: %v", err)
		}
		if _, err := s.CreateRoom(ctx, classroom.Room{RoomID: "ABC123", RoomName: "Other", TeacherID: "t2", IsActive: true}); !errors.Is(err, classroom.ErrDuplicateRoomCode) {
			t.Fatalf("want ErrDuplicateRoomCode, got %v", err)
		}
		ok, err := s.RoomExists(ctx, "ABC123")
		if err != nil || !ok {
			t.Fatalf("RoomExists = %v, %v", ok, err)
		}
		if ok, _ := s.RoomExists(ctx, "ZZZ999"); ok {
			t.Fatalf("unexpected room")
		}

		for i := 0; i < 2; i++ { // join twice; membership stays a set
			if _, err := s.AddStudent(ctx, "ABC123", "s1"); err != nil {
				t.Fatalf("add: %v", err)
			}
		}
		r, err := s.AddStudent(ctx, "ABC123", "s2")
		if err != nil {
			t.Fatalf("add s2: %v", err)
		}
		if len(r.Students) != 2 {
			t.Fatalf("students = %v", r.Students)
		}
		r, err = s.RemoveStudent(ctx, "ABC123", "s1")
		if err != nil || len(r.Students) != 1 || r.Students[0] != "s2" {
			t.Fatalf("remove: %+v %v", r, err)
		}
		r, err = s.SetRoomActive(ctx, "ABC123", false)
		if err != nil || r.IsActive {
			t.Fatalf("deactivate: %+v %v", r, err)
		}
		rooms, err := s.ListRoomsByTeacher(ctx, "t1")
		if err != nil || len(rooms) != 1 {
			t.Fatalf("list: %v %v", rooms, err)
		}
		if _, err := s.AddStudent(ctx, "NOPE00", "s1"); !errors.Is(err, classroom.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})
}

func TestStore_PaperLock(t *testing.T) {
	eachStore(t, func(t *testing.T, s classroom.Store) {
		ctx := context.Background()
		p := classroom.Paper{ID: "p1", Title: "v1", Questions: []classroom.Question{{Question: "q", Type: "Short", Marks: 5}}}
		p.SumMarks()
		if err := s.PutPaper(ctx, p); err != nil {
			t.Fatalf("put: %v", err)
		}
		p.Title = "v2"
		if err := s.PutPaper(ctx, p); err != nil {
			t.Fatalf("overwrite unlocked: %v", err)
		}
		if err := s.LockPaper(ctx, "p1"); err != nil {
			t.Fatalf("lock: %v", err)
		}
		p.Title = "v3"
		if err := s.PutPaper(ctx, p); !errors.Is(err, classroom.ErrPaperLocked) {
			t.Fatalf("want ErrPaperLocked, got %v", err)
		}
		got, err := s.GetPaper(ctx, "p1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Title != "v2" || !got.Locked || got.TotalMarks != 5 || len(got.Questions) != 1 {
			t.Fatalf("paper = %+v", got)
		}
		if err := s.LockPaper(ctx, "missing"); !errors.Is(err, classroom.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})
}

func TestStore_SubmissionIsSinglePerStudent(t *testing.T) {
	eachStore(t, func(t *testing.T, s classroom.Store) {
		ctx := context.Background()
		a := seedAssignment(t, s)

		first := classroom.Submission{AssignmentID: a.ID, StudentID: "s1",
			Answers: map[string]interface{}{"0": "3"}, Percentage: 0}
		if _, err := s.UpsertSubmission(ctx, first); err != nil {
			t.Fatalf("first: %v", err)
		}
		ev := classroom.Evaluation{Questions: []classroom.QuestionResult{
			{ID: "0", Score: 2, Marks: 2, IsCorrect: true},
			{ID: "1", Score: 1.5, Marks: 3},
		}}
		ev.Recompute()
		second := classroom.Submission{AssignmentID: a.ID, StudentID: "s1",
			Answers: map[string]interface{}{"0": "4"}, Evaluation: ev, Percentage: ev.Percentage}
		if _, err := s.UpsertSubmission(ctx, second); err != nil {
			t.Fatalf("second: %v", err)
		}

		subs, err := s.ListSubmissions(ctx, a.ID)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(subs) != 1 {
			t.Fatalf("want one submission, got %d", len(subs))
		}
		if subs[0].Answers["0"] != "4" || subs[0].Percentage != 70 {
			t.Fatalf("last write should win: %+v", subs[0])
		}
		if subs[0].CorrectCount() != 2 {
			t.Fatalf("correct count = %d", subs[0].CorrectCount())
		}

		if _, err := s.UpsertSubmission(ctx, classroom.Submission{AssignmentID: "missing", StudentID: "s1"}); !errors.Is(err, classroom.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})
}

func TestStore_AssignmentListing(t *testing.T) {
	eachStore(t, func(t *testing.T, s classroom.Store) {
		ctx := context.Background()
		a := seedAssignment(t, s)

		byTeacher, err := s.ListAssignments(ctx, classroom.AssignmentListOpts{TeacherID: "t1"})
		if err != nil || len(byTeacher) != 1 || byTeacher[0].ID != a.ID {
			t.Fatalf("by teacher: %v %v", byTeacher, err)
		}
		byStudent, err := s.ListAssignments(ctx, classroom.AssignmentListOpts{StudentID: "s2"})
		if err != nil || len(byStudent) != 1 || len(byStudent[0].StudentIDs) != 2 {
			t.Fatalf("by student: %v %v", byStudent, err)
		}
		none, err := s.ListAssignments(ctx, classroom.AssignmentListOpts{StudentID: "s9"})
		if err != nil || len(none) != 0 {
			t.Fatalf("unassigned student: %v %v", none, err)
		}
	})
}

func TestStore_ProgressNewestFirst(t *testing.T) {
	eachStore(t, func(t *testing.T, s classroom.Store) {
		ctx := context.Background()
		for _, pct := range []float64{40, 80} {
			if _, err := s.AppendProgress(ctx, classroom.ProgressRecord{StudentID: "s1", MockTestID: "m", Percentage: pct, BonusPoints: 10}); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		recs, err := s.ListProgress(ctx, "s1")
		if err != nil || len(recs) != 2 {
			t.Fatalf("list: %v %v", recs, err)
		}
		if recs[0].Percentage != 80 {
			t.Fatalf("want newest first, got %+v", recs)
		}
		sum := classroom.Summarize("s1", recs)
		if sum.TotalTests != 2 || sum.AveragePercentage != 60 || sum.BonusPoints != 20 {
			t.Fatalf("summary = %+v", sum)
		}
	})
}
