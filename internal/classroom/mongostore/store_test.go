package mongostore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-classroom/internal/classroom"
	"github.com/mind-engage/mindengage-classroom/internal/classroom/mongostore"
)

// Runs only against a live server: MONGO_TEST_URI=mongodb://localhost:27017
func openStore(t *testing.T) *mongostore.Store {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, closeFn, err := mongostore.Connect(ctx, uri, "classroom_test_"+uuid.NewString()[:8])
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = closeFn(context.Background()) })
	return s
}

func TestMongo_RoomAndPaperRules(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.CreateRoom(ctx, classroom.Room{RoomID: "MNG001", RoomName: "Bio", TeacherID: "t1", IsActive: true}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := s.CreateRoom(ctx, classroom.Room{RoomID: "MNG001", TeacherID: "t2"}); !errors.Is(err, classroom.ErrDuplicateRoomCode) {
		t.Fatalf("want ErrDuplicateRoomCode, got %v", err)
	}
	r, err := s.AddStudent(ctx, "MNG001", "s1")
	if err != nil || len(r.Students) != 1 {
		t.Fatalf("add student: %+v %v", r, err)
	}

	p := classroom.Paper{ID: "p1", Title: "v1"}
	if err := s.PutPaper(ctx, p); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.LockPaper(ctx, "p1"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := s.PutPaper(ctx, p); !errors.Is(err, classroom.ErrPaperLocked) {
		t.Fatalf("want ErrPaperLocked, got %v", err)
	}
}

func TestMongo_SubmissionUpsert(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	a, err := s.CreateAssignment(ctx, classroom.Assignment{PaperID: "p1", TeacherID: "t1", StudentIDs: []string{"s1"}})
	if err != nil {
		t.Fatalf("assignment: %v", err)
	}
	for _, pct := range []float64{10, 90} {
		if _, err := s.UpsertSubmission(ctx, classroom.Submission{AssignmentID: a.ID, StudentID: "s1", Percentage: pct}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	subs, err := s.ListSubmissions(ctx, a.ID)
	if err != nil || len(subs) != 1 || subs[0].Percentage != 90 {
		t.Fatalf("submissions: %+v %v", subs, err)
	}
}
