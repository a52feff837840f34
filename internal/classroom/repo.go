package classroom

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateRoomCode = errors.New("room code already exists")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrPaperLocked       = errors.New("paper is locked")
	ErrRoomInactive      = errors.New("room is not active")
)

type AssignmentListOpts struct {
	TeacherID string
	StudentID string // membership filter
	Limit     int
	Offset    int
}

type UserStore interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	SetUserRoom(ctx context.Context, userID, roomID string) error
}

type RoomStore interface {
	// RoomExists is the collision check used by the code generator.
	RoomExists(ctx context.Context, roomID string) (bool, error)
	// CreateRoom returns ErrDuplicateRoomCode when the code is taken.
	CreateRoom(ctx context.Context, r Room) (Room, error)
	GetRoom(ctx context.Context, roomID string) (Room, error)
	ListRoomsByTeacher(ctx context.Context, teacherID string) ([]Room, error)
	AddStudent(ctx context.Context, roomID, studentID string) (Room, error)
	RemoveStudent(ctx context.Context, roomID, studentID string) (Room, error)
	SetRoomActive(ctx context.Context, roomID string, active bool) (Room, error)
}

type PaperStore interface {
	// PutPaper returns ErrPaperLocked when overwriting a locked paper.
	PutPaper(ctx context.Context, p Paper) error
	GetPaper(ctx context.Context, id string) (Paper, error)
	ListPapers(ctx context.Context, limit int) ([]Paper, error)
	LockPaper(ctx context.Context, id string) error
}

type AssignmentStore interface {
	CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	GetAssignment(ctx context.Context, id string) (Assignment, error)
	ListAssignments(ctx context.Context, opts AssignmentListOpts) ([]Assignment, error)
	// UpsertSubmission keeps at most one submission per (assignment, student).
	UpsertSubmission(ctx context.Context, s Submission) (Submission, error)
	GetSubmission(ctx context.Context, assignmentID, studentID string) (Submission, error)
	ListSubmissions(ctx context.Context, assignmentID string) ([]Submission, error)
}

type ProgressStore interface {
	AppendProgress(ctx context.Context, r ProgressRecord) (ProgressRecord, error)
	ListProgress(ctx context.Context, studentID string) ([]ProgressRecord, error)
}

type Store interface {
	UserStore
	RoomStore
	PaperStore
	AssignmentStore
	ProgressStore
}
