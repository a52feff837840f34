package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/mind-engage/mindengage-classroom/internal/classroom"
)

var ErrNotOwner = errors.New("room belongs to another teacher")

type Store interface {
	classroom.RoomStore
	SetUserRoom(ctx context.Context, userID, roomID string) error
}

type Service struct {
	store Store
	gen   *Generator
}

func NewService(store Store, gen *Generator) *Service {
	if gen == nil {
		gen = NewGenerator(store)
	}
	return &Service{store: store, gen: gen}
}

// Create assigns a fresh code. A duplicate on insert means another caller
// took the code between the check and the insert, so draw again.
func (s *Service) Create(ctx context.Context, teacherID, name string) (classroom.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return classroom.Room{}, errors.New("room name required")
	}
	for {
		code, err := s.gen.Generate(ctx)
		if err != nil {
			return classroom.Room{}, err
		}
		r, err := s.store.CreateRoom(ctx, classroom.Room{
			RoomID:    code,
			RoomName:  name,
			TeacherID: teacherID,
			Students:  []string{},
			IsActive:  true,
		})
		if errors.Is(err, classroom.ErrDuplicateRoomCode) {
			log.Printf("room: code %s raced, regenerating", code)
			continue
		}
		if err != nil {
			return classroom.Room{}, fmt.Errorf("create room: %w", err)
		}
		return r, nil
	}
}

func (s *Service) Get(ctx context.Context, code string) (classroom.Room, error) {
	return s.store.GetRoom(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Service) ListByTeacher(ctx context.Context, teacherID string) ([]classroom.Room, error) {
	return s.store.ListRoomsByTeacher(ctx, teacherID)
}

// Join adds studentID to an active room. Joining twice is a no-op.
func (s *Service) Join(ctx context.Context, code, studentID string) (classroom.Room, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !ValidCode(code) {
		return classroom.Room{}, classroom.ErrNotFound
	}
	r, err := s.store.GetRoom(ctx, code)
	if err != nil {
		return classroom.Room{}, err
	}
	if !r.IsActive {
		return classroom.Room{}, classroom.ErrRoomInactive
	}
	r, err = s.store.AddStudent(ctx, code, studentID)
	if err != nil {
		return classroom.Room{}, err
	}
	if err := s.store.SetUserRoom(ctx, studentID, code); err != nil && !errors.Is(err, classroom.ErrNotFound) {
		return classroom.Room{}, err
	}
	return r, nil
}

func (s *Service) Leave(ctx context.Context, code, studentID string) (classroom.Room, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	r, err := s.store.RemoveStudent(ctx, code, studentID)
	if err != nil {
		return classroom.Room{}, err
	}
	if err := s.store.SetUserRoom(ctx, studentID, ""); err != nil && !errors.Is(err, classroom.ErrNotFound) {
		return classroom.Room{}, err
	}
	return r, nil
}

func (s *Service) Students(ctx context.Context, code string) ([]string, error) {
	r, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	return r.Students, nil
}

func (s *Service) SetActive(ctx context.Context, code, teacherID string, active bool) (classroom.Room, error) {
	r, err := s.Get(ctx, code)
	if err != nil {
		return classroom.Room{}, err
	}
	if r.TeacherID != teacherID {
		return classroom.Room{}, ErrNotOwner
	}
	return s.store.SetRoomActive(ctx, r.RoomID, active)
}
