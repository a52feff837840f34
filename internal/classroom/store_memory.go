package classroom

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu          sync.RWMutex
	users       map[string]User
	rooms       map[string]Room
	papers      map[string]Paper
	assignments map[string]Assignment
	submissions map[string]Submission // assignmentID|studentID
	progress    []ProgressRecord
}

// NewInMemoryStore is used by tests and by the offline demo mode.
func NewInMemoryStore() Store {
	return &memoryStore{
		users:       map[string]User{},
		rooms:       map[string]Room{},
		papers:      map[string]Paper{},
		assignments: map[string]Assignment{},
		submissions: map[string]Submission{},
	}
}

func subKey(assignmentID, studentID string) string { return assignmentID + "|" + studentID }

func (m *memoryStore) CreateUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(u.Email))
	for _, x := range m.users {
		if x.Email == email {
			return User{}, ErrDuplicateEmail
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Email = email
	m.users[u.ID] = u
	return u, nil
}

func (m *memoryStore) GetUser(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *memoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memoryStore) SetUserRoom(_ context.Context, userID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.RoomID = roomID
	m.users[userID] = u
	return nil
}

func (m *memoryStore) RoomExists(_ context.Context, roomID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[roomID]
	return ok, nil
}

func (m *memoryStore) CreateRoom(_ context.Context, r Room) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[r.RoomID]; ok {
		return Room{}, ErrDuplicateRoomCode
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Students == nil {
		r.Students = []string{}
	}
	m.rooms[r.RoomID] = r
	return cloneRoom(r), nil
}

func (m *memoryStore) GetRoom(_ context.Context, roomID string) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return Room{}, ErrNotFound
	}
	return cloneRoom(r), nil
}

func (m *memoryStore) ListRoomsByTeacher(_ context.Context, teacherID string) ([]Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Room{}
	for _, r := range m.rooms {
		if r.TeacherID == teacherID {
			out = append(out, cloneRoom(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryStore) AddStudent(_ context.Context, roomID, studentID string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return Room{}, ErrNotFound
	}
	for _, s := range r.Students {
		if s == studentID {
			return cloneRoom(r), nil
		}
	}
	r.Students = append(r.Students, studentID)
	m.rooms[roomID] = r
	return cloneRoom(r), nil
}

func (m *memoryStore) RemoveStudent(_ context.Context, roomID, studentID string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return Room{}, ErrNotFound
	}
	kept := r.Students[:0:0]
	for _, s := range r.Students {
		if s != studentID {
			kept = append(kept, s)
		}
	}
	r.Students = kept
	m.rooms[roomID] = r
	return cloneRoom(r), nil
}

func (m *memoryStore) SetRoomActive(_ context.Context, roomID string, active bool) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return Room{}, ErrNotFound
	}
	r.IsActive = active
	m.rooms[roomID] = r
	return cloneRoom(r), nil
}

func (m *memoryStore) PutPaper(_ context.Context, p Paper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.papers[p.ID]; ok && old.Locked {
		return ErrPaperLocked
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.papers[p.ID] = p
	return nil
}

func (m *memoryStore) GetPaper(_ context.Context, id string) (Paper, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.papers[id]
	if !ok {
		return Paper{}, ErrNotFound
	}
	return p, nil
}

func (m *memoryStore) ListPapers(_ context.Context, limit int) ([]Paper, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Paper, 0, len(m.papers))
	for _, p := range m.papers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) LockPaper(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return ErrNotFound
	}
	p.Locked = true
	m.papers[id] = p
	return nil
}

func (m *memoryStore) CreateAssignment(_ context.Context, a Assignment) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = "active"
	}
	a.StudentIDs = append([]string(nil), a.StudentIDs...)
	m.assignments[a.ID] = a
	return a, nil
}

func (m *memoryStore) GetAssignment(_ context.Context, id string) (Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[id]
	if !ok {
		return Assignment{}, ErrNotFound
	}
	return a, nil
}

func (m *memoryStore) ListAssignments(_ context.Context, opts AssignmentListOpts) ([]Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Assignment{}
	for _, a := range m.assignments {
		if opts.TeacherID != "" && a.TeacherID != opts.TeacherID {
			continue
		}
		if opts.StudentID != "" && !a.HasStudent(opts.StudentID) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts.Limit, opts.Offset), nil
}

func (m *memoryStore) UpsertSubmission(_ context.Context, s Submission) (Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[s.AssignmentID]; !ok {
		return Submission{}, ErrNotFound
	}
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now().UTC()
	}
	m.submissions[subKey(s.AssignmentID, s.StudentID)] = s
	return s, nil
}

func (m *memoryStore) GetSubmission(_ context.Context, assignmentID, studentID string) (Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[subKey(assignmentID, studentID)]
	if !ok {
		return Submission{}, ErrNotFound
	}
	return s, nil
}

func (m *memoryStore) ListSubmissions(_ context.Context, assignmentID string) ([]Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Submission{}
	for _, s := range m.submissions {
		if s.AssignmentID == assignmentID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (m *memoryStore) AppendProgress(_ context.Context, r ProgressRecord) (ProgressRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	m.progress = append(m.progress, r)
	return r, nil
}

func (m *memoryStore) ListProgress(_ context.Context, studentID string) ([]ProgressRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []ProgressRecord{}
	for i := len(m.progress) - 1; i >= 0; i-- {
		if m.progress[i].StudentID == studentID {
			out = append(out, m.progress[i])
		}
	}
	return out, nil
}

func cloneRoom(r Room) Room {
	r.Students = append([]string{}, r.Students...)
	return r
}

func page[T any](in []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return []T{}
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
