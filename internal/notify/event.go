// Package notify pushes live classroom events over WebSocket. Hub is the
// server side; Client is a reconnecting connection manager for consumers.
package notify

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	EventTeacherJoin         = "teacher:join"
	EventStudentJoin         = "student:join"
	EventJoined              = "joined"
	EventAssignmentSubmitted = "assignment:submitted"
)

// Event is the wire envelope in both directions.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEvent(name string, data any) (Event, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Event: name, Data: b}, nil
}

type SubmittedPayload struct {
	AssignmentID string    `json:"assignment_id"`
	PaperTitle   string    `json:"paper_title"`
	StudentID    string    `json:"student_id"`
	Percentage   float64   `json:"percentage"`
	Degraded     bool      `json:"degraded"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

func TeacherChannel(id string) string { return "teacher:" + id }
func StudentChannel(id string) string { return "student:" + id }

// joinTarget pulls the id out of a join payload. Both {"teacher_id": "t1"}
// and a bare "t1" are accepted.
func joinTarget(ev Event) (role, id string, ok bool) {
	switch ev.Event {
	case EventTeacherJoin:
		role = "teacher"
	case EventStudentJoin:
		role = "student"
	default:
		return "", "", false
	}
	var s string
	if json.Unmarshal(ev.Data, &s) == nil {
		s = strings.TrimSpace(s)
		return role, s, s != ""
	}
	var obj map[string]any
	if json.Unmarshal(ev.Data, &obj) != nil {
		return "", "", false
	}
	for _, k := range []string{role + "_id", "id"} {
		if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
			return role, strings.TrimSpace(v), true
		}
	}
	return "", "", false
}

func channelFor(role, id string) string {
	if role == "teacher" {
		return TeacherChannel(id)
	}
	return StudentChannel(id)
}
