package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	auth "github.com/mind-engage/mindengage-classroom/internal/auth/middleware"
	"github.com/mind-engage/mindengage-classroom/internal/notify"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestParseArgs_TeacherFromToken(t *testing.T) {
	tok, err := auth.NewAuthService("k").IssueJWT("t-42", "teacher")
	if err != nil {
		t.Fatal(err)
	}
	o, err := parseArgs([]string{"-token", tok})
	if err != nil {
		t.Fatal(err)
	}
	if o.teacherID != "t-42" {
		t.Fatalf("teacher = %q", o.teacherID)
	}
	t.Setenv("CLASSROOM_TOKEN", "")
	if _, err := parseArgs(nil); err != errHelp {
		t.Fatalf("no teacher: %v", err)
	}
}

func TestRun_PrintsSubmissions(t *testing.T) {
	hub := notify.NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.CloseAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"-url", "ws" + strings.TrimPrefix(srv.URL, "http"), "-teacher", "t1", "-reconnect", "20ms"}, &out)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers(notify.TeacherChannel("t1")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never joined")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := hub.NotifySubmitted(ctx, "t1", notify.SubmittedPayload{PaperTitle: "Optics", StudentID: "s1", Percentage: 80, Degraded: true}); err != nil {
		t.Fatal(err)
	}
	for !strings.Contains(out.String(), "student=s1") {
		if time.Now().After(deadline) {
			t.Fatalf("output = %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(out.String(), "80.0%  (needs review)") {
		t.Fatalf("output = %q", out.String())
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
