package storage

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFSStore_PutGet(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := PaperPDFKey("p1")
	if _, err := s.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get before Put: %v", err)
	}
	if _, err := s.Put(key, strings.NewReader("%PDF-1.4")); err != nil {
		t.Fatal(err)
	}
	rc, err := s.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "%PDF-1.4" {
		t.Fatalf("content = %q", b)
	}
}

func TestFSStore_RejectsTraversal(t *testing.T) {
	s, _ := NewFSStore(t.TempDir())
	for _, k := range []string{"", "../escape", "papers/../../x"} {
		if _, err := s.Put(k, strings.NewReader("x")); err == nil {
			t.Fatalf("Put(%q) should fail", k)
		}
	}
}

func TestSyllabusKey(t *testing.T) {
	a, b := SyllabusKey(`C:\docs\physics.pdf`), SyllabusKey("physics.pdf")
	if a == b {
		t.Fatal("keys should be unique")
	}
	for _, k := range []string{a, b} {
		if !strings.HasPrefix(k, "syllabus/") || !strings.HasSuffix(k, "-physics.pdf") {
			t.Fatalf("key = %q", k)
		}
	}
}
