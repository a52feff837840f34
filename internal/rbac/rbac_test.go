package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChecker_Wildcards(t *testing.T) {
	c := NewChecker(nil)
	cases := []struct {
		role, perm string
		want       bool
	}{
		{"teacher", PermRoomCreate, true},
		{"teacher", PermAssignmentGrade, true},
		{"teacher", PermAIPlagiarism, true},
		{"teacher", PermProgressSave, false},
		{"teacher", PermRoomJoin, false},
		{"teacher", PermRoomManage, true},
		{"student", PermRoomJoin, true},
		{"student", PermAssignmentSubmit, true},
		{"student", PermRoomCreate, false},
		{"student", PermAssignmentGrade, false},
		{"admin", "anything:at-all", true},
		{"guest", PermPaperView, false},
	}
	for _, tc := range cases {
		if got := c.Has(tc.role, tc.perm); got != tc.want {
			t.Fatalf("Has(%q, %q) = %v, want %v", tc.role, tc.perm, got, tc.want)
		}
	}
	if !c.Any("student", PermRoomCreate, PermRoomJoin) {
		t.Fatal("Any should match room:join")
	}
}

func TestRequire(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Require(PermPaperGenerate)(ok)

	for role, want := range map[string]int{"teacher": 204, "student": 403, "": 403} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithRole(req.Context(), role))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("role %q: status %d, want %d", role, rec.Code, want)
		}
	}
}

func TestRequireOwnerOr(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RequireOwnerOr(PermProgressViewAll, func(r *http.Request) bool {
		return SubjectFromContext(r.Context()) == r.URL.Query().Get("id")
	})(ok)

	run := func(role, sub, id string) int {
		ctx := WithSubject(WithRole(context.Background(), role), sub)
		req := httptest.NewRequest(http.MethodGet, "/?id="+id, nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if got := run("student", "s1", "s1"); got != 204 {
		t.Fatalf("own record: %d", got)
	}
	if got := run("student", "s1", "s2"); got != 403 {
		t.Fatalf("other student: %d", got)
	}
	if got := run("teacher", "t1", "s2"); got != 204 {
		t.Fatalf("teacher: %d", got)
	}
}
