package submission_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-classroom/internal/aigateway"
	"github.com/mind-engage/mindengage-classroom/internal/classroom"
	"github.com/mind-engage/mindengage-classroom/internal/submission"
)

/* ---------------- fakes ---------------- */

type evalFunc func(ctx context.Context, req aigateway.EvaluateRequest) (classroom.Evaluation, error)

func (f evalFunc) EvaluateMock(ctx context.Context, req aigateway.EvaluateRequest, _ ...aigateway.Option) (classroom.Evaluation, error) {
	return f(ctx, req)
}

func scoreAll(ctx context.Context, req aigateway.EvaluateRequest) (classroom.Evaluation, error) {
	ev := classroom.Evaluation{}
	for _, q := range req.Questions {
		ev.Questions = append(ev.Questions, classroom.QuestionResult{ID: q.ID, Score: q.Marks, Marks: q.Marks, IsCorrect: true})
	}
	ev.Recompute()
	return ev, nil
}

func blockUntilDone(ctx context.Context, _ aigateway.EvaluateRequest) (classroom.Evaluation, error) {
	<-ctx.Done()
	return classroom.Evaluation{}, ctx.Err()
}

type failingProgress struct{}

func (failingProgress) AppendProgress(context.Context, classroom.ProgressRecord) (classroom.ProgressRecord, error) {
	return classroom.ProgressRecord{}, errors.New("progress db down")
}

// flakyWriter fails the first n writes with err, then delegates.
type flakyWriter struct {
	next  submission.SubmissionWriter
	fails int
	err   error
	calls int
}

func (w *flakyWriter) UpsertSubmission(ctx context.Context, s classroom.Submission) (classroom.Submission, error) {
	w.calls++
	if w.calls <= w.fails {
		return classroom.Submission{}, w.err
	}
	return w.next.UpsertSubmission(ctx, s)
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

/* ---------------- helpers ---------------- */

func seed(t *testing.T) (classroom.Store, submission.Input) {
	t.Helper()
	ctx := context.Background()
	store := classroom.NewInMemoryStore()
	p := classroom.Paper{ID: "paper-1", Title: "Kinematics", Questions: []classroom.Question{
		{Question: "Unit of velocity?", Type: "MCQ", Answer: "m/s", Marks: 2},
		{Question: "State Newton's first law.", Type: "Short", Answer: "inertia", Marks: 3},
	}}
	p.SumMarks()
	if err := store.PutPaper(ctx, p); err != nil {
		t.Fatalf("put paper: %v", err)
	}
	a, err := store.CreateAssignment(ctx, classroom.Assignment{PaperID: p.ID, PaperTitle: p.Title, TeacherID: "t1", StudentIDs: []string{"s1"}})
	if err != nil {
		t.Fatalf("assignment: %v", err)
	}
	return store, submission.Input{
		Assignment: a, Paper: p, StudentID: "s1",
		Answers: map[string]interface{}{"0": "m/s", "1": "a body stays at rest"},
	}
}

func cfg() submission.Config {
	return submission.Config{
		EvalTimeout:   20 * time.Millisecond,
		SubmitRetries: 2,
		SubmitBackoff: time.Second,
		ProgressGrace: time.Second,
	}
}

/* ---------------- tests ---------------- */

func TestSubmit_HappyPath(t *testing.T) {
	store, in := seed(t)
	var hooked []submission.Outcome
	f := submission.NewFlow(cfg(), submission.Deps{
		Evaluator: evalFunc(scoreAll), Progress: store, Submissions: store,
		OnSubmitted: func(_ context.Context, out submission.Outcome) { hooked = append(hooked, out) },
	})

	out, err := f.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.State != submission.Submitted || f.State() != submission.Submitted {
		t.Fatalf("state = %v / %v", out.State, f.State())
	}
	if out.Percentage != 100 || out.Attempts != 1 || len(out.Warnings) != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if len(hooked) != 1 {
		t.Fatalf("OnSubmitted called %d times", len(hooked))
	}
	recs, _ := store.ListProgress(context.Background(), "s1")
	if len(recs) != 1 || recs[0].BonusPoints != 20 || recs[0].AssignmentID != in.Assignment.ID {
		t.Fatalf("progress = %+v", recs)
	}
}

func TestSubmit_SecondCallIsRejected(t *testing.T) {
	store, in := seed(t)
	release := make(chan struct{})
	var evals int32
	f := submission.NewFlow(submission.Config{EvalTimeout: time.Minute, SubmitRetries: 2}, submission.Deps{
		Evaluator: evalFunc(func(ctx context.Context, req aigateway.EvaluateRequest) (classroom.Evaluation, error) {
			atomic.AddInt32(&evals, 1)
			<-release
			return scoreAll(ctx, req)
		}),
		Submissions: store,
	})

	done := make(chan error, 1)
	go func() { _, err := f.Submit(context.Background(), in); done <- err }()
	for f.State() == submission.InProgress {
		time.Sleep(time.Millisecond)
	}

	if _, err := f.Submit(context.Background(), in); !errors.Is(err, submission.ErrAlreadySubmitted) {
		t.Fatalf("second submit: want ErrAlreadySubmitted, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := f.Submit(context.Background(), in); !errors.Is(err, submission.ErrAlreadySubmitted) {
		t.Fatalf("submit after completion: want ErrAlreadySubmitted, got %v", err)
	}

	subs, _ := store.ListSubmissions(context.Background(), in.Assignment.ID)
	if len(subs) != 1 {
		t.Fatalf("want 1 persisted submission, got %d", len(subs))
	}
	if n := atomic.LoadInt32(&evals); n != 1 {
		t.Fatalf("evaluator called %d times", n)
	}
}

func TestRegistry_ConcurrentDoubleClick(t *testing.T) {
	store, in := seed(t)
	release := make(chan struct{})
	reg := submission.NewRegistry(submission.Config{EvalTimeout: time.Minute}, submission.Deps{
		Evaluator: evalFunc(func(ctx context.Context, req aigateway.EvaluateRequest) (classroom.Evaluation, error) {
			<-release
			return scoreAll(ctx, req)
		}),
		Submissions: store,
	})

	done := make(chan error, 1)
	go func() { _, err := reg.Submit(context.Background(), in); done <- err }()
	for !reg.InFlight(in.Assignment.ID, in.StudentID) {
		time.Sleep(time.Millisecond)
	}
	if _, err := reg.Submit(context.Background(), in); !errors.Is(err, submission.ErrAlreadySubmitted) {
		t.Fatalf("want ErrAlreadySubmitted, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first: %v", err)
	}
	if reg.InFlight(in.Assignment.ID, in.StudentID) {
		t.Fatalf("flow still registered after completion")
	}
	subs, _ := store.ListSubmissions(context.Background(), in.Assignment.ID)
	if len(subs) != 1 {
		t.Fatalf("want 1 submission, got %d", len(subs))
	}
}

func TestSubmit_DoubleTimeoutDegrades(t *testing.T) {
	store, in := seed(t)
	var evals int32
	f := submission.NewFlow(cfg(), submission.Deps{
		Evaluator: evalFunc(func(ctx context.Context, req aigateway.EvaluateRequest) (classroom.Evaluation, error) {
			atomic.AddInt32(&evals, 1)
			return blockUntilDone(ctx, req)
		}),
		Progress: store, Submissions: store,
	})

	out, err := f.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("degraded flow must not fail: %v", err)
	}
	if out.State != submission.Degraded {
		t.Fatalf("state = %v", out.State)
	}
	if n := atomic.LoadInt32(&evals); n != 2 {
		t.Fatalf("want exactly one retry, evaluator called %d times", n)
	}
	if out.Evaluation.TotalScore != 0 || out.Percentage != 0 || out.Evaluation.TotalMarks != 5 {
		t.Fatalf("fallback totals = %+v", out.Evaluation)
	}
	for _, q := range out.Evaluation.Questions {
		if q.Score != 0 || q.Feedback != submission.FallbackFeedback {
			t.Fatalf("fallback question = %+v", q)
		}
	}
	sub, err := store.GetSubmission(context.Background(), in.Assignment.ID, "s1")
	if err != nil || !sub.Degraded || !sub.Evaluation.Degraded {
		t.Fatalf("persisted = %+v %v", sub, err)
	}
}

func TestSubmit_TimeoutThenSuccess(t *testing.T) {
	store, in := seed(t)
	var evals int32
	f := submission.NewFlow(cfg(), submission.Deps{
		Evaluator: evalFunc(func(ctx context.Context, req aigateway.EvaluateRequest) (classroom.Evaluation, error) {
			if atomic.AddInt32(&evals, 1) == 1 {
				return blockUntilDone(ctx, req)
			}
			return scoreAll(ctx, req)
		}),
		Submissions: store,
	})
	out, err := f.Submit(context.Background(), in)
	if err != nil || out.State != submission.Submitted || out.Percentage != 100 {
		t.Fatalf("outcome = %+v, %v", out, err)
	}
}

func TestSubmit_GatewayErrorDegradesWithoutRetry(t *testing.T) {
	store, in := seed(t)
	var evals int32
	f := submission.NewFlow(cfg(), submission.Deps{
		Evaluator: evalFunc(func(context.Context, aigateway.EvaluateRequest) (classroom.Evaluation, error) {
			atomic.AddInt32(&evals, 1)
			return classroom.Evaluation{}, &aigateway.Error{Kind: aigateway.KindConnectivity, Message: "AI service is not running"}
		}),
		Submissions: store,
	})
	out, err := f.Submit(context.Background(), in)
	if err != nil || out.State != submission.Degraded {
		t.Fatalf("outcome = %+v, %v", out, err)
	}
	if atomic.LoadInt32(&evals) != 1 {
		t.Fatalf("non-timeout errors are not retried")
	}
}

func TestSubmit_ProgressFailureIsOnlyAWarning(t *testing.T) {
	store, in := seed(t)
	f := submission.NewFlow(cfg(), submission.Deps{
		Evaluator: evalFunc(scoreAll), Progress: failingProgress{}, Submissions: store,
	})
	out, err := f.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.State != submission.Submitted {
		t.Fatalf("state = %v", out.State)
	}
	if len(out.Warnings) != 1 {
		t.Fatalf("warnings = %v", out.Warnings)
	}
}

func TestSubmit_RetriesWithLinearBackoff(t *testing.T) {
	store, in := seed(t)
	w := &flakyWriter{next: store, fails: 2, err: errors.New("temporary hiccup")}
	sleeps := &sleepRecorder{}
	f := submission.NewFlow(cfg(), submission.Deps{
		Evaluator: evalFunc(scoreAll), Submissions: w, Sleep: sleeps.Sleep,
	})
	out, err := f.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Attempts != 3 || w.calls != 3 {
		t.Fatalf("attempts = %d calls = %d", out.Attempts, w.calls)
	}
	if len(sleeps.waits) != 2 || sleeps.waits[0] != time.Second || sleeps.waits[1] != 2*time.Second {
		t.Fatalf("backoff = %v", sleeps.waits)
	}
}

func TestSubmit_ExhaustedRetriesClassifyConnectivity(t *testing.T) {
	cases := []struct {
		err          error
		connectivity bool
	}{
		{errors.New("dial tcp 10.0.0.5:5432: connect: connection refused"), true},
		{errors.New("read: connection reset by peer"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("CHECK constraint failed: percentage"), false},
	}
	for _, tc := range cases {
		store, in := seed(t)
		w := &flakyWriter{next: store, fails: 100, err: tc.err}
		sleeps := &sleepRecorder{}
		f := submission.NewFlow(cfg(), submission.Deps{Evaluator: evalFunc(scoreAll), Submissions: w, Sleep: sleeps.Sleep})

		out, err := f.Submit(context.Background(), in)
		var se *submission.SubmitError
		if !errors.As(err, &se) {
			t.Fatalf("%v: want *SubmitError, got %v", tc.err, err)
		}
		if se.Connectivity != tc.connectivity {
			t.Fatalf("%v: connectivity = %v", tc.err, se.Connectivity)
		}
		if se.Attempts != 3 || out.State != submission.Failed || f.State() != submission.Failed {
			t.Fatalf("%v: attempts=%d state=%v", tc.err, se.Attempts, out.State)
		}
		if !errors.Is(err, tc.err) {
			t.Fatalf("cause not wrapped")
		}
	}
}

func TestFallback(t *testing.T) {
	p := classroom.Paper{Questions: []classroom.Question{{Type: "MCQ", Marks: 1}, {Type: "Long", Marks: 4}}}
	ev := submission.Fallback(p, submission.FallbackFeedback)
	if ev.TotalQuestions != 2 || ev.TotalMarks != 5 || ev.TotalScore != 0 || !ev.Degraded {
		t.Fatalf("fallback = %+v", ev)
	}
}

func TestSubmit_CallerCancelDuringEvaluationFails(t *testing.T) {
	store, in := seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	f := submission.NewFlow(submission.Config{EvalTimeout: time.Minute}, submission.Deps{
		Evaluator: evalFunc(func(ectx context.Context, req aigateway.EvaluateRequest) (classroom.Evaluation, error) {
			cancel()
			return blockUntilDone(ectx, req)
		}),
		Submissions: store,
	})

	out, err := f.Submit(ctx, in)
	if !errors.Is(err, context.Canceled) || out.State != submission.Failed {
		t.Fatalf("outcome = %+v, %v", out, err)
	}
	if _, err := store.GetSubmission(context.Background(), in.Assignment.ID, "s1"); !errors.Is(err, classroom.ErrNotFound) {
		t.Fatalf("nothing should be stored, got %v", err)
	}
}

type budgetRecorder struct {
	mu     sync.Mutex
	budget time.Duration
}

func (b *budgetRecorder) EvaluateMock(ctx context.Context, req aigateway.EvaluateRequest, opts ...aigateway.Option) (classroom.Evaluation, error) {
	b.mu.Lock()
	b.budget = aigateway.EffectiveTimeout(aigateway.EndpointEvaluateMock, opts...)
	b.mu.Unlock()
	return scoreAll(ctx, req)
}

func TestSubmit_EvalBudgetReachesGateway(t *testing.T) {
	store, in := seed(t)
	rec := &budgetRecorder{}
	f := submission.NewFlow(submission.Config{EvalTimeout: 90 * time.Second}, submission.Deps{
		Evaluator: rec, Submissions: store,
	})
	if _, err := f.Submit(context.Background(), in); err != nil {
		t.Fatalf("submit: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.budget != 90*time.Second {
		t.Fatalf("gateway budget = %v, want 90s", rec.budget)
	}
}
