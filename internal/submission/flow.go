// Package submission drives one student's assignment submission through
// evaluate, save-progress and submit.
//
//	InProgress -> Evaluating -> Submitting -> Submitted | Degraded | Failed
//
// Evaluation problems never fail the flow; they end in Degraded with a
// zero-score placeholder. Only the final store write can fail it.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mind-engage/mindengage-classroom/internal/aigateway"
	"github.com/mind-engage/mindengage-classroom/internal/classroom"
)

type State int32

const (
	InProgress State = iota
	Evaluating
	Submitting
	Submitted
	Degraded
	Failed
)

func (s State) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case Evaluating:
		return "evaluating"
	case Submitting:
		return "submitting"
	case Submitted:
		return "submitted"
	case Degraded:
		return "degraded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the flow has finished.
func (s State) Terminal() bool { return s == Submitted || s == Degraded || s == Failed }

const FallbackFeedback = "Evaluation timed out; awaiting teacher review"

var ErrAlreadySubmitted = errors.New("assignment already submitted")

type Evaluator interface {
	EvaluateMock(ctx context.Context, req aigateway.EvaluateRequest, opts ...aigateway.Option) (classroom.Evaluation, error)
}

type ProgressSaver interface {
	AppendProgress(ctx context.Context, r classroom.ProgressRecord) (classroom.ProgressRecord, error)
}

type SubmissionWriter interface {
	UpsertSubmission(ctx context.Context, s classroom.Submission) (classroom.Submission, error)
}

type Config struct {
	EvalTimeout   time.Duration // per attempt
	SubmitRetries int           // additional attempts after the first
	SubmitBackoff time.Duration // multiplied by the attempt number
	ProgressGrace time.Duration // how long Submit waits to report a progress warning
}

func (c Config) withDefaults() Config {
	if c.EvalTimeout <= 0 {
		c.EvalTimeout = 90 * time.Second
	}
	if c.SubmitRetries < 0 {
		c.SubmitRetries = 0
	}
	if c.SubmitBackoff <= 0 {
		c.SubmitBackoff = time.Second
	}
	if c.ProgressGrace <= 0 {
		c.ProgressGrace = 2 * time.Second
	}
	return c
}

type Deps struct {
	Evaluator   Evaluator
	Progress    ProgressSaver
	Submissions SubmissionWriter

	// OnSubmitted runs after a successful write (Submitted or Degraded).
	OnSubmitted func(ctx context.Context, out Outcome)
	// Sleep waits between submit attempts; nil means a timer honoring ctx.
	Sleep   func(ctx context.Context, d time.Duration) error
	Metrics *Metrics
}

type Input struct {
	Assignment classroom.Assignment
	Paper      classroom.Paper
	StudentID  string
	Answers    map[string]interface{} // keyed by zero-based question index
}

type Outcome struct {
	State      State                `json:"-"`
	StateName  string               `json:"state"`
	Evaluation classroom.Evaluation `json:"evaluation"`
	Percentage float64              `json:"percentage"`
	Warnings   []string             `json:"warnings,omitempty"`
	Attempts   int                  `json:"attempts"`
	Submission classroom.Submission `json:"submission"`
	Assignment classroom.Assignment `json:"-"`
}

// Flow is single use: the transition out of InProgress happens once.
type Flow struct {
	cfg   Config
	deps  Deps
	state atomic.Int32
}

func NewFlow(cfg Config, deps Deps) *Flow {
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	return &Flow{cfg: cfg.withDefaults(), deps: deps}
}

func (f *Flow) State() State { return State(f.state.Load()) }

func (f *Flow) set(s State) { f.state.Store(int32(s)) }

func (f *Flow) Submit(ctx context.Context, in Input) (Outcome, error) {
	if !f.state.CompareAndSwap(int32(InProgress), int32(Evaluating)) {
		return Outcome{State: f.State(), StateName: f.State().String()}, ErrAlreadySubmitted
	}
	out := Outcome{Assignment: in.Assignment}

	ev, degraded, err := f.evaluate(ctx, in)
	if err != nil {
		return f.finish(ctx, out, Failed, err)
	}
	out.Evaluation = ev
	out.Percentage = ev.Percentage
	if degraded {
		out.Warnings = append(out.Warnings, "evaluation unavailable; scored as 0 pending teacher review")
	}

	f.set(Submitting)
	progress := make(chan error, 1)
	go func() { progress <- f.saveProgress(ctx, in, ev) }()

	sub := classroom.Submission{
		AssignmentID: in.Assignment.ID,
		StudentID:    in.StudentID,
		Answers:      in.Answers,
		Evaluation:   ev,
		Percentage:   ev.Percentage,
		Degraded:     degraded,
		SubmittedAt:  time.Now().UTC(),
	}
	saved, attempts, err := f.submit(ctx, sub)
	out.Attempts = attempts

	select {
	case perr := <-progress:
		if perr != nil {
			out.Warnings = append(out.Warnings, "progress not saved: "+perr.Error())
		}
	case <-time.After(f.cfg.ProgressGrace):
		out.Warnings = append(out.Warnings, "progress save still pending")
	}

	if err != nil {
		return f.finish(ctx, out, Failed, err)
	}
	out.Submission = saved
	final := Submitted
	if degraded {
		final = Degraded
	}
	return f.finish(ctx, out, final, nil)
}

func (f *Flow) finish(ctx context.Context, out Outcome, s State, err error) (Outcome, error) {
	f.set(s)
	out.State = s
	out.StateName = s.String()
	f.deps.Metrics.observe(s)
	if err != nil {
		log.Printf("submission: failed: %v", err)
		return out, err
	}
	if f.deps.OnSubmitted != nil {
		f.deps.OnSubmitted(ctx, out)
	}
	return out, nil
}

func evalRequest(p classroom.Paper, answers map[string]interface{}) aigateway.EvaluateRequest {
	req := aigateway.EvaluateRequest{Questions: make([]aigateway.EvalQuestion, 0, len(p.Questions))}
	for i, q := range p.Questions {
		ans := ""
		if v, ok := answers[strconv.Itoa(i)]; ok && v != nil {
			ans = fmt.Sprint(v)
		}
		req.Questions = append(req.Questions, aigateway.EvalQuestion{
			ID:            strconv.Itoa(i + 1),
			Type:          q.Type,
			Question:      q.Question,
			StudentAnswer: ans,
			CorrectAnswer: q.Answer,
			Marks:         q.Marks,
		})
	}
	return req
}

// evaluate makes at most two attempts, each bounded by EvalTimeout. The
// budget cancels the request itself. A second timeout, or any other
// evaluator error, yields the fallback evaluation.
func (f *Flow) evaluate(ctx context.Context, in Input) (classroom.Evaluation, bool, error) {
	req := evalRequest(in.Paper, in.Answers)
	if len(req.Questions) == 0 {
		ev := classroom.Evaluation{Questions: []classroom.QuestionResult{}}
		return ev, false, nil
	}
	for attempt := 1; attempt <= 2; attempt++ {
		actx, cancel := context.WithTimeout(ctx, f.cfg.EvalTimeout)
		ev, err := f.deps.Evaluator.EvaluateMock(actx, req, aigateway.WithTimeout(f.cfg.EvalTimeout))
		cancel()
		if err == nil {
			return ev, false, nil
		}
		if ctx.Err() != nil {
			return classroom.Evaluation{}, false, ctx.Err()
		}
		if !isTimeout(err) {
			log.Printf("submission: evaluation error for %s/%s: %v", in.Assignment.ID, in.StudentID, err)
			return Fallback(in.Paper, "Evaluation failed ("+err.Error()+"); awaiting teacher review"), true, nil
		}
		log.Printf("submission: evaluation attempt %d timed out for %s/%s", attempt, in.Assignment.ID, in.StudentID)
	}
	return Fallback(in.Paper, FallbackFeedback), true, nil
}

func isTimeout(err error) bool {
	return aigateway.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded)
}

// Fallback scores every question 0 with the given feedback.
func Fallback(p classroom.Paper, feedback string) classroom.Evaluation {
	ev := classroom.Evaluation{Questions: make([]classroom.QuestionResult, 0, len(p.Questions)), Degraded: true}
	for i, q := range p.Questions {
		ev.Questions = append(ev.Questions, classroom.QuestionResult{
			ID:       strconv.Itoa(i + 1),
			Type:     q.Type,
			Score:    0,
			Marks:    q.Marks,
			Feedback: feedback,
		})
	}
	ev.Recompute()
	return ev
}

func (f *Flow) saveProgress(ctx context.Context, in Input, ev classroom.Evaluation) error {
	if f.deps.Progress == nil {
		return nil
	}
	// outlives the request so a disconnecting client still gets its record
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	_, err := f.deps.Progress.AppendProgress(pctx, classroom.ProgressRecord{
		StudentID:    in.StudentID,
		MockTestID:   "assignment",
		AssignmentID: in.Assignment.ID,
		PaperID:      in.Paper.ID,
		Topic:        in.Paper.Title,
		Percentage:   ev.Percentage,
		Evaluation:   ev,
		BonusPoints:  classroom.BonusPointsFor(ev),
	})
	if err != nil {
		log.Printf("submission: progress save for %s: %v", in.StudentID, err)
	}
	return err
}

// submit writes with up to SubmitRetries extra attempts, sleeping
// SubmitBackoff*n before attempt n+1.
func (f *Flow) submit(ctx context.Context, sub classroom.Submission) (classroom.Submission, int, error) {
	var lastErr error
	attempts := 0
	for i := 0; i <= f.cfg.SubmitRetries; i++ {
		if i > 0 {
			if err := f.deps.Sleep(ctx, time.Duration(i)*f.cfg.SubmitBackoff); err != nil {
				lastErr = err
				break
			}
		}
		attempts++
		saved, err := f.deps.Submissions.UpsertSubmission(ctx, sub)
		if err == nil {
			return saved, attempts, nil
		}
		lastErr = err
		log.Printf("submission: submit attempt %d for %s/%s: %v", attempts, sub.AssignmentID, sub.StudentID, err)
		if errors.Is(err, classroom.ErrNotFound) {
			break
		}
	}
	return classroom.Submission{}, attempts, newSubmitError(attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
