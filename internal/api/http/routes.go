package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-classroom/internal/aigateway"
	auth "github.com/mind-engage/mindengage-classroom/internal/auth/middleware"
	"github.com/mind-engage/mindengage-classroom/internal/classroom"
	"github.com/mind-engage/mindengage-classroom/internal/rbac"
	"github.com/mind-engage/mindengage-classroom/internal/room"
	"github.com/mind-engage/mindengage-classroom/internal/storage"
	"github.com/mind-engage/mindengage-classroom/internal/submission"
	syncx "github.com/mind-engage/mindengage-classroom/internal/sync"
)

type Deps struct {
	Store       classroom.Store
	Auth        *auth.AuthService
	AI          *aigateway.Client
	Rooms       *room.Service
	Submissions *submission.Registry
	Blobs       storage.BlobStore
	Events      syncx.Log // optional

	SecureCookie  bool // set the session cookie with Secure
	ClaimFallback bool // trust the token role when the user row is missing
	ShareTTL      time.Duration
	MaxUpload     int64 // bytes, syllabus uploads
}

// Mount registers the /api surface on r.
func Mount(r chi.Router, d Deps) {
	if d.Rooms == nil {
		d.Rooms = room.NewService(d.Store, nil)
	}
	if d.MaxUpload <= 0 {
		d.MaxUpload = 20 << 20
	}

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/signup", auth.SignupHandler(d.Auth, d.Store, d.SecureCookie))
		api.Post("/auth/login", auth.LoginHandler(d.Auth, d.Store, d.SecureCookie))
		api.Post("/auth/logout", auth.LogoutHandler(d.SecureCookie))

		api.Group(func(pr chi.Router) {
			pr.Use(auth.JWTMiddleware(d.Auth), auth.AttachRoleFromStore(d.Store, d.ClaimFallback))

			pr.Get("/auth/me", auth.MeHandler(d.Store))

			// rooms
			pr.With(rbac.Require(rbac.PermRoomCreate)).Post("/room/create", CreateRoomHandler(d.Rooms))
			pr.With(rbac.Require(rbac.PermRoomManage)).Get("/room/teacher", ListTeacherRoomsHandler(d.Rooms))
			pr.With(rbac.Require(rbac.PermRoomJoin)).Post("/room/join", JoinRoomHandler(d.Rooms))
			pr.With(rbac.Require(rbac.PermRoomJoin)).Post("/room/leave", LeaveRoomHandler(d.Rooms))
			pr.Get("/room/{code}", GetRoomHandler(d.Rooms))
			pr.With(rbac.Require(rbac.PermRoomManage)).Get("/room/{code}/students", RoomStudentsHandler(d.Rooms, d.Store))
			pr.With(rbac.Require(rbac.PermRoomManage)).Patch("/room/{code}/active", SetRoomActiveHandler(d.Rooms))

			// AI proxy
			pr.With(rbac.Require(rbac.PermAIGenerate)).Post("/ai/generate_questions", GenerateQuestionsHandler(d.AI))
			pr.With(rbac.Require(rbac.PermAIGenerate)).Post("/ai/parse_syllabus", ParseSyllabusHandler(d.AI, d.Blobs, d.MaxUpload))
			pr.With(rbac.Require(rbac.PermAIPlagiarism)).Post("/ai/check_plagiarism", CheckPlagiarismHandler(d.AI))
			pr.With(rbac.Require(rbac.PermAIEvaluate)).Post("/ai/evaluate_mock", EvaluateMockHandler(d.AI))
			pr.Get("/ai/health", AIHealthHandler(d.AI))

			// papers
			pr.With(rbac.Require(rbac.PermPaperGenerate)).Post("/papers/generate", GeneratePaperHandler(d.AI, d.Store))
			pr.With(rbac.Require(rbac.PermPaperGenerate)).Get("/papers", ListPapersHandler(d.Store))
			pr.With(rbac.Require(rbac.PermPaperView)).Get("/papers/shared/{token}", SharedPaperHandler(d.Auth, d.Store))
			pr.With(rbac.Require(rbac.PermPaperView)).Get("/papers/{id}", GetPaperHandler(d.AI, d.Store))
			pr.With(rbac.Require(rbac.PermPaperDownload)).Get("/papers/{id}/download", DownloadPaperHandler(d.AI, d.Store, d.Blobs))
			pr.With(rbac.Require(rbac.PermPaperShare)).Post("/papers/{id}/share", SharePaperHandler(d.Auth, d.Store, d.ShareTTL))

			// assignments
			pr.With(rbac.Require(rbac.PermAssignmentCreate)).Post("/assignments", CreateAssignmentHandler(d.Store))
			pr.With(rbac.RequireAny(rbac.PermAssignmentViewAll, rbac.PermAssignmentViewOwn)).Get("/assignments", ListAssignmentsHandler(d.Store))
			pr.With(rbac.RequireAny(rbac.PermAssignmentViewAll, rbac.PermAssignmentViewOwn)).Get("/assignments/{id}", GetAssignmentHandler(d.Store))
			pr.With(rbac.Require(rbac.PermAssignmentSubmit)).Post("/assignments/{id}/submit", SubmitAssignmentHandler(d.Store, d.Submissions))
			pr.With(rbac.Require(rbac.PermAssignmentGrade)).Get("/assignments/{id}/submissions", ListSubmissionsHandler(d.Store))
			pr.With(rbac.RequireAny(rbac.PermAssignmentViewAll, rbac.PermAssignmentViewOwn)).Get("/assignments/{id}/submissions/{studentID}", GetSubmissionHandler(d.Store))
			pr.With(rbac.Require(rbac.PermAssignmentGrade)).Put("/assignments/{id}/submissions/{studentID}/evaluation", UpdateSubmissionEvaluationHandler(d.Store))

			// progress
			pr.With(rbac.Require(rbac.PermProgressSave)).Post("/progress", SaveProgressHandler(d.Store))
			pr.With(rbac.RequireOwnerOr(rbac.PermProgressViewAll, ownsPath("studentID"))).Get("/progress/{studentID}", GetProgressHandler(d.Store))
			pr.With(rbac.Require(rbac.PermProgressViewAll)).Get("/teacher/dashboard", TeacherDashboardHandler(d.Store))
			pr.With(rbac.Require(rbac.PermProgressViewAll)).Get("/analytics/students", StudentAnalyticsHandler(d.Store))

			if d.Events != nil {
				pr.With(rbac.Require(rbac.PermAssignmentGrade)).Get("/events", ListEventsHandler(d.Events))
			}
		})
	})
}

// ownsPath matches the caller against a URL parameter.
func ownsPath(param string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return rbac.SubjectFromContext(r.Context()) == chi.URLParam(r, param)
	}
}
