package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mind-engage/mindengage-classroom/internal/aigateway"
	api "github.com/mind-engage/mindengage-classroom/internal/api/http"
	auth "github.com/mind-engage/mindengage-classroom/internal/auth/middleware"
	"github.com/mind-engage/mindengage-classroom/internal/config"
	"github.com/mind-engage/mindengage-classroom/internal/notify"
	"github.com/mind-engage/mindengage-classroom/internal/room"
	"github.com/mind-engage/mindengage-classroom/internal/storage"
	"github.com/mind-engage/mindengage-classroom/internal/submission"
	syncx "github.com/mind-engage/mindengage-classroom/internal/sync"
)

func main() {
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.close()

	bs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// --- Auth ---
	authSvc := auth.NewAuthService(cfg.AuthSecret)

	// --- Notifier ---
	hubOpts := []notify.HubOption{
		notify.WithAllowedOrigins(cfg.CORSOrigins()),
		notify.WithJoinAuthorizer(api.WSJoinAuthorizer(authSvc)),
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		cancel()
		hubOpts = append(hubOpts, notify.WithRedis(rdb, notify.DefaultRedisChannel))
	}
	hub := notify.NewHub(hubOpts...)
	go func() {
		if err := hub.Run(ctx); err != nil {
			log.Printf("notify: relay stopped: %v", err)
		}
	}()

	// --- AI gateway + submission flow ---
	ai := aigateway.New(aigateway.Config{
		BaseURL:      cfg.AIServiceURL,
		TokenURL:     cfg.AITokenURL,
		ClientID:     cfg.AIClientID,
		ClientSecret: cfg.AIClientSecret,
		Registerer:   reg,
	})
	flows := submission.NewRegistry(submission.Config{
		EvalTimeout:   cfg.EvalTimeout,
		SubmitRetries: cfg.SubmitRetries,
		SubmitBackoff: cfg.SubmitBackoff,
	}, submission.Deps{
		Evaluator:   ai,
		Progress:    st.store,
		Submissions: st.store,
		OnSubmitted: onSubmitted(hub, st.events),
		Metrics:     submission.NewMetrics(reg),
	})

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// long enough for two evaluation budgets plus submit retries
	r.Group(func(gr chi.Router) {
		gr.Use(middleware.Timeout(2*cfg.EvalTimeout + time.Minute))
		api.Mount(gr, api.Deps{
			Store:         st.store,
			Auth:          authSvc,
			AI:            ai,
			Rooms:         room.NewService(st.store, nil),
			Submissions:   flows,
			Blobs:         bs,
			Events:        st.events,
			SecureCookie:  cfg.Mode == config.ModeOnline,
			ClaimFallback: cfg.Mode == config.ModeOffline,
			ShareTTL:      cfg.ShareTTL,
		})
	})

	r.Handle("/ws", hub)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		rctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := st.ping(rctx); err != nil {
			http.Error(w, "store not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		log.Printf("shutting down")
		hub.CloseAll()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s (mode=%s, db=%s, ai=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver, cfg.AIServiceURL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// onSubmitted pushes the live event to the owning teacher and records it
// in the event log. Neither failure affects the stored submission.
func onSubmitted(hub *notify.Hub, events syncx.Log) func(context.Context, submission.Outcome) {
	return func(ctx context.Context, out submission.Outcome) {
		ctx = context.WithoutCancel(ctx)
		p := notify.SubmittedPayload{
			AssignmentID: out.Submission.AssignmentID,
			PaperTitle:   out.Assignment.PaperTitle,
			StudentID:    out.Submission.StudentID,
			Percentage:   out.Percentage,
			Degraded:     out.State == submission.Degraded,
			SubmittedAt:  out.Submission.SubmittedAt,
		}
		if err := hub.NotifySubmitted(ctx, out.Assignment.TeacherID, p); err != nil {
			log.Printf("notify: submitted %s/%s: %v", p.AssignmentID, p.StudentID, err)
		}
		if events == nil {
			return
		}
		e, err := syncx.Submitted(p.AssignmentID, p.StudentID, p)
		if err == nil {
			err = events.Append(ctx, e)
		}
		if err != nil {
			log.Printf("eventlog: append %s: %v", e.Key, err)
		}
	}
}
