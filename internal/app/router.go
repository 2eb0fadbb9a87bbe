package app

import (
	"database/sql"
	"net/http"
	"time"

	"scholarify/internal/app/observability"
	"scholarify/internal/auth"
	"scholarify/internal/question"
	"scholarify/internal/report"
	"scholarify/internal/tryout"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

func NewRouter(cfg Config, db *sql.DB, logger *zap.Logger, collector *observability.Collector) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if collector == nil {
		collector = observability.NewCollector(db, logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", csrfHeaderName},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(collector.Middleware)
	r.Use(CSRFMiddleware(cfg.CSRFEnforced))

	authSvc := auth.NewService(db, auth.ServiceConfig{
		JWTSecret:  cfg.JWTSecret,
		TokenTTL:   cfg.JWTTTL(),
		BcryptCost: cfg.BcryptCost,
	})
	authHandler := auth.NewHandler(authSvc)

	bank := question.NewService(db, cfg.MediaRoot)
	questionHandler := question.NewHandler(bank, cfg.PublicBaseURL)

	tryoutSvc := tryout.NewService(db, authSvc, bank, tryout.Options{
		MaxRetries: cfg.SubmitMaxRetries,
		Recorder:   collector,
		Logger:     logger.Named("tryout"),
	})
	tryoutHandler := tryout.NewHandler(tryoutSvc)

	reportHandler := report.NewHandler(report.NewService(db))

	authLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)
	submitLimiter := NewIPRateLimiter(cfg.SubmitRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"ok":false}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Method(http.MethodGet, "/metrics", collector.MetricsHandler())

	r.Route("/api", func(api chi.Router) {
		api.With(RateLimitMiddleware(authLimiter)).Post("/auth/login/", authHandler.Login)

		api.Get("/subtests/", questionHandler.ListSubtests)
		api.Get("/subtests/{code}/questions/", questionHandler.SubtestQuestions)

		api.Group(func(pub chi.Router) {
			pub.Use(authHandler.OptionalAuth)
			pub.With(RateLimitMiddleware(submitLimiter)).Post("/submit-jawaban/", tryoutHandler.Submit)
			pub.Get("/riwayat-nilai/{username}/", tryoutHandler.History)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me/", authHandler.Me)

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleAdmin))
				admin.Post("/import-soal-excel/", questionHandler.ImportExcel)

				admin.Get("/admin/dashboard/", reportHandler.Dashboard)
				admin.Get("/admin/soal/", questionHandler.ListAdmin)
				admin.Patch("/admin/soal/{questionID}/kunci/", questionHandler.UpdateAnswerKey)
				admin.Post("/admin/subtests/seed/", questionHandler.SeedSubtests)
				admin.Post("/admin/subtests/{code}/recompute/", tryoutHandler.RecomputeSubtest)

				admin.Get("/admin/users/", reportHandler.Users)
				admin.Post("/admin/users/import-excel/", authHandler.ImportUsersExcel)
				admin.Get("/admin/users/export-excel/", authHandler.ExportUsersExcel)

				admin.Get("/admin/hasil/", reportHandler.Results)
				admin.Get("/admin/hasil/export/", reportHandler.ExportResults)
				admin.Post("/admin/hasil/{resultID}/recompute/", tryoutHandler.RecomputeResult)
			})
		})
	})

	r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaRoot))))

	return r
}
