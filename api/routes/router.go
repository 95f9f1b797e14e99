package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veridex/veridex-backend/api/controllers"
	"github.com/veridex/veridex-backend/api/middleware"
	"github.com/veridex/veridex-backend/internal/analysis"
	"github.com/veridex/veridex-backend/internal/notifications"
	"github.com/veridex/veridex-backend/internal/upload"
	"github.com/veridex/veridex-backend/pkg/config"
	"github.com/veridex/veridex-backend/pkg/logger"
)

// Deps carries everything the router wires into handlers. MetricsHandler and
// the health pingers are optional.
type Deps struct {
	Config         *config.Config
	Logger         *logger.Logger
	UploadService  upload.Service
	AnalysisSvc    analysis.Service
	Notifications  notifications.Service
	HealthPingers  map[string]controllers.Pinger
	MetricsHandler http.Handler
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.HealthPingers))
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OwnerIdentity(logg))

		r.Route("/uploads", func(r chi.Router) {
			r.Post("/", controllers.InitiateUpload(deps.UploadService, logg))
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", controllers.GetUpload(deps.UploadService, logg))
				r.Delete("/", controllers.CancelUpload(deps.UploadService, logg))
				r.Put("/chunks/{index}", controllers.UploadChunk(deps.UploadService, logg))
				r.Post("/finalize", controllers.FinalizeUpload(deps.UploadService, logg))
			})
		})

		r.Post("/videos/{videoHash}/analyses", controllers.StartAnalysis(deps.AnalysisSvc, logg))
		r.Route("/analyses/{analysisID}", func(r chi.Router) {
			r.Get("/", controllers.GetAnalysis(deps.AnalysisSvc, logg))
			r.Delete("/", controllers.CancelAnalysis(deps.AnalysisSvc, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Get("/unread-count", controllers.UnreadNotificationsCount(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			r.Post("/{notificationID}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
		})
	})

	return r
}
