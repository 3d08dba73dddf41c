package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/inkvoice/inkvoice/internal/health"
)

// NewRouter wires the HTTP surface: book and asset endpoints under /api/v1
// plus the health probes.
func NewRouter(books *BookHandler, checks *health.Handler, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(logger.Named("http")))

	r.HandleFunc("/health", checks.HealthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/live", checks.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", checks.ReadinessHandler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/books/upload", books.UploadBook).Methods(http.MethodPost)
	api.HandleFunc("/books", books.CreateBook).Methods(http.MethodPost)
	api.HandleFunc("/books", books.ListBooks).Methods(http.MethodGet)
	api.HandleFunc("/books/{id}", books.GetBook).Methods(http.MethodGet)
	api.HandleFunc("/books/{id}", books.DeleteBook).Methods(http.MethodDelete)
	api.HandleFunc("/books/{id}/generate", books.StartGeneration).Methods(http.MethodPost)
	api.HandleFunc("/books/{id}/status", books.GetStatus).Methods(http.MethodGet)
	api.HandleFunc("/books/{id}/manifest", books.GetManifest).Methods(http.MethodGet)
	api.HandleFunc("/books/{id}/progress", books.GetProgress).Methods(http.MethodGet)
	api.HandleFunc("/books/{id}/progress", books.PutProgress).Methods(http.MethodPut)
	api.HandleFunc("/books/{id}/chapters/{chapterID}/text", books.GetChapterText).Methods(http.MethodGet)
	api.HandleFunc("/books/{id}/chapters/{chapterID}/alignment", books.GetChapterAlignment).Methods(http.MethodGet)
	api.HandleFunc("/books/{id}/chapters/{chapterID}/audio", books.GetChapterAudio).Methods(http.MethodGet, http.MethodHead)

	return r
}

// statusRecorder captures the response code for the request log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
