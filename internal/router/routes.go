package router

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	v1 "github.com/tinoosan/devsync/api/v1"
	"github.com/tinoosan/devsync/internal/auth"
	"github.com/tinoosan/devsync/internal/hub"
	"github.com/tinoosan/devsync/internal/metrics"
	"github.com/tinoosan/devsync/internal/service"
)

// New sets up the application routes and required middleware. Everything
// under /v1 requires the bearer token; /healthz and /metrics do not.
func New(logger *slog.Logger, mediaSvc service.Media, events *hub.Hub, token string) *mux.Router {
	metrics.Register()

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	h := v1.NewMediaHandler(logger, mediaSvc, events)

	r.Use(v1.RequestID)
	r.Use(h.Log)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(auth.New(token))

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/media", h.GetMedia)
	get.HandleFunc("/queue", h.GetQueue)
	get.HandleFunc("/transfers", h.GetTransfers)
	get.HandleFunc("/transfers/{id}", h.GetTransfer)
	get.HandleFunc("/data/files", h.GetDataFiles)
	get.HandleFunc("/events", h.Events)

	// POSTs
	post := api.Methods("POST").Subrouter()
	post.HandleFunc("/media/refresh", h.RefreshMedia)
	post.HandleFunc("/queue/cancel", h.CancelQueue)
	post.Handle("/queue", v1.MiddlewareEnqueueValidation(http.HandlerFunc(h.Enqueue)))

	// DELETEs
	del := api.Methods("DELETE").Subrouter()
	del.HandleFunc("/media/{product:[0-9a-fA-F]{4}}/{name}", h.DeleteMedia)

	return r
}
