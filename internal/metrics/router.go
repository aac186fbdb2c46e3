package metrics

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter exposes the registry at path and a plain liveness probe at
// /healthz.
func NewRouter(r *Registry, path string) *mux.Router {
	if path == "" {
		path = "/metrics"
	}

	router := mux.NewRouter()
	router.Handle(path, r.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return router
}
