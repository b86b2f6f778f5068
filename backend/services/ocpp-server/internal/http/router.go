package httpserver

import "net/http"

// Routes groups handlers.
type Routes struct {
	OCPP     http.HandlerFunc
	Commands http.HandlerFunc
	Stations http.HandlerFunc
	Health   http.HandlerFunc
	Metrics  http.Handler
	// Protect wraps the operator API, nil leaves it open.
	Protect func(http.Handler) http.Handler
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	protect := routes.Protect
	if protect == nil {
		protect = func(h http.Handler) http.Handler { return h }
	}

	mux := http.NewServeMux()
	if routes.OCPP != nil {
		mux.Handle("/ocpp/", method(http.MethodGet, routes.OCPP))
	}
	if routes.Commands != nil {
		mux.Handle("/api/commands", protect(method(http.MethodPost, routes.Commands)))
	}
	if routes.Stations != nil {
		mux.Handle("/api/stations", protect(method(http.MethodGet, routes.Stations)))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", routes.Metrics)
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
