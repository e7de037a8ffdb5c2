package api

import "net/http"

// Router wires the API. metrics and limiter may be nil.
func Router(h *Handler, metrics *Metrics, limiter *RateLimiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)
	mux.HandleFunc("GET /v1/ready", h.Ready)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	mux.HandleFunc("GET /v1/recordings", h.ListRecordings)

	create := h.CreateItem
	if limiter != nil {
		create = limiter.Wrap(create)
	}
	mux.HandleFunc("GET /v1/items", h.requireSession(h.ListItems))
	mux.HandleFunc("POST /v1/items", h.requireSession(create))
	mux.HandleFunc("DELETE /v1/items", h.requireSession(h.ClearItems))
	mux.HandleFunc("PATCH /v1/items/{id}", h.requireSession(h.PatchItem))
	mux.HandleFunc("DELETE /v1/items/{id}", h.requireSession(h.DeleteItem))

	mux.HandleFunc("GET /v1/sweep/status", h.SweepStatus)
	mux.HandleFunc("POST /v1/sweep/start", h.requireAdmin(h.SweepStart))
	mux.HandleFunc("POST /v1/sweep/stop", h.requireAdmin(h.SweepStop))

	mux.HandleFunc("POST /v1/auth/register", h.requireIdentity(h.Register))
	mux.HandleFunc("POST /v1/auth/login", h.requireIdentity(h.Login))
	mux.HandleFunc("POST /v1/auth/guest", h.requireIdentity(h.Guest))
	mux.HandleFunc("POST /v1/auth/logout", h.requireIdentity(h.requireSession(h.Logout)))
	mux.HandleFunc("POST /v1/auth/reset", h.requireIdentity(h.RequestReset))
	mux.HandleFunc("POST /v1/auth/reset/confirm", h.requireIdentity(h.ConfirmReset))

	mux.HandleFunc("GET /v1/account", h.requireIdentity(h.requireSession(h.Account)))
	mux.HandleFunc("DELETE /v1/account", h.requireIdentity(h.requireSession(h.DeleteAccount)))
	mux.HandleFunc("PUT /v1/account/email", h.requireIdentity(h.requireSession(h.UpdateEmail)))
	mux.HandleFunc("PUT /v1/account/password", h.requireIdentity(h.requireSession(h.UpdatePassword)))

	mux.HandleFunc("GET /v1/admin/users", h.requireIdentity(h.requireAdmin(h.ListUsers)))
	mux.HandleFunc("GET /v1/admin/users/count", h.requireIdentity(h.requireAdmin(h.UserCount)))

	mux.HandleFunc("GET /v1/maintenance", h.GetMaintenance)
	mux.HandleFunc("PUT /v1/maintenance", h.requireSession(h.SetMaintenance))

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("gotta-go"))
	})

	var handler http.Handler = mux
	if metrics != nil {
		handler = metrics.Middleware(handler)
	}
	return handler
}
