package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"certhub.org/api/spec"
	"certhub.org/internal/certs"
	"certhub.org/internal/obs"
	"certhub.org/internal/stream"
)

const serviceName = "certhub-api"

// ReadyProbe reports whether the service can take traffic. With a nil DB
// (in-memory deployments, tests) the probe always passes.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the certificate service.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	svc        *certs.Service
	store      certs.Store
	stream     *stream.Stream
	version    string
}

func New(rp ReadyProbe, svc *certs.Service, store certs.Store, st *stream.Stream, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		svc:        svc,
		store:      store,
		stream:     st,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/events", a.handleEventsCollection)
	a.mux.HandleFunc("/v1/events/", a.handleEventResource)

	a.mux.HandleFunc("/v1/certificates", a.handleCertificates)
	a.mux.HandleFunc("/v1/certificates/stream", a.Stream)
	a.mux.HandleFunc("/v1/certificates/", a.handleCertificateResource)
	a.mux.HandleFunc("/v1/verify", a.handleLookup)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler: authn inside, metrics outside.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
