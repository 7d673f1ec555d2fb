package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"certhub.org/internal/auth"
	"certhub.org/internal/certs"
)

// Template uploads carry whole images; keep the cap generous.
const maxTemplateBytes = 8 << 20

type createEventRequest struct {
	Name             string `json:"name"`
	Date             string `json:"date"`
	Description      string `json:"description"`
	AictePoints      int    `json:"aicte_points"`
	ParticipantLimit int    `json:"participant_limit"`
}

type listCertificatesResponse struct {
	Items []certs.Certificate `json:"items"`
	AsOf  time.Time           `json:"as_of"`
}

func (a *API) handleEventsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createEvent(w, r)
	case http.MethodGet:
		a.listEvents(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleEventResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/events/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "event not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getEvent(w, r, id)
	case "start":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.startEvent(w, r, id)
	case "register":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.registerParticipant(w, r, id)
	case "template":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.uploadTemplate(w, r, id)
	case "certificates":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.generateCertificates(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleCertificates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.listCertificates(w, r)
}

func (a *API) handleCertificateResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/certificates/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "certificate not found")
		return
	}
	if action != "verify" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.verifyCertificate(w, r, id)
}

// --- events ---

func (a *API) createEvent(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Date) == "" {
		writeError(w, r, http.StatusBadRequest, "date is required")
		return
	}
	date, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "date must be RFC3339")
		return
	}

	event, err := a.svc.CreateEvent(r.Context(), certs.EventInput{
		Name:             req.Name,
		Date:             date,
		Description:      req.Description,
		AictePoints:      req.AictePoints,
		ParticipantLimit: req.ParticipantLimit,
	}, principal.UserID)
	if err != nil {
		handleCertsError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/events/"+event.ID)
	writeJSON(w, http.StatusCreated, event)
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := a.svc.ListEvents(r.Context())
	if err != nil {
		handleCertsError(w, r, err)
		return
	}
	if events == nil {
		events = []certs.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": events,
		"as_of": time.Now().UTC(),
	})
}

func (a *API) getEvent(w http.ResponseWriter, r *http.Request, id string) {
	event, err := a.svc.GetEvent(r.Context(), id)
	if err != nil {
		handleCertsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (a *API) startEvent(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := requirePrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	event, err := a.svc.Start(r.Context(), id, principal.UserID)
	if err != nil {
		handleCertsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (a *API) registerParticipant(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := requirePrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if principal.Role != auth.RoleStudent {
		writeError(w, r, http.StatusForbidden, "only students may register")
		return
	}
	participant, err := a.svc.Register(r.Context(), id, principal.UserID)
	if err != nil {
		handleCertsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, participant)
}

func (a *API) uploadTemplate(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := requirePrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := r.ParseMultipartForm(maxTemplateBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "multipart form with a template file is required")
		return
	}
	file, header, err := r.FormFile("template")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "template file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxTemplateBytes+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "failed to read template file")
		return
	}
	if len(content) > maxTemplateBytes {
		writeError(w, r, http.StatusBadRequest, "template file too large")
		return
	}

	format := strings.TrimSpace(r.FormValue("format"))
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	}

	template, err := a.svc.UploadTemplate(r.Context(), id, principal.UserID, content, format)
	if err != nil {
		handleCertsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, template)
}

func (a *API) generateCertificates(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := requirePrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	report, err := a.svc.Generate(r.Context(), id, principal.UserID)
	if err != nil {
		handleCertsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- certificates ---

func (a *API) listCertificates(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	// An unknown subject lists nothing rather than erroring: the scoping
	// rules fail closed.
	actor, err := a.store.FindUser(r.Context(), principal.UserID)
	if err != nil && !errors.Is(err, certs.ErrNotFound) {
		handleCertsError(w, r, err)
		return
	}

	items, err := a.svc.ListFor(r.Context(), actor)
	if err != nil {
		handleCertsError(w, r, err)
		return
	}
	if items == nil {
		items = []certs.Certificate{}
	}
	writeJSON(w, http.StatusOK, listCertificatesResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) verifyCertificate(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := requirePrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	cert, err := a.svc.Verify(r.Context(), id, principal.UserID)
	if err != nil {
		handleCertsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (a *API) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	hash := strings.TrimSpace(r.URL.Query().Get("hash"))
	if hash == "" {
		writeError(w, r, http.StatusBadRequest, "hash query parameter is required")
		return
	}
	result, err := a.svc.Lookup(r.Context(), hash)
	if err != nil {
		handleCertsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleCertsError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, certs.ErrInvalidInput), errors.Is(err, certs.ErrUnsupportedFormat):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, certs.ErrNotAuthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, certs.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, certs.ErrMissingTemplate),
		errors.Is(err, certs.ErrNoParticipants),
		errors.Is(err, certs.ErrGenerationInProgress),
		errors.Is(err, certs.ErrEventFinished),
		errors.Is(err, certs.ErrEventClosed),
		errors.Is(err, certs.ErrEventFull),
		errors.Is(err, certs.ErrAlreadyRegistered):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
