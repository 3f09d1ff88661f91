package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/git-pkgs/mirror/internal/core"
	"github.com/git-pkgs/mirror/internal/publish"
	"github.com/git-pkgs/mirror/internal/service"
)

const maxBody = 1 << 20

// Handler serves the mirror endpoints.
type Handler struct {
	publisher *publish.Publisher
	service   *service.Service
	logger    *slog.Logger
	// Circuits reports the state of outbound circuit breakers by host.
	Circuits func() map[string]string
}

func NewHandler(pub *publish.Publisher, svc *service.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{publisher: pub, service: svc, logger: logger}
}

func NewMux(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /packages.json", h.root)
	mux.HandleFunc("GET /p/{vendor}/{file}", h.versions)
	mux.HandleFunc("POST "+publish.NotifyBatch, h.downloads)
	mux.HandleFunc("POST /hooks/push", h.push)
	mux.HandleFunc("GET /healthz", h.health)
	return mux
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	content, err := h.publisher.Root(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			return
		}
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	writeRaw(w, http.StatusOK, content)
}

// versions serves p/{vendor}/{package}${hash}.json.
func (h *Handler) versions(w http.ResponseWriter, r *http.Request) {
	file, ok := strings.CutSuffix(r.PathValue("file"), ".json")
	idx := strings.LastIndex(file, "$")
	if !ok || idx <= 0 || idx == len(file)-1 {
		http.NotFound(w, r)
		return
	}
	name := r.PathValue("vendor") + "/" + file[:idx]
	hash := file[idx+1:]

	content, err := h.publisher.Versions(r.Context(), name, hash)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if content == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	writeRaw(w, http.StatusOK, content)
}

type downloadsRequest struct {
	Downloads []service.Download `json:"downloads"`
}

func (h *Handler) downloads(w http.ResponseWriter, r *http.Request) {
	var req downloadsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid request body"})
		return
	}
	out, err := h.service.TrackDownloads(r.Context(), req.Downloads)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Debug("downloads tracked", "message", out.Message)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// pushEvent is the subset of a push webhook payload the mirror reads.
type pushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	Repository struct {
		HTMLURL string `json:"html_url"`
		URL     string `json:"url"`
	} `json:"repository"`
}

func (h *Handler) push(w http.ResponseWriter, r *http.Request) {
	var ev pushEvent
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}
	url := ev.Repository.HTMLURL
	if url == "" {
		url = ev.Repository.URL
	}
	out, err := h.service.HandlePush(r.Context(), service.Push{
		RepositoryURL: url,
		Ref:           ev.Ref,
		After:         ev.After,
		Deleted:       ev.Deleted,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.Circuits != nil {
		body["circuits"] = h.Circuits()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch core.KindOf(err) {
	case core.NotFound:
		status = http.StatusNotFound
	case core.InvalidVersion, core.DriverUnsupported:
		status = http.StatusUnprocessableEntity
	case core.Overload, core.Transport:
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"message": err.Error()})
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, body)
}
