package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"videoDownloader/internal/apperr"
	"videoDownloader/internal/extractor"
	"videoDownloader/internal/manager"
	"videoDownloader/internal/metrics"
	"videoDownloader/internal/models"
	"videoDownloader/templates"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

const (
	maxRequestBytes        = 64 * 1024
	defaultMetadataTimeout = 30 * time.Second
)

type App struct {
	logger *slog.Logger

	router          *chi.Mux
	manager         *manager.Manager
	extractor       *extractor.Service
	metrics         *metrics.Collector
	metadataTimeout time.Duration

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}

	upgrader websocket.Upgrader
}

// subscriber serializes writes to one websocket connection.
type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscriber) send(evt models.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(evt)
}

func NewApp(logger *slog.Logger, mgr *manager.Manager, svc *extractor.Service, m *metrics.Collector, metadataTimeout time.Duration) *App {
	if metadataTimeout <= 0 {
		metadataTimeout = defaultMetadataTimeout
	}

	app := &App{
		logger:          logger,
		router:          chi.NewRouter(),
		manager:         mgr,
		extractor:       svc,
		metrics:         m,
		metadataTimeout: metadataTimeout,
		subs:            make(map[string]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mgr.SetUpdateCallback(app.broadcast)
	app.registerRoutes()
	return app
}

func (a *App) Router() http.Handler {
	return a.router
}

func (a *App) registerRoutes() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.RealIP)
	a.router.Use(middleware.Recoverer)
	a.router.Use(a.corsMiddleware)

	a.router.Get("/", a.index)
	a.router.Get("/healthz", a.health)
	a.router.Handle("/metrics", a.metrics.Handler())

	a.router.Route("/api", func(r chi.Router) {
		r.Post("/download", a.startDownload)
		r.Get("/progress/{id}", a.progress)
		r.Get("/download/{id}", a.download)
		r.Post("/metadata", a.metadata)
	})
	a.router.Get("/ws/{id}", a.sessionWS)
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"active":    a.manager.Active(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (a *App) index(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, templates.IndexPage(extractor.SupportedQualities()))
}

type downloadRequest struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
}

func (a *App) startDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := a.decode(w, r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}

	id, err := a.manager.Create(r.Context(), req.URL, req.Quality)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respondJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (a *App) progress(w http.ResponseWriter, r *http.Request) {
	evt, err := a.manager.Progress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respondJSON(w, http.StatusOK, evt)
}

func (a *App) download(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	artifact, err := a.manager.Retrieve(r.Context(), id)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	defer artifact.Close()

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+artifact.Filename+"\"")
	w.Header().Set("Content-Length", strconv.FormatInt(artifact.Size, 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, artifact); err != nil {
		a.logger.Warn("download stream interrupted", "session_id", id, "error", err)
	}
}

type metadataRequest struct {
	URL string `json:"url"`
}

func (a *App) metadata(w http.ResponseWriter, r *http.Request) {
	var req metadataRequest
	if err := a.decode(w, r, &req); err != nil {
		a.metrics.MetadataRequest(string(apperr.KindOf(err)))
		a.respondError(w, r, err)
		return
	}

	meta, err := a.extractor.Inspect(r.Context(), req.URL, a.metadataTimeout)
	if err != nil {
		a.metrics.MetadataRequest(string(apperr.KindOf(err)))
		a.respondError(w, r, err)
		return
	}
	a.metrics.MetadataRequest("ok")
	a.respondJSON(w, http.StatusOK, meta)
}

func (a *App) sessionWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.manager.Progress(r.Context(), id); err != nil {
		a.respondError(w, r, err)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	sub := &subscriber{conn: conn}

	// Hold the connection until the snapshot is written so broadcasts that
	// race with the subscription arrive after it.
	sub.mu.Lock()
	a.mu.Lock()
	if a.subs[id] == nil {
		a.subs[id] = make(map[*subscriber]struct{})
	}
	a.subs[id][sub] = struct{}{}
	a.mu.Unlock()

	if evt, err := a.manager.Progress(r.Context(), id); err == nil {
		_ = conn.WriteJSON(evt)
	}
	sub.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	a.unsubscribe(id, sub)
	_ = conn.Close()
}

func (a *App) broadcast(evt models.ProgressEvent) {
	a.mu.RLock()
	subs := make([]*subscriber, 0, len(a.subs[evt.ID]))
	for s := range a.subs[evt.ID] {
		subs = append(subs, s)
	}
	a.mu.RUnlock()

	for _, s := range subs {
		if err := s.send(evt); err != nil {
			a.unsubscribe(evt.ID, s)
			_ = s.conn.Close()
		}
	}
}

func (a *App) unsubscribe(id string, s *subscriber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.subs[id], s)
	if len(a.subs[id]) == 0 {
		delete(a.subs, id)
	}
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid request body", err)
	}
	return nil
}

func (a *App) render(w http.ResponseWriter, r *http.Request, component templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := component.Render(r.Context(), w); err != nil {
		a.logger.Error("failed to render template", "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
	}
}

func (a *App) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("failed to encode json", "error", err)
	}
}

func (a *App) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		a.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	} else {
		var e *apperr.Error
		if errors.As(err, &e) && e.Err != nil {
			a.logger.Debug("request rejected", "path", r.URL.Path, "kind", e.Kind, "error", e.Err)
		}
	}
	a.respondJSON(w, code, map[string]string{"error": apperr.Message(err)})
}

func (a *App) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
