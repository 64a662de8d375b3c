// Package server exposes ingestion runs and tender scores over HTTP.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tenderfeed/tender-cli/internal/ingest"
	"github.com/tenderfeed/tender-cli/internal/model"
	"github.com/tenderfeed/tender-cli/internal/store"
)

// maxUploadBytes caps a multipart backfill upload held in memory.
const maxUploadBytes = 64 << 20

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins []string
}

// Server routes HTTP requests to the ingestion service.
type Server struct {
	router chi.Router
	svc    *ingest.Service
	store  store.Store
	log    *zap.Logger
}

// New builds the router.
func New(svc *ingest.Service, st store.Store, opts Options) *Server {
	s := &Server{
		router: chi.NewRouter(),
		svc:    svc,
		store:  st,
		log:    zap.L().With(zap.String("component", "server")),
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/ingestion/run", s.handleRun)
		r.Post("/ingestion/backfill", s.handleBackfill)
		r.Get("/ingestion/runs/{id}", s.handleGetRun)
		r.Get("/tenders/{tenderId}/score", s.handleScore)
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req ingest.APIRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	// A run that has started finishes even if the client goes away.
	res, err := s.svc.RunAPI(context.WithoutCancel(r.Context()), req)
	if err != nil {
		s.log.Error("ingestion run not recorded", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ingestion run could not be recorded")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBackfill(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll() //nolint:errcheck
	}
	// StartBackfill reads an upload before returning.
	if req.File != nil {
		if c, ok := req.File.Reader.(io.Closer); ok {
			defer c.Close() //nolint:errcheck
		}
	}

	runID, err := s.svc.StartBackfill(r.Context(), req)
	if err != nil {
		if eris.Is(err, ingest.ErrInvalidBackfill) {
			writeError(w, http.StatusBadRequest, ingest.ErrInvalidBackfill.Error())
			return
		}
		s.log.Error("backfill not started", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "backfill could not be started")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"runId": runID})
}

// decodeBackfill reads a JSON body or a multipart form with an optional
// "file" part.
func decodeBackfill(r *http.Request) (ingest.BackfillRequest, error) {
	var req ingest.BackfillRequest
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if r.ContentLength == 0 {
			return req, nil
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, eris.New("invalid request body")
		}
		return req, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return req, eris.New("invalid multipart form")
	}
	req.FileURL = r.FormValue("fileUrl")
	req.FileName = r.FormValue("fileName")
	req.DateFrom = r.FormValue("dateFrom")
	req.DateTo = r.FormValue("dateTo")
	if v := r.FormValue("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, eris.New("pageSize must be an integer")
		}
		req.PageSize = n
	}

	if file, header, err := r.FormFile("file"); err == nil {
		req.File = &ingest.FileSource{Reader: file, Name: header.Filename}
	}
	return req, nil
}

// runStatus is the polled view of one ingestion run.
type runStatus struct {
	model.RunResult
	Source     model.RunSource `json:"source"`
	Status     model.RunState  `json:"status"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "run id must be a positive integer")
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.log.Error("load run", zap.Int64("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "run could not be loaded")
		return
	}

	writeJSON(w, http.StatusOK, runStatus{
		RunResult:  run.Result(),
		Source:     run.Source,
		Status:     run.State(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	tenderID := chi.URLParam(r, "tenderId")

	profile := model.AnonymousProfile()
	if v := r.URL.Query().Get("profileId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "profileId must be an integer")
			return
		}
		p, err := s.store.GetProfile(r.Context(), id)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "profile not found")
				return
			}
			s.log.Error("load profile", zap.Int64("profile_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "profile could not be loaded")
			return
		}
		profile = *p
	}

	b, err := s.svc.ExplainScore(r.Context(), tenderID, &profile)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "tender not found")
			return
		}
		s.log.Error("score tender", zap.String("tender_id", tenderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "tender could not be scored")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenderId":  tenderID,
		"score":     b.Total,
		"breakdown": b,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
