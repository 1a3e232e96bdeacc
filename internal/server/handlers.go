package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/deixis/fabricbridge"
	"github.com/deixis/fabricbridge/internal/gateway"
	"github.com/deixis/fabricbridge/internal/journal"
)

// FabricRequest is the body of POST /fabric.
type FabricRequest struct {
	Pattern string `json:"pattern"`
	Model   string `json:"model"`
	Data    string `json:"data"`
}

// ModelRequest is the body of POST /set_model.
type ModelRequest struct {
	Model string `json:"model"`
}

// YTRequest is the body of POST /yt.
type YTRequest struct {
	Pattern string `json:"pattern"`
	Model   string `json:"model"`
	URL     string `json:"url"`
}

// An empty model leaves fabric on its default model.
func (r *FabricRequest) missing() []string { return blank("pattern", r.Pattern) }
func (r *ModelRequest) missing() []string  { return blank("model", r.Model) }
func (r *YTRequest) missing() []string     { return blank("pattern", r.Pattern, "url", r.URL) }

// blank takes name/value pairs and returns the names whose value is empty.
func blank(pairs ...string) []string {
	var names []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			names = append(names, pairs[i])
		}
	}
	return names
}

type requestBody interface {
	missing() []string
}

type outputBody struct {
	Output string `json:"output"`
}

type modelsBody struct {
	Data struct {
		Models []gateway.Model `json:"models"`
	} `json:"data"`
}

type patternsBody struct {
	Data struct {
		Patterns []string `json:"patterns"`
	} `json:"data"`
}

type errorBody struct {
	Detail   string `json:"detail"`
	ExitCode *int   `json:"exit_code,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}

type healthBody struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
	Invocation string `json:"invocation"`
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /fabric", s.handleFabric)
	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("POST /set_model", s.handleSetModel)
	mux.HandleFunc("POST /yt", s.handleYT)
	mux.HandleFunc("GET /patterns", s.handlePatterns)
	mux.HandleFunc("GET /runs/{id}", s.handleRun)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}
	return cors(s.cfg.AllowedOrigins, mux)
}

func (s *Server) handleFabric(w http.ResponseWriter, r *http.Request) {
	var req FabricRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Info("running fabric", "pattern", req.Pattern, "model", req.Model, "bytes", len(req.Data))
	out, err := s.backend.ApplyPattern(r.Context(), req.Pattern, req.Model, req.Data)
	if err != nil {
		s.fail(w, "fabric", err)
		return
	}
	s.logger.Info("fabric command executed successfully", "pattern", req.Pattern)
	writeJSON(w, http.StatusOK, outputBody{Output: out})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("retrieving models")
	models, err := s.backend.ListModels(r.Context())
	if err != nil {
		s.fail(w, "models", err)
		return
	}
	s.logger.Info("models retrieved", "count", len(models))
	var body modelsBody
	body.Data.Models = models
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var req ModelRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Info("setting model", "model", req.Model)
	out, err := s.backend.SetModel(r.Context(), req.Model)
	if err != nil {
		s.fail(w, "set_model", err)
		return
	}
	s.logger.Info("model set", "model", req.Model)
	writeJSON(w, http.StatusOK, outputBody{Output: out})
}

func (s *Server) handleYT(w http.ResponseWriter, r *http.Request) {
	var req YTRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Info("running yt", "url", req.URL, "pattern", req.Pattern)
	out, err := s.backend.ApplyPatternToVideo(r.Context(), req.Pattern, req.Model, req.URL)
	if err != nil {
		s.fail(w, "yt", err)
		return
	}
	s.logger.Info("yt and fabric commands executed successfully", "url", req.URL)
	writeJSON(w, http.StatusOK, outputBody{Output: out})
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("retrieving patterns")
	patterns, err := s.backend.ListPatterns(r.Context())
	if err != nil {
		s.fail(w, "patterns", err)
		return
	}
	var body patternsBody
	body.Data.Patterns = patterns
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "run journal disabled"})
		return
	}
	rec, err := s.runs.Load(r.PathValue("id"))
	if errors.Is(err, journal.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: err.Error()})
		return
	}
	if err != nil {
		s.fail(w, "runs", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{
		Status:     "ok",
		Version:    fabricbridge.Version,
		Platform:   s.cfg.Platform,
		Invocation: s.cfg.Invocation,
	})
}

// decode reads a JSON body into v and checks its required fields. It
// writes a 422 response and returns false when the body is unusable.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v requestBody) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Detail: fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit)})
			return false
		}
		s.logger.Warn("rejecting request", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Detail: "invalid JSON body: " + err.Error()})
		return false
	}

	if missing := v.missing(); len(missing) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Detail: "missing required field(s): " + strings.Join(missing, ", ")})
		return false
	}
	return true
}

// fail logs err and writes the matching error response.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, gateway.ErrInvalidArgument) {
		s.logger.Warn("rejecting request", "op", op, "err", err)
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Detail: err.Error()})
		return
	}

	body := errorBody{Detail: err.Error()}
	var truncated *gateway.OutputTruncatedError
	if failure, ok := gateway.IsExecutionFailure(err); ok {
		code := failure.ExitCode
		body.ExitCode = &code
		body.RunID = failure.RunID
		s.logger.Error("command failed", "op", op, "run_id", failure.RunID, "exit_code", code, "stderr", strings.TrimSpace(failure.Stderr))
	} else if errors.As(err, &truncated) {
		body.RunID = truncated.RunID
		s.logger.Error("command output truncated", "op", op, "run_id", truncated.RunID)
	} else {
		s.logger.Error("request failed", "op", op, "err", err)
	}
	writeJSON(w, http.StatusInternalServerError, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
