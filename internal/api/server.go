// Package api provides the HTTP tool-dispatch server. Each tool takes a
// flat JSON parameter object and returns a flat result object whose
// "error" field is set when the operation failed; tool failures never
// change the HTTP status.
package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/logreach/logreach/internal/engine"
	"github.com/logreach/logreach/internal/logging"
	"github.com/logreach/logreach/internal/metrics"
)

// Server dispatches tool calls to the engine.
type Server struct {
	engine *engine.Engine
}

// NewServer creates a new server.
func NewServer(eng *engine.Engine) *Server {
	return &Server{engine: eng}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /tools/list_log_files", s.handleListLogFiles)
	mux.HandleFunc("POST /tools/read_log_file", s.handleReadLogFile)
	mux.HandleFunc("POST /tools/read_chunk", s.handleReadChunk)
	mux.HandleFunc("POST /tools/tail_log_file", s.handleTailLogFile)
	mux.HandleFunc("POST /tools/search_log_file", s.handleSearchLogFile)
	mux.HandleFunc("POST /tools/download_log_file", s.handleDownloadLogFile)
	mux.HandleFunc("POST /tools/parse_log_content", s.handleParseLogContent)

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleListLogFiles(w http.ResponseWriter, r *http.Request) {
	var req engine.ListRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.sendJSON(w, s.engine.ListFiles(r.Context(), req))
}

func (s *Server) handleReadLogFile(w http.ResponseWriter, r *http.Request) {
	var req engine.ReadRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.sendJSON(w, s.engine.ReadFile(r.Context(), req))
}

func (s *Server) handleReadChunk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path      string `json:"path"`
		Position  int64  `json:"position"`
		ChunkSize int64  `json:"chunk_size"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.sendJSON(w, s.engine.ReadChunk(r.Context(), req.Path, req.Position, req.ChunkSize))
}

func (s *Server) handleTailLogFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path  string `json:"path"`
		Lines int    `json:"lines"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.sendJSON(w, s.engine.Tail(r.Context(), req.Path, req.Lines))
}

func (s *Server) handleSearchLogFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path         string `json:"path"`
		Pattern      string `json:"pattern"`
		MaxMatches   int    `json:"max_matches"`
		ContextLines int    `json:"context_lines"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.sendJSON(w, s.engine.Search(r.Context(), req.Path, req.Pattern, req.MaxMatches, req.ContextLines))
}

func (s *Server) handleDownloadLogFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    string `json:"path"`
		MaxSize int64  `json:"max_size"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.sendJSON(w, s.engine.Download(r.Context(), req.Path, req.MaxSize))
}

func (s *Server) handleParseLogContent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    string   `json:"path"`
		Content string   `json:"content"`
		Kind    string   `json:"kind"`
		Fields  []string `json:"fields"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.sendJSON(w, s.engine.ParseNamed(req.Path, []byte(req.Content), req.Kind, req.Fields))
}

// decode parses the request body, answering 400 on malformed JSON.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("encode response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": message,
		"code":  code,
	})
}
