// Package api exposes the supervisor over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/park285/usi-supervisor/internal/health"
	"github.com/park285/usi-supervisor/internal/match"
	"github.com/park285/usi-supervisor/internal/optstore"
	"github.com/park285/usi-supervisor/internal/usi"
	"github.com/park285/usi-supervisor/pkg/usidto"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const requestTimeout = 30 * time.Second

type Deps struct {
	Registry *usi.Registry
	Options  optstore.Store
	Catalog  *optstore.Catalog
	Matches  *match.Manager
	Probe    health.ProbeFunc
	Logger   *zap.Logger
}

type Server struct {
	deps Deps
	srv  *fasthttp.Server
}

func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Probe == nil {
		d.Probe = usi.Probe
	}
	s := &Server{deps: d}
	s.srv = &fasthttp.Server{
		Handler:      s.Handle,
		Name:         "usi-supervisor",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
	}
	return s
}

func (s *Server) Serve(ln net.Listener) error { return s.srv.Serve(ln) }

func (s *Server) ListenAndServe(addr string) error { return s.srv.ListenAndServe(addr) }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.ShutdownWithContext(ctx) }

// Handle routes one request.
func (s *Server) Handle(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	parts := splitPath(string(ctx.Path()))

	switch {
	case len(parts) == 1 && parts[0] == "engines" && method == fasthttp.MethodGet:
		s.listEngines(ctx)
	case len(parts) == 1 && parts[0] == "engines" && method == fasthttp.MethodPost:
		s.spawnEngine(ctx)
	case len(parts) == 2 && parts[0] == "engines" && parts[1] == "stop-all" && method == fasthttp.MethodPost:
		s.stopAll(ctx)
	case len(parts) == 2 && parts[0] == "engines" && method == fasthttp.MethodDelete:
		s.stopEngine(ctx, parts[1])
	case len(parts) == 3 && parts[0] == "engines" && parts[2] == "status" && method == fasthttp.MethodGet:
		s.engineStatus(ctx, parts[1])
	case len(parts) == 3 && parts[0] == "engines" && parts[2] == "command" && method == fasthttp.MethodPost:
		s.sendCommand(ctx, parts[1])
	case len(parts) == 2 && parts[0] == "options" && method == fasthttp.MethodGet:
		s.getOptions(ctx, parts[1])
	case len(parts) == 2 && parts[0] == "options" && method == fasthttp.MethodPut:
		s.saveOptions(ctx, parts[1])
	case len(parts) == 1 && parts[0] == "probe" && method == fasthttp.MethodPost:
		s.probe(ctx)
	case len(parts) == 2 && parts[0] == "catalog" && parts[1] == "health" && method == fasthttp.MethodGet:
		s.catalogHealth(ctx)
	case len(parts) == 1 && parts[0] == "matches" && method == fasthttp.MethodGet:
		s.listMatches(ctx)
	case len(parts) == 1 && parts[0] == "matches" && method == fasthttp.MethodPost:
		s.startMatch(ctx)
	case len(parts) == 2 && parts[0] == "matches" && method == fasthttp.MethodGet:
		s.matchState(ctx, parts[1])
	default:
		writeJSON(ctx, fasthttp.StatusNotFound, usidto.Fail("no route for "+method+" "+string(ctx.Path())))
	}
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

type spawnRequest struct {
	EngineID    string            `json:"engine_id"`
	ConfigID    string            `json:"config_id"`
	Name        string            `json:"name"`
	Path        string            `json:"path"`
	TempOptions map[string]string `json:"temp_options"`
}

func (s *Server) spawnEngine(ctx *fasthttp.RequestCtx) {
	var req spawnRequest
	if !decode(ctx, &req) {
		return
	}
	if req.ConfigID == "" {
		req.ConfigID = req.EngineID
	}
	if s.deps.Catalog != nil && req.ConfigID != "" {
		if e, ok := s.deps.Catalog.Engine(req.ConfigID); ok {
			if req.Path == "" {
				req.Path = e.Path
			}
			if req.Name == "" {
				req.Name = e.Label()
			}
		}
	}
	if strings.TrimSpace(req.Path) == "" || req.ConfigID == "" {
		writeJSON(ctx, fasthttp.StatusBadRequest, usidto.Fail("config_id and path are required"))
		return
	}
	if req.EngineID == "" {
		req.EngineID = usi.NewRuntimeID(req.ConfigID)
	}

	c, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	sess, err := s.deps.Registry.SpawnAndInitialize(c, usi.SpawnRequest{
		ID:       req.EngineID,
		ConfigID: req.ConfigID,
		Name:     req.Name,
		Path:     req.Path,
		Options:  req.TempOptions,
	}, s.deps.Options)
	if err != nil {
		s.fail(ctx, "spawn engine", err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, usidto.OK("Engine spawned and initialized", usi.EngineInfo{
		ID:     sess.ID(),
		Name:   sess.Name(),
		Path:   sess.Path(),
		Status: sess.Status(),
		PID:    sess.PID(),
	}))
}

func (s *Server) sendCommand(ctx *fasthttp.RequestCtx, id string) {
	var req struct {
		Command string `json:"command"`
	}
	if !decode(ctx, &req) {
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeJSON(ctx, fasthttp.StatusBadRequest, usidto.Fail("command is required"))
		return
	}
	if err := s.deps.Registry.Send(id, req.Command); err != nil {
		s.fail(ctx, "send command", err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, usidto.OK("Command sent", nil))
}

func (s *Server) stopEngine(ctx *fasthttp.RequestCtx, id string) {
	c, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := s.deps.Registry.Stop(c, id); err != nil {
		s.fail(ctx, "stop engine", err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, usidto.OK("Engine stopped", nil))
}

func (s *Server) stopAll(ctx *fasthttp.RequestCtx) {
	n := s.deps.Registry.Len()
	c, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := s.deps.Registry.StopAll(c); err != nil {
		s.fail(ctx, "stop all engines", err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, usidto.OK("All engines stopped", map[string]int{"stopped": n}))
}

func (s *Server) engineStatus(ctx *fasthttp.RequestCtx, id string) {
	key, sess, err := s.deps.Registry.Resolve(id)
	if err != nil {
		s.fail(ctx, "engine status", err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, usidto.OK("Engine status", map[string]any{
		"id":     key,
		"status": sess.Status(),
	}))
}

func (s *Server) listEngines(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, usidto.OK("Engines", s.deps.Registry.Info()))
}

func (s *Server) getOptions(ctx *fasthttp.RequestCtx, configID string) {
	opts, ok, err := s.deps.Options.EngineOptions(ctx, configID)
	if err != nil {
		s.fail(ctx, "load options", err)
		return
	}
	if !ok {
		opts = map[string]string{}
	}
	writeJSON(ctx, fasthttp.StatusOK, usidto.OK("Engine options", opts))
}

func (s *Server) saveOptions(ctx *fasthttp.RequestCtx, configID string) {
	var opts map[string]string
	if !decode(ctx, &opts) {
		return
	}
	if err := s.deps.Options.SaveEngineOptions(ctx, configID, opts); err != nil {
		s.fail(ctx, "save options", err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, usidto.OK("Engine options saved", opts))
}

func (s *Server) probe(ctx *fasthttp.RequestCtx) {
	var req struct {
		Path string `json:"path"`
	}
	if !decode(ctx, &req) {
		return
	}
	c, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	md, err := s.deps.Probe(c, req.Path)
	if err != nil {
		s.fail(ctx, "probe engine", err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, usidto.OK("Engine validated", md))
}

func (s *Server) catalogHealth(ctx *fasthttp.RequestCtx) {
	if s.deps.Catalog == nil {
		writeJSON(ctx, fasthttp.StatusOK, usidto.OK("No catalog configured", []usidto.EngineHealth{}))
		return
	}
	c, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	report := health.Check(c, s.deps.Catalog.Engines(), s.deps.Probe)
	writeJSON(ctx, fasthttp.StatusOK, usidto.OK("Catalog health", report))
}

func (s *Server) startMatch(ctx *fasthttp.RequestCtx) {
	if s.deps.Matches == nil {
		writeJSON(ctx, fasthttp.StatusServiceUnavailable, usidto.Fail("matches are not enabled"))
		return
	}
	var req usidto.MatchRequest
	if !decode(ctx, &req) {
		return
	}
	id, err := s.deps.Matches.Start(req)
	if err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, usidto.Fail(err.Error()))
		return
	}
	writeJSON(ctx, fasthttp.StatusAccepted, usidto.OK("Match started", map[string]string{"match_id": id}))
}

func (s *Server) listMatches(ctx *fasthttp.RequestCtx) {
	var ids []string
	if s.deps.Matches != nil {
		ids = s.deps.Matches.IDs()
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(ctx, fasthttp.StatusOK, usidto.OK("Matches", ids))
}

func (s *Server) matchState(ctx *fasthttp.RequestCtx, id string) {
	if s.deps.Matches == nil {
		writeJSON(ctx, fasthttp.StatusNotFound, usidto.Fail("match not found"))
		return
	}
	st, ok := s.deps.Matches.State(id)
	if !ok {
		writeJSON(ctx, fasthttp.StatusNotFound, usidto.Fail("match not found"))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, usidto.OK("Match state", st))
}

func (s *Server) fail(ctx *fasthttp.RequestCtx, op string, err error) {
	code := statusFor(err)
	if code >= fasthttp.StatusInternalServerError {
		s.deps.Logger.Error("api_request_failed", zap.String("op", op), zap.Error(err))
	} else {
		s.deps.Logger.Debug("api_request_rejected", zap.String("op", op), zap.Error(err))
	}
	writeJSON(ctx, code, usidto.Fail(op+": "+err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, usi.ErrNotFound), errors.Is(err, optstore.ErrUnknownEngine):
		return fasthttp.StatusNotFound
	case errors.Is(err, usi.ErrAmbiguousID), errors.Is(err, usi.ErrDuplicateID):
		return fasthttp.StatusConflict
	case errors.Is(err, usi.ErrSpawn):
		return fasthttp.StatusUnprocessableEntity
	case errors.Is(err, usi.ErrHandshakeTimeout), errors.Is(err, usi.ErrCommandTimeout):
		return fasthttp.StatusGatewayTimeout
	default:
		return fasthttp.StatusInternalServerError
	}
}

func decode(ctx *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, usidto.Fail("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

func writeJSON(ctx *fasthttp.RequestCtx, code int, body usidto.CommandResponse) {
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(body); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}
}
