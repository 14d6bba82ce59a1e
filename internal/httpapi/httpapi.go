// Package httpapi is the thin HTTP adapter spec.md §6 describes as
// out-of-scope-but-required-to-reach-the-core: a plain net/http.ServeMux
// mapping each row of the operation table onto a component call, the same
// no-framework minimalism postgres_server.go shows for BemiDB's own wire
// listener (there, the raw Postgres protocol over net.Listener; here,
// JSON over HTTP, since spec.md §6 specifies an HTTP surface instead).
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hotdata-dev/rivetdb/internal/blob"
	"github.com/hotdata-dev/rivetdb/internal/catalog"
	"github.com/hotdata-dev/rivetdb/internal/config"
	"github.com/hotdata-dev/rivetdb/internal/discovery"
	"github.com/hotdata-dev/rivetdb/internal/orchestrator"
	"github.com/hotdata-dev/rivetdb/internal/provider"
	"github.com/hotdata-dev/rivetdb/internal/rerr"
	"github.com/hotdata-dev/rivetdb/internal/rlog"
	"github.com/hotdata-dev/rivetdb/internal/scheduler"
	"github.com/hotdata-dev/rivetdb/internal/secret"
)

// Server holds the wired components and exposes them as an http.Handler.
type Server struct {
	catalog      catalog.Store
	blob         blob.Store
	secrets      *secret.Store
	orchestrator *orchestrator.Orchestrator
	scheduler    *scheduler.Scheduler
	discovery    *discovery.Service
	cfg          *config.Config
}

func New(catalogStore catalog.Store, blobStore blob.Store, secrets *secret.Store, orch *orchestrator.Orchestrator, sched *scheduler.Scheduler, disc *discovery.Service, cfg *config.Config) *Server {
	return &Server{catalog: catalogStore, blob: blobStore, secrets: secrets, orchestrator: orch, scheduler: sched, discovery: disc, cfg: cfg}
}

// Handler builds the routed mux (spec.md §6's operation table).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /connections", s.createConnection)
	mux.HandleFunc("POST /connections/{name}/discover", s.discoverConnection)
	mux.HandleFunc("DELETE /connections/{name}", s.deleteConnection)
	mux.HandleFunc("POST /connections/{name}/tables/{schema}/{table}/refresh", s.refreshTable)
	mux.HandleFunc("POST /connections/{name}/refresh", s.refreshConnection)
	mux.HandleFunc("GET /refresh/{id}", s.getRefreshJob)
	mux.HandleFunc("POST /secrets", s.putSecret)
	mux.HandleFunc("GET /secrets", s.listSecrets)
	mux.HandleFunc("GET /secrets/{name}", s.getSecret)
	mux.HandleFunc("DELETE /secrets/{name}", s.deleteSecret)
	mux.HandleFunc("POST /query", s.query)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, cfg *config.Config, err error) {
	status := rerr.HTTPStatus(err)
	if status >= 500 {
		rlog.LogError(cfg, "request failed:", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// --- Connections -------------------------------------------------------------

type createConnectionRequest struct {
	Name   string         `json:"name"`
	Source catalog.Source `json:"source"`
}

func (s *Server) createConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.cfg, fmt.Errorf("malformed request body: %w", rerr.ErrInvalidConfig))
		return
	}
	id, err := s.catalog.CreateConnection(r.Context(), req.Name, req.Source)
	if err != nil {
		writeError(w, s.cfg, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) discoverConnection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	invalidate := r.URL.Query().Get("invalidate_changed") == "true"
	diff, err := s.discovery.Discover(r.Context(), name, invalidate)
	if err != nil {
		writeError(w, s.cfg, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (s *Server) deleteConnection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	conn, err := s.catalog.GetConnection(r.Context(), name)
	if err != nil {
		writeError(w, s.cfg, err)
		return
	}
	if conn == nil {
		writeError(w, s.cfg, rerr.ErrNotFound)
		return
	}

	removed, err := s.catalog.DeleteConnection(r.Context(), name)
	if err != nil {
		writeError(w, s.cfg, err)
		return
	}
	if err := s.blob.DeletePrefix(r.Context(), blob.ConnectionPrefix(conn.ID)); err != nil {
		writeError(w, s.cfg, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"tables_removed": len(removed)})
}

// --- Refresh -----------------------------------------------------------------

func (s *Server) refreshTable(w http.ResponseWriter, r *http.Request) {
	name, schema, table := r.PathValue("name"), r.PathValue("schema"), r.PathValue("table")
	conn, err := s.catalog.GetConnection(r.Context(), name)
	if err != nil {
		writeError(w, s.cfg, err)
		return
	}
	if conn == nil {
		writeError(w, s.cfg, rerr.ErrNotFound)
		return
	}
	t, err := s.catalog.GetTable(r.Context(), conn.ID, nil, schema, table)
	if err != nil {
		writeError(w, s.cfg, err)
		return
	}
	if t == nil {
		writeError(w, s.cfg, rerr.ErrNotFound)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		id := s.scheduler.RefreshTableAsync(conn.ID, t.ID)
		writeJSON(w, http.StatusAccepted, map[string]string{"refresh_id": id})
		return
	}

	res, err := s.scheduler.RefreshTableSync(r.Context(), t.ID)
	if err != nil {
		writeError(w, s.cfg, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) refreshConnection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	conn, err := s.catalog.GetConnection(r.Context(), name)
	if err != nil {
		writeError(w, s.cfg, err)
		return
	}
	if conn == nil {
		writeError(w, s.cfg, rerr.ErrNotFound)
		return
	}

	parallelism := 0
	if p := r.URL.Query().Get("parallelism"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			parallelism = n
		}
	}

	if r.URL.Query().Get("async") == "true" {
		id := s.scheduler.RefreshConnectionAsync(conn.ID, parallelism)
		writeJSON(w, http.StatusAccepted, map[string]string{"refresh_id": id})
		return
	}

	result, err := s.scheduler.RefreshConnectionSync(r.Context(), conn.ID, parallelism)
	if err != nil {
		writeError(w, s.cfg, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getRefreshJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.scheduler.GetJob(r.PathValue("id"))
	if err != nil {
		writeError(w, s.cfg, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// --- Secrets -------------------------------------------------------------

type putSecretRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (s *Server) putSecret(w http.ResponseWriter, r *http.Request) {
	var req putSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.cfg, fmt.Errorf("malformed request body: %w", rerr.ErrInvalidConfig))
		return
	}
	if err := s.secrets.PutString(req.Name, req.Value); err != nil {
		writeError(w, s.cfg, err)
		return
	}
	writeJSON(w, http.StatusCreated, nil)
}

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	list, err := s.secrets.List()
	if err != nil {
		writeError(w, s.cfg, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getSecret(w http.ResponseWriter, r *http.Request) {
	list, err := s.secrets.List()
	if err != nil {
		writeError(w, s.cfg, err)
		return
	}
	name := r.PathValue("name")
	for _, m := range list {
		if m.Name == name {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}
	writeError(w, s.cfg, rerr.ErrNotFound)
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := s.secrets.Delete(r.PathValue("name")); err != nil {
		writeError(w, s.cfg, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// --- Query -----------------------------------------------------------------

type queryRequest struct {
	TableID    int64             `json:"table_id"`
	Indexed    []string          `json:"indexed_columns"`
	Projection []string          `json:"projection"`
	Filters    []provider.Filter `json:"filters"`
	Limit      *int64            `json:"limit"`
}

// query binds a Lazy Table Provider for the requested table and returns its
// scan plan — the hand-off point to the external SQL executor that spec.md
// §1 places out of scope; there is no executor here to run the plan
// against.
func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.cfg, fmt.Errorf("malformed request body: %w", rerr.ErrInvalidConfig))
		return
	}

	p, err := provider.New(r.Context(), s.catalog, s.orchestrator, req.TableID, req.Indexed)
	if err != nil {
		writeError(w, s.cfg, err)
		return
	}

	plan, err := p.Scan(r.Context(), req.Projection, req.Filters, req.Limit)
	if err != nil {
		writeError(w, s.cfg, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}
