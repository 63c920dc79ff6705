// Package server exposes the HTTP API: query submission, run inspection,
// live event streams, dataset catalog management, and the file index.
package server

import (
	"context"
	"net/http"

	"github.com/rowanlabs/rowan/internal/agent"
	"github.com/rowanlabs/rowan/internal/catalog"
	"github.com/rowanlabs/rowan/internal/db"
	"github.com/rowanlabs/rowan/internal/events"
	"github.com/rowanlabs/rowan/internal/fileindex"
	"github.com/rowanlabs/rowan/internal/model"
)

// KeySource resolves the credential this instance shares with trusted peers.
// *keyring.Resolver satisfies it.
type KeySource interface {
	Resolve(ctx context.Context, requestKey string) (model.Credential, error)
}

// Server holds the handler dependencies.
type Server struct {
	Manager  *agent.Manager
	Store    *db.Store
	Bus      *events.Bus
	Catalog  *catalog.Store
	Index    *fileindex.Indexer
	Keys     KeySource
	AppToken string
}

// New creates the API server.
func New(manager *agent.Manager, store *db.Store, bus *events.Bus, cat *catalog.Store, index *fileindex.Indexer, keys KeySource, appToken string) *Server {
	return &Server{
		Manager:  manager,
		Store:    store,
		Bus:      bus,
		Catalog:  cat,
		Index:    index,
		Keys:     keys,
		AppToken: appToken,
	}
}

// Routes returns the API router.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /commands/submit_query", s.handleSubmitQuery)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{run_id}", s.handleGetRun)
	mux.HandleFunc("GET /runs/{run_id}/events", s.handleRunEvents)
	mux.HandleFunc("GET /events/live", s.handleLiveEvents)

	mux.HandleFunc("POST /datasets", s.handleRegisterDataset)
	mux.HandleFunc("GET /datasets", s.handleListDatasets)
	mux.HandleFunc("GET /datasets/{dataset_id}", s.handleGetDataset)
	mux.HandleFunc("DELETE /datasets/{dataset_id}", s.handleDeleteDataset)

	mux.HandleFunc("POST /files/index", s.handleIndexFiles)
	mux.HandleFunc("POST /files/indexed/search", s.handleSearchFiles)
	mux.HandleFunc("GET /files/indexed/stats", s.handleIndexStats)

	mux.HandleFunc("GET /config/openai_key", s.handleConfigKey)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
