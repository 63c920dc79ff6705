package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rowanlabs/rowan/internal/agent"
	"github.com/rowanlabs/rowan/internal/catalog"
	"github.com/rowanlabs/rowan/internal/config"
	"github.com/rowanlabs/rowan/internal/db"
	"github.com/rowanlabs/rowan/internal/events"
	"github.com/rowanlabs/rowan/internal/exec"
	"github.com/rowanlabs/rowan/internal/fileindex"
	"github.com/rowanlabs/rowan/internal/keyring"
	"github.com/rowanlabs/rowan/internal/llm"
	"github.com/rowanlabs/rowan/internal/model"
)

// app bundles the wired components shared by serve and ask.
type app struct {
	cfg     config.Config
	sqlDB   *sql.DB
	store   *db.Store
	catalog *catalog.Store
	index   *fileindex.Indexer
	bus     *events.Bus
	keys    *keyring.Resolver
	manager *agent.Manager
}

func (a *app) Close() {
	_ = a.sqlDB.Close()
}

// buildApp opens storage and wires the agent loop's collaborators.
func buildApp(cfg config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.RunsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}

	sqlDB, err := db.Open(filepath.Join(cfg.DataDir, "rowan.db"))
	if err != nil {
		return nil, err
	}

	store := db.NewStore(sqlDB)
	cat := catalog.NewStore(sqlDB)
	index := fileindex.NewIndexer(sqlDB)
	bus := events.NewBus(cfg.EventIdleTimeout())

	client, err := llm.NewClient(llm.Config{
		Model:            cfg.Model,
		BaseURL:          cfg.BaseURL,
		TransportRetries: cfg.TransportRetries,
		DecisionRetries:  cfg.DecisionRetries,
	}, nil)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	client.Observer = func(raw, reason string) {
		bus.Publish(model.DebugEvent{
			Type:    model.EventError,
			Payload: fmt.Sprintf("rejected model output (%s): %s", reason, raw),
		})
	}

	keys := keyring.New(cfg.KeyServerURL, cfg.AppToken, nil)
	dispatcher := exec.NewDispatcher(
		exec.NewCodeExecutor(cfg.JuliaBin, cfg.ExecTimeout()),
		exec.NewShellExecutor(cfg.ShellAllowList, cfg.ExecTimeout()),
	)

	loop := &agent.Loop{
		Keys:       keys,
		Client:     client,
		Dispatcher: dispatcher,
		Catalog:    cat,
		Store:      store,
		Bus:        bus,
	}
	manager := agent.NewManager(loop, store, cfg.RunsDir, cfg.TurnLimit)

	return &app{
		cfg:     cfg,
		sqlDB:   sqlDB,
		store:   store,
		catalog: cat,
		index:   index,
		bus:     bus,
		keys:    keys,
		manager: manager,
	}, nil
}
