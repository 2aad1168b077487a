package main

import (
	"fmt"

	"github.com/alfredjeanlab/cafestream/internal/config"
	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/store"
	"github.com/alfredjeanlab/cafestream/internal/store/postgres"
)

// openStore connects to Postgres when a database URL is configured and
// falls back to an in-process store otherwise.
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		return store.NewMemory(), nil
	}
	return postgres.New(cfg.DatabaseURL)
}

// openEventLog opens the configured log backend. The postgres backend shares
// st's connection pool.
func openEventLog(cfg *config.Config, st store.Store) (eventlog.Log, error) {
	switch cfg.LogBackend {
	case config.BackendMemory:
		return eventlog.NewMemory(cfg.LogMaxLen), nil
	case config.BackendBolt:
		return eventlog.OpenBolt(cfg.BoltPath, cfg.LogMaxLen)
	case config.BackendPostgres:
		pg, ok := st.(*postgres.PostgresStore)
		if !ok {
			return nil, fmt.Errorf("postgres event log needs CAFE_DATABASE_URL")
		}
		return pg.EventLog(postgres.WithMaxLen(cfg.LogMaxLen)), nil
	case config.BackendJetStream:
		return eventlog.ConnectJetStream(cfg.NATSURL, eventlog.JetStreamConfig{
			Prefix:   cfg.JetStreamPrefix,
			Replicas: cfg.JetStreamReplicas,
			MaxMsgs:  int64(cfg.LogMaxLen),
		})
	}
	return nil, fmt.Errorf("unknown event log backend %q", cfg.LogBackend)
}
