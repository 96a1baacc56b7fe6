package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/pharmacy-outreach/internal/config"
)

// Scylla wraps the gocql session backing call logs and the webhook journal.
type Scylla struct {
	session *gocql.Session
}

// NewScylla creates a session against the configured keyspace.
func NewScylla(cfg config.ScyllaConfig) (*Scylla, error) {
	consistency, err := parseConsistency(cfg.Consistency)
	if err != nil {
		return nil, fmt.Errorf("scylla: %w", err)
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = consistency
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: create session: %w", err)
	}

	return &Scylla{session: session}, nil
}

// Session exposes the gocql session.
func (s *Scylla) Session() *gocql.Session {
	return s.session
}

// Ping runs a trivial query against the coordinator.
func (s *Scylla) Ping(ctx context.Context) error {
	return s.session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
}

// Close shuts down the session.
func (s *Scylla) Close() error {
	if s.session != nil {
		s.session.Close()
	}
	return nil
}

// parseConsistency maps snake_case config values such as local_quorum onto
// gocql levels. Empty selects QUORUM.
func parseConsistency(level string) (gocql.Consistency, error) {
	if level == "" {
		return gocql.Quorum, nil
	}
	c, err := gocql.ParseConsistencyWrapper(strings.ReplaceAll(strings.ToUpper(level), "-", "_"))
	if err != nil {
		return gocql.Any, fmt.Errorf("unknown consistency %q", level)
	}
	return c, nil
}
