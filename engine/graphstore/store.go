// Package graphstore is the structural half of C1: typed Neo4j operations
// over Episode/Entity/Statement/Document/Cluster nodes and the edges that
// connect them, plus process-lifetime schema bootstrap. It owns a bounded
// session pool the same way the teacher's engine/graph package does —
// every call opens a session, runs, and closes; sessions never cross
// component boundaries (spec §4.1).
package graphstore

import (
	"context"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// nowFunc is overridden in tests for deterministic timestamps.
var nowFunc = time.Now

// Store wraps a neo4j driver with the typed operations spec §4.1 names.
type Store struct {
	driver neo4j.DriverWithContext
	sem    chan struct{} // bounds concurrent sessions, spec §4.1 "≈50 sessions"

	schemaOnce sync.Once
	schemaErr  error
}

// New creates a Store. maxSessions bounds concurrent open sessions; spec
// §4.1 suggests ≈50.
func New(driver neo4j.DriverWithContext, maxSessions int) *Store {
	if maxSessions <= 0 {
		maxSessions = 50
	}
	return &Store{driver: driver, sem: make(chan struct{}, maxSessions)}
}

func (s *Store) session(ctx context.Context) neo4j.SessionWithContext {
	s.sem <- struct{}{}
	return &boundedSession{
		SessionWithContext: s.driver.NewSession(ctx, neo4j.SessionConfig{}),
		release:            func() { <-s.sem },
	}
}

// boundedSession releases a pool slot on Close.
type boundedSession struct {
	neo4j.SessionWithContext
	release func()
}

func (b *boundedSession) Close(ctx context.Context) error {
	defer b.release()
	return b.SessionWithContext.Close(ctx)
}

// EnsureSchema bootstraps uniqueness constraints and fulltext indexes.
// Guarded by a process-local sync.Once latch plus idempotent `IF NOT
// EXISTS` clauses on every statement (spec §4.1). Vector indexes are
// owned by vectorstore, not here, since this adapter speaks only Cypher.
// Failures are returned wrapped as *domain.SchemaInitError by the caller;
// this method itself just reports the raw error once.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		s.schemaErr = s.runSchemaStatements(ctx)
	})
	return s.schemaErr
}

var schemaStatements = []string{
	`CREATE CONSTRAINT episode_uuid IF NOT EXISTS FOR (e:Episode) REQUIRE e.uuid IS UNIQUE`,
	`CREATE CONSTRAINT entity_uuid IF NOT EXISTS FOR (e:Entity) REQUIRE e.uuid IS UNIQUE`,
	`CREATE CONSTRAINT statement_uuid IF NOT EXISTS FOR (s:Statement) REQUIRE s.uuid IS UNIQUE`,
	`CREATE CONSTRAINT cluster_uuid IF NOT EXISTS FOR (c:Cluster) REQUIRE c.uuid IS UNIQUE`,
	`CREATE CONSTRAINT document_uuid IF NOT EXISTS FOR (d:Document) REQUIRE d.uuid IS UNIQUE`,
	`CREATE CONSTRAINT space_uuid IF NOT EXISTS FOR (s:Space) REQUIRE s.uuid IS UNIQUE`,
	`CREATE FULLTEXT INDEX statement_fact_fulltext IF NOT EXISTS FOR (s:Statement) ON EACH [s.fact] OPTIONS {indexConfig: {` + "`fulltext.analyzer`" + `: 'english'}}`,
	`CREATE FULLTEXT INDEX entity_name_fulltext IF NOT EXISTS FOR (e:Entity) ON EACH [e.name] OPTIONS {indexConfig: {` + "`fulltext.analyzer`" + `: 'english'}}`,
}

func (s *Store) runSchemaStatements(ctx context.Context) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	for _, stmt := range schemaStatements {
		if _, err := sess.Run(ctx, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}
