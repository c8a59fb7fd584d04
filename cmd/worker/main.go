// Command worker runs the ingestion core's background processes: the
// per-user durable job queue (C5) draining into the eight-stage
// ingestion pipeline (C6), and the out-of-band clustering (C9) and space
// assignment (C10) passes the spec requires to run independently of the
// request path.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/cluster"
	"github.com/jmagar/core-sub000/engine/entityresolve"
	"github.com/jmagar/core-sub000/engine/graphstore"
	"github.com/jmagar/core-sub000/engine/ingest"
	"github.com/jmagar/core-sub000/engine/llm"
	"github.com/jmagar/core-sub000/engine/queue"
	"github.com/jmagar/core-sub000/engine/space"
	"github.com/jmagar/core-sub000/engine/statementresolve"
	"github.com/jmagar/core-sub000/engine/vectorstore"
	"github.com/jmagar/core-sub000/pkg/metrics"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Config holds all environment-based configuration (spec §4.3).
type Config struct {
	Neo4jURL        string
	Neo4jUser       string
	Neo4jPass       string
	Neo4jMaxSession int
	QdrantAddr      string
	QdrantPrefix    string
	EmbeddingDims   int
	NatsURL         string
	AnthropicAPIKey string
	AnthropicURL    string
	HighModel       string
	LowModel        string
	MaxTokens       int64
	OllamaURL       string
	OllamaModel     string
	MetricsPort     int
}

func loadConfig() Config {
	return Config{
		Neo4jURL:        envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:       envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:       envOr("NEO4J_PASS", "password"),
		Neo4jMaxSession: envOrInt("NEO4J_MAX_SESSIONS", 50),
		QdrantAddr:      envOr("QDRANT_URL", "localhost:6334"),
		QdrantPrefix:    envOr("QDRANT_COLLECTION", "ingestcore"),
		EmbeddingDims:   envOrInt("EMBEDDING_DIMS", 768),
		NatsURL:         envOr("NATS_URL", nats.DefaultURL),
		AnthropicAPIKey: envOr("ANTHROPIC_API_KEY", ""),
		AnthropicURL:    envOr("ANTHROPIC_BASE_URL", ""),
		HighModel:       envOr("ANTHROPIC_HIGH_MODEL", "claude-opus-4-6"),
		LowModel:        envOr("ANTHROPIC_LOW_MODEL", "claude-haiku-4-5"),
		MaxTokens:       int64(envOrInt("ANTHROPIC_MAX_TOKENS", 4096)),
		OllamaURL:       envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:     envOr("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		MetricsPort:     envOrInt("METRICS_PORT", 9092),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return err
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return err
	}
	logger.Info("connected to neo4j")

	vector, err := vectorstore.New(cfg.QdrantAddr, cfg.QdrantPrefix)
	if err != nil {
		return err
	}
	defer vector.Close()

	store := graphstore.New(driver, cfg.Neo4jMaxSession)
	combined := graphstore.NewCombinedStore(store, vector)
	if err := combined.EnsureSchema(ctx, cfg.EmbeddingDims); err != nil {
		logger.Warn("schema init incomplete, proceeding on the assumption indexes already exist", "err", err)
	}
	logger.Info("connected to qdrant", "collection_prefix", cfg.QdrantPrefix, "dims", cfg.EmbeddingDims)

	embedder := llm.NewEmbedder(cfg.OllamaURL, cfg.OllamaModel)
	generator := llm.NewGenerator(llm.GeneratorConfig{
		HighModel: cfg.HighModel,
		LowModel:  cfg.LowModel,
		MaxTokens: cfg.MaxTokens,
		APIKey:    cfg.AnthropicAPIKey,
		BaseURL:   cfg.AnthropicURL,
	})

	entityResolver := entityresolve.New(combined, generator)
	statementResolver := statementresolve.New(combined, generator)
	clusterEngine := cluster.New(combined, generator, logger)
	spaceSvc := space.New(combined, generator)

	metricsReg := metrics.New()
	ingestMetrics := ingest.NewMetrics(metricsReg)
	metricsReg.ServeAsync(cfg.MetricsPort)
	logger.Info("metrics listening", "port", cfg.MetricsPort)

	deps := ingest.Deps{
		Episodes:          combined,
		RelatedMemory:     combined,
		Embedder:          embedder,
		Generator:         generator,
		EntityResolver:    entityResolver,
		StatementResolver: statementResolver,
		Metrics:           ingestMetrics,
		Logger:            logger,
		NewUUID:           domain.NewID,
	}

	handler := ingestHandler(deps, clusterEngine, spaceSvc, logger)

	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	// This process never calls Enqueue: a user's consumer starts here when
	// another Registry's activity hint for that user arrives, and runs as
	// a background goroutine owned by the registry; nothing further to
	// start here.
	if _, err := queue.NewRegistry(nc, combined, handler, logger); err != nil {
		return err
	}
	logger.Info("queue registry ready")

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

// ingestHandler adapts C6's Run into queue.Handler, then fires the C9/C10
// out-of-band passes the spec says "run out of band ... permitted to
// lag" — best-effort and logged, never allowed to fail the job whose
// persistence already committed.
func ingestHandler(deps ingest.Deps, clusterEngine *cluster.Engine, spaceSvc *space.Service, logger *slog.Logger) queue.Handler {
	return func(ctx context.Context, job domain.IngestJob) (*domain.IngestOutput, error) {
		out, err := ingest.Run(ctx, deps, job.Body)
		if err != nil {
			return nil, err
		}

		go runOutOfBand(job, clusterEngine, spaceSvc, logger)
		return out, nil
	}
}

func runOutOfBand(job domain.IngestJob, clusterEngine *cluster.Engine, spaceSvc *space.Service, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := clusterEngine.PerformClustering(ctx, job.UserID, false, domain.NewID); err != nil {
		logger.Warn("out-of-band clustering failed", "user_id", job.UserID, "err", err)
	}
	if _, err := spaceSvc.AssignUnassignedStatements(ctx, job.UserID, job.Body.WorkspaceID); err != nil {
		logger.Warn("out-of-band space assignment failed", "user_id", job.UserID, "err", err)
	}
	if job.SpaceID != "" {
		if fired, err := spaceSvc.CheckGrowthTrigger(ctx, job.SpaceID, job.UserID); err != nil {
			logger.Warn("space growth trigger check failed", "space_id", job.SpaceID, "err", err)
		} else if fired {
			logger.Info("space growth trigger fired", "space_id", job.SpaceID)
		}
	}
}
