// Command api exposes C12: the HTTP surface over ingest, document upsert,
// queue-log reads, and space CRUD. It never processes an ingest request
// synchronously — every POST /ingest call enqueues onto C5 and returns,
// the pipeline itself running on a consumer goroutine owned by the
// Registry this process also hosts (spec §4.12, §5).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
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
	"github.com/jmagar/core-sub000/pkg/mid"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Config holds all environment-based configuration (spec §4.3).
type Config struct {
	Port            string
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
	CORSOrigin      string
}

func loadConfig() Config {
	return Config{
		Port:            envOr("PORT", "8080"),
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
		MetricsPort:     envOrInt("METRICS_PORT", 9091),
		CORSOrigin:      envOr("CORS_ORIGIN", "*"),
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
		logger.Error("api server exited with error", "err", err)
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

	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	// This process also hosts a Registry wired with the real handler, so
	// anything it enqueues has a live consumer to drain it even if no
	// separate cmd/worker process happens to be running; cmd/worker
	// instances are additional horizontal capacity for the same users.
	handler := outOfBandHandler(deps, clusterEngine, spaceSvc, logger)
	registry, err := queue.NewRegistry(nc, combined, handler, logger)
	if err != nil {
		return err
	}

	srv := &api{
		deps:     deps,
		combined: combined,
		registry: registry,
		spaceSvc: spaceSvc,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.HandleFunc("POST /ingest", srv.handleIngest)
	mux.HandleFunc("GET /ingest/logs", srv.handleListLogs)
	mux.HandleFunc("GET /ingest/logs/{id}", srv.handleGetLog)
	mux.HandleFunc("POST /documents", srv.handleUpsertDocument)
	mux.HandleFunc("POST /spaces", srv.handleCreateSpace)
	mux.HandleFunc("GET /spaces", srv.handleListSpaces)
	mux.HandleFunc("PATCH /spaces/{id}", srv.handleUpdateSpace)
	mux.HandleFunc("DELETE /spaces/{id}", srv.handleDeleteSpace)
	mux.HandleFunc("GET /spaces/{id}/statements", srv.handleGetSpaceStatements)
	mux.HandleFunc("POST /spaces/{id}/statements/{statementId}", srv.handleAssignStatement)
	mux.HandleFunc("DELETE /spaces/{id}/statements/{statementId}", srv.handleRemoveStatement)

	handlerChain := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handlerChain,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// outOfBandHandler mirrors cmd/worker's handler: run the pipeline, then
// fire C9/C10 best-effort in the background (spec §5: "permitted to
// lag"). Kept in this process too so a queue entry enqueued here is never
// orphaned waiting on a separate worker binary to come up.
func outOfBandHandler(deps ingest.Deps, clusterEngine *cluster.Engine, spaceSvc *space.Service, logger *slog.Logger) queue.Handler {
	return func(ctx context.Context, job domain.IngestJob) (*domain.IngestOutput, error) {
		out, err := ingest.Run(ctx, deps, job.Body)
		if err != nil {
			return nil, err
		}
		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if _, err := clusterEngine.PerformClustering(bgCtx, job.UserID, false, domain.NewID); err != nil {
				logger.Warn("out-of-band clustering failed", "user_id", job.UserID, "err", err)
			}
			if _, err := spaceSvc.AssignUnassignedStatements(bgCtx, job.UserID, job.Body.WorkspaceID); err != nil {
				logger.Warn("out-of-band space assignment failed", "user_id", job.UserID, "err", err)
			}
			if job.SpaceID != "" {
				if fired, err := spaceSvc.CheckGrowthTrigger(bgCtx, job.SpaceID, job.UserID); err != nil {
					logger.Warn("space growth trigger check failed", "space_id", job.SpaceID, "err", err)
				} else if fired {
					logger.Info("space growth trigger fired", "space_id", job.SpaceID)
				}
			}
		}()
		return out, nil
	}
}

// api holds every dependency the HTTP handlers need.
type api struct {
	deps     ingest.Deps
	combined *graphstore.CombinedStore
	registry *queue.Registry
	spaceSvc *space.Service
	logger   *slog.Logger
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// identity is the minimal auth context this surface extracts from every
// request. There is no session/token issuer in this system (spec's Non-
// goals exclude an identity provider); callers authenticate upstream and
// pass the resolved identity through these headers, which this handler
// treats as already-verified (spec §6: "Auth failures: 401" covers the
// case where they are absent).
type identity struct {
	userID      string
	workspaceID string
}

func identityFromRequest(r *http.Request) (identity, error) {
	userID := r.Header.Get("X-User-Id")
	workspaceID := r.Header.Get("X-Workspace-Id")
	if userID == "" {
		return identity{}, domain.NewAuthError("missing X-User-Id header", http.StatusUnauthorized)
	}
	return identity{userID: userID, workspaceID: workspaceID}, nil
}

// ingestRequestBody is the wire shape of POST /ingest (spec §6).
type ingestRequestBody struct {
	EpisodeBody   string         `json:"episodeBody"`
	ReferenceTime time.Time      `json:"referenceTime"`
	Metadata      map[string]any `json:"metadata"`
	Source        string         `json:"source"`
	SpaceID       string         `json:"spaceId,omitempty"`
	SessionID     string         `json:"sessionId,omitempty"`
	Name          string         `json:"name,omitempty"`
	Type          string         `json:"type,omitempty"`
}

func (a *api) handleIngest(w http.ResponseWriter, r *http.Request) {
	id, err := identityFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body ingestRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewValidationError("body", "", err))
		return
	}

	req := domain.IngestRequest{
		EpisodeBody:   body.EpisodeBody,
		ReferenceTime: body.ReferenceTime,
		Metadata:      body.Metadata,
		Source:        body.Source,
		SpaceID:       body.SpaceID,
		SessionID:     body.SessionID,
		Name:          body.Name,
		Type:          domain.IngestType(body.Type),
		UserID:        id.userID,
		WorkspaceID:   id.workspaceID,
	}
	if req.ReferenceTime.IsZero() {
		req.ReferenceTime = time.Now().UTC()
	}
	if err := domain.ValidateIngestRequest(req); err != nil {
		writeError(w, err)
		return
	}

	queueID := domain.NewID()
	entry := domain.IngestionQueueEntry{
		ID:          queueID,
		WorkspaceID: req.WorkspaceID,
		SpaceID:     req.SpaceID,
		Data:        req,
		Status:      domain.StatusPending,
	}
	job := domain.IngestJob{
		QueueID: queueID,
		UserID:  req.UserID,
		SpaceID: req.SpaceID,
		Body:    req,
	}
	if err := a.registry.Enqueue(r.Context(), entry, job); err != nil {
		a.logger.Error("enqueue failed", "err", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": queueID})
}

func (a *api) handleListLogs(w http.ResponseWriter, r *http.Request) {
	id, err := identityFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if err := domain.ValidatePagination(page, limit); err != nil {
		writeError(w, err)
		return
	}

	entries, err := a.combined.ListQueueEntries(r.Context(), id.workspaceID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *api) handleGetLog(w http.ResponseWriter, r *http.Request) {
	entry, ok, err := a.combined.GetQueueEntry(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// documentUpsertBody is the wire shape of POST /documents (spec §4.3/§4.4,
// SPEC_FULL.md's addition to the C12 surface).
type documentUpsertBody struct {
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	Source        string    `json:"source"`
	SessionID     string    `json:"sessionId"`
	SpaceID       string    `json:"spaceId,omitempty"`
	ReferenceTime time.Time `json:"referenceTime"`
}

// documentUpsertResponse is the wire shape of the POST /documents response.
type documentUpsertResponse struct {
	Document              domain.Document `json:"document"`
	Strategy              string          `json:"strategy"`
	ChunksIngested        int             `json:"chunksIngested"`
	StatementsInvalidated int             `json:"statementsInvalidated"`
}

// handleUpsertDocument runs C3+C4 synchronously: unlike POST /ingest it
// has no queued equivalent in this system, so the chunking and diff
// decision (and any resulting chunk-level re-ingestion) happen inline on
// the request goroutine.
func (a *api) handleUpsertDocument(w http.ResponseWriter, r *http.Request) {
	id, err := identityFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if id.workspaceID == "" {
		writeError(w, domain.NewValidationError("workspaceId", "", domain.ErrWorkspaceRequired))
		return
	}

	var body documentUpsertBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewValidationError("body", "", err))
		return
	}
	if body.SessionID == "" {
		writeError(w, domain.NewValidationError("sessionId", "", errors.New("sessionId is required")))
		return
	}

	req := ingest.DocumentRequest{
		Title:         body.Title,
		Content:       body.Content,
		Source:        body.Source,
		UserID:        id.userID,
		WorkspaceID:   id.workspaceID,
		SessionID:     body.SessionID,
		SpaceID:       body.SpaceID,
		ReferenceTime: body.ReferenceTime,
	}
	res, err := ingest.UpsertDocument(r.Context(), a.deps, a.combined, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentUpsertResponse{
		Document:              res.Document,
		Strategy:              string(res.Strategy),
		ChunksIngested:        res.ChunksIngested,
		StatementsInvalidated: res.StatementsInvalidated,
	})
}

func (a *api) handleCreateSpace(w http.ResponseWriter, r *http.Request) {
	id, err := identityFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var sp domain.Space
	if err := json.NewDecoder(r.Body).Decode(&sp); err != nil {
		writeError(w, domain.NewValidationError("body", "", err))
		return
	}
	sp.UserID = id.userID
	sp.WorkspaceID = id.workspaceID

	created, err := a.spaceSvc.CreateSpace(r.Context(), sp, domain.NewID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *api) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	id, err := identityFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	spaces, err := a.combined.GetSpacesForWorkspace(r.Context(), id.workspaceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spaces)
}

func (a *api) handleUpdateSpace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewValidationError("body", "", err))
		return
	}
	updated, err := a.spaceSvc.UpdateSpace(r.Context(), r.PathValue("id"), body.Name, body.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *api) handleDeleteSpace(w http.ResponseWriter, r *http.Request) {
	if err := a.spaceSvc.DeleteSpace(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleGetSpaceStatements(w http.ResponseWriter, r *http.Request) {
	id, err := identityFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	statements, err := a.spaceSvc.GetStatements(r.Context(), r.PathValue("id"), id.userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statements)
}

func (a *api) handleAssignStatement(w http.ResponseWriter, r *http.Request) {
	if err := a.spaceSvc.AssignStatement(r.Context(), r.PathValue("statementId"), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleRemoveStatement(w http.ResponseWriter, r *http.Request) {
	if err := a.spaceSvc.RemoveStatement(r.Context(), r.PathValue("statementId"), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, domain.StatusCode(err), map[string]string{"error": err.Error()})
}
