// Package api provides the HTTP server for VoiceFAQ.
//
// It exposes the voice platform webhooks (survey and FAQ modes), session
// authorization, widget analytics tracking, dashboard stats, text chat and a
// health check. Run wires the store, LLM, flow and scheduler modules together.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/VoiceFAQ/internal/faq"
	"github.com/BTreeMap/VoiceFAQ/internal/feedback"
	"github.com/BTreeMap/VoiceFAQ/internal/flow"
	"github.com/BTreeMap/VoiceFAQ/internal/genai"
	"github.com/BTreeMap/VoiceFAQ/internal/scheduler"
	"github.com/BTreeMap/VoiceFAQ/internal/store"
	"github.com/BTreeMap/VoiceFAQ/internal/voice"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// DefaultSweepSchedule runs the idle-state sweep every ten minutes.
const DefaultSweepSchedule = "*/10 * * * *"

// DefaultIdleTimeout is how long a conversation may sit untouched before the sweep drops it.
const DefaultIdleTimeout = 2 * time.Hour

const shutdownTimeout = 15 * time.Second

// Opts holds configuration for Run.
type Opts struct {
	Addr            string
	CorpusPath      string
	StateStore      flow.StoreType
	RedisURL        string
	MaxTracked      int
	MemoryStore     bool
	LayercodeAPIKey string
	PipelineID      string
	WebhookSecret   string
	QdrantURL       string
	QdrantAPIKey    string
	SweepSchedule   string
	IdleTimeout     time.Duration
}

// Option defines a functional option for configuring Run.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithCorpusPath loads the FAQ corpus from a file instead of the embedded copy.
func WithCorpusPath(path string) Option {
	return func(o *Opts) { o.CorpusPath = path }
}

// WithStateStore selects the conversation state driver.
func WithStateStore(t flow.StoreType) Option {
	return func(o *Opts) { o.StateStore = t }
}

// WithRedisURL sets the Redis URL for the redis state driver.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.RedisURL = url }
}

// WithMaxTracked caps concurrently tracked conversations.
func WithMaxTracked(n int) Option {
	return func(o *Opts) { o.MaxTracked = n }
}

// WithMemoryStore keeps persistence in process.
func WithMemoryStore() Option {
	return func(o *Opts) { o.MemoryStore = true }
}

// WithLayercode configures the voice platform credentials.
func WithLayercode(apiKey, pipelineID string) Option {
	return func(o *Opts) {
		o.LayercodeAPIKey = apiKey
		o.PipelineID = pipelineID
	}
}

// WithWebhookSecret enables webhook signature verification.
func WithWebhookSecret(secret string) Option {
	return func(o *Opts) { o.WebhookSecret = secret }
}

// WithQdrant enables semantic FAQ retrieval for the chat endpoint.
func WithQdrant(url, apiKey string) Option {
	return func(o *Opts) {
		o.QdrantURL = url
		o.QdrantAPIKey = apiKey
	}
}

// WithSweepSchedule sets the cron expression for the idle-state sweep.
func WithSweepSchedule(expr string) Option {
	return func(o *Opts) { o.SweepSchedule = expr }
}

// WithIdleTimeout sets how long an untouched conversation is kept.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.IdleTimeout = d }
}

// LLM is the completion surface the handlers need.
type LLM interface {
	faq.Completer
	faq.StreamCompleter
}

// Server holds the handler dependencies.
type Server struct {
	store         store.Store
	flows         *flow.Manager
	analyzer      *feedback.Analyzer
	lexical       *faq.LexicalMatcher
	aiMatcher     *faq.AIMatcher
	streamer      *faq.StreamMatcher
	responder     *faq.Responder
	semantic      *faq.SemanticMatcher
	authorizer    *voice.Authorizer
	writer        *store.BackgroundWriter
	histories     *historyBook
	validate      *validator.Validate
	webhookSecret string
	now           func() time.Time
}

// ServerOption configures optional Server collaborators.
type ServerOption func(*Server)

// WithAuthorizer enables the session authorization endpoint.
func WithAuthorizer(a *voice.Authorizer) ServerOption {
	return func(s *Server) { s.authorizer = a }
}

// WithSemanticMatcher adds embedding retrieval to the chat endpoint.
func WithSemanticMatcher(m *faq.SemanticMatcher) ServerOption {
	return func(s *Server) { s.semantic = m }
}

// WithSignatureSecret makes the webhooks require a valid signature.
func WithSignatureSecret(secret string) ServerOption {
	return func(s *Server) { s.webhookSecret = secret }
}

// WithBackgroundWriter sets the writer used for fire-and-forget persistence.
func WithBackgroundWriter(w *store.BackgroundWriter) ServerOption {
	return func(s *Server) { s.writer = w }
}

// WithServerClock sets the time source.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.now = now }
}

// NewServer creates a Server answering from corpus through llm.
func NewServer(st store.Store, flows *flow.Manager, llm LLM, corpus *faq.Corpus, opts ...ServerOption) *Server {
	s := &Server{
		store:     st,
		flows:     flows,
		analyzer:  feedback.NewAnalyzer(llm),
		lexical:   faq.NewLexicalMatcher(corpus),
		aiMatcher: faq.NewAIMatcher(llm, corpus),
		streamer:  faq.NewStreamMatcher(llm, corpus),
		responder: faq.NewResponder(llm),
		histories: newHistoryBook(flow.DefaultMaxTracked),
		validate:  validator.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.writer == nil {
		s.writer = store.NewBackgroundWriter(nil, store.DefaultWriteTimeout)
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/layercode/webhook", s.surveyWebhookHandler)
	mux.HandleFunc("/api/layercode/faq-webhook", s.faqWebhookHandler)
	mux.HandleFunc("/api/layercode/authorize", s.authorizeHandler)
	mux.HandleFunc("/api/track", s.trackHandler)
	mux.HandleFunc("/api/stats", s.statsHandler)
	mux.HandleFunc("/api/chat", s.chatHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	return chainMiddlewares(mux, withCORS, withLogging, withRequestID)
}

// Run builds every module from the given options, serves until SIGINT or
// SIGTERM, then drains in-flight requests and background writes.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	cfg := Opts{
		Addr:          DefaultAddr,
		StateStore:    flow.StoreTypeMemory,
		SweepSchedule: DefaultSweepSchedule,
		IdleTimeout:   DefaultIdleTimeout,
	}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	llm, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create GenAI client: %w", err)
	}
	slog.Info("Run: LLM provider ready", "provider", llm.Name())

	corpus, err := faq.Load(cfg.CorpusPath)
	if err != nil {
		return fmt.Errorf("failed to load FAQ corpus: %w", err)
	}
	report := corpus.Validate()
	slog.Info("Run: FAQ corpus loaded", "questions", report.TotalQuestions, "categories", report.Categories)

	st, err := openStore(cfg, storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	states, err := openStateStore(cfg)
	if err != nil {
		return err
	}
	defer states.Close()

	source := flow.NewSource(st)
	flows := flow.NewManager(source, states, flow.WithMaxTracked(cfg.MaxTracked))

	serverOpts := []ServerOption{WithSignatureSecret(cfg.WebhookSecret)}
	if cfg.LayercodeAPIKey != "" || cfg.PipelineID != "" {
		authorizer, err := voice.NewAuthorizer(cfg.LayercodeAPIKey, cfg.PipelineID)
		if err != nil {
			return fmt.Errorf("failed to configure session authorization: %w", err)
		}
		serverOpts = append(serverOpts, WithAuthorizer(authorizer))
	}
	if cfg.QdrantURL != "" {
		index, err := faq.NewQdrantIndex(faq.QdrantConfig{URL: cfg.QdrantURL, APIKey: cfg.QdrantAPIKey})
		if err != nil {
			return fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		defer index.Close()
		semantic := faq.NewSemanticMatcher(llm, index, corpus, 0)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := semantic.IndexCorpus(ctx); err != nil {
				slog.Error("Run: semantic indexing failed, chat will skip retrieval", "error", err)
			}
		}()
		serverOpts = append(serverOpts, WithSemanticMatcher(semantic))
	}
	if cfg.WebhookSecret == "" {
		slog.Warn("Run: LAYERCODE_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}

	server := NewServer(st, flows, llm, corpus, serverOpts...)

	sched := scheduler.NewScheduler()
	if err := sched.AddMaintenance(cfg.SweepSchedule, flows, source, cfg.IdleTimeout); err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}
	defer sched.Stop()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Run: VoiceFAQ API listening", "addr", cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Run: shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Run: graceful shutdown failed", "error", err)
	}
	server.writer.Wait()
	slog.Info("Run: API server stopped")
	return nil
}

// openStore picks the persistence backend: in-memory when requested,
// Supabase when its credentials are given, otherwise the SQL DSN.
func openStore(cfg Opts, storeOpts []store.Option) (store.Store, error) {
	if cfg.MemoryStore {
		slog.Info("openStore: using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	var o store.Opts
	for _, opt := range storeOpts {
		opt(&o)
	}
	switch {
	case o.SupabaseURL != "" || o.SupabaseKey != "":
		slog.Info("openStore: using Supabase store")
		s, err := store.NewSupabaseStore(storeOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Supabase store: %w", err)
		}
		return s, nil
	case o.DSN != "" && store.DetectDSNType(o.DSN) == "postgres":
		slog.Info("openStore: using PostgreSQL store")
		s, err := store.NewPostgresStore(storeOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL store: %w", err)
		}
		return s, nil
	case o.DSN != "":
		slog.Info("openStore: using SQLite store", "path", o.DSN)
		s, err := store.NewSQLiteStore(storeOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite store: %w", err)
		}
		return s, nil
	default:
		slog.Warn("openStore: no database configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
}

func openStateStore(cfg Opts) (flow.StateStore, error) {
	if cfg.StateStore != flow.StoreTypeRedis {
		return flow.NewStateStore(cfg.StateStore)
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach Redis: %w", err)
	}
	slog.Info("openStateStore: using Redis state store", "addr", redisOpts.Addr)
	return flow.NewStateStore(flow.StoreTypeRedis, flow.WithRedisClient(client))
}
