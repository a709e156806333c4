package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/VoiceFAQ/internal/api"
	"github.com/BTreeMap/VoiceFAQ/internal/flow"
	"github.com/BTreeMap/VoiceFAQ/internal/genai"
	"github.com/BTreeMap/VoiceFAQ/internal/lockfile"
	"github.com/BTreeMap/VoiceFAQ/internal/store"
	"github.com/BTreeMap/VoiceFAQ/internal/util"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for VoiceFAQ state data
	DefaultStateDir = "/var/lib/voicefaq"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "voicefaq.db"
	// storeMemory selects the in-memory store
	storeMemory = "memory"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags, err := parseCommandLineFlags(pflag.CommandLine, os.Args[1:], config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	initializeLogger(*flags.logLevel, *flags.logFormat, config.LogNoColor)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Keep other instances off a file-backed state directory
	lock, err := acquireStateLock(flags)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping VoiceFAQ with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	err = api.Run(storeOpts, genaiOpts, apiOpts)
	if releaseErr := lock.Release(); releaseErr != nil {
		slog.Warn("Failed to release state directory lock", "error", releaseErr)
	}
	if err != nil {
		slog.Error("VoiceFAQ failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("VoiceFAQ exited successfully")
}

// Config holds environment configuration
type Config struct {
	Provider        string
	OpenAIKey       string
	GeminiKey       string
	OpenAIModel     string
	GeminiModel     string
	SupabaseURL     string
	SupabaseKey     string
	DatabaseURL     string
	StateDir        string
	Store           string
	RedisURL        string
	StateStore      string
	MaxTracked      int
	LayercodeAPIKey string
	PipelineID      string
	WebhookSecret   string
	QdrantURL       string
	QdrantAPIKey    string
	CorpusPath      string
	APIAddr         string
	LogLevel        string
	LogFormat       string
	LogNoColor      bool
	SweepSchedule   string
	IdleTimeout     time.Duration
}

// Flags holds command line flag values
type Flags struct {
	provider        *string
	openaiKey       *string
	geminiKey       *string
	model           *string
	supabaseURL     *string
	supabaseKey     *string
	stateDir        *string
	dbDSN           *string
	store           *string
	redisURL        *string
	stateStore      *string
	maxTracked      *int
	layercodeAPIKey *string
	pipelineID      *string
	webhookSecret   *string
	qdrantURL       *string
	qdrantAPIKey    *string
	corpusPath      *string
	apiAddr         *string
	logLevel        *string
	logFormat       *string
	sweepSchedule   *string
	idleTimeout     *time.Duration
}

// initializeLogger sets up structured logging: tint for humans, JSON for log shippers
func initializeLogger(level, format string, noColor bool) {
	lvl, ok := logLevels[strings.ToLower(level)]
	if !ok {
		lvl = slog.LevelDebug
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: lvl, TimeFormat: time.DateTime, NoColor: noColor})
	}
	slog.SetDefault(slog.New(handler))
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Provider:        os.Getenv("AI_PROVIDER"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		GeminiKey:       os.Getenv("GEMINI_API_KEY"),
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
		GeminiModel:     os.Getenv("GEMINI_MODEL"),
		SupabaseURL:     os.Getenv("NEXT_PUBLIC_SUPABASE_URL"),
		SupabaseKey:     os.Getenv("SUPABASE_SERVICE_KEY"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("VOICEFAQ_STATE_DIR"),
		Store:           os.Getenv("VOICEFAQ_STORE"),
		RedisURL:        os.Getenv("REDIS_URL"),
		StateStore:      os.Getenv("STATE_STORE"),
		MaxTracked:      util.ParseIntEnv("MAX_TRACKED_CONVERSATIONS", flow.DefaultMaxTracked),
		LayercodeAPIKey: os.Getenv("LAYERCODE_API_KEY"),
		PipelineID:      os.Getenv("LAYERCODE_PIPELINE_ID"),
		WebhookSecret:   os.Getenv("LAYERCODE_WEBHOOK_SECRET"),
		QdrantURL:       os.Getenv("QDRANT_URL"),
		QdrantAPIKey:    os.Getenv("QDRANT_API_KEY"),
		CorpusPath:      os.Getenv("FAQ_CORPUS_PATH"),
		APIAddr:         os.Getenv("API_ADDR"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		LogFormat:       os.Getenv("LOG_FORMAT"),
		LogNoColor:      util.ParseBoolEnv("LOG_NO_COLOR", false),
		SweepSchedule:   os.Getenv("IDLE_SWEEP_SCHEDULE"),
		IdleTimeout:     util.ParseDurationEnv("IDLE_TIMEOUT", api.DefaultIdleTimeout),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No VOICEFAQ_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.Provider == "" {
		config.Provider = genai.ProviderOpenAI
		if config.OpenAIKey == "" && config.GeminiKey != "" {
			config.Provider = genai.ProviderGemini
		}
	}
	if config.StateStore == "" {
		config.StateStore = string(flow.StoreTypeMemory)
		if config.RedisURL != "" {
			config.StateStore = string(flow.StoreTypeRedis)
		}
	}
	if config.LogLevel == "" {
		config.LogLevel = "debug"
	}
	if config.LogFormat == "" {
		config.LogFormat = "text"
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"AI_PROVIDER", config.Provider,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GEMINI_API_KEY_SET", config.GeminiKey != "",
		"SUPABASE_SET", config.SupabaseURL != "" && config.SupabaseKey != "",
		"VOICEFAQ_STATE_DIR", config.StateDir,
		"STATE_STORE", config.StateStore,
		"LAYERCODE_API_KEY_SET", config.LayercodeAPIKey != "",
		"QDRANT_URL", config.QdrantURL,
		"API_ADDR", config.APIAddr)

	return config
}

// modelFor picks the model variable matching the provider.
func (c Config) modelFor(provider string) string {
	if provider == genai.ProviderGemini {
		return c.GeminiModel
	}
	return c.OpenAIModel
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *pflag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		provider:        fs.String("provider", config.Provider, "LLM provider: openai or gemini (overrides $AI_PROVIDER)"),
		openaiKey:       fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		geminiKey:       fs.String("gemini-api-key", config.GeminiKey, "Gemini API key (overrides $GEMINI_API_KEY)"),
		model:           fs.String("model", "", "model name for the selected provider (overrides $OPENAI_MODEL / $GEMINI_MODEL)"),
		supabaseURL:     fs.String("supabase-url", config.SupabaseURL, "Supabase project URL (overrides $NEXT_PUBLIC_SUPABASE_URL)"),
		supabaseKey:     fs.String("supabase-key", config.SupabaseKey, "Supabase service key (overrides $SUPABASE_SERVICE_KEY)"),
		stateDir:        fs.String("state-dir", config.StateDir, "state directory for VoiceFAQ data (overrides $VOICEFAQ_STATE_DIR)"),
		dbDSN:           fs.String("db-dsn", config.DatabaseURL, "Postgres DSN or SQLite path (overrides $DATABASE_URL)"),
		store:           fs.String("store", config.Store, "set to \"memory\" to keep data in process only (overrides $VOICEFAQ_STORE)"),
		redisURL:        fs.String("redis-url", config.RedisURL, "Redis URL for shared conversation state (overrides $REDIS_URL)"),
		stateStore:      fs.String("state-store", config.StateStore, "conversation state store: memory or redis (overrides $STATE_STORE)"),
		maxTracked:      fs.Int("max-tracked", config.MaxTracked, "maximum conversations held in memory (overrides $MAX_TRACKED_CONVERSATIONS)"),
		layercodeAPIKey: fs.String("layercode-api-key", config.LayercodeAPIKey, "voice platform API key (overrides $LAYERCODE_API_KEY)"),
		pipelineID:      fs.String("pipeline-id", config.PipelineID, "voice platform pipeline id (overrides $LAYERCODE_PIPELINE_ID)"),
		webhookSecret:   fs.String("webhook-secret", config.WebhookSecret, "webhook signing secret (overrides $LAYERCODE_WEBHOOK_SECRET)"),
		qdrantURL:       fs.String("qdrant-url", config.QdrantURL, "Qdrant gRPC address for semantic FAQ search (overrides $QDRANT_URL)"),
		qdrantAPIKey:    fs.String("qdrant-api-key", config.QdrantAPIKey, "Qdrant API key (overrides $QDRANT_API_KEY)"),
		corpusPath:      fs.String("faq-corpus", config.CorpusPath, "FAQ corpus JSON file, embedded corpus when empty (overrides $FAQ_CORPUS_PATH)"),
		apiAddr:         fs.StringP("api-addr", "a", config.APIAddr, "API server address (overrides $API_ADDR)"),
		logLevel:        fs.StringP("log-level", "l", config.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)"),
		logFormat:       fs.String("log-format", config.LogFormat, "log format: text or json (overrides $LOG_FORMAT)"),
		sweepSchedule:   fs.String("sweep-schedule", config.SweepSchedule, "cron schedule for dropping idle conversations (overrides $IDLE_SWEEP_SCHEDULE)"),
		idleTimeout:     fs.Duration("idle-timeout", config.IdleTimeout, "idle time after which a conversation is dropped (overrides $IDLE_TIMEOUT)"),
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if *flags.model == "" {
		*flags.model = config.modelFor(*flags.provider)
	}

	// Update database DSN if not explicitly set but state directory is provided
	defaultDSN := filepath.Join(config.StateDir, DefaultDBFileName)
	if !fs.Changed("db-dsn") && *flags.dbDSN == defaultDSN && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"provider", *flags.provider,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"store", *flags.store,
		"stateStore", *flags.stateStore,
		"apiAddr", *flags.apiAddr)

	return flags, nil
}

// usesSQLite reports whether the flags select the file-backed store.
func usesSQLite(flags Flags) bool {
	if *flags.store == storeMemory || (*flags.supabaseURL != "" && *flags.supabaseKey != "") {
		return false
	}
	return *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) == "sqlite3"
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !usesSQLite(flags) {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// acquireStateLock locks the SQLite directory. It returns a nil lock for other stores.
func acquireStateLock(flags Flags) (*lockfile.Lock, error) {
	if !usesSQLite(flags) {
		return nil, nil
	}
	return lockfile.AcquireLock(filepath.Dir(*flags.dbDSN))
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	switch {
	case *flags.store == storeMemory:
		slog.Debug("In-memory store requested")
	case *flags.supabaseURL != "" && *flags.supabaseKey != "":
		slog.Debug("Supabase credentials present, configuring Supabase store")
		storeOpts = append(storeOpts, store.WithSupabase(*flags.supabaseURL, *flags.supabaseKey))
	case *flags.dbDSN != "":
		// Check if it's a PostgreSQL DSN using the shared detection function
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	default:
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	genaiOpts := []genai.Option{genai.WithProvider(*flags.provider)}
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.geminiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithGeminiAPIKey(*flags.geminiKey))
	}
	if *flags.model != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.model))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.corpusPath != "" {
		apiOpts = append(apiOpts, api.WithCorpusPath(*flags.corpusPath))
	}
	if *flags.store == storeMemory {
		apiOpts = append(apiOpts, api.WithMemoryStore())
	}
	apiOpts = append(apiOpts, api.WithStateStore(flow.StoreType(*flags.stateStore)))
	if *flags.redisURL != "" {
		apiOpts = append(apiOpts, api.WithRedisURL(*flags.redisURL))
	}
	if *flags.maxTracked > 0 {
		apiOpts = append(apiOpts, api.WithMaxTracked(*flags.maxTracked))
	}
	if *flags.layercodeAPIKey != "" || *flags.pipelineID != "" {
		apiOpts = append(apiOpts, api.WithLayercode(*flags.layercodeAPIKey, *flags.pipelineID))
	}
	if *flags.webhookSecret != "" {
		apiOpts = append(apiOpts, api.WithWebhookSecret(*flags.webhookSecret))
	}
	if *flags.qdrantURL != "" {
		apiOpts = append(apiOpts, api.WithQdrant(*flags.qdrantURL, *flags.qdrantAPIKey))
	}
	if *flags.sweepSchedule != "" {
		apiOpts = append(apiOpts, api.WithSweepSchedule(*flags.sweepSchedule))
	}
	if *flags.idleTimeout > 0 {
		apiOpts = append(apiOpts, api.WithIdleTimeout(*flags.idleTimeout))
	}
	return apiOpts
}
