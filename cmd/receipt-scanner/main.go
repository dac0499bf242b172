package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/receipt-scanner/internal/batch"
	"github.com/zombor/receipt-scanner/internal/receipt"
	"github.com/zombor/receipt-scanner/internal/scanning"
	"github.com/zombor/receipt-scanner/internal/server"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type config struct {
	port           *int
	dbBackend      *string
	dbPath         *string
	sessionDBPath  *string
	sessionTTL     *time.Duration
	autoClear      *time.Duration
	storageBackend *string
	storagePath    *string
	gcsBucket      *string
	scannerType    *string
	geminiKey      *string
	geminiModel    *string
	gcpProject     *string
	vertexRegion   *string
	vertexModel    *string
	ollamaURL      *string
	ollamaModel    *string
	authUser       *string
	authPass       *string
	logLevel       *string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is normal in production
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading .env: %v\n", err)
	}

	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (*config, error) {
	fs := ff.NewFlagSet("receipt-scanner")
	cfg := &config{
		port:           fs.IntLong("port", 8080, "HTTP server port"),
		dbBackend:      fs.StringLong("db-backend", "bolt", "Receipt database: 'bolt' or 'firestore'"),
		dbPath:         fs.StringLong("db", "receipt-scanner.db", "BoltDB receipt database file path"),
		sessionDBPath:  fs.StringLong("session-db", "receipt-scanner-sessions.db", "BoltDB batch session file path"),
		sessionTTL:     fs.DurationLong("session-ttl", batch.DefaultSessionTTL, "How long an idle batch session survives a restart"),
		autoClear:      fs.DurationLong("auto-clear", batch.DefaultAutoClearDelay, "How long a finished batch stays visible"),
		storageBackend: fs.StringLong("storage-backend", "local", "Image storage: 'local' or 'gcs'"),
		storagePath:    fs.StringLong("storage", "./receipts", "Local storage directory path"),
		gcsBucket:      fs.StringLong("gcs-bucket", "", "Cloud Storage bucket for images"),
		scannerType:    fs.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'vertex' or 'ollama'"),
		geminiKey:      fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:    fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name"),
		gcpProject:     fs.StringLong("gcp-project", "", "Google Cloud project for Firestore and Vertex AI"),
		vertexRegion:   fs.StringLong("vertex-region", "us-central1", "Vertex AI region"),
		vertexModel:    fs.StringLong("vertex-model", "gemini-2.5-flash", "Vertex AI model name"),
		ollamaURL:      fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:    fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)"),
		authUser:       fs.StringLong("auth-user", "", "Basic auth username (optional)"),
		authPass:       fs.StringLong("auth-pass", "", "Basic auth password (optional)"),
		logLevel:       fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
	}
	_ = fs.StringLong("config", "", "Config file (optional)")
	_ = fs.BoolLong("version", "Show version information")

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("RECEIPT_SCANNER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithConfigAllowMissingFile(),
	); err != nil {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(stderr, "error: %v\n", err)
		return nil, err
	}

	return cfg, nil
}

func run(cfg *config) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(*cfg.logLevel)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "backend", *cfg.dbBackend)
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("Initializing session store...", "path", *cfg.sessionDBPath)
	sessionStore, err := batch.NewBoltSessionStore(*cfg.sessionDBPath)
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	scanner, err := openScanner(ctx, cfg)
	if err != nil {
		return err
	}
	defer scanner.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "backend", *cfg.storageBackend)
	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	manager := batch.NewManager(batch.Deps{
		Extractor:      scanner,
		Uploader:       store,
		Persister:      db,
		Sessions:       batch.NewSessions(sessionStore, *cfg.sessionTTL, nil),
		AutoClearDelay: *cfg.autoClear,
	})
	receipts := receipt.NewService(db, store)

	basicAuth := server.BasicAuth{
		Username: *cfg.authUser,
		Password: *cfg.authPass,
	}
	srv := server.NewServer(manager, receipts, basicAuth)

	addr := fmt.Sprintf(":%d", *cfg.port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if basicAuth.Username != "" || basicAuth.Password != "" {
		slog.Info("Basic auth enabled", "user", basicAuth.Username)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx, addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")
		manager.CloseAll()
		return nil
	})

	return g.Wait()
}

func openDB(ctx context.Context, cfg *config) (receipt.DB, error) {
	switch *cfg.dbBackend {
	case "bolt":
		return receipt.NewBoltDB(*cfg.dbPath)
	case "firestore":
		if *cfg.gcpProject == "" {
			return nil, fmt.Errorf("--gcp-project is required for the firestore backend")
		}
		return receipt.NewFirestoreDB(ctx, *cfg.gcpProject)
	default:
		return nil, fmt.Errorf("invalid db backend %q (valid: bolt or firestore)", *cfg.dbBackend)
	}
}

func openScanner(ctx context.Context, cfg *config) (scanning.Scanner, error) {
	switch *cfg.scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		}
		slog.Info("Initializing Gemini scanner...", "model", *cfg.geminiModel)
		return scanning.NewGemini(apiKey, *cfg.geminiModel)
	case "vertex":
		if *cfg.gcpProject == "" {
			return nil, fmt.Errorf("--gcp-project is required for the vertex scanner")
		}
		slog.Info("Initializing Vertex AI scanner...", "region", *cfg.vertexRegion, "model", *cfg.vertexModel)
		return scanning.NewVertex(ctx, *cfg.gcpProject, *cfg.vertexRegion, *cfg.vertexModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *cfg.ollamaURL, "model", *cfg.ollamaModel)
		return scanning.NewOllama(*cfg.ollamaURL, *cfg.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid scanner type %q (valid: gemini, vertex or ollama)", *cfg.scannerType)
	}
}

func openStorage(ctx context.Context, cfg *config) (receipt.Storage, func(), error) {
	switch *cfg.storageBackend {
	case "local":
		store, err := receipt.NewLocalStorage(*cfg.storagePath, "/files/")
		return store, func() {}, err
	case "gcs":
		if *cfg.gcsBucket == "" {
			return nil, nil, fmt.Errorf("--gcs-bucket is required for the gcs backend")
		}
		store, err := receipt.NewGCSStorage(ctx, *cfg.gcsBucket)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("invalid storage backend %q (valid: local or gcs)", *cfg.storageBackend)
	}
}
