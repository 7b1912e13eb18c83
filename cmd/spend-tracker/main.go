package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/spend-tracker/internal/insights"
	"github.com/zombor/spend-tracker/internal/receipt"
	"github.com/zombor/spend-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine
	_ = godotenv.Load()

	fs := ff.NewFlagSet("spend-tracker")
	var (
		port              = fs.IntLong("port", 8080, "HTTP server port")
		dbPath            = fs.StringLong("db", "spend-tracker.db", "Database file path")
		storagePath       = fs.StringLong("storage", "./receipts", "Receipt archive directory")
		ocrType           = fs.StringLong("ocr", "tesseract", "OCR engine: 'tesseract' or 'gemini'")
		aiType            = fs.StringLong("ai", "gemini", "Extraction model: 'gemini', 'ollama' or 'none'")
		geminiKey         = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel       = fs.StringLong("gemini-model", "gemini-2.5-flash", "Gemini model used for extraction and insights")
		geminiVisionModel = fs.StringLong("gemini-vision-model", "gemini-2.5-flash", "Gemini model used for OCR")
		geminiURL         = fs.StringLong("gemini-url", "", "Gemini API base URL (optional)")
		ollamaURL         = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel       = fs.StringLong("ollama-model", "llama3.2", "Ollama model name")
		aiTimeout         = fs.DurationLong("ai-timeout", 15*time.Second, "Time limit for one model request")
		authUser          = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass          = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel          = fs.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		showVersion       = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SPEND_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize OCR engine
	var engine scanning.OCREngine
	switch *ocrType {
	case "tesseract":
		slog.Info("Initializing Tesseract OCR...")
		engine = scanning.NewTesseract()
	case "gemini":
		slog.Info("Initializing Gemini OCR...", "model", *geminiVisionModel)
		engine, err = scanning.NewGeminiVision(apiKey, *geminiVisionModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini OCR", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid OCR engine", "ocr", *ocrType, "valid", "tesseract or gemini")
		os.Exit(1)
	}
	ocr := scanning.NewTextExtractor(engine)
	defer ocr.Close()

	// Initialize models. Without one, extraction uses the heuristic parser
	// and insights are rule-based only.
	var extraction, advice scanning.Generator
	switch *aiType {
	case "gemini":
		if apiKey == "" {
			slog.Warn("No Gemini API key set, using heuristic extraction only")
			break
		}
		slog.Info("Initializing Gemini...", "model", *geminiModel)
		gemini, err := scanning.NewGemini(apiKey, scanning.GeminiConfig{BaseURL: *geminiURL, Model: *geminiModel})
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
		extraction = gemini
		advice = gemini.WithTemperature(0.7)
	case "ollama":
		slog.Info("Initializing Ollama...", "url", *ollamaURL, "model", *ollamaModel)
		ollama, err := scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
		extraction = ollama
		advice = ollama.WithTemperature(0.7)
	case "none":
		slog.Info("Model extraction disabled, using heuristic extraction only")
	default:
		slog.Error("Invalid model type", "ai", *aiType, "valid", "gemini, ollama or none")
		os.Exit(1)
	}

	extractor := scanning.NewAIExtractorWithDeps(extraction, *aiTimeout, time.Now)
	analyzer := insights.NewAnalyzerWithTimeout(advice, *aiTimeout)

	// Initialize service
	receiptService := receipt.NewService(db, store, ocr, extractor, analyzer)

	// Initialize server
	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, basicAuth)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	if err := server.Run(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutting down...")
}
