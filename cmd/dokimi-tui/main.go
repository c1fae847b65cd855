package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dokimi/internal/api"
)

const (
	defaultBaseURL      = "http://127.0.0.1:8080"
	defaultPollSeconds  = 6
	composerCharLimit   = 4000
	timelinePreviewRows = 6
)

type appConfig struct {
	baseURL        string
	conversationID string
	pollInterval   time.Duration
	logFile        string
	altScreen      bool
	sessionID      string
}

func loadConfig() appConfig {
	cfg := appConfig{}
	baseURL := flag.String("base-url", envOr("DOKIMI_BASE_URL", defaultBaseURL), "generation service base URL")
	conversationID := flag.String("conversation", envOr("DOKIMI_CONVERSATION", ""), "conversation id to open")
	pollSeconds := flag.Int("poll-interval", defaultPollSeconds, "timeline refresh interval in seconds")
	logFile := flag.String("log-file", envOr("DOKIMI_LOG_FILE", ""), "debug log file (stdout belongs to the TUI)")
	altScreen := flag.Bool("alt-screen", true, "use the terminal alternate screen")
	flag.Parse()

	cfg.baseURL = *baseURL
	cfg.conversationID = *conversationID
	cfg.pollInterval = time.Duration(maxInt(1, *pollSeconds)) * time.Second
	cfg.logFile = *logFile
	cfg.altScreen = *altScreen
	cfg.sessionID = uuid.NewString()
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(cfg appConfig) zerolog.Logger {
	if cfg.logFile == "" {
		return zerolog.Nop()
	}
	f, err := os.OpenFile(cfg.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open log file %s: %v\n", cfg.logFile, err)
		return zerolog.Nop()
	}
	return zerolog.New(f).With().
		Timestamp().
		Str("session", cfg.sessionID).
		Logger()
}

func main() {
	cfg := loadConfig()
	if cfg.conversationID == "" {
		fmt.Fprintln(os.Stderr, "usage: dokimi-tui -conversation <id> [-base-url <url>]")
		os.Exit(2)
	}

	log := newLogger(cfg)
	client := api.NewClient(cfg.baseURL, api.WithLogger(log))

	opts := []tea.ProgramOption{}
	if cfg.altScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	program := tea.NewProgram(newModel(cfg, client, log), opts...)
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "dokimi-tui: %v\n", err)
		os.Exit(1)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
