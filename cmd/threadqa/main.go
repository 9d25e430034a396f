package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/threadqa-mcp/internal/config"
	"github.com/dshills/threadqa-mcp/internal/logging"
	"github.com/dshills/threadqa-mcp/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const usage = `Usage: threadqa <command> [flags]

Commands:
  serve                          Serve the MCP tools over stdio
  http                           Serve the JSON API on HTTP_ADDR
  ask <question> [--from D] [--to D] [--author A]
                                 Answer one question and print the result
  ingest <path> [--summarize] [--batch-size N] [--force]
                                 Parse a .jsonl/.mbox file or directory into the archive
  crawl [--from YYYY/MM | --only YYYY/MM | --incremental] [--summarize]
                                 Download new months from ARCHIVE_URL into the archive
  status                         Print archive statistics
  check                          Embed a sample text and report the configured providers
  --version                      Print build information
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "--version", "version":
		fmt.Printf("ThreadQA MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		fmt.Printf("Vector Extension: %v\n", storage.VectorExtensionAvailable)
		return
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "threadqa: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "threadqa: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr; stdout is reserved for MCP and command output
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, version, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, cfg)
	case "http":
		err = runHTTP(ctx, cfg)
	case "ask":
		err = runAsk(ctx, cfg, args)
	case "ingest":
		err = runIngest(ctx, cfg, args)
	case "crawl":
		err = runCrawl(ctx, cfg, args)
	case "status":
		err = runStatus(ctx, cfg)
	case "check":
		err = runCheck(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "threadqa: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("interrupted")
			os.Exit(130)
		}
		logger.Error().Err(err).Str("command", os.Args[1]).Msg("command_failed")
		os.Exit(1)
	}
}
