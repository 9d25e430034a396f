package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/threadqa-mcp/internal/config"
	"github.com/dshills/threadqa-mcp/internal/crawler"
	"github.com/dshills/threadqa-mcp/internal/embedder"
	"github.com/dshills/threadqa-mcp/internal/httpapi"
	"github.com/dshills/threadqa-mcp/internal/indexer"
	"github.com/dshills/threadqa-mcp/internal/mcp"
	"github.com/dshills/threadqa-mcp/internal/ratelimit"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.pipeline()
	if err != nil {
		return err
	}

	logger := zerolog.Ctx(ctx)
	server := mcp.NewServer(p, a.store, version, *logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Msg("mcp_server_ready")
		errCh <- server.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting_down")
		return nil
	case err := <-errCh:
		return err
	}
}

func runHTTP(ctx context.Context, cfg *config.Config) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.pipeline()
	if err != nil {
		return err
	}
	limiter, err := ratelimit.New(cfg.RateLimitBackend, cfg.RateLimitPerMinute, a.cache)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Asker:   p,
		Status:  a.store,
		Limiter: limiter,
		Metrics: a.metrics,
		Logger:  *zerolog.Ctx(ctx),
	})
	return httpapi.Run(ctx, httpapi.NewServer(cfg.HTTPAddr, router))
}

func runAsk(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	from := fs.String("from", "", "only messages on or after this date (YYYY-MM-DD or RFC 3339)")
	to := fs.String("to", "", "only messages on or before this date (YYYY-MM-DD or RFC 3339)")
	author := fs.String("author", "", "only messages whose author contains this text")
	asJSON := fs.Bool("json", false, "print the result as JSON")

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) == 0 {
		return errors.New("ask: a question is required")
	}
	question := strings.Join(positional, " ")

	filters, err := types.ParseFilters(*from, *to, *author)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.pipeline()
	if err != nil {
		return err
	}

	result, err := p.Ask(ctx, question, filters)
	if err != nil {
		return err
	}

	if *asJSON {
		return printJSON(os.Stdout, result)
	}
	printAnswer(os.Stdout, result)
	return nil
}

func runIngest(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	summarize := fs.Bool("summarize", false, "generate thread summaries with the small model tier")
	batchSize := fs.Int("batch-size", indexer.DefaultBatchSize, "messages per embedding call and transaction")
	workers := fs.Int("workers", 0, "concurrent embedding batches (default: number of CPUs)")
	force := fs.Bool("force", false, "re-embed messages that have not changed")

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return errors.New("ingest: exactly one path is required")
	}
	path := positional[0]

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	lock, err := indexer.AcquireFileLock(cfg.DBPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	idx, err := a.indexer(*summarize)
	if err != nil {
		return err
	}
	stats, err := idx.IngestPath(ctx, path, &indexer.Config{
		Workers:   *workers,
		BatchSize: *batchSize,
		Summarize: *summarize,
		Force:     *force,
	})
	if err != nil {
		return err
	}

	printStatistics(os.Stdout, stats)
	return nil
}

func runCrawl(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("crawl", flag.ContinueOnError)
	from := fs.String("from", "", "first month to crawl (YYYY/MM)")
	only := fs.String("only", "", "crawl only this month (YYYY/MM)")
	incremental := fs.Bool("incremental", false, "crawl from the latest completed month onwards")
	summarize := fs.Bool("summarize", false, "generate thread summaries with the small model tier")
	batchSize := fs.Int("batch-size", indexer.DefaultBatchSize, "messages per embedding call and transaction")
	workers := fs.Int("workers", 0, "concurrent embedding batches (default: number of CPUs)")

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 0 {
		return fmt.Errorf("crawl: unexpected argument %q", positional[0])
	}

	statePath := crawler.StatePath(cfg.DBPath)
	state, err := crawler.LoadState(statePath)
	if err != nil {
		return err
	}
	opts, err := crawlOptions(state, *from, *only, *incremental)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	lock, err := indexer.AcquireFileLock(cfg.DBPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	c, err := crawler.New(crawlerConfig(cfg), nil)
	if err != nil {
		return err
	}
	result, err := c.Crawl(ctx, opts)
	if err != nil {
		return err
	}
	if err := crawler.ResolveThreads(ctx, result.Messages, a.store); err != nil {
		return err
	}

	idx, err := a.indexer(*summarize)
	if err != nil {
		return err
	}
	stats, err := idx.Ingest(ctx, result.Messages, &indexer.Config{
		Workers:   *workers,
		BatchSize: *batchSize,
		Summarize: *summarize,
	})
	if err != nil {
		return err
	}
	stats.ParseErrors = result.PagesFailed

	// Months count as done only once their messages are stored
	state.MarkCompleted(result.Completed, time.Now())
	if err := state.Save(statePath); err != nil {
		return err
	}

	printCrawl(os.Stdout, result)
	printStatistics(os.Stdout, stats)
	return nil
}

// crawlOptions picks the months to visit; --from, --only and --incremental exclude each other
func crawlOptions(state *crawler.State, from, only string, incremental bool) (crawler.Options, error) {
	set := 0
	for _, on := range []bool{from != "", only != "", incremental} {
		if on {
			set++
		}
	}
	if set > 1 {
		return crawler.Options{}, errors.New("crawl: --from, --only and --incremental are mutually exclusive")
	}
	for _, p := range []string{from, only} {
		if p != "" && !crawler.ValidPeriod(p) {
			return crawler.Options{}, fmt.Errorf("crawl: period %q is not YYYY/MM", p)
		}
	}

	switch {
	case incremental:
		return state.IncrementalOptions(), nil
	case only != "":
		return crawler.Options{Only: only}, nil
	default:
		return crawler.Options{From: from, Completed: state.Completed()}, nil
	}
}

func runStatus(ctx context.Context, cfg *config.Config) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.store.GetStatus(ctx)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, status)
}

// checkText is embedded by the check command
const checkText = "Re: coroutine frame allocation"

func runCheck(ctx context.Context, cfg *config.Config) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	vector, err := embedder.Embed(ctx, a.embedder, checkText)
	if err != nil {
		return fmt.Errorf("embedding check failed: %w", err)
	}
	if len(vector) != a.embedder.Dimension() {
		return fmt.Errorf("embedding check failed: got %d dimensions, want %d", len(vector), a.embedder.Dimension())
	}

	fmt.Printf("Embedding provider: %s\n", a.embedder.Provider())
	fmt.Printf("Embedding model:    %s\n", a.embedder.Model())
	fmt.Printf("Dimension:          %d\n", len(vector))
	fmt.Printf("Latency:            %s\n", time.Since(start).Round(time.Millisecond))

	if _, err := a.llmClient(); err != nil {
		fmt.Printf("LLM:                not configured (%v)\n", err)
	} else {
		fmt.Printf("LLM:                %s\n", cfg.LLMProvider)
	}
	return nil
}

// parseInterspersed lets flags follow positional arguments
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	fs.SetOutput(io.Discard)
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, fmt.Errorf("%s: %w", fs.Name(), err)
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func printAnswer(w io.Writer, result *types.AnswerResult) {
	fmt.Fprintln(w, result.Answer)
	if len(result.Citations) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for i, c := range result.Citations {
			fmt.Fprintf(w, "  [%d] %s (%s, %s)\n", i+1, c.Subject, c.Author, c.Date.Format(types.DateOnly))
			if c.SourceURL != "" {
				fmt.Fprintf(w, "      %s\n", c.SourceURL)
			}
		}
	}
	fmt.Fprintf(w, "\nquery_id=%s", result.QueryID)
	if result.Model != "" {
		fmt.Fprintf(w, " model=%s", result.Model)
	}
	if result.Cached {
		fmt.Fprint(w, " cached")
	}
	fmt.Fprintln(w)
}

func printCrawl(w io.Writer, result *crawler.Result) {
	fmt.Fprintf(w, "Months crawled:      %d\n", result.Periods)
	fmt.Fprintf(w, "Months completed:    %s\n", strings.Join(result.Completed, ", "))
	if len(result.Failed) > 0 {
		fmt.Fprintf(w, "Months incomplete:   %s\n", strings.Join(result.Failed, ", "))
	}
	fmt.Fprintf(w, "Pages failed:        %d\n", result.PagesFailed)
}

func printStatistics(w io.Writer, stats *indexer.Statistics) {
	fmt.Fprintf(w, "Messages parsed:     %d\n", stats.MessagesParsed)
	fmt.Fprintf(w, "Messages stored:     %d\n", stats.MessagesStored)
	fmt.Fprintf(w, "Parse errors:        %d\n", stats.ParseErrors)
	fmt.Fprintf(w, "Embeddings created:  %d\n", stats.EmbeddingsCreated)
	fmt.Fprintf(w, "Embeddings skipped:  %d\n", stats.EmbeddingsSkipped)
	fmt.Fprintf(w, "Embeddings failed:   %d\n", stats.EmbeddingsFailed)
	fmt.Fprintf(w, "Authors:             %d\n", stats.AuthorsCount)
	fmt.Fprintf(w, "Threads:             %d\n", stats.ThreadsCount)
	fmt.Fprintf(w, "Summaries written:   %d\n", stats.SummariesWritten)
	fmt.Fprintf(w, "Duration:            %s\n", stats.Duration.Round(time.Millisecond))
	for _, msg := range stats.ErrorMessages {
		fmt.Fprintf(w, "  error: %s\n", msg)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
