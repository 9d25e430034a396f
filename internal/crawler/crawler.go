package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/dshills/threadqa-mcp/internal/resilience"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

const (
	DefaultMaxRequests = 10
	DefaultMaxMonths   = 3
	DefaultStartPeriod = "2025/01"
	DefaultUserAgent   = "threadqa-crawler/1.0"
	DefaultTimeout     = 30 * time.Second

	// maxPageBytes bounds a single downloaded page
	maxPageBytes = 8 << 20
)

// ErrDisallowed is returned when robots.txt forbids crawling the archive
var ErrDisallowed = errors.New("crawling disallowed by robots.txt")

var periodPattern = regexp.MustCompile(`^\d{4}/(0[1-9]|1[0-2])$`)

// Config tunes a Crawler. Zero fields take defaults.
type Config struct {
	BaseURL     string // Archive root, e.g. https://lists.isocpp.org/std-proposals
	UserAgent   string
	MaxRequests int           // Concurrent page fetches across all months
	MaxMonths   int           // Months crawled in parallel
	Delay       time.Duration // Minimum spacing between requests, 0 for none
	StartPeriod string        // Months before this YYYY/MM are ignored
	Timeout     time.Duration // Per request
	Retry       resilience.Config
}

// DefaultRetry retries transient failures five times, backing off from 500ms to 30s
func DefaultRetry() resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:    5,
		RetryInitialBackoff: 500 * time.Millisecond,
		RetryMaxBackoff:     30 * time.Second,
		RetryMultiplier:     2.0,
		BreakerEnabled:      true,
	}
}

// Crawler fetches and parses archive pages
type Crawler struct {
	cfg      Config
	base     *url.URL
	listName string
	client   *http.Client
	executor *resilience.Executor
	requests *semaphore.Weighted
	limiter  *rate.Limiter // nil without Delay
}

// HTTPStatusError is a page that answered with a non-200 status
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Status)
}

// Options selects which months a crawl visits
type Options struct {
	From      string          // First period, inclusive
	Only      string          // Crawl just this period
	Completed map[string]bool // Periods to skip
}

// Result is the outcome of a crawl
type Result struct {
	Messages    []*types.Message
	Periods     int      // Months visited
	Completed   []string // Months whose every page was fetched and parsed
	Failed      []string // Months with at least one failure
	PagesFailed int
}

// monthResult is the outcome of one month
type monthResult struct {
	period   string
	messages []*types.Message
	failed   int
	err      error
}

// New creates a Crawler. A nil client gets one with cfg.Timeout.
func New(cfg Config, client *http.Client) (*Crawler, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("crawler: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("crawler: invalid base URL %q", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if cfg.MaxMonths <= 0 {
		cfg.MaxMonths = DefaultMaxMonths
	}
	if cfg.StartPeriod == "" {
		cfg.StartPeriod = DefaultStartPeriod
	}
	if !ValidPeriod(cfg.StartPeriod) {
		return nil, fmt.Errorf("crawler: start period %q is not YYYY/MM", cfg.StartPeriod)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.RetryMaxAttempts == 0 {
		cfg.Retry = DefaultRetry()
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Crawler{
		cfg:      cfg,
		base:     base,
		listName: path.Base(base.Path),
		client:   client,
		executor: resilience.NewExecutor(cfg.Retry),
		requests: semaphore.NewWeighted(int64(cfg.MaxRequests)),
	}
	if cfg.Delay > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}
	return c, nil
}

// ValidPeriod reports whether s is a YYYY/MM month
func ValidPeriod(s string) bool {
	return periodPattern.MatchString(s)
}

// Crawl checks robots.txt, lists the archive's months and crawls those
// selected by opts. A failed month does not stop the others; only
// cancellation, a disallowing robots.txt or an unreadable front page fail
// the crawl.
func (c *Crawler) Crawl(ctx context.Context, opts Options) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	if !c.RobotsAllowed(ctx) {
		return nil, ErrDisallowed
	}

	periods, err := c.MonthPeriods(ctx, opts.From, opts.Only)
	if err != nil {
		return nil, err
	}
	pending := make([]string, 0, len(periods))
	for _, p := range periods {
		if !opts.Completed[p] {
			pending = append(pending, p)
		}
	}
	logger.Info().Int("pending", len(pending)).Int("completed", len(opts.Completed)).Msg("pending_months")

	months := make([]*monthResult, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxMonths)
	for i, period := range pending {
		g.Go(func() error {
			months[i] = c.crawlMonth(gctx, period)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Periods: len(pending)}
	seen := make(map[string]bool)
	for _, m := range months {
		for _, msg := range m.messages {
			if seen[msg.ID] {
				continue
			}
			seen[msg.ID] = true
			result.Messages = append(result.Messages, msg)
		}
		result.PagesFailed += m.failed
		if m.err != nil || m.failed > 0 {
			result.Failed = append(result.Failed, m.period)
			continue
		}
		result.Completed = append(result.Completed, m.period)
	}

	logger.Info().
		Int("months", result.Periods).
		Int("messages", len(result.Messages)).
		Int("pages_failed", result.PagesFailed).
		Strs("failed_months", result.Failed).
		Msg("crawl_complete")
	return result, nil
}

// MonthPeriods lists the archive's months from its front page, sorted.
// Months before the configured start, before from, or other than only are dropped.
func (c *Crawler) MonthPeriods(ctx context.Context, from, only string) ([]string, error) {
	front := c.base.String() + "/"
	page, err := c.fetch(ctx, front)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch archive index: %w", err)
	}
	links, err := pageLinks(page)
	if err != nil {
		return nil, fmt.Errorf("failed to parse archive index: %w", err)
	}

	var periods []string
	seen := make(map[string]bool)
	for _, period := range parsePeriods(c.base, links) {
		switch {
		case period < c.cfg.StartPeriod:
		case from != "" && period < from:
		case only != "" && period != only:
		case seen[period]:
		default:
			seen[period] = true
			periods = append(periods, period)
		}
	}
	sort.Strings(periods)

	zerolog.Ctx(ctx).Info().Int("count", len(periods)).Msg("found_month_periods")
	return periods, nil
}

// crawlMonth fetches one month's index and every message page it links
func (c *Crawler) crawlMonth(ctx context.Context, period string) *monthResult {
	logger := zerolog.Ctx(ctx).With().Str("period", period).Logger()
	result := &monthResult{period: period}

	indexURL := c.base.String() + "/" + period + "/index.php"
	page, err := c.fetch(ctx, indexURL)
	if err != nil {
		logger.Error().Err(err).Msg("failed_to_fetch_month_index")
		result.err = err
		return result
	}
	links, err := pageLinks(page)
	if err != nil {
		logger.Error().Err(err).Msg("failed_to_parse_month_index")
		result.err = err
		return result
	}
	urls := messageURLs(indexURL, links)
	logger.Info().Int("count", len(urls)).Msg("found_messages_in_month")

	messages := make([]*types.Message, len(urls))
	failures := make([]bool, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxRequests)
	for i, u := range urls {
		g.Go(func() error {
			msg, err := c.fetchMessage(gctx, u, period)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				logger.Warn().Err(err).Str("url", u).Msg("failed_to_parse_message")
				failures[i] = true
				return nil
			}
			messages[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		result.err = err
		return result
	}

	for i, msg := range messages {
		if failures[i] {
			result.failed++
			continue
		}
		result.messages = append(result.messages, msg)
	}
	logger.Info().Int("messages", len(result.messages)).Int("failed", result.failed).Msg("month_crawl_complete")
	return result
}

func (c *Crawler) fetchMessage(ctx context.Context, pageURL, period string) (*types.Message, error) {
	page, err := c.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return parseMessagePage(page, pageURL, period, c.listName)
}

// fetch downloads u through the executor, decoding the page to UTF-8
func (c *Crawler) fetch(ctx context.Context, u string) ([]byte, error) {
	var body []byte
	err := c.executor.Execute(ctx, "crawl.fetch", func(ctx context.Context) error {
		if err := c.requests.Acquire(ctx, 1); err != nil {
			return err
		}
		defer c.requests.Release(1)

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		zerolog.Ctx(ctx).Debug().Str("url", u).Msg("fetching_url")
		data, err := c.get(ctx, u)
		if err != nil {
			return err
		}
		body = data
		return nil
	}, classify)
	return body, err
}

func (c *Crawler) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", u, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	r, err := charset.NewReader(io.LimitReader(resp.Body, maxPageBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", u, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	return data, nil
}

// classify retries network failures and retryable statuses. Other statuses
// (a missing page) neither retry nor count towards the breaker.
func classify(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyTransport(err); ok {
		return class
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		retry := resilience.IsRetryableStatus(statusErr.StatusCode)
		return resilience.ErrorClassification{Retryable: retry, RecordFailure: retry}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
