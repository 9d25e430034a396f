package crawler

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const robotsTimeout = 10 * time.Second

// RobotsAllowed fetches the host's robots.txt and reports whether the
// archive path may be crawled. A missing or unreadable robots.txt allows it.
func (c *Crawler) RobotsAllowed(ctx context.Context) bool {
	logger := zerolog.Ctx(ctx)
	robotsURL := c.base.Scheme + "://" + c.base.Host + "/robots.txt"

	ctx, cancel := context.WithTimeout(ctx, robotsTimeout)
	defer cancel()

	body, err := c.get(ctx, robotsURL)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return true
		}
		logger.Warn().Err(err).Str("url", robotsURL).Msg("robots_txt_fetch_failed")
		return true
	}

	if !robotsAllows(string(body), c.cfg.UserAgent, c.base.Path+"/") {
		logger.Warn().Str("url", robotsURL).Msg("robots_txt_disallow")
		return false
	}
	return true
}

// robotsAllows applies the groups of a robots.txt that name "*" or a token of
// userAgent to target. The longest matching Allow/Disallow prefix wins, Allow
// on a tie.
func robotsAllows(robots, userAgent, target string) bool {
	agent := strings.ToLower(userAgent)
	var (
		applies   bool
		inAgents  bool
		bestLen   = -1
		bestAllow = true
	)

	scanner := bufio.NewScanner(strings.NewReader(robots))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if !inAgents {
				applies = false
			}
			inAgents = true
			name := strings.ToLower(value)
			if name == "*" || (name != "" && strings.Contains(agent, name)) {
				applies = true
			}
		case "allow", "disallow":
			inAgents = false
			if !applies || value == "" || !strings.HasPrefix(target, value) {
				continue
			}
			allow := key == "allow"
			if len(value) > bestLen || (len(value) == bestLen && allow) {
				bestLen = len(value)
				bestAllow = allow
			}
		default:
			inAgents = false
		}
	}
	return bestAllow
}
