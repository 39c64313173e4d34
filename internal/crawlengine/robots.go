package crawlengine

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// robotsPolicy holds the `User-agent: *` directives parsed from one
// origin's /robots.txt: disallowed path prefixes and an optional
// Crawl-delay, applied as a floor on the inter-page delay.
type robotsPolicy struct {
	disallow   []string
	crawlDelay time.Duration
}

// allowAllRobots is used when FollowRobotsTxt is off or the fetch fails;
// an unreachable robots.txt must not block a crawl.
func allowAllRobots() *robotsPolicy {
	return &robotsPolicy{}
}

// fetchRobotsPolicy retrieves and parses origin's /robots.txt. Any fetch or
// parse failure yields an empty (allow-all) policy rather than an error,
// since robots.txt is an optional courtesy, not a requirement for the crawl
// to proceed.
func fetchRobotsPolicy(ctx context.Context, origin, userAgent string) *robotsPolicy {
	reqURL := strings.TrimSuffix(origin, "/") + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return allowAllRobots()
	}
	req.Header.Set("User-Agent", userAgent)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return allowAllRobots()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return allowAllRobots()
	}

	return parseRobotsTxt(resp.Body)
}

// parseRobotsTxt extracts the `User-agent: *` group's Disallow prefixes and
// Crawl-delay. Groups for other user agents are skipped.
func parseRobotsTxt(body io.Reader) *robotsPolicy {
	policy := &robotsPolicy{}
	scanner := bufio.NewScanner(body)
	inWildcardGroup := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		directive := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])

		switch directive {
		case "user-agent":
			inWildcardGroup = value == "*"
		case "disallow":
			if inWildcardGroup && value != "" {
				policy.disallow = append(policy.disallow, value)
			}
		case "crawl-delay":
			if inWildcardGroup {
				if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
					policy.crawlDelay = time.Duration(secs * float64(time.Second))
				}
			}
		}
	}

	return policy
}

// allowed reports whether pageURL's path is permitted by the policy's
// Disallow prefixes.
func (p *robotsPolicy) allowed(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return true
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	for _, prefix := range p.disallow {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}
