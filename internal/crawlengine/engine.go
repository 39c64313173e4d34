// Package crawlengine drives a single scoped Chrome instance through a
// scan's same-origin reachable pages, capturing every served image's wire
// MIME type and byte count via network interception rather than a
// secondary fetch. Grounded on the teacher's ChromeDP pool lifecycle and
// goquery-based link extraction, generalized from a multi-source document
// crawler into a single-origin image-discovery crawler.
package crawlengine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/estimator"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/validation"
)

// Engine implements interfaces.CrawlEngine over a per-scan ChromeDP
// instance. One Engine.Run call owns exactly one browser instance, closed
// on every exit path.
type Engine struct {
	config          common.CrawlerConfig
	validator       *validation.Validator
	logger          arbor.ILogger
	allowedCDNHosts map[string]bool
}

// NewEngine creates a crawl engine bound to the given crawler policy.
func NewEngine(config common.CrawlerConfig, validator *validation.Validator, logger arbor.ILogger) *Engine {
	allowed := make(map[string]bool, len(config.AllowedCDNDomains))
	for _, d := range config.AllowedCDNDomains {
		allowed[strings.ToLower(strings.TrimPrefix(d, "."))] = true
	}
	return &Engine{config: config, validator: validator, logger: logger, allowedCDNHosts: allowed}
}

// frontier tracks normalized URLs visited or pending within one scan.
type frontier struct {
	visited map[string]bool
	pending []string
}

func newFrontier(seed string, resume *models.CrawlCheckpoint) *frontier {
	f := &frontier{visited: make(map[string]bool)}
	if resume != nil {
		for _, u := range resume.VisitedURLs {
			f.visited[u] = true
		}
		f.pending = append(f.pending, resume.FrontierURLs...)
		if len(f.pending) == 0 {
			f.pending = append(f.pending, seed)
		}
	} else {
		f.pending = append(f.pending, seed)
	}
	return f
}

func (f *frontier) next() (string, bool) {
	for len(f.pending) > 0 {
		u := f.pending[0]
		f.pending = f.pending[1:]
		if !f.visited[u] {
			return u, true
		}
	}
	return "", false
}

func (f *frontier) markVisited(u string) {
	f.visited[u] = true
}

func (f *frontier) enqueue(u string) {
	if f.visited[u] {
		return
	}
	for _, p := range f.pending {
		if p == u {
			return
		}
	}
	f.pending = append(f.pending, u)
}

// interceptedImage is one image response observed during one page visit.
type interceptedImage struct {
	url       string
	mime      string
	sizeBytes int64
}

// Run drives the crawl for one ScanJob. See interfaces.CrawlEngine.
func (e *Engine) Run(ctx context.Context, job *models.ScanJob, resume *models.CrawlCheckpoint, progress interfaces.ProgressCallback, checkpoint interfaces.CheckpointCallback) (*interfaces.CrawlResult, error) {
	seed, err := url.Parse(job.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target url: %w", err)
	}
	origin := normalizeOrigin(seed)

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(e.config.UserAgent),
		chromedp.NoSandbox,
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOpts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = chromedp.Cancel(browserCtx)
		_ = shutdownCtx
		browserCancel()
	}()

	robots := allowAllRobots()
	if e.config.FollowRobotsTxt {
		robots = fetchRobotsPolicy(ctx, origin, e.config.UserAgent)
	}
	pageDelay := time.Duration(e.config.DelayBetweenPagesMS) * time.Millisecond
	if robots.crawlDelay > pageDelay {
		pageDelay = robots.crawlDelay
	}

	fr := newFrontier(job.TargetURL, resume)
	seenImages := make(map[string]*models.DiscoveredImage)
	images := make([]*models.DiscoveredImage, 0)

	pagesScanned := 0
	pagesDiscovered := len(fr.pending)
	nonWebPFound := 0
	reachedLimit := false

	for {
		select {
		case <-ctx.Done():
			return e.finish(job, images, pagesScanned, pagesDiscovered, false, ctx.Err())
		default:
		}

		current, ok := fr.next()
		if !ok {
			break
		}
		if e.config.MaxPagesPerScan > 0 && pagesScanned >= e.config.MaxPagesPerScan {
			reachedLimit = true
			break
		}

		fr.markVisited(current)

		if !robots.allowed(current) {
			progress(interfaces.CrawlProgressEvent{Kind: "PageSkipped", PageURL: current, ErrorMessage: "disallowed by robots.txt"})
			continue
		}

		progress(interfaces.CrawlProgressEvent{Kind: "PageStarted", PageURL: current})

		parsed, err := url.Parse(current)
		if err != nil {
			continue
		}
		if err := e.validator.ValidateHostForConnect(ctx, parsed.Hostname()); err != nil {
			progress(interfaces.CrawlProgressEvent{Kind: "PageSkipped", PageURL: current, ErrorMessage: "ssrf recheck failed: " + err.Error()})
			continue
		}

		links, pageImages, authPage, visitErr := e.visitPageWithRetry(browserCtx, current, origin)
		pagesScanned++

		switch {
		case visitErr != nil:
			e.logger.Warn().Err(visitErr).Str("url", current).Msg("page visit failed")
		case authPage:
			e.logger.Debug().Str("url", current).Msg("authentication page detected, skipping links and images")
		default:
			for _, link := range links {
				if !fr.visited[link] {
					fr.enqueue(link)
					pagesDiscovered++
				}
			}
			for _, img := range pageImages {
				category, tracked := models.CategoryFromMIME(img.mime)
				if !tracked {
					continue
				}
				if existing, ok := seenImages[img.url]; ok {
					existing.PageURLs = appendDedupPage(existing.PageURLs, current)
					continue
				}
				nonWebPFound++
				webpSize := estimator.EstimatedWebPSize(img.mime, img.sizeBytes)
				discovered := &models.DiscoveredImage{
					ImageID:             uuid.NewString(),
					ScanID:              job.ScanID,
					PageURLs:            []string{current},
					ImageURL:            img.url,
					MIMEType:            img.mime,
					Category:            category,
					SizeBytes:           img.sizeBytes,
					EstimatedWebPSize:   webpSize,
					EstimatedSavingsPct: estimator.SavingsPercent(img.sizeBytes, webpSize),
					DiscoveredAt:        time.Now().UTC(),
				}
				seenImages[img.url] = discovered
				images = append(images, discovered)
				progress(interfaces.CrawlProgressEvent{Kind: "ImageFound", PageURL: current, Image: discovered})
			}
		}

		progress(interfaces.CrawlProgressEvent{Kind: "PageCompleted", PageURL: current, PagesScanned: pagesScanned, PagesDiscovered: pagesDiscovered})

		if e.config.CheckpointIntervalPages > 0 && pagesScanned%e.config.CheckpointIntervalPages == 0 {
			checkpoint(&models.CrawlCheckpoint{
				ScanID:          job.ScanID,
				VisitedURLs:     keysOf(fr.visited),
				FrontierURLs:    append([]string(nil), fr.pending...),
				PagesScanned:    pagesScanned,
				PagesDiscovered: pagesDiscovered,
				UpdatedAt:       time.Now().UTC(),
			})
		}

		if pageDelay > 0 {
			time.Sleep(pageDelay)
		}
	}

	progress(interfaces.CrawlProgressEvent{Kind: "CrawlCompleted", PagesScanned: pagesScanned, PagesDiscovered: pagesDiscovered})

	return &interfaces.CrawlResult{
		PagesScanned:     pagesScanned,
		PagesDiscovered:  pagesDiscovered,
		Images:           images,
		ReachedPageLimit: reachedLimit,
	}, nil
}

func (e *Engine) finish(job *models.ScanJob, images []*models.DiscoveredImage, scanned, discovered int, reachedLimit bool, err error) (*interfaces.CrawlResult, error) {
	return &interfaces.CrawlResult{
		PagesScanned:     scanned,
		PagesDiscovered:  discovered,
		Images:           images,
		ReachedPageLimit: reachedLimit,
	}, err
}

// visitPageWithRetry retries a transient page-visit failure with backoff,
// up to pageRetryPolicy's attempt bound, before giving up on the page.
func (e *Engine) visitPageWithRetry(browserCtx context.Context, pageURL, origin string) (links []string, images []interceptedImage, isAuthPage bool, err error) {
	policy := newPageRetryPolicy()

	for attempt := 0; attempt < policy.maxAttempts; attempt++ {
		links, images, isAuthPage, err = e.visitPage(browserCtx, pageURL, origin)
		if err == nil {
			return links, images, isAuthPage, nil
		}
		if !policy.shouldRetry(attempt, err) {
			return links, images, isAuthPage, err
		}

		delay := policy.backoff(attempt)
		e.logger.Debug().Str("url", pageURL).Int("attempt", attempt+1).Err(err).Dur("backoff", delay).Msg("retrying page visit after transient error")
		select {
		case <-browserCtx.Done():
			return nil, nil, false, browserCtx.Err()
		case <-time.After(delay):
		}
	}
	return links, images, isAuthPage, err
}

// loginPathHints are path segments commonly present in an auth-gate redirect
// target's path (matched against whole segments, leading slash ignored); a
// page navigating here is treated as an authentication page rather than
// real content.
var loginPathHints = []string{"/login", "/signin", "/sign-in", "/auth", "/sso"}

// visitPage navigates to pageURL, sleeps for the fixed NetworkQuiesceWindow
// (network activity is not monitored), scrolls once to the bottom of the
// page, waits PostLoadGracePeriod for in-flight image responses, then
// extracts same-origin links and returns every intercepted image response.
// The whole visit is bounded by NavigationMaxWait plus PageTimeoutSeconds. isAuthPage reports a detected 401/403
// response or a client-side redirect into a login path; such pages
// contribute no images and their links are not enqueued.
func (e *Engine) visitPage(browserCtx context.Context, pageURL, origin string) (links []string, images []interceptedImage, isAuthPage bool, err error) {
	pageCtx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()

	timeout := e.config.NavigationMaxWait
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(pageCtx, timeout+time.Duration(e.config.PageTimeoutSeconds)*time.Second)
	defer navCancel()

	var mu imageCollector
	mu.seenRequests = make(map[network.RequestID]string)
	mu.origin = origin
	mu.allowedCDNHosts = e.allowedCDNHosts
	mu.pageURL = pageURL
	mu.mainStatus = 0
	maxRequests := e.config.MaxRequestsPerPage
	maxBytes := e.config.MaxPageSizeBytes

	chromedp.ListenTarget(navCtx, func(ev interface{}) {
		switch event := ev.(type) {
		case *network.EventResponseReceived:
			mu.onResponse(event, maxRequests, maxBytes)
		}
	})

	var html string
	var finalURL string
	runErr := chromedp.Run(navCtx,
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.Sleep(e.config.NetworkQuiesceWindow),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return chromedp.Run(ctx, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
		}),
		chromedp.Sleep(e.config.PostLoadGracePeriod),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if runErr != nil {
		return nil, nil, false, runErr
	}

	authPage := mu.mainStatus == http.StatusUnauthorized || mu.mainStatus == http.StatusForbidden || looksLikeLoginPath(finalURL)
	if authPage {
		return nil, nil, true, nil
	}

	links = extractSameOriginLinks(html, pageURL, origin)
	return links, mu.images, false, nil
}

// looksLikeLoginPath reports whether navigatedURL's path matches a common
// authentication-gate redirect target.
func looksLikeLoginPath(navigatedURL string) bool {
	u, err := url.Parse(navigatedURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, seg := range strings.Split(path, "/") {
		for _, hint := range loginPathHints {
			if seg == strings.TrimPrefix(hint, "/") {
				return true
			}
		}
	}
	return false
}

// imageCollector accumulates intercepted image responses for one page
// visit, enforcing the per-page size and request-count caps and the
// off-domain/CDN-allowlist policy.
type imageCollector struct {
	images          []interceptedImage
	seenRequests    map[network.RequestID]string
	totalBytes      int64
	requestCount    int
	partial         bool
	origin          string
	allowedCDNHosts map[string]bool
	pageURL         string
	mainStatus      int
}

func (c *imageCollector) onResponse(ev *network.EventResponseReceived, maxRequests int, maxBytes int64) {
	if ev.Response.URL == c.pageURL && strings.Contains(ev.Response.MimeType, "text/html") {
		c.mainStatus = int(ev.Response.Status)
	}

	if c.partial {
		return
	}
	c.requestCount++
	if maxRequests > 0 && c.requestCount > maxRequests {
		c.partial = true
		return
	}

	mimeType := ev.Response.MimeType
	if !strings.HasPrefix(mimeType, "image/") {
		return
	}

	if !c.isAllowedHost(ev.Response.URL) {
		return
	}

	size := int64(ev.Response.EncodedDataLength)
	if maxBytes > 0 && c.totalBytes+size > maxBytes {
		c.partial = true
		return
	}
	c.totalBytes += size

	c.images = append(c.images, interceptedImage{
		url:       ev.Response.URL,
		mime:      mimeType,
		sizeBytes: size,
	})
}

// isAllowedHost reports whether responseURL's host is the page's own origin
// or an explicitly allowlisted CDN domain.
func (c *imageCollector) isAllowedHost(responseURL string) bool {
	u, err := url.Parse(responseURL)
	if err != nil {
		return false
	}
	if normalizeOrigin(u) == c.origin {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for allowed := range c.allowedCDNHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// extractSameOriginLinks parses html and returns normalized same-origin
// anchors, deduplicated, with fragments dropped.
func extractSameOriginLinks(html, pageURL, origin string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		if strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "data:") {
			return
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""

		if normalizeOrigin(resolved) != origin {
			return
		}

		normalized := resolved.String()
		if !seen[normalized] {
			seen[normalized] = true
			links = append(links, normalized)
		}
	})

	return links
}

// normalizeOrigin returns scheme+host+port with a lowercased host and
// default ports stripped, used to decide same-origin membership.
func normalizeOrigin(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		return fmt.Sprintf("%s://%s:%s", u.Scheme, host, port)
	}
	return fmt.Sprintf("%s://%s", u.Scheme, host)
}

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// appendDedupPage appends pageURL to pages if it is not already present,
// preserving discovery order.
func appendDedupPage(pages []string, pageURL string) []string {
	for _, p := range pages {
		if p == pageURL {
			return pages
		}
	}
	return append(pages, pageURL)
}
