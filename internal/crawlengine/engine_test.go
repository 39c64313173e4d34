package crawlengine

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/quaero/internal/models"
)

func TestFrontier_SeedsFromTargetWhenNoResume(t *testing.T) {
	fr := newFrontier("https://example.com/", nil)
	u, ok := fr.next()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/", u)

	_, ok = fr.next()
	assert.False(t, ok, "frontier should be empty after draining the single seed")
}

func TestFrontier_ResumesFromCheckpoint(t *testing.T) {
	resume := &models.CrawlCheckpoint{
		VisitedURLs:  []string{"https://example.com/"},
		FrontierURLs: []string{"https://example.com/about", "https://example.com/contact"},
	}
	fr := newFrontier("https://example.com/", resume)

	assert.True(t, fr.visited["https://example.com/"])

	u, ok := fr.next()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/about", u)
}

func TestFrontier_ResumeWithEmptyFrontierFallsBackToSeed(t *testing.T) {
	resume := &models.CrawlCheckpoint{VisitedURLs: []string{"https://example.com/old"}}
	fr := newFrontier("https://example.com/", resume)

	u, ok := fr.next()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/", u)
}

func TestFrontier_NextSkipsAlreadyVisited(t *testing.T) {
	fr := newFrontier("https://example.com/", nil)
	fr.enqueue("https://example.com/a")
	fr.markVisited("https://example.com/a")

	u, ok := fr.next()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/", u)

	_, ok = fr.next()
	assert.False(t, ok)
}

func TestFrontier_EnqueueDedupesAgainstVisitedAndPending(t *testing.T) {
	fr := newFrontier("https://example.com/", nil)
	fr.enqueue("https://example.com/a")
	fr.enqueue("https://example.com/a")
	fr.markVisited("https://example.com/")

	count := 0
	for {
		if _, ok := fr.next(); !ok {
			break
		}
		count++
	}
	assert.Equal(t, 1, count)
}

func TestNormalizeOrigin_StripsDefaultPorts(t *testing.T) {
	httpsURL, _ := url.Parse("https://Example.com:443/page")
	assert.Equal(t, "https://example.com", normalizeOrigin(httpsURL))

	httpURL, _ := url.Parse("http://example.com:80/page")
	assert.Equal(t, "http://example.com", normalizeOrigin(httpURL))
}

func TestNormalizeOrigin_KeepsNonDefaultPort(t *testing.T) {
	u, _ := url.Parse("https://example.com:8443/page")
	assert.Equal(t, "https://example.com:8443", normalizeOrigin(u))
}

func TestNormalizeOrigin_LowercasesHost(t *testing.T) {
	u, _ := url.Parse("https://EXAMPLE.com/page")
	assert.Equal(t, "https://example.com", normalizeOrigin(u))
}

func TestExtractSameOriginLinks_KeepsSameOriginDropsCrossOrigin(t *testing.T) {
	html := `
		<html><body>
			<a href="/about">About</a>
			<a href="https://example.com/contact">Contact</a>
			<a href="https://other.com/page">Other</a>
			<a href="#section">Fragment only</a>
			<a href="mailto:hi@example.com">Mail</a>
			<a href="javascript:void(0)">JS</a>
			<a href="tel:+15551234">Tel</a>
			<a href="data:text/plain;base64,aGk=">Data</a>
		</body></html>`

	links := extractSameOriginLinks(html, "https://example.com/", "https://example.com")

	assert.ElementsMatch(t, []string{
		"https://example.com/about",
		"https://example.com/contact",
	}, links)
}

func TestExtractSameOriginLinks_DropsFragmentAndDedupes(t *testing.T) {
	html := `
		<html><body>
			<a href="/page">A</a>
			<a href="/page#section-1">B</a>
			<a href="/page#section-2">C</a>
		</body></html>`

	links := extractSameOriginLinks(html, "https://example.com/", "https://example.com")
	assert.Equal(t, []string{"https://example.com/page"}, links)
}

func TestExtractSameOriginLinks_ResolvesRelativeAgainstPageURL(t *testing.T) {
	html := `<html><body><a href="more">More</a></body></html>`
	links := extractSameOriginLinks(html, "https://example.com/blog/post-1", "https://example.com")
	require.Len(t, links, 1)
	assert.Equal(t, "https://example.com/blog/more", links[0])
}

func TestImageCollector_AcceptsImageResponsesAndIgnoresOthers(t *testing.T) {
	var c imageCollector
	c.seenRequests = make(map[network.RequestID]string)
	c.origin = "https://example.com"

	c.onResponse(&network.EventResponseReceived{
		Response: &network.Response{URL: "https://example.com/hero.png", MimeType: "image/png", EncodedDataLength: 1024},
	}, 0, 0)
	c.onResponse(&network.EventResponseReceived{
		Response: &network.Response{URL: "https://example.com/app.js", MimeType: "application/javascript", EncodedDataLength: 2048},
	}, 0, 0)

	require.Len(t, c.images, 1)
	assert.Equal(t, "https://example.com/hero.png", c.images[0].url)
	assert.Equal(t, int64(1024), c.images[0].sizeBytes)
}

func TestImageCollector_StopsAfterMaxRequests(t *testing.T) {
	var c imageCollector
	c.seenRequests = make(map[network.RequestID]string)
	c.origin = "https://example.com"

	for i := 0; i < 5; i++ {
		c.onResponse(&network.EventResponseReceived{
			Response: &network.Response{URL: "https://example.com/a.png", MimeType: "image/png", EncodedDataLength: 100},
		}, 3, 0)
	}

	assert.True(t, c.partial)
	assert.Len(t, c.images, 3)
}

func TestImageCollector_StopsAfterMaxBytes(t *testing.T) {
	var c imageCollector
	c.seenRequests = make(map[network.RequestID]string)
	c.origin = "https://example.com"

	c.onResponse(&network.EventResponseReceived{
		Response: &network.Response{URL: "https://example.com/a.png", MimeType: "image/png", EncodedDataLength: 600},
	}, 0, 1000)
	c.onResponse(&network.EventResponseReceived{
		Response: &network.Response{URL: "https://example.com/b.png", MimeType: "image/png", EncodedDataLength: 600},
	}, 0, 1000)

	assert.True(t, c.partial)
	assert.Len(t, c.images, 1)
}

func TestImageCollector_RejectsOffDomainImagesByDefault(t *testing.T) {
	var c imageCollector
	c.seenRequests = make(map[network.RequestID]string)
	c.origin = "https://example.com"

	c.onResponse(&network.EventResponseReceived{
		Response: &network.Response{URL: "https://tracker.example.net/pixel.png", MimeType: "image/png", EncodedDataLength: 50},
	}, 0, 0)

	assert.Empty(t, c.images)
}

func TestImageCollector_AllowsAllowlistedCDNHost(t *testing.T) {
	var c imageCollector
	c.seenRequests = make(map[network.RequestID]string)
	c.origin = "https://example.com"
	c.allowedCDNHosts = map[string]bool{"cdn.example.net": true}

	c.onResponse(&network.EventResponseReceived{
		Response: &network.Response{URL: "https://assets.cdn.example.net/hero.png", MimeType: "image/png", EncodedDataLength: 100},
	}, 0, 0)

	require.Len(t, c.images, 1)
}

func TestParseRobotsTxt_CollectsWildcardGroupOnly(t *testing.T) {
	body := "User-agent: GoogleBot\nDisallow: /private\n\nUser-agent: *\nDisallow: /admin\nDisallow: /tmp\nCrawl-delay: 2\n"
	policy := parseRobotsTxt(strings.NewReader(body))

	assert.False(t, policy.allowed("https://example.com/admin/x"))
	assert.False(t, policy.allowed("https://example.com/tmp"))
	assert.True(t, policy.allowed("https://example.com/private"))
	assert.True(t, policy.allowed("https://example.com/"))
	assert.Equal(t, 2*time.Second, policy.crawlDelay)
}

func TestLooksLikeLoginPath_MatchesCommonAuthPaths(t *testing.T) {
	assert.True(t, looksLikeLoginPath("https://example.com/login"))
	assert.True(t, looksLikeLoginPath("https://example.com/account/sign-in?next=/"))
	assert.False(t, looksLikeLoginPath("https://example.com/products/login-guide"))
	assert.False(t, looksLikeLoginPath("https://example.com/"))
}

func TestAppendDedupPage_AppendsNewPagePreservingOrder(t *testing.T) {
	pages := []string{"https://example.com/"}
	pages = appendDedupPage(pages, "https://example.com/about")
	assert.Equal(t, []string{"https://example.com/", "https://example.com/about"}, pages)
}

func TestAppendDedupPage_SkipsAlreadyPresentPage(t *testing.T) {
	pages := []string{"https://example.com/", "https://example.com/about"}
	pages = appendDedupPage(pages, "https://example.com/")
	assert.Equal(t, []string{"https://example.com/", "https://example.com/about"}, pages)
}

func TestKeysOf_ReturnsAllKeys(t *testing.T) {
	m := map[string]bool{"a": true, "b": true}
	keys := keysOf(m)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}
