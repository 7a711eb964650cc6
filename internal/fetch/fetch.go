// Package fetch drives a headless browser to retrieve page content for the
// research pipeline. All URLs pass SSRF validation before any navigation,
// transient failures are retried with jittered exponential backoff, and
// batch fetches run sequentially over a single tab with a minimum delay
// between requests.
package fetch

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/validate"
)

const (
	// DefaultMaxRetries includes the initial attempt.
	DefaultMaxRetries = 3
	// DefaultTimeout bounds a single navigation.
	DefaultTimeout = 30 * time.Second
	// MinRateLimitDelay spaces adjacent requests within a batch.
	MinRateLimitDelay = 500 * time.Millisecond
	// closeTimeout bounds browser shutdown at the end of a batch.
	closeTimeout = 10 * time.Second

	truncatedMarker = "\n[...TRUNCATED...]"
	modelCapMarker  = "[... truncated ...]"
)

// allowedContentTypes gates what a navigation may return. Anything else
// (PDFs, images, archives) is refused without content.
var allowedContentTypes = map[string]struct{}{
	"text/html":             {},
	"text/plain":            {},
	"application/xhtml+xml": {},
	"application/xml":       {},
	"text/xml":              {},
}

func contentTypeAllowed(mime string) bool {
	base := strings.ToLower(strings.TrimSpace(mime))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if base == "" {
		// No header seen: let the extraction decide.
		return true
	}
	_, ok := allowedContentTypes[base]
	return ok
}

// session is one live browser tab. The production implementation is
// chromedp-backed; tests substitute fakes.
type session interface {
	// run navigates to url and returns the page content (outer HTML when
	// wantHTML, otherwise visible text) plus the document content type if
	// one was observed.
	run(ctx context.Context, url string, wantHTML bool) (content string, contentType string, err error)
	close()
}

// Fetcher is the surface the pipeline depends on. Batch fetches return
// visible text; the HTML variant returns raw documents for callers that
// run their own extraction.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
	FetchText(ctx context.Context, url string) (string, error)
	FetchBatch(ctx context.Context, urls []string, perURL time.Duration) map[string]string
	FetchBatchHTML(ctx context.Context, urls []string, perURL time.Duration) map[string]string
}

// Browser fetches pages through a headless browser instance.
type Browser struct {
	// Timeout bounds each navigation attempt. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxRetries caps attempts per URL. Zero means DefaultMaxRetries.
	MaxRetries int
	// UserAgent optionally overrides the browser default.
	UserAgent string

	// newSession is swappable for tests; nil means chromedp.
	newSession func(ctx context.Context) (session, error)
	// sleep is swappable for tests; nil means time.Sleep.
	sleep func(time.Duration)
	// unit is a uniform [0,1) source for jitter; nil means math/rand.
	unit func() float64
}

func (b *Browser) timeout() time.Duration {
	if b.Timeout > 0 {
		return b.Timeout
	}
	return DefaultTimeout
}

func (b *Browser) maxRetries() int {
	if b.MaxRetries > 0 {
		return b.MaxRetries
	}
	return DefaultMaxRetries
}

func (b *Browser) doSleep(d time.Duration) {
	if b.sleep != nil {
		b.sleep(d)
		return
	}
	time.Sleep(d)
}

func (b *Browser) random() float64 {
	if b.unit != nil {
		return b.unit()
	}
	return rand.Float64()
}

func (b *Browser) openSession(ctx context.Context) (session, error) {
	if b.newSession != nil {
		return b.newSession(ctx)
	}
	return newChromeSession(ctx, b.UserAgent)
}

// backoffDelay computes the pause before retry number attempt (0-based):
// min(1*2^attempt, 30) seconds with ±25% uniform jitter, floored at 100ms.
func backoffDelay(attempt int, unit func() float64) time.Duration {
	base := math.Min(math.Pow(2, float64(attempt)), 30.0)
	jittered := base * (0.75 + 0.5*unit())
	if jittered < 0.1 {
		jittered = 0.1
	}
	return time.Duration(jittered * float64(time.Second))
}

// isDNSFailure detects unresolvable hosts, which never recover within a
// retry window.
func isDNSFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), "ERR_NAME_NOT_RESOLVED")
}

// Fetch returns the raw document HTML for url.
func (b *Browser) Fetch(ctx context.Context, url string) (string, error) {
	return b.fetchOne(ctx, url, true)
}

// FetchText returns the page's visible text for url.
func (b *Browser) FetchText(ctx context.Context, url string) (string, error) {
	return b.fetchOne(ctx, url, false)
}

func (b *Browser) fetchOne(ctx context.Context, url string, wantHTML bool) (string, error) {
	if !validate.ValidateURL(url) {
		return "", fmt.Errorf("URL blocked for security: %.50s", url)
	}
	sess, err := b.openSession(ctx)
	if err != nil {
		return "", fmt.Errorf("start browser: %w", err)
	}
	defer closeSession(sess)
	return b.fetchWithRetry(ctx, sess, url, wantHTML, b.timeout())
}

// fetchWithRetry runs the retry loop for one URL on an open session.
func (b *Browser) fetchWithRetry(ctx context.Context, sess session, url string, wantHTML bool, timeout time.Duration) (string, error) {
	var lastErr error
	for attempt := 0; attempt < b.maxRetries(); attempt++ {
		if attempt > 0 {
			b.doSleep(backoffDelay(attempt-1, b.random))
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		navCtx, cancel := context.WithTimeout(ctx, timeout)
		content, contentType, err := sess.run(navCtx, url, wantHTML)
		cancel()
		if err == nil {
			if !contentTypeAllowed(contentType) {
				return "", fmt.Errorf("disallowed content type: %s", contentType)
			}
			if len(content) > validate.MaxResponseSize {
				content = content[:validate.MaxResponseSize] + truncatedMarker
			}
			return content, nil
		}
		lastErr = err
		if isDNSFailure(err) {
			return "", err
		}
		log.Warn().Err(err).Str("url", url).Int("attempt", attempt+1).Msg("fetch attempt failed")
	}
	return "", lastErr
}

// FetchBatch retrieves visible text for up to MaxURLsPerBatch URLs over a
// single browser tab, sequentially, keeping only pages that yielded more
// than 50 chars of non-whitespace content.
func (b *Browser) FetchBatch(ctx context.Context, urls []string, perURL time.Duration) map[string]string {
	return b.fetchBatch(ctx, urls, perURL, false)
}

// FetchBatchHTML is FetchBatch returning raw document HTML instead of
// visible text.
func (b *Browser) FetchBatchHTML(ctx context.Context, urls []string, perURL time.Duration) map[string]string {
	return b.fetchBatch(ctx, urls, perURL, true)
}

func (b *Browser) fetchBatch(ctx context.Context, urls []string, perURL time.Duration, wantHTML bool) map[string]string {
	results := make(map[string]string)
	if len(urls) == 0 {
		return results
	}
	if len(urls) > validate.MaxURLsPerBatch {
		log.Warn().Int("given", len(urls)).Int("kept", validate.MaxURLsPerBatch).Msg("url batch truncated")
		urls = urls[:validate.MaxURLsPerBatch]
	}
	safe := validate.FilterURLs(urls)
	if blocked := len(urls) - len(safe); blocked > 0 {
		log.Warn().Int("blocked", blocked).Msg("unsafe urls dropped from batch")
	}
	if len(safe) == 0 {
		return results
	}
	if perURL <= 0 {
		perURL = b.timeout()
	}

	sess, err := b.openSession(ctx)
	if err != nil {
		log.Error().Err(err).Msg("batch fetch: browser start failed")
		return results
	}
	defer closeSession(sess)

	log.Info().Int("count", len(safe)).Msg("fetching url batch")
	var lastRequest time.Time
	for i, url := range safe {
		if err := ctx.Err(); err != nil {
			return results
		}
		if !lastRequest.IsZero() {
			if elapsed := time.Since(lastRequest); elapsed < MinRateLimitDelay {
				b.doSleep(MinRateLimitDelay - elapsed)
			}
		}
		lastRequest = time.Now()

		text, err := b.fetchWithRetry(ctx, sess, url, wantHTML, perURL)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msgf("batch fetch %d/%d failed", i+1, len(safe))
			continue
		}
		if len(strings.TrimSpace(text)) <= 50 {
			log.Warn().Str("url", url).Msgf("batch fetch %d/%d returned no usable text", i+1, len(safe))
			continue
		}
		if !wantHTML {
			text = CapForModel(text)
		}
		results[url] = text
		log.Info().Str("url", url).Int("chars", len(text)).Msgf("batch fetch %d/%d ok", i+1, len(safe))
	}
	return results
}

// CapForModel bounds page text before it enters a prompt.
func CapForModel(s string) string {
	if len(s) <= validate.MaxCharsPerPage {
		return s
	}
	return s[:validate.MaxCharsPerPage] + modelCapMarker
}

// closeSession shuts a session down but refuses to hang on a wedged
// browser for more than closeTimeout.
func closeSession(sess session) {
	done := make(chan struct{})
	go func() {
		sess.close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
		log.Warn().Msg("browser close timed out")
	}
}
