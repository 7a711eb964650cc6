package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	settleDelay     = 2 * time.Second
	postScrollDelay = 500 * time.Millisecond
)

// chromeSession owns one headless Chrome instance with a single tab. The
// tab is reused across navigations within a batch.
type chromeSession struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	mu       sync.Mutex
	docMime  string
	listenOn bool
}

func newChromeSession(ctx context.Context, userAgent string) (session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	return &chromeSession{
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}, nil
}

// run navigates the tab, lets the page settle, scrolls halfway to trigger
// lazy-loaded content, and extracts either the document HTML or its
// visible text.
func (s *chromeSession) run(ctx context.Context, url string, wantHTML bool) (string, string, error) {
	s.mu.Lock()
	s.docMime = ""
	if !s.listenOn {
		s.listenOn = true
		chromedp.ListenTarget(s.tabCtx, func(ev interface{}) {
			if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument {
				s.mu.Lock()
				if s.docMime == "" {
					s.docMime = e.Response.MimeType
				}
				s.mu.Unlock()
			}
		})
	}
	s.mu.Unlock()

	// Bound the whole navigation by the caller's context while running on
	// the tab's context so the tab survives across batch items.
	runCtx, cancel := mergeDeadline(s.tabCtx, ctx)
	defer cancel()

	var content string
	actions := []chromedp.Action{
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.Sleep(settleDelay),
		chromedp.Evaluate(`window.scrollTo(0, document.body ? document.body.scrollHeight / 2 : 0)`, nil),
		chromedp.Sleep(postScrollDelay),
	}
	if wantHTML {
		actions = append(actions, chromedp.OuterHTML("html", &content, chromedp.ByQuery))
	} else {
		actions = append(actions, chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &content))
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return "", "", err
	}

	s.mu.Lock()
	mime := s.docMime
	s.mu.Unlock()
	return content, mime, nil
}

func (s *chromeSession) close() {
	s.cancelTab()
	s.cancelAlloc()
}

// mergeDeadline derives a context from tab that is additionally cancelled
// when bound is done or its deadline passes.
func mergeDeadline(tab, bound context.Context) (context.Context, context.CancelFunc) {
	if dl, ok := bound.Deadline(); ok {
		ctx, cancel := context.WithDeadline(tab, dl)
		stop := context.AfterFunc(bound, cancel)
		return ctx, func() { stop(); cancel() }
	}
	ctx, cancel := context.WithCancel(tab)
	stop := context.AfterFunc(bound, cancel)
	return ctx, func() { stop(); cancel() }
}
