package crawl

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

// contentSelectors are tried in priority order: likely main-content
// containers first, whole-body last.
var contentSelectors = []string{
	"main",
	"article",
	"div[role='main']",
	".content",
	"#content",
	".main-content",
	"body",
}

// visibleTextJS walks every visible text node. Last-resort extraction when
// all selectors yield nothing.
const visibleTextJS = `(() => {
	const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT, null, false);
	let text = '';
	let node;
	while ((node = walker.nextNode())) {
		const style = window.getComputedStyle(node.parentElement);
		if (style.display !== 'none' && style.visibility !== 'hidden') {
			text += node.textContent + ' ';
		}
	}
	return text.trim();
})()`

const imageURLsJS = `(() => {
	const urls = [];
	for (const img of document.querySelectorAll('img')) {
		const src = img.getAttribute('src');
		if (!src) continue;
		try {
			const abs = new URL(src, document.baseURI).href;
			if (abs.startsWith('http://') || abs.startsWith('https://')) {
				urls.push(abs);
			}
		} catch (e) {}
	}
	return urls;
})()`

func selectorTextJS(selector string) string {
	return fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); return el ? el.innerText.trim() : ''; })()`,
		selector,
	)
}

// extract attempts the selector sequence, falling through empty results, and
// hard-caps text and image lists so memory stays bounded regardless of page
// size.
func (w *Worker) extract(ctx context.Context, url string, prof profile) (scanner.PageContent, error) {
	var title string
	if err := chromedp.Run(ctx, chromedp.Title(&title)); err != nil {
		return scanner.PageContent{}, fmt.Errorf("read title: %w", err)
	}

	var text string
	for _, selector := range contentSelectors {
		var candidate string
		if err := chromedp.Run(ctx, chromedp.Evaluate(selectorTextJS(selector), &candidate)); err != nil {
			return scanner.PageContent{}, fmt.Errorf("extract %q: %w", selector, err)
		}
		if candidate != "" {
			text = candidate
			break
		}
	}
	if text == "" {
		if err := chromedp.Run(ctx, chromedp.Evaluate(visibleTextJS, &text)); err != nil {
			return scanner.PageContent{}, fmt.Errorf("extract visible text: %w", err)
		}
	}
	if text == "" {
		return scanner.PageContent{}, fmt.Errorf("%s: %w", url, scanner.ErrExtractionEmpty)
	}

	var images []string
	if !prof.degraded {
		if err := chromedp.Run(ctx, chromedp.Evaluate(imageURLsJS, &images)); err != nil {
			return scanner.PageContent{}, fmt.Errorf("extract images: %w", err)
		}
	}

	return scanner.PageContent{
		URL:    url,
		Title:  title,
		Text:   CapText(text, prof.textCap),
		Images: CapImages(images, w.cfg.ImageCap),
	}, nil
}

// CapText truncates text to at most limit bytes without splitting a rune,
// so capped CJK extracts stay valid UTF-8 for the provider APIs.
func CapText(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// CapImages bounds the image-reference list.
func CapImages(images []string, limit int) []string {
	if limit <= 0 || len(images) <= limit {
		return images
	}
	return images[:limit]
}

func enableNetworkAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		return nil
	})
}

// responseMeta captures the document response status from CDP events.
type responseMeta struct {
	mu         sync.RWMutex
	statusCode int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.statusCode = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.statusCode == 0 {
		return 200
	}
	return m.statusCode
}
