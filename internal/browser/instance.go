// Package browser bounds and recycles headless Chrome instances.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Instance wraps one headless Chrome process with a hard memory budget.
// Instances are never shared: one crawl owns an instance between Acquire
// and Release, and Release always tears the process down.
type Instance struct {
	id          string
	createdAt   time.Time
	memoryMB    int
	allocator   context.Context
	allocCancel context.CancelFunc
}

// launch starts a dedicated Chrome process. The memory budget is enforced
// with a V8 heap flag on the process itself, not just advisory accounting.
func launch(id string, memoryMB int, userAgent string) *Instance {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("js-flags", fmt.Sprintf("--max-old-space-size=%d", memoryMB)),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Instance{
		id:          id,
		createdAt:   time.Now().UTC(),
		memoryMB:    memoryMB,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// ID returns the instance identifier.
func (i *Instance) ID() string {
	return i.id
}

// CreatedAt returns the launch timestamp.
func (i *Instance) CreatedAt() time.Time {
	return i.createdAt
}

// MemoryBudgetMB returns the per-instance heap cap.
func (i *Instance) MemoryBudgetMB() int {
	return i.memoryMB
}

// NewTab returns a chromedp context driving a fresh tab in this instance.
// The returned context inherits cancellation from both the instance's
// allocator and the caller's ctx.
func (i *Instance) NewTab(ctx context.Context) (context.Context, context.CancelFunc) {
	tabCtx, tabCancel := chromedp.NewContext(i.allocator)

	// Propagate caller cancellation into the tab.
	stop := context.AfterFunc(ctx, tabCancel)
	return tabCtx, func() {
		stop()
		tabCancel()
	}
}

// close terminates the browser process. Idempotent.
func (i *Instance) close() {
	i.allocCancel()
}
