package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// actionTimeout bounds a single input action, including the wait for the
// element to become visible.
const actionTimeout = 10 * time.Second

// Interactor drives input through CSS selectors. It satisfies the smoke
// runner's interactor contract.
type Interactor struct {
	browser *Browser
}

// Focus waits for selector to be visible and focuses it.
func (i *Interactor) Focus(ctx context.Context, selector string) error {
	err := i.browser.run(ctx, actionTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Focus(selector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to focus %s: %w", selector, err)
	}
	return nil
}

// Type focuses selector and sends text as key events, which works for
// inputs and contenteditable hosts alike.
func (i *Interactor) Type(ctx context.Context, selector, text string) error {
	err := i.browser.run(ctx, actionTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to type into %s: %w", selector, err)
	}
	i.browser.logger.Debug("Typed text.", zap.String("selector", selector), zap.Int("length", len(text)))
	return nil
}

// Click clicks the first visible element matching selector.
func (i *Interactor) Click(ctx context.Context, selector string) error {
	err := i.browser.run(ctx, actionTimeout,
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	i.browser.logger.Debug("Clicked element.", zap.String("selector", selector))
	return nil
}
