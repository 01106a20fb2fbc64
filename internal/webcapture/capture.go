// Package webcapture grabs the visible text of a company's website with
// headless Chrome. The snapshot seeds the knowledge base after onboarding.
package webcapture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrChromeMissing is returned when no chromium binary is installed.
var ErrChromeMissing = errors.New("website capture unavailable")

// MaxCaptureBytes caps the captured text so a content-heavy site cannot
// balloon the seeded document.
const MaxCaptureBytes = 256 << 10

// Service captures website text snapshots.
type Service struct {
	timeout time.Duration
}

func New() *Service {
	return &Service{timeout: 30 * time.Second}
}

// Available reports whether a chromium binary can be found.
func (s *Service) Available() bool {
	if _, err := exec.LookPath("chromium-browser"); err == nil {
		return true
	}
	_, err := exec.LookPath("chromium")
	return err == nil
}

// CaptureText renders the page and returns its visible body text.
func (s *Service) CaptureText(ctx context.Context, rawURL string) (string, error) {
	if !s.Available() {
		return "", fmt.Errorf("%w: chromium not installed", ErrChromeMissing)
	}

	target, err := normalizeURL(rawURL)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var text string
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(`document.body.innerText`, &text),
	)
	if err != nil {
		return "", fmt.Errorf("capture %s: %w", target, err)
	}

	text = strings.TrimSpace(text)
	if len(text) > MaxCaptureBytes {
		text = text[:MaxCaptureBytes]
	}
	return text, nil
}

// CaptureScreenshot renders the page and returns a PNG of the viewport, used
// as the website preview on the onboarding review step.
func (s *Service) CaptureScreenshot(ctx context.Context, rawURL string) ([]byte, error) {
	if !s.Available() {
		return nil, fmt.Errorf("%w: chromium not installed", ErrChromeMissing)
	}

	target, err := normalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.WindowSize(1280, 800),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var png []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			png, err = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("screenshot %s: %w", target, err)
	}
	return png, nil
}

// normalizeURL fills in a missing scheme and rejects anything that is not
// plain http(s).
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("website url is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse website url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("website url has no host")
	}
	return parsed.String(), nil
}
