package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vidingest/internal/config"
	"vidingest/internal/ingest"
)

const userAgent = "vidingest/0.1"

// Service is the notification surface used by the CLI.
type Service interface {
	NotifyRunCompleted(ctx context.Context, report *ingest.RunReport) error
	NotifyRunAborted(ctx context.Context, label string, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op one when no topic is
// configured.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notify.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notify.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, report *ingest.RunReport) error {
	if report == nil {
		return nil
	}
	counts := report.Counts()
	var b strings.Builder
	fmt.Fprintf(&b, "%s run finished in %s\n", report.Mode, report.Duration().Round(time.Second))
	fmt.Fprintf(&b, "%d items: %d succeeded, %d skipped, %d failed", counts.Total, counts.Succeeded, counts.Skipped, counts.Failed)
	if report.Source != "" {
		fmt.Fprintf(&b, "\nSource: %s", report.Source)
	}

	data := payload{
		title:   "vidingest - Run Complete",
		message: b.String(),
		tags:    []string{"vidingest", report.Mode, "completed"},
	}
	if counts.Failed > 0 {
		data.title = "vidingest - Run Finished With Failures"
		data.tags = []string{"vidingest", report.Mode, "warning"}
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunAborted(ctx context.Context, label string, err error) error {
	var b strings.Builder
	b.WriteString("Run aborted")
	if label = strings.TrimSpace(label); label != "" {
		b.WriteString(" during ")
		b.WriteString(label)
	}
	b.WriteString(": ")
	if err != nil {
		b.WriteString(strings.TrimSpace(err.Error()))
	} else {
		b.WriteString("unknown error")
	}
	return n.send(ctx, payload{
		title:    "vidingest - Error",
		message:  b.String(),
		tags:     []string{"vidingest", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "vidingest - Test",
		message:  "Notification system test",
		tags:     []string{"vidingest", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunCompleted(context.Context, *ingest.RunReport) error { return nil }
func (noopService) NotifyRunAborted(context.Context, string, error) error       { return nil }
func (noopService) TestNotification(context.Context) error                      { return nil }

// Enabled reports whether svc actually delivers notifications.
func Enabled(svc Service) bool {
	_, noop := svc.(noopService)
	return svc != nil && !noop
}
