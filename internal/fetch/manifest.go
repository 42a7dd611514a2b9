package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"vidingest/internal/ingest"
	"vidingest/internal/services"
)

// NewHTTPClient returns a client that retries connection errors and 5xx
// responses up to retryMax times.
func NewHTTPClient(timeout time.Duration, retryMax int) *http.Client {
	retry := retryablehttp.NewClient()
	retry.RetryMax = retryMax
	retry.RetryWaitMin = 1 * time.Second
	retry.RetryWaitMax = 10 * time.Second
	retry.Logger = nil
	client := retry.StandardClient()
	client.Timeout = timeout
	return client
}

// FromManifest downloads each item's Source URL to <OutputDir>/<ObjectKey>.
// Manifest items are expected to be owner-qualified so the layout is
// <output>/<collector>/<video name>.
func FromManifest(ctx context.Context, items []ingest.WorkItem, client *http.Client, opts Options) (*ingest.RunReport, error) {
	if client == nil {
		client = NewHTTPClient(5*time.Minute, 3)
	}
	dest := func(item ingest.WorkItem) string {
		return filepath.Join(opts.OutputDir, filepath.FromSlash(item.ObjectKey))
	}
	fetch := func(ctx context.Context, item ingest.WorkItem, path string) error {
		return download(ctx, client, item.Source, path)
	}
	return run(ctx, "download", items, dest, fetch, opts)
}

func download(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return services.Wrap(services.ErrTransfer, "download", "build request", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransfer, "download", "request", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrTransfer, "download", "request", fmt.Sprintf("%s returned %s", url, resp.Status), nil)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return services.Wrap(services.ErrTransfer, "download", "create temp file", dest, err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return services.Wrap(services.ErrTransfer, "download", "write", dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return services.Wrap(services.ErrTransfer, "download", "close", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return services.Wrap(services.ErrTransfer, "download", "rename", dest, err)
	}
	return nil
}
