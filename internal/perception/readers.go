package perception

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// FileReader reads a local feed file, one item per line.
type FileReader struct {
	ResourceName string
	Path         string
}

func (r FileReader) Name() string { return r.ResourceName }

func (r FileReader) Fetch(_ context.Context) ([]byte, error) {
	return os.ReadFile(r.Path)
}

// HTTPReader fetches a feed over HTTP. The body is treated as plain
// text, one item per line.
type HTTPReader struct {
	ResourceName string
	URL          string
	Client       *http.Client
}

func (r HTTPReader) Name() string { return r.ResourceName }

func (r HTTPReader) Fetch(ctx context.Context) ([]byte, error) {
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", r.URL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
