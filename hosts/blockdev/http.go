package blockdev

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPClient is the part of *http.Client used by HTTPSource.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource reads an image from a URL with range requests. It implements
// io.ReaderAt so a Device can sit on top of it.
type HTTPSource struct {
	URL     string
	Headers map[string]string

	client HTTPClient
}

// NewHTTPSource validates rawURL and returns a source for it. A nil client
// means http.DefaultClient.
func NewHTTPSource(rawURL string, headers map[string]string, client HTTPClient) (*HTTPSource, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("image url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("image url %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("image url %q: missing host", rawURL)
	}
	if u.User != nil {
		return nil, fmt.Errorf("image url %q: credentials in url are not allowed; use headers", rawURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{URL: rawURL, Headers: headers, client: client}, nil
}

func isURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

func (h *HTTPSource) newRequest(ctx context.Context, method string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Open streams the whole image.
func (h *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := h.newRequest(ctx, http.MethodGet)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: %s", h.URL, resp.Status)
	}
	return resp.Body, nil
}

// Size returns the image length reported by a HEAD request.
func (h *HTTPSource) Size(ctx context.Context) (int64, error) {
	req, err := h.newRequest(ctx, http.MethodHead)
	if err != nil {
		return 0, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("head %s: %s", h.URL, resp.Status)
	}
	return resp.ContentLength, nil
}

// ReadAt fetches len(p) bytes at off. Servers that ignore the Range header
// are handled by skipping to off in the full body.
func (h *HTTPSource) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	req, err := h.newRequest(context.Background(), http.MethodGet)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1))

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil {
			return 0, io.EOF
		}
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	default:
		return 0, fmt.Errorf("get %s: %s", h.URL, resp.Status)
	}

	n, err := io.ReadFull(resp.Body, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}
