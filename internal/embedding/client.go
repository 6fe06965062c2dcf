package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/pawsort/internal/codec"
	"github.com/hyperjump/pawsort/internal/models"
)

const (
	DefaultConnectTimeout = 20 * time.Second
	DefaultRequestTimeout = 180 * time.Second

	// ModelVersionHeader carries the model version of an embed response.
	ModelVersionHeader = "X-Model-Version"

	maxErrorBody = 512
)

// ImageEncoder turns a photo file into the JPEG bytes sent upstream.
type ImageEncoder interface {
	EncodeFile(path string) ([]byte, error)
}

// Client calls the remote embedding service over HTTP.
type Client struct {
	base    string
	http    *http.Client
	encoder ImageEncoder
	logger  *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for request logging.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

// WithTimeouts sets the connect timeout and the overall per-request timeout.
func WithTimeouts(connect, request time.Duration) ClientOption {
	return func(c *Client) {
		c.http = newHTTPClient(connect, request)
	}
}

// NewClient creates a client for the service at baseURL. Photos are encoded with enc.
func NewClient(baseURL string, enc ImageEncoder, opts ...ClientOption) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, models.Invalidf("invalid remote base URL %q", baseURL)
	}
	if enc == nil {
		return nil, fmt.Errorf("image encoder is required")
	}
	c := &Client{
		base:    base,
		http:    newHTTPClient(DefaultConnectTimeout, DefaultRequestTimeout),
		encoder: enc,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newHTTPClient(connect, request time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	return &http.Client{Transport: transport, Timeout: request}
}

// BaseURL returns the normalized service base URL.
func (c *Client) BaseURL() string {
	return c.base
}

// Health calls GET {base}/v1/health and returns the raw response body.
func (c *Client) Health(ctx context.Context) (string, error) {
	const op = "health check"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/health", nil)
	if err != nil {
		return "", &models.NetworkError{Op: op, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", &models.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &models.NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &models.NetworkError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(body))}
	}
	return string(body), nil
}

// EmbedBatch encodes each photo, uploads them in one multipart request and decodes
// the binary response. No retries.
func (c *Client) EmbedBatch(ctx context.Context, refs []string, dtype codec.DType) (*BatchResult, error) {
	const op = "embed batch"
	if len(refs) == 0 {
		return nil, models.Invalidf("embed batch: no photos")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, ref := range refs {
		jpg, err := c.encoder.EncodeFile(ref)
		if err != nil {
			return nil, fmt.Errorf("encode photo: %w", err)
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="img_%d.jpg"`, i))
		h.Set("Content-Type", "image/jpeg")
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create multipart part: %w", err)
		}
		if _, err := part.Write(jpg); err != nil {
			return nil, fmt.Errorf("write multipart part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	endpoint := c.base + "/v1/embed/batch?format=" + url.QueryEscape(dtype.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, &models.NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("embed request failed", zap.Int("photos", len(refs)), zap.Error(err))
		}
		return nil, &models.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if c.logger != nil {
			c.logger.Warn("embed request rejected", zap.Int("status", resp.StatusCode), zap.Int("photos", len(refs)))
		}
		return nil, &models.NetworkError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(payload))}
	}

	batch, err := codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	if c.logger != nil {
		c.logger.Debug("embed batch",
			zap.Int("photos", len(refs)),
			zap.Int("dim", batch.D),
			zap.String("dtype", batch.DType.String()),
			zap.Duration("took", time.Since(start)))
	}
	return &BatchResult{ModelVersion: resp.Header.Get(ModelVersionHeader), Batch: batch}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
