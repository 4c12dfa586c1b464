// Package embedclient talks to an external embedding service over a local
// Unix domain socket using a newline-framed JSON protocol, with an
// adaptive timeout derived from recent round-trip latency.
package embedclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/jonhardwick-spec/specmem-sub022/internal/observability"
	"github.com/jonhardwick-spec/specmem-sub022/internal/ratelimit"
	"github.com/jonhardwick-spec/specmem-sub022/internal/retry"
	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

// Config configures the client.
type Config struct {
	// SocketPath is the Unix domain socket to dial, derived by callers as
	// "<project>/<runtime>/sockets/embeddings.sock".
	SocketPath string

	// TimeoutMin, TimeoutMax, TimeoutInitial bound the adaptive per-call
	// timeout.
	TimeoutMin     time.Duration
	TimeoutMax     time.Duration
	TimeoutInitial time.Duration

	// SampleWindow bounds how many recent round trips feed the adaptive
	// timeout estimate. Defaults to 20.
	SampleWindow int

	// RetryAttempts is the number of attempts (including the first) for
	// transient transport errors before the caller is expected to fall
	// back to EmbeddingQueue. Defaults to 3.
	RetryAttempts int

	// RateLimit throttles outbound requests to the embedding service.
	// Disabled (unbounded) unless explicitly enabled.
	RateLimit ratelimit.Config
}

func (c Config) withDefaults() Config {
	if c.TimeoutMin <= 0 {
		c.TimeoutMin = 500 * time.Millisecond
	}
	if c.TimeoutMax <= 0 {
		c.TimeoutMax = 30 * time.Second
	}
	if c.TimeoutInitial <= 0 {
		c.TimeoutInitial = 5 * time.Second
	}
	if c.SampleWindow <= 0 {
		c.SampleWindow = 20
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	return c
}

// adaptiveTimeoutFactor (k in timeout = mean + k*stddev) per the protocol's
// tail-latency allowance.
const adaptiveTimeoutFactor = 3.0

// Client is a connection-per-call Unix domain socket client. It keeps no
// persistent connection: the embedder process may restart independently of
// any caller, so every request dials fresh.
type Client struct {
	cfg     Config
	log     *observability.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	samples   []time.Duration
	dimension int
	hasDim    bool

	limiter *ratelimit.Bucket
}

// New constructs a Client. log and metrics may be nil.
func New(cfg Config, log *observability.Logger, metrics *observability.Metrics) *Client {
	cfg = cfg.withDefaults()
	var limiter *ratelimit.Bucket
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewBucket(cfg.RateLimit)
	}
	return &Client{cfg: cfg, log: log, metrics: metrics, limiter: limiter}
}

// throttle blocks until the rate limiter admits one request, or ctx is
// cancelled. A nil limiter (rate limiting disabled) never blocks.
func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	for !c.limiter.Allow() {
		wait := c.limiter.WaitTime()
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Dimension returns the cached embedding dimension, and whether one has
// been observed yet. The dimension is fixed by the first successful
// embedding response.
func (c *Client) Dimension() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension, c.hasDim
}

// Embed requests a single embedding, retrying transient transport errors
// up to cfg.RetryAttempts times with exponential backoff before giving up.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	result := retry.Do(ctx, retry.Exponential(c.cfg.RetryAttempts, 100*time.Millisecond, 2*time.Second), func() error {
		vec, err := c.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		out = vec
		return nil
	})
	if result.Err != nil {
		return nil, classifyEmbedError(result.Err)
	}
	return out, nil
}

// BatchEmbed requests embeddings for multiple texts in one round trip. If
// the batch call itself fails at the transport level, it transparently
// falls back to sequential single Embed calls; per-item errors in that
// fallback are reported alongside successful vectors rather than failing
// the whole batch.
func (c *Client) BatchEmbed(ctx context.Context, texts []string) ([][]float32, []error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vecs, errs, err := c.batchEmbedOnce(ctx, texts)
	if err == nil {
		return vecs, errs
	}

	if c.log != nil {
		c.log.Warn(ctx, "batch embed failed, falling back to sequential", "error", err.Error(), "count", len(texts))
	}

	outVecs := make([][]float32, len(texts))
	outErrs := make([]error, len(texts))
	for i, t := range texts {
		v, e := c.Embed(ctx, t)
		outVecs[i] = v
		outErrs[i] = e
	}
	return outVecs, outErrs
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	req := wireRequest{Type: "embed", Text: text}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, models.NewError(models.KindEmbeddingUnavailable, resp.Error, nil)
	}
	c.observeDimension(len(resp.Embedding))
	return resp.Embedding, nil
}

func (c *Client) batchEmbedOnce(ctx context.Context, texts []string) ([][]float32, []error, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, nil, err
	}
	req := wireRequest{Type: "batch_embed", Texts: texts}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if resp.Error != "" {
		return nil, nil, models.NewError(models.KindEmbeddingUnavailable, resp.Error, nil)
	}

	errs := make([]error, len(resp.Embeddings))
	for i, msg := range resp.Errors {
		if msg != "" {
			errs[i] = models.NewError(models.KindEmbeddingUnavailable, msg, nil)
		}
	}
	if len(resp.Embeddings) > 0 {
		c.observeDimension(len(resp.Embeddings[0]))
	}
	return resp.Embeddings, errs, nil
}

// roundTrip dials the socket, writes one newline-framed request, and reads
// newline-framed responses until a terminal message, skipping any
// intermediate {"status":"processing"} heartbeats. The read deadline is
// the adaptive timeout computed from recent successful latencies.
func (c *Client) roundTrip(ctx context.Context, req wireRequest) (wireResponse, error) {
	start := time.Now()
	timeout := c.currentTimeout()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "unix", c.cfg.SocketPath)
	if err != nil {
		return wireResponse{}, models.NewError(models.KindEmbeddingUnavailable, "dial embedding socket", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return wireResponse{}, models.NewError(models.KindEmbeddingUnavailable, "set socket deadline", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return wireResponse{}, models.NewError(models.KindInternal, "marshal embed request", err)
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		return wireResponse{}, classifyWriteError(err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var probe heartbeatProbe
		if err := json.Unmarshal(line, &probe); err == nil && probe.Status == "processing" {
			continue
		}

		var resp wireResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return wireResponse{}, models.NewError(models.KindInternal, "decode embed response", err)
		}
		c.recordSample(time.Since(start))
		return resp, nil
	}
	if err := scanner.Err(); err != nil {
		return wireResponse{}, classifyReadError(err)
	}
	return wireResponse{}, models.NewError(models.KindEmbeddingUnavailable, "embedding socket closed with no terminal message", nil)
}

func (c *Client) currentTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.samples) < 3 {
		return c.cfg.TimeoutInitial
	}

	mean, stddev := meanStddev(c.samples)
	t := mean + adaptiveTimeoutFactor*stddev
	if t < c.cfg.TimeoutMin {
		t = c.cfg.TimeoutMin
	}
	if t > c.cfg.TimeoutMax {
		t = c.cfg.TimeoutMax
	}
	return t
}

func (c *Client) recordSample(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, d)
	if len(c.samples) > c.cfg.SampleWindow {
		c.samples = c.samples[len(c.samples)-c.cfg.SampleWindow:]
	}
}

func (c *Client) observeDimension(n int) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasDim {
		c.dimension = n
		c.hasDim = true
	}
}

func meanStddev(samples []time.Duration) (time.Duration, time.Duration) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(len(samples))

	var variance float64
	for _, s := range samples {
		diff := float64(s) - mean
		variance += diff * diff
	}
	variance /= float64(len(samples))

	return time.Duration(mean), time.Duration(math.Sqrt(variance))
}

func classifyWriteError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NewError(models.KindEmbeddingTimeout, "write embed request", err)
	}
	return models.NewError(models.KindEmbeddingUnavailable, "write embed request", err)
}

func classifyReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NewError(models.KindEmbeddingTimeout, "read embed response", err)
	}
	return models.NewError(models.KindEmbeddingUnavailable, "read embed response", err)
}

func classifyEmbedError(err error) error {
	if models.IsKind(err, models.KindEmbeddingTimeout) || models.IsKind(err, models.KindEmbeddingUnavailable) {
		return err
	}
	return models.NewError(models.KindEmbeddingUnavailable, "embed request failed", err)
}

type wireRequest struct {
	Type  string   `json:"type"`
	Text  string   `json:"text,omitempty"`
	Texts []string `json:"texts,omitempty"`
}

type heartbeatProbe struct {
	Status string `json:"status"`
}

type wireResponse struct {
	Embedding  []float32   `json:"embedding,omitempty"`
	Embeddings [][]float32 `json:"embeddings,omitempty"`
	Errors     []string    `json:"errors,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// SocketPath derives the embedding socket path for a project, per the
// external-interfaces convention "<project>/<runtime>/sockets/embeddings.sock".
func SocketPath(projectPath, runtimeDir string) string {
	return fmt.Sprintf("%s/%s/sockets/embeddings.sock", projectPath, runtimeDir)
}
