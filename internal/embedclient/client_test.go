package embedclient

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonhardwick-spec/specmem-sub022/internal/ratelimit"
	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

// fakeEmbedder starts a Unix-socket server implementing just enough of the
// protocol to exercise the client: it echoes a fixed-dimension vector,
// optionally after emitting heartbeat lines, for every "embed" request.
func fakeEmbedder(t *testing.T, socketPath string, heartbeats int, dimension int) func() {
	t.Helper()
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					var req wireRequest
					if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
						return
					}
					for i := 0; i < heartbeats; i++ {
						conn.Write(append(mustJSON(heartbeatProbe{Status: "processing"}), '\n'))
					}
					switch req.Type {
					case "embed":
						vec := make([]float32, dimension)
						for i := range vec {
							vec[i] = float32(i) / float32(dimension)
						}
						conn.Write(append(mustJSON(wireResponse{Embedding: vec}), '\n'))
					case "batch_embed":
						vecs := make([][]float32, len(req.Texts))
						for i := range vecs {
							vecs[i] = make([]float32, dimension)
						}
						conn.Write(append(mustJSON(wireResponse{Embeddings: vecs, Errors: make([]string, len(req.Texts))}), '\n'))
					}
				}
			}(conn)
		}
	}()

	return func() { ln.Close() }
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func TestEmbed_SkipsHeartbeatsAndReturnsVector(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "embeddings.sock")
	stop := fakeEmbedder(t, sock, 2, 8)
	defer stop()

	c := New(Config{SocketPath: sock}, nil, nil)
	vec, err := c.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("expected dimension 8, got %d", len(vec))
	}

	dim, ok := c.Dimension()
	if !ok || dim != 8 {
		t.Errorf("Dimension() = (%d, %v), want (8, true)", dim, ok)
	}
}

func TestBatchEmbed_ReturnsPerItemResults(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "embeddings.sock")
	stop := fakeEmbedder(t, sock, 0, 4)
	defer stop()

	c := New(Config{SocketPath: sock}, nil, nil)
	vecs, errs := c.BatchEmbed(context.Background(), []string{"a", "b", "c"})
	if len(vecs) != 3 || len(errs) != 3 {
		t.Fatalf("expected 3 results, got %d vecs / %d errs", len(vecs), len(errs))
	}
	for i, e := range errs {
		if e != nil {
			t.Errorf("unexpected error at %d: %v", i, e)
		}
	}
}

func TestEmbed_MissingSocketIsEmbeddingUnavailable(t *testing.T) {
	c := New(Config{SocketPath: "/nonexistent/path/embeddings.sock", RetryAttempts: 1}, nil, nil)
	_, err := c.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error for missing socket")
	}
	if !models.IsKind(err, models.KindEmbeddingUnavailable) {
		t.Errorf("expected KindEmbeddingUnavailable, got %v", err)
	}
}

func TestCurrentTimeout_UsesInitialBeforeThreeSamples(t *testing.T) {
	c := New(Config{TimeoutInitial: 2 * time.Second}, nil, nil)
	if got := c.currentTimeout(); got != 2*time.Second {
		t.Errorf("currentTimeout() = %v, want 2s", got)
	}
}

func TestCurrentTimeout_AdaptsAfterSamples(t *testing.T) {
	c := New(Config{TimeoutMin: 10 * time.Millisecond, TimeoutMax: 5 * time.Second}, nil, nil)
	for i := 0; i < 5; i++ {
		c.recordSample(100 * time.Millisecond)
	}
	got := c.currentTimeout()
	if got < 100*time.Millisecond || got > 5*time.Second {
		t.Errorf("currentTimeout() = %v, out of expected bounds", got)
	}
}

func TestThrottle_DisabledByDefaultNeverBlocks(t *testing.T) {
	c := New(Config{}, nil, nil)
	deadline, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := c.throttle(deadline); err != nil {
		t.Fatalf("throttle() with rate limiting disabled returned %v, want nil", err)
	}
}

func TestThrottle_EnabledConsumesBudgetThenBlocksUntilCancelled(t *testing.T) {
	c := New(Config{RateLimit: ratelimit.Config{Enabled: true, RequestsPerSecond: 1, BurstSize: 1}}, nil, nil)

	if err := c.throttle(context.Background()); err != nil {
		t.Fatalf("first throttle() = %v, want nil (burst token available)", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.throttle(ctx); err == nil {
		t.Fatal("second throttle() within the burst window should block until ctx is cancelled")
	}
}
