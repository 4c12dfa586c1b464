package embedqueue

import (
	"context"
	"testing"
	"time"
)

func TestFuture_ResolveThenWaitReturnsResult(t *testing.T) {
	f := newFuture()
	f.resolve(Result{Embedding: []float32{1, 2, 3}})

	res, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if len(res.Embedding) != 3 {
		t.Errorf("expected 3-dim embedding, got %v", res.Embedding)
	}
}

func TestFuture_ResolveIsIdempotent(t *testing.T) {
	f := newFuture()
	f.resolve(Result{Embedding: []float32{1}})
	f.resolve(Result{Embedding: []float32{2, 2}}) // should be ignored

	res, _ := f.Wait(context.Background())
	if len(res.Embedding) != 1 {
		t.Errorf("second resolve should not overwrite first: got %v", res.Embedding)
	}
}

func TestFuture_WaitRespectsCancellation(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	if err == nil {
		t.Fatal("expected error when context expires before resolve")
	}
}

func TestFuture_WaitUnblocksOnConcurrentResolve(t *testing.T) {
	f := newFuture()
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.resolve(Result{Embedding: []float32{9}})
	}()

	res, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if len(res.Embedding) != 1 || res.Embedding[0] != 9 {
		t.Errorf("unexpected result: %v", res.Embedding)
	}
}
