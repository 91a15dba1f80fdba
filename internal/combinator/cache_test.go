package combinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/pipeline"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

// countingStep returns its input suffixed with the call count.
type countingStep struct {
	calls atomic.Int32
	err   error
}

func (s *countingStep) Invoke(value any, _ *pipeline.Context, _ pipeline.Instance) pipeline.Result {
	n := s.calls.Add(1)
	if s.err != nil {
		return pipeline.Fail(s.err)
	}
	return pipeline.Sync([]any{value, int(n)})
}

func invoke(t *testing.T, step pipeline.Step, value any) any {
	t.Helper()
	v, err := step.Invoke(value, pipeline.NewContext(context.Background()), nil).Wait()
	if err != nil {
		t.Fatalf("Invoke(%v) error = %v", value, err)
	}
	return v
}

func TestNewCache_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := NewCache(&countingStep{}, CacheOptions{MaxSize: size}); !domain.IsInvalidPipelineDefinition(err) {
			t.Errorf("MaxSize %d: error = %v", size, err)
		}
	}
	if _, err := NewCache(nil, CacheOptions{MaxSize: 1}); !domain.IsInvalidPipelineDefinition(err) {
		t.Errorf("nil step: error = %v", err)
	}
}

func TestCache_HitAndExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	step := &countingStep{}
	cache, err := NewCache(step, CacheOptions{MaxSize: 10, MaxAge: time.Minute, Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}

	first := invoke(t, cache, 144)
	clock.Advance(30 * time.Second)
	if got := invoke(t, cache, 144); got.([]any)[1] != first.([]any)[1] {
		t.Errorf("expected cached value before maxAge, got %v", got)
	}
	if step.calls.Load() != 1 {
		t.Errorf("step called %d times, want 1", step.calls.Load())
	}

	clock.Advance(30 * time.Second)
	if cache.Len() != 0 {
		t.Errorf("entry should be expired at maxAge, Len() = %d", cache.Len())
	}
	got := invoke(t, cache, 144)
	if got.([]any)[1] != 2 {
		t.Errorf("expected recomputed value, got %v", got)
	}
	if _, ok := cache.Store()["144"]; !ok {
		t.Errorf("Store() = %v, want key 144", cache.Store())
	}
}

func TestCache_EvictsOldestInserted(t *testing.T) {
	step := &countingStep{}
	cache, _ := NewCache(step, CacheOptions{MaxSize: 1})

	invoke(t, cache, "a")
	invoke(t, cache, "b")

	store := cache.Store()
	if len(store) != 1 {
		t.Fatalf("Store() = %v, want a single entry", store)
	}
	if _, ok := store[`"b"`]; !ok {
		t.Errorf("newest entry should survive, got %v", store)
	}

	invoke(t, cache, "a")
	if step.calls.Load() != 3 {
		t.Errorf("evicted key should be recomputed, calls = %d", step.calls.Load())
	}
}

func TestCache_ReadsDoNotReorder(t *testing.T) {
	step := &countingStep{}
	cache, _ := NewCache(step, CacheOptions{MaxSize: 2})

	invoke(t, cache, "a")
	invoke(t, cache, "b")
	invoke(t, cache, "a")
	invoke(t, cache, "c")

	store := cache.Store()
	if _, ok := store[`"a"`]; ok {
		t.Errorf("oldest inserted entry should be evicted despite the read, got %v", store)
	}
	if len(store) != 2 {
		t.Errorf("Store() = %v", store)
	}
}

func TestCache_ErrorsNotCached(t *testing.T) {
	step := &countingStep{err: errors.New("down")}
	cache, _ := NewCache(step, CacheOptions{MaxSize: 4})

	for i := 0; i < 2; i++ {
		if _, err := cache.Invoke("k", pipeline.NewContext(context.Background()), nil).Wait(); err == nil {
			t.Fatal("expected error")
		}
	}
	if step.calls.Load() != 2 || cache.Len() != 0 {
		t.Errorf("calls = %d, Len() = %d", step.calls.Load(), cache.Len())
	}
}

func TestCache_AsyncStep(t *testing.T) {
	var calls atomic.Int32
	step := pipeline.Go(func(v any, _ *pipeline.Context, _ pipeline.Instance) (any, error) {
		calls.Add(1)
		return v, nil
	})
	cache, _ := NewCache(step, CacheOptions{MaxSize: 4})

	r := cache.Invoke("x", pipeline.NewContext(context.Background()), nil)
	if !r.IsPending() {
		t.Fatal("expected pending result on miss")
	}
	if v, err := r.Wait(); err != nil || v != "x" {
		t.Fatalf("Wait() = %v, %v", v, err)
	}

	r = cache.Invoke("x", pipeline.NewContext(context.Background()), nil)
	if r.IsPending() {
		t.Error("hit should settle synchronously")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestCache_CustomNormalizerAndPurge(t *testing.T) {
	step := &countingStep{}
	cache, _ := NewCache(step, CacheOptions{
		MaxSize: 4,
		Normalizer: func(v any, _ *pipeline.Context) (string, error) {
			return v.(map[string]any)["id"].(string), nil
		},
	})

	invoke(t, cache, map[string]any{"id": "1", "noise": 1})
	invoke(t, cache, map[string]any{"id": "1", "noise": 2})
	if step.calls.Load() != 1 {
		t.Errorf("normalized keys should share an entry, calls = %d", step.calls.Load())
	}

	cache.Purge()
	if cache.Len() != 0 {
		t.Errorf("Len() after Purge = %d", cache.Len())
	}
}

func TestCache_NormalizerSeesContext(t *testing.T) {
	step := &countingStep{}
	cache, _ := NewCache(step, CacheOptions{
		MaxSize: 4,
		Normalizer: func(v any, c *pipeline.Context) (string, error) {
			tenant, _ := c.Get("tenant")
			key, err := JSONKey(v, c)
			return fmt.Sprintf("%v|%s", tenant, key), err
		},
	})

	acme := pipeline.NewContext(context.Background())
	acme.Set("tenant", "acme")
	globex := pipeline.NewContext(context.Background())
	globex.Set("tenant", "globex")

	for _, c := range []*pipeline.Context{acme, globex, acme} {
		if _, err := cache.Invoke(144, c, nil).Wait(); err != nil {
			t.Fatal(err)
		}
	}
	if step.calls.Load() != 2 {
		t.Errorf("calls = %d, want one per tenant", step.calls.Load())
	}

	acme.Delete("tenant")
	if _, err := cache.Invoke(144, acme, nil).Wait(); err != nil {
		t.Fatal(err)
	}
	if step.calls.Load() != 3 || cache.Len() != 3 {
		t.Errorf("calls = %d, len = %d after dropping the tenant", step.calls.Load(), cache.Len())
	}
}

func TestCache_InPipeline(t *testing.T) {
	step := &countingStep{}
	cache, _ := NewCache(step, CacheOptions{MaxSize: 2})
	p := pipeline.MustPipe(pipeline.Value("fixed"), cache)

	invoke(t, p, nil)
	invoke(t, p, nil)
	if step.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", step.calls.Load())
	}
}
