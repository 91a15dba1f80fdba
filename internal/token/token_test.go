package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/oapipe/internal/core/domain"
)

func TestToken_CancelFiresObserversInOrder(t *testing.T) {
	tok := New(context.Background())

	var got []int
	for i := 1; i <= 3; i++ {
		tok.OnCancel(func() { got = append(got, i) })
	}

	if !tok.Cancel("stop") {
		t.Fatal("first Cancel should report true")
	}
	if tok.Cancel("again") {
		t.Error("second Cancel should report false")
	}

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("observers fired as %v, want [1 2 3]", got)
	}
	if tok.Reason() != "stop" {
		t.Errorf("Reason() = %q, want first reason", tok.Reason())
	}
}

func TestToken_LateObserverFiresImmediately(t *testing.T) {
	tok := New(context.Background())
	tok.Cancel("")

	fired := false
	tok.OnCancel(func() { fired = true })
	if !fired {
		t.Error("observer registered after cancellation should fire immediately")
	}
}

func TestToken_Err(t *testing.T) {
	tok := New(context.Background())
	if tok.Err() != nil {
		t.Fatalf("Err() before cancel = %v", tok.Err())
	}
	if tok.IsCanceled() {
		t.Fatal("token should not start canceled")
	}

	tok.Cancel("shutdown")

	var ce *domain.CanceledError
	if !errors.As(tok.Err(), &ce) || ce.Reason != "shutdown" {
		t.Errorf("Err() = %v, want CanceledError with reason", tok.Err())
	}
}

func TestToken_Context(t *testing.T) {
	type key struct{}
	parent := context.WithValue(context.Background(), key{}, "v")
	tok := New(parent)
	ctx := tok.Context()

	if ctx.Value(key{}) != "v" {
		t.Error("token context should keep parent values")
	}

	tok.Cancel("done")
	<-ctx.Done()
	if !domain.IsCanceled(context.Cause(ctx)) {
		t.Errorf("cause = %v, want CanceledError", context.Cause(ctx))
	}
}

func TestToken_ParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancelCause(context.Background())
	tok := New(parent)
	defer tok.Release()

	done := make(chan struct{})
	tok.OnCancel(func() { close(done) })

	cancel(errors.New("client gone"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("token was not canceled with its parent")
	}
	if tok.Reason() != "client gone" {
		t.Errorf("Reason() = %q, want parent cause", tok.Reason())
	}
}

func TestToken_ReleaseDetachesParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tok := New(parent)
	tok.Release()
	cancel()

	time.Sleep(10 * time.Millisecond)
	if tok.IsCanceled() {
		t.Error("released token should not follow its parent")
	}
}

func TestToken_ConcurrentCancel(t *testing.T) {
	tok := New(context.Background())

	var mu sync.Mutex
	calls := 0
	tok.OnCancel(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wins := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- tok.Cancel("race")
		}()
	}
	wg.Wait()
	close(wins)

	n := 0
	for w := range wins {
		if w {
			n++
		}
	}
	if n != 1 || calls != 1 {
		t.Errorf("winners=%d calls=%d, want 1 and 1", n, calls)
	}
}
