package controller

import (
	"context"
	"errors"
	"testing"
)

type stubLock struct {
	ok       bool
	err      error
	released int
}

func (s *stubLock) TryLock(ctx context.Context) (func(), bool, error) {
	if s.err != nil || !s.ok {
		return nil, false, s.err
	}
	return func() { s.released++ }, true, nil
}

func TestLocalLock(t *testing.T) {
	l := NewLocalLock()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := l.TryLock(ctx); ok {
		t.Fatal("second TryLock should fail while held")
	}

	release()
	release2, ok, _ := l.TryLock(ctx)
	if !ok {
		t.Fatal("TryLock should succeed after release")
	}
	release2()
}

func TestChainLock(t *testing.T) {
	ctx := context.Background()

	t.Run("all acquired", func(t *testing.T) {
		a, b := &stubLock{ok: true}, &stubLock{ok: true}
		release, ok, err := ChainLock{a, nil, b}.TryLock(ctx)
		if err != nil || !ok {
			t.Fatalf("ok=%v err=%v", ok, err)
		}
		release()
		if a.released != 1 || b.released != 1 {
			t.Errorf("expected both released once, got a=%d b=%d", a.released, b.released)
		}
	})

	t.Run("second busy releases first", func(t *testing.T) {
		a, b := &stubLock{ok: true}, &stubLock{ok: false}
		_, ok, err := ChainLock{a, b}.TryLock(ctx)
		if ok || err != nil {
			t.Fatalf("ok=%v err=%v", ok, err)
		}
		if a.released != 1 {
			t.Errorf("expected first lock released, got %d", a.released)
		}
	})

	t.Run("error propagates", func(t *testing.T) {
		boom := errors.New("api down")
		a, b := &stubLock{ok: true}, &stubLock{err: boom}
		_, ok, err := ChainLock{a, b}.TryLock(ctx)
		if ok || !errors.Is(err, boom) {
			t.Fatalf("ok=%v err=%v", ok, err)
		}
		if a.released != 1 {
			t.Errorf("expected first lock released, got %d", a.released)
		}
	})
}
