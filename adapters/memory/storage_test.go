package memory

import (
	"context"
	"errors"
	"testing"

	"playkit/storage"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Set(ctx, "levels:u", []byte(`{"level":2}`)); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "levels:u")
	if err != nil || string(got) != `{"level":2}` {
		t.Fatalf("got %q %v", got, err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := New()
	buf := []byte("abc")
	_ = s.Set(ctx, "k", buf)
	buf[0] = 'z'
	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %q", got)
	}
}

func TestMemoryStoreDeletePrefix(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Set(ctx, "app:levels:u", []byte("1"))
	_ = s.Set(ctx, "app:points:u", []byte("2"))
	_ = s.Set(ctx, "other:levels:u", []byte("3"))
	if err := s.DeletePrefix(ctx, "app:"); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 key left, got %d", s.Len())
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	s := New()
	_ = s.Close()
	if err := s.Set(context.Background(), "k", nil); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
