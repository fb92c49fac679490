package fallback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFirstSuccessWins(t *testing.T) {
	called := []string{}
	ex := New([]Attempt[int]{
		{Name: "a", Fn: func(ctx context.Context) (int, error) { called = append(called, "a"); return 1, nil }},
		{Name: "b", Fn: func(ctx context.Context) (int, error) { called = append(called, "b"); return 2, nil }},
	}, nil, discard(), "test")

	v, ok := ex.Execute(context.Background())
	if !ok || v != 1 {
		t.Fatalf("Execute = (%d, %v), want (1, true)", v, ok)
	}
	if len(called) != 1 {
		t.Errorf("called = %v, later attempts should not run", called)
	}
}

func TestFallsThroughOnError(t *testing.T) {
	ex := New([]Attempt[string]{
		{Name: "bad", Fn: func(ctx context.Context) (string, error) { return "", errors.New("boom") }},
		{Name: "good", Fn: func(ctx context.Context) (string, error) { return "ok", nil }},
	}, nil, discard(), "test")

	v, ok := ex.Execute(context.Background())
	if !ok || v != "ok" {
		t.Fatalf("Execute = (%q, %v), want (ok, true)", v, ok)
	}
}

func TestEmptyResultCountsAsFailure(t *testing.T) {
	ex := New([]Attempt[[]int]{
		{Name: "empty", Fn: func(ctx context.Context) ([]int, error) { return nil, nil }},
		{Name: "full", Fn: func(ctx context.Context) ([]int, error) { return []int{7}, nil }},
	}, func(v []int) bool { return len(v) == 0 }, discard(), "test")

	v, ok := ex.Execute(context.Background())
	if !ok || len(v) != 1 || v[0] != 7 {
		t.Fatalf("Execute = (%v, %v), want ([7], true)", v, ok)
	}
}

func TestAllFail(t *testing.T) {
	ex := New([]Attempt[int]{
		{Name: "a", Fn: func(ctx context.Context) (int, error) { return 0, errors.New("a") }},
		{Name: "b", Fn: func(ctx context.Context) (int, error) { return 0, errors.New("b") }},
	}, nil, discard(), "test")

	if _, ok := ex.Execute(context.Background()); ok {
		t.Fatal("Execute should report failure when every attempt errors")
	}
}

func TestStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	ex := New([]Attempt[int]{
		{Name: "a", Fn: func(ctx context.Context) (int, error) { ran = true; return 1, nil }},
	}, nil, discard(), "test")

	if _, ok := ex.Execute(ctx); ok {
		t.Fatal("Execute should fail on canceled context")
	}
	if ran {
		t.Error("attempt should not run after cancellation")
	}
}
