package registrychecker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeRegistry struct {
	populated bool
	n         int
}

func (f fakeRegistry) Populated() bool { return f.populated }
func (f fakeRegistry) Len() int        { return f.n }

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckerListChecks(t *testing.T) {
	t.Parallel()

	checker := NewChecker(newTestLogger(), fakeRegistry{populated: true, n: 4}, fakePinger{})
	items := checker.ListChecks(context.Background())
	if len(items) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(items))
	}
	for _, item := range items {
		if item.Status != "ok" {
			t.Fatalf("expected ok for %s, got %s", item.ID, item.Status)
		}
	}
	if items[0].Metadata["threads"] != 4 {
		t.Fatalf("expected thread count metadata, got %v", items[0].Metadata)
	}
}

func TestCheckerNotPopulatedAndStoreDown(t *testing.T) {
	t.Parallel()

	checker := NewChecker(newTestLogger(), fakeRegistry{}, fakePinger{err: errors.New("database is locked")})
	items := checker.ListChecks(context.Background())
	if len(items) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(items))
	}
	if items[0].Status != "warn" {
		t.Fatalf("expected warn for registry, got %s", items[0].Status)
	}
	if items[1].Status != "error" || items[1].Detail != "database is locked" {
		t.Fatalf("unexpected store check: %+v", items[1])
	}
}

func TestCheckerWithoutStore(t *testing.T) {
	t.Parallel()

	checker := NewChecker(nil, nil, nil)
	items := checker.ListChecks(context.Background())
	if len(items) != 1 {
		t.Fatalf("expected 1 check, got %d", len(items))
	}
}
