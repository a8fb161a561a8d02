package healthcheck

import (
	"context"
	"testing"
)

type testChecker struct {
	items []CheckResult
}

func (c *testChecker) ListChecks(ctx context.Context) []CheckResult {
	return c.items
}

func TestAggregatorListChecks(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(
		&testChecker{items: []CheckResult{{ID: "transport.connection", Status: StatusOK}}},
		nil,
		&testChecker{items: []CheckResult{
			{ID: "registry.populated", Status: StatusOK},
			{ID: "registry.store", Status: StatusWarn},
		}},
	)

	items := agg.ListChecks(context.Background())
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].ID != "transport.connection" {
		t.Fatalf("unexpected id: %s", items[0].ID)
	}
	if got := Overall(items); got != StatusWarn {
		t.Fatalf("expected warn, got %s", got)
	}
}

func TestAggregatorNil(t *testing.T) {
	t.Parallel()

	var agg *Aggregator
	items := agg.ListChecks(context.Background())
	if len(items) != 0 {
		t.Fatalf("expected empty items, got %d", len(items))
	}
}

func TestOverall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		items []CheckResult
		want  string
	}{
		{name: "empty", want: StatusUnknown},
		{name: "all ok", items: []CheckResult{{Status: StatusOK}, {Status: StatusOK}}, want: StatusOK},
		{name: "unknown degrades", items: []CheckResult{{Status: StatusOK}, {Status: StatusUnknown}}, want: StatusWarn},
		{name: "error wins", items: []CheckResult{{Status: StatusWarn}, {Status: StatusError}}, want: StatusError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Overall(tt.items); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
