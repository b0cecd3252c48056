package macro

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type fakeProvider struct {
	name  string
	value float64
	err   error
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Fetch(ctx context.Context, metric string) (float64, time.Time, error) {
	if f.err != nil {
		return 0, time.Time{}, f.err
	}
	return f.value, time.Now(), nil
}

func TestGetCompositeFallsBackToSecondProvider(t *testing.T) {
	chains := map[string][]Provider{
		MetricVIX: {&fakeProvider{name: "primary", err: fmt.Errorf("timeout")}, &fakeProvider{name: "fallback", value: 18}},
	}
	agg := New(chains)
	comp, err := agg.GetComposite(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reading, ok := comp.Readings[MetricVIX]
	if !ok {
		t.Fatal("expected a VIX reading from the fallback provider")
	}
	if reading.Source != "fallback" {
		t.Fatalf("expected the fallback provider to win, got %s", reading.Source)
	}
	if reading.Level != "normal" {
		t.Fatalf("expected 'normal' level for VIX=18, got %s", reading.Level)
	}
}

func TestGetCompositeRecordsErrorWhenChainExhausted(t *testing.T) {
	chains := map[string][]Provider{
		MetricDXY: {&fakeProvider{name: "only", err: fmt.Errorf("unavailable")}},
	}
	agg := New(chains)
	comp, err := agg.GetComposite(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := comp.Readings[MetricDXY]; ok {
		t.Fatal("expected no DXY reading when the chain is exhausted")
	}
	if comp.Errors[MetricDXY] == "" {
		t.Fatal("expected an error recorded for DXY")
	}
}

func TestGetCompositeIsCachedAcrossCalls(t *testing.T) {
	p := &fakeProvider{name: "p", value: 50}
	chains := map[string][]Provider{MetricFearGreed: {p}}
	agg := New(chains)

	first, _ := agg.GetComposite(context.Background())
	p.value = 90 // mutate the upstream; cached composite must not reflect it
	second, _ := agg.GetComposite(context.Background())

	if second.Readings[MetricFearGreed].Value != first.Readings[MetricFearGreed].Value {
		t.Fatalf("expected the 6-hour cache to serve the first snapshot, got %v vs %v",
			first.Readings[MetricFearGreed].Value, second.Readings[MetricFearGreed].Value)
	}
}

func TestInterpretLevelThresholds(t *testing.T) {
	cases := []struct {
		metric string
		value  float64
		level  string
	}{
		{MetricVIX, 10, "low"},
		{MetricVIX, 40, "extreme"},
		{MetricYieldSpread, -0.1, "inverted"},
		{MetricFearGreed, 10, "extreme_fear"},
		{MetricFearGreed, 90, "extreme_greed"},
		{MetricVIXTermSlope, -1, "backwardated"},
	}
	for _, c := range cases {
		level, _ := interpret(c.metric, c.value)
		if level != c.level {
			t.Errorf("interpret(%s, %v) level = %s, want %s", c.metric, c.value, level, c.level)
		}
	}
}
