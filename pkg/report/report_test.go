package report

import (
	"strings"
	"testing"
	"time"
)

func TestAddErrorRouting(t *testing.T) {
	r := New(false)
	r.AddError("ep", KindRequestError)
	r.AddError("ep", "success")
	r.AddError("ep", "bogus")
	if r.RequestErrors["ep"] != 1 {
		t.Fatalf("expected exactly one request error, got %d", r.RequestErrors["ep"])
	}
	if len(r.Success) != 0 {
		t.Fatalf("routing 'success' through add_error must be a no-op, got %v", r.Success)
	}
}

func TestMergeAssociativeCommutative(t *testing.T) {
	a := New(false)
	a.AddSuccess("ep", 10*time.Millisecond)
	a.AddError("ep", KindRequestError)
	b := New(false)
	b.AddSuccess("ep", 20*time.Millisecond)
	b.AddStatistics("n", 3)
	c := New(false)
	c.AddError("ep", KindOtherError)

	left := a.Add(b).Add(c)
	right := a.Add(b.Add(c))
	if left.Success["ep"].Count != right.Success["ep"].Count || left.Success["ep"].Time != right.Success["ep"].Time {
		t.Fatalf("merge is not associative: %v vs %v", left.Success["ep"], right.Success["ep"])
	}

	ab := a.Add(b)
	ba := b.Add(a)
	if ab.Success["ep"].Count != ba.Success["ep"].Count || ab.Success["ep"].Time != ba.Success["ep"].Time {
		t.Fatalf("merge is not commutative: %v vs %v", ab.Success["ep"], ba.Success["ep"])
	}
}

func TestMergeIdentity(t *testing.T) {
	a := New(false)
	a.AddSuccess("ep", 5*time.Millisecond)
	empty := New(false)
	sum := a.Add(empty)
	if sum.Success["ep"].Count != a.Success["ep"].Count || sum.Success["ep"].Time != a.Success["ep"].Time {
		t.Fatalf("A + empty != A: %v vs %v", sum.Success["ep"], a.Success["ep"])
	}
}

func TestSubtractZeroesSelf(t *testing.T) {
	a := New(false)
	a.AddSuccess("ep", 5*time.Millisecond)
	a.AddError("ep", KindRequestError)
	diff := a.Subtract(a)
	if diff.Success["ep"].Count != 0 || diff.Success["ep"].Time != 0 {
		t.Fatalf("A - A should zero the success counters, got %+v", diff.Success["ep"])
	}
	if diff.RequestErrors["ep"] != 0 {
		t.Fatalf("A - A should zero error counters, got %d", diff.RequestErrors["ep"])
	}
}

func TestScaleDistributesOverSum(t *testing.T) {
	a := New(false)
	a.AddError("ep", KindRequestError)
	a.AddError("ep", KindRequestError)
	b := New(false)
	b.AddError("ep", KindRequestError)

	left := a.Add(b).Scale(2)
	right := a.Scale(2).Add(b.Scale(2))
	if left.RequestErrors["ep"] != right.RequestErrors["ep"] {
		t.Fatalf("k*(A+B) != k*A + k*B: %d vs %d", left.RequestErrors["ep"], right.RequestErrors["ep"])
	}
}

func TestRoundTrip(t *testing.T) {
	r := New(false)
	r.AddSuccess("ep1", 12*time.Millisecond)
	r.AddSuccess("ep1", 8*time.Millisecond)
	r.AddError("ep2", KindRequestError)
	r.AddError("ep2", KindMonitoredError)
	r.AddError("ep3", KindOtherError)
	r.AddStatistics("retries", 4)

	m := r.ToMap()
	back, err := FromMap(m)
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	if back.Success["ep1"].Count != r.Success["ep1"].Count {
		t.Fatalf("round-trip changed success count: %+v vs %+v", back.Success["ep1"], r.Success["ep1"])
	}
	if back.RequestErrors["ep2"] != r.RequestErrors["ep2"] {
		t.Fatalf("round-trip changed request errors")
	}
	if back.Statistics["retries"] != 4 {
		t.Fatalf("round-trip changed statistics")
	}
}

func TestFromMapToleratesMissingAndUnknownSections(t *testing.T) {
	r, err := FromMap(map[string]any{
		"success":     map[string]any{"ep": map[string]any{"count": 2, "time": 0.2}},
		"made up key": map[string]any{"ignored": 1},
	})
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	if r.Success["ep"].Count != 2 {
		t.Fatalf("expected success section to decode, got %+v", r.Success["ep"])
	}
	if len(r.RequestErrors) != 0 {
		t.Fatalf("missing sections should decode empty, got %v", r.RequestErrors)
	}
}

func TestDetailedVariantConcatenatesDurations(t *testing.T) {
	a := New(true)
	a.AddSuccess("ep", 1*time.Millisecond)
	b := New(true)
	b.AddSuccess("ep", 2*time.Millisecond)
	sum := a.Add(b)
	if len(sum.Success["ep"].Durations) != 2 {
		t.Fatalf("expected 2 concatenated durations, got %d", len(sum.Success["ep"].Durations))
	}
}

func TestAccumulatorSnapshotAndReset(t *testing.T) {
	acc := NewAccumulator(false)
	acc.AddSuccess("ep", 1*time.Millisecond)
	snap := acc.SnapshotAndReset()
	if snap.Success["ep"].Count != 1 {
		t.Fatalf("expected snapshot to carry the accumulated success")
	}
	if !acc.IsEmpty() {
		t.Fatalf("expected accumulator to be empty after reset")
	}
}

func TestAccumulatorConcurrentWriters(t *testing.T) {
	acc := NewAccumulator(false)
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func() {
			acc.AddSuccess("ep", time.Millisecond)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	snap := acc.Snapshot()
	if snap.Success["ep"].Count != 50 {
		t.Fatalf("expected 50 concurrent successes recorded, got %d", snap.Success["ep"].Count)
	}
}

func TestStringRendersCorrectAverageForDetailedReport(t *testing.T) {
	r := New(true)
	r.AddSuccess("ep", 10*time.Millisecond)
	r.AddSuccess("ep", 30*time.Millisecond)
	out := r.String()
	if !strings.Contains(out, "avg 20.000ms") {
		t.Fatalf("expected detailed report average of 20ms, got %q", out)
	}
}
