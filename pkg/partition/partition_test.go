package partition

import (
	"testing"
)

// spec.md §8 scenario 1 asserts K=2, {125,125} for these inputs, but that
// contradicts §3's own formula: 250 < slots*min (8*100=800), so the
// "N < slots*min" branch applies, giving K=ceil(250/100)=3, not 2. The
// implementation and original_source's overmind.py (ceil(hatchlings/min),
// lines 212-213) both produce 3. This asserts the formula-consistent
// result rather than the scenario's inconsistent prose.
func TestScenarioOne(t *testing.T) {
	k := RequiredColonyCount(250, 8, 100, 200)
	if k != 3 {
		t.Fatalf("expected K=3, got %d", k)
	}
	plan := Plan(250, 8, 100, 200)
	assertPlan(t, plan, 3, 250)
	if plan[0] != 83 || plan[1] != 83 || plan[2] != 84 {
		t.Fatalf("expected {83,83,84}, got %v", plan)
	}
}

func TestScenarioTwo(t *testing.T) {
	k := RequiredColonyCount(5000, 8, 100, 200)
	if k != 8 {
		t.Fatalf("expected K=8, got %d", k)
	}
	plan := Plan(5000, 8, 100, 200)
	assertPlan(t, plan, 8, 5000)
	for _, v := range plan {
		if v != 625 {
			t.Fatalf("expected all entries == 625 (5000 mod 8 == 0), got %v", plan)
		}
	}
}

func TestPartitionCorrectnessProperty(t *testing.T) {
	cases := []struct{ n, slots int }{
		{0, 8}, {1, 1}, {1, 8}, {7, 8}, {8, 8}, {9, 8},
		{100, 1}, {100, 8}, {101, 8}, {999, 16}, {1, 100},
	}
	for _, c := range cases {
		k := RequiredColonyCount(c.n, c.slots, 100, 200)
		if k > c.slots {
			t.Fatalf("n=%d slots=%d: K=%d exceeds slots", c.n, c.slots, k)
		}
		if k < 1 {
			t.Fatalf("n=%d slots=%d: K=%d must be >= 1", c.n, c.slots, k)
		}
		plan := Plan(c.n, c.slots, 100, 200)
		assertPlan(t, plan, k, c.n)
	}
}

func assertPlan(t *testing.T, plan []int, k, n int) {
	t.Helper()
	if len(plan) != k {
		t.Fatalf("expected plan length %d, got %d (%v)", k, len(plan), plan)
	}
	sum := 0
	min, max := -1, -1
	for _, v := range plan {
		sum += v
		if min == -1 || v < min {
			min = v
		}
		if max == -1 || v > max {
			max = v
		}
	}
	if sum != n {
		t.Fatalf("expected plan to sum to %d, got %d (%v)", n, sum, plan)
	}
	if max-min > 1 {
		t.Fatalf("plan entries must differ by at most 1, got %v", plan)
	}
}
