package governor

import "testing"

// fixed returns a governor whose snapshot is pinned to the given values.
func fixed(cpus int, memPct, load float64) *Governor {
	g := New(85, 0.8)
	g.snapshotFn = func() Snapshot {
		return Snapshot{
			CPUCount:        cpus,
			SystemMemoryPct: memPct,
			LoadAvg1m:       load,
		}
	}
	return g
}

func TestMaxSafeAgents(t *testing.T) {
	tests := []struct {
		name   string
		cpus   int
		memPct float64
		load   float64
		want   int
	}{
		{"idle 8 cpus", 8, 40, 1.0, 6},
		{"idle 16 cpus", 16, 40, 1.0, 12},
		{"base budget floors", 10, 40, 1.0, 7}, // floor(10*0.75)
		{"memory pressure halves", 8, 90, 1.0, 3},
		{"load pressure cuts quarter", 8, 40, 7.0, 4}, // floor(6*0.75)
		{"memory wins over load", 8, 90, 7.0, 3},      // penalties never stack
		{"floor of one", 1, 95, 9.0, 1},
		{"two cpus under memory pressure", 2, 95, 0.5, 1},
		{"unknown memory is no penalty", 8, 0, 1.0, 6},
		{"threshold is exclusive", 8, 85, 1.0, 6},   // pct == threshold is not over
		{"load threshold exclusive", 8, 40, 6.4, 6}, // load == cpus*0.8 is not over
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fixed(tt.cpus, tt.memPct, tt.load).MaxSafeAgents()
			if got != tt.want {
				t.Errorf("MaxSafeAgents() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMaxSafeAgents_NeverBelowOne(t *testing.T) {
	for cpus := 1; cpus <= 4; cpus++ {
		got := fixed(cpus, 99, 99).MaxSafeAgents()
		if got < 1 {
			t.Fatalf("cpus=%d: budget %d below 1", cpus, got)
		}
	}
}

func TestNew_DefaultThresholds(t *testing.T) {
	g := New(0, 0)
	if g.MemThresholdPct != 85 {
		t.Errorf("MemThresholdPct = %v, want 85", g.MemThresholdPct)
	}
	if g.CPUThresholdMultiplier != 0.8 {
		t.Errorf("CPUThresholdMultiplier = %v, want 0.8", g.CPUThresholdMultiplier)
	}
}

func TestTakeSnapshot_SaneValues(t *testing.T) {
	snap := TakeSnapshot()
	if snap.CPUCount < 1 {
		t.Errorf("CPUCount = %d", snap.CPUCount)
	}
	if snap.SystemMemoryPct < 0 || snap.SystemMemoryPct > 100 {
		t.Errorf("SystemMemoryPct = %v out of range", snap.SystemMemoryPct)
	}
}
