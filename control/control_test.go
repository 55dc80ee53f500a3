package control

import "testing"

// TestMetricsFlowThroughDebugProbe exercises the same path
// program.Run wires at shutdown: a probe closure reading back whatever
// MetricsRegistry.Set accumulated, surfaced through DumpState.
func TestMetricsFlowThroughDebugProbe(t *testing.T) {
	metrics := NewMetricsRegistry()
	debug := NewDebugProbes()
	debug.RegisterProbe("metrics", func() any { return metrics.GetSnapshot() })

	metrics.Set("unmatched_supply", 0)
	metrics.Set("unmatched_demand", 3)
	metrics.Set("tracked_descriptors", 5)

	dump := debug.DumpState()
	snapshot, ok := dump["metrics"].(map[string]any)
	if !ok {
		t.Fatalf("expected a metrics snapshot in DumpState, got %#v", dump["metrics"])
	}
	if snapshot["unmatched_demand"] != 3 {
		t.Fatalf("expected unmatched_demand=3 in the snapshot, got %v", snapshot["unmatched_demand"])
	}
	if snapshot["tracked_descriptors"] != 5 {
		t.Fatalf("expected tracked_descriptors=5 in the snapshot, got %v", snapshot["tracked_descriptors"])
	}

	// GetSnapshot copies; mutating the registry afterward must not
	// retroactively change a snapshot already handed out.
	metrics.Set("unmatched_demand", 0)
	if snapshot["unmatched_demand"] != 3 {
		t.Fatalf("snapshot should be a copy, but it observed the later Set")
	}
}
