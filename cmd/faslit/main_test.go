package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/faslit/internal/monitoring"
	"github.com/banshee-data/faslit/internal/navigator"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestSplitBrokers(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"kafka:9092", []string{"kafka:9092"}},
		{" a:1 , ,b:2,", []string{"a:1", "b:2"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, splitBrokers(tt.in)); diff != "" {
			t.Errorf("splitBrokers(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\"): %v", err)
	}
	if got := cfg.GetVehicleID(); got != "vehicle_001" {
		t.Errorf("default vehicle id = %q", got)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "vehicle.json")
	if err := os.WriteFile(path, []byte(`{"vehicle_id": "van_7", "home_location": [10, 20, 0]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig(%s): %v", path, err)
	}
	if got := cfg.GetVehicleID(); got != "van_7" {
		t.Errorf("vehicle id = %q, want van_7", got)
	}

	if _, err := loadConfig(filepath.Join(dir, "vehicle.yaml")); err == nil {
		t.Error("expected error for non-json config")
	}
}

func TestReplayObservations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixtures.jsonl")
	data := `# two sightings of one accident, one of debris
{"actor_tag": "accident", "is_visible": true, "location": {"x": 500, "y": 0, "z": 0}, "timestamp": "2026-03-14T09:00:00Z"}

{"actor_tag": "accident", "is_visible": true, "location": {"x": 510, "y": 0, "z": 0}, "timestamp": "2026-03-14T09:00:01Z"}
{"actor_tag": "debris", "is_visible": true, "location": {"x": 2000, "y": 0, "z": 0}, "timestamp": "2026-03-14T09:00:02Z"}
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	nav := navigator.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- nav.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	n, err := replayObservations(ctx, nav, path)
	if err != nil {
		t.Fatalf("replayObservations: %v", err)
	}
	if n != 3 {
		t.Errorf("replayed %d observations, want 3", n)
	}

	s, err := nav.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Tracks) != 2 {
		t.Errorf("tracks = %d, want 2", len(s.Tracks))
	}

	bad := filepath.Join(dir, "bad.jsonl")
	if err := os.WriteFile(bad, []byte("{not json}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := replayObservations(ctx, nav, bad); err == nil {
		t.Error("expected error for malformed line")
	}
	if _, err := replayObservations(ctx, nav, filepath.Join(dir, "missing.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}
