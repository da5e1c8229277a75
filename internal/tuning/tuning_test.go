package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("max_retries: 8\ncity_fee_bps: 300\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tune, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tune.MaxRetries != 8 || tune.CityFeeBps != 300 {
		t.Fatalf("overrides not applied: %+v", tune)
	}
	def := Defaults()
	if tune.SegmentDurationTicks != def.SegmentDurationTicks || tune.RetryBackoffSec != def.RetryBackoffSec {
		t.Fatalf("defaults lost: %+v", tune)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("max_retries: [not an int\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("bad yaml accepted")
	}
}

func TestWorkEnergyCost_Clamped(t *testing.T) {
	tune := Defaults()
	cases := []struct{ tier, want int }{
		{0, 10}, {1, 10}, {2, 20}, {3, 30}, {4, 30},
	}
	for _, c := range cases {
		if got := tune.WorkEnergyCost(c.tier); got != c.want {
			t.Fatalf("tier %d: got %d, want %d", c.tier, got, c.want)
		}
	}
	if got := (Tuning{}).WorkEnergyCost(1); got != 0 {
		t.Fatalf("empty table cost = %d", got)
	}
}
