package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`

	QueuePollMs     int `yaml:"queue_poll_ms"`
	MaxRetries      int `yaml:"max_retries"`
	RetryBackoffSec int `yaml:"retry_backoff_sec"`

	CityFeeBps int64 `yaml:"city_fee_bps"`

	SegmentDurationTicks uint64 `yaml:"segment_duration_ticks"`
	RestDurationTicks    uint64 `yaml:"rest_duration_ticks"`

	// Energy cost per work tier (index 0 = tier 1).
	WorkEnergyCosts []int `yaml:"work_energy_costs"`

	EatHungerRestore int `yaml:"eat_hunger_restore"`
}

func Defaults() Tuning {
	return Tuning{
		TickIntervalMs:       1000,
		QueuePollMs:          1000,
		MaxRetries:           5,
		RetryBackoffSec:      5,
		CityFeeBps:           100,
		SegmentDurationTicks: 240,
		RestDurationTicks:    120,
		WorkEnergyCosts:      []int{10, 20, 30},
		EatHungerRestore:     30,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// WorkEnergyCost returns the cost for a 1-based tier, clamped to the table.
func (t Tuning) WorkEnergyCost(tier int) int {
	if len(t.WorkEnergyCosts) == 0 {
		return 0
	}
	if tier < 1 {
		tier = 1
	}
	if tier > len(t.WorkEnergyCosts) {
		tier = len(t.WorkEnergyCosts)
	}
	return t.WorkEnergyCosts[tier-1]
}
