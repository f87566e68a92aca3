package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "800ms" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	APIBaseURL           string           `json:"api_base_url"`
	DatabaseDSN          string           `json:"database_dsn"`
	SyncInterval         timex.Duration   `json:"sync_interval"`
	OnlineCheckInterval  timex.Duration   `json:"online_check_interval"`
	DebounceDelay        timex.Duration   `json:"debounce_delay"`
	PeriodicSaveInterval timex.Duration   `json:"periodic_save_interval"`
	RetryDelays          []timex.Duration `json:"retry_delays"`
	RequestTimeout       timex.Duration   `json:"request_timeout"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Behavior:
//   - Reads and unmarshals the JSON into JsonConfig.
//   - Copies set fields into the provided Config; absent fields keep
//     their defaults.
//   - Panics on read or unmarshal errors (caller should recover if desired).
//
// Intended usage is: defaults -> parseJson -> parseFlags, where later stages
// override earlier ones.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.APIBaseURL != "" {
		cfg.APIBaseURL = jc.APIBaseURL
	}
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.SyncInterval.Duration != 0 {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}
	if jc.OnlineCheckInterval.Duration != 0 {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
	if jc.DebounceDelay.Duration != 0 {
		cfg.DebounceDelay = time.Duration(jc.DebounceDelay.Duration)
	}
	if jc.PeriodicSaveInterval.Duration != 0 {
		cfg.PeriodicSaveInterval = time.Duration(jc.PeriodicSaveInterval.Duration)
	}
	if len(jc.RetryDelays) > 0 {
		delays := make([]time.Duration, 0, len(jc.RetryDelays))
		for _, d := range jc.RetryDelays {
			delays = append(delays, time.Duration(d.Duration))
		}
		cfg.RetryDelays = delays
	}
	if jc.RequestTimeout.Duration != 0 {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
	}
}
