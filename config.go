package axiomme

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"
)

// Config holds all configuration options for a Runtime (spec.md §7, §3
// IndexProfileStamp).
type Config struct {
	BaseDir string `json:"base_dir"` //nolint:tagliatelle

	SearchStackVersion string `json:"search_stack_version,omitempty"` //nolint:tagliatelle
	EmbedderProvider   string `json:"embedder_provider,omitempty"`    //nolint:tagliatelle
	EmbedderVersion    string `json:"embedder_version,omitempty"`     //nolint:tagliatelle
	EmbedderDim        int    `json:"embedder_dim,omitempty"`         //nolint:tagliatelle
	VectorBackend      string `json:"vector_backend,omitempty"`       //nolint:tagliatelle

	IndexTruncationCap int `json:"index_truncation_cap,omitempty"` //nolint:tagliatelle
	DefaultFindLimit   int `json:"default_find_limit,omitempty"`   //nolint:tagliatelle

	QueueReplayLimit    int           `json:"queue_replay_limit,omitempty"`    //nolint:tagliatelle
	QueueBackoffBase    time.Duration `json:"-"`
	QueueMaxAttempts    int           `json:"queue_max_attempts,omitempty"`    //nolint:tagliatelle
	QueueLeaseWindowSec int           `json:"queue_lease_window_sec,omitempty"` //nolint:tagliatelle

	IngestTimeout time.Duration `json:"-"`
}

// ConfigFileName is the default on-disk config override file name.
const ConfigFileName = ".axiomme.json"

// vectorBackends is the closed set of accepted vector_backend tokens.
// "none" is the only backend this core ships wired end-to-end; other
// tokens are accepted so callers can stage a config for a future
// embedding-provider collaborator (out of scope per spec.md §1) without
// the runtime itself depending on one.
var vectorBackends = map[string]bool{
	"none":   true,
	"memory": true,
}

var (
	errConfigFileRead   = errors.New("cannot read config file")
	errConfigInvalid    = errors.New("invalid config file")
	errBaseDirEmpty     = errors.New("base_dir cannot be empty")
	errVectorBackendBad = errors.New("unknown vector_backend")
)

// DefaultConfig returns the default configuration rooted at baseDir.
func DefaultConfig(baseDir string) Config {
	return Config{
		BaseDir:             baseDir,
		SearchStackVersion:  "v1",
		EmbedderProvider:    "none",
		EmbedderVersion:     "v0",
		EmbedderDim:         0,
		VectorBackend:       "none",
		IndexTruncationCap:  32768,
		DefaultFindLimit:    20,
		QueueReplayLimit:    64,
		QueueBackoffBase:    2 * time.Second,
		QueueMaxAttempts:    8,
		QueueLeaseWindowSec: 90,
		IngestTimeout:       30 * time.Second,
	}
}

// LoadConfig builds a Config for baseDir, applying defaults and then an
// optional on-disk JSON/HUJSON override file (tolerant of comments/trailing
// commas via github.com/tailscale/hujson), per SPEC_FULL.md §1. overridePath
// empty means look for ConfigFileName under baseDir, and defaults are
// returned unmodified when that file does not exist; a non-empty
// overridePath that cannot be read is an error.
func LoadConfig(baseDir, overridePath string) (Config, error) {
	cfg := DefaultConfig(baseDir)

	path := overridePath
	if path == "" {
		path = filepath.Join(baseDir, ConfigFileName)
	}

	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) && overridePath == "" {
			if verr := cfg.Validate(); verr != nil {
				return Config{}, verr
			}

			return cfg, nil
		}

		return Config{}, fmt.Errorf("%w: %s", errConfigFileRead, path)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	var overlay Config

	if err := json.Unmarshal(standardized, &overlay); err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	cfg = mergeConfig(cfg, overlay)
	cfg.BaseDir = baseDir

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.SearchStackVersion != "" {
		base.SearchStackVersion = overlay.SearchStackVersion
	}

	if overlay.EmbedderProvider != "" {
		base.EmbedderProvider = overlay.EmbedderProvider
	}

	if overlay.EmbedderVersion != "" {
		base.EmbedderVersion = overlay.EmbedderVersion
	}

	if overlay.EmbedderDim != 0 {
		base.EmbedderDim = overlay.EmbedderDim
	}

	if overlay.VectorBackend != "" {
		base.VectorBackend = overlay.VectorBackend
	}

	if overlay.IndexTruncationCap != 0 {
		base.IndexTruncationCap = overlay.IndexTruncationCap
	}

	if overlay.DefaultFindLimit != 0 {
		base.DefaultFindLimit = overlay.DefaultFindLimit
	}

	if overlay.QueueReplayLimit != 0 {
		base.QueueReplayLimit = overlay.QueueReplayLimit
	}

	if overlay.QueueMaxAttempts != 0 {
		base.QueueMaxAttempts = overlay.QueueMaxAttempts
	}

	if overlay.QueueLeaseWindowSec != 0 {
		base.QueueLeaseWindowSec = overlay.QueueLeaseWindowSec
	}

	return base
}

// Validate fails fast on a config that the runtime cannot open with (spec.md
// §7: an unknown vector_backend or empty base_dir must not surface as a
// later, harder-to-diagnose failure).
func (c Config) Validate() error {
	if c.BaseDir == "" {
		return errBaseDirEmpty
	}

	if !vectorBackends[c.VectorBackend] {
		return fmt.Errorf("%w: %q", errVectorBackendBad, c.VectorBackend)
	}

	return nil
}
