package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Marketen/randao-duties/internal/application/domain"
	"github.com/Marketen/randao-duties/internal/application/randao"
	"github.com/Marketen/randao-duties/internal/application/shuffle"

	"gopkg.in/yaml.v2"
)

// Config holds runtime configuration for the randao-duties service.
type Config struct {
	// BeaconNodeURL is optional; without it the service runs offline.
	BeaconNodeURL    string
	PollInterval     time.Duration
	ValidatorIndices []domain.ValidatorIndex

	// ValidatorCount is the registry size used when no beacon node is configured.
	ValidatorCount uint64
	// CommitteesPerSlot defaults to MaxCommitteesPerSlot; 0 derives the count from the validator count.
	CommitteesPerSlot uint64
	SlotsPerEpoch     uint64
	SyncCommitteeSize uint64

	ShuffleAlgorithm shuffle.Algorithm
	ThresholdPolicy  randao.ThresholdPolicy
	RemainderPolicy  shuffle.RemainderPolicy

	// GroupPublicKey enables threshold signature ingestion when set.
	GroupPublicKey *domain.BLSPubKey
	// ThresholdSigDir is polled for "<epoch>.sig" files; requires GroupPublicKey.
	ThresholdSigDir string

	MixDBPath   string
	MetricsAddr string
}

// fileConfig is the YAML shape read from CONFIG_FILE. Environment variables take precedence.
type fileConfig struct {
	BeaconNodeURL       string   `yaml:"beacon_node_url"`
	PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
	ValidatorIndices    []uint64 `yaml:"validator_indices"`
	ValidatorCount      uint64   `yaml:"validator_count"`
	CommitteesPerSlot   uint64   `yaml:"committees_per_slot"`
	SlotsPerEpoch       uint64   `yaml:"slots_per_epoch"`
	SyncCommitteeSize   uint64   `yaml:"sync_committee_size"`
	ShuffleAlgorithm    string   `yaml:"shuffle_algorithm"`
	ThresholdPolicy     string   `yaml:"threshold_policy"`
	RemainderPolicy     string   `yaml:"remainder_policy"`
	GroupPublicKey      string   `yaml:"group_public_key"`
	ThresholdSigDir     string   `yaml:"threshold_sig_dir"`
	MixDBPath           string   `yaml:"mix_db_path"`
	MetricsAddr         string   `yaml:"metrics_addr"`
}

// Load reads configuration from CONFIG_FILE (if set) and environment variables.
func Load() (*Config, error) {
	var fc fileConfig
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read CONFIG_FILE: %w", err)
		}
		if err := yaml.UnmarshalStrict(raw, &fc); err != nil {
			return nil, fmt.Errorf("invalid CONFIG_FILE %s: %w", path, err)
		}
	}
	return build(fc, os.Getenv)
}

func pick(getenv func(string) string, key, fromFile string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(fromFile)
}

func pickUint(getenv func(string) string, key string, fromFile, def uint64) (uint64, error) {
	s := strings.TrimSpace(getenv(key))
	if s == "" {
		if fromFile != 0 {
			return fromFile, nil
		}
		return def, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func build(fc fileConfig, getenv func(string) string) (*Config, error) {
	cfg := &Config{
		BeaconNodeURL:   pick(getenv, "BEACON_NODE_URL", fc.BeaconNodeURL),
		MixDBPath:       pick(getenv, "MIX_DB_PATH", fc.MixDBPath),
		MetricsAddr:     pick(getenv, "METRICS_ADDR", fc.MetricsAddr),
		ThresholdSigDir: pick(getenv, "THRESHOLD_SIG_DIR", fc.ThresholdSigDir),
	}

	intervalStr := strings.TrimSpace(getenv("POLL_INTERVAL_SECONDS"))
	if intervalStr == "" {
		intervalStr = "60"
		if fc.PollIntervalSeconds != 0 {
			intervalStr = strconv.Itoa(fc.PollIntervalSeconds)
		}
	}
	sec, err := strconv.Atoi(intervalStr)
	if err != nil || sec <= 0 {
		return nil, fmt.Errorf("invalid POLL_INTERVAL_SECONDS: %q", intervalStr)
	}
	cfg.PollInterval = time.Duration(sec) * time.Second

	if cfg.ValidatorCount, err = pickUint(getenv, "VALIDATOR_COUNT", fc.ValidatorCount, 16384); err != nil {
		return nil, err
	}
	if cfg.CommitteesPerSlot, err = pickUint(getenv, "COMMITTEES_PER_SLOT", fc.CommitteesPerSlot, domain.MaxCommitteesPerSlot); err != nil {
		return nil, err
	}
	if cfg.CommitteesPerSlot > domain.MaxCommitteesPerSlot {
		return nil, fmt.Errorf("COMMITTEES_PER_SLOT must be at most %d", domain.MaxCommitteesPerSlot)
	}
	if cfg.SlotsPerEpoch, err = pickUint(getenv, "SLOTS_PER_EPOCH", fc.SlotsPerEpoch, domain.SlotsPerEpoch); err != nil {
		return nil, err
	}
	if cfg.SlotsPerEpoch == 0 || cfg.SlotsPerEpoch > domain.MaxSlotsPerEpoch {
		return nil, fmt.Errorf("SLOTS_PER_EPOCH must be between 1 and %d", domain.MaxSlotsPerEpoch)
	}
	if cfg.SyncCommitteeSize, err = pickUint(getenv, "SYNC_COMMITTEE_SIZE", fc.SyncCommitteeSize, domain.SyncCommitteeSize); err != nil {
		return nil, err
	}

	if cfg.ShuffleAlgorithm, err = shuffle.ParseAlgorithm(pick(getenv, "SHUFFLE_ALGORITHM", fc.ShuffleAlgorithm)); err != nil {
		return nil, fmt.Errorf("invalid SHUFFLE_ALGORITHM: %w", err)
	}
	if cfg.ThresholdPolicy, err = randao.ParseThresholdPolicy(pick(getenv, "THRESHOLD_POLICY", fc.ThresholdPolicy)); err != nil {
		return nil, fmt.Errorf("invalid THRESHOLD_POLICY: %w", err)
	}
	if cfg.RemainderPolicy, err = shuffle.ParseRemainderPolicy(pick(getenv, "REMAINDER_POLICY", fc.RemainderPolicy)); err != nil {
		return nil, fmt.Errorf("invalid REMAINDER_POLICY: %w", err)
	}

	if hexKey := pick(getenv, "GROUP_PUBLIC_KEY", fc.GroupPublicKey); hexKey != "" {
		pk, err := ParsePubkey(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid GROUP_PUBLIC_KEY: %w", err)
		}
		cfg.GroupPublicKey = &pk
	}
	if cfg.ThresholdSigDir != "" && cfg.GroupPublicKey == nil {
		return nil, fmt.Errorf("THRESHOLD_SIG_DIR requires GROUP_PUBLIC_KEY")
	}

	// VALIDATOR_INDICES is optional; empty means "report on every validator".
	if valStr := strings.TrimSpace(getenv("VALIDATOR_INDICES")); valStr != "" {
		indices, err := parseIndices(valStr)
		if err != nil {
			return nil, err
		}
		cfg.ValidatorIndices = indices
	} else {
		for _, n := range fc.ValidatorIndices {
			cfg.ValidatorIndices = append(cfg.ValidatorIndices, domain.ValidatorIndex(n))
		}
	}

	return cfg, nil
}

func parseIndices(valStr string) ([]domain.ValidatorIndex, error) {
	rawParts := strings.Split(valStr, ",")
	indices := make([]domain.ValidatorIndex, 0, len(rawParts))
	for _, p := range rawParts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid validator index %q in VALIDATOR_INDICES: %w", p, err)
		}
		indices = append(indices, domain.ValidatorIndex(n))
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("no valid validator indices parsed from VALIDATOR_INDICES")
	}
	return indices, nil
}
