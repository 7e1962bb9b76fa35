package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/holiman/uint256"

	"threatmesh/internal/domain"
)

type Config struct {
	Consensus ConsensusConfig `json:"consensus"`

	Ledger struct {
		BlockIntervalMs uint32 `json:"block_interval_ms"`
	} `json:"ledger"`

	Governance struct {
		Members []string `json:"members"`
	} `json:"governance"`

	Whitelist struct {
		Seed []string `json:"seed"`
	} `json:"whitelist"`

	Denylist struct {
		ReloadTimer Timer `json:"reload_timer"`
	} `json:"denylist"`

	Events struct {
		RedisRelay bool `json:"redis_relay"`
	} `json:"events"`

	GeoLite struct {
		APIKey        string `json:"api_key"`
		AutoUpdate    bool   `json:"auto_update"`
		UpdateTimer   Timer  `json:"update_timer"`
		LastUpdatedAt string `json:"last_updated_at,omitempty"`
	} `json:"geolite"`
}

// ConsensusConfig holds the protocol constants. MinTokenBalance is a decimal
// string because token amounts overflow JSON numbers.
type ConsensusConfig struct {
	QuorumThreshold   uint64 `json:"quorum_threshold"`
	RevealDelay       uint64 `json:"reveal_delay"`
	MinTokenBalance   string `json:"min_token_balance"`
	MinTotalRiskScore uint64 `json:"min_total_risk_score"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const defaultSettingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue  atomic.Value
	paramsValue  atomic.Pointer[domain.Params]
	settingsPath atomic.Value
	configMu     sync.Mutex
)

func init() {
	settingsPath.Store(defaultSettingsFilePath)
	cfg, err := DefaultConfig()
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	configValue.Store(cfg)
	storeParams(cfg)
}

// DefaultConfig decodes the embedded default settings.
func DefaultConfig() (Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetSettingsPath points ReadSettings and persistence at another file.
func SetSettingsPath(path string) {
	if strings.TrimSpace(path) == "" {
		path = defaultSettingsFilePath
	}
	settingsPath.Store(path)
}

func SettingsPath() string {
	return settingsPath.Load().(string)
}

// ReadSettings loads the settings file, creating it from the defaults when
// missing.
func ReadSettings() error {
	path := SettingsPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		log.Warn("Settings file not found, creating with default configuration", "path", path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("config: create settings directory: %w", err)
		}
		if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
			return fmt.Errorf("config: write default settings: %w", err)
		}
		data = defaultConfig
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		return err
	}

	log.Debug("Settings file loaded successfully", "path", path)
	return nil
}

// SetConfig validates, applies, persists and broadcasts a new configuration.
func SetConfig(newConfig Config) error {
	return applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"})
}

func MarkGeoLiteUpdated(ts time.Time) error {
	cfg := GetConfig()
	cfg.GeoLite.LastUpdatedAt = ts.UTC().Format(time.RFC3339)
	return applyConfigUpdate(cfg, configUpdateOptions{persistToFile: true, broadcast: true, source: "geolite"})
}

// Validate rejects settings that would break the protocol.
func Validate(cfg Config) error {
	var errs []error
	if cfg.Consensus.QuorumThreshold == 0 {
		errs = append(errs, errors.New("consensus.quorum_threshold must be at least 1"))
	}
	if _, err := parseBalance(cfg.Consensus.MinTokenBalance); err != nil {
		errs = append(errs, fmt.Errorf("consensus.min_token_balance: %w", err))
	}
	for _, addr := range cfg.Whitelist.Seed {
		if _, err := domain.CanonicalAddress(addr); err != nil {
			errs = append(errs, fmt.Errorf("whitelist.seed: %w", err))
		}
	}
	return errors.Join(errs...)
}

func parseBalance(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uint256.NewInt(0), nil
	}
	return uint256.FromDecimal(raw)
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	if err := Validate(newConfig); err != nil {
		return fmt.Errorf("config: invalid settings from %s: %w", opts.source, err)
	}

	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	storeParams(newConfig)
	SetIntervals()

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			errs = append(errs, fmt.Errorf("config: marshal settings: %w", err))
		} else if err := os.WriteFile(SettingsPath(), data, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("config: write settings: %w", err))
		}
	}

	if opts.broadcast {
		payload, err := json.Marshal(newConfig)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: serialize for broadcast: %w", err))
		} else if err := broadcastConfigUpdate(payload); err != nil {
			errs = append(errs, fmt.Errorf("config: broadcast: %w", err))
		}
	}

	log.Debug("Configuration applied", "source", opts.source)
	return errors.Join(errs...)
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

func storeParams(cfg Config) {
	balance, err := parseBalance(cfg.Consensus.MinTokenBalance)
	if err != nil {
		balance = new(uint256.Int).Set(domain.DefaultMinTokenBalance)
	}
	p := domain.Params{
		QuorumThreshold:   cfg.Consensus.QuorumThreshold,
		RevealDelay:       cfg.Consensus.RevealDelay,
		MinTokenBalance:   balance,
		MinTotalRiskScore: cfg.Consensus.MinTotalRiskScore,
	}.Normalized()
	paramsValue.Store(&p)
}

// ConsensusParams returns the parameters in force. It satisfies
// domain.ParamsSource, so settings pushed over Redis apply to the next
// transition.
func ConsensusParams() domain.Params {
	return *paramsValue.Load()
}

func WhitelistSeed() []string {
	return append([]string(nil), GetConfig().Whitelist.Seed...)
}

func GovernanceMembers() []string {
	return append([]string(nil), GetConfig().Governance.Members...)
}
