package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"srcgrep/internal/domain"
	"srcgrep/internal/eventbus"
)

// FileName is the per-repository config file looked up in the search root
const FileName = ".srcgrep.toml"

// Backend types
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config represents the application configuration
type Config struct {
	Version    int              `toml:"version"`
	Repository RepositoryConfig `toml:"repository"`
	Backend    BackendConfig    `toml:"backend"`
	Search     SearchConfig     `toml:"search"`
	Debug      DebugConfig      `toml:"debug"`
}

// RepositoryConfig names the one repository a session searches
type RepositoryConfig struct {
	Kind string `toml:"kind"`
	ID   string `toml:"id"`
	Root string `toml:"root"` // worktree for the local backend
	Rev  string `toml:"rev,omitempty"`
}

// BackendConfig selects and configures the search transport
type BackendConfig struct {
	Type      string `toml:"type"`
	Endpoint  string `toml:"endpoint,omitempty"`
	Token     string `toml:"token,omitempty"`
	TimeoutMs int    `toml:"timeout_ms"`
}

// SearchConfig tunes query handling and the local grep backend
type SearchConfig struct {
	DebounceMs        int      `toml:"debounce_ms"`
	CaseSensitive     bool     `toml:"case_sensitive"`
	Regex             bool     `toml:"regex"`
	MaxFiles          int      `toml:"max_files"`
	MaxMatchesPerFile int      `toml:"max_matches_per_file"`
	MaxFileSize       int64    `toml:"max_file_size"`
	Workers           int      `toml:"workers"`
	Include           []string `toml:"include"`
	Exclude           []string `toml:"exclude"`
	CacheSize         int      `toml:"cache_size"`
	Watch             bool     `toml:"watch"`
	WatchDebounceMs   int      `toml:"watch_debounce_ms"`
}

// DebugConfig holds diagnostics settings
type DebugConfig struct {
	StrictAggregation bool   `toml:"strict_aggregation"`
	LogFile           string `toml:"log_file"`
}

// RepositoryIdentity returns the domain identity of the configured repository
func (c *Config) RepositoryIdentity() domain.Repository {
	return domain.Repository{Kind: domain.RepositoryKind(c.Repository.Kind), ID: c.Repository.ID}
}

// Timeout returns the per-request backend deadline, zero for none
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Backend.TimeoutMs) * time.Millisecond
}

// Debounce returns the keystroke debounce interval
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Search.DebounceMs) * time.Millisecond
}

// WatchDebounce returns the interval used to batch file system events
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Search.WatchDebounceMs) * time.Millisecond
}

// Validate checks the config for values no component can work with
func (c *Config) Validate() error {
	if !domain.RepositoryKind(c.Repository.Kind).Valid() {
		return fmt.Errorf("%w: unknown repository kind %q", ErrInvalidConfig, c.Repository.Kind)
	}
	if c.Repository.ID == "" {
		return fmt.Errorf("%w: repository id is required", ErrInvalidConfig)
	}
	switch c.Backend.Type {
	case BackendLocal:
		if c.Repository.Root == "" {
			return fmt.Errorf("%w: local backend needs repository.root", ErrInvalidConfig)
		}
	case BackendRemote:
		if c.Backend.Endpoint == "" {
			return fmt.Errorf("%w: remote backend needs backend.endpoint", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend type %q", ErrInvalidConfig, c.Backend.Type)
	}
	if c.Backend.TimeoutMs < 0 || c.Search.DebounceMs < 0 || c.Search.WatchDebounceMs < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if c.Search.Workers < 1 {
		return fmt.Errorf("%w: search.workers must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// ConfigService handles configuration management
type ConfigService interface {
	Load() (*Config, error)
	Save(config *Config) error
	LoadFromPath(path string) (*Config, error)
	SaveToPath(config *Config, path string) error
}

// configService is the concrete implementation
type configService struct {
	bus      eventbus.EventBus
	filePath string
}

// NewConfigService creates a config service backed by the user config file
func NewConfigService() ConfigService {
	return &configService{filePath: UserConfigPath()}
}

// NewConfigServiceWithBus creates a config service with event bus support
func NewConfigServiceWithBus(bus eventbus.EventBus, path string) ConfigService {
	if path == "" {
		path = UserConfigPath()
	}
	return &configService{bus: bus, filePath: path}
}

// UserConfigPath returns the per-user config file location
func UserConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		// Fallback to home directory
		configDir, err = os.UserHomeDir()
		if err != nil {
			configDir = "."
		}
		configDir = filepath.Join(configDir, ".config")
	}
	return filepath.Join(configDir, "srcgrep", "config.toml")
}

// Resolve picks the config file to use: an explicit path, then the search
// root's .srcgrep.toml, then the user config file. It returns "" when none
// exists and defaults apply.
func Resolve(explicit, root string) string {
	if explicit != "" {
		return explicit
	}
	candidates := []string{UserConfigPath()}
	if root != "" {
		candidates = append([]string{filepath.Join(root, FileName)}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load loads the configuration from file, or the defaults if it is missing
func (cs *configService) Load() (*Config, error) {
	if _, err := os.Stat(cs.filePath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cs.publishLoaded("", cfg)
		return cfg, nil
	}

	cfg, err := cs.LoadFromPath(cs.filePath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to the service's file
func (cs *configService) Save(config *Config) error {
	return cs.SaveToPath(config, cs.filePath)
}

// LoadFromPath loads configuration from a specific path. Keys missing from
// the file keep their default values.
func (cs *configService) LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Search.Include == nil {
		cfg.Search.Include = []string{}
	}
	if cfg.Search.Exclude == nil {
		cfg.Search.Exclude = []string{}
	}

	log.Printf("Config: loaded %s (backend %s, repository %s)", path, cfg.Backend.Type, cfg.RepositoryIdentity())
	cs.publishLoaded(path, cfg)
	return cfg, nil
}

// SaveToPath saves configuration to a specific path
func (cs *configService) SaveToPath(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Tokens may be stored here
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Printf("Config: saved %s", path)
	if cs.bus != nil {
		cs.bus.Publish(eventbus.ConfigSavedEvent{Path: path})
	}
	return nil
}

func (cs *configService) publishLoaded(path string, cfg *Config) {
	if cs.bus != nil {
		cs.bus.Publish(eventbus.ConfigLoadedEvent{
			Path:       path,
			Repository: cfg.RepositoryIdentity(),
		})
	}
}

// DefaultConfig returns the default configuration: the local backend
// searching the current directory.
func DefaultConfig() *Config {
	root, err := os.Getwd()
	if err != nil {
		root = "."
	}

	return &Config{
		Version: 1,
		Repository: RepositoryConfig{
			Kind: string(domain.RepositoryKindLocal),
			ID:   filepath.Base(root),
			Root: root,
		},
		Backend: BackendConfig{
			Type:      BackendLocal,
			TimeoutMs: 10000,
		},
		Search: SearchConfig{
			DebounceMs:        150,
			MaxFiles:          500,
			MaxMatchesPerFile: 200,
			MaxFileSize:       1 << 20,
			Workers:           8,
			Include:           []string{},
			Exclude:           []string{"**/node_modules/**", "**/vendor/**", "**/*.min.js"},
			CacheSize:         64,
			Watch:             true,
			WatchDebounceMs:   200,
		},
		Debug: DebugConfig{
			LogFile: filepath.Join(os.TempDir(), "srcgrep.log"),
		},
	}
}
