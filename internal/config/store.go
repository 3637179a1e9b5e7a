package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"outreach_engine/internal/model"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrUnknownPath   = errors.New("unknown config path")
)

// OverrideSource supplies overrides from an external store. Keys may be dotted paths.
type OverrideSource interface {
	LoadOverrides(ctx context.Context) (map[string]any, error)
}

type Options struct {
	// Path is an optional YAML file merged over the compiled-in defaults.
	Path string
	// Overrides are applied after the file. Keys may be dotted paths or nested maps.
	Overrides map[string]any
	// DotEnvFiles are loaded into the process environment before the allow-list is read.
	// Missing files are ignored. Nil means ".env".
	DotEnvFiles []string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Store holds the merged configuration tree and its decoded form. Every write validates a
// copy of the tree first, so the decoded form always matches a valid tree.
type Store struct {
	mu   sync.RWMutex
	tree map[string]any
	cfg  Config
}

func newStore(tree map[string]any) (*Store, error) {
	cfg, err := checkTree(tree)
	if err != nil {
		return nil, err
	}
	return &Store{tree: tree, cfg: cfg}, nil
}

func Load(opts Options) (*Store, error) {
	tree, err := defaultTree()
	if err != nil {
		return nil, err
	}
	if opts.Path != "" {
		b, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, err
		}
		fileTree, err := parseTree(b)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", opts.Path, err)
		}
		mergeTree(tree, fileTree)
	}
	if err := applyOverrides(tree, opts.Overrides); err != nil {
		return nil, err
	}

	files := opts.DotEnvFiles
	if files == nil {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(tree, lookup); err != nil {
		return nil, err
	}

	return newStore(tree)
}

// Import builds a store from an exported YAML document.
func Import(b []byte) (*Store, error) {
	tree, err := defaultTree()
	if err != nil {
		return nil, err
	}
	in, err := parseTree(b)
	if err != nil {
		return nil, err
	}
	mergeTree(tree, in)
	return newStore(tree)
}

// Export renders the merged tree as YAML.
func (s *Store) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return yaml.Marshal(s.tree)
}

// MergeExternal applies overrides from src and re-validates. A nil src is a no-op.
// The previous tree is kept when the merged result does not validate.
func (s *Store) MergeExternal(ctx context.Context, src OverrideSource) error {
	if src == nil {
		return nil
	}
	overrides, err := src.LoadOverrides(ctx)
	if err != nil {
		return err
	}
	if len(overrides) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneTree(s.tree)
	if err := applyOverrides(next, overrides); err != nil {
		return err
	}
	cfg, err := checkTree(next)
	if err != nil {
		return err
	}
	s.tree, s.cfg = next, cfg
	return nil
}

func (s *Store) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := lookupPath(s.tree, path)
	if !ok {
		return nil, false
	}
	if m, isMap := v.(map[string]any); isMap {
		return cloneTree(m), true
	}
	return v, true
}

// Set writes value at path, creating missing intermediate nodes. A write that would leave
// the configuration invalid is rejected with ErrInvalidConfig and the store is unchanged.
func (s *Store) Set(path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneTree(s.tree)
	if err := setPath(next, path, value); err != nil {
		return err
	}
	cfg, err := checkTree(next)
	if err != nil {
		return err
	}
	s.tree, s.cfg = next, cfg
	return nil
}

func (s *Store) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return validateTree(s.tree)
}

// Config returns a copy of the decoded tree.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.clone()
}

func (s *Store) Server() ServerConfig       { return s.Config().Server }
func (s *Store) Storage() StorageConfig     { return s.Config().Storage }
func (s *Store) Global() GlobalConfig       { return s.Config().Global }
func (s *Store) Safety() SafetyConfig       { return s.Config().Safety }
func (s *Store) Publisher() PublisherConfig { return s.Config().Publisher }
func (s *Store) Generator() GeneratorConfig { return s.Config().Generator }
func (s *Store) Notify() NotifyConfig       { return s.Config().Notify }

// Engine returns the settings for cat merged with the global block.
func (s *Store) Engine(cat model.Category) EngineSettings {
	cfg := s.Config()
	ec := cfg.Engines[cat]
	if ec.BatchSize <= 0 {
		ec.BatchSize = fallbackBatchSize
	}
	if ec.PerTargetCap <= 0 {
		ec.PerTargetCap = 1
	}
	if ec.MaxRetries <= 0 {
		ec.MaxRetries = cfg.Global.MaxRetries
	}
	if ec.MaxRetries <= 0 {
		ec.MaxRetries = model.DefaultMaxRetries
	}
	if ec.MaxDelaySeconds < ec.MinDelaySeconds {
		ec.MaxDelaySeconds = ec.MinDelaySeconds
	}
	return EngineSettings{Category: cat, EngineConfig: ec, Global: cfg.Global}
}

// BatchSize returns the configured batch size for cat, or 5 when cat is unknown.
func (s *Store) BatchSize(cat model.Category) int { return s.Engine(cat).BatchSize }

// PerTargetCap returns the per-destination action cap for cat, or 1 when unset.
func (s *Store) PerTargetCap(cat model.Category) int { return s.Engine(cat).PerTargetCap }

func validateTree(tree map[string]any) error {
	_, err := checkTree(tree)
	return err
}

// checkTree decodes tree and validates the result.
func checkTree(tree map[string]any) (Config, error) {
	cfg, err := decodeConfig(tree)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.Global.ProcessingIntervalMs < 1000 {
		return fmt.Errorf("%w: global.processingIntervalMs must be >= 1000 (got %d)", ErrInvalidConfig, cfg.Global.ProcessingIntervalMs)
	}
	if cfg.Global.MaxConcurrentTasks < 1 {
		return fmt.Errorf("%w: global.maxConcurrentTasks must be >= 1 (got %d)", ErrInvalidConfig, cfg.Global.MaxConcurrentTasks)
	}
	limits := map[string]LimitConfig{
		"global":   cfg.Safety.Global,
		"identity": cfg.Safety.Identity,
		"site":     cfg.Safety.Site,
		"engine":   cfg.Safety.Engine,
	}
	names := make([]string, 0, len(limits))
	for k := range limits {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		l := limits[name]
		if l.ActionsPerHour < 0 || l.ActionsPerDay < 0 {
			return fmt.Errorf("%w: safety.%s ceilings must be >= 0", ErrInvalidConfig, name)
		}
	}
	for cat, ec := range cfg.Engines {
		if !cat.Valid() {
			return fmt.Errorf("%w: unknown engine category %q", ErrInvalidConfig, cat)
		}
		if ec.BatchSize < 1 {
			return fmt.Errorf("%w: engines.%s.batchSize must be >= 1", ErrInvalidConfig, cat)
		}
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return fmt.Errorf("%w: server.addr is required", ErrInvalidConfig)
	}
	return nil
}

func decodeConfig(tree map[string]any) (Config, error) {
	b, err := yaml.Marshal(tree)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) clone() Config {
	out := c
	out.Server.Cors.AllowOrigins = slices.Clone(c.Server.Cors.AllowOrigins)
	out.Safety.Blacklist = slices.Clone(c.Safety.Blacklist)
	out.Safety.RedFlags = slices.Clone(c.Safety.RedFlags)
	if c.Engines != nil {
		out.Engines = make(map[model.Category]EngineConfig, len(c.Engines))
		for cat, ec := range c.Engines {
			ec.Features = maps.Clone(ec.Features)
			out.Engines[cat] = ec
		}
	}
	return out
}
