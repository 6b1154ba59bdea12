// Package config loads the orchestrator's worker-spawn configuration
// from a YAML file via viper, with fsnotify-driven live reload so an
// operator can rebalance worker counts without restarting the process.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/randalmurphal/orc-forged/internal/orcmodel"
	"github.com/randalmurphal/orc-forged/internal/supervisor"
)

// FileName is the default config file name.
const FileName = "config.yaml"

// Dir is the orchestrator's configuration directory, relative to the
// worktree root.
const Dir = ".orc-forged"

// WorkerSpawn is the on-disk shape of one role's desired worker pool.
type WorkerSpawn struct {
	Role          string   `mapstructure:"role"`
	Count         int      `mapstructure:"count"`
	ModelPriority []string `mapstructure:"model_priority"`
}

// Config is the full on-disk configuration: only the worker-spawn
// settings the orchestrator core needs. The teacher's sprawling CI/PR/
// team-server/token-pool settings are out of scope for this core (see
// DESIGN.md) and are not carried forward.
type Config struct {
	Workers []WorkerSpawn `mapstructure:"workers"`
}

// ToSupervisorConfigs converts the on-disk Workers list to
// supervisor.WorkerConfig, dropping entries with an unrecognized role.
func (c Config) ToSupervisorConfigs() []supervisor.WorkerConfig {
	out := make([]supervisor.WorkerConfig, 0, len(c.Workers))
	for _, w := range c.Workers {
		role := orcmodel.TaskRole(w.Role)
		if !isKnownRole(role) {
			continue
		}
		out = append(out, supervisor.WorkerConfig{Role: role, Count: w.Count, ModelPriority: w.ModelPriority})
	}
	return out
}

func isKnownRole(role orcmodel.TaskRole) bool {
	switch role {
	case orcmodel.RoleAnalystA, orcmodel.RoleAnalystB, orcmodel.RoleConsensusBuilder,
		orcmodel.RoleSplitter, orcmodel.RoleImplementer, orcmodel.RoleTester, orcmodel.RoleReviewer:
		return true
	default:
		return false
	}
}

// Loader reads Config from a viper instance and watches the backing
// file for changes, invoking onChange (if set) after each successful
// reload.
type Loader struct {
	v        *viper.Viper
	filePath string // resolved config file path, used even when the file does not yet exist
	mu       sync.RWMutex
	current  Config
	onChange func(Config)
}

// NewLoader creates a Loader rooted at worktreeRoot/Dir/FileName (or the
// explicit path, if non-empty), reading an initial Config.
func NewLoader(worktreeRoot, explicitPath string) (*Loader, error) {
	v := viper.New()
	filePath := explicitPath
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		filePath = filepath.Join(worktreeRoot, Dir, FileName)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(worktreeRoot, Dir))
	}

	v.SetEnvPrefix("ORC_FORGED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	if v.ConfigFileUsed() == "" {
		// No config file exists yet: point viper at the path it would
		// live at anyway, so WatchConfig later has a concrete directory
		// to watch instead of resolving to the process's cwd (the
		// teacher's own file watcher, internal/watcher/watcher.go, takes
		// the same approach — watch the parent directory up front so a
		// later file creation is picked up rather than requiring the
		// file to pre-exist).
		v.SetConfigFile(filePath)
	}

	l := &Loader{v: v, filePath: filePath}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loader) reload() error {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	l.mu.Lock()
	l.current = cfg
	onChange := l.onChange
	l.mu.Unlock()
	if onChange != nil {
		onChange(cfg)
	}
	return nil
}

// Current returns the most recently loaded configuration.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after every successful reload,
// including the one WatchAndReload's first fsnotify event triggers.
func (l *Loader) OnChange(fn func(Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

// WatchAndReload starts watching the config file for changes and
// reloads on write/create events, logging (via the returned error
// channel) any reload failure without stopping the watch. The
// directory is created first if it doesn't exist yet, since viper's
// WatchConfig needs a real directory to hand to fsnotify.
func (l *Loader) WatchAndReload() (chan error, error) {
	if err := os.MkdirAll(filepath.Dir(l.filePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	errs := make(chan error, 8)
	l.v.OnConfigChange(func(in fsnotify.Event) {
		if err := l.reload(); err != nil {
			select {
			case errs <- err:
			default:
			}
		}
	})
	l.v.WatchConfig()
	return errs, nil
}
