package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/ipvwatch/internal/netutil"
)

// Color schemes a badge can be drawn in.
const (
	SchemeDarkFG  = "darkfg"
	SchemeLightFG = "lightfg"
)

// Options are the user preferences kept in the options file.
type Options struct {
	RegularColorScheme   string `yaml:"regular_color_scheme"`
	IncognitoColorScheme string `yaml:"incognito_color_scheme"`
	NAT64Prefix          string `yaml:"nat64_prefix"`
	AddressPolicy        string `yaml:"address_policy"`
}

// DefaultOptions returns the options used when the file is missing.
func DefaultOptions() Options {
	return Options{
		RegularColorScheme:   SchemeDarkFG,
		IncognitoColorScheme: SchemeLightFG,
		NAT64Prefix:          "64:ff9b::/96",
		AddressPolicy:        "live-first",
	}
}

// LoadOptions reads path over the defaults. A missing file yields the
// defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return opts, nil
	}
	if err != nil {
		return opts, fmt.Errorf("read options: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return DefaultOptions(), fmt.Errorf("parse options %s: %w", path, err)
	}
	if err := opts.validate(); err != nil {
		return DefaultOptions(), fmt.Errorf("options %s: %w", path, err)
	}
	return opts, nil
}

// ErrInvalidOptions marks options that cannot be applied.
var ErrInvalidOptions = errors.New("invalid options")

func (o Options) validate() error {
	for _, s := range []string{o.RegularColorScheme, o.IncognitoColorScheme} {
		if s != SchemeDarkFG && s != SchemeLightFG {
			return fmt.Errorf("%w: unknown color scheme %q", ErrInvalidOptions, s)
		}
	}
	if o.NAT64Prefix != "" {
		if _, err := netutil.ParseNAT64Prefix(o.NAT64Prefix); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
	}
	return nil
}

// SaveOptions writes opts to path.
func SaveOptions(path string, opts Options) error {
	if err := opts.validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create options dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

const reloadDebounce = 200 * time.Millisecond

// WatchOptions calls apply with the reloaded options each time path
// changes, until ctx is done. The parent directory is watched so editors
// that replace the file are noticed. An unreadable file keeps the previous
// options.
func WatchOptions(ctx context.Context, path string, apply func(Options)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var debounce *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			opts, err := LoadOptions(abs)
			if err != nil {
				slog.Warn("Options reload failed; keeping previous options", "path", abs, "error", err)
				continue
			}
			slog.Info("Options reloaded", "path", abs)
			apply(opts)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Options watcher error", "error", err)
		}
	}
}

// OptionsFile is the options file plus the last options applied from it.
type OptionsFile struct {
	path string

	mu      sync.RWMutex
	current Options
}

// OpenOptionsFile loads path. On error the defaults are current and the
// error is returned for logging.
func OpenOptionsFile(path string) (*OptionsFile, error) {
	opts, err := LoadOptions(path)
	return &OptionsFile{path: path, current: opts}, err
}

func (f *OptionsFile) Path() string { return f.path }

func (f *OptionsFile) Current() Options {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set records opts as applied without touching the file.
func (f *OptionsFile) Set(opts Options) {
	f.mu.Lock()
	f.current = opts
	f.mu.Unlock()
}

// Update validates and writes opts. The watcher applies it once the write
// lands.
func (f *OptionsFile) Update(opts Options) error {
	if err := SaveOptions(f.path, opts); err != nil {
		return err
	}
	f.Set(opts)
	return nil
}
