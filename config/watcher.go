package config

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	gLock   sync.RWMutex
	gConfig *Config
	gOnLoad []func(*Config)
	gLoadMu sync.Mutex
)

func configFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	config := Default()
	d := yaml.NewDecoder(f)
	if err := d.Decode(config); err != nil {
		return nil, err
	}
	log.Infof("Loaded configuration: %v", spew.Sdump(config))
	return config, nil
}

func Get() *Config {
	gLock.RLock()
	defer gLock.RUnlock()
	if gConfig == nil {
		return Default()
	}
	return gConfig
}

// OnReload registers a callback invoked with the new configuration every
// time the file changes on disk.
func OnReload(fn func(*Config)) {
	gLoadMu.Lock()
	defer gLoadMu.Unlock()
	gOnLoad = append(gOnLoad, fn)
}

func fireReload(c *Config) {
	gLoadMu.Lock()
	callbacks := gOnLoad[:]
	gLoadMu.Unlock()
	for _, fn := range callbacks {
		fn(c)
	}
}

func waitForChange(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-watcher.Events:
	}
	// Editors often write in bursts; let the file settle.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second / 10):
	}
	return ctx.Err()
}

// Load reads the configuration and watches the file for changes until the
// context ends, reloading and notifying OnReload callbacks on each change.
func Load(ctx context.Context, path string) error {
	config, err := configFromFile(path)
	if err != nil {
		return err
	}
	gLock.Lock()
	gConfig = config
	gLock.Unlock()
	go func() {
		for ctx.Err() == nil {
			if err := waitForChange(ctx, path); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Errorf("Error waiting for file change: %v", err)
				continue
			}

			config, err := configFromFile(path)
			if err != nil {
				log.Errorf("Failed to load new config: %v", err)
				continue
			}
			gLock.Lock()
			gConfig = config
			gLock.Unlock()
			fireReload(config)
		}
	}()
	return nil
}

// Set replaces the current configuration directly, for overrides and tests.
func Set(c *Config) {
	gLock.Lock()
	gConfig = c
	gLock.Unlock()
}
