package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/avastusrada/permsync/pkg/observability"
)

// SecretProvider supplies the current webhook secret. The file-backed variant
// re-reads the secret on change, so operators can rotate it without a restart.
type SecretProvider struct {
	value   atomic.Value // string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// StaticSecret wraps a fixed secret value.
func StaticSecret(secret string) *SecretProvider {
	p := &SecretProvider{}
	p.value.Store(secret)
	return p
}

// WatchSecretFile reads the secret from path and watches the containing
// directory for changes (secrets mounted from k8s are swapped via rename, so
// watching the file inode alone misses rotations).
func WatchSecretFile(path string, logger *observability.Logger) (*SecretProvider, error) {
	p := &SecretProvider{done: make(chan struct{})}
	if err := p.load(path); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("secret watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("secret watcher: %w", err)
	}
	p.watcher = watcher

	logger = logger.WithComponent("secret-watcher").WithField("path", path)
	go func() {
		for {
			select {
			case <-p.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := p.load(path); err != nil {
					logger.WithError(err).Error("Failed to reload webhook secret")
					continue
				}
				logger.Info("Webhook secret reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Error("Secret watcher error")
			}
		}
	}()

	return p, nil
}

// Current returns the current secret. An empty string means fail closed.
func (p *SecretProvider) Current() string {
	if v, ok := p.value.Load().(string); ok {
		return v
	}
	return ""
}

// Close stops the file watcher, if any.
func (p *SecretProvider) Close() error {
	if p.watcher == nil {
		return nil
	}
	close(p.done)
	return p.watcher.Close()
}

func (p *SecretProvider) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read secret file %s: %w", path, err)
	}
	// An emptied file stores an empty secret and the validator fails closed.
	p.value.Store(strings.TrimSpace(string(data)))
	return nil
}
