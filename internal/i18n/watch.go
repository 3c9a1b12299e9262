package i18n

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of writes from editors that save in steps.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the catalog whenever a YAML file under the overlay directory
// changes. It blocks until ctx is cancelled. onReload, if non-nil, is called
// after every reload attempt with its result.
func (c *Catalog) Watch(ctx context.Context, onReload func(error)) error {
	if c.dir == "" {
		return ErrNoDir
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	root := filepath.Join(c.dir, "locales")
	if err := w.Add(root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read %s: %w", root, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(root, e.Name())); err != nil {
				return fmt.Errorf("watch %s: %w", e.Name(), err)
			}
		}
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
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
			// New locale directories need their own watch.
			if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == root {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if !strings.HasSuffix(ev.Name, ".yaml") && filepath.Dir(ev.Name) != root {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(reloadDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(reloadDebounce)
			}

		case <-fire:
			err := c.Reload()
			if onReload != nil {
				onReload(err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if onReload != nil {
				onReload(fmt.Errorf("watcher: %w", err))
			}
		}
	}
}
