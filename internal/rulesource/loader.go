// Package rulesource decodes rule YAML files from a directory and watches
// the directory with fsnotify for hot reload, debouncing bursts of
// filesystem events into a single reload.
package rulesource

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Watcher emits a newly decoded RuleSet every time the watched directory's
// *.yaml or *.yml files change on disk.
type Watcher struct {
	updates chan *RuleSet
	done    chan struct{}
	once    sync.Once
	fsw     *fsnotify.Watcher
}

func (w *Watcher) Updates() <-chan *RuleSet { return w.updates }

func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

// LoadAndWatch reads every *.yaml or *.yml file in dir, decodes and validates them
// into a single RuleSet, starts watching dir for changes, and returns the
// initial set plus a Watcher whose channel delivers reloads. A malformed
// individual rule or file is logged and skipped; an error is returned only
// when the directory itself cannot be read or watched.
func LoadAndWatch(dir string, log *zap.SugaredLogger) (*RuleSet, *Watcher, error) {
	set, err := Load(dir, log)
	if err != nil {
		return nil, nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		return nil, nil, fmt.Errorf("watch rule directory: %w", err)
	}

	w := &Watcher{
		updates: make(chan *RuleSet, 1),
		done:    make(chan struct{}),
		fsw:     fsw,
	}

	go func() {
		var debounce <-chan time.Time
		for {
			select {
			case <-w.done:
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					debounce = time.After(200 * time.Millisecond)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warnw("rule directory watch error", "err", err)
			case <-debounce:
				debounce = nil
				newSet, err := Load(dir, log)
				if err != nil {
					log.Warnw("rule reload failed, keeping previous rule set", "err", err)
					continue
				}
				// Replace an update the consumer has not taken yet, so the
				// newest rule set is the one delivered.
				select {
				case <-w.updates:
				default:
				}
				w.updates <- newSet
			}
		}
	}()

	return set, w, nil
}

// Load reads and decodes every *.yaml or *.yml file in dir, in filename order, and
// merges them into a single RuleSet.
func Load(dir string, log *zap.SugaredLogger) (*RuleSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rule directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".yaml" || filepath.Ext(e.Name()) == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	merged := &RuleSet{}
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warnw("rule file unreadable, skipping", "path", path, "err", err)
			continue
		}
		var raw fileRuleSet
		if err := yaml.Unmarshal(data, &raw); err != nil {
			log.Warnw("rule file has invalid YAML, skipping", "path", path, "err", err)
			continue
		}
		set, errs := decode(raw)
		for _, e := range errs {
			log.Warnw("invalid rule skipped", "path", path, "err", e)
		}
		merged.Bindings = append(merged.Bindings, set.Bindings...)
		merged.Inbound = append(merged.Inbound, set.Inbound...)
		merged.Outbound = append(merged.Outbound, set.Outbound...)
	}

	return merged, nil
}
