package triggers

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"

	"github.com/fsnotify/fsnotify"
)

// fileWatchRunner watches a directory tree and fires on matching events.
type fileWatchRunner struct {
	trigger *Trigger
	root    string
	pattern *regexp.Regexp
	fire    func(*Trigger, map[string]any)
}

func newFileWatchRunner(t *Trigger, fire func(*Trigger, map[string]any)) (*fileWatchRunner, error) {
	r := &fileWatchRunner{trigger: t, root: t.ConfigString("path"), fire: fire}
	if raw := t.ConfigString("pattern"); raw != "" {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, err
		}
		r.pattern = re
	}
	return r, nil
}

func (r *fileWatchRunner) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the tree recursively; fsnotify itself is per-directory.
	addTree := func(root string) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if err := watcher.Add(path); err != nil {
					slog.Warn("File watch add failed", "path", path, "error", err)
				}
			}
			return nil
		})
	}
	addTree(r.root)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if r.pattern != nil && !r.pattern.MatchString(name) {
				// New directories still need watching even when filtered out.
				if event.Op&fsnotify.Create != 0 {
					addTree(event.Name)
				}
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				addTree(event.Name)
			}
			r.fire(r.trigger, map[string]any{
				"eventType": event.Op.String(),
				"filename":  name,
				"path":      event.Name,
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("File watch error", "trigger", r.trigger.Name, "error", err)
		}
	}
}
