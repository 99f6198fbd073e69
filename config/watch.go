package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads the file at path whenever it is written or replaced and hands
// the result to fn. Invalid files are logged and skipped, the previous
// configuration stays in effect. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Editors replace the file rather than writing it, so watch the directory.
	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logrus.Error("[ CONFIG_RELOAD ] path: ", path, " error: ", err)
				continue
			}
			logrus.Info("[ CONFIG_RELOAD ] path: ", path)
			fn(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.Warn("Config watcher error: ", err)
		}
	}
}
