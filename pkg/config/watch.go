package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchFiles watches the given files (card pool, domain pool) and invokes
// onChange with the path whenever one is rewritten. Operators edit these
// files while a batch is queued, so changes must be picked up without a
// restart. The returned stop function closes the watcher.
func WatchFiles(log *slog.Logger, paths []string, onChange func(path string)) (func() error, error) {
	if log == nil {
		log = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watched := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}

		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		watched[abs] = true

		// Watch the directory: editors replace files on save, which drops
		// a watch registered on the file itself.
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			log.Warn("failed to watch resource file", "path", abs, "error", err)
		}
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				abs, err := filepath.Abs(event.Name)
				if err != nil || !watched[abs] {
					continue
				}

				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					log.Info("resource file changed", "path", abs)
					onChange(abs)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("resource watcher error", "error", err)
			}
		}
	}()

	return watcher.Close, nil
}
