package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

// Watcher reloads a config file whenever it changes on disk and invokes
// onChange with the freshly merged FlecsConfig.
type Watcher struct {
	fsnotify *fsnotify.Watcher
	done     chan struct{}
}

// Watch starts watching path (an OS-backed file, since fsnotify cannot
// observe afero's in-memory filesystems) and calls onChange after every
// write, logging and skipping a reload that fails to parse rather than
// crashing the watch loop.
func Watch(fs afero.Fs, path string, onChange func(*FlecsConfig)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{fsnotify: fw, done: make(chan struct{})}
	go func() {
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(fs, path)
				if err != nil {
					klog.Warningf("config: reload %s failed, keeping previous config: %v", path, err)
					continue
				}
				onChange(cfg)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				klog.Warningf("config: watch error on %s: %v", path, err)
			case <-w.done:
				return
			}
		}
	}()
	return w, nil
}

// Close stops the watch loop and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsnotify.Close()
}
