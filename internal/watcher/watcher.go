// Package watcher reloads the credential pool when the credential file is
// edited outside the process.
package watcher

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// debounceWindow coalesces editor write bursts into one reload.
const debounceWindow = 500 * time.Millisecond

// Watch observes the credential file and invokes reload after external
// changes. Returns a stop function. The file's own atomic writes also fire
// events; reload must therefore be idempotent.
func Watch(credsFile string, reload func() error) (func(), error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(credsFile)
	if err = fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}

	target := filepath.Clean(credsFile)
	done := make(chan struct{})
	go func() {
		var timer *time.Timer
		var timerC <-chan time.Time
		for {
			select {
			case <-done:
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-fsWatcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounceWindow)
					timerC = timer.C
				} else {
					timer.Reset(debounceWindow)
				}
			case <-timerC:
				timer = nil
				timerC = nil
				log.Infof("watcher: credential file changed, reloading pool")
				if errReload := reload(); errReload != nil {
					log.Errorf("watcher: reload failed: %v", errReload)
				}
			case errWatch, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				if errWatch != nil && !strings.Contains(errWatch.Error(), "overflow") {
					log.Warnf("watcher: %v", errWatch)
				}
			}
		}
	}()

	return func() {
		close(done)
		_ = fsWatcher.Close()
	}, nil
}
