package main

import (
	"log"
	"path/filepath"
	"time"

	"wxbridge/bridge"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long the config file must stay unchanged before a
// reload.
const reloadDebounce = 200 * time.Millisecond

// watchConfig re-registers the bridge whenever cfgPath changes. Only the
// registration fields are applied live; everything else needs a restart.
// The directory is watched rather than the file so that editors replacing the
// file on save are still seen.
func watchConfig(cfgPath string, d *bridge.Dispatcher, done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(cfgPath)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		// editors often emit several events per save (truncate, then write);
		// reload once the file has been quiet for reloadDebounce
		timer := time.NewTimer(reloadDebounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(cfgPath) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				timer.Reset(reloadDebounce)
			case <-timer.C:
				reloadRegistration(cfgPath, d)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[config] watcher error: %v", err)
			}
		}
	}()
	return nil
}

func reloadRegistration(cfgPath string, d *bridge.Dispatcher) {
	cfg := loadConfig(cfgPath)
	if err := d.Register(cfg.AppID, cfg.UniversalLink); err != nil {
		log.Printf("[config] reload of %s left the bridge unregistered: %v", cfgPath, err)
		return
	}
	log.Printf("[config] reloaded %s", cfgPath)
}
