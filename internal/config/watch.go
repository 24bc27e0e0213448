package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	homewakev1 "github.com/Unbounder1/home-wake/api/v1"
)

const reloadDebounce = 250 * time.Millisecond

// WatchInventory calls apply with the freshly parsed inventory every time
// the file at path changes, until ctx is done. The parent directory is
// watched so editors that replace the file by rename are picked up. A file
// that fails to parse is logged and the previous devices stay in effect.
func WatchInventory(ctx context.Context, path string, log logr.Logger, apply func([]homewakev1.DeviceConfig) error) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve inventory path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inventory watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	log.Info("watching inventory", "path", abs)

	reload := func() {
		devices, err := LoadInventory(abs)
		if err != nil {
			log.Error(err, "inventory reload failed, keeping current devices")
			return
		}
		if err := apply(devices); err != nil {
			log.Error(err, "inventory applied with errors")
			return
		}
		log.Info("inventory reloaded", "devices", len(devices))
	}

	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error(err, "inventory watcher error")
		case <-timer.C:
			reload()
		}
	}
}
