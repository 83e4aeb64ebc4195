package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/okian/guardian/pkg/logger"
)

const settleDelay = 500 * time.Millisecond

// DirWatcher ingests CSV files dropped into a directory. Each file is read
// once after writes settle and then renamed with a .done or .failed suffix.
type DirWatcher struct {
	dir  string
	sink Sink
	log  logger.Logger
}

// NewDirWatcher creates a watcher over dir.
func NewDirWatcher(dir string, sink Sink) *DirWatcher {
	return &DirWatcher{dir: dir, sink: sink, log: logger.Named("source.watch_dir")}
}

// Run processes files already present, then watches until ctx ends.
func (w *DirWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	existing, _ := filepath.Glob(filepath.Join(w.dir, "*.csv"))
	for _, path := range existing {
		w.Process(ctx, path)
	}

	pending := make(map[string]time.Time)
	tick := time.NewTicker(settleDelay / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".csv") {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				pending[ev.Name] = time.Now()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn(ctx, "watcher error", logger.Error(err))
		case now := <-tick.C:
			for path, seen := range pending {
				if now.Sub(seen) >= settleDelay {
					delete(pending, path)
					w.Process(ctx, path)
				}
			}
		}
	}
}

// Process ingests one file and marks it.
func (w *DirWatcher) Process(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		w.log.Warn(ctx, "cannot open dropped file", logger.String("path", path), logger.Error(err))
		return
	}
	recs, err := ParseCSV(f)
	_ = f.Close()
	if err == nil {
		err = w.sink.IngestBatch(ctx, "watch_dir", recs)
	}

	suffix := ".done"
	if err != nil {
		suffix = ".failed"
		w.log.Error(ctx, "dropped file rejected", logger.String("path", path), logger.Error(err))
	} else {
		w.log.Info(ctx, "dropped file ingested", logger.String("path", path), logger.Int("records", len(recs)))
	}
	if rerr := os.Rename(path, path+suffix); rerr != nil {
		w.log.Warn(ctx, "cannot mark processed file", logger.String("path", path), logger.Error(rerr))
	}
}
