package plugins

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/pkg/errors"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 250 * time.Millisecond

// ReloadFunc receives every registry rebuilt after a change on disk.
type ReloadFunc func(ctx context.Context, reg *skills.Registry, err error)

// Watcher rebuilds the registry whenever a pack directory changes.
type Watcher struct {
	discovery *Discovery
	onReload  ReloadFunc
	debounce  time.Duration
	fw        *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher creates a watcher for the directories of d. A non-positive
// debounce uses DefaultDebounce.
func NewWatcher(d *Discovery, onReload ReloadFunc, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		discovery: d,
		onReload:  onReload,
		debounce:  debounce,
		done:      make(chan struct{}),
	}
}

// Start registers the pack directories and watches them until ctx is done.
// Directories that do not exist yet are skipped.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}

	watched := 0
	for _, dir := range w.discovery.PackDirs() {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		n, err := addTree(fw, dir)
		if err != nil {
			fw.Close()
			return errors.Wrapf(err, "failed to watch %s", dir)
		}
		watched += n
	}
	if watched == 0 {
		fw.Close()
		return errors.New("no pack directories to watch")
	}

	logger.G(ctx).WithField("directories", watched).Info("watching pack directories")

	w.fw = fw
	go w.loop(ctx)
	return nil
}

// Done is closed once the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.fw.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)

	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if isHidden(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if _, err := addTree(w.fw, event.Name); err != nil {
						logger.G(ctx).WithError(err).WithField("dir", event.Name).Warn("failed to watch new directory")
					}
				}
			}
			logger.G(ctx).WithField("file", event.Name).WithField("operation", event.Op.String()).Debug("pack change detected")

			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case <-fire:
			fire = nil
			reg, err := w.discovery.LoadRegistry(ctx)
			if err != nil {
				logger.G(ctx).WithError(err).Warn("pack reload reported problems")
			}
			if w.onReload != nil {
				w.onReload(ctx, reg, err)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logger.G(ctx).WithError(err).Error("error watching pack directories")
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func addTree(fw *fsnotify.Watcher, root string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if p != root && isHidden(p) {
			return filepath.SkipDir
		}
		n++
		return fw.Add(p)
	})
	return n, err
}

func isHidden(p string) bool {
	return strings.HasPrefix(filepath.Base(p), ".")
}
