package inbox

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/agentworkforce/orderdesk/internal/orderdesk"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher signals when new email files land in the drop directory.
// Bursts of filesystem events are debounced into a single notification
// so one delivery of many files triggers one pipeline pass.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	notifications chan struct{}
	done          chan struct{}
}

type WatcherOptions struct {
	Dir      string
	Debounce time.Duration
	Logger   *zap.Logger
}

func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, orderdesk.ErrInvalidInput
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	w := &Watcher{
		watcher:       fsWatcher,
		debounce:      opts.Debounce,
		logger:        opts.Logger,
		notifications: make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Notifications delivers at most one pending signal; coalescing is
// deliberate, the consumer re-reads the whole directory anyway.
func (w *Watcher) Notifications() <-chan struct{} {
	return w.notifications
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			select {
			case w.notifications <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	return strings.HasSuffix(filepath.Base(event.Name), ".json")
}
