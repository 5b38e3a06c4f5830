// Package watcher re-analyzes a session file whenever it changes on disk.
package watcher

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"typewitness/internal/analysis"
	"typewitness/internal/clipboard"
	"typewitness/internal/logging"
	"typewitness/internal/session"
)

// DefaultDebounce is how long writes must settle before reanalysis.
const DefaultDebounce = 250 * time.Millisecond

// Result is the outcome of analyzing one settled version of the file.
type Result struct {
	Path     string
	Hash     [32]byte
	Payload  *session.Payload
	Analysis *analysis.SessionAnalysis
	Err      error
	Time     time.Time
}

// Watcher monitors a session file and emits a Result after each settled change.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	debounce  time.Duration
	ledgerMu  sync.RWMutex
	ledger    []clipboard.Option
	log       *logging.Logger

	// pending is the time of the last unprocessed change; zero when idle.
	pending  time.Time
	lastHash [32]byte
	analyzed bool
	stateMu  sync.Mutex

	results chan Result

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the settle interval.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLedgerOptions configures the fresh ledger built for every analysis.
func WithLedgerOptions(opts ...clipboard.Option) Option {
	return func(w *Watcher) { w.ledger = opts }
}

// SetLedgerOptions replaces the ledger options used by later analyses.
func (w *Watcher) SetLedgerOptions(opts ...clipboard.Option) {
	w.ledgerMu.Lock()
	w.ledger = opts
	w.ledgerMu.Unlock()
}

func (w *Watcher) newLedger() *clipboard.Ledger {
	w.ledgerMu.RLock()
	defer w.ledgerMu.RUnlock()
	return clipboard.NewLedger(w.ledger...)
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// New creates a watcher for the session file at path.
func New(path string, opts ...Option) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		path:      absPath,
		debounce:  DefaultDebounce,
		log:       logging.Discard(),
		results:   make(chan Result, 16),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.WithComponent("watcher")

	return w, nil
}

// Results returns the channel of analysis results. It is closed by Stop.
func (w *Watcher) Results() <-chan Result {
	return w.results
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching. The file's current contents are analyzed once
// the debounce interval passes.
func (w *Watcher) Start() error {
	if _, err := os.Stat(w.path); err != nil {
		return fmt.Errorf("stat session file: %w", err)
	}

	// Editors replace files on save, so watch the directory.
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}

	w.markChanged(time.Now())

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	w.log.Info("watching session file", "path", w.path, "debounce", w.debounce)
	return nil
}

// Stop shuts down the watcher and closes Results.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
		w.wg.Wait()
		close(w.results)
	})
	return err
}

func (w *Watcher) markChanged(at time.Time) {
	w.stateMu.Lock()
	w.pending = at
	w.stateMu.Unlock()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.markChanged(time.Now())

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			if r, ok := w.checkStable(now); ok {
				select {
				case w.results <- r:
				case <-w.done:
					return
				}
			}
		}
	}
}

// checkStable analyzes the file once it has been quiet for the debounce
// interval. Unchanged content is not reanalyzed.
func (w *Watcher) checkStable(now time.Time) (Result, bool) {
	w.stateMu.Lock()
	changedAt := w.pending
	w.stateMu.Unlock()

	if changedAt.IsZero() || now.Sub(changedAt) < w.debounce {
		return Result{}, false
	}

	hash, _, err := HashFile(w.path)

	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	// Modified while hashing: let it settle again.
	if !w.pending.Equal(changedAt) {
		return Result{}, false
	}
	w.pending = time.Time{}

	if err != nil {
		if os.IsNotExist(err) {
			// Mid-replace; the create event will mark it again.
			return Result{}, false
		}
		w.log.Warn("read session file failed", "path", w.path, "error", err)
		return Result{Path: w.path, Err: err, Time: now}, true
	}
	if w.analyzed && hash == w.lastHash {
		return Result{}, false
	}

	r := w.analyze(hash, now)
	if r.Err == nil {
		w.lastHash = hash
		w.analyzed = true
	}
	return r, true
}

func (w *Watcher) analyze(hash [32]byte, now time.Time) Result {
	r := Result{Path: w.path, Hash: hash, Time: now}

	p, err := session.Load(w.path)
	if err != nil {
		w.log.Warn("load session failed", "path", w.path, "error", err)
		r.Err = err
		return r
	}

	r.Payload = p
	r.Analysis = analysis.Analyze(p.Events, p.EditorHTML,
		analysis.WithLedger(w.newLedger()))

	w.log.Info("session analyzed",
		"path", w.path,
		"session_id", p.SessionID,
		"events", len(p.Events),
		"verdict", r.Analysis.Verdict,
		"risk", r.Analysis.RiskScore,
	)
	return r
}

// HashFile computes the SHA-256 of a file by streaming it.
func HashFile(path string) ([32]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return [32]byte{}, 0, err
	}

	var hash [32]byte
	copy(hash[:], h.Sum(nil))
	return hash, size, nil
}
