// Package watcher turns filesystem events in the inbound directory into
// pipeline jobs once each file has stopped growing.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"call-insights-go/internal/config"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/processor"
	"call-insights-go/internal/queue"
)

// FileProcessor runs the ingestion pipeline for one file.
type FileProcessor interface {
	ProcessFile(ctx context.Context, path string) processor.Result
}

// Submitter accepts jobs; *queue.Queue satisfies it.
type Submitter interface {
	EnqueueWithRetry(ctx context.Context, j queue.Job, window, interval time.Duration) (bool, bool)
}

// Known reports whether a filename already has a record.
type Known interface {
	Exists(ctx context.Context, filename string) bool
}

type Options struct {
	Dir            string
	StableFor      time.Duration
	StableTimeout  time.Duration
	PollInterval   time.Duration
	MaxFileSize    int64
	StartupStagger time.Duration
	EnqueueWindow  time.Duration
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.StableFor <= 0 {
		o.StableFor = 2 * time.Second
	}
	if o.StableTimeout <= 0 {
		o.StableTimeout = 30 * time.Second
	}
	if o.EnqueueWindow <= 0 {
		o.EnqueueWindow = 30 * time.Second
	}
}

// Status is the snapshot served by the ops endpoint.
type Status struct {
	Running         bool   `json:"running"`
	MonitoredFolder string `json:"monitored_folder"`
	ClaimedCount    int    `json:"claimed_count"`
	Dispatched      int    `json:"dispatched"`
}

type Watcher struct {
	opts  Options
	proc  FileProcessor
	jobs  Submitter
	known Known
	log   *logrus.Entry

	mu         sync.Mutex
	claims     map[string]struct{}
	running    bool
	dispatched int
	wg         sync.WaitGroup
}

func New(opts Options, proc FileProcessor, jobs Submitter, known Known, log *logrus.Entry) *Watcher {
	opts.defaults()
	return &Watcher{
		opts:   opts,
		proc:   proc,
		jobs:   jobs,
		known:  known,
		log:    logger.OrDiscard(log).WithField("component", "watcher"),
		claims: make(map[string]struct{}),
	}
}

// Run watches the directory until ctx is cancelled. Files already present
// are scanned once, concurrently with the event loop.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.opts.Dir); err != nil {
		return err
	}

	w.setRunning(true)
	defer w.setRunning(false)
	w.log.WithField("folder", w.opts.Dir).Info("audio watcher started")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.ScanExisting(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.log.Info("audio watcher stopped")
			return nil
		case evt, ok := <-fw.Events:
			if !ok {
				w.wg.Wait()
				return nil
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
				w.handleEvent(ctx, evt.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				continue
			}
			w.log.WithError(err).Error("watcher error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	name := filepath.Base(path)
	if !config.IsSupportedAudio(name) {
		w.log.WithField("file", name).Debug("skipping non-audio file")
		return
	}
	if !w.claim(path) {
		w.log.WithField("file", name).Debug("file already claimed")
		return
	}
	w.log.WithField("file", name).Info("new audio file detected")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.waitStable(ctx, path)
		if ctx.Err() != nil {
			w.release(path)
			return
		}
		w.dispatch(ctx, path)
	}()
}

// ScanExisting dispatches every supported file in the directory that has no
// record yet, pausing StartupStagger between dispatches.
func (w *Watcher) ScanExisting(ctx context.Context) int {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		w.log.WithError(err).Error("error scanning existing files")
		return 0
	}
	var pending []string
	for _, e := range entries {
		if e.IsDir() || !config.IsSupportedAudio(e.Name()) {
			continue
		}
		if w.known != nil && w.known.Exists(ctx, e.Name()) {
			continue
		}
		pending = append(pending, filepath.Join(w.opts.Dir, e.Name()))
	}
	sort.Strings(pending)
	if len(pending) == 0 {
		w.log.Info("no unprocessed audio files found")
		return 0
	}
	w.log.Infof("found %d unprocessed audio files", len(pending))

	n := 0
	for i, path := range pending {
		if i > 0 && w.opts.StartupStagger > 0 {
			select {
			case <-ctx.Done():
				return n
			case <-time.After(w.opts.StartupStagger):
			}
		}
		if ctx.Err() != nil {
			return n
		}
		if !w.claim(path) {
			continue
		}
		w.log.WithField("file", filepath.Base(path)).Infof("queuing existing file [%d/%d]", i+1, len(pending))
		w.dispatch(ctx, path)
		n++
	}
	return n
}

// waitStable polls the size until it has been unchanged and non-zero for
// StableFor. After StableTimeout it gives up waiting and returns anyway.
func (w *Watcher) waitStable(ctx context.Context, path string) {
	need := int(w.opts.StableFor / w.opts.PollInterval)
	if need < 1 {
		need = 1
	}
	deadline := time.Now().Add(w.opts.StableTimeout)
	var last int64 = -1
	count := 0
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		if info, err := os.Stat(path); err == nil {
			size := info.Size()
			if size == last && size > 0 {
				count++
				if count >= need {
					return
				}
			} else {
				count = 0
				last = size
			}
		}
		if !time.Now().Before(deadline) {
			w.log.WithField("file", filepath.Base(path)).Warnf("file may not be stable after %s", w.opts.StableTimeout)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatch applies the size guards and hands the file to the queue. The
// claim is dropped when the job never runs or the file is still in place
// afterwards.
func (w *Watcher) dispatch(ctx context.Context, path string) {
	name := filepath.Base(path)
	entry := w.log.WithField("file", name)
	if err := w.checkSize(path); err != nil {
		entry.WithError(err).Error("file rejected")
		w.releaseIfPresent(path)
		return
	}

	job := queue.Job{
		ID:     name,
		Source: "watcher",
		Work: func(jobCtx context.Context) error {
			res := w.proc.ProcessFile(jobCtx, path)
			if res.Outcome == processor.OutcomeFailed || res.Outcome == processor.OutcomeInterrupted {
				return errors.New(res.Error)
			}
			return nil
		},
		OnFinish: func(error) { w.releaseIfPresent(path) },
	}
	enqueued, _ := w.jobs.EnqueueWithRetry(ctx, job, w.opts.EnqueueWindow, 250*time.Millisecond)
	if !enqueued {
		entry.Warn("could not queue file")
		w.release(path)
		return
	}
	w.mu.Lock()
	w.dispatched++
	w.mu.Unlock()
}

var (
	errEmptyFile = errors.New("empty file")
	errTooLarge  = errors.New("file too large")
)

func (w *Watcher) checkSize(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if w.opts.MaxFileSize > 0 && info.Size() > w.opts.MaxFileSize {
		return errTooLarge
	}
	if info.Size() == 0 {
		return errEmptyFile
	}
	return nil
}

func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.claims[path]; ok {
		return false
	}
	w.claims[path] = struct{}{}
	return true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	delete(w.claims, path)
	w.mu.Unlock()
}

// releaseIfPresent keeps the claim for files that were moved away.
func (w *Watcher) releaseIfPresent(path string) {
	if _, err := os.Stat(path); err == nil {
		w.release(path)
	}
}

func (w *Watcher) setRunning(v bool) {
	w.mu.Lock()
	w.running = v
	w.mu.Unlock()
}

func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Running:         w.running,
		MonitoredFolder: w.opts.Dir,
		ClaimedCount:    len(w.claims),
		Dispatched:      w.dispatched,
	}
}
