// Package cloudsync pulls recent recordings from object storage into the
// inbound directory, where the watcher picks them up.
package cloudsync

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/config"
	"call-insights-go/internal/logger"
)

type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the remote side of the sync.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]Object, error)
	Download(ctx context.Context, key, dest string) error
}

// Known reports whether a filename already has a record.
type Known interface {
	Exists(ctx context.Context, filename string) bool
}

type Options struct {
	Prefix   string
	Dir      string
	Interval time.Duration
	Lookback time.Duration
	Limit    int
}

// Report is the outcome of one sync cycle.
type Report struct {
	Listed     int `json:"listed"`
	Candidates int `json:"candidates"`
	Attempted  int `json:"attempted"`
	Downloaded int `json:"downloaded"`
	Existing   int `json:"existing"`
	Failed     int `json:"failed"`
}

type Worker struct {
	remote ObjectStore
	known  Known
	opts   Options
	log    *logrus.Entry
	now    func() time.Time
}

func NewWorker(remote ObjectStore, known Known, opts Options, log *logrus.Entry) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = 300 * time.Second
	}
	if opts.Limit <= 0 {
		opts.Limit = 1000
	}
	return &Worker{
		remote: remote,
		known:  known,
		opts:   opts,
		log:    logger.OrDiscard(log).WithField("component", "cloudsync"),
		now:    time.Now,
	}
}

// Run syncs immediately and then every Interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Infof("sync worker started (every %s)", w.opts.Interval)
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		w.cycle(ctx)
		select {
		case <-ctx.Done():
			w.log.Info("sync worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorf("sync cycle panic recovered: %v", r)
		}
	}()
	rep, err := w.RunOnce(ctx)
	if err != nil {
		w.log.WithError(err).Error("sync error")
		return
	}
	if rep.Downloaded > 0 {
		w.log.Infof("sync complete: downloaded %d new recordings", rep.Downloaded)
	}
}

// RunOnce performs a single cycle. Only a listing failure is returned as an
// error; individual download failures are counted in the report.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	objects, err := w.remote.List(ctx, w.opts.Prefix)
	if err != nil {
		return rep, err
	}
	rep.Listed = len(objects)

	recent := w.filter(objects)
	rep.Candidates = len(recent)

	var pending []Object
	for _, o := range recent {
		if w.known != nil && w.known.Exists(ctx, path.Base(o.Key)) {
			continue
		}
		pending = append(pending, o)
	}
	if len(pending) == 0 {
		w.log.Info("no new recordings to sync")
		return rep, nil
	}
	w.log.Infof("found %d new recordings to download", len(pending))

	for i, o := range pending {
		if ctx.Err() != nil {
			break
		}
		rep.Attempted++
		name := path.Base(o.Key)
		entry := w.log.WithFields(logrus.Fields{"file": name, "progress": fmt.Sprintf("%d/%d", i+1, len(pending))})
		dest := filepath.Join(w.opts.Dir, name)
		if _, err := os.Stat(dest); err == nil {
			entry.Info("file already exists locally")
			rep.Existing++
			continue
		}
		if err := w.remote.Download(ctx, o.Key, dest); err != nil {
			entry.WithError(err).Error("download failed")
			rep.Failed++
			continue
		}
		entry.Info("downloaded")
		rep.Downloaded++
	}

	rate := 0.0
	if rep.Attempted > 0 {
		rate = float64(rep.Downloaded+rep.Existing) / float64(rep.Attempted) * 100
	}
	w.log.Infof("download complete: %d/%d files (%.1f%% success)", rep.Downloaded+rep.Existing, rep.Attempted, rate)
	return rep, nil
}

// filter keeps audio objects inside the lookback window, newest first,
// capped at Limit.
func (w *Worker) filter(objects []Object) []Object {
	var cutoff time.Time
	if w.opts.Lookback > 0 {
		cutoff = w.now().Add(-w.opts.Lookback)
	}
	var out []Object
	for _, o := range objects {
		if !cutoff.IsZero() && o.LastModified.Before(cutoff) {
			continue
		}
		if !config.IsSupportedAudio(o.Key) {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })
	if len(out) > w.opts.Limit {
		out = out[:w.opts.Limit]
	}
	return out
}
