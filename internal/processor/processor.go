// Package processor runs one audio file through metadata extraction,
// transcription, classification, relocation and persistence.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"call-insights-go/internal/disposition"
	"call-insights-go/internal/extractor"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/metadata"
	"call-insights-go/internal/store"
	"call-insights-go/internal/transcription"
	"call-insights-go/internal/types"
)

type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeInterrupted means the caller cancelled before the file was
	// relocated. Nothing is recorded, so the file is picked up again later.
	OutcomeInterrupted Outcome = "interrupted"
)

// Result is what one ProcessFile call did.
type Result struct {
	Filename string            `json:"filename"`
	Outcome  Outcome           `json:"outcome"`
	Record   *types.CallRecord `json:"record,omitempty"`
	MovedTo  string            `json:"moved_to,omitempty"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Classifier produces summary, intent and sub-intent. ok=false means every
// attempt failed.
type Classifier interface {
	Classify(ctx context.Context, transcript string) (extractor.Classification, bool)
}

// DispositionClassifier is optional; when set, ingestion also fills the
// disposition columns.
type DispositionClassifier interface {
	Classify(ctx context.Context, transcript, summary string) disposition.Disposition
}

type Deps struct {
	Store        store.Store
	Transcriber  transcription.Transcriber
	Classifier   Classifier
	Disposition  DispositionClassifier
	InboundDir   string
	ProcessedDir string
	Log          *logrus.Entry
	Now          func() time.Time
}

type Processor struct {
	store        store.Store
	transcriber  transcription.Transcriber
	classifier   Classifier
	disposition  DispositionClassifier
	meta         *metadata.Extractor
	inboundDir   string
	processedDir string
	log          *logrus.Entry
	now          func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(d Deps) *Processor {
	log := logger.OrDiscard(d.Log).WithField("component", "processor")
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Processor{
		store:        d.Store,
		transcriber:  d.Transcriber,
		classifier:   d.Classifier,
		disposition:  d.Disposition,
		meta:         metadata.NewExtractor(log),
		inboundDir:   d.InboundDir,
		processedDir: d.ProcessedDir,
		log:          log,
		now:          now,
		inflight:     map[string]struct{}{},
	}
}

func (p *Processor) claim(filename string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[filename]; busy {
		return false
	}
	p.inflight[filename] = struct{}{}
	return true
}

func (p *Processor) release(filename string) {
	p.mu.Lock()
	delete(p.inflight, filename)
	p.mu.Unlock()
}

// InFlight returns how many files are being processed right now.
func (p *Processor) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// ProcessFile never returns an error: every failure ends up in the record
// row and the result. Exactly one row is appended unless the file is skipped.
func (p *Processor) ProcessFile(ctx context.Context, path string) (res Result) {
	filename := filepath.Base(path)
	log := p.log.WithFields(logrus.Fields{"filename": filename, "run_id": uuid.New().String()})
	res = Result{Filename: filename}

	if !p.claim(filename) {
		log.Info("already being processed, skipping")
		res.Outcome = OutcomeSkipped
		return res
	}
	defer p.release(filename)

	if p.store.Exists(ctx, filename) {
		log.Info("already processed, skipping")
		res.Outcome = OutcomeSkipped
		return res
	}

	start := p.now()
	rec := types.CallRecord{
		Timestamp:    start.Format(time.RFC3339),
		Filename:     filename,
		SpeakerCount: 1,
		Intent:       extractor.DefaultIntent,
		SubIntent:    extractor.DefaultSubIntent,
		Status:       types.StatusProcessing,
	}
	log.Info("processing started")

	defer func() {
		if r := recover(); r != nil {
			rec.Status = types.StatusFailed
			rec.ErrorMessage = fmt.Sprintf("panic: %v", r)
		}
		elapsed := p.now().Sub(start)
		rec.ProcessingTime = elapsed.Seconds()
		res.Duration = elapsed
		res.Record = &rec

		if rec.Status != types.StatusCompleted && ctx.Err() != nil {
			res.Outcome = OutcomeInterrupted
			res.Error = ctx.Err().Error()
			res.Record = nil
			log.Warnf("interrupted after %.2fs, left in inbound for the next run", elapsed.Seconds())
			return
		}

		switch rec.Status {
		case types.StatusCompleted:
			res.Outcome = OutcomeCompleted
			log.Infof("completed in %.2fs", elapsed.Seconds())
		default:
			rec.Status = types.StatusFailed
			if rec.ErrorMessage == "" {
				rec.ErrorMessage = "processing interrupted"
			}
			res.Outcome = OutcomeFailed
			res.Error = rec.ErrorMessage
			log.Errorf("failed: %s", rec.ErrorMessage)
		}

		// Appends survive caller cancellation so the run is always recorded.
		if err := p.store.Append(context.WithoutCancel(ctx), rec); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				log.Warn("record appeared while processing, not appending a duplicate")
				res.Outcome = OutcomeSkipped
				return
			}
			log.WithError(err).Error("failed to persist record")
			res.Outcome = OutcomeFailed
			res.Error = err.Error()
			if res.MovedTo != "" {
				p.restore(res.MovedTo, path, log)
				res.MovedTo = ""
			}
		}
	}()

	rec.Metadata = p.meta.Extract(filename)

	info, err := os.Stat(path)
	if err != nil {
		rec.ErrorMessage = fmt.Sprintf("stat file: %v", err)
		return res
	}
	rec.FileSize = info.Size()

	data, err := os.ReadFile(path)
	if err != nil {
		rec.ErrorMessage = fmt.Sprintf("read file: %v", err)
		return res
	}

	tr, err := p.transcriber.Transcribe(ctx, transcription.Audio{Name: filename, Data: data})
	if err != nil {
		rec.ErrorMessage = err.Error()
		return res
	}
	rec.Transcription = tr.Transcript
	rec.DiarizedTranscription = tr.Diarized
	rec.SpeakerCount = tr.SpeakerCount
	rec.Duration = tr.Duration

	cls, ok := p.classifier.Classify(ctx, tr.Transcript)
	if !ok {
		log.Warn("AI analysis failed, using defaults")
		cls = extractor.FailedClassification()
	}
	rec.Summary, rec.Intent, rec.SubIntent = cls.Summary, cls.Intent, cls.SubIntent

	if p.disposition != nil && tr.Transcript != "" {
		d := p.disposition.Classify(ctx, tr.Transcript, rec.Summary)
		rec.PrimaryDisposition, rec.SecondaryDisposition = d.Primary, d.Secondary
	}

	dest, err := MoveFile(path, p.processedDir)
	if err != nil {
		rec.ErrorMessage = fmt.Sprintf("move file: %v", err)
		return res
	}
	res.MovedTo = dest
	rec.Status = types.StatusCompleted
	return res
}

// restore puts an unrecorded file back in the inbound directory so a later
// run can record it.
func (p *Processor) restore(moved, path string, log *logrus.Entry) {
	if _, err := os.Stat(path); err == nil {
		log.WithField("moved_to", moved).Error("inbound name taken, leaving unrecorded file in processed dir")
		return
	}
	if err := rename(moved, path); err != nil {
		log.WithError(err).WithField("moved_to", moved).Error("could not return unrecorded file to inbound")
		return
	}
	log.Warn("returned unrecorded file to inbound")
}
