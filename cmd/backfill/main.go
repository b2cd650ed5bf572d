// Command backfill runs maintenance jobs against the record store. Run it
// while the ingestion service is stopped.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"call-insights-go/internal/aggregator"
	"call-insights-go/internal/backfill"
	"call-insights-go/internal/config"
	"call-insights-go/internal/dataset"
	"call-insights-go/internal/disposition"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/pipeline"
	"call-insights-go/internal/store"
)

const jobs = "dispositions|sub-intents|diarization|migrate|export|import|delete|reprocess|stats"

func main() {
	job := flag.String("job", "", "job to run: "+jobs)
	limit := flag.Int("limit", 0, "maximum rows to classify or re-transcribe (0 = all)")
	checkpoint := flag.Int("checkpoint", disposition.DefaultCheckpoint, "rows between disposition saves")
	file := flag.String("file", "", "filename for delete and reprocess")
	path := flag.String("path", "", "workbook path for export and import")
	envFile := flag.String("env", "", "optional .env file")
	flag.Parse()

	log := logger.New()
	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner{cfg: cfg, log: log, limit: *limit, checkpoint: *checkpoint, file: *file, path: *path}
	out, err := r.run(ctx, *job)
	if err != nil {
		log.WithField("job", *job).WithError(err).Error("job failed")
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}

type runner struct {
	cfg        config.Config
	log        *logger.Logger
	limit      int
	checkpoint int
	file       string
	path       string
}

func (r runner) openStore(mustExist bool) (store.Store, error) {
	st, err := pipeline.OpenStore(r.cfg, mustExist, r.log.Component("store"))
	if errors.Is(err, store.ErrStoreMissing) {
		return nil, fmt.Errorf("no record store at %s: run the service or an import first", r.storePath())
	}
	return st, err
}

func (r runner) storePath() string {
	if r.cfg.StoreBackend == "sqlite" {
		return r.cfg.SQLitePath
	}
	return r.cfg.CSVFile
}

func (r runner) run(ctx context.Context, job string) (any, error) {
	switch job {
	case "import":
		if r.path == "" {
			return nil, errors.New("-path is required")
		}
		if err := r.cfg.EnsureDirectories(); err != nil {
			return nil, err
		}
		st, err := r.openStore(false)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		return dataset.Import(ctx, st, r.path, r.log.Component("dataset"))
	case "":
		return nil, fmt.Errorf("-job is required (%s)", jobs)
	}

	st, err := r.openStore(true)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	switch job {
	case "dispositions":
		if err := r.cfg.RequireProviders(false, true); err != nil {
			return nil, err
		}
		client := pipeline.NewLLM(r.cfg, r.log.Entry)
		cls := pipeline.NewDisposition(r.cfg, client, r.log.Entry)
		return cls.Backfill(ctx, st, disposition.BatchOptions{Checkpoint: r.checkpoint, Limit: r.limit})

	case "sub-intents":
		tax, err := pipeline.LoadTaxonomy(r.cfg)
		if err != nil {
			return nil, err
		}
		return backfill.SubIntents(ctx, st, tax, r.log.Entry)

	case "diarization":
		if err := r.cfg.RequireProviders(true, false); err != nil {
			return nil, err
		}
		tr, err := pipeline.NewTranscriber(r.cfg, r.log.Entry)
		if err != nil {
			return nil, err
		}
		return backfill.Diarization(ctx, st, tr, backfill.DiarizationOptions{
			Dirs:  []string{r.cfg.ProcessedFolder, r.cfg.AudioFolder},
			Limit: r.limit,
		}, r.log.Entry)

	case "migrate":
		// Opening the store already brought its columns up to date.
		recs, err := st.Scan(ctx)
		if err != nil {
			return nil, err
		}
		r.log.WithField("rows", len(recs)).Info("store schema is current")
		return map[string]int{"rows": len(recs)}, nil

	case "export":
		if r.path == "" {
			return nil, errors.New("-path is required")
		}
		recs, err := st.Scan(ctx)
		if err != nil {
			return nil, err
		}
		if err := dataset.Export(r.path, recs); err != nil {
			return nil, err
		}
		return map[string]any{"rows": len(recs), "path": r.path}, nil

	case "delete":
		if r.file == "" {
			return nil, errors.New("-file is required")
		}
		removed, err := st.Delete(ctx, r.file)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"removed": removed}, nil

	case "reprocess":
		if r.file == "" {
			return nil, errors.New("-file is required")
		}
		if err := r.cfg.RequireProviders(true, false); err != nil {
			return nil, err
		}
		proc, err := pipeline.NewProcessor(r.cfg, st, r.log.Entry)
		if err != nil {
			return nil, err
		}
		return proc.Reprocess(ctx, r.file)

	case "stats":
		recs, err := st.Scan(ctx)
		if err != nil {
			return nil, err
		}
		return aggregator.Aggregate(recs), nil
	}
	return nil, fmt.Errorf("unknown job %q (%s)", job, jobs)
}
