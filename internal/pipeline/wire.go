package pipeline

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/cloudsync"
	"call-insights-go/internal/config"
	"call-insights-go/internal/disposition"
	"call-insights-go/internal/extractor"
	"call-insights-go/internal/llm"
	"call-insights-go/internal/processor"
	"call-insights-go/internal/retry"
	"call-insights-go/internal/store"
	"call-insights-go/internal/transcription"
)

// OpenStore opens the configured record store backend.
func OpenStore(cfg config.Config, mustExist bool, log *logrus.Entry) (store.Store, error) {
	return store.Open(store.Options{
		Backend:    cfg.StoreBackend,
		CSVPath:    cfg.CSVFile,
		SQLitePath: cfg.SQLitePath,
		MustExist:  mustExist,
	}, log)
}

func retryPolicy(cfg config.Config) retry.Policy {
	return retry.Policy{MaxAttempts: cfg.MaxRetries, Delay: cfg.RetryDelayDuration()}
}

// NewTranscriber builds the configured provider wrapped in the retrying client.
func NewTranscriber(cfg config.Config, log *logrus.Entry) (*transcription.Client, error) {
	var backend transcription.Transcriber
	switch cfg.TranscribeProvider {
	case "assemblyai":
		backend = transcription.NewAssemblyAI(cfg.AssemblyAIAPIKey)
	case "", "deepgram":
		backend = transcription.NewDeepgram(cfg.DeepgramAPIKey, cfg.DeepgramURL, cfg.APITimeoutDuration())
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", cfg.TranscribeProvider)
	}
	return transcription.NewClient(backend, retryPolicy(cfg), log.WithField("component", "transcription")), nil
}

// NewLLM returns the chat-completions client shared by both classifiers.
func NewLLM(cfg config.Config, log *logrus.Entry) *llm.Client {
	return llm.New(cfg.LLMGatewayURL, cfg.OpenAIAPIKey, cfg.APITimeoutDuration(), log.WithField("component", "llm"))
}

// LoadTaxonomy reads TAXONOMY_FILE, or the built-in taxonomy when unset.
func LoadTaxonomy(cfg config.Config) (*extractor.Taxonomy, error) {
	if cfg.TaxonomyFile == "" {
		return extractor.DefaultTaxonomy(), nil
	}
	return extractor.LoadTaxonomy(cfg.TaxonomyFile)
}

func NewClassifier(cfg config.Config, client *llm.Client, log *logrus.Entry) (*extractor.Classifier, error) {
	tax, err := LoadTaxonomy(cfg)
	if err != nil {
		return nil, err
	}
	return extractor.NewClassifier(client, tax, extractor.Options{
		Model:    cfg.OpenAIModel,
		MaxChars: cfg.ClassifyMaxChars,
		Policy:   retryPolicy(cfg),
	}, log.WithField("component", "classifier")), nil
}

func NewDisposition(cfg config.Config, client *llm.Client, log *logrus.Entry) *disposition.Classifier {
	return disposition.NewClassifier(client, cfg.DispositionModel, log.WithField("component", "disposition"))
}

// NewProcessor wires the ingestion pipeline. Dispositions are only filled
// at ingest time when an LLM key is configured.
func NewProcessor(cfg config.Config, st store.Store, log *logrus.Entry) (*processor.Processor, error) {
	tr, err := NewTranscriber(cfg, log)
	if err != nil {
		return nil, err
	}
	client := NewLLM(cfg, log)
	cls, err := NewClassifier(cfg, client, log)
	if err != nil {
		return nil, err
	}
	deps := processor.Deps{
		Store:        st,
		Transcriber:  tr,
		Classifier:   cls,
		InboundDir:   cfg.AudioFolder,
		ProcessedDir: cfg.ProcessedFolder,
		Log:          log,
	}
	if client.Configured() {
		deps.Disposition = NewDisposition(cfg, client, log)
	}
	return processor.New(deps), nil
}

// NewSyncWorker returns nil when cloud sync is disabled or has no credentials.
func NewSyncWorker(cfg config.Config, known cloudsync.Known, log *logrus.Entry) (*cloudsync.Worker, error) {
	if !cfg.SyncConfigured() {
		return nil, nil
	}
	remote, err := cloudsync.NewMinIOStore(cloudsync.MinIOConfig{
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		Region:          cfg.AWSRegion,
		Bucket:          cfg.AWSBucketName,
		UseSSL:          cfg.S3UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return cloudsync.NewWorker(remote, known, cloudsync.Options{
		Prefix:   cfg.AWSPrefix,
		Dir:      cfg.AudioFolder,
		Interval: cfg.SyncInterval(),
		Lookback: cfg.Lookback(),
		Limit:    cfg.S3ListLimit,
	}, log), nil
}
