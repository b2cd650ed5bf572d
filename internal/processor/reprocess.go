package processor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Reprocess drops the stored record for filename, moves the audio from the
// processed directory back to the inbound directory and runs it again.
func (p *Processor) Reprocess(ctx context.Context, filename string) (Result, error) {
	filename = filepath.Base(filename)
	inbound := filepath.Join(p.inboundDir, filename)
	if _, err := os.Stat(inbound); errors.Is(err, fs.ErrNotExist) {
		src := filepath.Join(p.processedDir, filename)
		if _, err := os.Stat(src); err != nil {
			return Result{}, fmt.Errorf("audio for %s not found: %w", filename, err)
		}
		if err := os.MkdirAll(p.inboundDir, 0o755); err != nil {
			return Result{}, err
		}
		if err := rename(src, inbound); err != nil {
			return Result{}, fmt.Errorf("restore audio: %w", err)
		}
	}
	removed, err := p.store.Delete(ctx, filename)
	if err != nil {
		return Result{}, fmt.Errorf("delete record: %w", err)
	}
	p.log.WithField("filename", filename).WithField("removed", removed).Info("reprocessing file")
	return p.ProcessFile(ctx, inbound), nil
}
