package storage

import (
	"bytes"
	"context"
	"strconv"

	"github.com/Skryldev/image-optimizer/core"
)

// SaveRun writes every successful result of run under bucket, keyed by its
// output name, and returns the keys written.  Failed items are skipped.  The
// first storage error stops the save.
func SaveRun(ctx context.Context, store core.StorageAdapter, bucket string, run *core.BatchRun) ([]core.StorageKey, error) {
	keys := make([]core.StorageKey, 0, run.SuccessCount)
	for _, res := range run.Results {
		if res.Status != core.StatusDone {
			continue
		}
		key := core.StorageKey{Bucket: bucket, Path: res.NewName}
		if err := store.Put(ctx, key, bytes.NewReader(res.EncodedBytes), ResultMeta(run.ID, res)); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// ResultMeta describes a finished result as string metadata.
func ResultMeta(runID string, res *core.ProcessingResult) map[string]string {
	return map[string]string{
		"run_id":          runID,
		"original_name":   res.OriginalName,
		"original_size":   strconv.FormatInt(res.OriginalSize, 10),
		"new_size":        strconv.FormatInt(res.NewSize, 10),
		"format":          string(res.Format),
		"mime_type":       res.Format.MIMEType(),
		"quality":         strconv.Itoa(res.Quality),
		"width":           strconv.Itoa(res.Width),
		"height":          strconv.Itoa(res.Height),
		"savings_percent": strconv.FormatFloat(res.SavingsPercent, 'f', 2, 64),
	}
}
