package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/extract"
	"github.com/fyrsmithlabs/knowledged/internal/metadata"
	"github.com/fyrsmithlabs/knowledged/internal/splitter"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

// ErrNoContent indicates extraction produced nothing indexable.
var ErrNoContent = errors.New("ingest: no extractable content")

// progressFunc receives per-stage progress inside a document pipeline.
// Multi-document tasks pass a no-op and report at document granularity
// instead.
type progressFunc func(progress float64, message string)

func noProgress(float64, string) {}

// ingestDocument runs one file through extract, split, embed and store.
// The document row transitions IN_PROGRESS on entry and COMPLETED or
// FAILED on exit.
func (w *Worker) ingestDocument(ctx context.Context, kb *metadata.KnowledgeBase, doc *metadata.Document, userID, localPath string, opts extract.Options, split *splitter.Splitter, report progressFunc) error {
	if err := w.meta.UpdateDocumentStatus(ctx, doc.ID, metadata.StatusInProgress, ""); err != nil {
		return err
	}

	err := w.indexDocument(ctx, kb, doc, userID, localPath, opts, split, report)
	if err != nil {
		documentsTotal.WithLabelValues("failed").Inc()
		if updErr := w.meta.UpdateDocumentStatus(ctx, doc.ID, metadata.StatusFailed, err.Error()); updErr != nil {
			w.logger.Error("recording document failure",
				zap.String("document_id", doc.ID), zap.Error(updErr))
		}
		return err
	}

	documentsTotal.WithLabelValues("completed").Inc()
	return w.meta.UpdateDocumentStatus(ctx, doc.ID, metadata.StatusCompleted, "")
}

func (w *Worker) indexDocument(ctx context.Context, kb *metadata.KnowledgeBase, doc *metadata.Document, userID, localPath string, opts extract.Options, split *splitter.Splitter, report progressFunc) error {
	segments, err := w.extractor.Extract(ctx, localPath, opts)
	if err != nil {
		return fmt.Errorf("extracting %s: %w", doc.Filename, err)
	}
	if len(segments) == 0 {
		return ErrNoContent
	}
	report(0.3, "extracted "+doc.Filename)

	// jq projection already yields one segment per record; splitting
	// those would break the record boundary.
	chunks := segments
	if opts.JQSchema == "" {
		chunks = split.Split(segments)
	}
	if len(chunks) == 0 {
		return ErrNoContent
	}
	report(0.5, "split "+doc.Filename)

	now := time.Now().Unix()
	texts := make([]string, len(chunks))
	keySet := map[string]bool{}
	stored := make([]vectorstore.Document, len(chunks))
	for i, chunk := range chunks {
		meta := make(map[string]any, len(chunk.Metadata)+4)
		for k, v := range chunk.Metadata {
			meta[k] = v
		}
		// "source" holds the local temp path and must not be indexed.
		delete(meta, "source")
		meta["document_id"] = doc.ID
		meta["created_at"] = now
		meta["user_id"] = userID
		meta["filename"] = doc.Filename

		for k := range meta {
			keySet[k] = true
		}
		texts[i] = chunk.PageContent
		stored[i] = vectorstore.Document{
			PK:          vectorstore.SegmentID(chunk.PageContent),
			PageContent: chunk.PageContent,
			Metadata:    meta,
		}
	}

	vectors, err := w.embedder.Encode(ctx, kb.EmbeddingModel, texts)
	if err != nil {
		return fmt.Errorf("embedding %s: %w", doc.Filename, err)
	}

	collection := vectorstore.CollectionName(kb.ID)
	if _, err := w.store.AddTexts(ctx, collection, stored, vectors); err != nil {
		return fmt.Errorf("storing %s: %w", doc.Filename, err)
	}
	segmentsIndexed.Add(float64(len(stored)))

	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	if _, err := w.meta.AddMetadataKeys(ctx, kb.ID, keys); err != nil {
		return fmt.Errorf("registering metadata keys: %w", err)
	}
	return nil
}
