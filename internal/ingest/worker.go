// Package ingest consumes queued tasks and runs the full indexing
// pipeline: fetch, extract, split, embed and store.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/extract"
	"github.com/fyrsmithlabs/knowledged/internal/metadata"
	"github.com/fyrsmithlabs/knowledged/internal/queue"
	"github.com/fyrsmithlabs/knowledged/internal/source"
	"github.com/fyrsmithlabs/knowledged/internal/splitter"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

// Stage progress checkpoints for single-file tasks. Multi-document
// tasks scale the remaining 0.9 by documents completed.
const (
	progressDownloaded = 0.1
	progressExtracted  = 0.3
	progressSplit      = 0.5
)

// Worker consumes the task queue and drives ingestion end to end.
type Worker struct {
	queue      *queue.Queue
	meta       *metadata.Store
	store      vectorstore.Store
	embedder   *embeddings.Registry
	downloader *source.Downloader
	extractor  *extract.Extractor
	logger     *zap.Logger
}

// NewWorker wires the worker's collaborators.
func NewWorker(q *queue.Queue, meta *metadata.Store, store vectorstore.Store, embedder *embeddings.Registry, downloader *source.Downloader, logger *zap.Logger) *Worker {
	return &Worker{
		queue:      q,
		meta:       meta,
		store:      store,
		embedder:   embedder,
		downloader: downloader,
		extractor:  extract.New(logger),
		logger:     logger.Named("ingest"),
	}
}

// Run consumes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	for {
		payload, err := w.queue.DequeueBlocking(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return ctx.Err()
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		w.Process(ctx, payload)
	}
}

// Process runs one task to a terminal state. Task-level errors are
// absorbed into the FAILED status rather than returned, so a bad task
// never stops the consume loop.
func (w *Worker) Process(ctx context.Context, p *queue.Payload) {
	start := time.Now()
	logger := w.logger.With(
		zap.String("task_id", p.TaskID),
		zap.String("knowledge_base_id", p.KnowledgeBaseID))

	err := w.process(ctx, p, logger)
	taskDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		tasksTotal.WithLabelValues("failed").Inc()
		logger.Error("task failed", zap.Error(err))
		if updErr := w.meta.UpdateTaskProgress(ctx, p.TaskID, metadata.StatusFailed, nil, err.Error()); updErr != nil {
			logger.Error("recording task failure", zap.Error(updErr))
		}
		return
	}
	tasksTotal.WithLabelValues("completed").Inc()
	logger.Info("task completed", zap.Duration("elapsed", time.Since(start)))
}

func (w *Worker) process(ctx context.Context, p *queue.Payload, logger *zap.Logger) error {
	if err := p.Validate(); err != nil {
		return err
	}

	kb, err := w.meta.GetKnowledgeBase(ctx, p.KnowledgeBaseID)
	if err != nil {
		return err
	}

	split, err := splitter.New(p.ChunkSize, p.ChunkOverlap, p.Separator)
	if err != nil {
		return err
	}
	opts := extract.Options{JQSchema: p.JQSchema, PreProcessRules: p.PreProcessRules}

	if err := w.meta.UpdateTaskProgress(ctx, p.TaskID, metadata.StatusInProgress, ptr(0.0), "task started"); err != nil {
		return err
	}
	if err := w.store.CreateCollection(ctx, vectorstore.CollectionName(kb.ID), kb.Dimension); err != nil {
		return err
	}

	switch {
	case p.OSSType != "":
		return w.processBucket(ctx, kb, p, opts, split, logger)
	case strings.EqualFold(filepath.Ext(p.Filename), ".zip") || strings.HasSuffix(strings.ToLower(p.FileURL), ".zip"):
		return w.processArchive(ctx, kb, p, opts, split, logger)
	default:
		return w.processSingle(ctx, kb, p, opts, split)
	}
}

// processSingle ingests one file and propagates its failure to the
// task.
func (w *Worker) processSingle(ctx context.Context, kb *metadata.KnowledgeBase, p *queue.Payload, opts extract.Options, split *splitter.Splitter) error {
	doc, err := w.meta.CreateDocument(ctx, metadata.CreateDocumentParams{
		KnowledgeBaseID: kb.ID,
		Filename:        p.Filename,
		SourceURL:       p.FileURL,
	})
	if err != nil {
		return err
	}

	localPath, err := w.downloader.Download(ctx, p.FileURL, p.Filename)
	if err != nil {
		if updErr := w.meta.UpdateDocumentStatus(ctx, doc.ID, metadata.StatusFailed, err.Error()); updErr != nil {
			w.logger.Error("recording document failure", zap.Error(updErr))
		}
		return err
	}
	defer os.RemoveAll(filepath.Dir(localPath))
	w.reportProgress(ctx, p.TaskID, progressDownloaded, "downloaded "+p.Filename)

	report := func(progress float64, message string) {
		w.reportProgress(ctx, p.TaskID, progress, message)
	}
	if err := w.ingestDocument(ctx, kb, doc, p.UserID, localPath, opts, split, report); err != nil {
		return err
	}
	return w.meta.UpdateTaskProgress(ctx, p.TaskID, metadata.StatusCompleted, nil, "indexed "+p.Filename)
}

// processArchive expands a ZIP and ingests every known file inside.
// Individual failures are recorded per document; the task completes as
// long as the archive itself was readable.
func (w *Worker) processArchive(ctx context.Context, kb *metadata.KnowledgeBase, p *queue.Payload, opts extract.Options, split *splitter.Splitter, logger *zap.Logger) error {
	archivePath, err := w.downloader.Download(ctx, p.FileURL, p.Filename)
	if err != nil {
		return err
	}
	defer os.RemoveAll(filepath.Dir(archivePath))
	w.reportProgress(ctx, p.TaskID, progressDownloaded, "downloaded "+p.Filename)

	dir, paths, err := source.ExtractZip(archivePath)
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	if len(paths) == 0 {
		return fmt.Errorf("ingest: archive %s holds no ingestible files", p.Filename)
	}

	fetch := func(ctx context.Context, path string) (string, func(), error) {
		return path, func() {}, nil
	}
	name := func(path string) string {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return filepath.Base(path)
		}
		return rel
	}
	return w.processBatch(ctx, kb, p, opts, split, paths, name, fetch, logger)
}

// processBucket ingests every matching object under an object-store
// prefix.
func (w *Worker) processBucket(ctx context.Context, kb *metadata.KnowledgeBase, p *queue.Payload, opts extract.Options, split *splitter.Splitter, logger *zap.Logger) error {
	store, err := source.NewObjectStore(p.OSSType, p.OSSConfig)
	if err != nil {
		return err
	}

	keys, err := store.ListKeys(ctx, source.ListOptionsFromConfig(p.OSSConfig))
	if err != nil {
		return err
	}
	w.reportProgress(ctx, p.TaskID, progressDownloaded, fmt.Sprintf("listed %d objects", len(keys)))
	if len(keys) == 0 {
		return w.meta.UpdateTaskProgress(ctx, p.TaskID, metadata.StatusCompleted, nil, "Succeed 0/0, Failed 0/0")
	}

	fetch := func(ctx context.Context, key string) (string, func(), error) {
		signed, err := store.SignURL(ctx, key, source.SignTTL)
		if err != nil {
			return "", nil, err
		}
		localPath, err := w.downloader.Download(ctx, signed, filepath.Base(key))
		if err != nil {
			return "", nil, err
		}
		return localPath, func() { os.RemoveAll(filepath.Dir(localPath)) }, nil
	}
	return w.processBatch(ctx, kb, p, opts, split, keys, func(key string) string { return key }, fetch, logger)
}

// processBatch runs the shared multi-document loop: each item becomes
// its own document row, failures are isolated, and task progress climbs
// from 0.1 to 1.0 with a running success tally.
func (w *Worker) processBatch(ctx context.Context, kb *metadata.KnowledgeBase, p *queue.Payload, opts extract.Options, split *splitter.Splitter, items []string, name func(string) string, fetch func(context.Context, string) (string, func(), error), logger *zap.Logger) error {
	total := len(items)
	succeeded, failed := 0, 0

	for i, item := range items {
		filename := name(item)
		doc, err := w.meta.CreateDocument(ctx, metadata.CreateDocumentParams{
			KnowledgeBaseID: kb.ID,
			Filename:        filename,
			SourceURL:       item,
		})
		if err != nil {
			return err
		}

		if err := w.ingestOne(ctx, kb, doc, p.UserID, item, opts, split, fetch); err != nil {
			failed++
			logger.Warn("document failed",
				zap.String("document_id", doc.ID),
				zap.String("filename", filename),
				zap.Error(err))
		} else {
			succeeded++
		}

		done := i + 1
		w.reportProgress(ctx, p.TaskID, batchProgress(done, total), batchMessage(succeeded, failed, total))
	}

	return w.meta.UpdateTaskProgress(ctx, p.TaskID, metadata.StatusCompleted, nil, batchMessage(succeeded, failed, total))
}

// batchProgress maps documents completed onto the 0.1..1.0 span left
// after listing.
func batchProgress(done, total int) float64 {
	return progressDownloaded + 0.9*float64(done)/float64(total)
}

func batchMessage(succeeded, failed, total int) string {
	return fmt.Sprintf("Succeed %d/%d, Failed %d/%d", succeeded, total, failed, total)
}

func (w *Worker) ingestOne(ctx context.Context, kb *metadata.KnowledgeBase, doc *metadata.Document, userID, item string, opts extract.Options, split *splitter.Splitter, fetch func(context.Context, string) (string, func(), error)) error {
	localPath, cleanup, err := fetch(ctx, item)
	if err != nil {
		if updErr := w.meta.UpdateDocumentStatus(ctx, doc.ID, metadata.StatusFailed, err.Error()); updErr != nil {
			w.logger.Error("recording document failure", zap.Error(updErr))
		}
		return err
	}
	defer cleanup()
	return w.ingestDocument(ctx, kb, doc, userID, localPath, opts, split, noProgress)
}

func (w *Worker) reportProgress(ctx context.Context, taskID string, progress float64, message string) {
	if err := w.meta.UpdateTaskProgress(ctx, taskID, metadata.StatusInProgress, &progress, message); err != nil {
		w.logger.Error("recording task progress",
			zap.String("task_id", taskID), zap.Error(err))
	}
}

func ptr(f float64) *float64 { return &f }
