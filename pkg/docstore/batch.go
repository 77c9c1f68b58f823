package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

// flushThreshold is how many staged writes accumulate before an automatic
// flush.
const flushThreshold = 10

// Outcome classifies what Write decided for one staged document.
type Outcome string

const (
	OutcomeInserted         Outcome = "inserted"
	OutcomeUpdated          Outcome = "updated"
	OutcomeSkippedUnchanged Outcome = "skipped_unchanged"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
)

// StagedChunk is one pre-embedded chunk of a staged document.
type StagedChunk struct {
	Content   string
	Embedding models.Vector
}

// StagedDocument carries everything needed to insert or update one document.
// The caller has already summarized, embedded and chunked.
type StagedDocument struct {
	Title                string
	Summary              string
	ContentHash          string
	UniqueIdentifierHash string
	SourceID             string
	ConnectorType        models.ConnectorType
	Metadata             map[string]interface{}
	Embedding            models.Vector
	Chunks               []StagedChunk
}

// Counters accumulates run totals across flushes.
type Counters struct {
	Inserted         int
	Updated          int
	SkippedUnchanged int
	SkippedDuplicate int
	Errors           int
}

// Total returns how many items the writer has seen.
func (c Counters) Total() int {
	return c.Inserted + c.Updated + c.SkippedUnchanged + c.SkippedDuplicate + c.Errors
}

// BatchWriter stages document writes and commits them in short transactions,
// never holding one open across a network call. Write decides one of four
// outcomes per item; inserts and updates buffer until the flush threshold.
//
// Writers are not safe for concurrent use; runs are serialized per connector
// upstream.
type BatchWriter struct {
	store *Store

	spaceID     uint
	connectorID uint
	userID      string

	inserts  []*StagedDocument
	updates  []stagedUpdate
	counters Counters
}

type stagedUpdate struct {
	documentID uint
	staged     *StagedDocument
}

// NewBatchWriter creates a writer scoped to one connector run.
func (s *Store) NewBatchWriter(spaceID, connectorID uint, userID string) *BatchWriter {
	return &BatchWriter{
		store:       s,
		spaceID:     spaceID,
		connectorID: connectorID,
		userID:      userID,
	}
}

// Write dispatches one staged document:
//
//   - same source item, same content  -> skipped unchanged
//   - same source item, new content   -> update in place, chunks replaced
//   - new source item, known content  -> skipped duplicate
//   - both unknown                    -> insert
//
// The returned outcome is the staging decision. A unique-constraint race
// surfacing at flush downgrades the counter to a duplicate skip without
// failing the batch.
func (w *BatchWriter) Write(ctx context.Context, staged *StagedDocument) (Outcome, error) {
	if staged.UniqueIdentifierHash == "" || staged.ContentHash == "" {
		return "", fmt.Errorf("staged document %q missing hashes", staged.Title)
	}

	existing, err := w.store.FindByUniqueIdentifierHash(ctx, staged.UniqueIdentifierHash)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if existing.ContentHash == staged.ContentHash {
			w.counters.SkippedUnchanged++
			return OutcomeSkippedUnchanged, nil
		}
		w.updates = append(w.updates, stagedUpdate{documentID: existing.ID, staged: staged})
		w.counters.Updated++
		return OutcomeUpdated, w.maybeFlush(ctx)
	}

	dup, err := w.store.FindByContentHash(ctx, staged.ContentHash)
	if err != nil {
		return "", err
	}
	if dup != nil {
		w.counters.SkippedDuplicate++
		return OutcomeSkippedDuplicate, nil
	}

	w.inserts = append(w.inserts, staged)
	w.counters.Inserted++
	return OutcomeInserted, w.maybeFlush(ctx)
}

// RecordError counts a per-item failure the caller chose to skip.
func (w *BatchWriter) RecordError() {
	w.counters.Errors++
}

// RecordSkip counts an item the unchanged pre-check dropped before staging.
func (w *BatchWriter) RecordSkip() {
	w.counters.SkippedUnchanged++
}

// RecordDuplicateSkip counts an item dropped because another connector
// already owns its content, decided before staging (the early source-id
// check lands here).
func (w *BatchWriter) RecordDuplicateSkip() {
	w.counters.SkippedDuplicate++
}

// Counters returns the running totals. Buffered inserts and updates are
// counted as staged; a duplicate race at flush moves one from Inserted to
// SkippedDuplicate.
func (w *BatchWriter) Counters() Counters {
	return w.counters
}

// Pending returns how many writes are buffered.
func (w *BatchWriter) Pending() int {
	return len(w.inserts) + len(w.updates)
}

func (w *BatchWriter) maybeFlush(ctx context.Context) error {
	if w.Pending() < flushThreshold {
		return nil
	}
	return w.Flush(ctx)
}

// Flush commits the buffered writes in one transaction. A failed transaction
// is retried once before the error propagates to the run.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if w.Pending() == 0 {
		return nil
	}

	err := w.flushOnce(ctx)
	if err != nil {
		w.store.logger.Warn("flush failed, retrying once", "error", err)
		err = w.flushOnce(ctx)
	}
	if err != nil {
		return fmt.Errorf("flush document batch: %w", err)
	}

	w.inserts = w.inserts[:0]
	w.updates = w.updates[:0]
	return nil
}

func (w *BatchWriter) flushOnce(ctx context.Context) error {
	duplicates := 0
	err := w.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range w.updates {
			if err := w.applyUpdate(tx, u); err != nil {
				return err
			}
		}
		for i, staged := range w.inserts {
			inserted, err := w.applyInsert(tx, i, staged)
			if err != nil {
				return err
			}
			if !inserted {
				duplicates++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.counters.Inserted -= duplicates
	w.counters.SkippedDuplicate += duplicates

	w.store.logger.Debug("flushed batch",
		"inserts", len(w.inserts)-duplicates,
		"updates", len(w.updates),
		"duplicate_races", duplicates,
	)
	return nil
}

func (w *BatchWriter) applyUpdate(tx *gorm.DB, u stagedUpdate) error {
	updates := map[string]interface{}{
		"title":        u.staged.Title,
		"content":      u.staged.Summary,
		"content_hash": u.staged.ContentHash,
		"source_id":    u.staged.SourceID,
		"metadata":     models.JSONFrom(u.staged.Metadata),
		"embedding":    u.staged.Embedding,
		"updated_at":   time.Now().UTC(),
	}
	err := tx.Model(&models.Document{}).
		Where("id = ?", u.documentID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("update document %d: %w", u.documentID, err)
	}

	// Chunks are replaced wholesale so orphaned ordinals can never survive
	// a shrinking document.
	if err := tx.Where("document_id = ?", u.documentID).Delete(&models.Chunk{}).Error; err != nil {
		return fmt.Errorf("delete chunks of document %d: %w", u.documentID, err)
	}
	chunks := buildChunks(u.documentID, u.staged.Chunks)
	if len(chunks) > 0 {
		if err := tx.Create(&chunks).Error; err != nil {
			return fmt.Errorf("insert chunks of document %d: %w", u.documentID, err)
		}
	}
	return nil
}

// applyInsert creates one document inside a savepoint. A unique violation
// means another connector won the race for the same content between staging
// and flush; the savepoint rolls back and the item is skipped.
func (w *BatchWriter) applyInsert(tx *gorm.DB, i int, staged *StagedDocument) (bool, error) {
	doc := &models.Document{
		SearchSpaceID:        w.spaceID,
		ConnectorID:          w.connectorID,
		ConnectorType:        staged.ConnectorType,
		UserID:               w.userID,
		Title:                staged.Title,
		Content:              staged.Summary,
		ContentHash:          staged.ContentHash,
		UniqueIdentifierHash: staged.UniqueIdentifierHash,
		SourceID:             staged.SourceID,
		Metadata:             models.JSONFrom(staged.Metadata),
		Embedding:            staged.Embedding,
	}

	name := fmt.Sprintf("doc_insert_%d", i)
	tx.SavePoint(name)
	if err := tx.Create(doc).Error; err != nil {
		if isUniqueViolation(err) {
			tx.RollbackTo(name)
			return false, nil
		}
		return false, fmt.Errorf("insert document %q: %w", staged.Title, err)
	}

	chunks := buildChunks(doc.ID, staged.Chunks)
	if len(chunks) > 0 {
		if err := tx.Create(&chunks).Error; err != nil {
			return false, fmt.Errorf("insert chunks of %q: %w", staged.Title, err)
		}
	}
	return true, nil
}

func buildChunks(documentID uint, staged []StagedChunk) []models.Chunk {
	out := make([]models.Chunk, 0, len(staged))
	for i, c := range staged {
		out = append(out, models.Chunk{
			DocumentID: documentID,
			Ordinal:    i,
			Content:    c.Content,
			Embedding:  c.Embedding,
		})
	}
	return out
}

// isUniqueViolation recognizes a unique-constraint error from postgres
// (SQLSTATE 23505) or sqlite.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
