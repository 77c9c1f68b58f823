package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/content"
	"github.com/MODSetter/SurfSense-sub000/pkg/docstore"
	"github.com/MODSetter/SurfSense-sub000/pkg/llm"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
	"github.com/MODSetter/SurfSense-sub000/pkg/notify"
)

// summarizerInputCap bounds what a document feeds the summary model.
const summarizerInputCap = 24000

const summarySystemPrompt = "You write terse factual summaries of documents " +
	"for a search index. Summarize the document in at most 200 words. Keep " +
	"names, dates, identifiers and numbers exactly as written. Output only " +
	"the summary."

// runState carries one run's working set through the item loop.
type runState struct {
	runID    uuid.UUID
	taskName string
	conn     *models.Connector
	adapter  connectors.Adapter

	fetcher   connectors.ContentFetcher
	formatter connectors.MarkdownFormatter

	writer     *docstore.BatchWriter
	chunker    *content.Chunker
	summarizer llm.Client

	settingsHash string
	mode         SyncMode
	window       connectors.Window
	cursor       string

	// processed is read by the heartbeat goroutine while the loop runs.
	processed atomic.Int64

	maxItems int
	capped   bool

	removed  int
	itemErrs *multierror.Error
}

func (st *runState) capReached() bool {
	return st.maxItems > 0 && st.processed.Load() >= int64(st.maxItems)
}

func (st *runState) recordItemError(err error) {
	if len(st.itemErrs.WrappedErrors()) < maxItemErrors {
		st.itemErrs = multierror.Append(st.itemErrs, err)
	}
	st.writer.RecordError()
}

// RunConnector executes one connector run end to end. The returned error is
// non-nil only for run-level failures (bad credentials, unreachable source,
// database errors); per-item failures are counted and carried in the result.
func (r *Runner) RunConnector(ctx context.Context, params RunParams) (*RunResult, error) {
	conn, err := models.GetConnector(r.db, params.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("load connector %d: %w", params.ConnectorID, err)
	}

	if len(params.ConfigOverride) > 0 {
		if err := overrideConfig(conn, params.ConfigOverride); err != nil {
			return nil, err
		}
	}

	st := &runState{
		runID:    uuid.New(),
		taskName: fmt.Sprintf("index-connector-%d", conn.ID),
		conn:     conn,
		writer:   r.store.NewBatchWriter(conn.SearchSpaceID, conn.ID, conn.UserID),
		chunker:  content.NewChunker(),
		maxItems: params.MaxItems,
	}

	r.emit(ctx, st, models.TaskStatusStarted,
		fmt.Sprintf("⚙️ Indexing %s", conn.Name),
		map[string]interface{}{
			"connector_type": string(conn.ConnectorType),
			"start_date":     connectors.NormalizeDate(params.StartDate),
			"end_date":       connectors.NormalizeDate(params.EndDate),
		})

	result, runErr := r.execute(ctx, st, params)
	if runErr != nil {
		r.emit(ctx, st, models.TaskStatusFailure,
			fmt.Sprintf("❌ Indexing %s failed: %s", conn.Name, runErr),
			map[string]interface{}{
				"error_kind": failureKind(runErr),
				"counters":   countersMetadata(st),
			})
		return result, runErr
	}

	c := result.Counters
	successMeta := map[string]interface{}{
		"sync_mode": string(result.Mode),
		"counters":  countersMetadata(st),
	}
	if st.capped {
		successMeta["capped"] = true
	}
	r.emit(ctx, st, models.TaskStatusSuccess,
		fmt.Sprintf("✅ Indexed %s: %d new, %d updated, %d skipped, %d duplicates, %d errors",
			conn.Name, c.Inserted, c.Updated, c.SkippedUnchanged, c.SkippedDuplicate, c.Errors),
		successMeta)
	return result, nil
}

func (r *Runner) execute(ctx context.Context, st *runState, params RunParams) (*RunResult, error) {
	adapter, err := r.registry.New(ctx, r.deps, st.conn)
	if err != nil {
		return r.result(st), err
	}
	st.adapter = adapter
	st.fetcher, _ = adapter.(connectors.ContentFetcher)
	st.formatter, _ = adapter.(connectors.MarkdownFormatter)
	st.summarizer = r.summarizerFor(ctx, st.conn)

	cfgMap, err := st.conn.ConfigMap()
	if err != nil {
		return r.result(st), fmt.Errorf("decode connector config: %w", err)
	}
	var volatile []string
	if vc, ok := adapter.(connectors.VolatileConfig); ok {
		volatile = vc.VolatileConfigKeys()
	}
	st.settingsHash = SettingsHash(cfgMap, volatile)

	deltaLister, hasDelta := adapter.(connectors.DeltaLister)
	useDelta := hasDelta &&
		st.conn.DeltaCursor != "" &&
		st.conn.LastIndexedAt != nil &&
		incrementalEnabled(cfgMap) &&
		st.settingsHash == st.conn.LastIndexedSettingsHash
	st.cursor = st.conn.DeltaCursor

	stopHeartbeat := r.startHeartbeat(ctx, st)
	defer stopHeartbeat()

	if useDelta {
		st.mode = SyncModeDelta
		err = r.runDelta(ctx, st, deltaLister)
		if errors.Is(err, connectors.ErrCursorInvalid) {
			r.logger.Warn("delta cursor rejected by source, falling back to full scan",
				"connector", st.conn.ID)
			r.emit(ctx, st, models.TaskStatusProgress,
				"Change feed position expired, re-scanning from the date window", nil)
			err = nil
			useDelta = false
		}
		if err != nil {
			return r.result(st), err
		}
	}

	if !useDelta {
		st.mode = SyncModeFull
		if err := r.runFull(ctx, st, params, deltaLister); err != nil {
			return r.result(st), err
		}
	}

	if err := st.writer.Flush(ctx); err != nil {
		return r.result(st), fmt.Errorf("flush batch: %w", err)
	}

	// Capped and config-overridden runs are one-off samples: persisting their
	// cursor or settings hash would mark an incomplete window as synced.
	if st.capped || len(params.ConfigOverride) > 0 {
		return r.result(st), nil
	}

	if params.UpdateLastIndexed {
		err = st.conn.RecordRunSuccess(r.db, r.now().UTC(), st.cursor, st.settingsHash)
	} else {
		err = st.conn.RecordRunState(r.db, st.cursor, st.settingsHash)
	}
	if err != nil {
		return r.result(st), fmt.Errorf("persist run state: %w", err)
	}

	return r.result(st), nil
}

// overrideConfig overlays per-run selection options onto the in-memory
// connector row. The stored row is never written on this path.
func overrideConfig(conn *models.Connector, override map[string]interface{}) error {
	cfg, err := conn.ConfigMap()
	if err != nil {
		return fmt.Errorf("decode connector config: %w", err)
	}
	merged := make(map[string]interface{}, len(cfg)+len(override))
	for k, v := range cfg {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	conn.Config = models.JSONFrom(merged)
	return nil
}

// runFull scans a date window. When the adapter has a change feed, the new
// cursor baseline is taken before listing so changes landing mid-scan replay
// on the next delta.
func (r *Runner) runFull(ctx context.Context, st *runState, params RunParams, deltaLister connectors.DeltaLister) error {
	fullLister, ok := st.adapter.(connectors.FullLister)
	if !ok {
		return fmt.Errorf("connector type %s cannot list items", st.conn.ConnectorType)
	}

	if deltaLister != nil {
		_, baseline, err := deltaLister.ListDelta(ctx, "")
		if err != nil {
			return fmt.Errorf("bootstrap change feed: %w", err)
		}
		st.cursor = baseline
	}

	calendarLike := false
	if cl, ok := st.adapter.(connectors.CalendarLike); ok {
		calendarLike = cl.CalendarLike()
	}
	win, warning := connectors.ResolveWindow(st.conn, params.StartDate, params.EndDate, r.now(), calendarLike)
	if warning != "" {
		r.logger.Warn(warning, "connector", st.conn.ID)
		r.emit(ctx, st, models.TaskStatusProgress, warning, nil)
	}
	st.window = win

	iter, err := fullLister.ListFull(ctx, win)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	var loopErr error
	iter(func(item connectors.RawItem, err error) bool {
		if ctx.Err() != nil {
			loopErr = ctx.Err()
			return false
		}
		if st.capReached() {
			st.capped = true
			return false
		}
		if err != nil {
			if connectors.IsRunFatal(err) {
				loopErr = err
				return false
			}
			st.recordItemError(err)
			return true
		}
		if err := r.processItem(ctx, st, item, false); err != nil {
			loopErr = err
			return false
		}
		return true
	})
	return loopErr
}

// runDelta applies the adapter's change feed.
func (r *Runner) runDelta(ctx context.Context, st *runState, deltaLister connectors.DeltaLister) error {
	changes, newCursor, err := deltaLister.ListDelta(ctx, st.conn.DeltaCursor)
	if err != nil {
		return err
	}

	for _, ch := range changes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if st.capReached() {
			st.capped = true
			break
		}
		switch ch.Kind {
		case connectors.ChangeRemoved:
			uih := content.UniqueIdentifierHash(string(st.conn.ConnectorType), ch.SourceID, st.conn.SearchSpaceID)
			deleted, err := models.DeleteDocumentByUniqueIdentifierHash(r.db, uih)
			if err != nil {
				return fmt.Errorf("remove document for %s: %w", ch.SourceID, err)
			}
			if deleted {
				st.removed++
			}
		case connectors.ChangeCreated, connectors.ChangeUpdated:
			item := connectors.RawItem{SourceID: ch.SourceID}
			if ch.Item != nil {
				item = *ch.Item
			}
			if err := r.processItem(ctx, st, item, true); err != nil {
				return err
			}
		}
	}

	st.cursor = newCursor
	return nil
}

// processItem runs one raw item through skip checks, canonical text, hashing
// and the four-outcome dispatch. The returned error is run-fatal; per-item
// failures are recorded and swallowed.
func (r *Runner) processItem(ctx context.Context, st *runState, item connectors.RawItem, fromDelta bool) error {
	st.processed.Add(1)

	if item.SourceID == "" {
		st.recordItemError(fmt.Errorf("%w: item without a source id", connectors.ErrItemMalformed))
		return nil
	}

	// Early skip before paying for a download. Only full scans of id-only
	// items: a delta change is known-changed, and payload-full items cost
	// nothing more to dispatch properly.
	if !fromDelta && item.Payload == nil {
		indexed, err := r.store.SourceIDIndexed(ctx, st.conn.SearchSpaceID, item.SourceID)
		if err != nil {
			return err
		}
		if indexed {
			// Another connector owns the source id, so this is a
			// duplicate collapse, not an unchanged item.
			st.writer.RecordDuplicateSkip()
			return nil
		}
	}

	markdown, err := r.canonicalText(ctx, st, item)
	if err != nil {
		if connectors.IsRunFatal(err) {
			return err
		}
		st.recordItemError(fmt.Errorf("item %s: %w", item.SourceID, err))
		return nil
	}
	if strings.TrimSpace(markdown) == "" {
		st.recordItemError(fmt.Errorf("%w: item %s produced no text", connectors.ErrItemMalformed, item.SourceID))
		return nil
	}

	hashText := markdown
	if item.HashText != "" {
		hashText = item.HashText
	}
	contentHash := content.ContentHash(st.conn.SearchSpaceID, hashText)
	uih := content.UniqueIdentifierHash(string(st.conn.ConnectorType), item.SourceID, st.conn.SearchSpaceID)

	// Unchanged pre-check keeps summary and embedding calls off items that
	// did not change. The writer re-detects races at flush.
	existing, err := r.store.FindByUniqueIdentifierHash(ctx, uih)
	if err != nil {
		return err
	}
	if existing != nil && existing.ContentHash == contentHash {
		st.writer.RecordSkip()
		return nil
	}

	staged, err := r.stageDocument(ctx, st, item, markdown, contentHash, uih)
	if err != nil {
		return err
	}
	_, err = st.writer.Write(ctx, staged)
	return err
}

// canonicalText renders a payload-full item or fetches an id-only one.
func (r *Runner) canonicalText(ctx context.Context, st *runState, item connectors.RawItem) (string, error) {
	if item.Payload != nil && st.formatter != nil {
		return st.formatter.FormatMarkdown(item), nil
	}
	if st.fetcher == nil {
		return "", fmt.Errorf("%w: adapter yields id-only items but cannot fetch content", connectors.ErrItemMalformed)
	}
	return st.fetcher.FetchContent(ctx, item.SourceID, connectors.FetchHint{
		MimeType: item.MimeType,
		Title:    item.Title,
		Metadata: item.Metadata,
	})
}

// stageDocument summarizes, chunks and embeds one item. Embedding failures
// are run-fatal: the service being down would fail every following item too.
func (r *Runner) stageDocument(ctx context.Context, st *runState, item connectors.RawItem, markdown, contentHash, uih string) (*docstore.StagedDocument, error) {
	title := item.Title
	if title == "" {
		title = item.SourceID
	}

	meta := make(map[string]interface{}, len(item.Metadata)+2)
	for k, v := range item.Metadata {
		meta[k] = v
	}
	if item.URL != "" {
		meta["url"] = item.URL
	}
	meta["indexed_at"] = r.now().UTC().Format(time.RFC3339)

	header := content.MetadataHeader(metadataFields(st.conn, item, title))
	stored := content.WithMetadataHeader(header, r.summarize(ctx, st, title, markdown))

	chunks := st.chunker.Split(markdown)

	texts := make([]string, 0, len(chunks)+1)
	texts = append(texts, stored)
	texts = append(texts, chunks...)
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed item %s: %w", item.SourceID, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	staged := &docstore.StagedDocument{
		Title:                title,
		Summary:              stored,
		ContentHash:          contentHash,
		UniqueIdentifierHash: uih,
		SourceID:             item.SourceID,
		ConnectorType:        st.conn.ConnectorType,
		Metadata:             meta,
		Embedding:            models.Vector(vecs[0]),
	}
	staged.Chunks = make([]docstore.StagedChunk, len(chunks))
	for i, chunk := range chunks {
		staged.Chunks[i] = docstore.StagedChunk{
			Content:   chunk,
			Embedding: models.Vector(vecs[i+1]),
		}
	}
	return staged, nil
}

// metadataFields orders the header entries prepended to stored summaries.
// The header is part of the stored content, so the same item must always
// produce the same fields.
func metadataFields(conn *models.Connector, item connectors.RawItem, title string) []content.MetadataField {
	fields := []content.MetadataField{
		{Key: "TITLE", Value: title},
		{Key: "SOURCE", Value: conn.ConnectorType.DisplayName()},
		{Key: "SOURCE_ID", Value: item.SourceID},
		{Key: "URL", Value: item.URL},
	}
	if !item.ModifiedAt.IsZero() {
		fields = append(fields, content.MetadataField{
			Key:   "LAST_MODIFIED",
			Value: item.ModifiedAt.UTC().Format(time.RFC3339),
		})
	}
	return fields
}

// summarizerFor resolves the space's long-context model into the run's
// summary client. Spaces without one use the Runner-wide summarizer, which
// may itself be absent.
func (r *Runner) summarizerFor(ctx context.Context, conn *models.Connector) llm.Client {
	if r.clients == nil {
		return r.summarizer
	}
	space, err := models.GetSearchSpace(r.db, conn.SearchSpaceID)
	if err != nil {
		r.logger.Warn("load search space for summarizer", "space", conn.SearchSpaceID, "error", err)
		return r.summarizer
	}
	cfg, err := space.LLMForRole(r.db, models.LLMRoleLongContext)
	if err != nil {
		return r.summarizer
	}
	client, err := r.clients.ClientFor(ctx, cfg)
	if err != nil {
		r.logger.Warn("build summary client", "model", cfg.ModelName, "error", err)
		return r.summarizer
	}
	return client
}

// summarize asks the configured model for the stored summary, falling back
// to the deterministic template on any failure.
func (r *Runner) summarize(ctx context.Context, st *runState, title, markdown string) string {
	if st.summarizer == nil {
		return content.TemplateSummary(markdown)
	}
	input := markdown
	if len(input) > summarizerInputCap {
		input = input[:summarizerInputCap]
	}
	resp, err := st.summarizer.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summarySystemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Title: %s\n\n%s", title, input)},
		},
		MaxTokens: 1024,
	})
	if err != nil || strings.TrimSpace(resp) == "" {
		r.logger.Warn("summary generation failed, using template summary", "error", err)
		return content.TemplateSummary(markdown)
	}
	return strings.TrimSpace(resp)
}

// startHeartbeat emits progress rows off the runner clock so a slow fetch
// cannot starve the task log. The returned stop function is idempotent.
func (r *Runner) startHeartbeat(ctx context.Context, st *runState) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				r.emit(hbCtx, st, models.TaskStatusProgress,
					fmt.Sprintf("Processed %d items", st.processed.Load()), nil)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// emit writes one task event; delivery failures are logged, never fatal to
// the run.
func (r *Runner) emit(ctx context.Context, st *runState, status models.TaskStatus, message string, metadata map[string]interface{}) {
	ev := notify.Event{
		RunID:         st.runID,
		TaskName:      st.taskName,
		Source:        string(st.conn.ConnectorType),
		SearchSpaceID: st.conn.SearchSpaceID,
		Status:        status,
		Message:       message,
		Metadata:      metadata,
		At:            r.now().UTC(),
	}
	if err := r.emitter.Emit(ctx, ev); err != nil {
		r.logger.Warn("task event delivery failed",
			"run_id", st.runID, "status", status, "error", err)
	}
}

func (r *Runner) result(st *runState) *RunResult {
	res := &RunResult{
		RunID:    st.runID,
		Mode:     st.mode,
		Window:   st.window,
		Counters: st.writer.Counters(),
	}
	for _, err := range st.itemErrs.WrappedErrors() {
		res.ItemErrors = append(res.ItemErrors, err.Error())
	}
	return res
}

func countersMetadata(st *runState) map[string]interface{} {
	c := st.writer.Counters()
	m := map[string]interface{}{
		"inserted":          c.Inserted,
		"updated":           c.Updated,
		"skipped_unchanged": c.SkippedUnchanged,
		"skipped_duplicate": c.SkippedDuplicate,
		"errors":            c.Errors,
	}
	if st.removed > 0 {
		m["removed"] = st.removed
	}
	if errs := st.itemErrs.WrappedErrors(); len(errs) > 0 {
		list := make([]string, 0, len(errs))
		for _, err := range errs {
			list = append(list, err.Error())
		}
		m["item_errors"] = list
	}
	return m
}

func incrementalEnabled(cfg map[string]interface{}) bool {
	v, ok := cfg["incremental_sync"]
	if !ok {
		return true
	}
	b, isBool := v.(bool)
	return !isBool || b
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, connectors.ErrMissingCredentials),
		errors.Is(err, connectors.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, connectors.ErrAuthenticationExpired):
		return "authentication_expired"
	case errors.Is(err, connectors.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
