package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/conceptdb/gateway/domain/concepts"
	"github.com/conceptdb/gateway/pkg/apperror"
	"github.com/conceptdb/gateway/pkg/logger"
	"github.com/conceptdb/gateway/pkg/relational"
)

const (
	// minBatchSize is the floor backpressure can shrink the batch to.
	minBatchSize = 10

	// backwardQueueCap bounds the writeback queue; overflow is dropped with
	// a warning and picked up by the next forward reconciliation.
	backwardQueueCap = 1024
)

// ConceptStore is the concept layer surface the synchronizer consumes.
type ConceptStore interface {
	SyncUpsert(ctx context.Context, tenant string, req *concepts.CreateConceptRequest) (*concepts.Concept, error)
	FindBySourceKey(ctx context.Context, tenant, sourceKey string) (*concepts.Concept, error)
	Get(ctx context.Context, tenant, id string) (*concepts.Concept, error)
}

// Config tunes the synchronizer.
type Config struct {
	// BatchSize is the soft cap per committed batch.
	BatchSize int

	// CommitTimeout bounds one batch commit.
	CommitTimeout time.Duration

	// ErrorRateThreshold halves the batch size when a window exceeds it.
	ErrorRateThreshold float64

	// CleanWindows consecutive clean windows double the batch size back up.
	CleanWindows int
}

// backwardItem is one queued writeback.
type backwardItem struct {
	tenant    string
	conceptID string
}

// Service runs the two unidirectional pipelines under one lifecycle.
// Each direction is serialized by its own mutex; the service never holds a
// concept store write lock across an external call.
type Service struct {
	rules       *RuleSet
	rel         relational.Store
	store       ConceptStore
	checkpoints CheckpointStore
	quarantine  QuarantineStore
	cfg         Config
	log         *slog.Logger

	forwardMu  gosync.Mutex
	backwardMu gosync.Mutex

	// Adaptive batch sizing (backpressure)
	sizeMu      gosync.Mutex
	batchSize   int
	cleanStreak int

	queue chan backwardItem

	runningMu gosync.Mutex
	running   bool
}

// NewService creates a synchronizer. rules may be nil, which leaves the
// service inert (Status still works).
func NewService(rules *RuleSet, rel relational.Store, store ConceptStore, checkpoints CheckpointStore, quarantine QuarantineStore, cfg Config, log *slog.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 10 * time.Second
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = 0.2
	}
	if cfg.CleanWindows <= 0 {
		cfg.CleanWindows = 5
	}

	return &Service{
		rules:       rules,
		rel:         rel,
		store:       store,
		checkpoints: checkpoints,
		quarantine:  quarantine,
		cfg:         cfg,
		log:         log.With(logger.Scope("sync")),
		batchSize:   cfg.BatchSize,
		queue:       make(chan backwardItem, backwardQueueCap),
	}
}

// Enabled reports whether mapping rules are loaded.
func (s *Service) Enabled() bool {
	return s.rules != nil
}

// NotifyMutation queues backward writeback for a mutated concept carrying a
// source key. Registered as the concept service's mutation hook.
func (s *Service) NotifyMutation(ctx context.Context, concept *concepts.Concept) {
	if !s.Enabled() {
		return
	}
	if _, ok := concept.SourceKey(); !ok {
		return
	}

	select {
	case s.queue <- backwardItem{tenant: concept.TenantID, conceptID: concept.ID}:
	default:
		s.log.Warn("backward sync queue full, dropping writeback",
			slog.String("concept_id", concept.ID))
	}
}

// Status reports checkpoints, queue depth, and quarantine size.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	status := &Status{
		PendingBackward: len(s.queue),
		BatchSize:       s.currentBatchSize(),
		Running:         s.isRunning(),
	}

	var err error
	if status.ForwardCheckpoint, err = s.checkpoints.Load(ctx, DirectionForward); err != nil {
		return nil, err
	}
	if status.BackwardCheckpoint, err = s.checkpoints.Load(ctx, DirectionBackward); err != nil {
		return nil, err
	}
	if status.QuarantineCount, err = s.quarantine.CountUnresolved(ctx); err != nil {
		return nil, err
	}
	return status, nil
}

// RunNow triggers one run of the given direction.
func (s *Service) RunNow(ctx context.Context, direction string) (*RunReport, error) {
	switch direction {
	case DirectionForward:
		return s.RunForward(ctx)
	case DirectionBackward:
		return s.RunBackward(ctx)
	default:
		return nil, apperror.NewBadRequest("direction must be forward or backward")
	}
}

// =============================================================================
// Forward: relational -> concept
// =============================================================================

// syncRow pairs a changed row with its rule for global ordering.
type syncRow struct {
	rule      *Rule
	row       relational.Row
	key       string // "table:pk", the checkpoint tiebreak
	updatedAt time.Time
}

// RunForward reads rows changed since the checkpoint, maps them through the
// per-table rules, and upserts concepts keyed by source key. The checkpoint
// advances only past applied work; a mid-batch failure leaves it at the last
// committed row.
func (s *Service) RunForward(ctx context.Context) (*RunReport, error) {
	if !s.Enabled() {
		return nil, apperror.NewBadRequest("synchronizer has no mapping rules configured")
	}

	s.forwardMu.Lock()
	defer s.forwardMu.Unlock()
	s.setRunning(true)
	defer s.setRunning(false)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommitTimeout)
	defer cancel()

	cp, err := s.checkpoints.Load(ctx, DirectionForward)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		cp = &Checkpoint{Direction: DirectionForward}
	}

	batch := s.currentBatchSize()
	rows, err := s.collectChangedRows(ctx, cp, batch)
	if err != nil {
		return nil, err
	}

	report := &RunReport{Direction: DirectionForward, Scanned: len(rows)}

	for _, item := range rows {
		applied, conflict, err := s.applyForward(ctx, cp, item)
		if err != nil {
			// Stop at the first hard failure: the checkpoint must not
			// advance past unapplied work
			report.Failed++
			s.log.Error("forward sync item failed",
				slog.String("source_key", item.key), logger.Error(err))
			break
		}

		switch {
		case conflict:
			report.Conflicts++
		case applied:
			report.Applied++
		default:
			report.Skipped++
		}

		cp.LastUpdatedAt = item.updatedAt
		cp.LastID = item.key
		if hash, herr := item.rule.RowHash(item.row); herr == nil {
			cp.RowHash = hash
		}
	}

	if cp.LastID != "" {
		if err := s.checkpoints.Save(ctx, cp); err != nil {
			return report, err
		}
	}

	s.adjustBatchSize(report)
	s.log.Info("forward sync run complete",
		slog.Int("scanned", report.Scanned),
		slog.Int("applied", report.Applied),
		slog.Int("skipped", report.Skipped),
		slog.Int("conflicts", report.Conflicts),
		slog.Int("failed", report.Failed))
	return report, nil
}

// collectChangedRows gathers changed rows from every mapped table and orders
// them globally by (updated_at, composite key) so the single checkpoint is a
// true frontier.
func (s *Service) collectChangedRows(ctx context.Context, cp *Checkpoint, limit int) ([]syncRow, error) {
	var all []syncRow

	for i := range s.rules.Tables {
		rule := &s.rules.Tables[i]

		query := fmt.Sprintf(
			"SELECT * FROM %s WHERE %s >= $1 ORDER BY %s ASC, %s ASC LIMIT $2",
			rule.Table, rule.UpdatedAtColumn, rule.UpdatedAtColumn, rule.PrimaryKey,
		)
		rows, _, err := s.rel.Execute(ctx, query, cp.LastUpdatedAt, limit)
		if err != nil {
			return nil, apperror.ErrRelationalBackend.WithInternal(err)
		}

		for _, row := range rows {
			key, err := rule.SourceKey(row)
			if err != nil {
				s.log.Warn("skipping unmappable row", slog.String("table", rule.Table), logger.Error(err))
				continue
			}
			updatedAt := toTime(row[rule.UpdatedAtColumn])

			// Resume predicate: strictly after the checkpoint frontier
			if updatedAt.Before(cp.LastUpdatedAt) {
				continue
			}
			if updatedAt.Equal(cp.LastUpdatedAt) && key <= cp.LastID {
				continue
			}

			all = append(all, syncRow{rule: rule, row: row, key: key, updatedAt: updatedAt})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].updatedAt.Equal(all[j].updatedAt) {
			return all[i].updatedAt.Before(all[j].updatedAt)
		}
		return all[i].key < all[j].key
	})

	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// applyForward upserts one changed row into the concept layer.
// Returns (applied, conflictStaged, err).
func (s *Service) applyForward(ctx context.Context, cp *Checkpoint, item syncRow) (bool, bool, error) {
	hash, err := item.rule.RowHash(item.row)
	if err != nil {
		return false, false, err
	}

	existing, err := s.store.FindBySourceKey(ctx, s.rules.Tenant, item.key)
	if err != nil {
		return false, false, err
	}

	// Idempotence: re-seeing the same (source_key, row_hash) is a no-op
	if existing != nil {
		if prev, _ := existing.Metadata["row_hash"].(string); prev == hash {
			return false, false, nil
		}

		// Both sides changed since the last checkpoint
		if existing.UpdatedAt.After(cp.LastUpdatedAt) {
			resolved, staged, err := s.resolveForwardConflict(ctx, item, existing)
			if err != nil || staged || !resolved {
				return false, staged, err
			}
		}
	}

	name, description, metadata, err := item.rule.Apply(item.row)
	if err != nil {
		return false, false, err
	}

	metadata[concepts.MetaSourceKey] = item.key
	metadata[concepts.MetaMappingRule] = item.rule.Table
	metadata["row_hash"] = hash

	_, err = s.store.SyncUpsert(ctx, s.rules.Tenant, &concepts.CreateConceptRequest{
		Name:        name,
		Description: description,
		Metadata:    metadata,
	})
	if err != nil {
		return false, false, err
	}
	return true, false, nil
}

// resolveForwardConflict applies the rule's policy when both sides changed.
// Returns (applyRelationalSide, stagedToQuarantine, err).
func (s *Service) resolveForwardConflict(ctx context.Context, item syncRow, concept *concepts.Concept) (bool, bool, error) {
	switch item.rule.ConflictPolicy {
	case PolicyPreferRelational:
		return true, false, nil
	case PolicyPreferConcept:
		return false, false, nil
	case PolicyManual:
		err := s.quarantine.Add(ctx, &QuarantineItem{
			SourceKey:  item.key,
			Direction:  DirectionForward,
			Relational: map[string]any(item.row),
			Concept: map[string]any{
				"id":          concept.ID,
				"name":        concept.Name,
				"description": concept.Description,
				"updated_at":  concept.UpdatedAt,
			},
			DetectedAt: time.Now().UTC(),
		})
		return false, true, err
	default: // last_writer_wins
		return !toTime(item.row[item.rule.UpdatedAtColumn]).Before(concept.UpdatedAt), false, nil
	}
}

// =============================================================================
// Backward: concept -> relational
// =============================================================================

// RunBackward drains the writeback queue. Only whitelisted columns are ever
// written; rows are created only when the rule allows inserts.
func (s *Service) RunBackward(ctx context.Context) (*RunReport, error) {
	if !s.Enabled() {
		return nil, apperror.NewBadRequest("synchronizer has no mapping rules configured")
	}

	s.backwardMu.Lock()
	defer s.backwardMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommitTimeout)
	defer cancel()

	report := &RunReport{Direction: DirectionBackward}

	for {
		select {
		case item := <-s.queue:
			report.Scanned++
			applied, conflict, err := s.writeback(ctx, item)
			switch {
			case err != nil:
				report.Failed++
				s.log.Error("backward sync item failed",
					slog.String("concept_id", item.conceptID), logger.Error(err))
			case conflict:
				report.Conflicts++
			case applied:
				report.Applied++
			default:
				report.Skipped++
			}
		default:
			if report.Scanned > 0 {
				cp := &Checkpoint{
					Direction:     DirectionBackward,
					LastUpdatedAt: time.Now().UTC(),
					LastID:        fmt.Sprintf("drained-%d", report.Applied),
				}
				if err := s.checkpoints.Save(ctx, cp); err != nil {
					return report, err
				}
			}
			return report, nil
		}
	}
}

// writeback applies one concept's declared columns to its relational row.
func (s *Service) writeback(ctx context.Context, item backwardItem) (bool, bool, error) {
	concept, err := s.store.Get(ctx, item.tenant, item.conceptID)
	if err != nil {
		return false, false, err
	}

	sourceKey, ok := concept.SourceKey()
	if !ok {
		return false, false, nil
	}
	table, pk, ok := splitSourceKey(sourceKey)
	if !ok {
		return false, false, fmt.Errorf("malformed source key %q", sourceKey)
	}
	rule, ok := s.rules.RuleFor(table)
	if !ok || len(rule.Writeback) == 0 {
		return false, false, nil
	}

	// Fetch the current row to detect a concurrent relational edit
	rows, _, err := s.rel.Execute(ctx,
		fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", rule.Table, rule.PrimaryKey), pk)
	if err != nil {
		return false, false, apperror.ErrRelationalBackend.WithInternal(err)
	}

	if len(rows) == 0 {
		if !rule.AllowInsert {
			return false, false, nil
		}
		return s.insertRow(ctx, rule, pk, concept)
	}

	row := rows[0]
	if hash, herr := rule.RowHash(row); herr == nil {
		if prev, _ := concept.Metadata["row_hash"].(string); prev != "" && prev != hash {
			// The row moved underneath the concept
			resolved, staged, cerr := s.resolveBackwardConflict(ctx, rule, sourceKey, row, concept)
			if cerr != nil || staged || !resolved {
				return false, staged, cerr
			}
		}
	}

	assignments, params := writebackAssignments(rule, concept)
	if len(assignments) == 0 {
		return false, false, nil
	}
	params = append(params, pk)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		rule.Table, strings.Join(assignments, ", "), rule.PrimaryKey, len(params))
	_, _, err = s.rel.Execute(ctx, query, params...)
	if err != nil {
		return false, false, apperror.ErrRelationalBackend.WithInternal(err)
	}
	return true, false, nil
}

func (s *Service) insertRow(ctx context.Context, rule *Rule, pk any, concept *concepts.Concept) (bool, bool, error) {
	cols := []string{rule.PrimaryKey}
	params := []any{pk}
	placeholders := []string{"$1"}

	for field, col := range rule.Writeback {
		cols = append(cols, col)
		params = append(params, conceptField(concept, field))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(params)))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		rule.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	_, _, err := s.rel.Execute(ctx, query, params...)
	if err != nil {
		return false, false, apperror.ErrRelationalBackend.WithInternal(err)
	}
	return true, false, nil
}

func (s *Service) resolveBackwardConflict(ctx context.Context, rule *Rule, sourceKey string, row relational.Row, concept *concepts.Concept) (bool, bool, error) {
	switch rule.ConflictPolicy {
	case PolicyPreferConcept:
		return true, false, nil
	case PolicyPreferRelational:
		return false, false, nil
	case PolicyManual:
		err := s.quarantine.Add(ctx, &QuarantineItem{
			SourceKey:  sourceKey,
			Direction:  DirectionBackward,
			Relational: map[string]any(row),
			Concept: map[string]any{
				"id":          concept.ID,
				"name":        concept.Name,
				"description": concept.Description,
				"updated_at":  concept.UpdatedAt,
			},
			DetectedAt: time.Now().UTC(),
		})
		return false, true, err
	default: // last_writer_wins
		return !concept.UpdatedAt.Before(toTime(row[rule.UpdatedAtColumn])), false, nil
	}
}

// =============================================================================
// Internals
// =============================================================================

func (s *Service) currentBatchSize() int {
	s.sizeMu.Lock()
	defer s.sizeMu.Unlock()
	return s.batchSize
}

// adjustBatchSize implements backpressure: halve on a failing window, double
// back up after enough consecutive clean windows.
func (s *Service) adjustBatchSize(report *RunReport) {
	s.sizeMu.Lock()
	defer s.sizeMu.Unlock()

	if report.Scanned == 0 {
		return
	}

	errRate := float64(report.Failed) / float64(report.Scanned)
	if errRate > s.cfg.ErrorRateThreshold {
		s.cleanStreak = 0
		if s.batchSize/2 >= minBatchSize {
			s.batchSize /= 2
			s.log.Warn("halving sync batch size under backpressure",
				slog.Int("batch_size", s.batchSize))
		}
		return
	}

	if report.Failed == 0 {
		s.cleanStreak++
		if s.cleanStreak >= s.cfg.CleanWindows && s.batchSize < s.cfg.BatchSize {
			s.batchSize *= 2
			if s.batchSize > s.cfg.BatchSize {
				s.batchSize = s.cfg.BatchSize
			}
			s.cleanStreak = 0
			s.log.Info("restoring sync batch size", slog.Int("batch_size", s.batchSize))
		}
	} else {
		s.cleanStreak = 0
	}
}

func (s *Service) setRunning(v bool) {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	s.running = v
}

func (s *Service) isRunning() bool {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.running
}

// writebackAssignments builds the whitelisted SET clause in deterministic
// column order.
func writebackAssignments(rule *Rule, concept *concepts.Concept) ([]string, []any) {
	fields := make([]string, 0, len(rule.Writeback))
	for field := range rule.Writeback {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var assignments []string
	var params []any
	for _, field := range fields {
		params = append(params, conceptField(concept, field))
		assignments = append(assignments, fmt.Sprintf("%s = $%d", rule.Writeback[field], len(params)))
	}
	return assignments, params
}

func conceptField(concept *concepts.Concept, field string) any {
	switch field {
	case "name":
		return concept.Name
	case "description":
		return concept.Description
	}
	return nil
}

// splitSourceKey parses "table:pk".
func splitSourceKey(key string) (table, pk string, ok bool) {
	idx := strings.Index(key, ":")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}

// toTime coerces driver values (time.Time or RFC 3339-ish strings) into a
// timestamp; unparseable values collapse to the zero time.
func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC()
			}
		}
	}
	return time.Time{}
}
