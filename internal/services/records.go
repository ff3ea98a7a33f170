package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/audit-trail/audit-trail/internal/access"
	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/db/repositories"
	"github.com/audit-trail/audit-trail/internal/telemetry"
)

// sourceServiceSelf marks records the service writes about itself, such as
// deletion tombstones.
const sourceServiceSelf = "audit-trail"

// RecordService coordinates record intake and retrieval: deduplication,
// action type resolution, version assignment, and scope-aware reads.
type RecordService struct {
	audits      *repositories.AuditRepository
	actionTypes *repositories.ActionTypeRepository
	dedup       *DedupService
}

// NewRecordService creates a new RecordService.
func NewRecordService(audits *repositories.AuditRepository, actionTypes *repositories.ActionTypeRepository, dedup *DedupService) *RecordService {
	return &RecordService{audits: audits, actionTypes: actionTypes, dedup: dedup}
}

// SubmitInput is one incoming audit event. EntityType, EntityID and
// ActionType are required; everything else is optional.
type SubmitInput struct {
	EntityType       string          `json:"entity_type" binding:"required"`
	EntityID         string          `json:"entity_id" binding:"required"`
	ActionType       string          `json:"action_type" binding:"required"`
	ActionBy         *string         `json:"action_by"`
	ActionAt         *time.Time      `json:"action_at"`
	PreviousData     json.RawMessage `json:"previous_data"`
	NewData          json.RawMessage `json:"new_data"`
	IPAddress        *string         `json:"ip_address"`
	ModuleName       string          `json:"module_name"`
	ProcessingTimeMs *float64        `json:"processing_time_ms"`

	// EventID opts the event into deduplication when set.
	EventID string `json:"event_id"`
}

// Submit records one audit event on behalf of sourceService, the name bound
// to the submitting credential. Returns the stored record, or (nil, true,
// nil) when the event was a duplicate and suppressed.
func (s *RecordService) Submit(ctx context.Context, in SubmitInput, sourceService string) (*models.AuditRecord, bool, error) {
	if s.dedup.IsDuplicate(ctx, in.EventID) {
		slog.Info("duplicate event suppressed",
			"event_id", in.EventID, "source_service", sourceService)
		return nil, true, nil
	}

	actionTypeID, err := s.actionTypes.ResolveID(ctx, in.ActionType)
	if err != nil {
		return nil, false, err
	}

	moduleName := in.ModuleName
	if moduleName == "" {
		moduleName = in.EntityType
	}
	// A credential for one service writing another module's records is not
	// rejected, only surfaced for operators reviewing write patterns.
	if !strings.EqualFold(moduleName, sourceService) {
		slog.Debug("record module differs from submitting service",
			"module_name", moduleName, "source_service", sourceService)
	}

	rec := &models.AuditRecord{
		EntityType:       in.EntityType,
		EntityID:         in.EntityID,
		ActionTypeID:     actionTypeID,
		ActionBy:         in.ActionBy,
		PreviousData:     in.PreviousData,
		NewData:          in.NewData,
		IPAddress:        in.IPAddress,
		SourceService:    sourceService,
		ModuleName:       moduleName,
		ProcessingTimeMs: in.ProcessingTimeMs,
		ActionTypeCode:   in.ActionType,
	}
	if in.ActionAt != nil {
		rec.ActionAt = in.ActionAt.UTC()
	}

	if err := s.audits.Append(ctx, rec); err != nil {
		return nil, false, err
	}

	// Marked only after the record is durable: a failed submit leaves the
	// event id unconsumed so the caller's retry is not reported as a
	// duplicate.
	s.dedup.MarkProcessed(ctx, in.EventID, sourceService)

	telemetry.RecordsSubmittedTotal.WithLabelValues(sourceService, rec.ActionTypeCode).Inc()
	return rec, false, nil
}

// ListInput carries the caller-facing list parameters. ActionType is a code
// string; an unknown code yields an empty page rather than an error, so
// callers can probe codes without distinguishing "none recorded" from
// "never defined".
type ListInput struct {
	EntityType *string
	EntityID   *string
	ActionBy   *string
	ActionType *string
	DateFrom   *time.Time
	DateTo     *time.Time
	SortBy     string
	SortOrder  string
	Limit      int
	Offset     int
}

// List returns a page of records visible to the caller.
func (s *RecordService) List(ctx context.Context, in ListInput, scope access.Scope) ([]*models.AuditRecord, int, error) {
	filters := repositories.RecordFilters{
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		ActionBy:   in.ActionBy,
		DateFrom:   in.DateFrom,
		DateTo:     in.DateTo,
	}

	if in.ActionType != nil {
		id, err := s.actionTypes.ResolveID(ctx, *in.ActionType)
		if errors.Is(err, repositories.ErrUnknownActionType) {
			return []*models.AuditRecord{}, 0, nil
		}
		if err != nil {
			return nil, 0, err
		}
		filters.ActionTypeID = &id
	}

	order := repositories.NewOrderSpec(in.SortBy, in.SortOrder)
	return s.audits.List(ctx, filters, scope, order, in.Limit, in.Offset)
}

// Get fetches one record under the caller's scope. Out-of-scope and missing
// records are both reported as repositories.ErrNotFound.
func (s *RecordService) Get(ctx context.Context, id int64, scope access.Scope) (*models.AuditRecord, error) {
	rec, err := s.audits.GetScoped(ctx, id, scope)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, repositories.ErrNotFound
	}
	return rec, nil
}

// History returns the visible version history of an entity, oldest first.
func (s *RecordService) History(ctx context.Context, entityType, entityID string, scope access.Scope) ([]*models.AuditRecord, error) {
	return s.audits.History(ctx, entityType, entityID, scope)
}

// Search finds records matching term across entity type, entity id and actor.
func (s *RecordService) Search(ctx context.Context, term string, scope access.Scope, limit, offset int) ([]*models.AuditRecord, int, error) {
	return s.audits.Search(ctx, term, scope, limit, offset)
}

// Stats computes the caller-visible record statistics.
func (s *RecordService) Stats(ctx context.Context, scope access.Scope) (*repositories.RecordStats, error) {
	return s.audits.Stats(ctx, scope)
}

// Delete hard-deletes a record and appends a DELETE tombstone carrying the
// removed record as previous_data, so the deletion itself stays on the
// trail. SuperAdmin only; the handler enforces that.
func (s *RecordService) Delete(ctx context.Context, id int64, deletedBy string) error {
	rec, err := s.audits.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return repositories.ErrNotFound
	}

	if err := s.audits.Remove(ctx, id); err != nil {
		return err
	}

	snapshot, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to snapshot deleted record: %w", err)
	}

	deleteTypeID, err := s.actionTypes.ResolveID(ctx, "DELETE")
	if err != nil {
		// The record is gone either way; losing the tombstone is worth a
		// loud log, not a failed delete.
		slog.Error("failed to resolve DELETE action type for tombstone",
			"record_id", id, "error", err)
		return nil
	}

	tombstone := &models.AuditRecord{
		EntityType:    rec.EntityType,
		EntityID:      rec.EntityID,
		ActionTypeID:  deleteTypeID,
		ActionBy:      &deletedBy,
		PreviousData:  snapshot,
		SourceService: sourceServiceSelf,
		ModuleName:    rec.ModuleName,
	}
	if err := s.audits.Append(ctx, tombstone); err != nil {
		slog.Error("failed to append deletion tombstone",
			"record_id", id, "entity_type", rec.EntityType, "entity_id", rec.EntityID, "error", err)
	}
	return nil
}
