// action_type_repository.go implements ActionTypeRepository, the registry of
// the closed action vocabulary. Resolution is read-heavy over a small,
// rarely-changing set, so resolved codes are held in a bounded in-process
// cache with a TTL; administrative updates take effect when entries expire.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/audit-trail/audit-trail/internal/db/models"
)

// actionTypeCacheTTL bounds how stale a cached resolution may be.
const actionTypeCacheTTL = 5 * time.Minute

type cachedActionType struct {
	id        int64
	expiresAt time.Time
}

// ActionTypeRepository handles action type database operations.
type ActionTypeRepository struct {
	db *sqlx.DB

	mu    sync.RWMutex
	cache map[string]cachedActionType
}

// NewActionTypeRepository creates a new ActionTypeRepository.
func NewActionTypeRepository(db *sqlx.DB) *ActionTypeRepository {
	return &ActionTypeRepository{
		db:    db,
		cache: make(map[string]cachedActionType),
	}
}

// ResolveID maps an action code (case-insensitive) to the id of the matching
// active action type. Returns ErrUnknownActionType when no active row matches.
func (r *ActionTypeRepository) ResolveID(ctx context.Context, code string) (int64, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return 0, ErrUnknownActionType
	}

	r.mu.RLock()
	entry, ok := r.cache[code]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.id, nil
	}

	var id int64
	err := r.db.GetContext(ctx, &id,
		`SELECT id FROM action_types WHERE code = $1 AND is_active = TRUE`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownActionType
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve action type %q: %w", code, err)
	}

	r.mu.Lock()
	r.cache[code] = cachedActionType{id: id, expiresAt: time.Now().Add(actionTypeCacheTTL)}
	r.mu.Unlock()

	return id, nil
}

// List returns all action types, active and inactive, ordered by code.
func (r *ActionTypeRepository) List(ctx context.Context) ([]*models.ActionType, error) {
	types := make([]*models.ActionType, 0)
	err := r.db.SelectContext(ctx, &types,
		`SELECT id, code, description, is_active FROM action_types ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list action types: %w", err)
	}
	return types, nil
}

// Seed inserts the given action types, skipping codes that already exist.
// Returns the number of rows inserted. Used by the administrative seed step;
// never reachable from request handlers.
func (r *ActionTypeRepository) Seed(ctx context.Context, types []models.ActionType) (int, error) {
	inserted := 0
	for _, at := range types {
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO action_types (code, description, is_active)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (code) DO NOTHING`,
			strings.ToUpper(at.Code), at.Description, at.IsActive)
		if err != nil {
			return inserted, fmt.Errorf("failed to seed action type %q: %w", at.Code, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	return inserted, nil
}

// InvalidateCache drops all cached resolutions. Called after administrative
// changes to the registry so they take effect before the TTL lapses.
func (r *ActionTypeRepository) InvalidateCache() {
	r.mu.Lock()
	r.cache = make(map[string]cachedActionType)
	r.mu.Unlock()
}

// DefaultActionTypes is the vocabulary installed by the seed step.
func DefaultActionTypes() []models.ActionType {
	codes := []struct{ code, desc string }{
		{"CREATE", "Entity created"},
		{"UPDATE", "Entity updated"},
		{"DELETE", "Entity deleted"},
		{"APPROVE", "Entity approved"},
		{"REJECT", "Entity rejected"},
		{"SUBMIT", "Entity submitted for approval"},
		{"CANCEL", "Entity cancelled"},
		{"EXPORT", "Data exported"},
		{"LOGIN", "User logged in"},
		{"LOGOUT", "User logged out"},
	}
	types := make([]models.ActionType, 0, len(codes))
	for _, c := range codes {
		types = append(types, models.ActionType{Code: c.code, Description: c.desc, IsActive: true})
	}
	return types
}
