package repository

import (
	"context"
	"errors"
	"time"

	"github.com/classlane/portal-auth-service/internal/domain"
	"github.com/classlane/portal-auth-service/internal/observability"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStats is the aggregate view exposed for operational visibility.
type SessionStats struct {
	Total              int64   `json:"total_sessions"`
	Active             int64   `json:"active_sessions"`
	Expired            int64   `json:"expired_sessions"`
	UniqueActiveUsers  int64   `json:"unique_active_users"`
	AvgSessionsPerUser float64 `json:"avg_sessions_per_user"`
}

type SessionRepository interface {
	Create(s *domain.Session) error
	FindByID(id string) (*domain.Session, error)
	ListByUserID(userID uint) ([]domain.Session, error)
	Touch(id string, at time.Time) error
	ExtendExpiry(id string, until time.Time) error
	Invalidate(id string) (bool, error)
	InvalidateAllForUser(userID uint) (int64, error)
	InvalidateAllForPortal(userID uint, portal string, exceptID string) (int64, error)
	DeleteExpired(limit int) (int64, error)
	DeleteExpiredForUser(userID uint, limit int) (int64, error)
	Stats() (*SessionStats, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(s *domain.Session) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByID(id string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListByUserID(userID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "list_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) Touch(id string, at time.Time) error {
	err := r.db.Model(&domain.Session{}).
		Where("id = ?", id).
		Update("last_accessed_at", at).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "touch", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "touch", "success")
	return nil
}

// ExtendExpiry sets expires_at to an absolute instant. Concurrent
// extensions race harmlessly: both write roughly now+TTL, and the row
// never ends up shorter than either writer intended.
func (r *GormSessionRepository) ExtendExpiry(id string, until time.Time) error {
	err := r.db.Model(&domain.Session{}).
		Where("id = ? AND expires_at < ?", id, until).
		Update("expires_at", until).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "extend_expiry", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "extend_expiry", "success")
	return nil
}

func (r *GormSessionRepository) Invalidate(id string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.Session{}).
		Where("id = ? AND invalidated_at IS NULL", id).
		Updates(map[string]any{"is_active": false, "invalidated_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "invalidate", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "invalidate", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) InvalidateAllForUser(userID uint) (int64, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.Session{}).
		Where("user_id = ? AND invalidated_at IS NULL", userID).
		Updates(map[string]any{"is_active": false, "invalidated_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "invalidate_all_for_user", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "invalidate_all_for_user", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) InvalidateAllForPortal(userID uint, portal string, exceptID string) (int64, error) {
	now := time.Now().UTC()
	q := r.db.Model(&domain.Session{}).
		Where("user_id = ? AND portal = ? AND invalidated_at IS NULL", userID, portal)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	res := q.Updates(map[string]any{"is_active": false, "invalidated_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "invalidate_all_for_portal", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "invalidate_all_for_portal", "success")
	return res.RowsAffected, nil
}

// DeleteExpired removes at most limit expired sessions. Invalidated but
// unexpired sessions are left alone; they age out through expires_at and
// stay queryable for auditing until then.
func (r *GormSessionRepository) DeleteExpired(limit int) (int64, error) {
	res := r.db.Where("id IN (?)",
		r.db.Model(&domain.Session{}).
			Select("id").
			Where("expires_at <= ?", time.Now()).
			Limit(limit),
	).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_expired", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) DeleteExpiredForUser(userID uint, limit int) (int64, error) {
	res := r.db.Where("id IN (?)",
		r.db.Model(&domain.Session{}).
			Select("id").
			Where("user_id = ? AND expires_at <= ?", userID, time.Now()).
			Limit(limit),
	).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_expired_for_user", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_expired_for_user", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) Stats() (*SessionStats, error) {
	now := time.Now()
	stats := &SessionStats{}
	model := func() *gorm.DB { return r.db.Model(&domain.Session{}) }

	if err := model().Count(&stats.Total).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "stats", "error")
		return nil, err
	}
	liveCond := "is_active = ? AND invalidated_at IS NULL AND expires_at > ?"
	if err := model().Where(liveCond, true, now).Count(&stats.Active).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "stats", "error")
		return nil, err
	}
	if err := model().Where("expires_at <= ?", now).Count(&stats.Expired).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "stats", "error")
		return nil, err
	}
	if err := model().Where(liveCond, true, now).
		Distinct("user_id").Count(&stats.UniqueActiveUsers).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "stats", "error")
		return nil, err
	}
	if stats.UniqueActiveUsers > 0 {
		stats.AvgSessionsPerUser = float64(stats.Active) / float64(stats.UniqueActiveUsers)
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "stats", "success")
	return stats, nil
}
