package repository

import (
	"context"
	"errors"
	"time"

	"github.com/classlane/portal-auth-service/internal/domain"
	"github.com/classlane/portal-auth-service/internal/observability"

	"gorm.io/gorm"
)

var ErrRefreshTokenNotFound = errors.New("refresh token not found")

type RefreshTokenRepository interface {
	Create(t *domain.RefreshToken) error
	FindByID(id string) (*domain.RefreshToken, error)
	TouchLastUsed(id string, at time.Time) error
	DeleteByID(id string) error
	Revoke(id string) (bool, error)
	RevokeAllForUser(userID uint) (int64, error)
	RevokeAllForPortal(userID uint, portal string) (int64, error)
	DeleteExpired(limit int) (int64, error)
	DeleteExpiredOrRevoked(limit int) (int64, error)
	DeleteExpiredForUser(userID uint, limit int) (int64, error)
}

type GormRefreshTokenRepository struct{ db *gorm.DB }

func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &GormRefreshTokenRepository{db: db}
}

func (r *GormRefreshTokenRepository) Create(t *domain.RefreshToken) error {
	err := r.db.Create(t).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "create", "success")
	return nil
}

func (r *GormRefreshTokenRepository) FindByID(id string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "refresh_token", "find_by_id", "not_found")
			return nil, ErrRefreshTokenNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "find_by_id", "success")
	return &t, nil
}

func (r *GormRefreshTokenRepository) TouchLastUsed(id string, at time.Time) error {
	err := r.db.Model(&domain.RefreshToken{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "touch_last_used", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "touch_last_used", "success")
	return nil
}

func (r *GormRefreshTokenRepository) DeleteByID(id string) error {
	err := r.db.Where("id = ?", id).Delete(&domain.RefreshToken{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "delete_by_id", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "delete_by_id", "success")
	return nil
}

// Revoke marks a record revoked. Re-revoking an already revoked record is
// a no-op reported as changed=false.
func (r *GormRefreshTokenRepository) Revoke(id string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", now)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormRefreshTokenRepository) RevokeAllForUser(userID uint) (int64, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", now)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke_all_for_user", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke_all_for_user", "success")
	return res.RowsAffected, nil
}

func (r *GormRefreshTokenRepository) RevokeAllForPortal(userID uint, portal string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.RefreshToken{}).
		Where("user_id = ? AND portal = ? AND revoked_at IS NULL", userID, portal).
		Update("revoked_at", now)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke_all_for_portal", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke_all_for_portal", "success")
	return res.RowsAffected, nil
}

func (r *GormRefreshTokenRepository) DeleteExpired(limit int) (int64, error) {
	res := r.db.Where("id IN (?)",
		r.db.Model(&domain.RefreshToken{}).
			Select("id").
			Where("expires_at <= ?", time.Now()).
			Limit(limit),
	).Delete(&domain.RefreshToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "delete_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "delete_expired", "success")
	return res.RowsAffected, nil
}

func (r *GormRefreshTokenRepository) DeleteExpiredOrRevoked(limit int) (int64, error) {
	res := r.db.Where("id IN (?)",
		r.db.Model(&domain.RefreshToken{}).
			Select("id").
			Where("expires_at <= ? OR revoked_at IS NOT NULL", time.Now()).
			Limit(limit),
	).Delete(&domain.RefreshToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "delete_expired_or_revoked", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "delete_expired_or_revoked", "success")
	return res.RowsAffected, nil
}

func (r *GormRefreshTokenRepository) DeleteExpiredForUser(userID uint, limit int) (int64, error) {
	res := r.db.Where("id IN (?)",
		r.db.Model(&domain.RefreshToken{}).
			Select("id").
			Where("user_id = ? AND expires_at <= ?", userID, time.Now()).
			Limit(limit),
	).Delete(&domain.RefreshToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "delete_expired_for_user", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "delete_expired_for_user", "success")
	return res.RowsAffected, nil
}
