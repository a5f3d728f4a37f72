package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/skycast-app/skycast/internal/domain"
	"github.com/skycast-app/skycast/internal/observability"
)

var ErrSessionNotFound = errors.New("session not found")

// maxChainLength bounds the rotation-chain walk in RevokeChainFromHash. A
// 14-day session refreshed every 10 minutes stays three orders of magnitude
// below this.
const maxChainLength = 10000

type SessionRepository interface {
	Create(s *domain.RefreshSession) error
	FindByHash(hash string) (*domain.RefreshSession, error)
	// RotateSession revokes the active session identified by oldHash and
	// inserts newSession in a single transaction. The old row's
	// replaced_by_hash is set to the new row's hash. Returns
	// ErrSessionNotFound when no active row matches oldHash, which is how a
	// concurrent rotation of the same token loses the race.
	RotateSession(oldHash string, newSession *domain.RefreshSession) (*domain.RefreshSession, error)
	RevokeByHash(hash string) error
	RevokeByUserID(userID uint) (int64, error)
	// RevokeChainFromHash follows replaced_by_hash links starting at hash and
	// revokes every still-active descendant. Used when a consumed token is
	// presented again.
	RevokeChainFromHash(hash string) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(s *domain.RefreshSession) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByHash(hash string) (*domain.RefreshSession, error) {
	var s domain.RefreshSession
	err := r.db.Where("refresh_token_hash = ?", hash).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_hash", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_hash", "success")
	return &s, nil
}

func (r *GormSessionRepository) RotateSession(oldHash string, newSession *domain.RefreshSession) (*domain.RefreshSession, error) {
	var rotated *domain.RefreshSession
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var s domain.RefreshSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("refresh_token_hash = ? AND revoked_at IS NULL AND expires_at > ?", oldHash, time.Now()).
			First(&s).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		now := time.Now().UTC()
		if err := tx.Model(&domain.RefreshSession{}).
			Where("id = ?", s.ID).
			Updates(map[string]any{
				"revoked_at":       now,
				"replaced_by_hash": newSession.RefreshTokenHash,
			}).Error; err != nil {
			return err
		}
		if err := tx.Create(newSession).Error; err != nil {
			return err
		}
		s.RevokedAt = &now
		s.ReplacedByHash = &newSession.RefreshTokenHash
		rotated = &s
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "rotate_session", "not_found")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "session", "rotate_session", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "rotate_session", "success")
	return rotated, nil
}

func (r *GormSessionRepository) RevokeByHash(hash string) error {
	now := time.Now().UTC()
	err := r.db.Model(&domain.RefreshSession{}).
		Where("refresh_token_hash = ? AND revoked_at IS NULL", hash).
		Update("revoked_at", now).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "revoke_by_hash", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "revoke_by_hash", "success")
	return nil
}

func (r *GormSessionRepository) RevokeByUserID(userID uint) (int64, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.RefreshSession{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", now)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "revoke_by_user_id", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "revoke_by_user_id", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) RevokeChainFromHash(hash string) (int64, error) {
	var revoked int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		current := hash
		for i := 0; i < maxChainLength && current != ""; i++ {
			var s domain.RefreshSession
			err := tx.Where("refresh_token_hash = ?", current).First(&s).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil
				}
				return err
			}
			if s.RevokedAt == nil {
				res := tx.Model(&domain.RefreshSession{}).
					Where("id = ? AND revoked_at IS NULL", s.ID).
					Update("revoked_at", now)
				if res.Error != nil {
					return res.Error
				}
				revoked += res.RowsAffected
			}
			if s.ReplacedByHash == nil {
				return nil
			}
			current = *s.ReplacedByHash
		}
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "revoke_chain_from_hash", "error")
		return revoked, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "revoke_chain_from_hash", "success")
	return revoked, nil
}
