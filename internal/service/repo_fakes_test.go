package service

import (
	"sync"
	"time"

	"github.com/classlane/portal-auth-service/internal/domain"
	"github.com/classlane/portal-auth-service/internal/repository"
)

type inMemoryUserRepo struct {
	mu      sync.Mutex
	nextID  uint
	byID    map[uint]*domain.User
	byEmail map[string]*domain.User
}

func newInMemoryUserRepo() *inMemoryUserRepo {
	return &inMemoryUserRepo{
		nextID:  1,
		byID:    map[uint]*domain.User{},
		byEmail: map[string]*domain.User{},
	}
}

func (r *inMemoryUserRepo) FindByID(id uint) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *inMemoryUserRepo) FindByEmail(email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byEmail[email]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *inMemoryUserRepo) Create(user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(user)
}

func (r *inMemoryUserRepo) createLocked(user *domain.User) error {
	cp := *user
	cp.ID = r.nextID
	r.nextID++
	r.byID[cp.ID] = &cp
	r.byEmail[cp.Email] = &cp
	user.ID = cp.ID
	return nil
}

func (r *inMemoryUserRepo) Update(user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.byID[cp.ID] = &cp
	r.byEmail[cp.Email] = &cp
	return nil
}

func (r *inMemoryUserRepo) FindOrCreateByEmail(user *domain.User) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byEmail[user.Email]; ok {
		cp := *existing
		return &cp, nil
	}
	if err := r.createLocked(user); err != nil {
		return nil, err
	}
	cp := *r.byEmail[user.Email]
	return &cp, nil
}

func (r *inMemoryUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

type inMemoryRefreshRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.RefreshToken
}

func newInMemoryRefreshRepo() *inMemoryRefreshRepo {
	return &inMemoryRefreshRepo{byID: map[string]*domain.RefreshToken{}}
}

func (r *inMemoryRefreshRepo) Create(t *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.byID[cp.ID] = &cp
	return nil
}

func (r *inMemoryRefreshRepo) FindByID(id string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrRefreshTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryRefreshRepo) TouchLastUsed(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[id]; ok {
		at := at
		t.LastUsedAt = &at
	}
	return nil
}

func (r *inMemoryRefreshRepo) DeleteByID(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

func (r *inMemoryRefreshRepo) Revoke(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	t.RevokedAt = &now
	return true, nil
}

func (r *inMemoryRefreshRepo) RevokeAllForUser(userID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, t := range r.byID {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *inMemoryRefreshRepo) RevokeAllForPortal(userID uint, portal string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, t := range r.byID {
		if t.UserID == userID && t.Portal == portal && t.RevokedAt == nil {
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *inMemoryRefreshRepo) DeleteExpired(limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for id, t := range r.byID {
		if n >= int64(limit) {
			break
		}
		if !t.ExpiresAt.After(now) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func (r *inMemoryRefreshRepo) DeleteExpiredOrRevoked(limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for id, t := range r.byID {
		if n >= int64(limit) {
			break
		}
		if !t.ExpiresAt.After(now) || t.RevokedAt != nil {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func (r *inMemoryRefreshRepo) DeleteExpiredForUser(userID uint, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for id, t := range r.byID {
		if n >= int64(limit) {
			break
		}
		if t.UserID == userID && !t.ExpiresAt.After(now) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

type inMemorySessionRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Session
}

func newInMemorySessionRepo() *inMemorySessionRepo {
	return &inMemorySessionRepo{byID: map[string]*domain.Session{}}
}

func (r *inMemorySessionRepo) Create(s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.CreatedAt = time.Now()
	r.byID[cp.ID] = &cp
	return nil
}

func (r *inMemorySessionRepo) FindByID(id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *inMemorySessionRepo) ListByUserID(userID uint) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Session
	for _, s := range r.byID {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *inMemorySessionRepo) Touch(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		s.LastAccessedAt = at
	}
	return nil
}

func (r *inMemorySessionRepo) ExtendExpiry(id string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok && s.ExpiresAt.Before(until) {
		s.ExpiresAt = until
	}
	return nil
}

func (r *inMemorySessionRepo) Invalidate(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || s.InvalidatedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	s.IsActive = false
	s.InvalidatedAt = &now
	return true, nil
}

func (r *inMemorySessionRepo) InvalidateAllForUser(userID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, s := range r.byID {
		if s.UserID == userID && s.InvalidatedAt == nil {
			s.IsActive = false
			s.InvalidatedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *inMemorySessionRepo) InvalidateAllForPortal(userID uint, portal string, exceptID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, s := range r.byID {
		if s.UserID == userID && s.Portal == portal && s.ID != exceptID && s.InvalidatedAt == nil {
			s.IsActive = false
			s.InvalidatedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *inMemorySessionRepo) DeleteExpired(limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for id, s := range r.byID {
		if n >= int64(limit) {
			break
		}
		if !s.ExpiresAt.After(now) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func (r *inMemorySessionRepo) DeleteExpiredForUser(userID uint, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for id, s := range r.byID {
		if n >= int64(limit) {
			break
		}
		if s.UserID == userID && !s.ExpiresAt.After(now) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func (r *inMemorySessionRepo) Stats() (*repository.SessionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &repository.SessionStats{}
	now := time.Now()
	users := map[uint]struct{}{}
	for _, s := range r.byID {
		stats.Total++
		if !s.ExpiresAt.After(now) {
			stats.Expired++
		}
		if s.Live(now) {
			stats.Active++
			users[s.UserID] = struct{}{}
		}
	}
	stats.UniqueActiveUsers = int64(len(users))
	if stats.UniqueActiveUsers > 0 {
		stats.AvgSessionsPerUser = float64(stats.Active) / float64(stats.UniqueActiveUsers)
	}
	return stats, nil
}
