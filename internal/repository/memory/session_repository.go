package memory

import (
	"context"
	"sync"
	"time"

	"docchat/internal/entity"
	"docchat/internal/repository/contract"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// SessionRepository keeps relay sessions in process memory. Sessions expire
// after ttl without activity.
type SessionRepository struct {
	cache *cache.Cache
	// Serialises read-modify-write of a session's messages.
	mu sync.Mutex
}

var _ contract.ChatSessionRepository = (*SessionRepository)(nil)

func NewSessionRepository(ttl time.Duration) *SessionRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	cleanup := ttl / 6
	if cleanup < time.Second {
		cleanup = time.Second
	}
	return &SessionRepository{
		cache: cache.New(ttl, cleanup),
	}
}

func (r *SessionRepository) Create(ctx context.Context, session *entity.ChatSession) error {
	r.cache.Set(session.Id.String(), session.Clone(), cache.DefaultExpiration)
	return nil
}

func (r *SessionRepository) FindOne(ctx context.Context, id uuid.UUID) (*entity.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.get(id)
	if !ok {
		return nil, contract.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (r *SessionRepository) AppendMessages(ctx context.Context, id uuid.UUID, messages ...entity.ChatMessage) (*entity.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.get(id)
	if !ok {
		return nil, contract.ErrSessionNotFound
	}

	updated := session.Clone()
	updated.Messages = append(updated.Messages, messages...)
	updated.UpdatedAt = time.Now()
	// Set again so activity extends the expiry.
	r.cache.Set(id.String(), updated, cache.DefaultExpiration)
	return updated.Clone(), nil
}

func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.cache.Delete(id.String())
	return nil
}

func (r *SessionRepository) get(id uuid.UUID) (*entity.ChatSession, bool) {
	if x, found := r.cache.Get(id.String()); found {
		return x.(*entity.ChatSession), true
	}
	return nil, false
}
