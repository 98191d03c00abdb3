package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/autoanosis/ai-relay-go/internal/config"
	"github.com/autoanosis/ai-relay-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Storage interface defines conversation operations
type Storage interface {
	// Get returns a copy of the conversation, or nil if unknown.
	Get(ctx context.Context, conversationID string) (*models.Conversation, error)
	// History returns the ordered messages, empty if unknown.
	History(ctx context.Context, conversationID string) ([]models.Message, error)
	// Append creates the conversation if absent, appends msg, refreshes
	// LastActivity and trims to the most recent entries.
	Append(ctx context.Context, conversationID string, ownerUID int64, msg models.Message, now time.Time) error
	// Sweep removes conversations idle for longer than ttl and reports how many.
	Sweep(ctx context.Context, now time.Time, ttl time.Duration) (int, error)
	// Len returns the number of stored conversations.
	Len() int
}

// Manager wraps a Storage with the sweep policy
type Manager struct {
	storage        Storage
	ttl            time.Duration
	sweepThreshold int
	logger         *logrus.Logger
	onSweep        func(removed, remaining int)
}

// NewManager creates a new storage manager backed by in-process memory
func NewManager(cfg *config.ConversationConfig, logger *logrus.Logger) *Manager {
	return &Manager{
		storage:        NewMemoryStorage(cfg.MaxHistory),
		ttl:            cfg.TTL,
		sweepThreshold: cfg.SweepThreshold,
		logger:         logger,
	}
}

// OnSweep registers a callback invoked after every sweep.
func (m *Manager) OnSweep(fn func(removed, remaining int)) {
	m.onSweep = fn
}

func (m *Manager) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	return m.storage.Get(ctx, conversationID)
}

func (m *Manager) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	return m.storage.History(ctx, conversationID)
}

func (m *Manager) Append(ctx context.Context, conversationID string, ownerUID int64, msg models.Message, now time.Time) error {
	return m.storage.Append(ctx, conversationID, ownerUID, msg, now)
}

func (m *Manager) Len() int {
	return m.storage.Len()
}

// Sweep removes expired conversations now.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed, err := m.storage.Sweep(ctx, now, m.ttl)
	if err != nil {
		return 0, err
	}
	remaining := m.storage.Len()
	if removed > 0 {
		m.logger.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": remaining,
		}).Info("Swept expired conversations")
	}
	if m.onSweep != nil {
		m.onSweep(removed, remaining)
	}
	return removed, nil
}

// MaybeSweep sweeps only once the conversation count passes the threshold.
func (m *Manager) MaybeSweep(ctx context.Context, now time.Time) (int, error) {
	if m.storage.Len() <= m.sweepThreshold {
		return 0, nil
	}
	return m.Sweep(ctx, now)
}

// StartCleanup sweeps every interval until ctx is done.
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := m.Sweep(ctx, now); err != nil {
				m.logger.WithError(err).Error("Failed to sweep expired conversations")
			}
		}
	}
}

// NewConversationID returns conv_<unix seconds>_<8 hex chars>.
func NewConversationID(now time.Time) string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(fmt.Sprintf("conversation id: %v", err))
	}
	return fmt.Sprintf("conv_%d_%s", now.Unix(), hex.EncodeToString(b[:]))
}

const memoryShards = 32

// MemoryStorage implements Storage with sharded in-process maps
type MemoryStorage struct {
	maxHistory int
	shards     [memoryShards]memoryShard
}

type memoryShard struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
}

func NewMemoryStorage(maxHistory int) *MemoryStorage {
	m := &MemoryStorage{maxHistory: maxHistory}
	for i := range m.shards {
		m.shards[i].conversations = make(map[string]*models.Conversation)
	}
	return m
}

func (m *MemoryStorage) shard(id string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &m.shards[h.Sum32()%memoryShards]
}

func (m *MemoryStorage) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	s := m.shard(conversationID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	cp := *conv
	cp.Messages = append([]models.Message(nil), conv.Messages...)
	return &cp, nil
}

func (m *MemoryStorage) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	s := m.shard(conversationID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return []models.Message{}, nil
	}
	return append([]models.Message(nil), conv.Messages...), nil
}

func (m *MemoryStorage) Append(ctx context.Context, conversationID string, ownerUID int64, msg models.Message, now time.Time) error {
	s := m.shard(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &models.Conversation{ID: conversationID, OwnerUID: ownerUID}
		s.conversations[conversationID] = conv
	}
	conv.Messages = append(conv.Messages, msg)
	if over := len(conv.Messages) - m.maxHistory; m.maxHistory > 0 && over > 0 {
		conv.Messages = append([]models.Message(nil), conv.Messages[over:]...)
	}
	conv.LastActivity = now
	return nil
}

// Sweep collects expired ids under a read lock, then deletes each only if it
// is still expired, so a conversation appended to mid-sweep survives.
func (m *MemoryStorage) Sweep(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	removed := 0
	for i := range m.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		s := &m.shards[i]

		var expired []string
		s.mu.RLock()
		for id, conv := range s.conversations {
			if now.Sub(conv.LastActivity) > ttl {
				expired = append(expired, id)
			}
		}
		s.mu.RUnlock()

		if len(expired) == 0 {
			continue
		}
		s.mu.Lock()
		for _, id := range expired {
			if conv, ok := s.conversations[id]; ok && now.Sub(conv.LastActivity) > ttl {
				delete(s.conversations, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

func (m *MemoryStorage) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.conversations)
		s.mu.RUnlock()
	}
	return n
}
