package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/codefence/codefence/internal/infrastructure/logging"
)

// MemoryStore is an in-process Store keyed by message id.
type MemoryStore struct {
	mu   sync.RWMutex
	msgs map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{msgs: map[string]string{}}
}

// Put seeds or replaces a message without going through the repair flow.
func (s *MemoryStore) Put(messageID, source string) {
	s.mu.Lock()
	s.msgs[messageID] = source
	s.mu.Unlock()
}

func (s *MemoryStore) Source(_ context.Context, messageID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.msgs[messageID]
	if !ok {
		return "", ErrMessageNotFound
	}
	return src, nil
}

func (s *MemoryStore) Update(_ context.Context, messageID, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgs[messageID]; !ok {
		return ErrMessageNotFound
	}
	s.msgs[messageID] = source
	return nil
}

// LogInjector records injections to the structured log. It stands in for
// a real conversation backend when none is attached.
type LogInjector struct {
	logger *logging.Logger
}

// NewLogInjector creates a log-backed injector.
func NewLogInjector(logger *logging.Logger) *LogInjector {
	return &LogInjector{logger: logger}
}

func (l *LogInjector) InjectContext(_ context.Context, id string, depth int, content string, ephemeral bool) error {
	l.logger.Info("context injected",
		zap.String("id", id),
		zap.Int("depth", depth),
		zap.Int("bytes", len(content)),
		zap.Bool("ephemeral", ephemeral),
	)
	return nil
}
