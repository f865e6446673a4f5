// Package chatbot owns the model-keyed engine cache used by the adapters.
package chatbot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/moolen/lookout/internal/agent/engine"
	"github.com/moolen/lookout/internal/agent/provider"
	"github.com/moolen/lookout/internal/agent/state"
	"github.com/moolen/lookout/internal/logging"
)

// DefaultCacheSize is the number of engines kept when Config.CacheSize is
// unset.
const DefaultCacheSize = 4

// BuildFunc constructs an engine for model.
type BuildFunc func(ctx context.Context, model string) (*engine.Engine, error)

// Service lazily builds one engine per model and routes chats to the
// engine of the current model. An engine is rebuilt only when its model is
// selected again with SetModel.
type Service struct {
	mu      sync.Mutex
	current string
	cache   *lru.Cache[string, *engine.Engine]
	build   BuildFunc
	logger  *logging.Logger

	// retired holds engines dropped from the cache that may still be
	// running turns. Wait drains them.
	retired map[*engine.Engine]struct{}
}

// New returns a service starting on model. The initial model is not checked
// against the catalog so that custom deployments can be configured.
func New(model string, cacheSize int, build BuildFunc) (*Service, error) {
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	s := &Service{
		current: model,
		build:   build,
		logger:  logging.GetLogger("chatbot"),
		retired: make(map[*engine.Engine]struct{}),
	}
	// The callback runs inside cache calls made with s.mu held.
	cache, err := lru.NewWithEvict(cacheSize, func(model string, e *engine.Engine) {
		s.logger.Debug("evicted engine for model %s", model)
		s.retired[e] = struct{}{}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

// Model returns the current model.
func (s *Service) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Engine returns the engine for the current model, building it on first
// use.
func (s *Service) Engine(ctx context.Context) (*engine.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.cache.Get(s.current); ok {
		return e, nil
	}
	s.logger.Info("Building engine for model %s", s.current)
	e, err := s.build(ctx, s.current)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine for %s: %w", s.current, err)
	}
	s.cache.Add(s.current, e)
	return e, nil
}

// SetModel switches to model and drops its cached engine so the next
// request rebuilds it. Turns already running keep their engine.
func (s *Service) SetModel(model string) error {
	if err := ValidateModel(model); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.cache.Peek(model); ok {
		s.retired[e] = struct{}{}
		s.cache.Remove(model)
	}
	s.current = model
	s.logger.Info("Switched model to %s", model)
	return nil
}

// Chat submits a turn to the current engine.
func (s *Service) Chat(ctx context.Context, threadID, text string) (<-chan engine.Event, error) {
	e, err := s.Engine(ctx)
	if err != nil {
		return nil, err
	}
	return e.SubmitTurn(ctx, threadID, text)
}

// History returns the messages of threadID.
func (s *Service) History(ctx context.Context, threadID string) ([]state.Message, error) {
	e, err := s.Engine(ctx)
	if err != nil {
		return nil, err
	}
	return e.History(ctx, threadID)
}

// Wait blocks until the turns of every engine built so far have finished,
// including engines replaced by SetModel or evicted from the cache.
func (s *Service) Wait() {
	s.mu.Lock()
	engines := s.cache.Values()
	retired := make([]*engine.Engine, 0, len(s.retired))
	for e := range s.retired {
		retired = append(retired, e)
	}
	s.mu.Unlock()

	for _, e := range append(engines, retired...) {
		e.Wait()
	}

	s.mu.Lock()
	for _, e := range retired {
		delete(s.retired, e)
	}
	s.mu.Unlock()
}

// Models returns the selectable models, sorted.
func Models() []string {
	var out []string
	for _, models := range provider.AvailableModels {
		out = append(out, models...)
	}
	sort.Strings(out)
	return out
}

// ValidateModel accepts catalog models and mock:<script> models.
func ValidateModel(model string) error {
	if strings.HasPrefix(model, "mock:") && len(model) > len("mock:") {
		return nil
	}
	for _, m := range Models() {
		if m == model {
			return nil
		}
	}
	return fmt.Errorf("unknown model %q (available: %s)", model, strings.Join(Models(), ", "))
}
