package promptnode

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// RemoteCallTimeout bounds every chat completion call.
const RemoteCallTimeout = 60 * time.Second

const DefaultModelProvider = "openai"

type ModelProvider interface {
	CreateChatCompletion(ctx context.Context, apiKey string, req *ChatRequest) (*ChatCompletion, error)
}

type ModelProviderFunc func(ctx context.Context, apiKey string, req *ChatRequest) (*ChatCompletion, error)

func (f ModelProviderFunc) CreateChatCompletion(ctx context.Context, apiKey string, req *ChatRequest) (*ChatCompletion, error) {
	return f(ctx, apiKey, req)
}

type ModelProviderManager struct {
	mu        sync.RWMutex
	providers map[string]ModelProvider
}

var (
	ErrModelProviderNameEmpty         = errors.New("model provider name is empty")
	ErrModelProviderAlreadyRegistered = errors.New("model provider already registered")
	ErrModelProviderNotFound          = errors.New("model provider not found")
)

func NewModelProviderManager() *ModelProviderManager {
	return &ModelProviderManager{
		providers: make(map[string]ModelProvider),
	}
}

func (m *ModelProviderManager) Register(name string, provider ModelProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "" {
		return ErrModelProviderNameEmpty
	}
	if _, ok := m.providers[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrModelProviderAlreadyRegistered)
	}
	m.providers[name] = provider
	return nil
}

func (m *ModelProviderManager) Get(name string) (ModelProvider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	provider, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrModelProviderNotFound)
	}
	return provider, nil
}

func (m *ModelProviderManager) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.providers[name]
	return ok
}

func (m *ModelProviderManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.providers))
}

var globalModelProviderManager = NewModelProviderManager()

func RegisterModelProvider(name string, provider ModelProvider) error {
	return globalModelProviderManager.Register(name, provider)
}

func GetModelProvider(name string) (ModelProvider, error) {
	return globalModelProviderManager.Get(name)
}

func ModelProviders() []string {
	return globalModelProviderManager.List()
}
