package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ddunnock/mnemosyne/internal/log"
	"github.com/ddunnock/mnemosyne/internal/secrets"
)

var (
	// ErrProviderNotFound indicates no provider with the given id exists.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderDisabled indicates the provider exists but is disabled.
	ErrProviderDisabled = errors.New("provider disabled")
)

// Config describes one configured provider. The API key is stored only
// in encrypted form; plaintext exists transiently when a backend is
// constructed.
type Config struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Backend string `json:"backend"` // openai, ollama, gemini
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`

	APIKey *secrets.Encrypted `json:"api_key,omitempty"`

	Enabled bool `json:"enabled"`

	// RequestsPerMinute caps outbound calls; 0 disables the limiter.
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
}

type settingsFile struct {
	Version   int      `json:"version"`
	Providers []Config `json:"providers"`
}

const settingsVersion = 1

// Manager holds provider configurations, persists them to disk, and
// constructs backends on demand. Credentials are decrypted through the
// key manager session at construction time only.
//
// Manager is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	path     string
	session  *secrets.Session
	logger   log.Logger
	configs  map[string]Config
	backends map[string]Backend
	limiters map[string]*rate.Limiter
}

// NewManager creates a manager backed by the settings file at path,
// loading it if present.
func NewManager(path string, session *secrets.Session, logger log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	m := &Manager{
		path:     path,
		session:  session,
		logger:   logger,
		configs:  make(map[string]Config),
		backends: make(map[string]Backend),
		limiters: make(map[string]*rate.Limiter),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading provider settings: %w", err)
	}

	var sf settingsFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parsing provider settings: %w", err)
	}
	for _, cfg := range sf.Providers {
		m.configs[cfg.ID] = cfg
	}
	m.logger.Debug("provider settings loaded", "path", m.path, "providers", len(sf.Providers))
	return nil
}

// persist writes the settings file atomically. Caller holds the lock.
func (m *Manager) persist() error {
	sf := settingsFile{Version: settingsVersion, Providers: m.snapshot()}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding provider settings: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".providers-*")
	if err != nil {
		return fmt.Errorf("creating temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing settings: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("restricting settings permissions: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing settings: %w", err)
	}
	return nil
}

// snapshot returns configs sorted by id. Caller holds at least RLock.
func (m *Manager) snapshot() []Config {
	out := make([]Config, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Set adds or replaces a provider configuration. When apiKey is
// non-empty it is encrypted under the session; empty keeps any existing
// encrypted key (or none, for keyless backends like a local Ollama).
func (m *Manager) Set(cfg Config, apiKey string) error {
	if cfg.ID == "" {
		return fmt.Errorf("provider id must not be empty")
	}
	switch cfg.Backend {
	case openAIName, ollamaName, geminiName:
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if apiKey != "" {
		enc, err := m.session.Encrypt([]byte(apiKey))
		if err != nil {
			return fmt.Errorf("encrypting API key: %w", err)
		}
		cfg.APIKey = &enc
	} else if existing, ok := m.configs[cfg.ID]; ok && cfg.APIKey == nil {
		cfg.APIKey = existing.APIKey
	}

	m.configs[cfg.ID] = cfg
	delete(m.backends, cfg.ID)
	delete(m.limiters, cfg.ID)
	return m.persist()
}

// Remove deletes a provider configuration.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.configs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	delete(m.configs, id)
	delete(m.backends, id)
	delete(m.limiters, id)
	return m.persist()
}

// SetEnabled toggles a provider without touching its credentials.
func (m *Manager) SetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	cfg.Enabled = enabled
	m.configs[id] = cfg
	if !enabled {
		delete(m.backends, id)
	}
	return m.persist()
}

// Get returns the configuration for id.
func (m *Manager) Get(id string) (Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[id]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return cfg, nil
}

// List returns all configurations sorted by id.
func (m *Manager) List() []Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot()
}

// Backend returns a ready-to-call backend for id, constructing it on
// first use. The returned backend applies the provider's rate limit
// before every call.
func (m *Manager) Backend(ctx context.Context, id string) (Backend, error) {
	m.mu.RLock()
	if b, ok := m.backends[id]; ok {
		m.mu.RUnlock()
		return b, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.backends[id]; ok {
		return b, nil
	}
	cfg, ok := m.configs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrProviderDisabled, id)
	}

	backend, err := m.construct(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerMinute > 0 {
		limiter, ok := m.limiters[id]
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
			m.limiters[id] = limiter
		}
		backend = &rateLimited{inner: backend, limiter: limiter}
	}
	m.backends[id] = backend
	m.logger.Debug("provider backend ready", "provider", id, "backend", cfg.Backend, "model", cfg.Model)
	return backend, nil
}

func (m *Manager) construct(ctx context.Context, cfg Config) (Backend, error) {
	apiKey, err := m.decryptKey(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case openAIName:
		return NewOpenAI(cfg.BaseURL, apiKey, cfg.Model), nil
	case ollamaName:
		return NewOllama(cfg.BaseURL, cfg.Model), nil
	case geminiName:
		return NewGemini(ctx, apiKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (m *Manager) decryptKey(cfg Config) (string, error) {
	if cfg.APIKey == nil {
		return "", nil
	}
	plaintext, err := m.session.Decrypt(*cfg.APIKey)
	if err != nil {
		return "", fmt.Errorf("decrypting API key for %s: %w", cfg.ID, err)
	}
	return string(plaintext), nil
}

// Test sends a minimal ping through the provider and reports the
// classified error, if any.
func (m *Manager) Test(ctx context.Context, id string) error {
	backend, err := m.Backend(ctx, id)
	if err != nil {
		return err
	}
	_, err = backend.Chat(ctx, []Message{{Role: RoleUser, Content: "ping"}}, Options{MaxTokens: 8})
	return err
}

// rateLimited wraps a backend with a token-bucket limiter applied before
// every outbound call.
type rateLimited struct {
	inner   Backend
	limiter *rate.Limiter
}

func (r *rateLimited) Name() string { return r.inner.Name() }

func (r *rateLimited) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Chat(ctx, messages, opts)
}

func (r *rateLimited) Stream(ctx context.Context, messages []Message, onChunk func(StreamChunk), opts Options) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Stream(ctx, messages, onChunk, opts)
}

func (r *rateLimited) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.ChatWithTools(ctx, messages, tools, opts)
}
