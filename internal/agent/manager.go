package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ddunnock/mnemosyne/internal/config"
	"github.com/ddunnock/mnemosyne/internal/log"
	"github.com/ddunnock/mnemosyne/internal/provider"
)

// DefaultAgentID is the id of the permanent default agent.
const DefaultAgentID = "default"

// ProviderDirectory is the slice of the provider manager the agent
// manager needs: existence and enablement checks for referenced
// providers.
type ProviderDirectory interface {
	Get(id string) (provider.Config, error)
}

type agentsFile struct {
	Version int      `json:"version"`
	Agents  []Config `json:"agents"`
}

const agentsFileVersion = 1

// Manager owns agent definitions, their lifecycle state and per-session
// conversation memory. Definitions persist to a JSON file; state and
// memory are in-process only.
//
// Manager is safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	path      string
	providers ProviderDirectory
	defaults  config.AgentDefaults
	logger    log.Logger

	agents    map[string]Config
	executing map[string]int // in-flight executions per agent
	sessions  map[string]*Memory
}

// NewManager creates a manager backed by the definitions file at path,
// loading it if present.
func NewManager(path string, providers ProviderDirectory, defaults config.AgentDefaults, logger log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	m := &Manager{
		path:      path,
		providers: providers,
		defaults:  defaults,
		logger:    logger,
		agents:    make(map[string]Config),
		executing: make(map[string]int),
		sessions:  make(map[string]*Memory),
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
		return fmt.Errorf("reading agent definitions: %w", err)
	}

	var af agentsFile
	if err := json.Unmarshal(data, &af); err != nil {
		return fmt.Errorf("parsing agent definitions: %w", err)
	}
	for _, cfg := range af.Agents {
		m.agents[cfg.ID] = cfg
	}
	m.logger.Debug("agent definitions loaded", "path", m.path, "agents", len(af.Agents))
	return nil
}

// persist writes the definitions file atomically. Caller holds the lock.
func (m *Manager) persist() error {
	af := agentsFile{Version: agentsFileVersion, Agents: m.snapshot()}
	data, err := json.MarshalIndent(af, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding agent definitions: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating definitions directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".agents-*")
	if err != nil {
		return fmt.Errorf("creating temp definitions file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing definitions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing definitions: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing definitions: %w", err)
	}
	return nil
}

func (m *Manager) snapshot() []Config {
	out := make([]Config, 0, len(m.agents))
	for _, cfg := range m.agents {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// providerEnabled reports whether a provider exists and is enabled.
func (m *Manager) providerEnabled(id string) bool {
	if m.providers == nil {
		return false
	}
	cfg, err := m.providers.Get(id)
	return err == nil && cfg.Enabled
}

// EnsureDefault installs the permanent default agent bound to the given
// provider if no default exists yet.
func (m *Manager) EnsureDefault(providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[DefaultAgentID]; ok {
		return nil
	}

	def := Config{
		ID:          DefaultAgentID,
		Name:        "Assistant",
		Description: "General-purpose assistant over the whole vault.",
		ProviderID:  providerID,
		SystemPrompt: "You are a helpful assistant answering questions about the user's notes.\n\n" +
			"Relevant notes:\n" + ContextPlaceholder + "\n\n" +
			"Answer from the notes when possible and say so when they do not cover the question.",
		Retrieval: RetrievalSettings{
			Enabled:        true,
			TopK:           5,
			ScoreThreshold: 0.25,
			Strategy:       config.StrategyHybrid,
		},
		Tools:        ToolSettings{Enabled: true},
		Capabilities: []string{"answer", "search"},
		Enabled:      true,
		Permanent:    true,
	}
	if err := def.Validate(m.providerEnabled); err != nil {
		return err
	}
	m.agents[def.ID] = def
	m.logger.Info("default agent created", "provider", providerID)
	return m.persist()
}

// Create adds a new agent definition.
func (m *Manager) Create(cfg Config) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[cfg.ID]; exists {
		return fmt.Errorf("%w: agent %q already exists", ErrInvalidAgent, cfg.ID)
	}
	if err := cfg.Validate(m.providerEnabled); err != nil {
		return err
	}
	m.agents[cfg.ID] = cfg
	return m.persist()
}

// Update replaces an existing definition. A permanent agent stays
// permanent.
func (m *Manager) Update(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.agents[cfg.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, cfg.ID)
	}
	if m.executing[cfg.ID] > 0 {
		return fmt.Errorf("%w: %s", ErrAgentBusy, cfg.ID)
	}
	cfg.Permanent = cfg.Permanent || existing.Permanent
	if err := cfg.Validate(m.providerEnabled); err != nil {
		return err
	}
	m.agents[cfg.ID] = cfg
	return m.persist()
}

// Delete removes an agent. Permanent agents cannot be deleted, only
// disabled.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if cfg.Permanent {
		return fmt.Errorf("%w: %s", ErrAgentPermanent, id)
	}
	if m.executing[id] > 0 {
		return fmt.Errorf("%w: %s", ErrAgentBusy, id)
	}
	delete(m.agents, id)
	return m.persist()
}

// SetEnabled toggles an agent.
func (m *Manager) SetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	cfg.Enabled = enabled
	m.agents[id] = cfg
	return m.persist()
}

// Get returns an agent definition.
func (m *Manager) Get(id string) (Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.agents[id]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return cfg, nil
}

// List returns all agent definitions sorted by id.
func (m *Manager) List() []Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot()
}

// FindByCapability returns enabled agents carrying the exact tag.
func (m *Manager) FindByCapability(tag string) []Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Config
	for _, cfg := range m.snapshot() {
		if !cfg.Enabled {
			continue
		}
		for _, c := range cfg.Capabilities {
			if c == tag {
				out = append(out, cfg)
				break
			}
		}
	}
	return out
}

// State reports the agent lifecycle state.
func (m *Manager) State(id string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.agents[id]
	if !ok {
		return StateUninitialized
	}
	if !cfg.Enabled {
		return StateDisabled
	}
	if m.executing[id] > 0 {
		return StateExecuting
	}
	return StateReady
}

// beginExecution transitions an agent into the executing state. It fails
// for unknown or disabled agents.
func (m *Manager) beginExecution(id string) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.agents[id]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if !cfg.Enabled {
		return Config{}, fmt.Errorf("%w: %s", ErrAgentDisabled, id)
	}
	m.executing[id]++
	return cfg, nil
}

func (m *Manager) endExecution(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.executing[id] > 0 {
		m.executing[id]--
	}
}

// Session returns the conversation memory for the given session id,
// creating it (and minting an id) as needed.
func (m *Manager) Session(id string) (string, *Memory) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	mem, ok := m.sessions[id]
	if !ok {
		mem = NewMemory(m.defaults.MaxMemoryMessages, m.defaults.MemorySummaryBlock)
		m.sessions[id] = mem
	}
	return id, mem
}

// DropSession discards a session's memory.
func (m *Manager) DropSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}
