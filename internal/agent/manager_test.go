package agent

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ddunnock/mnemosyne/internal/config"
	"github.com/ddunnock/mnemosyne/internal/provider"
)

// stubDirectory answers provider lookups from a fixed set of enabled ids.
type stubDirectory struct {
	enabled map[string]bool
}

func (s *stubDirectory) Get(id string) (provider.Config, error) {
	enabled, ok := s.enabled[id]
	if !ok {
		return provider.Config{}, fmt.Errorf("provider %s not configured", id)
	}
	return provider.Config{ID: id, Enabled: enabled}, nil
}

func testAgentDefaults() config.AgentDefaults {
	return config.AgentDefaults{MaxToolIterations: 8, MaxMemoryMessages: 20, MemorySummaryBlock: 4}
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.json")
	dir := &stubDirectory{enabled: map[string]bool{"local": true, "disabled-provider": false}}
	m, err := NewManager(path, dir, testAgentDefaults(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, path
}

func TestManagerCreateAndReload(t *testing.T) {
	m, path := newTestManager(t)

	cfg := validConfig()
	cfg.ProviderID = "local"
	if err := m.Create(cfg); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dir := &stubDirectory{enabled: map[string]bool{"local": true}}
	m2, err := NewManager(path, dir, testAgentDefaults(), nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := m2.Get("researcher")
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if got.Name != "Researcher" {
		t.Errorf("reloaded agent = %+v", got)
	}
}

func TestManagerCreateMintsID(t *testing.T) {
	m, _ := newTestManager(t)

	cfg := validConfig()
	cfg.ID = ""
	cfg.ProviderID = "local"
	if err := m.Create(cfg); err != nil {
		t.Fatalf("Create without id: %v", err)
	}

	agents := m.List()
	if len(agents) != 1 || agents[0].ID == "" {
		t.Errorf("minted agent list = %+v", agents)
	}
}

func TestManagerCreateRejectsInvalid(t *testing.T) {
	m, _ := newTestManager(t)

	cfg := validConfig()
	cfg.ProviderID = "disabled-provider"
	if err := m.Create(cfg); !errors.Is(err, ErrInvalidAgent) {
		t.Errorf("disabled provider: want ErrInvalidAgent, got %v", err)
	}

	cfg = validConfig()
	cfg.ProviderID = "local"
	cfg.SystemPrompt = "no placeholder"
	if err := m.Create(cfg); !errors.Is(err, ErrInvalidAgent) {
		t.Errorf("missing placeholder: want ErrInvalidAgent, got %v", err)
	}
}

func TestManagerDuplicateID(t *testing.T) {
	m, _ := newTestManager(t)

	cfg := validConfig()
	cfg.ProviderID = "local"
	if err := m.Create(cfg); err != nil {
		t.Fatal(err)
	}
	if err := m.Create(cfg); err == nil {
		t.Error("duplicate agent id accepted")
	}
}

func TestManagerEnsureDefault(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.EnsureDefault("local"); err != nil {
		t.Fatalf("EnsureDefault: %v", err)
	}
	def, err := m.Get(DefaultAgentID)
	if err != nil {
		t.Fatal(err)
	}
	if !def.Permanent || !def.Enabled {
		t.Errorf("default agent = %+v", def)
	}

	// Idempotent: a second call does not replace the existing default.
	def.Name = "Customized"
	if err := m.Update(def); err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureDefault("local"); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Get(DefaultAgentID)
	if got.Name != "Customized" {
		t.Error("EnsureDefault overwrote an existing default")
	}
}

func TestManagerDeletePermanent(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.EnsureDefault("local"); err != nil {
		t.Fatal(err)
	}

	if err := m.Delete(DefaultAgentID); !errors.Is(err, ErrAgentPermanent) {
		t.Errorf("deleting permanent agent: want ErrAgentPermanent, got %v", err)
	}

	// Disabling is allowed.
	if err := m.SetEnabled(DefaultAgentID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if m.State(DefaultAgentID) != StateDisabled {
		t.Errorf("state = %s", m.State(DefaultAgentID))
	}
}

func TestManagerUpdateKeepsPermanent(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.EnsureDefault("local"); err != nil {
		t.Fatal(err)
	}

	def, _ := m.Get(DefaultAgentID)
	def.Permanent = false // attempt to strip the flag
	if err := m.Update(def); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Get(DefaultAgentID)
	if !got.Permanent {
		t.Error("update stripped the permanent flag")
	}
}

func TestManagerStates(t *testing.T) {
	m, _ := newTestManager(t)

	if m.State("ghost") != StateUninitialized {
		t.Errorf("unknown agent state = %s", m.State("ghost"))
	}

	cfg := validConfig()
	cfg.ProviderID = "local"
	if err := m.Create(cfg); err != nil {
		t.Fatal(err)
	}
	if m.State(cfg.ID) != StateReady {
		t.Errorf("enabled agent state = %s", m.State(cfg.ID))
	}

	got, err := m.beginExecution(cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != cfg.ID {
		t.Errorf("beginExecution returned %s", got.ID)
	}
	if m.State(cfg.ID) != StateExecuting {
		t.Errorf("executing agent state = %s", m.State(cfg.ID))
	}

	// Updates are refused while executing.
	if err := m.Update(cfg); !errors.Is(err, ErrAgentBusy) {
		t.Errorf("update while executing: want ErrAgentBusy, got %v", err)
	}

	m.endExecution(cfg.ID)
	if m.State(cfg.ID) != StateReady {
		t.Errorf("state after execution = %s", m.State(cfg.ID))
	}
}

func TestManagerBeginExecutionDisabled(t *testing.T) {
	m, _ := newTestManager(t)

	cfg := validConfig()
	cfg.ProviderID = "local"
	if err := m.Create(cfg); err != nil {
		t.Fatal(err)
	}
	if err := m.SetEnabled(cfg.ID, false); err != nil {
		t.Fatal(err)
	}

	if _, err := m.beginExecution(cfg.ID); !errors.Is(err, ErrAgentDisabled) {
		t.Errorf("want ErrAgentDisabled, got %v", err)
	}
	if _, err := m.beginExecution("ghost"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("want ErrAgentNotFound, got %v", err)
	}
}

func TestManagerFindByCapability(t *testing.T) {
	m, _ := newTestManager(t)

	mk := func(id string, caps []string, enabled bool) {
		cfg := validConfig()
		cfg.ID = id
		cfg.ProviderID = "local"
		cfg.Capabilities = caps
		cfg.Enabled = enabled
		if err := m.Create(cfg); err != nil {
			t.Fatal(err)
		}
	}
	mk("summarizer", []string{"summarize"}, true)
	mk("offline", []string{"summarize"}, false)
	mk("searcher", []string{"search"}, true)

	got := m.FindByCapability("summarize")
	if len(got) != 1 || got[0].ID != "summarizer" {
		t.Errorf("FindByCapability(summarize) = %+v", got)
	}

	// Exact tags only; no substring matching.
	if got := m.FindByCapability("summar"); len(got) != 0 {
		t.Errorf("partial tag matched: %+v", got)
	}
}

func TestManagerSessions(t *testing.T) {
	m, _ := newTestManager(t)

	id1, mem1 := m.Session("")
	if id1 == "" || mem1 == nil {
		t.Fatal("session not minted")
	}

	id2, mem2 := m.Session(id1)
	if id2 != id1 || mem2 != mem1 {
		t.Error("existing session not reused")
	}

	m.DropSession(id1)
	_, mem3 := m.Session(id1)
	if mem3 == mem1 {
		t.Error("dropped session memory survived")
	}
}
