package wifi

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ChrisB0-2/apguard/internal/core"
)

// Fixture is the YAML shape of a static Wi-Fi environment.
type Fixture struct {
	Unavailable bool                 `yaml:"unavailable"`
	Configured  []FixtureNetwork     `yaml:"configured"`
	Observed    []FixtureAccessPoint `yaml:"observed"`
}

type FixtureNetwork struct {
	Network    string `yaml:"network"`
	Handle     string `yaml:"handle"`
	Hidden     bool   `yaml:"hidden"`
	Enterprise bool   `yaml:"enterprise"`
}

type FixtureAccessPoint struct {
	Network     string `yaml:"network"`
	AccessPoint string `yaml:"access_point"`
	SignalDBm   int    `yaml:"signal_dbm"`
	Enterprise  bool   `yaml:"enterprise"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture: %w", err)
	}
	for i, n := range f.Configured {
		if n.Network == "" && !n.Hidden {
			return Fixture{}, fmt.Errorf("fixture configured[%d]: network is required", i)
		}
	}
	return f, nil
}

// Static is an in-memory controller driven by a Fixture. It records the
// autoconnect state each action leaves behind.
type Static struct {
	mu         sync.Mutex
	fixture    Fixture
	enabled    map[string]bool
	reconnects int
	scans      int
}

func NewStatic(f Fixture) *Static {
	f.Configured = append([]FixtureNetwork(nil), f.Configured...)
	s := &Static{fixture: f, enabled: make(map[string]bool)}
	for i, n := range s.fixture.Configured {
		if n.Handle == "" {
			s.fixture.Configured[i].Handle = n.Network
		}
	}
	return s
}

// LoadStatic builds a Static controller from a fixture file.
func LoadStatic(path string) (*Static, error) {
	f, err := LoadFixture(path)
	if err != nil {
		return nil, err
	}
	return NewStatic(f), nil
}

func (s *Static) ConfiguredNetworks(context.Context) ([]core.ConfiguredNetwork, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fixture.Unavailable {
		return nil, core.ErrUnavailable
	}
	out := make([]core.ConfiguredNetwork, 0, len(s.fixture.Configured))
	for _, n := range s.fixture.Configured {
		out = append(out, core.ConfiguredNetwork{
			Network:    core.NetworkName(n.Network),
			Handle:     n.Handle,
			Hidden:     n.Hidden,
			Enterprise: n.Enterprise,
		})
	}
	return out, nil
}

func (s *Static) ObservedAccessPoints(context.Context) ([]core.ObservedAccessPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fixture.Unavailable {
		return nil, core.ErrUnavailable
	}
	out := make([]core.ObservedAccessPoint, 0, len(s.fixture.Observed))
	for _, o := range s.fixture.Observed {
		out = append(out, core.ObservedAccessPoint{
			Network:     core.NetworkName(o.Network),
			AccessPoint: core.NormalizeAccessPointID(o.AccessPoint),
			SignalDBm:   o.SignalDBm,
			Enterprise:  o.Enterprise,
		})
	}
	return out, nil
}

func (s *Static) Enable(_ context.Context, handle string, exclusive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.known(handle) {
		return fmt.Errorf("unknown handle %q", handle)
	}
	if exclusive {
		for _, n := range s.fixture.Configured {
			s.enabled[n.Handle] = false
		}
	}
	s.enabled[handle] = true
	return nil
}

func (s *Static) Disable(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.known(handle) {
		return fmt.Errorf("unknown handle %q", handle)
	}
	s.enabled[handle] = false
	return nil
}

func (s *Static) RequestReconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}

func (s *Static) RequestScan(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	return nil
}

// SetObserved replaces the scan results.
func (s *Static) SetObserved(aps []FixtureAccessPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixture.Observed = append([]FixtureAccessPoint(nil), aps...)
}

// SetUnavailable toggles the unavailable state.
func (s *Static) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixture.Unavailable = v
}

// Enabled reports the last action applied to handle. The second value is
// false when no action touched it yet.
func (s *Static) Enabled(handle string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.enabled[handle]
	return v, ok
}

// EnabledHandles returns the handles currently enabled, sorted.
func (s *Static) EnabledHandles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for h, on := range s.enabled {
		if on {
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out
}

// Counts returns how many reconnects and scans were requested.
func (s *Static) Counts() (reconnects, scans int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects, s.scans
}

func (s *Static) known(handle string) bool {
	for _, n := range s.fixture.Configured {
		if n.Handle == handle {
			return true
		}
	}
	return false
}

var _ core.WifiController = (*Static)(nil)
