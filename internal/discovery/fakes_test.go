package discovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/registry"
	"github.com/anstrom/netman/internal/transport"
)

// fakeDevice describes how a simulated device answers.
type fakeDevice struct {
	username string
	passkey  string
	dialects map[transport.Dialect]bool
	outputs  map[string]string
	failing  map[string]error
}

// fakeTransport simulates a set of devices keyed by address.
type fakeTransport struct {
	mu          sync.Mutex
	devices     map[string]*fakeDevice
	connects    []string
	executed    []string
	open        int
	disconnects int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{devices: make(map[string]*fakeDevice)}
}

func (f *fakeTransport) add(ip string, d *fakeDevice) {
	if d.dialects == nil {
		d.dialects = map[transport.Dialect]bool{transport.DialectLegacy: true, transport.DialectStandard: true}
	}
	f.devices[ip] = d
}

func (f *fakeTransport) Connect(_ context.Context, ip, username, passkey string, dialect transport.Dialect) (transport.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connects = append(f.connects, fmt.Sprintf("%s/%s/%s", ip, username, dialect))
	d, ok := f.devices[ip]
	if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", ip)
	}
	if !d.dialects[dialect] {
		return nil, fmt.Errorf("%s: dialect %s not supported", ip, dialect)
	}
	if username != d.username || passkey != d.passkey {
		return nil, fmt.Errorf("%s: authentication failed", ip)
	}
	f.open++
	return &fakeSession{transport: f, device: d}, nil
}

func (f *fakeTransport) snapshot() (connects, executed []string, open, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connects...), append([]string(nil), f.executed...), f.open, f.disconnects
}

type fakeSession struct {
	transport *fakeTransport
	device    *fakeDevice
	closed    bool
}

func (s *fakeSession) Exec(command string, _ time.Duration) (string, error) {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	if s.closed {
		return "", transport.ErrClosed
	}
	s.transport.executed = append(s.transport.executed, command)
	if err := s.device.failing[command]; err != nil {
		return "", err
	}
	return s.device.outputs[command], nil
}

func (s *fakeSession) Disconnect() error {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.transport.disconnects++
	}
	return nil
}

// memoryStore is an in-memory CredentialStore and Repository.
type memoryStore struct {
	mu          sync.Mutex
	credentials []device.Credential
	devices     []*device.Device
	err         error
}

func (m *memoryStore) addCredential(username, passkey string, scope registry.TypeID) device.Credential {
	c := device.Credential{ID: uuid.New(), Username: username, Passkey: passkey, Scope: scope}
	m.credentials = append(m.credentials, c)
	return c
}

func (m *memoryStore) CredentialsForType(_ context.Context, typeID registry.TypeID) ([]device.Credential, error) {
	var out []device.Credential
	for _, c := range m.credentials {
		if c.Scope == typeID {
			out = append(out, c)
		}
	}
	return out, m.err
}

func (m *memoryStore) GlobalCredentials(_ context.Context) ([]device.Credential, error) {
	var out []device.Credential
	for _, c := range m.credentials {
		if c.Scope == "" {
			out = append(out, c)
		}
	}
	return out, m.err
}

func (m *memoryStore) CredentialByID(_ context.Context, id uuid.UUID) (*device.Credential, error) {
	for i := range m.credentials {
		if m.credentials[i].ID == id {
			c := m.credentials[i]
			return &c, nil
		}
	}
	return nil, m.err
}

func (m *memoryStore) find(match func(*device.Device) bool) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, d := range m.devices {
		if match(d) {
			c := *d
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) FindByIP(_ context.Context, ip string) (*device.Device, error) {
	return m.find(func(d *device.Device) bool { return d.IP == ip })
}

func (m *memoryStore) FindBySerial(_ context.Context, serial string) (*device.Device, error) {
	return m.find(func(d *device.Device) bool { return d.Serial == serial })
}

func (m *memoryStore) FindByName(_ context.Context, name string) (*device.Device, error) {
	return m.find(func(d *device.Device) bool { return d.Name == name })
}

func (m *memoryStore) Save(_ context.Context, dev *device.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dev.ID == uuid.Nil {
		dev.ID = uuid.New()
	}
	c := *dev
	for i, d := range m.devices {
		if d.ID == dev.ID {
			m.devices[i] = &c
			return nil
		}
	}
	m.devices = append(m.devices, &c)
	return nil
}

// statusRecorder records status cache writes.
type statusRecorder struct {
	mu      sync.Mutex
	entries map[string]bool
	ttls    map[string]time.Duration
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{entries: map[string]bool{}, ttls: map[string]time.Duration{}}
}

func (s *statusRecorder) Put(ip string, discoverable bool, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ip] = discoverable
	s.ttls[ip] = ttl
}

// countingRecorder counts engine events.
type countingRecorder struct {
	mu         sync.Mutex
	outcomes   map[string]int
	classified []registry.TypeID
	sessions   int
	commands   int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: map[string]int{}}
}

func (r *countingRecorder) DiscoveryCompleted(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *countingRecorder) Classified(typeID registry.TypeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classified = append(r.classified, typeID)
}

func (r *countingRecorder) SessionFailed(transport.Dialect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions++
}

func (r *countingRecorder) CommandFailed(registry.TypeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands++
}

func defaultRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	return reg
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CommandTimeout = time.Second
	return cfg
}

func newTestEngine(t *testing.T, tr transport.Transport, store *memoryStore, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(logging.NewDiscard())}, opts...)
	return NewEngine(testConfig(), defaultRegistry(t), tr, store, store, opts...)
}

// Sample command outputs.
const (
	iosVersion = `Cisco IOS Software, C2960 Software (C2960-LANBASEK9-M), Version 12.2(55)SE7
ROM: Bootstrap program is C2960 boot loader
cisco WS-C2960-24TT-L (PowerPC405) processor (revision B0) with 65536K bytes of memory.
Processor board ID FOC1234ABCD
`
	iosxeVersion = `Cisco IOS XE Software, Version 16.09.04
Cisco IOS Software [Fuji], Catalyst L3 Switch Software (CAT9K_IOSXE)
IOS-XE ROMMON
cisco C9300-48P (X86) processor with 1419044K/6147K bytes of memory.
Processor board ID FCW2233L0AB
System image file is "flash:packages.conf"
package: cat9k-rpbase.16.09.04.SPA.pkg
`
	arubaVersion = `Image stamp:    /ws/swbuildm/rel_ukiah_qt/code/build/lvm(swbuildm_rel_ukiah_qt_rel_ukiah)
                Aruba
                Compiled: Mar 1 2021
`
)

func ciscoIOSDevice() *fakeDevice {
	return &fakeDevice{
		username: "admin",
		passkey:  "secret",
		outputs: map[string]string{
			"sh ver":     iosVersion,
			"sh version": iosVersion,
			"sh run":     "!\nhostname core-sw1\n!\ninterface Vlan1\n",
			"sh ip arp":  "Protocol  Address          Age (min)  Hardware Addr   Type   Interface",
		},
	}
}
