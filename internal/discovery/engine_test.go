package discovery

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/errors"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/registry"
	"github.com/anstrom/netman/internal/transport"
)

func iosxeDevice() *fakeDevice {
	return &fakeDevice{
		username: "admin",
		passkey:  "secret",
		dialects: map[transport.Dialect]bool{transport.DialectStandard: true},
		outputs: map[string]string{
			"sh ver":     iosxeVersion,
			"sh version": iosxeVersion,
			"sh run":     "hostname edge-rtr1\n",
		},
	}
}

func TestDiscoverCiscoIOS(t *testing.T) {
	tr := newFakeTransport()
	tr.add("10.0.0.1", ciscoIOSDevice())
	store := &memoryStore{}
	cred := store.addCredential("admin", "secret", "")
	status := newStatusRecorder()
	recorder := newCountingRecorder()

	e := newTestEngine(t, tr, store, WithStatusCache(status), WithRecorder(recorder))
	dev, err := e.Discover(context.Background(), &device.Device{IP: "10.0.0.1"})
	require.NoError(t, err)

	assert.Equal(t, registry.TypeID("cisco-ios"), dev.Type)
	assert.Equal(t, "core-sw1", dev.Name)
	assert.Equal(t, "FOC1234ABCD", dev.Serial)
	assert.Equal(t, "WS-C2960-24TT-L", dev.Model)
	require.NotNil(t, dev.CredentialID)
	assert.Equal(t, cred.ID, *dev.CredentialID)
	assert.NotNil(t, dev.LastDiscoveredAt)
	assert.NotNil(t, dev.LastScannedAt)
	assert.True(t, dev.IsNew(), "the engine never saves")

	version, _ := dev.Data.Get("version")
	assert.Equal(t, iosVersion, version)

	assert.True(t, status.entries["10.0.0.1"])
	assert.Equal(t, testConfig().StatusTTL, status.ttls["10.0.0.1"])
	assert.Equal(t, 1, recorder.outcomes[OutcomeSuccess])
	assert.Equal(t, []registry.TypeID{"cisco", "cisco-ios"}, recorder.classified)

	_, _, open, disconnects := tr.snapshot()
	assert.Equal(t, 3, open, "root identify, cisco identify, scan")
	assert.Equal(t, open, disconnects)
}

func TestDiscoverCiscoIOSXEOverStandardDialect(t *testing.T) {
	tr := newFakeTransport()
	tr.add("10.0.0.2", iosxeDevice())
	store := &memoryStore{}
	store.addCredential("admin", "secret", "")
	recorder := newCountingRecorder()

	e := newTestEngine(t, tr, store, WithRecorder(recorder))
	dev, err := e.Discover(context.Background(), &device.Device{IP: "10.0.0.2"})
	require.NoError(t, err)

	assert.Equal(t, registry.TypeID("cisco-iosxe"), dev.Type)
	assert.Equal(t, "edge-rtr1", dev.Name)
	assert.Equal(t, "FCW2233L0AB", dev.Serial)
	assert.Equal(t, "C9300-48P", dev.Model)
	assert.Equal(t, 3, recorder.sessions, "legacy fails once per session")
}

func TestDiscoverScopedCredentialAfterRefinement(t *testing.T) {
	tr := newFakeTransport()
	tr.add("10.0.0.1", ciscoIOSDevice())
	store := &memoryStore{}
	store.addCredential("admin", "secret", "")
	store.addCredential("other", "nope", "cisco")

	e := newTestEngine(t, tr, store)
	dev, err := e.Discover(context.Background(), &device.Device{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, registry.TypeID("cisco-ios"), dev.Type)

	connects, _, _, _ := tr.snapshot()
	assert.Equal(t, "10.0.0.1/admin/legacy", connects[0])
	// The first credential that works stays bound for the rest of the run.
	for _, c := range connects {
		assert.NotContains(t, c, "other")
	}
}

func TestDiscoverInvalidAddress(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(), &memoryStore{})
	for _, ip := range []string{"", "not-an-ip", "10.0.0.256"} {
		_, err := e.Discover(context.Background(), &device.Device{IP: ip})
		require.Error(t, err, ip)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidAddress), ip)
	}
}

func TestDiscoverNoCredentials(t *testing.T) {
	tr := newFakeTransport()
	tr.add("10.0.0.1", ciscoIOSDevice())
	status := newStatusRecorder()

	e := newTestEngine(t, tr, &memoryStore{}, WithStatusCache(status))
	_, err := e.Discover(context.Background(), &device.Device{IP: "10.0.0.1"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNoCredentials))
	_, marked := status.entries["10.0.0.1"]
	assert.False(t, marked, "missing credentials must not mark the address undiscoverable")
}

func TestDiscoverCanceledLeavesStatusUntouched(t *testing.T) {
	tr := newFakeTransport()
	tr.add("10.0.0.1", ciscoIOSDevice())
	store := &memoryStore{}
	store.addCredential("admin", "secret", "")
	status := newStatusRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEngine(t, tr, store, WithStatusCache(status))
	_, err := e.Discover(ctx, &device.Device{IP: "10.0.0.1"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCanceled))
	_, marked := status.entries["10.0.0.1"]
	assert.False(t, marked)
}

func TestDiscoverUnreachable(t *testing.T) {
	store := &memoryStore{}
	store.addCredential("admin", "secret", "")
	store.addCredential("backup", "hunter2", "")
	status := newStatusRecorder()
	recorder := newCountingRecorder()

	e := newTestEngine(t, newFakeTransport(), store, WithStatusCache(status), WithRecorder(recorder))
	_, err := e.Discover(context.Background(), &device.Device{IP: "10.0.0.9"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeUnreachable))
	assert.Len(t, AttemptsFromError(err), 4)

	discoverable, ok := status.entries["10.0.0.9"]
	assert.True(t, ok)
	assert.False(t, discoverable)
	assert.Equal(t, 1, recorder.outcomes[OutcomeUnreachable])
}

func TestDiscoverUnknownVendorIsExhausted(t *testing.T) {
	tr := newFakeTransport()
	tr.add("10.0.0.3", &fakeDevice{
		username: "admin",
		passkey:  "secret",
		outputs:  map[string]string{"sh ver": "JUNOS 18.2R3 built by builder"},
	})
	store := &memoryStore{}
	store.addCredential("admin", "secret", "")
	recorder := newCountingRecorder()
	status := newStatusRecorder()

	e := newTestEngine(t, tr, store, WithRecorder(recorder), WithStatusCache(status))
	_, err := e.Discover(context.Background(), &device.Device{IP: "10.0.0.3"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeClassificationExhausted))
	assert.Equal(t, 1, recorder.outcomes[OutcomeUnclassified])

	discoverable, marked := status.entries["10.0.0.3"]
	assert.True(t, marked)
	assert.False(t, discoverable)
}

func TestDiscoverUnrefinedVendorUsesVendorBattery(t *testing.T) {
	tr := newFakeTransport()
	tr.add("10.0.0.4", &fakeDevice{
		username: "admin",
		passkey:  "secret",
		outputs: map[string]string{
			"sh ver":     "Cisco Adaptive Security Appliance Software Version 9.8",
			"sh version": "Cisco Adaptive Security Appliance Software Version 9.8\nHardware:   ASA5516, 8192 MB RAM",
			"sh run":     "hostname fw1\n",
		},
	})
	store := &memoryStore{}
	store.addCredential("admin", "secret", "")

	e := newTestEngine(t, tr, store)
	dev, err := e.Discover(context.Background(), &device.Device{IP: "10.0.0.4"})
	require.NoError(t, err)
	assert.Equal(t, registry.TypeID("cisco"), dev.Type)
	assert.Equal(t, "fw1", dev.Name)
	assert.Equal(t, "ASA5516", dev.Model)
}

func TestDiscoverKnownAddressUpdatesRecord(t *testing.T) {
	tr := newFakeTransport()
	tr.add("10.0.0.1", ciscoIOSDevice())
	store := &memoryStore{}
	cred := store.addCredential("admin", "secret", "")

	known := &device.Device{ID: uuid.New(), IP: "10.0.0.1", Type: "cisco-ios", CredentialID: &cred.ID}
	require.NoError(t, store.Save(context.Background(), known))

	e := newTestEngine(t, tr, store)
	dev, err := e.Discover(context.Background(), &device.Device{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, known.ID, dev.ID)
	assert.Equal(t, "core-sw1", dev.Name)

	_, _, open, _ := tr.snapshot()
	assert.Equal(t, 1, open, "a leaf type goes straight to scanning")
}

func TestDiscoverRestartsOnKnownSerial(t *testing.T) {
	tr := newFakeTransport()
	tr.add("10.0.0.1", ciscoIOSDevice())
	tr.add("10.0.0.9", ciscoIOSDevice())
	store := &memoryStore{}
	store.addCredential("admin", "secret", "")

	known := &device.Device{ID: uuid.New(), IP: "10.0.0.1", Type: "cisco-ios", Serial: "FOC1234ABCD"}
	require.NoError(t, store.Save(context.Background(), known))

	e := newTestEngine(t, tr, store)
	dev, err := e.Discover(context.Background(), &device.Device{IP: "10.0.0.9"})
	require.NoError(t, err)
	assert.Equal(t, known.ID, dev.ID)
	assert.Equal(t, "10.0.0.1", dev.IP)
	assert.Equal(t, "core-sw1", dev.Name)
}

func TestDiscoverDuplicateIdentityWithoutRestarts(t *testing.T) {
	tr := newFakeTransport()
	tr.add("10.0.0.9", ciscoIOSDevice())
	store := &memoryStore{}
	store.addCredential("admin", "secret", "")
	known := &device.Device{ID: uuid.New(), IP: "10.0.0.1", Type: "cisco-ios", Name: "core-sw1"}
	require.NoError(t, store.Save(context.Background(), known))

	cfg := testConfig()
	cfg.MaxRestarts = 0
	e := NewEngine(cfg, defaultRegistry(t), tr, store, store, WithLogger(logging.NewDiscard()))

	_, err := e.Discover(context.Background(), &device.Device{IP: "10.0.0.9"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDuplicateIdentity))
}

func TestScanExistingDevice(t *testing.T) {
	tr := newFakeTransport()
	tr.add("10.0.0.1", ciscoIOSDevice())
	store := &memoryStore{}
	store.addCredential("other", "nope", "")
	cred := store.addCredential("admin", "secret", "")

	e := newTestEngine(t, tr, store)
	dev := &device.Device{ID: uuid.New(), IP: "10.0.0.1", Type: "cisco-ios", CredentialID: &cred.ID}
	got, err := e.Scan(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, "FOC1234ABCD", got.Serial)
	assert.NotNil(t, got.LastScannedAt)
	assert.Nil(t, got.LastDiscoveredAt)

	connects, _, _, _ := tr.snapshot()
	assert.Equal(t, []string{"10.0.0.1/admin/legacy"}, connects)
}

func TestScanTypeWithoutBattery(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(), &memoryStore{})
	_, err := e.Scan(context.Background(), &device.Device{IP: "10.0.0.1", Type: "device"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}
