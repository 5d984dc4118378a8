//go:build integration

package db

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/errors"
	"github.com/anstrom/netman/internal/registry"
)

const integrationTimeout = 10 * time.Second

// integrationConfig reads the test database from TEST_DB_* variables.
func integrationConfig() Config {
	cfg := DefaultConfig()
	cfg.Host = envOrDefault("TEST_DB_HOST", "localhost")
	cfg.Database = envOrDefault("TEST_DB_NAME", "netman_test")
	cfg.Username = envOrDefault("TEST_DB_USER", "test_user")
	cfg.Password = envOrDefault("TEST_DB_PASSWORD", "test_password")
	if port, err := strconv.Atoi(os.Getenv("TEST_DB_PORT")); err == nil {
		cfg.Port = port
	}
	return cfg
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type RepositoryIntegrationSuite struct {
	suite.Suite
	db          *DB
	devices     *DeviceRepository
	credentials *CredentialRepository
	ctx         context.Context
	cancel      context.CancelFunc
}

func (s *RepositoryIntegrationSuite) SetupSuite() {
	cfg := integrationConfig()

	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	database, err := ConnectAndMigrate(ctx, &cfg)
	if err != nil {
		s.T().Skipf("test database not available: %v", err)
	}
	s.db = database
	s.devices = NewDeviceRepository(database)
	s.credentials = NewCredentialRepository(database)
}

func (s *RepositoryIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *RepositoryIntegrationSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), integrationTimeout)
	_, err := s.db.ExecContext(s.ctx, `TRUNCATE devices, credentials`)
	s.Require().NoError(err)
}

func (s *RepositoryIntegrationSuite) TearDownTest() {
	s.cancel()
}

func (s *RepositoryIntegrationSuite) TestDeviceLifecycle() {
	dev := &device.Device{IP: "10.20.0.1", Name: "edge-rtr1", Serial: "JN1234", Type: "juniper_junos"}
	dev.Data.Set("version", "JUNOS 21.4R3\n")
	dev.Data.Set("chassis", "Chassis JN1234 MX204\n")
	s.Require().NoError(s.devices.Save(s.ctx, dev))
	s.Require().False(dev.IsNew())
	s.False(dev.CreatedAt.IsZero())

	byIP, err := s.devices.FindByIP(s.ctx, "10.20.0.1")
	s.Require().NoError(err)
	s.Require().NotNil(byIP)
	s.Equal(dev.ID, byIP.ID)
	s.Equal([]string{"version", "chassis"}, byIP.Data.Keys())

	bySerial, err := s.devices.FindBySerial(s.ctx, "JN1234")
	s.Require().NoError(err)
	s.Require().NotNil(bySerial)
	s.Equal(dev.ID, bySerial.ID)

	byName, err := s.devices.FindByName(s.ctx, "edge-rtr1")
	s.Require().NoError(err)
	s.Require().NotNil(byName)
	s.Equal(dev.ID, byName.ID)

	missing, err := s.devices.FindByIP(s.ctx, "10.20.0.99")
	s.Require().NoError(err)
	s.Nil(missing)

	byIP.Model = "MX204"
	s.Require().NoError(s.devices.Save(s.ctx, byIP))
	updated, err := s.devices.GetByID(s.ctx, dev.ID)
	s.Require().NoError(err)
	s.Equal("MX204", updated.Model)

	s.Require().NoError(s.devices.Delete(s.ctx, dev.ID))
	err = s.devices.Delete(s.ctx, dev.ID)
	s.True(errors.IsCode(err, errors.CodeNotFound))
}

func (s *RepositoryIntegrationSuite) TestDuplicateAddressRejected() {
	s.Require().NoError(s.devices.Save(s.ctx, &device.Device{IP: "10.20.0.2"}))
	err := s.devices.Save(s.ctx, &device.Device{IP: "10.20.0.2"})
	s.Error(err)
}

func (s *RepositoryIntegrationSuite) TestListFilters() {
	for i, typ := range []registry.TypeID{"cisco_ios", "cisco_ios", "juniper_junos"} {
		dev := &device.Device{IP: "10.30.0." + strconv.Itoa(i+1), Name: "sw" + strconv.Itoa(i+1), Type: typ}
		s.Require().NoError(s.devices.Save(s.ctx, dev))
	}

	devices, total, err := s.devices.List(s.ctx, DeviceFilter{Type: "cisco_ios", Limit: 1})
	s.Require().NoError(err)
	s.Equal(int64(2), total)
	s.Require().Len(devices, 1)
	s.Equal("10.30.0.1", devices[0].IP)

	ids, err := s.devices.IDs(s.ctx)
	s.Require().NoError(err)
	s.Len(ids, 3)
}

func (s *RepositoryIntegrationSuite) TestCredentialOrderingAndUnbind() {
	first := &device.Credential{Username: "admin", Passkey: "one"}
	second := &device.Credential{Username: "backup", Passkey: "two"}
	scoped := &device.Credential{Username: "ubnt", Passkey: "three", Scope: "ubiquiti"}
	for _, c := range []*device.Credential{first, second, scoped} {
		s.Require().NoError(s.credentials.Create(s.ctx, c))
	}

	global, err := s.credentials.GlobalCredentials(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(global, 2)
	s.Equal("admin", global[0].Username)
	s.Equal("backup", global[1].Username)

	forType, err := s.credentials.CredentialsForType(s.ctx, "ubiquiti")
	s.Require().NoError(err)
	s.Require().Len(forType, 1)
	s.Equal(scoped.ID, forType[0].ID)

	dev := &device.Device{IP: "10.40.0.1", CredentialID: &first.ID}
	s.Require().NoError(s.devices.Save(s.ctx, dev))

	s.Require().NoError(s.credentials.Delete(s.ctx, first.ID))
	stored, err := s.devices.GetByID(s.ctx, dev.ID)
	s.Require().NoError(err)
	s.Nil(stored.CredentialID)

	gone, err := s.credentials.CredentialByID(s.ctx, uuid.New())
	s.Require().NoError(err)
	s.Nil(gone)
}

func TestRepositoryIntegration(t *testing.T) {
	suite.Run(t, new(RepositoryIntegrationSuite))
}
