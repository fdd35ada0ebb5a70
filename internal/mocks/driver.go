package mocks

import (
	"github.com/brettbedarf/bootvfs/filesystem"
	"github.com/brettbedarf/bootvfs/fsstring"
	"github.com/stretchr/testify/mock"
)

// MockHost implements filesystem.HostServices for testing across packages
type MockHost struct {
	mock.Mock
}

func (m *MockHost) NativeEncoding() fsstring.Encoding {
	args := m.Called()
	return args.Get(0).(fsstring.Encoding)
}

func (m *MockHost) ChangeBlocksize(vol *filesystem.Volume, oldPhys, oldLog, newPhys, newLog uint32) {
	m.Called(vol, oldPhys, oldLog, newPhys, newLog)
}

func (m *MockHost) ReadBlock(vol *filesystem.Volume, physBlock uint64) ([]byte, error) {
	args := m.Called(vol, physBlock)

	// Handle function return types (for tests that compute block contents)
	if fn, ok := args.Get(0).(func(uint64) []byte); ok {
		return fn(physBlock), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

var _ filesystem.HostServices = (*MockHost)(nil)

// MockDriver implements filesystem.Driver for testing across packages.
// Name is not recorded as a call so that log statements do not need
// expectations.
type MockDriver struct {
	mock.Mock
	DriverName string
}

func (m *MockDriver) Name() string {
	if m.DriverName == "" {
		return "mock"
	}
	return m.DriverName
}

func (m *MockDriver) VolumeMount(vol *filesystem.Volume) (uint64, error) {
	args := m.Called(vol)

	if fn, ok := args.Get(0).(func(*filesystem.Volume) uint64); ok {
		return fn(vol), args.Error(1)
	}
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockDriver) VolumeFree(vol *filesystem.Volume) {
	m.Called(vol)
}

func (m *MockDriver) VolumeStat(vol *filesystem.Volume) (filesystem.VolumeStat, error) {
	args := m.Called(vol)
	return args.Get(0).(filesystem.VolumeStat), args.Error(1)
}

func (m *MockDriver) NodeFill(vol *filesystem.Volume, n *filesystem.Node) (filesystem.FillInfo, error) {
	args := m.Called(vol, n)

	if fn, ok := args.Get(0).(func(*filesystem.Node) filesystem.FillInfo); ok {
		return fn(n), args.Error(1)
	}
	return args.Get(0).(filesystem.FillInfo), args.Error(1)
}

func (m *MockDriver) NodeFree(vol *filesystem.Volume, n *filesystem.Node) {
	m.Called(vol, n)
}

func (m *MockDriver) NodeStat(vol *filesystem.Volume, n *filesystem.Node, sb *filesystem.NodeStat) error {
	args := m.Called(vol, n, sb)
	return args.Error(0)
}

func (m *MockDriver) GetExtent(vol *filesystem.Volume, n *filesystem.Node, lbn uint64) (filesystem.Extent, error) {
	args := m.Called(vol, n, lbn)

	if fn, ok := args.Get(0).(func(uint64) filesystem.Extent); ok {
		return fn(lbn), args.Error(1)
	}
	return args.Get(0).(filesystem.Extent), args.Error(1)
}

func (m *MockDriver) DirLookup(vol *filesystem.Volume, dir *filesystem.Node, name fsstring.String) (*filesystem.Node, error) {
	args := m.Called(vol, dir, name)

	if fn, ok := args.Get(0).(func(*filesystem.Node, fsstring.String) (*filesystem.Node, error)); ok {
		return fn(dir, name)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*filesystem.Node), args.Error(1)
}

func (m *MockDriver) DirRead(vol *filesystem.Volume, dir *filesystem.Node, h *filesystem.Handle) (*filesystem.Node, error) {
	args := m.Called(vol, dir, h)

	if fn, ok := args.Get(0).(func(*filesystem.Node, *filesystem.Handle) (*filesystem.Node, error)); ok {
		return fn(dir, h)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*filesystem.Node), args.Error(1)
}

func (m *MockDriver) Readlink(vol *filesystem.Volume, n *filesystem.Node) (fsstring.String, error) {
	args := m.Called(vol, n)

	if fn, ok := args.Get(0).(func(*filesystem.Node) (fsstring.String, error)); ok {
		return fn(n)
	}
	return args.Get(0).(fsstring.String), args.Error(1)
}

var _ filesystem.Driver = (*MockDriver)(nil)

// MockProvider implements drivers.Provider for testing across packages
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) NewDriver(raw []byte) (filesystem.Driver, error) {
	args := m.Called(raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(filesystem.Driver), args.Error(1)
}
