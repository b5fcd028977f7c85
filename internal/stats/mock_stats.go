package stats

import "github.com/stretchr/testify/mock"

var (
	_ StatsProvider = (*StatsUpdater)(nil)
	_ StatsProvider = (*MockStatsUpdater)(nil)
)

// MockStatsUpdater records metric updates for tests that assert on
// connection and room accounting.
type MockStatsUpdater struct {
	mock.Mock
}

func (m *MockStatsUpdater) Incr(name string) { m.Called(name) }

func (m *MockStatsUpdater) Decr(name string) { m.Called(name) }

func (m *MockStatsUpdater) RegisterMetric(name string) { m.Called(name) }

func (m *MockStatsUpdater) Run() { m.Called() }

func (m *MockStatsUpdater) Stop() { m.Called() }
