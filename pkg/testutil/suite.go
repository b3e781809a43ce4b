package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

// WorkspaceSuite gives each test a fresh directory, a logger and a context
// bounded to five minutes.
type WorkspaceSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	dir    string
	log    *zap.Logger
}

// SetupTest runs before each test in the suite.
func (s *WorkspaceSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.dir = s.T().TempDir()
	s.log = TestLogger(s.T())
}

// TearDownTest runs after each test in the suite.
func (s *WorkspaceSuite) TearDownTest() {
	s.cancel()
}

// Context returns the test context.
func (s *WorkspaceSuite) Context() context.Context { return s.ctx }

// Dir returns the test directory.
func (s *WorkspaceSuite) Dir() string { return s.dir }

// Logger returns the test logger.
func (s *WorkspaceSuite) Logger() *zap.Logger { return s.log }

// Path joins name onto the test directory.
func (s *WorkspaceSuite) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// CreateTempFile writes content under the test directory.
func (s *WorkspaceSuite) CreateTempFile(name string, content []byte) string {
	return WriteFile(s.T(), s.dir, name, content)
}

// IntegrationTest skips the calling test in short mode.
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}
