package factory

import (
	"fmt"
	"net/url"
	"time"

	"github.com/mcoot/coinfall/internal/dependencies/mocks"
	"github.com/mcoot/coinfall/internal/metrics"
	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/services/auth"
	"github.com/mcoot/coinfall/internal/services/identity"
	"github.com/mcoot/coinfall/internal/services/session"
	"github.com/mcoot/coinfall/internal/storage"
	"github.com/mcoot/coinfall/internal/storage/memory"
	"github.com/mcoot/coinfall/internal/testutil"
)

// TestBotToken signs init data accepted by a TestApp
const TestBotToken = "123456:TEST-BOT-TOKEN"

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
}

// NewTestApp creates an App configured for testing with mocked dependencies
// and in-memory storage
func NewTestApp() *TestApp {
	return NewTestAppWith(memory.New(), session.DefaultConfig())
}

// NewTestAppWith creates a test App over the given store and session config
func NewTestAppWith(store storage.Storage, sessionCfg session.Config) *TestApp {
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()
	verifier := identity.NewTelegramVerifier(TestBotToken, time.Hour, mockClock)

	authCfg := auth.DefaultConfig()
	authCfg.Secret = "test-secret"

	app, err := newWithDependencies(store, mockClock, mockRandom, verifier, metrics.New(), nil, authCfg, sessionCfg, testutil.NopLogger())
	if err != nil {
		panic(fmt.Sprintf("test app: %v", err))
	}

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
	}
}

// InitData returns Telegram init data for the user signed with TestBotToken
func (t *TestApp) InitData(id model.UserID, username string) string {
	user := fmt.Sprintf(`{"id":%d,"username":%q}`, id, username)
	return identity.SignInitData(url.Values{"user": {user}}, TestBotToken, t.MockClock.Now())
}

// Advance moves the clock forward one second at a time, ticking every engine
func (t *TestApp) Advance(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += time.Second {
		step := min(time.Second, d-elapsed)
		t.MockClock.Advance(step)
		t.Sessions.Tick(t.MockClock.Now())
	}
}
