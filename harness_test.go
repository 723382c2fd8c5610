package identity_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/crypto/bcrypt"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/provider/memory"
	"github.com/goliatone/go-identity/repository"

	_ "github.com/mattn/go-sqlite3"
)

const (
	testSigningKey    = "test-signing-key"
	testAdminEmail    = "admin@example.com"
	testAdminPassword = "admin-password-1"
	testReviewInbox   = "review@example.com"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type notificationRecorder struct {
	mu   sync.Mutex
	sent []identity.Notification
}

func (r *notificationRecorder) Notify(_ context.Context, n identity.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *notificationRecorder) Kinds() []identity.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]identity.NotificationKind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

func (r *notificationRecorder) Count(kind identity.NotificationKind) int {
	n := 0
	for _, k := range r.Kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *notificationRecorder) Last(kind identity.NotificationKind) (identity.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Kind == kind {
			return r.sent[i], true
		}
	}
	return identity.Notification{}, false
}

type activityRecorder struct {
	mu     sync.Mutex
	events []identity.ActivityEvent
}

func (r *activityRecorder) Record(_ context.Context, event identity.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *activityRecorder) Has(eventType identity.ActivityEventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	repo      *repository.Manager
	authority *memory.Authority
	notes     *notificationRecorder
	events    *activityRecorder
	clock     *testClock
	svc       *identity.Service
}

type harnessConfig struct {
	mode          identity.VerificationMode
	noAuthority   bool
	deterministic bool
}

type harnessOption func(*harnessConfig)

func withLocalVerification() harnessOption {
	return func(c *harnessConfig) { c.mode = identity.VerifyLocal }
}

func withoutAuthority() harnessOption {
	return func(c *harnessConfig) { c.noAuthority = true }
}

func withDeterministicIDs() harnessOption {
	return func(c *harnessConfig) { c.deterministic = true }
}

func newTestRepository(t *testing.T) *repository.Manager {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	require.NoError(t, repository.CreateSchema(context.Background(), bunDB))
	t.Cleanup(func() { _ = bunDB.Close() })

	return repository.NewManager(bunDB)
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{mode: identity.VerifyExternal}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{
		t:         t,
		ctx:       context.Background(),
		repo:      newTestRepository(t),
		authority: memory.NewAuthority(),
		notes:     &notificationRecorder{},
		events:    &activityRecorder{},
		clock:     newTestClock(),
	}

	var authority identity.ExternalAuthority = h.authority
	if cfg.noAuthority {
		authority = nil
	}

	svc, err := identity.NewService(h.repo.Stores(), authority, h.notes, identity.ServiceConfig{
		Tokens: identity.TokenConfig{
			SigningKey: []byte(testSigningKey),
			Issuer:     "identity-test",
			Audience:   []string{"identity"},
		},
		ProfessionalVerification: cfg.mode,
		DeterministicIDs:         cfg.deterministic,
		AdminEmail:               testReviewInbox,
	}, []identity.Option{
		identity.WithClock(h.clock.Now),
		identity.WithActivitySink(h.events),
		identity.WithPasswordHasher(identity.BcryptHasher{Cost: bcrypt.MinCost}),
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) admin() identity.Principal {
	h.t.Helper()
	account, err := h.svc.Registration.BootstrapAdmin(h.ctx, testAdminEmail, testAdminPassword)
	require.NoError(h.t, err)
	return identity.PrincipalFor(account)
}

func userInput(email string) identity.RegistrationInput {
	return identity.RegistrationInput{
		Email:     email,
		Password:  "user-password-1",
		FirstName: "Grace",
		LastName:  "Hopper",
		Role:      identity.RoleUser,
	}
}

func professionalInput(email, license string) identity.RegistrationInput {
	return identity.RegistrationInput{
		Email:         email,
		FirstName:     "Ada",
		LastName:      "Lovelace",
		Phone:         "+1 650 253 0000",
		Role:          identity.RoleProfessional,
		LicenseNumber: license,
		Profile: identity.Profile{
			Specialization:    "cardiology",
			Organization:      "General Hospital",
			YearsOfExperience: 12,
		},
	}
}

func (h *harness) registerUser(email string) *identity.Registration {
	h.t.Helper()
	reg, err := h.svc.Registration.Register(h.ctx, userInput(email))
	require.NoError(h.t, err)
	return reg
}

func (h *harness) registerProfessional(email, license string) *identity.Account {
	h.t.Helper()
	reg, err := h.svc.Registration.Register(h.ctx, professionalInput(email, license))
	require.NoError(h.t, err)
	return reg.Account
}

// approvedProfessional registers, approves and sets the remote password.
func (h *harness) approvedProfessional(email, license, password string) *identity.Account {
	h.t.Helper()
	account := h.registerProfessional(email, license)
	approved, err := h.svc.Activation.Approve(h.ctx, h.admin(), account.ID)
	require.NoError(h.t, err)
	require.NoError(h.t, h.authority.SetPassword(h.ctx, approved.RemoteID, password))
	return approved
}

func (h *harness) reload(account *identity.Account) *identity.Account {
	h.t.Helper()
	fresh, err := h.repo.Accounts().GetByID(h.ctx, account.ID)
	require.NoError(h.t, err)
	return fresh
}

func newUnknownID() uuid.UUID {
	return uuid.New()
}
