package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AfshinJalili/libris/services/auth/internal/security"
	"github.com/AfshinJalili/libris/services/auth/internal/storage"
	"github.com/google/uuid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memStore mirrors the conditional updates of storage.Store under a mutex.
type memStore struct {
	mu          sync.Mutex
	users       map[uuid.UUID]*storage.User
	tokens      map[string]*storage.RefreshToken
	otps        []*storage.OTP
	createCalls int
}

func newMemStore() *memStore {
	return &memStore{
		users:  map[uuid.UUID]*storage.User{},
		tokens: map[string]*storage.RefreshToken{},
	}
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id uuid.UUID) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) CreateUser(_ context.Context, u storage.User) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return nil, storage.ErrConflict
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = &u
	cp := u
	return &cp, nil
}

func (m *memStore) MarkUserVerified(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			u.IsVerified = true
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memStore) UpdatePassword(_ context.Context, userID uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *memStore) UpdateProfile(_ context.Context, userID uuid.UUID, update storage.ProfileUpdate) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if update.Name != nil {
		u.Name = *update.Name
	}
	if update.Bio != nil {
		u.Bio = update.Bio
	}
	if update.ProfilePicture != nil {
		u.ProfilePicture = update.ProfilePicture
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) CreateRefreshToken(_ context.Context, t storage.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[t.TokenHash]; ok {
		return storage.ErrConflict
	}
	m.tokens[t.TokenHash] = &t
	return nil
}

func (m *memStore) GetRefreshTokenByHash(_ context.Context, hash string) (*storage.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) RotateToken(_ context.Context, oldHash string, next storage.RefreshToken, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldHash]
	if !ok || old.UserID != next.UserID || old.IsRevoked || !now.Before(old.ExpiresAt) {
		return storage.ErrNotFound
	}
	old.IsRevoked = true
	old.RevokedAt = &now
	old.LastUsedAt = &now
	old.ReplacedBy = &next.ID
	m.tokens[next.TokenHash] = &next
	return nil
}

func (m *memStore) RevokeTokenByHash(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[hash]; ok {
		t.IsRevoked = true
	}
	return nil
}

func (m *memStore) RevokeAllTokens(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tokens {
		if t.UserID == userID && !t.IsRevoked {
			t.IsRevoked = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, t := range m.tokens {
		if !now.Before(t.ExpiresAt) {
			delete(m.tokens, h)
			n++
		}
	}
	return n, nil
}

func (m *memStore) liveTokens(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.UserID == userID && !t.IsRevoked {
			n++
		}
	}
	return n
}

func (m *memStore) ReplaceOTP(_ context.Context, otp storage.OTP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.otps {
		if o.Email == otp.Email && o.Purpose == otp.Purpose {
			o.IsUsed = true
		}
	}
	m.otps = append(m.otps, &otp)
	return nil
}

func (m *memStore) GetLatestUnusedOTP(_ context.Context, email, purpose string) (*storage.OTP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var live []*storage.OTP
	for _, o := range m.otps {
		if o.Email == email && o.Purpose == purpose && !o.IsUsed {
			live = append(live, o)
		}
	}
	if len(live) == 0 {
		return nil, storage.ErrNotFound
	}
	sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt.After(live[j].CreatedAt) })
	cp := *live[0]
	return &cp, nil
}

func (m *memStore) IncrementOTPAttempts(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.otps {
		if o.ID == id && !o.IsUsed {
			o.Attempts++
			return o.Attempts, nil
		}
	}
	return 0, storage.ErrNotFound
}

func (m *memStore) MarkOTPUsed(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.otps {
		if o.ID == id && !o.IsUsed {
			o.IsUsed = true
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) DeleteExpiredOTPs(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.otps[:0]
	var n int64
	for _, o := range m.otps {
		if !now.Before(o.ExpiresAt) {
			n++
			continue
		}
		kept = append(kept, o)
	}
	m.otps = kept
	return n, nil
}

func (m *memStore) unusedOTPs(email, purpose string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.otps {
		if o.Email == email && o.Purpose == purpose && !o.IsUsed {
			n++
		}
	}
	return n
}

type publishedEvent struct {
	topic string
	key   string
	value any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, 0, p.err
	}
	p.events = append(p.events, publishedEvent{topic: topic, key: key, value: value})
	return 0, int64(len(p.events)), nil
}

func (p *recordingPublisher) Close() error { return nil }

var cheapArgon2 = security.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type fixture struct {
	store        *memStore
	clock        *fakeClock
	publisher    *recordingPublisher
	credentials  *CredentialService
	verification *VerificationService
	accounts     *AccountService
}

func newFixture() *fixture {
	store := newMemStore()
	clock := newFakeClock()
	pub := &recordingPublisher{}
	issuer := security.NewTokenIssuer([]byte("test-secret"), "libris-auth", 15*time.Minute, 7*24*time.Hour)
	hasher, err := security.NewPasswordHasher(cheapArgon2)
	if err != nil {
		panic(err)
	}

	creds := NewCredentialService(store, issuer, clock, nil, nil)
	verify := NewVerificationService(store, security.StaticCodeGenerator{Code: "123456"}, pub,
		VerificationConfig{TTL: 10 * time.Minute, MaxAttempts: 3, Topic: "otp.issued"}, clock, nil, nil)
	accounts := NewAccountService(store, hasher, policyForTests, verify, creds, nil, nil)

	return &fixture{store: store, clock: clock, publisher: pub, credentials: creds, verification: verify, accounts: accounts}
}
