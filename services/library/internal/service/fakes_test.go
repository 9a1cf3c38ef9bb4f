package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AfshinJalili/libris/services/library/internal/storage"
	"github.com/google/uuid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)}
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
	mu       sync.Mutex
	books    map[uuid.UUID]*storage.Book
	order    []uuid.UUID
	lendings []*storage.Lending

	rankedErr    error
	createErr    error
	rankedCalls  int
	substrCalls  int
	createdCount int
}

func newMemStore() *memStore {
	return &memStore{books: map[uuid.UUID]*storage.Book{}}
}

func (m *memStore) addBook(title, author, genre string, total, available int) *storage.Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &storage.Book{
		ID:              uuid.New(),
		Title:           title,
		Author:          author,
		Genre:           genre,
		TotalCopies:     total,
		AvailableCopies: available,
		CreatedAt:       time.Now().UTC(),
	}
	m.books[b.ID] = b
	m.order = append(m.order, b.ID)
	cp := *b
	return &cp
}

func (m *memStore) available(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.books[id].AvailableCopies
}

func (m *memStore) deleteBook(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
}

func (m *memStore) countStatus(bookID uuid.UUID, status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.lendings {
		if l.BookID == bookID && l.Status == status {
			n++
		}
	}
	return n
}

func (m *memStore) FindBook(_ context.Context, id uuid.UUID) (*storage.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) SearchRanked(_ context.Context, query string, limit int) ([]storage.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rankedCalls++
	if m.rankedErr != nil {
		return nil, m.rankedErr
	}
	// Whole-word matches only, like plainto_tsquery.
	out := []storage.Book{}
	for _, id := range m.order {
		b, ok := m.books[id]
		if !ok {
			continue
		}
		for _, word := range strings.Fields(strings.ToLower(b.Title + " " + b.Author + " " + b.Genre)) {
			if word == strings.ToLower(query) {
				out = append(out, *b)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) SearchSubstring(_ context.Context, query string, limit int) ([]storage.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.substrCalls++
	q := strings.ToLower(query)
	out := []storage.Book{}
	for _, id := range m.order {
		b, ok := m.books[id]
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(b.Title), q) || strings.Contains(strings.ToLower(b.Author), q) || strings.Contains(strings.ToLower(b.Genre), q) {
			out = append(out, *b)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) ListBooks(_ context.Context, limit int) ([]storage.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []storage.Book{}
	for _, b := range m.books {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) TakeCopy(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok || b.AvailableCopies <= 0 {
		return false, nil
	}
	b.AvailableCopies--
	return true, nil
}

func (m *memStore) AddAvailableCopies(_ context.Context, id uuid.UUID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return storage.ErrNotFound
	}
	next := b.AvailableCopies + delta
	if next < 0 || next > b.TotalCopies {
		return storage.ErrConstraint
	}
	b.AvailableCopies = next
	return nil
}

func (m *memStore) earliest(bookID uuid.UUID, statuses ...string) (*storage.Lending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *storage.Lending
	for _, l := range m.lendings {
		if l.BookID != bookID {
			continue
		}
		match := false
		for _, s := range statuses {
			if l.Status == s {
				match = true
			}
		}
		if match && (best == nil || l.LendEndDate.Before(best.LendEndDate)) {
			best = l
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memStore) EarliestOpenLending(_ context.Context, bookID uuid.UUID) (*storage.Lending, error) {
	return m.earliest(bookID, storage.StatusActive, storage.StatusReserved)
}

func (m *memStore) EarliestActiveLending(_ context.Context, bookID uuid.UUID) (*storage.Lending, error) {
	return m.earliest(bookID, storage.StatusActive)
}

func (m *memStore) ReservationForBook(_ context.Context, bookID uuid.UUID) (*storage.Lending, error) {
	return m.earliest(bookID, storage.StatusReserved)
}

func (m *memStore) CreateLending(_ context.Context, l storage.Lending) (*storage.Lending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	if l.Status == storage.StatusReserved {
		for _, existing := range m.lendings {
			if existing.BookID == l.BookID && existing.Status == storage.StatusReserved {
				return nil, storage.ErrConflict
			}
		}
	}
	now := time.Now().UTC()
	l.CreatedAt = now.Add(time.Duration(m.createdCount) * time.Millisecond)
	l.UpdatedAt = l.CreatedAt
	m.createdCount++
	m.lendings = append(m.lendings, &l)
	cp := l
	return &cp, nil
}

func (m *memStore) GetLending(_ context.Context, id uuid.UUID) (*storage.Lending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lendings {
		if l.ID == id {
			cp := *l
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) ListUserLendings(_ context.Context, userID uuid.UUID) ([]storage.LendingWithBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []storage.LendingWithBook{}
	for i := len(m.lendings) - 1; i >= 0; i-- {
		l := m.lendings[i]
		if l.UserID != userID {
			continue
		}
		item := storage.LendingWithBook{Lending: *l}
		if b, ok := m.books[l.BookID]; ok {
			cp := *b
			item.Book = &cp
		}
		out = append(out, item)
	}
	return out, nil
}

func (m *memStore) TransitionLending(_ context.Context, id uuid.UUID, from, to string, returnDate *time.Time) (*storage.Lending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lendings {
		if l.ID != id {
			continue
		}
		if l.Status != from {
			return nil, storage.ErrNotFound
		}
		if to == storage.StatusReserved {
			return nil, errors.New("unexpected transition")
		}
		l.Status = to
		if returnDate != nil {
			d := *returnDate
			l.ActualReturnDate = &d
		}
		cp := *l
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) ListDueReservations(_ context.Context, today time.Time, limit int) ([]storage.Lending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []storage.Lending{}
	for _, l := range m.lendings {
		if l.Status == storage.StatusReserved && !l.LendStartDate.After(today) {
			out = append(out, *l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LendStartDate.Before(out[j].LendStartDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type published struct {
	topic string
	key   string
	value []byte
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, 0, p.err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return 0, 0, err
	}
	p.events = append(p.events, published{topic: topic, key: key, value: raw})
	return 0, int64(len(p.events) - 1), nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		var ev LendingEvent
		_ = json.Unmarshal(e.value, &ev)
		out = append(out, ev.EventType)
	}
	return out
}

type fixture struct {
	store     *memStore
	clock     *fakeClock
	publisher *recordingPublisher
	catalog   *CatalogService
	lending   *LendingService
}

func newFixture() *fixture {
	store := newMemStore()
	clock := newFakeClock()
	pub := &recordingPublisher{}
	catalog := NewCatalogService(store, nil, nil)
	lending := NewLendingService(catalog, store, pub, LendingConfig{
		Durations:      []int{5, 8},
		MaxAdvanceDays: 90,
		Location:       time.UTC,
		Topic:          "lending.events",
	}, clock, nil, nil)
	return &fixture{store: store, clock: clock, publisher: pub, catalog: catalog, lending: lending}
}

func (f *fixture) today() time.Time {
	return civilDay(f.clock.Now(), time.UTC)
}
