package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"moment-backend/internal/models"
	"moment-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- in-memory fakes ----

type memMomentStore struct {
	mu      sync.Mutex
	moments map[string]*models.Moment
}

func newMemMomentStore() *memMomentStore {
	return &memMomentStore{moments: make(map[string]*models.Moment)}
}

func (s *memMomentStore) Create(_ context.Context, m *models.Moment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.moments {
		if existing.CoupleID == m.CoupleID && existing.Status == models.MomentPendingPartner {
			return repository.ErrDuplicatePendingMoment
		}
	}
	cp := *m
	s.moments[m.ID] = &cp
	return nil
}

func (s *memMomentStore) GetByID(_ context.Context, id string) (*models.Moment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moments[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *memMomentStore) GetActiveByCouple(_ context.Context, coupleID string) (*models.Moment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.moments {
		if m.CoupleID == coupleID && m.Status == models.MomentPendingPartner {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memMomentStore) Complete(_ context.Context, id, participantID, partnerImage, combinedImage string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moments[id]
	if !ok || m.Status != models.MomentPendingPartner {
		return false, nil
	}
	m.Status = models.MomentCompleted
	m.ParticipantID = &participantID
	m.PartnerImage = &partnerImage
	m.CombinedImage = &combinedImage
	m.UpdatedAt = now
	return true, nil
}

func (s *memMomentStore) MarkFailed(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moments[id]
	if !ok || m.Status != models.MomentPendingPartner {
		return false, nil
	}
	m.Status = models.MomentFailed
	m.UpdatedAt = now
	return true, nil
}

func (s *memMomentStore) ExpireDue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.moments {
		if m.Status == models.MomentPendingPartner && now.After(m.ExpiresAt) {
			m.Status = models.MomentExpired
			m.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

type memImageStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
	failGet bool
}

func newMemImageStore() *memImageStore {
	return &memImageStore{objects: make(map[string][]byte)}
}

func (s *memImageStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return errors.New("storage unavailable")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[key] = cp
	return nil
}

func (s *memImageStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, errors.New("storage unavailable")
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such object: %s", key)
	}
	return data, nil
}

func (s *memImageStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memImageStore) URL(key string) string {
	return "mem://" + key
}

func (s *memImageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type memCoupleStore struct {
	byUser map[string]*models.Couple
}

func (s *memCoupleStore) GetByUserID(_ context.Context, userID string) (*models.Couple, error) {
	c, ok := s.byUser[userID]
	if !ok {
		return nil, errors.New("couple not found")
	}
	cp := *c
	return &cp, nil
}

type memUserStore struct {
	users map[string]*models.User
}

func (s *memUserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	cp := *u
	return &cp, nil
}

type memMemoryStore struct {
	memories map[string]*models.Memory
}

func (s *memMemoryStore) GetByID(_ context.Context, id string) (*models.Memory, error) {
	m, ok := s.memories[id]
	if !ok {
		return nil, errors.New("memory not found")
	}
	cp := *m
	return &cp, nil
}

type recordedEvent struct {
	coupleID  string
	eventType string
	data      any
}

type recordPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordPublisher) Publish(coupleID, eventType string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{coupleID, eventType, data})
}

func (p *recordPublisher) ofType(eventType string) []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []recordedEvent
	for _, e := range p.events {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type nobodyOnline struct{}

func (nobodyOnline) IsOnline(string) bool { return false }

// ---- fixture ----

const (
	userAlice = "alice"
	userBob   = "bob"
	coupleID  = "couple-1"
	window    = 5 * time.Minute
)

type fixture struct {
	svc    *MomentService
	store  *memMomentStore
	images *memImageStore
	events *recordPublisher
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	couple := &models.Couple{ID: coupleID, UserAID: userAlice, UserBID: userBob}
	fx := &fixture{
		store:  newMemMomentStore(),
		images: newMemImageStore(),
		events: &recordPublisher{},
		clock:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	svc := NewMomentService(
		fx.store,
		&memCoupleStore{byUser: map[string]*models.Couple{userAlice: couple, userBob: couple}},
		&memUserStore{users: map[string]*models.User{
			userAlice: {ID: userAlice, Name: "Alice"},
			userBob:   {ID: userBob, Name: "Bob"},
		}},
		&memMemoryStore{memories: map[string]*models.Memory{
			"mem-1": {ID: "mem-1", CoupleID: coupleID, Title: "First trip"},
		}},
		fx.images,
		fx.events,
		nobodyOnline{},
		nil,
		window,
	)
	svc.now = func() time.Time { return fx.clock }
	fx.svc = svc
	return fx
}

func (fx *fixture) advance(d time.Duration) {
	fx.clock = fx.clock.Add(d)
}

func testImage(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func redImage(t *testing.T) []byte  { return testImage(t, color.RGBA{R: 200, A: 255}) }
func blueImage(t *testing.T) []byte { return testImage(t, color.RGBA{B: 200, A: 255}) }

// ---- tests ----

func TestInitiateCreatesPendingMoment(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	view, err := fx.svc.Initiate(ctx, userAlice, nil, redImage(t))
	require.NoError(t, err)

	assert.Equal(t, models.MomentPendingPartner, view.Status)
	assert.Equal(t, coupleID, view.CoupleID)
	assert.Equal(t, userAlice, view.InitiatorID)
	assert.Equal(t, fx.clock.Add(window), view.ExpiresAt)
	require.NotNil(t, view.Initiator)
	assert.Equal(t, "Alice", view.Initiator.Name)

	stored, err := fx.images.Get(ctx, view.InitiatorImage)
	require.NoError(t, err)
	assert.Equal(t, redImage(t), stored)

	initiated := fx.events.ofType(EventMomentInitiated)
	require.Len(t, initiated, 1)
	assert.Equal(t, coupleID, initiated[0].coupleID)
	payload, ok := initiated[0].data.(MomentInitiatedEvent)
	require.True(t, ok)
	assert.Equal(t, view.ID, payload.MomentID)
	assert.Equal(t, "Alice", payload.Initiator.Name)
	assert.Equal(t, view.ExpiresAt, payload.ExpiresAt)
}

func TestInitiateRequiresCouple(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.Initiate(context.Background(), "stranger", nil, redImage(t))
	assert.ErrorIs(t, err, ErrNoCouple)
}

func TestInitiateLinksMemory(t *testing.T) {
	fx := newFixture(t)
	memID := "mem-1"

	view, err := fx.svc.Initiate(context.Background(), userAlice, &memID, redImage(t))
	require.NoError(t, err)
	require.NotNil(t, view.MemoryID)
	assert.Equal(t, memID, *view.MemoryID)
}

func TestInitiateUnknownMemory(t *testing.T) {
	fx := newFixture(t)
	memID := "no-such-memory"

	_, err := fx.svc.Initiate(context.Background(), userAlice, &memID, redImage(t))
	assert.ErrorIs(t, err, ErrMemoryNotFound)
}

func TestInitiateRejectsSecondPending(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Initiate(ctx, userAlice, nil, redImage(t))
	require.NoError(t, err)

	before := fx.images.count()
	_, err = fx.svc.Initiate(ctx, userBob, nil, blueImage(t))
	assert.ErrorIs(t, err, ErrPendingMomentExists)

	// The rejected attempt's upload is compensated.
	assert.Equal(t, before, fx.images.count())
	assert.Len(t, fx.events.ofType(EventMomentInitiated), 1)
}

func TestInitiateStorageFailure(t *testing.T) {
	fx := newFixture(t)
	fx.images.failPut = true

	_, err := fx.svc.Initiate(context.Background(), userAlice, nil, redImage(t))
	require.Error(t, err)

	active, err := fx.store.GetActiveByCouple(context.Background(), coupleID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestCompleteHappyPath(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	created, err := fx.svc.Initiate(ctx, userAlice, nil, redImage(t))
	require.NoError(t, err)

	fx.advance(100 * time.Second)

	view, err := fx.svc.Complete(ctx, userBob, created.ID, blueImage(t))
	require.NoError(t, err)

	assert.Equal(t, models.MomentCompleted, view.Status)
	require.NotNil(t, view.ParticipantID)
	assert.Equal(t, userBob, *view.ParticipantID)
	require.NotNil(t, view.PartnerImage)
	require.NotNil(t, view.CombinedImage)
	assert.NotEmpty(t, view.CombinedImageURL)

	stored, err := fx.store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MomentCompleted, stored.Status)

	combined, err := fx.images.Get(ctx, *view.CombinedImage)
	require.NoError(t, err)
	assert.NotEmpty(t, combined)

	completed := fx.events.ofType(EventMomentCompleted)
	require.Len(t, completed, 1)
	payload, ok := completed[0].data.(MomentCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, created.ID, payload.MomentID)
	assert.Equal(t, "mem://"+*view.CombinedImage, payload.CombinedImageURL)
}

func TestCompleteAfterDeadlineFailsMoment(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	created, err := fx.svc.Initiate(ctx, userAlice, nil, redImage(t))
	require.NoError(t, err)

	fx.advance(window + time.Second)

	_, err = fx.svc.Complete(ctx, userBob, created.ID, blueImage(t))
	assert.ErrorIs(t, err, ErrMomentExpired)

	// The rejection is itself a transition: the row is FAILED now.
	stored, err := fx.store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MomentFailed, stored.Status)
	assert.Nil(t, stored.CombinedImage)
	assert.Empty(t, fx.events.ofType(EventMomentCompleted))

	// Deadline monotonicity: no later attempt can ever complete it.
	_, err = fx.svc.Complete(ctx, userBob, created.ID, blueImage(t))
	assert.ErrorIs(t, err, ErrMomentNotPending)
}

func TestCompleteSelfForbidden(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	created, err := fx.svc.Initiate(ctx, userAlice, nil, redImage(t))
	require.NoError(t, err)

	_, err = fx.svc.Complete(ctx, userAlice, created.ID, blueImage(t))
	assert.ErrorIs(t, err, ErrSelfComplete)

	stored, err := fx.store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MomentPendingPartner, stored.Status)
	assert.Nil(t, stored.ParticipantID)
}

func TestCompleteUnknownMoment(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.Complete(context.Background(), userBob, "no-such-moment", blueImage(t))
	assert.ErrorIs(t, err, ErrMomentNotFound)
}

func TestCompleteOtherCouplesMomentNotFound(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	created, err := fx.svc.Initiate(ctx, userAlice, nil, redImage(t))
	require.NoError(t, err)

	// A member of a different couple cannot even see the moment.
	other := &models.Couple{ID: "couple-2", UserAID: "carol", UserBID: "dave"}
	otherSvc := *fx.svc
	otherSvc.couples = &memCoupleStore{byUser: map[string]*models.Couple{"carol": other}}

	_, err = otherSvc.Complete(ctx, "carol", created.ID, blueImage(t))
	assert.ErrorIs(t, err, ErrMomentNotFound)
}

func TestCompleteSingleWinner(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	created, err := fx.svc.Initiate(ctx, userAlice, nil, redImage(t))
	require.NoError(t, err)
	baseline := fx.images.count()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fx.svc.Complete(ctx, userBob, created.ID, blueImage(t))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrMomentNotPending)
		}
	}
	assert.Equal(t, 1, winners, "exactly one completion must win")

	stored, err := fx.store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MomentCompleted, stored.Status)
	require.NotNil(t, stored.PartnerImage)
	require.NotNil(t, stored.CombinedImage)

	// The loser's uploads were compensated: only the winner's partner and
	// combined objects remain beside the initiator's.
	assert.Equal(t, baseline+2, fx.images.count())
	assert.Len(t, fx.events.ofType(EventMomentCompleted), 1)
}

func TestCompleteLosesRaceAgainstSweeper(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	created, err := fx.svc.Initiate(ctx, userAlice, nil, redImage(t))
	require.NoError(t, err)

	fx.advance(window + time.Second)

	processed, err := fx.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	_, err = fx.svc.Complete(ctx, userBob, created.ID, blueImage(t))
	assert.ErrorIs(t, err, ErrMomentNotPending)

	// EXPIRED is terminal; the losing completion must not overwrite it.
	stored, err := fx.store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MomentExpired, stored.Status)
	assert.Empty(t, fx.events.ofType(EventMomentCompleted))
}

func TestCompleteProcessingErrorLeavesPending(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	created, err := fx.svc.Initiate(ctx, userAlice, nil, redImage(t))
	require.NoError(t, err)

	fx.images.failGet = true
	_, err = fx.svc.Complete(ctx, userBob, created.ID, blueImage(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMomentNotPending)

	stored, err := fx.store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MomentPendingPartner, stored.Status, "a processing failure must leave the moment retryable")

	// A retry by the same device succeeds once storage recovers.
	fx.images.failGet = false
	view, err := fx.svc.Complete(ctx, userBob, created.ID, blueImage(t))
	require.NoError(t, err)
	assert.Equal(t, models.MomentCompleted, view.Status)
}

func TestCompleteCombineFailureLeavesPending(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// The initiator somehow stored undecodable bytes; completion must fail
	// loudly, not produce a blank composite.
	created, err := fx.svc.Initiate(ctx, userAlice, nil, []byte("corrupt"))
	require.NoError(t, err)

	_, err = fx.svc.Complete(ctx, userBob, created.ID, blueImage(t))
	require.Error(t, err)

	stored, err := fx.store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MomentPendingPartner, stored.Status)
	assert.Nil(t, stored.CombinedImage)
}

func TestSweeperIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Initiate(ctx, userAlice, nil, redImage(t))
	require.NoError(t, err)

	fx.advance(window + time.Minute)

	first, err := fx.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := fx.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second, "an already-expired moment must not be processed again")
}

func TestSweeperIgnoresFreshMoments(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	created, err := fx.svc.Initiate(ctx, userAlice, nil, redImage(t))
	require.NoError(t, err)

	processed, err := fx.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	stored, err := fx.store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MomentPendingPartner, stored.Status)
}

func TestActiveForCouple(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	view, err := fx.svc.ActiveForCouple(ctx, userBob)
	require.NoError(t, err)
	assert.Nil(t, view)

	created, err := fx.svc.Initiate(ctx, userAlice, nil, redImage(t))
	require.NoError(t, err)

	view, err = fx.svc.ActiveForCouple(ctx, userBob)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, created.ID, view.ID)
	require.NotNil(t, view.Initiator)
	assert.Equal(t, "Alice", view.Initiator.Name)

	_, err = fx.svc.Complete(ctx, userBob, created.ID, blueImage(t))
	require.NoError(t, err)

	view, err = fx.svc.ActiveForCouple(ctx, userBob)
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestNewCycleAfterCompletion(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// First cycle completes; second cycle expires on the late attempt.
	first, err := fx.svc.Initiate(ctx, userAlice, nil, redImage(t))
	require.NoError(t, err)
	fx.advance(100 * time.Second)
	_, err = fx.svc.Complete(ctx, userBob, first.ID, blueImage(t))
	require.NoError(t, err)

	fx.advance(300 * time.Second)
	second, err := fx.svc.Initiate(ctx, userAlice, nil, redImage(t))
	require.NoError(t, err)

	fx.advance(window + 50*time.Second)
	_, err = fx.svc.Complete(ctx, userBob, second.ID, blueImage(t))
	assert.ErrorIs(t, err, ErrMomentExpired)

	stored, err := fx.store.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MomentFailed, stored.Status)
}
