package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/matchbot/internal/auth"
	"github.com/spec-kit/matchbot/internal/conversation"
	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/events"
	"github.com/spec-kit/matchbot/internal/matching"
	"github.com/spec-kit/matchbot/internal/paynow"
	"github.com/spec-kit/matchbot/internal/repository"
	"github.com/spec-kit/matchbot/internal/rules"
)

// memStore implements every repository over maps, with the same guarded
// transitions the Postgres queries perform.
type memStore struct {
	mu       sync.Mutex
	seq      int
	users    map[string]*domain.User
	byPhone  map[string]string
	profiles map[string]*domain.Profile
	sessions map[string]*domain.PaymentSession
	apps     []domain.LoanApplication

	// conflicts makes the next n ApplyTurn calls report a concurrent change.
	conflicts int
	applyErr  error
	applied   int
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]*domain.User{},
		byPhone:  map[string]string{},
		profiles: map[string]*domain.Profile{},
		sessions: map[string]*domain.PaymentSession{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// addUser seeds a user with a profile and returns its id.
func (m *memStore) addUser(u domain.User, p domain.Profile) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = m.nextID("user")
	}
	p.UserID = u.ID
	m.users[u.ID] = &u
	m.byPhone[u.Phone] = u.ID
	m.profiles[u.ID] = &p
	return u.ID
}

func (m *memStore) user(id string) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

// profile returns a copy of the stored profile.
func (m *memStore) profile(id string) *domain.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.profiles[id]
	return &cp
}

func (m *memStore) session(ref string) domain.PaymentSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sessions[ref]
}

func (m *memStore) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *memStore) GetOrCreateByPhone(ctx context.Context, phone string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byPhone[phone]; ok {
		u := *m.users[id]
		return &u, nil
	}
	u := &domain.User{ID: m.nextID("user"), Phone: phone, State: domain.StateNew, CreatedAt: time.Now()}
	m.users[u.ID] = u
	m.byPhone[phone] = u.ID
	m.profiles[u.ID] = &domain.Profile{UserID: u.ID}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) CountByState(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int64{}
	for _, u := range m.users {
		out[string(u.State)]++
	}
	return out, nil
}

func (m *memStore) Get(ctx context.Context, userID string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return &domain.Profile{UserID: userID}, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) resetLocked(userID string) {
	m.profiles[userID] = &domain.Profile{UserID: userID}
	m.users[userID].Gender = ""
}

func (m *memStore) ListCandidates(ctx context.Context, filter repository.CandidateFilter) ([]domain.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Candidate
	for id, p := range m.profiles {
		if id == filter.ExcludeUserID || !p.Complete() {
			continue
		}
		out = append(out, matching.Project(m.users[id], p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memStore) GetCandidates(ctx context.Context, ids []string) ([]domain.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Candidate
	for _, id := range ids {
		p, ok := m.profiles[id]
		if !ok || !p.Complete() {
			continue
		}
		out = append(out, matching.Project(m.users[id], p))
	}
	return out, nil
}

func (m *memStore) List(ctx context.Context, limit int) ([]domain.LoanApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.LoanApplication, 0, len(m.apps))
	for i := len(m.apps) - 1; i >= 0; i-- {
		out = append(out, m.apps[i])
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) setMatchIDs(id string, ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[id].MatchIDs = ids
}

// removeProfile deletes a user's profile, as account cleanup would.
func (m *memStore) removeProfile(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, id)
}

func (m *memStore) ApplyTurn(ctx context.Context, w repository.TurnWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	if m.conflicts > 0 {
		m.conflicts--
		return domain.ErrStateConflict
	}
	u := m.users[w.UserID]
	if u.State != w.ExpectedState {
		return domain.ErrStateConflict
	}
	p := m.profiles[w.UserID]
	if w.Submit && (p.LoanProduct == "" || p.LoanAmount <= 0) {
		return domain.ErrIncompleteApplication
	}
	u.State = w.Next
	if w.Flow != "" {
		u.Flow = w.Flow
	}
	if w.Submit {
		m.apps = append(m.apps, domain.LoanApplication{
			ID:          m.nextID("app"),
			UserID:      u.ID,
			Phone:       u.Phone,
			Product:     p.LoanProduct,
			FullName:    p.Name,
			Age:         p.Age,
			Address:     p.Address,
			NationalID:  p.NationalID,
			IDPhoto:     p.IDPhoto,
			AmountUnits: p.LoanAmount,
			Status:      domain.ApplicationStatusSubmitted,
			CreatedAt:   time.Now(),
		})
	}
	if w.Reset {
		m.resetLocked(w.UserID)
	}
	for _, up := range w.Updates {
		up.Apply(u, m.profiles[w.UserID])
	}
	if w.Complete {
		now := time.Now()
		m.profiles[w.UserID].CompletedAt = &now
	}
	m.applied++
	return nil
}

func (m *memStore) Create(ctx context.Context, s *domain.PaymentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.UserID == s.UserID && existing.Status == domain.PaymentStatusPending {
			return domain.ErrPendingPaymentExists
		}
	}
	s.ID = m.nextID("pay")
	s.Status = domain.PaymentStatusPending
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	m.sessions[s.Reference] = &cp
	return nil
}

func (m *memStore) GetByReference(ctx context.Context, reference string) (*domain.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[reference]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetPendingByUser(ctx context.Context, userID string) (*domain.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UserID == userID && s.Status == domain.PaymentStatusPending {
			cp := *s
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memStore) ListPending(ctx context.Context, limit int) ([]domain.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PaymentSession
	for _, s := range m.sessions {
		if s.Status == domain.PaymentStatusPending {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Settle(ctx context.Context, reference string) (*domain.PaymentSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[reference]
	if !ok || s.Status != domain.PaymentStatusPending {
		return nil, false, nil
	}
	now := time.Now()
	s.Status = domain.PaymentStatusPaid
	s.PaidAt = &now
	u := m.users[s.UserID]
	u.IsUnlocked = true
	if u.State == domain.StatePaymentPending {
		u.State = domain.StateActive
	}
	cp := *s
	return &cp, true, nil
}

func (m *memStore) Fail(ctx context.Context, reference string) (*domain.PaymentSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[reference]
	if !ok || s.Status != domain.PaymentStatusPending {
		return nil, false, nil
	}
	now := time.Now()
	s.Status = domain.PaymentStatusFailed
	s.FailedAt = &now
	if u := m.users[s.UserID]; u.State == domain.StatePaymentPending {
		u.State = domain.StateNew
		m.resetLocked(s.UserID)
	}
	cp := *s
	return &cp, true, nil
}

func (m *memStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int64{}
	for _, s := range m.sessions {
		out[string(s.Status)]++
	}
	return out, nil
}

// seedPending stores a PENDING session created at the given time.
func (m *memStore) seedPending(userID, reference string, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[reference] = &domain.PaymentSession{
		ID:          m.nextID("pay"),
		UserID:      userID,
		Reference:   reference,
		PollHandle:  "https://paynow.test/poll/" + reference,
		AmountCents: 200,
		Currency:    "USD",
		Method:      domain.PaymentMethodEcoCash,
		Status:      domain.PaymentStatusPending,
		CreatedAt:   createdAt,
	}
}

type fakeProvider struct {
	mu         sync.Mutex
	configured bool
	initErr    error
	init       *paynow.Initiation
	pollResult domain.PollResult
	pollErr    error
	requests   []paynow.Request
	polls      int
}

func (f *fakeProvider) Configured(currency string) bool {
	return f.configured
}

func (f *fakeProvider) Initiate(ctx context.Context, req paynow.Request) (*paynow.Initiation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.initErr != nil {
		return nil, f.initErr
	}
	if f.init != nil {
		return f.init, nil
	}
	return &paynow.Initiation{PollURL: "https://paynow.test/poll/" + req.Reference, Instructions: "Dial *151# to approve"}, nil
}

func (f *fakeProvider) Poll(ctx context.Context, currency, pollURL string) (domain.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return domain.PollPending, f.pollErr
	}
	if f.pollResult == "" {
		return domain.PollPending, nil
	}
	return f.pollResult, nil
}

func (f *fakeProvider) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

type sent struct {
	Phone string
	Text  string
	Media string
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recordingSender) SendText(ctx context.Context, phone, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{Phone: phone, Text: text})
	return nil
}

func (r *recordingSender) SendMedia(ctx context.Context, phone, mediaURL, caption string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{Phone: phone, Text: caption, Media: mediaURL})
	return nil
}

func (r *recordingSender) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.msgs...)
}

func (r *recordingSender) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

// stubArchive records stored pictures.
type stubArchive struct {
	err error
}

func (a stubArchive) Store(ctx context.Context, userID, sourceURL string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "s3://pics/" + userID + ".jpg", nil
}

func (a stubArchive) URL(ctx context.Context, ref string) (string, error) {
	return "https://signed.test/" + ref, nil
}

var errStorage = errors.New("storage unavailable")

// harness wires the real services over memStore.
type harness struct {
	store        *memStore
	provider     *fakeProvider
	sender       *recordingSender
	dispatcher   events.Dispatcher
	rules        *rules.Rules
	tokens       *auth.TokenManager
	payments     *PaymentService
	settlement   *SettlementService
	matches      *MatchService
	conversation *ConversationService
	now          time.Time
}

func newHarness(rulesFor func() (*rules.Rules, error)) (*harness, error) {
	r, err := rulesFor()
	if err != nil {
		return nil, err
	}
	h := &harness{
		store:      newMemStore(),
		provider:   &fakeProvider{configured: true},
		sender:     &recordingSender{},
		dispatcher: events.NewInMemoryDispatcher(),
		rules:      r,
		tokens:     auth.NewTokenManager("test-secret", time.Hour),
		now:        time.Now(),
	}
	logger := zap.NewNop()
	prices := map[string]int64{"USD": 200, "ZWG": 5000}

	h.matches = NewMatchService(MatchDependencies{
		ProfileRepo: h.store,
		Engine:      matching.NewSeededEngine(r, 1),
		Rules:       r,
		Limit:       3,
	})
	h.payments = NewPaymentService(PaymentDependencies{
		PaymentRepo:   h.store,
		Provider:      h.provider,
		Tokens:        h.tokens,
		Dispatcher:    h.dispatcher,
		Logger:        logger,
		Prices:        prices,
		PublicBaseURL: "https://bot.test",
		Timeout:       time.Second,
	})
	h.settlement = NewSettlementService(SettlementDependencies{
		PaymentRepo:    h.store,
		Poller:         h.payments,
		Dispatcher:     h.dispatcher,
		Logger:         logger,
		PaymentTimeout: time.Minute,
	}).WithClock(func() time.Time { return h.now })
	NewNotificationService(NotificationDependencies{
		Dispatcher:  h.dispatcher,
		Logger:      logger,
		UserRepo:    h.store,
		ProfileRepo: h.store,
		Matches:     h.matches,
		Sender:      h.sender,
		Archive:     stubArchive{},
	}).RegisterHandlers()
	h.conversation = NewConversationService(ConversationDependencies{
		Machine:     conversation.New(conversation.Options{Rules: r, Prices: prices, PaymentWindow: time.Minute}),
		UserRepo:    h.store,
		ProfileRepo: h.store,
		TurnRepo:    h.store,
		Matches:     h.matches,
		Payments:    h.payments,
		Settlement:  h.settlement,
		Sender:      h.sender,
		Archive:     stubArchive{},
		Dispatcher:  h.dispatcher,
		Logger:      logger,
	})
	return h, nil
}

// completeProfile seeds a user who passed the pivot with the given intent.
func (h *harness) completeProfile(phone string, gender domain.Gender, intent domain.Intent, age int, state domain.ChatState) string {
	now := time.Now()
	preferred := h.rules.PreferredGender(intent, gender)
	return h.store.addUser(
		domain.User{Phone: phone, State: state, Flow: "general", Gender: gender},
		domain.Profile{
			Name:            "User " + phone[len(phone)-3:],
			Age:             age,
			Location:        "Harare",
			Intent:          intent,
			PreferredGender: preferred,
			AgeMin:          18,
			AgeMax:          35,
			ContactPhone:    phone,
			PayCurrency:     "USD",
			PayMethod:       domain.PaymentMethodEcoCash,
			CompletedAt:     &now,
		},
	)
}
