package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clearhaul/realtime/internal/model"
)

func zapNop() *zap.Logger { return zap.NewNop() }

type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeSink) Send(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.frames = append(f.frames, cp)
}

func (f *fakeSink) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type receivedEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (f *fakeSink) received(t *testing.T) []receivedEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]receivedEvent, 0, len(f.frames))
	for _, frame := range f.frames {
		var ev receivedEvent
		require.NoError(t, json.Unmarshal(frame, &ev))
		out = append(out, ev)
	}
	return out
}

func (f *fakeSink) eventNames(t *testing.T) []string {
	t.Helper()
	evs := f.received(t)
	names := make([]string, len(evs))
	for i, ev := range evs {
		names[i] = ev.Event
	}
	return names
}

func (f *fakeSink) countOf(t *testing.T, event string) int {
	t.Helper()
	n := 0
	for _, name := range f.eventNames(t) {
		if name == event {
			n++
		}
	}
	return n
}

type fakeJob struct {
	customer string
	driver   string
	status   string
}

type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[string]*fakeJob
	bids      []model.BidRecord
	locations []model.Location
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]*fakeJob{}}
}

func (j *fakeJobs) add(jobID, customer, driver string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs[jobID] = &fakeJob{customer: customer, driver: driver, status: "open"}
}

func (j *fakeJobs) get(jobID string) (*fakeJob, error) {
	job, ok := j.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return job, nil
}

func (j *fakeJobs) IsParticipant(_ context.Context, userID, jobID string) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, err := j.get(jobID)
	if err != nil {
		return false, err
	}
	return job.customer == userID || (job.driver != "" && job.driver == userID), nil
}

func (j *fakeJobs) AssignedDriver(_ context.Context, jobID string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, err := j.get(jobID)
	if err != nil {
		return "", err
	}
	return job.driver, nil
}

func (j *fakeJobs) CustomerOf(_ context.Context, jobID string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, err := j.get(jobID)
	if err != nil {
		return "", err
	}
	return job.customer, nil
}

func (j *fakeJobs) SetDriverLocation(_ context.Context, jobID, driverID string, lat, lng float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.get(jobID); err != nil {
		return err
	}
	j.locations = append(j.locations, model.Location{Lat: lat, Lng: lng})
	return nil
}

func (j *fakeJobs) SetStatus(_ context.Context, jobID, status string, _ map[string]string) (model.JobRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, err := j.get(jobID)
	if err != nil {
		return model.JobRecord{}, err
	}
	job.status = status
	return model.JobRecord{
		ID:         jobID,
		CustomerID: job.customer,
		DriverID:   job.driver,
		Status:     status,
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

func (j *fakeJobs) PlaceBid(_ context.Context, jobID, driverID string, amount float64, eta, notes string) (model.BidRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, err := j.get(jobID)
	if err != nil {
		return model.BidRecord{}, err
	}
	if job.driver != "" {
		return model.BidRecord{}, fmt.Errorf("%w: job already assigned", ErrForbidden)
	}
	bid := model.BidRecord{
		ID:       fmt.Sprintf("bid-%d", len(j.bids)+1),
		JobID:    jobID,
		DriverID: driverID,
		Amount:   amount,
		ETA:      eta,
		Notes:    notes,
	}
	j.bids = append(j.bids, bid)
	return bid, nil
}

func (j *fakeJobs) bidCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.bids)
}

type fakeMessages struct {
	mu      sync.Mutex
	saved   []model.Message
	history map[string][]model.Message
	saveErr error
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{history: map[string][]model.Message{}}
}

func (m *fakeMessages) Save(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, *msg)
	m.history[msg.JobID] = append(m.history[msg.JobID], *msg)
	return nil
}

func (m *fakeMessages) RecentFor(_ context.Context, jobID string, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.history[jobID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

type pushedNotification struct {
	UserID string
	Title  string
	Body   string
	Data   map[string]string
}

type fakeNotifier struct {
	mu     sync.Mutex
	pushes []pushedNotification
}

func (n *fakeNotifier) Push(userID, title, body string, data map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes = append(n.pushes, pushedNotification{UserID: userID, Title: title, Body: body, Data: data})
}

func (n *fakeNotifier) pushedTo(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, p := range n.pushes {
		if p.UserID == userID {
			count++
		}
	}
	return count
}

type fakeVerifier struct {
	identities map[string]model.Identity
}

func (v *fakeVerifier) Verify(credential string) (model.Identity, error) {
	id, ok := v.identities[credential]
	if !ok {
		return model.Identity{}, fmt.Errorf("%w: bad credential", ErrAuth)
	}
	return id, nil
}

type fixture struct {
	rooms    *RoomIndex
	registry *Registry
	dispatch *Dispatcher
	router   *Router
	jobs     *fakeJobs
	msgs     *fakeMessages
	notes    *fakeNotifier
	verifier *fakeVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rooms := NewRoomIndex()
	registry := NewRegistry(rooms)
	log := zap.NewNop()
	dispatch := NewDispatcher(registry, rooms, log)
	jobs := newFakeJobs()
	msgs := newFakeMessages()
	notes := &fakeNotifier{}
	verifier := &fakeVerifier{identities: map[string]model.Identity{}}

	router := NewRouter(RouterDeps{
		Registry: registry,
		Rooms:    rooms,
		Gate:     NewGate(jobs),
		Dispatch: dispatch,
		Verifier: verifier,
		Jobs:     jobs,
		Messages: msgs,
		Notifier: notes,
		Log:      log,
	})
	return &fixture{
		rooms:    rooms,
		registry: registry,
		dispatch: dispatch,
		router:   router,
		jobs:     jobs,
		msgs:     msgs,
		notes:    notes,
		verifier: verifier,
	}
}

// connect authenticates a fresh session for the given identity.
func (f *fixture) connect(t *testing.T, identity model.Identity) (*Session, *fakeSink) {
	t.Helper()
	cred := "cred-" + identity.UserID
	f.verifier.identities[cred] = identity
	sink := &fakeSink{}
	s := NewSession(sink, nil)
	require.NoError(t, f.router.Authenticate(context.Background(), s, cred))
	return s, sink
}

func (f *fixture) frame(t *testing.T, eventType string, payload any) []byte {
	t.Helper()
	p, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(envelope{Type: eventType, Payload: p})
	require.NoError(t, err)
	return raw
}
