package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clearhaul/realtime/internal/model"
)

const defaultHistoryLimit = 50

// Router validates inbound events against the connection's state, consults
// the gate and collaborators, mutates room membership, and produces outbound
// broadcasts. Collaborator calls (job lookups, persistence, notifications)
// happen outside the room index lock; only membership reads and writes are
// the critical section.
type Router struct {
	registry *Registry
	rooms    *RoomIndex
	gate     *Gate
	dispatch *Dispatcher
	verifier Verifier
	jobs     JobService
	messages MessageStore
	notifier Notifier
	presence PresenceStore
	stream   StreamPublisher
	log      *zap.Logger

	historyLimit int
}

// PresenceStore mirrors connect/disconnect into the shared presence view.
// Best effort: failures are logged, never surfaced to clients.
type PresenceStore interface {
	Connected(ctx context.Context, userID, connID string) error
	Disconnected(ctx context.Context, userID, connID string) error
}

type RouterDeps struct {
	Registry *Registry
	Rooms    *RoomIndex
	Gate     *Gate
	Dispatch *Dispatcher
	Verifier Verifier
	Jobs     JobService
	Messages MessageStore
	Notifier Notifier
	Presence PresenceStore   // optional
	Stream   StreamPublisher // optional
	Log      *zap.Logger

	HistoryLimit int
}

func NewRouter(deps RouterDeps) *Router {
	limit := deps.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Router{
		registry:     deps.Registry,
		rooms:        deps.Rooms,
		gate:         deps.Gate,
		dispatch:     deps.Dispatch,
		verifier:     deps.Verifier,
		jobs:         deps.Jobs,
		messages:     deps.Messages,
		notifier:     deps.Notifier,
		presence:     deps.Presence,
		stream:       deps.Stream,
		log:          deps.Log,
		historyLimit: limit,
	}
}

// Wire payloads for outbound broadcasts.

type presenceNotice struct {
	JobID       string `json:"job_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type typingNotice struct {
	JobID    string `json:"job_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type locationNotice struct {
	JobID    string    `json:"job_id"`
	DriverID string    `json:"driver_id"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	At       time.Time `json:"at"`
}

type historyPayload struct {
	JobID    string          `json:"job_id"`
	Messages []model.Message `json:"messages"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// HandleFrame decodes and routes one raw inbound frame. Every failure is
// reported to this connection only; shared state is untouched unless the
// event was fully validated and authorized.
func (r *Router) HandleFrame(ctx context.Context, s *Session, raw []byte) {
	if s.limiter != nil && !s.limiter.Allow() {
		r.sendErr(s, ErrValidation, "rate limit exceeded")
		return
	}

	ev, err := Decode(raw)
	if err != nil {
		r.sendErr(s, err, "")
		return
	}

	if _, ok := ev.(Authenticate); !ok && !s.authed {
		// Nothing but the handshake is allowed before authentication;
		// the connection never reaches the access gate.
		r.sendErr(s, ErrAuth, "authenticate first")
		s.sink.Close()
		return
	}

	switch ev := ev.(type) {
	case Authenticate:
		r.handleAuthenticate(ctx, s, ev)
	case JoinChat:
		r.handleJoinChat(ctx, s, ev)
	case LeaveChat:
		r.handleLeaveChat(s, ev)
	case SendMessage:
		r.handleSendMessage(ctx, s, ev)
	case Typing:
		r.handleTyping(s, ev)
	case UpdateLocation:
		r.handleUpdateLocation(ctx, s, ev)
	case JobStatusUpdate:
		r.handleJobStatus(ctx, s, ev)
	case PlaceBid:
		r.handlePlaceBid(ctx, s, ev)
	case SubscribeJobs:
		r.handleSubscribeJobs(s, ev)
	}
}

// Authenticate verifies a credential and promotes the session. Used both for
// the authenticate event and for the token query parameter at upgrade time.
func (r *Router) Authenticate(ctx context.Context, s *Session, credential string) error {
	ev := Authenticate{Credential: credential}
	r.handleAuthenticate(ctx, s, ev)
	if !s.authed {
		return ErrAuth
	}
	return nil
}

func (r *Router) handleAuthenticate(ctx context.Context, s *Session, ev Authenticate) {
	if s.authed {
		r.sendErr(s, ErrValidation, "already authenticated")
		return
	}
	identity, err := r.verifier.Verify(ev.Credential)
	if err != nil {
		r.log.Info("handshake rejected", zap.Error(err))
		r.sendErr(s, ErrAuth, "")
		s.sink.Close()
		return
	}

	s.connID = r.registry.Register(identity, s.sink)
	s.identity = identity
	s.authed = true

	if r.presence != nil {
		if err := r.presence.Connected(ctx, identity.UserID, s.connID); err != nil {
			r.log.Warn("presence update failed", zap.String("user", identity.UserID), zap.Error(err))
		}
	}

	r.dispatch.ToConn(s.connID, EventAuthenticated, identity)
	r.log.Info("connection authenticated",
		zap.String("conn", s.connID),
		zap.String("user", identity.UserID),
		zap.String("role", string(identity.Role)))
}

func (r *Router) handleJoinChat(ctx context.Context, s *Session, ev JoinChat) {
	if ev.JobID == "" {
		r.sendErr(s, ErrValidation, "job_id required")
		return
	}
	room := ChatRoom(ev.JobID)
	if r.rooms.Contains(s.connID, room) {
		return
	}
	ok, err := r.gate.CanJoinChat(ctx, s.identity, ev.JobID)
	if err != nil {
		r.sendErr(s, err, "")
		return
	}
	if !ok {
		r.sendErr(s, ErrForbidden, "not a participant of this job")
		return
	}

	// History is loaded before the membership write so the collaborator
	// round trip never interleaves with room mutation.
	history, err := r.messages.RecentFor(ctx, ev.JobID, r.historyLimit)
	if err != nil {
		r.log.Warn("chat history load failed", zap.String("job", ev.JobID), zap.Error(err))
		history = nil
	}

	r.rooms.Join(s.connID, room)

	r.dispatch.ToConn(s.connID, EventChatHistory, historyPayload{JobID: ev.JobID, Messages: history})
	r.dispatch.ToRoomExcept(room, s.connID, EventUserJoined, presenceNotice{
		JobID:       ev.JobID,
		UserID:      s.identity.UserID,
		DisplayName: s.identity.DisplayName,
	})
}

func (r *Router) handleLeaveChat(s *Session, ev LeaveChat) {
	room := ChatRoom(ev.JobID)
	if !r.rooms.Contains(s.connID, room) {
		return
	}
	r.rooms.Leave(s.connID, room)
	r.dispatch.ToRoom(room, EventUserLeft, presenceNotice{
		JobID:       ev.JobID,
		UserID:      s.identity.UserID,
		DisplayName: s.identity.DisplayName,
	})
}

func (r *Router) handleSendMessage(ctx context.Context, s *Session, ev SendMessage) {
	room := ChatRoom(ev.JobID)
	if !r.rooms.Contains(s.connID, room) {
		r.sendErr(s, ErrForbidden, "join the chat before sending")
		return
	}
	if ev.Message == "" {
		r.sendErr(s, ErrValidation, "empty message")
		return
	}
	msgType := ev.Type
	if msgType == "" {
		msgType = "text"
	}

	msg := &model.Message{
		ID:         uuid.NewString(),
		JobID:      ev.JobID,
		SenderID:   s.identity.UserID,
		SenderName: s.identity.DisplayName,
		Body:       ev.Message,
		Type:       msgType,
		SentAt:     time.Now().UTC(),
	}

	// Not durably recorded means not delivered.
	if err := r.messages.Save(ctx, msg); err != nil {
		r.log.Error("message save failed", zap.String("job", ev.JobID), zap.Error(err))
		r.sendErr(s, err, "message could not be saved")
		return
	}

	r.dispatch.ToRoom(room, EventNewMessage, msg)

	r.notifyRoomMembers(room, s.identity.UserID, s.identity.DisplayName, truncate(msg.Body, 120), map[string]string{
		"job_id":  ev.JobID,
		"kind":    "chat-message",
		"message": msg.ID,
	})
	r.publishStream(ctx, EventNewMessage, msg)
}

func (r *Router) handleTyping(s *Session, ev Typing) {
	room := ChatRoom(ev.JobID)
	if !r.rooms.Contains(s.connID, room) {
		r.sendErr(s, ErrForbidden, "join the chat first")
		return
	}
	r.dispatch.ToRoomExcept(room, s.connID, EventTyping, typingNotice{
		JobID:    ev.JobID,
		UserID:   s.identity.UserID,
		IsTyping: ev.IsTyping,
	})
}

func (r *Router) handleUpdateLocation(ctx context.Context, s *Session, ev UpdateLocation) {
	ok, err := r.gate.CanUpdateJob(ctx, s.identity, ev.JobID)
	if err != nil {
		r.sendErr(s, err, "")
		return
	}
	if !ok {
		r.sendErr(s, ErrForbidden, "only the assigned driver can report location")
		return
	}
	if err := r.jobs.SetDriverLocation(ctx, ev.JobID, s.identity.UserID, ev.Lat, ev.Lng); err != nil {
		r.sendErr(s, err, "location update failed")
		return
	}
	r.dispatch.ToRoom(ChatRoom(ev.JobID), EventDriverLocation, locationNotice{
		JobID:    ev.JobID,
		DriverID: s.identity.UserID,
		Lat:      ev.Lat,
		Lng:      ev.Lng,
		At:       time.Now().UTC(),
	})
}

func (r *Router) handleJobStatus(ctx context.Context, s *Session, ev JobStatusUpdate) {
	if ev.Status == "" {
		r.sendErr(s, ErrValidation, "status required")
		return
	}
	ok, err := r.gate.CanUpdateJob(ctx, s.identity, ev.JobID)
	if err != nil {
		r.sendErr(s, err, "")
		return
	}
	if !ok {
		r.sendErr(s, ErrForbidden, "only the assigned driver can update status")
		return
	}

	meta := map[string]string{}
	if ev.ETA != "" {
		meta["eta"] = ev.ETA
	}
	if ev.Notes != "" {
		meta["notes"] = ev.Notes
	}
	record, err := r.jobs.SetStatus(ctx, ev.JobID, ev.Status, meta)
	if err != nil {
		r.sendErr(s, err, "status update failed")
		return
	}

	r.dispatch.ToRoom(ChatRoom(ev.JobID), EventJobUpdate, record)

	r.notifier.Push(record.CustomerID, "Job update",
		s.identity.DisplayName+" set your job to "+record.Status,
		map[string]string{"job_id": ev.JobID, "status": record.Status})
	r.publishStream(ctx, EventJobUpdate, record)
}

func (r *Router) handlePlaceBid(ctx context.Context, s *Session, ev PlaceBid) {
	if ev.Amount <= 0 {
		r.sendErr(s, ErrValidation, "bid amount must be positive")
		return
	}
	ok, err := r.gate.CanBid(ctx, s.identity, ev.JobID)
	if err != nil {
		r.sendErr(s, err, "")
		return
	}
	if !ok {
		r.sendErr(s, ErrForbidden, "not eligible to bid on this job")
		return
	}
	record, err := r.jobs.PlaceBid(ctx, ev.JobID, s.identity.UserID, ev.Amount, ev.ETA, ev.Notes)
	if err != nil {
		r.sendErr(s, err, "bid failed")
		return
	}

	// Bids stay private between the driver and the customer; other
	// drivers never see them.
	customer, err := r.jobs.CustomerOf(ctx, ev.JobID)
	if err != nil {
		r.log.Warn("customer lookup failed after bid", zap.String("job", ev.JobID), zap.Error(err))
		return
	}
	r.dispatch.ToUser(customer, EventBidPlaced, record)
	r.notifier.Push(customer, "New bid",
		s.identity.DisplayName+" placed a bid on your job",
		map[string]string{"job_id": ev.JobID, "bid_id": record.ID})
}

func (r *Router) handleSubscribeJobs(s *Session, ev SubscribeJobs) {
	if ev.Radius <= 0 || ev.Lat < -90 || ev.Lat > 90 || ev.Lng < -180 || ev.Lng > 180 {
		r.sendErr(s, ErrValidation, "invalid dispatch subscription")
		return
	}
	r.rooms.Join(s.connID, LocationGroup(ev.Lat, ev.Lng, ev.Radius))
	r.registry.SetLocationPreference(s.connID, model.Location{Lat: ev.Lat, Lng: ev.Lng, Radius: ev.Radius})
}

// Disconnect tears the session down: exactly one departure notice per chat
// room the connection was still in, typing indicators cleared, presence
// flipped. Safe under racing close paths; the registry arbitrates who wins.
func (r *Router) Disconnect(ctx context.Context, s *Session) {
	if !s.authed {
		return
	}
	left := r.registry.Unregister(s.connID)
	for _, room := range left {
		if room.Kind != KindChat {
			continue
		}
		notice := presenceNotice{
			JobID:       room.JobID,
			UserID:      s.identity.UserID,
			DisplayName: s.identity.DisplayName,
		}
		r.dispatch.ToRoom(room, EventUserLeft, notice)
		r.dispatch.ToRoom(room, EventTyping, typingNotice{
			JobID:  room.JobID,
			UserID: s.identity.UserID,
		})
	}
	if r.presence != nil {
		if err := r.presence.Disconnected(ctx, s.identity.UserID, s.connID); err != nil {
			r.log.Warn("presence update failed", zap.String("user", s.identity.UserID), zap.Error(err))
		}
	}
	if len(left) > 0 {
		r.log.Info("connection closed",
			zap.String("conn", s.connID),
			zap.String("user", s.identity.UserID),
			zap.Int("rooms", len(left)))
	}
}

// notifyRoomMembers pushes a durable notification to every distinct user in
// the room except the sender. The notifier enqueues; the broadcast is already
// done by the time this runs.
func (r *Router) notifyRoomMembers(room RoomKey, exceptUserID, title, body string, data map[string]string) {
	seen := map[string]struct{}{exceptUserID: {}}
	for _, connID := range r.rooms.MembersOf(room) {
		identity, ok := r.registry.Lookup(connID)
		if !ok {
			continue
		}
		if _, dup := seen[identity.UserID]; dup {
			continue
		}
		seen[identity.UserID] = struct{}{}
		r.notifier.Push(identity.UserID, title, body, data)
	}
}

func (r *Router) publishStream(ctx context.Context, event string, payload any) {
	if r.stream == nil {
		return
	}
	if err := r.stream.Publish(ctx, event, payload); err != nil {
		r.log.Warn("stream publish failed", zap.String("event", event), zap.Error(err))
	}
}

func (r *Router) sendErr(s *Session, err error, detail string) {
	msg := detail
	switch {
	case errors.Is(err, ErrAuth):
		if msg == "" {
			msg = "authentication failed"
		}
	case errors.Is(err, ErrForbidden):
		if msg == "" {
			msg = "forbidden"
		}
	case errors.Is(err, ErrNotFound):
		if msg == "" {
			msg = "not found"
		}
	case errors.Is(err, ErrValidation):
		if msg == "" {
			msg = err.Error()
		}
	default:
		r.log.Error("event handling failed", zap.Error(err))
		if msg == "" {
			msg = "internal error"
		}
	}
	frame, encErr := encode(EventError, errorPayload{Message: msg})
	if encErr != nil {
		return
	}
	s.sink.Send(frame)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
