package realtime

import (
	"encoding/json"
	"fmt"
)

// Inbound event names accepted over the wire.
const (
	EventAuthenticate    = "authenticate"
	EventJoinChat        = "join-chat"
	EventLeaveChat       = "leave-chat"
	EventSendMessage     = "send-message"
	EventTyping          = "typing"
	EventUpdateLocation  = "update-location"
	EventJobStatusUpdate = "job-status-update"
	EventPlaceBid        = "place-bid"
	EventSubscribeJobs   = "subscribe-new-jobs"
)

// Outbound event names pushed to clients.
const (
	EventChatHistory    = "chat-history"
	EventNewMessage     = "new-message"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventDriverLocation = "driver-location"
	EventJobUpdate      = "job-update"
	EventNewJob         = "new-job"
	EventAuthenticated  = "authenticated"
	EventBidPlaced      = "bid-placed"
	EventError          = "error"
)

// envelope is the raw wire shape of every inbound frame.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound is the closed set of client events. The router switches over the
// concrete types exhaustively; there is no string-keyed handler table.
type Inbound interface{ inbound() }

type Authenticate struct {
	Credential string `json:"credential"`
}

type JoinChat struct {
	JobID string `json:"job_id"`
}

type LeaveChat struct {
	JobID string `json:"job_id"`
}

type SendMessage struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type Typing struct {
	JobID    string `json:"job_id"`
	IsTyping bool   `json:"is_typing"`
}

type UpdateLocation struct {
	JobID string  `json:"job_id"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

type JobStatusUpdate struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	ETA    string `json:"eta"`
	Notes  string `json:"notes"`
}

type PlaceBid struct {
	JobID  string  `json:"job_id"`
	Amount float64 `json:"amount"`
	ETA    string  `json:"eta"`
	Notes  string  `json:"notes"`
}

type SubscribeJobs struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Radius float64 `json:"radius"`
}

func (Authenticate) inbound()    {}
func (JoinChat) inbound()        {}
func (LeaveChat) inbound()       {}
func (SendMessage) inbound()     {}
func (Typing) inbound()          {}
func (UpdateLocation) inbound()  {}
func (JobStatusUpdate) inbound() {}
func (PlaceBid) inbound()        {}
func (SubscribeJobs) inbound()   {}

// Decode parses a raw frame into its typed event. Unknown event names and
// malformed payloads are validation errors; nothing downstream sees them.
func Decode(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var (
		ev  Inbound
		err error
	)
	switch env.Type {
	case EventAuthenticate:
		ev, err = decodeAs[Authenticate](env.Payload)
	case EventJoinChat:
		ev, err = decodeAs[JoinChat](env.Payload)
	case EventLeaveChat:
		ev, err = decodeAs[LeaveChat](env.Payload)
	case EventSendMessage:
		ev, err = decodeAs[SendMessage](env.Payload)
	case EventTyping:
		ev, err = decodeAs[Typing](env.Payload)
	case EventUpdateLocation:
		ev, err = decodeAs[UpdateLocation](env.Payload)
	case EventJobStatusUpdate:
		ev, err = decodeAs[JobStatusUpdate](env.Payload)
	case EventPlaceBid:
		ev, err = decodeAs[PlaceBid](env.Payload)
	case EventSubscribeJobs:
		ev, err = decodeAs[SubscribeJobs](env.Payload)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrValidation, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeAs[T Inbound](payload json.RawMessage) (Inbound, error) {
	var v T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return v, nil
}

// Outbound is the wire shape of every frame pushed to a client.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(Outbound{Event: event, Data: data})
}
