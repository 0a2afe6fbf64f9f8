package realtime

import (
	"context"

	"github.com/clearhaul/realtime/internal/model"
)

// JobService is the narrow contract the realtime layer consumes from the job
// backend. Implementations translate transport failures into ErrNotFound /
// ErrForbidden where the backend says so.
type JobService interface {
	IsParticipant(ctx context.Context, userID, jobID string) (bool, error)
	AssignedDriver(ctx context.Context, jobID string) (string, error)
	CustomerOf(ctx context.Context, jobID string) (string, error)
	SetDriverLocation(ctx context.Context, jobID, driverID string, lat, lng float64) error
	SetStatus(ctx context.Context, jobID, status string, meta map[string]string) (model.JobRecord, error)
	PlaceBid(ctx context.Context, jobID, driverID string, amount float64, eta, notes string) (model.BidRecord, error)
}

// MessageStore persists chat messages and serves room history.
type MessageStore interface {
	Save(ctx context.Context, m *model.Message) error
	// RecentFor returns up to limit messages for the job, most recent last.
	RecentFor(ctx context.Context, jobID string, limit int) ([]model.Message, error)
}

// Notifier pushes durable notifications. Fire-and-forget: failures are the
// implementation's problem and never reach the caller.
type Notifier interface {
	Push(userID, title, body string, data map[string]string)
}

// StreamPublisher mirrors realtime events onto the event stream for the
// persistence and analytics pipelines. Best effort.
type StreamPublisher interface {
	Publish(ctx context.Context, event string, payload any) error
}

// Verifier checks an opaque credential and returns the identity it carries.
// The realtime layer knows nothing about the credential's internal format.
type Verifier interface {
	Verify(credential string) (model.Identity, error)
}
