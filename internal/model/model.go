package model

import "time"

// Role is the marketplace role carried inside a verified credential.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
)

// Admin reports whether the role may join the admin broadcast channel.
func (r Role) Admin() bool { return r == RoleAdmin }

// Identity is the verified user context bound to a connection at handshake
// time. It never changes for the lifetime of the connection.
type Identity struct {
	UserID      string `json:"user_id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
}

// Location is a driver's dispatch subscription preference.
type Location struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Radius float64 `json:"radius"` // km
}

// Message is a chat message exchanged inside a job's room.
type Message struct {
	ID         string    `json:"id" bson:"_id,omitempty"`
	JobID      string    `json:"job_id" bson:"job_id"`
	SenderID   string    `json:"sender_id" bson:"sender_id"`
	SenderName string    `json:"sender_name" bson:"sender_name"`
	Body       string    `json:"body" bson:"body"`
	Type       string    `json:"type" bson:"type"` // "text", "image", "system"
	SentAt     time.Time `json:"sent_at" bson:"sent_at"`
}

// JobRecord is the job-service view of a job as returned by status updates.
type JobRecord struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	DriverID   string    `json:"driver_id"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BidRecord is the job-service view of a placed bid.
type BidRecord struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	DriverID  string    `json:"driver_id"`
	Amount    float64   `json:"amount"`
	ETA       string    `json:"eta"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}
