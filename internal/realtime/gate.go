package realtime

import (
	"context"

	"github.com/clearhaul/realtime/internal/model"
)

// Gate decides whether an identity may act on a job. Every check goes back to
// the job service; results are never cached because job assignment can change
// between calls. The gate enforces that a check happened, the job service
// owns the business rule.
type Gate struct {
	jobs JobService
}

func NewGate(jobs JobService) *Gate {
	return &Gate{jobs: jobs}
}

// CanJoinChat allows the job's customer, its currently assigned driver, and
// admins into the job's chat room.
func (g *Gate) CanJoinChat(ctx context.Context, identity model.Identity, jobID string) (bool, error) {
	if identity.Role.Admin() {
		return true, nil
	}
	return g.jobs.IsParticipant(ctx, identity.UserID, jobID)
}

// CanBid allows drivers to bid on jobs that have no assigned driver yet.
func (g *Gate) CanBid(ctx context.Context, identity model.Identity, jobID string) (bool, error) {
	if identity.Role != model.RoleDriver {
		return false, nil
	}
	driver, err := g.jobs.AssignedDriver(ctx, jobID)
	if err != nil {
		return false, err
	}
	return driver == "", nil
}

// CanUpdateJob allows only the job's currently assigned driver to move its
// status or report location.
func (g *Gate) CanUpdateJob(ctx context.Context, identity model.Identity, jobID string) (bool, error) {
	driver, err := g.jobs.AssignedDriver(ctx, jobID)
	if err != nil {
		return false, err
	}
	return driver != "" && driver == identity.UserID, nil
}
