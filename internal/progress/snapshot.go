package progress

import (
	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
)

// PlanSnapshot is the state of a plan reconstructed from its event log.
type PlanSnapshot struct {
	PlanID     uuid.UUID
	PlanStatus domain.PlanStatus
	Jobs       map[uuid.UUID]domain.JobStatus
	Tasks      map[uuid.UUID]domain.TaskStatus
	Progress   float64
	LastSeq    int64
}

// Snapshot replays events, in sequence order, into the final plan, job and
// task statuses they describe.
func Snapshot(planID uuid.UUID, events []*domain.ProgressEvent) PlanSnapshot {
	snap := PlanSnapshot{
		PlanID: planID,
		Jobs:   make(map[uuid.UUID]domain.JobStatus),
		Tasks:  make(map[uuid.UUID]domain.TaskStatus),
	}
	for _, e := range events {
		if e.PlanID != planID || e.Type == domain.EventHeartbeat {
			continue
		}
		snap.LastSeq = max(snap.LastSeq, e.Sequence)
		snap.Progress = max(snap.Progress, e.Progress)

		switch {
		case e.TaskID != nil:
			snap.Tasks[*e.TaskID] = domain.TaskStatus(e.Status)
		case e.JobID != nil:
			snap.Jobs[*e.JobID] = domain.JobStatus(e.Status)
		case e.Status != "":
			snap.PlanStatus = domain.PlanStatus(e.Status)
		}
	}
	return snap
}

// Percent returns done/total as a percentage rounded to one decimal.
func Percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(done) * 100 / float64(total)
	return float64(int(pct*10+0.5)) / 10
}
