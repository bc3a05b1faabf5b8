package domain

import "time"

// DefaultMinSuccessRatio is the fraction of counted tasks that must succeed
// for a job to complete.
const DefaultMinSuccessRatio = 0.5

// TaskTally counts the terminal outcomes of a job's tasks.
type TaskTally struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// TallyTasks counts stored, failed and cancelled tasks. Non-terminal tasks
// are not counted.
func TallyTasks(tasks []*Task) TaskTally {
	var t TaskTally
	for _, task := range tasks {
		switch task.Status {
		case TaskStatusStored:
			t.Successful++
		case TaskStatusFailed:
			t.Failed++
		case TaskStatusCancelled:
			t.Cancelled++
		}
	}
	return t
}

// Counted is the denominator of the success ratio. Cancelled tasks are
// excluded.
func (t TaskTally) Counted() int {
	return t.Successful + t.Failed
}

// SuccessRatio returns successful/(successful+failed), or 0 when nothing
// was counted.
func (t TaskTally) SuccessRatio() float64 {
	if t.Counted() == 0 {
		return 0
	}
	return float64(t.Successful) / float64(t.Counted())
}

// EvaluateJob is the success ratio gate. It returns completed only when at
// least one task succeeded and the ratio reaches minRatio; cancelled when
// every task was cancelled; failed otherwise.
func EvaluateJob(t TaskTally, minRatio float64) JobStatus {
	if t.Counted() == 0 && t.Cancelled > 0 {
		return JobStatusCancelled
	}
	if t.Successful >= 1 && t.SuccessRatio() >= minRatio {
		return JobStatusCompleted
	}
	return JobStatusFailed
}

// ResolvePlanStatus computes a plan's aggregate status from its jobs.
// Until every job is terminal the plan stays executing. Afterwards it is
// completed when at least one question was stored, failed otherwise.
func ResolvePlanStatus(jobs []JobStatus, questionCount int) PlanStatus {
	for _, s := range jobs {
		if !s.IsTerminal() {
			return PlanStatusExecuting
		}
	}
	if questionCount > 0 {
		return PlanStatusCompleted
	}
	return PlanStatusFailed
}

// RetryBackoff returns the delay before whole-job retry number attempt
// (1-based): base * 2^(attempt-1), capped at max.
func RetryBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
