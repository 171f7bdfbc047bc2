// Package queue distributes agent work over Redis Streams.
//
// The Broker enqueues Jobs onto per-type streams, Workers consume them in
// per-agent consumer groups, and the Reconciler re-enqueues work for rounds
// that a crashed worker left unfinished. The store remains the source of
// truth; Redis only carries work and idempotency keys.
package queue

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Iron-Ham/debate/internal/errors"
)

// SchemaVersion is written into every job.
const SchemaVersion = "1.1"

// Streams.
const (
	StreamAnalysis  = "stream:jobs:analysis"
	StreamImplement = "stream:jobs:implement"
	StreamPriority  = "stream:jobs:priority"

	dlqPrefix = "stream:dlq:"
)

// Job types.
const (
	JobAnalysis  = "analysis"
	JobImplement = "implement"
)

// MaxAttempts is how many times a job runs before it is dead-lettered.
const MaxAttempts = 3

// Job is one unit of agent work. On the wire every field is a flat string.
type Job struct {
	SchemaVersion string
	JobType       string
	TaskID        string
	TaskSlug      string
	Round         int
	Agent         string
	Phase         string
	Role          string
	RetryCount    int
}

// Values encodes j as stream entry fields.
func (j Job) Values() map[string]any {
	version := j.SchemaVersion
	if version == "" {
		version = SchemaVersion
	}
	jobType := j.JobType
	if jobType == "" {
		jobType = JobAnalysis
	}
	v := map[string]any{
		"schema_version": version,
		"job_type":       jobType,
		"task_id":        j.TaskID,
		"task_slug":      j.TaskSlug,
		"round":          strconv.Itoa(j.Round),
		"agent":          j.Agent,
		"phase":          j.Phase,
		"retry_count":    strconv.Itoa(j.RetryCount),
	}
	if j.Role != "" {
		v["role"] = j.Role
	}
	return v
}

// ParseJob decodes stream entry fields. Jobs without a task, a positive
// round or an agent are malformed.
func ParseJob(values map[string]any) (Job, error) {
	str := func(k string) string {
		s, _ := values[k].(string)
		return s
	}
	j := Job{
		SchemaVersion: str("schema_version"),
		JobType:       str("job_type"),
		TaskID:        str("task_id"),
		TaskSlug:      str("task_slug"),
		Agent:         str("agent"),
		Phase:         str("phase"),
		Role:          str("role"),
	}
	if j.JobType == "" {
		j.JobType = JobAnalysis
	}
	round, err := strconv.Atoi(str("round"))
	if err != nil || round < 1 || j.TaskID == "" || j.Agent == "" {
		return j, fmt.Errorf("%w: task_id=%q round=%q agent=%q", errors.ErrMalformedJob, j.TaskID, str("round"), j.Agent)
	}
	j.Round = round
	if rc := str("retry_count"); rc != "" {
		if j.RetryCount, err = strconv.Atoi(rc); err != nil {
			return j, fmt.Errorf("%w: retry_count=%q", errors.ErrMalformedJob, rc)
		}
	}
	return j, nil
}

// StreamFor routes a job: an explicit job type wins, then the implementer
// role or the codex agent go to the implement stream, everything else to
// analysis.
func StreamFor(agent, role, jobType string) string {
	switch jobType {
	case JobAnalysis:
		return StreamAnalysis
	case JobImplement:
		return StreamImplement
	case "":
	default:
		return StreamAnalysis
	}
	if role == "implementer" || AgentName(agent) == "codex" {
		return StreamImplement
	}
	return StreamAnalysis
}

// Stream returns the stream j is routed to when not prioritised.
func (j Job) Stream() string {
	return StreamFor(j.Agent, j.Role, j.JobType)
}

// DLQStream returns the dead-letter stream for a job type.
func DLQStream(jobType string) string {
	if jobType == "" {
		jobType = JobAnalysis
	}
	return dlqPrefix + jobType
}

// IdempotencyKey identifies j's work; at most one worker holds it.
func (j Job) IdempotencyKey() string {
	return fmt.Sprintf("idempotency:%s:%d:%s", j.TaskID, j.Round, j.Agent)
}

// AgentName strips the debate_ prefix from an agent config key.
func AgentName(agentKey string) string {
	return strings.TrimPrefix(agentKey, "debate_")
}
