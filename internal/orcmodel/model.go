// Package orcmodel defines the wire/on-disk shapes shared by every
// orchestrator component: runs, tasks, conversation entries, worker
// outcomes, and worker status records.
package orcmodel

import "time"

// RunStatus is the closed set of lifecycle states for a Run.
type RunStatus string

const (
	RunIdle              RunStatus = "idle"
	RunBootstrapping     RunStatus = "bootstrapping"
	RunRunning           RunStatus = "running"
	RunAwaitingFollowUp  RunStatus = "awaiting_follow_up"
	RunCompleted         RunStatus = "completed"
	RunError             RunStatus = "error"
)

// RunMode selects the workflow the run's tasks follow.
type RunMode string

const (
	ModeImplementFeature RunMode = "implement_feature"
	ModeBugHunt          RunMode = "bug_hunt"
)

// Run is the top-level execution of the pipeline for one briefing within
// one worktree.
type Run struct {
	RunID           string     `json:"runId"`
	WorktreeID      string     `json:"worktreeId"`
	EpicID          string     `json:"epicId,omitempty"`
	Status          RunStatus  `json:"status"`
	Mode            RunMode    `json:"mode"`
	Description     string     `json:"description"`
	Guidance        string     `json:"guidance,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// TaskKind is the closed set of task kinds in the pipeline.
type TaskKind string

const (
	KindAnalysis  TaskKind = "analysis"
	KindConsensus TaskKind = "consensus"
	KindImpl      TaskKind = "impl"
	KindTest      TaskKind = "test"
	KindReview    TaskKind = "review"
)

// TaskRole is the closed set of worker roles. Roles are a tagged union,
// not a class hierarchy: executor behavior dispatches on the tag.
type TaskRole string

const (
	RoleAnalystA         TaskRole = "analyst_a"
	RoleAnalystB         TaskRole = "analyst_b"
	RoleConsensusBuilder TaskRole = "consensus_builder"
	RoleSplitter         TaskRole = "splitter"
	RoleImplementer      TaskRole = "implementer"
	RoleTester           TaskRole = "tester"
	RoleReviewer         TaskRole = "reviewer"
)

// TaskStatus is the closed set of task lifecycle states.
type TaskStatus string

const (
	StatusReady             TaskStatus = "ready"
	StatusInProgress        TaskStatus = "in_progress"
	StatusAwaitingReview    TaskStatus = "awaiting_review"
	StatusChangesRequested  TaskStatus = "changes_requested"
	StatusApproved          TaskStatus = "approved"
	StatusBlocked           TaskStatus = "blocked"
	StatusDone              TaskStatus = "done"
	StatusError             TaskStatus = "error"
)

// OutcomeStatus is the closed set of worker outcome statuses.
type OutcomeStatus string

const (
	OutcomeOK               OutcomeStatus = "ok"
	OutcomeChangesRequested OutcomeStatus = "changes_requested"
	OutcomeBlocked          OutcomeStatus = "blocked"
)

// WorkerOutcome is the structured record a worker writes on completion.
type WorkerOutcome struct {
	Status      OutcomeStatus `json:"status"`
	Summary     string        `json:"summary"`
	Details     string        `json:"details,omitempty"`
	DocumentPath string       `json:"documentPath,omitempty"`
}

// Task is a single unit of work assigned to one role.
type Task struct {
	ID                string         `json:"id"`
	RunID             string         `json:"runId"`
	EpicID            string         `json:"epicId"`
	Kind              TaskKind       `json:"kind"`
	Role              TaskRole       `json:"role"`
	Status            TaskStatus     `json:"status"`
	Title             string         `json:"title"`
	Prompt            string         `json:"prompt"`
	WorkingDir        string         `json:"workingDir"`
	DependsOn         []string       `json:"dependsOn"`
	ApprovalsRequired int            `json:"approvalsRequired"`
	Approvals         []string       `json:"approvals"`
	Artifacts         []string       `json:"artifacts"`
	ConversationPath  string         `json:"conversationPath,omitempty"`
	Summary           string         `json:"summary,omitempty"`
	WorkerOutcome     *WorkerOutcome `json:"workerOutcome,omitempty"`
	Assignee          string         `json:"assignee,omitempty"`
	LastClaimedBy     int            `json:"lastClaimedBy"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// HasApproval reports whether approver already appears in Approvals.
func (t *Task) HasApproval(approver string) bool {
	for _, a := range t.Approvals {
		if a == approver {
			return true
		}
	}
	return false
}

// DependenciesSatisfied reports whether every id in DependsOn is either
// done or approved, given a lookup of task id -> status. An id missing
// from the lookup counts as unsatisfied.
func (t *Task) DependenciesSatisfied(statusOf map[string]TaskStatus) bool {
	for _, dep := range t.DependsOn {
		s, ok := statusOf[dep]
		if !ok {
			return false
		}
		if s != StatusDone && s != StatusApproved {
			return false
		}
	}
	return true
}

// ConversationEntry is one append-only comment or worker-outcome record
// attached to a task.
type ConversationEntry struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// WorkerState is the closed set of worker lifecycle states.
type WorkerState string

const (
	WorkerIdle     WorkerState = "idle"
	WorkerClaiming WorkerState = "claiming"
	WorkerWorking  WorkerState = "working"
	WorkerWaiting  WorkerState = "waiting"
	WorkerStopped  WorkerState = "stopped"
	WorkerError    WorkerState = "error"
)

// WorkerStatus is the live status of one worker slot.
type WorkerStatus struct {
	ID              string      `json:"id"`
	Role            TaskRole    `json:"role"`
	State           WorkerState `json:"state"`
	TaskID          string      `json:"taskId,omitempty"`
	Description     string      `json:"description,omitempty"`
	PID             int         `json:"pid,omitempty"`
	LogTail         string      `json:"logTail,omitempty"`
	Model           string      `json:"model,omitempty"`
	ReasoningDepth  string      `json:"reasoningDepth,omitempty"`
	StartedAt       time.Time   `json:"startedAt,omitempty"`
	LastHeartbeatAt time.Time   `json:"lastHeartbeatAt,omitempty"`
}

// RoleExistsIn reports whether a task of the given kind/role already
// exists for runID within tasks — used by the workflow expander's
// existence-check guards (expansion rule 4).
func RoleExistsIn(tasks []*Task, runID string, kind TaskKind, role TaskRole) bool {
	for _, t := range tasks {
		if t.RunID == runID && t.Kind == kind && t.Role == role {
			return true
		}
	}
	return false
}
