// Package projection folds durable task-store mutations and live worker
// signals into one in-memory Snapshot per worktree, and fans out typed
// events to subscribers. Grounded directly on the teacher's
// events.MemoryPublisher: per-subscriber buffered channels, non-blocking
// publish, drop-to-coalesced-snapshot under backpressure.
package projection

import (
	"sync"
	"time"

	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

// EventType is the closed set of projection event variants.
type EventType string

const (
	EventSnapshot             EventType = "snapshot"
	EventRunStatus            EventType = "run-status"
	EventTasksUpdated         EventType = "tasks-updated"
	EventTasksRemoved         EventType = "tasks-removed"
	EventWorkersUpdated       EventType = "workers-updated"
	EventWorkerLog            EventType = "worker-log"
	EventConversationAppended EventType = "conversation-appended"
	EventError                EventType = "error"
)

// Event is one message delivered to a subscriber.
type Event struct {
	Type        EventType
	WorktreeID  string
	Snapshot    *Snapshot
	Run         *orcmodel.Run
	Tasks       []*orcmodel.Task
	TaskIDs     []string
	Workers     []orcmodel.WorkerStatus
	WorkerID    string
	LogChunk    []byte
	Entry       *orcmodel.ConversationEntry
	Err         error
	At          time.Time
}

// Metadata carries derived snapshot-level bookkeeping.
type Metadata struct {
	ImplementerLockHeldBy string
	WorkerCounts          map[orcmodel.TaskRole]int
	ModelPriority         map[orcmodel.TaskRole][]string
	AgentStates           map[orcmodel.TaskRole]string
}

// Snapshot is the full live state of one worktree's run.
type Snapshot struct {
	Run         *orcmodel.Run
	Tasks       []*orcmodel.Task
	Workers     []orcmodel.WorkerStatus
	LastEventAt time.Time
	Metadata    Metadata
}

func (s *Snapshot) clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Tasks = append([]*orcmodel.Task{}, s.Tasks...)
	cp.Workers = append([]orcmodel.WorkerStatus{}, s.Workers...)
	return &cp
}

const subscriberBufferSize = 64

type subscriber struct {
	ch     chan Event
	closed bool
	// needsSnapshot is set when an event was dropped on a full buffer;
	// the next delivery is then a coalesced snapshot.
	needsSnapshot bool
}

// Projection maintains one Snapshot per worktree and fans out events to
// subscribers for that worktree.
type Projection struct {
	mu          sync.Mutex
	snapshots   map[string]*Snapshot
	subscribers map[string]map[int]*subscriber
	nextSubID   int
}

// New creates an empty Projection.
func New() *Projection {
	return &Projection{
		snapshots:   map[string]*Snapshot{},
		subscribers: map[string]map[int]*subscriber{},
	}
}

// Subscribe registers a subscriber for worktreeID and returns a receive
// channel plus an unsubscribe function. Within one projection tick of
// subscribing, an initial snapshot event is delivered.
func (p *Projection) Subscribe(worktreeID string) (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	sub := &subscriber{ch: make(chan Event, subscriberBufferSize)}
	if p.subscribers[worktreeID] == nil {
		p.subscribers[worktreeID] = map[int]*subscriber{}
	}
	p.subscribers[worktreeID][id] = sub

	snap := p.snapshots[worktreeID]
	p.deliverLocked(worktreeID, sub, Event{Type: EventSnapshot, WorktreeID: worktreeID, Snapshot: snap.clone(), At: time.Now().UTC()})

	unsubscribe := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if subs, ok := p.subscribers[worktreeID]; ok {
			if s, ok := subs[id]; ok && !s.closed {
				s.closed = true
				close(s.ch)
			}
			delete(subs, id)
		}
	}
	return sub.ch, unsubscribe
}

// deliverLocked sends event to sub, non-blocking: a full buffer causes
// this event to be dropped and the next delivery to be replaced by a
// coalesced snapshot, so a slow subscriber never blocks the projection
// and never sees a gap without also seeing a fresh full-state event.
func (p *Projection) deliverLocked(worktreeID string, sub *subscriber, event Event) {
	if sub.closed {
		return
	}
	if sub.needsSnapshot {
		event = Event{Type: EventSnapshot, WorktreeID: worktreeID, Snapshot: p.snapshots[worktreeID].clone(), At: time.Now().UTC()}
	}
	select {
	case sub.ch <- event:
		sub.needsSnapshot = false
	default:
		sub.needsSnapshot = true
	}
}

func (p *Projection) publish(worktreeID string, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	event.At = time.Now().UTC()
	if snap, ok := p.snapshots[worktreeID]; ok {
		snap.LastEventAt = event.At
	}
	for _, sub := range p.subscribers[worktreeID] {
		p.deliverLocked(worktreeID, sub, event)
	}
}

func (p *Projection) ensureSnapshot(worktreeID string) *Snapshot {
	snap, ok := p.snapshots[worktreeID]
	if !ok {
		snap = &Snapshot{Metadata: Metadata{WorkerCounts: map[orcmodel.TaskRole]int{}, ModelPriority: map[orcmodel.TaskRole][]string{}, AgentStates: map[orcmodel.TaskRole]string{}}}
		p.snapshots[worktreeID] = snap
	}
	return snap
}

// OnRunUpdated updates the snapshot's run and emits run-status.
func (p *Projection) OnRunUpdated(worktreeID string, run *orcmodel.Run) {
	p.mu.Lock()
	snap := p.ensureSnapshot(worktreeID)
	snap.Run = run
	p.mu.Unlock()
	p.publish(worktreeID, Event{Type: EventRunStatus, WorktreeID: worktreeID, Run: run})
}

// OnTasksUpdated replaces/merges the given tasks into the snapshot (by
// id) and emits tasks-updated.
func (p *Projection) OnTasksUpdated(worktreeID string, tasks []*orcmodel.Task) {
	p.mu.Lock()
	snap := p.ensureSnapshot(worktreeID)
	byID := make(map[string]*orcmodel.Task, len(snap.Tasks))
	for _, t := range snap.Tasks {
		byID[t.ID] = t
	}
	for _, t := range tasks {
		byID[t.ID] = t
	}
	merged := make([]*orcmodel.Task, 0, len(byID))
	for _, t := range byID {
		merged = append(merged, t)
	}
	snap.Tasks = merged
	snap.Metadata.ImplementerLockHeldBy = implementerLockHolder(merged)
	p.mu.Unlock()
	p.publish(worktreeID, Event{Type: EventTasksUpdated, WorktreeID: worktreeID, Tasks: tasks})
}

// OnTasksRemoved removes taskIDs from the snapshot and emits
// tasks-removed (used when a run is discarded).
func (p *Projection) OnTasksRemoved(worktreeID string, taskIDs []string) {
	removed := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		removed[id] = true
	}
	p.mu.Lock()
	snap := p.ensureSnapshot(worktreeID)
	kept := make([]*orcmodel.Task, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if !removed[t.ID] {
			kept = append(kept, t)
		}
	}
	snap.Tasks = kept
	p.mu.Unlock()
	p.publish(worktreeID, Event{Type: EventTasksRemoved, WorktreeID: worktreeID, TaskIDs: taskIDs})
}

// OnWorkersUpdated replaces the snapshot's worker list and emits
// workers-updated.
func (p *Projection) OnWorkersUpdated(worktreeID string, workers []orcmodel.WorkerStatus) {
	p.mu.Lock()
	snap := p.ensureSnapshot(worktreeID)
	snap.Workers = workers
	counts := map[orcmodel.TaskRole]int{}
	for _, w := range workers {
		counts[w.Role]++
	}
	snap.Metadata.WorkerCounts = counts
	p.mu.Unlock()
	p.publish(worktreeID, Event{Type: EventWorkersUpdated, WorktreeID: worktreeID, Workers: workers})
}

// OnWorkerLog emits a worker-log chunk. Log tails are not persisted to
// the snapshot struct itself beyond what the Supervisor already tracks
// per WorkerStatus.LogTail.
func (p *Projection) OnWorkerLog(worktreeID, workerID string, chunk []byte) {
	p.publish(worktreeID, Event{Type: EventWorkerLog, WorktreeID: worktreeID, WorkerID: workerID, LogChunk: chunk})
}

// OnConversationAppended emits conversation-appended.
func (p *Projection) OnConversationAppended(worktreeID string, entry *orcmodel.ConversationEntry) {
	p.publish(worktreeID, Event{Type: EventConversationAppended, WorktreeID: worktreeID, Entry: entry})
}

// OnError emits an error event without mutating the snapshot.
func (p *Projection) OnError(worktreeID string, cause error) {
	p.publish(worktreeID, Event{Type: EventError, WorktreeID: worktreeID, Err: cause})
}

// Snapshot returns a defensive copy of the current snapshot for
// worktreeID (nil if none exists yet) — used by getSnapshot.
func (p *Projection) Snapshot(worktreeID string) *Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshots[worktreeID].clone()
}

func implementerLockHolder(tasks []*orcmodel.Task) string {
	for _, t := range tasks {
		if t.Role == orcmodel.RoleImplementer && t.Status == orcmodel.StatusInProgress {
			return t.ID
		}
	}
	return ""
}
