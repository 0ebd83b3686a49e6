// Package quest implements the hierarchical, cancellable async task tree
// used by every long-running operation in the core (spec §4.1).
package quest

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is one of a Quest's lifecycle states.
type State string

const (
	Scheduled State = "scheduled"
	Ongoing   State = "ongoing"
	Success   State = "success"
	Skipped   State = "skipped"
	Failed    State = "failed"
)

// IsFinished reports whether the state is terminal.
func (s State) IsFinished() bool {
	switch s {
	case Success, Skipped, Failed:
		return true
	default:
		return false
	}
}

// ResultKind tags the variant of Result.
type ResultKind string

const (
	ResultNone     ResultKind = "none"
	ResultExportID ResultKind = "export_id"
	ResultInstance ResultKind = "instance_id"
)

// Result is the tagged result payload a quest may finish with.
type Result struct {
	Kind       ResultKind
	ExportID   string
	InstanceID string
}

// Progress reports how far along a quest is.
type Progress struct {
	Current int
	Total   *int
}

// ID uniquely identifies a quest within one process's registry.
type ID string

func newID() ID { return ID(uuid.NewString()) }

// Quest is one node in the tree. All mutable fields are guarded by mu so a
// parent's progress aggregation can safely read children concurrently with
// the children finishing.
type Quest struct {
	mu sync.Mutex

	ID          ID
	Description string
	state       State
	detail      string
	progress    *Progress
	result      Result
	scheduledAt time.Time
	startedAt   time.Time
	subQuests   []*Quest

	err error
}

func newQuest(desc string) *Quest {
	return &Quest{
		ID:          newID(),
		Description: desc,
		state:       Scheduled,
		scheduledAt: time.Now(),
	}
}

// State returns the quest's current lifecycle state.
func (q *Quest) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Err returns the error that made the quest Failed, if any.
func (q *Quest) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// SetDetail attaches free-form progress detail text, visible to pollers.
func (q *Quest) SetDetail(detail string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.detail = detail
}

// SetProgress sets an explicit progress value, overriding sub-quest
// aggregation.
func (q *Quest) SetProgress(current int, total *int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.progress = &Progress{Current: current, Total: total}
}

// SetResult attaches the quest's terminal result payload.
func (q *Quest) SetResult(r Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.result = r
}

func (q *Quest) begin() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state = Ongoing
	q.startedAt = time.Now()
}

func (q *Quest) finish(state State, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state = state
	q.err = err
}

func (q *Quest) addSubQuest(sub *Quest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subQuests = append(q.subQuests, sub)
}

// Progress returns the quest's current progress: an explicit value if one
// was set, otherwise the count of finished/total sub-quests.
func (q *Quest) Progress() Progress {
	q.mu.Lock()
	explicit := q.progress
	subs := append([]*Quest(nil), q.subQuests...)
	q.mu.Unlock()

	if explicit != nil {
		return *explicit
	}
	total := len(subs)
	current := 0
	for _, s := range subs {
		if s.State().IsFinished() {
			current++
		}
	}
	return Progress{Current: current, Total: &total}
}

// Snapshot is the read-only tree view returned to HTTP pollers.
type Snapshot struct {
	ID          ID
	Description string
	State       State
	Detail      string
	Progress    Progress
	Result      Result
	SubQuests   []Snapshot
}

// Snapshot renders the quest tree for polling/serialization.
func (q *Quest) Snapshot() Snapshot {
	q.mu.Lock()
	detail := q.detail
	result := q.result
	state := q.state
	subs := append([]*Quest(nil), q.subQuests...)
	q.mu.Unlock()

	children := make([]Snapshot, 0, len(subs))
	for _, s := range subs {
		children = append(children, s.Snapshot())
	}
	return Snapshot{
		ID:          q.ID,
		Description: q.Description,
		State:       state,
		Detail:      detail,
		Progress:    q.Progress(),
		Result:      result,
		SubQuests:   children,
	}
}
