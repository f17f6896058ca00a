package server

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/metalinked/metalinked/internal/portal"
)

const (
	postTaskStatusRunning   = postTaskStatus("running")
	postTaskStatusConfirmed = postTaskStatus("confirmed")
	postTaskStatusFailed    = postTaskStatus("failed")
	postTaskRetention       = 64
)

// postTaskStatus represents the lifecycle state of a submitted profile write.
type postTaskStatus string

// postTask captures state for one background PostProfile call.
type postTask struct {
	identifier  string
	draft       portal.ProfileDraft
	status      postTaskStatus
	errorKind   portal.ErrorKind
	errorText   string
	transaction string
	startedAt   time.Time
	finishedAt  time.Time
}

// postTaskSnapshot copies the public portions of a task for serialization.
type postTaskSnapshot struct {
	TaskID      string         `json:"taskID"`
	Name        string         `json:"name"`
	URL         string         `json:"url"`
	Status      postTaskStatus `json:"status"`
	ErrorKind   string         `json:"errorKind,omitempty"`
	Error       string         `json:"error,omitempty"`
	Transaction string         `json:"transaction,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	FinishedAt  *time.Time     `json:"finishedAt,omitempty"`
}

// postTracker tracks running and finished profile writes. Only the most recent
// finished tasks are retained.
type postTracker struct {
	mutex    sync.Mutex
	tasks    map[string]*postTask
	finished []string
	clock    func() time.Time
}

func newPostTracker() *postTracker {
	return &postTracker{tasks: make(map[string]*postTask), clock: time.Now}
}

// CreateTask registers a new running task and returns its snapshot.
func (tracker *postTracker) CreateTask(draft portal.ProfileDraft) postTaskSnapshot {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	task := &postTask{
		identifier: uuid.NewString(),
		draft:      draft,
		status:     postTaskStatusRunning,
		startedAt:  tracker.clock().UTC(),
	}
	tracker.tasks[task.identifier] = task
	return tracker.snapshotTask(task)
}

// CompleteTask moves a task to its terminal status.
func (tracker *postTracker) CompleteTask(taskIdentifier string, transaction string, postErr error) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	task, exists := tracker.tasks[taskIdentifier]
	if !exists || task.status != postTaskStatusRunning {
		return
	}
	task.transaction = transaction
	task.finishedAt = tracker.clock().UTC()
	if postErr != nil {
		task.status = postTaskStatusFailed
		task.errorText = postErr.Error()
		var kindErr *portal.Error
		if errors.As(postErr, &kindErr) {
			task.errorKind = kindErr.Kind
		}
	} else {
		task.status = postTaskStatusConfirmed
	}

	tracker.finished = append(tracker.finished, taskIdentifier)
	if len(tracker.finished) > postTaskRetention {
		evicted := tracker.finished[0]
		tracker.finished = tracker.finished[1:]
		delete(tracker.tasks, evicted)
	}
}

// TaskSnapshot returns a copy of the task state for external observers.
func (tracker *postTracker) TaskSnapshot(taskIdentifier string) (postTaskSnapshot, bool) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	task, exists := tracker.tasks[taskIdentifier]
	if !exists {
		return postTaskSnapshot{}, false
	}
	return tracker.snapshotTask(task), true
}

func (tracker *postTracker) snapshotTask(task *postTask) postTaskSnapshot {
	snapshot := postTaskSnapshot{
		TaskID:      task.identifier,
		Name:        task.draft.Name,
		URL:         task.draft.URL,
		Status:      task.status,
		ErrorKind:   string(task.errorKind),
		Error:       task.errorText,
		Transaction: task.transaction,
		StartedAt:   task.startedAt,
	}
	if !task.finishedAt.IsZero() {
		finishedAt := task.finishedAt
		snapshot.FinishedAt = &finishedAt
	}
	return snapshot
}
