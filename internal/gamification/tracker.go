// Package gamification tracks completion of a company's social-media tasks for one review.
package gamification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/model"
)

var (
	ErrUnknownTask      = errors.New("unknown_task")
	ErrInvalidPolicy    = errors.New("invalid_sync_policy")
	ErrPersistFailed    = errors.New("persist_task_completion_failed")
	errMissingPersister = errors.New("missing_task_persister")
)

// SyncPolicy names how local task state relates to its persisted copy.
type SyncPolicy string

const (
	// SyncPolicyOptimisticWithBestEffortSync applies completions locally before persisting and
	// keeps them when persistence fails.
	SyncPolicyOptimisticWithBestEffortSync SyncPolicy = "optimistic"
	// SyncPolicyStrict rolls a completion back when persistence fails.
	SyncPolicyStrict SyncPolicy = "strict"
)

// ParseSyncPolicy maps configuration input to a policy; empty input selects the optimistic policy.
func ParseSyncPolicy(raw string) (SyncPolicy, error) {
	normalized := SyncPolicy(strings.ToLower(strings.TrimSpace(raw)))
	switch normalized {
	case "":
		return SyncPolicyOptimisticWithBestEffortSync, nil
	case SyncPolicyOptimisticWithBestEffortSync, SyncPolicyStrict:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, raw)
	}
}

// Persister stores the full completed set for a review.
type Persister func(ctx context.Context, completed model.StringSet) error

// TaskStatus is a social task with its derived completion flag.
type TaskStatus struct {
	ID        string `json:"id"`
	Platform  string `json:"platform"`
	URL       string `json:"url"`
	Completed bool   `json:"completed"`
}

// Snapshot is the tracker state after an operation.
type Snapshot struct {
	Tasks            []TaskStatus    `json:"tasks"`
	CompletedTaskIDs model.StringSet `json:"completed_task_ids"`
	Progress         int             `json:"progress"`
	AllCompleted     bool            `json:"all_completed"`
}

// Tracker holds the completed task ids for one review.
type Tracker struct {
	mutex     sync.Mutex
	tasks     []model.SocialTask
	completed model.StringSet
	persist   Persister
	policy    SyncPolicy
}

// NewTracker seeds a tracker from the company's tasks and the review's completed steps.
func NewTracker(tasks []model.SocialTask, completed model.StringSet, persist Persister, policy SyncPolicy) *Tracker {
	if policy == "" {
		policy = SyncPolicyOptimisticWithBestEffortSync
	}
	return &Tracker{
		tasks:     append([]model.SocialTask(nil), tasks...),
		completed: model.NewStringSet(completed...),
		persist:   persist,
		policy:    policy,
	}
}

// CompleteTask marks a task done and persists the set. Completing a task twice is a no-op.
// When persistence fails the returned error wraps ErrPersistFailed and the snapshot reflects the
// state kept under the tracker's policy.
func (tracker *Tracker) CompleteTask(ctx context.Context, taskID string) (Snapshot, error) {
	normalizedID := strings.ToLower(strings.TrimSpace(taskID))

	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	if !tracker.hasTask(normalizedID) {
		return tracker.snapshotLocked(), fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if tracker.completed.Contains(normalizedID) {
		return tracker.snapshotLocked(), nil
	}

	previous := tracker.completed
	tracker.completed = previous.With(normalizedID)

	if tracker.persist == nil {
		return tracker.rollbackOrKeep(previous, errMissingPersister)
	}
	if persistErr := tracker.persist(ctx, tracker.completed); persistErr != nil {
		return tracker.rollbackOrKeep(previous, persistErr)
	}
	return tracker.snapshotLocked(), nil
}

// Snapshot returns the current state.
func (tracker *Tracker) Snapshot() Snapshot {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()
	return tracker.snapshotLocked()
}

func (tracker *Tracker) rollbackOrKeep(previous model.StringSet, cause error) (Snapshot, error) {
	if tracker.policy == SyncPolicyStrict {
		tracker.completed = previous
	}
	return tracker.snapshotLocked(), fmt.Errorf("%w: %v", ErrPersistFailed, cause)
}

func (tracker *Tracker) hasTask(taskID string) bool {
	if taskID == "" {
		return false
	}
	for _, task := range tracker.tasks {
		if task.ID() == taskID {
			return true
		}
	}
	return false
}

func (tracker *Tracker) snapshotLocked() Snapshot {
	statuses := make([]TaskStatus, 0, len(tracker.tasks))
	completedCount := 0
	for _, task := range tracker.tasks {
		done := tracker.completed.Contains(task.ID())
		if done {
			completedCount++
		}
		statuses = append(statuses, TaskStatus{
			ID:        task.ID(),
			Platform:  task.Platform,
			URL:       task.URL,
			Completed: done,
		})
	}
	return Snapshot{
		Tasks:            statuses,
		CompletedTaskIDs: append(model.StringSet{}, tracker.completed...),
		Progress:         Progress(completedCount, len(tracker.tasks)),
		AllCompleted:     completedCount == len(tracker.tasks),
	}
}

// Progress returns round(100 * completed / total), or 0 when there are no tasks.
func Progress(completed int, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}
