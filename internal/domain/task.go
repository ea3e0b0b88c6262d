// Package domain contains core domain types for the focus tracking engine.
package domain

import (
	"time"
)

// TaskState is the todo lifecycle state of a task.
type TaskState string

const (
	TaskStateTodo  TaskState = "todo"
	TaskStateDoing TaskState = "doing"
	TaskStateDone  TaskState = "done"
)

// Valid reports whether s is a known task state.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStateTodo, TaskStateDoing, TaskStateDone:
		return true
	default:
		return false
	}
}

// Task is a todo item annotated with its attention history.
// The engine only owns AttentionHistory and TotalFocusTime.
type Task struct {
	ID               string    `json:"id"`
	Text             string    `json:"text"`
	State            TaskState `json:"state"`
	CreatedAt        time.Time `json:"createdAt"`
	AttentionHistory []int     `json:"attentionHistory"`
	TotalFocusTime   int       `json:"totalFocusTime"`
}

// AverageAttention returns the mean of the recorded history, or 0 when empty.
func (t *Task) AverageAttention() float64 {
	if len(t.AttentionHistory) == 0 {
		return 0
	}
	sum := 0
	for _, v := range t.AttentionHistory {
		sum += v
	}
	return float64(sum) / float64(len(t.AttentionHistory))
}

// RecordSample appends score to the history, evicting the oldest entries so the
// history never exceeds limit, and counts one more second of focus time.
func (t *Task) RecordSample(score, limit int) {
	t.AttentionHistory = append(t.AttentionHistory, score)
	if limit > 0 && len(t.AttentionHistory) > limit {
		over := len(t.AttentionHistory) - limit
		// Copy so the backing array does not grow without bound.
		trimmed := make([]int, limit)
		copy(trimmed, t.AttentionHistory[over:])
		t.AttentionHistory = trimmed
	}
	t.TotalFocusTime++
}
