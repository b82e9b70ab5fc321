package ingest

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"crmhub/src/infrastructure/log"
)

// TopicTaskEvents carries task lifecycle events on the in-process bus.
const TopicTaskEvents = "ingest.tasks"

const (
	EventStarted   = "task.started"
	EventProgress  = "task.progress"
	EventCompleted = "task.completed"
	EventFailed    = "task.failed"
)

// TaskEvent is the payload published for every task lifecycle transition.
type TaskEvent struct {
	TaskID       string    `json:"task_id"`
	Event        string    `json:"event"`
	Processed    int       `json:"processed,omitempty"`
	Total        int       `json:"total,omitempty"`
	SuccessCount int       `json:"success_count,omitempty"`
	FailedCount  int       `json:"failed_count,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Events publishes task lifecycle events. A nil *Events is a valid no-op
// publisher, so callers never need to branch on whether a bus is wired.
type Events struct {
	pub message.Publisher
}

func NewEvents(pub message.Publisher) *Events {
	return &Events{pub: pub}
}

func (e *Events) Started(taskID string, total int) {
	e.publish(TaskEvent{TaskID: taskID, Event: EventStarted, Total: total})
}

func (e *Events) Progress(taskID string, processed, total int) {
	e.publish(TaskEvent{TaskID: taskID, Event: EventProgress, Processed: processed, Total: total})
}

func (e *Events) Completed(taskID string, successCount, failedCount int) {
	e.publish(TaskEvent{TaskID: taskID, Event: EventCompleted, SuccessCount: successCount, FailedCount: failedCount})
}

func (e *Events) Failed(taskID, errMsg string) {
	e.publish(TaskEvent{TaskID: taskID, Event: EventFailed, Error: errMsg})
}

func (e *Events) publish(ev TaskEvent) {
	if e == nil || e.pub == nil {
		return
	}
	ev.At = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error(err, "failed to marshal task event", "task_id", ev.TaskID)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := e.pub.Publish(TopicTaskEvents, msg); err != nil {
		log.Error(err, "failed to publish task event", "task_id", ev.TaskID, "event", ev.Event)
	}
}
