package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/kcjob/internal/domain"
)

// Event types published for finished tasks.
const (
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
)

// Notifier sends notifications about finished tasks to the task owner.
type Notifier interface {
	NotifyCompleted(ctx context.Context, recipient string, summary Summary) error
	NotifyFailed(ctx context.Context, recipient string, summary Summary) error
}

// Summary describes a finished task.
type Summary struct {
	TaskID      string            `json:"task_id"`
	Filename    string            `json:"filename"`
	Status      domain.TaskStatus `json:"status"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Error       string            `json:"error,omitempty"`
	ResultsURL  string            `json:"results_url,omitempty"`
}

// NewSummary builds a Summary for task. siteURL may be empty, in which case
// ResultsURL is left unset.
func NewSummary(task *domain.Task, siteURL string) Summary {
	s := Summary{
		TaskID:   task.ID,
		Filename: task.Filename,
		Status:   task.Status,
		Error:    task.ErrorMessage,
	}
	if task.CompletedAt != nil {
		at := *task.CompletedAt
		s.CompletedAt = &at
	}
	if siteURL != "" {
		s.ResultsURL = ResultsURL(siteURL, task.ID)
	}
	return s
}

// ResultsURL is the page where the owner downloads results for a task.
func ResultsURL(siteURL, taskID string) string {
	return fmt.Sprintf("%s/task/%s/", strings.TrimRight(siteURL, "/"), taskID)
}

// Event wraps a Summary for publication on a message bus.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is EventTaskCompleted or EventTaskFailed
	Type string `json:"type"`

	// Recipient is the task owner's address
	Recipient string `json:"recipient"`

	Summary Summary `json:"summary"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewEvent creates an Event with a fresh id.
func NewEvent(eventType, recipient string, summary Summary) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Recipient: recipient,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}
}

// Message renders the human-readable subject and body for a summary.
func Message(recipient string, s Summary) (subject, body string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", greetingName(recipient))

	if s.Status == domain.TaskStatusCompleted {
		subject = "KC Analysis Complete - Results Ready"
		b.WriteString("Your Knowledge Component analysis is complete!\n\n")
		fmt.Fprintf(&b, "File: %s\n", s.Filename)
		if s.CompletedAt != nil {
			fmt.Fprintf(&b, "Completed: %s\n", s.CompletedAt.UTC().Format("2006-01-02 15:04:05"))
		}
		if s.ResultsURL != "" {
			fmt.Fprintf(&b, "\nYou can download your results at: %s\n", s.ResultsURL)
		}
	} else {
		subject = "KC Analysis Failed"
		b.WriteString("Unfortunately, your Knowledge Component analysis failed to complete.\n\n")
		fmt.Fprintf(&b, "File: %s\n", s.Filename)
		fmt.Fprintf(&b, "Error: %s\n", s.Error)
		b.WriteString("\nPlease try uploading your file again or contact support if the issue persists.\n")
	}
	return subject, b.String()
}

func greetingName(recipient string) string {
	name, _, _ := strings.Cut(recipient, "@")
	if name == "" {
		return "there"
	}
	return name
}
