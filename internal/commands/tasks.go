package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/verbalis/verbalis/internal/events"
	"github.com/verbalis/verbalis/internal/store"
)

// Timer status values.
const (
	TimerRunning  = "running"
	TimerFinished = "finished"
	TimerError    = "error"
)

// Timer is an in-memory countdown owned by the processor. Unlike
// reminders, timers are not persisted; they live for the process
// lifetime only.
type Timer struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Duration   int        `json:"duration_seconds"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    time.Time  `json:"end_time"`
	OwnerID    string     `json:"owner_id,omitempty"`
	Status     string     `json:"status"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (p *Processor) setReminder(_ context.Context, ownerID string, params Params) *Result {
	text := params.String("text", "")
	minutes := params.Int("minutes", 15)

	if ownerID == "" {
		return failure(KindValidation, "owner not identified",
			"I need to know who you are to set a reminder.")
	}

	now := time.Now().UTC()
	reminder := &store.Reminder{
		OwnerID:   ownerID,
		Text:      text,
		RemindAt:  now.Add(time.Duration(minutes) * time.Minute),
		ExpiresAt: now.Add(time.Duration(minutes)*time.Minute + 24*time.Hour),
	}
	if err := p.store.CreateReminder(reminder); err != nil {
		p.logger.Error("failed to persist reminder", "owner", ownerID, "error", err)
		return failure(KindProvider, err.Error(),
			"Sorry, I couldn't set that reminder. Please try again.")
	}

	id := reminder.ID
	p.disp.After(time.Duration(minutes)*time.Minute, "reminder:"+id, func(_ context.Context) error {
		return p.fireReminder(id)
	})

	p.logger.Info("reminder set", "id", id, "owner", ownerID, "minutes", minutes)

	return &Result{
		Success: true,
		Data: map[string]any{
			"reminder_id":       id,
			"reminder_text":     text,
			"remind_in_minutes": minutes,
			"remind_at":         reminder.RemindAt.Format(time.RFC3339),
		},
		UserMessage: fmt.Sprintf("I'll remind you to %s in %d minutes.", text, minutes),
	}
}

// fireReminder flips a reminder to triggered. The store guards the
// exactly-once contract; a dismissed or already-triggered reminder is
// left alone.
func (p *Processor) fireReminder(id string) error {
	flipped, err := p.store.MarkReminderTriggered(id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("trigger reminder %s: %w", id, err)
	}
	if !flipped {
		p.logger.Debug("reminder already triggered or dismissed", "id", id)
		return nil
	}

	reminder, err := p.store.GetReminder(id)
	if err != nil || reminder == nil {
		return fmt.Errorf("load triggered reminder %s: %w", id, err)
	}

	p.logger.Info("reminder triggered", "id", id, "owner", reminder.OwnerID)
	p.audit(reminder.OwnerID, "INFO", fmt.Sprintf("Reminder triggered: %s", reminder.Text), nil)
	p.bus.Publish(events.Event{
		Source: events.SourceCommands,
		Kind:   events.KindReminderTriggered,
		Data: map[string]any{
			"reminder_id": id,
			"owner_id":    reminder.OwnerID,
			"text":        reminder.Text,
		},
	})
	return nil
}

func (p *Processor) setTimer(_ context.Context, ownerID string, params Params) *Result {
	seconds := params.Int("seconds", 300)
	name := params.String("name", "Timer")

	if seconds <= 0 {
		return failure(KindValidation, "non-positive timer duration",
			"Sorry, I couldn't set that timer. Please try again.")
	}

	now := time.Now().UTC()
	timer := &Timer{
		ID:        store.NewID(),
		Name:      name,
		Duration:  seconds,
		StartTime: now,
		EndTime:   now.Add(time.Duration(seconds) * time.Second),
		OwnerID:   ownerID,
		Status:    TimerRunning,
	}

	p.mu.Lock()
	p.timers[timer.ID] = timer
	p.mu.Unlock()

	id := timer.ID
	p.disp.After(time.Duration(seconds)*time.Second, "timer:"+id, func(_ context.Context) error {
		return p.finishTimer(id)
	})

	p.logger.Info("timer set", "id", id, "name", name, "seconds", seconds, "owner", ownerID)

	return &Result{
		Success: true,
		Data: map[string]any{
			"timer_id":         id,
			"timer_name":       name,
			"duration_seconds": seconds,
			"status":           "started",
		},
		UserMessage: fmt.Sprintf("Timer '%s' set for %s. I'll let you know when it's done.", name, humanDuration(seconds)),
	}
}

// finishTimer completes a running timer: writes the completion record
// and flips the status to finished, or to error when the record cannot
// be written. Flips at most once. Runs on the dispatcher goroutine.
func (p *Processor) finishTimer(id string) error {
	p.mu.Lock()
	timer, ok := p.timers[id]
	if !ok || timer.Status != TimerRunning {
		p.mu.Unlock()
		return nil
	}
	name, owner := timer.Name, timer.OwnerID
	p.mu.Unlock()

	var completionErr error
	if p.store != nil {
		completionErr = p.store.AppendAudit(&store.AuditEntry{
			OwnerID: owner,
			Level:   "INFO",
			Message: fmt.Sprintf("Timer completed: %s", name),
			Source:  "command_processor",
		})
	}

	now := time.Now().UTC()
	p.mu.Lock()
	if t, ok := p.timers[id]; ok && t.Status == TimerRunning {
		t.FinishedAt = &now
		if completionErr != nil {
			t.Status = TimerError
		} else {
			t.Status = TimerFinished
		}
	}
	p.mu.Unlock()

	if completionErr != nil {
		p.logger.Error("timer completion failed", "id", id, "name", name, "error", completionErr)
		return fmt.Errorf("complete timer %s: %w", id, completionErr)
	}

	p.logger.Info("timer finished", "id", id, "name", name)
	p.bus.Publish(events.Event{
		Source: events.SourceCommands,
		Kind:   events.KindTimerFinished,
		Data: map[string]any{
			"timer_id": id,
			"name":     name,
			"owner_id": owner,
		},
	})
	return nil
}

func (p *Processor) takeNote(_ context.Context, ownerID string, params Params) *Result {
	text := params.String("text", "")

	if ownerID == "" {
		return failure(KindValidation, "owner not identified",
			"I need to know who you are to save a note.")
	}

	note := &store.Note{OwnerID: ownerID, Content: text}
	if err := p.store.CreateNote(note); err != nil {
		p.logger.Error("failed to persist note", "owner", ownerID, "error", err)
		return failure(KindProvider, err.Error(),
			"Sorry, I couldn't save that note. Please try again.")
	}

	preview := text
	if len(preview) > 50 {
		preview = preview[:50] + "..."
	}

	return &Result{
		Success: true,
		Data: map[string]any{
			"note_id":    note.ID,
			"content":    note.Content,
			"created_at": note.CreatedAt.Format(time.RFC3339),
		},
		UserMessage: "Note saved: " + preview,
	}
}

// ActiveTimers returns a point-in-time snapshot of an owner's running
// timers.
func (p *Processor) ActiveTimers(ownerID string) []Timer {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Timer
	for _, t := range p.timers {
		if t.OwnerID == ownerID && t.Status == TimerRunning {
			out = append(out, *t)
		}
	}
	return out
}

// TimerSummary speaks the active-timer count for an owner.
func (p *Processor) TimerSummary(ownerID string) string {
	n := len(p.ActiveTimers(ownerID))
	return fmt.Sprintf("You have %d active timer%s.", n, plural(n))
}
