// Package reminder runs the interval scheduler that delivers medication
// and bill reminders. Tasks publish their message onto the bus, so a
// reminder is just an agent turn whose reply lands on the caregiver's
// channel.
package reminder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"carebot/internal/config"
	"carebot/internal/domain"
)

// Task is one recurring reminder.
type Task struct {
	ID        string
	Name      string
	Message   string
	IntervalS int
	Channel   string // delivery channel, default telegram
	ChatID    string
	Enabled   bool
	LastRun   time.Time
	NextRun   time.Time
}

// Scheduler fires tasks on their interval. The tick granularity is one
// second; reminders are minutes or hours apart.
type Scheduler struct {
	tasks    map[string]*Task
	bus      domain.MessageBus
	logger   *slog.Logger
	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewScheduler(bus domain.MessageBus, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]*Task),
		bus:    bus,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// FromConfig loads the configured reminder tasks into the scheduler.
func (s *Scheduler) FromConfig(tasks []config.ReminderTask) {
	for _, t := range tasks {
		channel := t.Channel
		if channel == "" {
			channel = "telegram"
		}
		s.Add(Task{
			ID:        t.ID,
			Name:      t.Name,
			Message:   t.Message,
			IntervalS: t.IntervalS,
			Channel:   channel,
			ChatID:    t.ChatID,
			Enabled:   t.Enabled,
		})
	}
}

func (s *Scheduler) Add(task Task) {
	if task.IntervalS <= 0 {
		s.logger.Warn("skipping reminder with non-positive interval", "id", task.ID, "name", task.Name)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task.NextRun = time.Now().Add(time.Duration(task.IntervalS) * time.Second)
	s.tasks[task.ID] = &task
	s.logger.Info("reminder task added", "id", task.ID, "name", task.Name, "interval_s", task.IntervalS)
}

func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	s.logger.Info("reminder task removed", "id", id)
}

func (s *Scheduler) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, *t)
	}
	return tasks
}

// Start ticks until the context ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("reminder scheduler started", "tasks", len(s.tasks))
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder scheduler stopping")
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.fireDue(now)
		}
	}
}

// Stop halts the scheduler. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Scheduler) fireDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks {
		if !task.Enabled || now.Before(task.NextRun) {
			continue
		}
		s.logger.Info("firing reminder", "id", task.ID, "name", task.Name)
		s.bus.Publish(domain.InboundMessage{
			Channel:   task.Channel,
			ChatID:    task.ChatID,
			SenderID:  "reminder:" + task.ID,
			Content:   task.Message,
			Timestamp: now,
		})
		task.LastRun = now
		task.NextRun = now.Add(time.Duration(task.IntervalS) * time.Second)
	}
}
