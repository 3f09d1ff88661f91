package queue

import (
	"context"
	"sync"
	"time"
)

// Delivery is a job waiting in a Memory transport.
type Delivery struct {
	Job   *Job
	Delay time.Duration
}

// Memory is an in-process transport. Delays are recorded, not honored.
type Memory struct {
	mu      sync.Mutex
	pending []Delivery
	sent    []Delivery
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Send(_ context.Context, job *Job, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := Delivery{Job: job.Clone(), Delay: delay}
	m.pending = append(m.pending, d)
	m.sent = append(m.sent, d)
	return nil
}

func (m *Memory) SendBatch(ctx context.Context, jobs []*Job, delay time.Duration) error {
	for _, job := range jobs {
		if err := m.Send(ctx, job, delay); err != nil {
			return err
		}
	}
	return nil
}

// Sent returns every delivery ever sent, in order.
func (m *Memory) Sent() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delivery(nil), m.sent...)
}

// Len returns the number of pending deliveries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Take removes and returns the pending deliveries.
func (m *Memory) Take() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pending
	m.pending = nil
	return out
}

// Drain delivers pending jobs to d, one batch per round, until nothing is
// left or a round fails.
func (m *Memory) Drain(ctx context.Context, d *Dispatcher) error {
	for {
		batch := m.Take()
		if len(batch) == 0 {
			return nil
		}
		jobs := make([]*Job, len(batch))
		for i, del := range batch {
			jobs[i] = del.Job
		}
		if err := d.Receive(ctx, jobs); err != nil {
			return err
		}
	}
}
