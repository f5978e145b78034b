package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"taskq/internal/ports"
)

// fakeTransport is an in-memory stand-in for the broker with claim/ack
// bookkeeping, used to observe dispatcher publishes and reconciler acks.
// Claimed results stay in a pending list until acked and are redelivered on
// the next claim, mirroring a consumer group backlog.
type fakeTransport struct {
	mu             sync.Mutex
	ensured        map[string]bool
	tasks          map[string][]ports.DispatchMessage
	results        []ports.ResultMessage
	pendingResults map[string]ports.ResultMessage // delivered but unacked, by delivery id
	pendingOrder   []string
	ackedTasks     []string
	ackedResults   []string
	failPublishes  int    // next N PublishTask calls fail
	publishHook    func() // runs on every PublishTask, before the failure check
	publishCalls   int
	nextDelivery   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		ensured:        make(map[string]bool),
		tasks:          make(map[string][]ports.DispatchMessage),
		pendingResults: make(map[string]ports.ResultMessage),
	}
}

func (f *fakeTransport) EnsureTaskQueue(ctx context.Context, taskType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured[taskType] = true
	return nil
}

func (f *fakeTransport) PublishTask(ctx context.Context, msg ports.DispatchMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishCalls++
	if f.publishHook != nil {
		f.publishHook()
	}
	if f.failPublishes > 0 {
		f.failPublishes--
		return errors.New("broker unavailable")
	}
	f.tasks[msg.TaskType] = append(f.tasks[msg.TaskType], msg)
	return nil
}

func (f *fakeTransport) ClaimTask(ctx context.Context, taskType, consumer string, block time.Duration) (*ports.DispatchMessage, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.tasks[taskType]
	if len(queue) == 0 {
		return nil, "", nil
	}
	msg := queue[0]
	f.tasks[taskType] = queue[1:]
	f.nextDelivery++
	return &msg, fmt.Sprintf("d%d", f.nextDelivery), nil
}

func (f *fakeTransport) AckTask(ctx context.Context, taskType, deliveryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ackedTasks = append(f.ackedTasks, deliveryID)
	return nil
}

func (f *fakeTransport) PublishResult(ctx context.Context, msg ports.ResultMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, msg)
	return nil
}

func (f *fakeTransport) ClaimResult(ctx context.Context, consumer string, block time.Duration) (*ports.ResultMessage, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Unacked deliveries come back before anything new.
	if len(f.pendingOrder) > 0 {
		id := f.pendingOrder[0]
		msg := f.pendingResults[id]
		return &msg, id, nil
	}
	if len(f.results) == 0 {
		return nil, "", nil
	}
	msg := f.results[0]
	f.results = f.results[1:]
	f.nextDelivery++
	id := fmt.Sprintf("d%d", f.nextDelivery)
	f.pendingResults[id] = msg
	f.pendingOrder = append(f.pendingOrder, id)
	return &msg, id, nil
}

func (f *fakeTransport) AckResult(ctx context.Context, deliveryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ackedResults = append(f.ackedResults, deliveryID)
	delete(f.pendingResults, deliveryID)
	for i, id := range f.pendingOrder {
		if id == deliveryID {
			f.pendingOrder = append(f.pendingOrder[:i], f.pendingOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeTransport) published(taskType string) []ports.DispatchMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.DispatchMessage, len(f.tasks[taskType]))
	copy(out, f.tasks[taskType])
	return out
}

var _ ports.Transport = (*fakeTransport)(nil)
