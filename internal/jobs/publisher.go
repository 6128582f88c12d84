package jobs

import (
	"sync"

	"statement-import-service/internal/models"
	"statement-import-service/pkg/logger"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls this far behind starts losing intermediate updates; the
// terminal state is still observable through GetJob.
const subscriberBuffer = 16

// Hub fans job updates out to subscribers keyed by job id. The
// orchestrator is the sole publisher. Delivery per subscriber is
// ordered and at-most-once; a full subscriber channel drops the update
// rather than blocking the pipeline.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[int]chan models.JobUpdate
	nextID      int
	logger      logger.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[int]chan models.JobUpdate),
		logger:      logger.GetGlobalLogger().WithComponent("job_hub"),
	}
}

// Subscribe attaches to a job's update stream. The returned cancel
// function detaches and closes the channel; calling it twice is safe.
func (h *Hub) Subscribe(jobID string) (<-chan models.JobUpdate, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.JobUpdate, subscriberBuffer)
	if h.subscribers[jobID] == nil {
		h.subscribers[jobID] = make(map[int]chan models.JobUpdate)
	}

	id := h.nextID
	h.nextID++
	h.subscribers[jobID][id] = ch

	// The channel is closed by whichever side detaches first, cancel or
	// CloseJob; presence in the map is the single-close guard.
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		subs, ok := h.subscribers[jobID]
		if !ok {
			return
		}
		if _, present := subs[id]; !present {
			return
		}

		delete(subs, id)
		if len(subs) == 0 {
			delete(h.subscribers, jobID)
		}
		close(ch)
	}

	return ch, cancel
}

// Publish delivers an update to every subscriber of the job. Slow
// subscribers lose the update instead of stalling the publisher.
func (h *Hub) Publish(update models.JobUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subscribers[update.JobID] {
		select {
		case ch <- update:
		default:
			h.logger.WithField("job_id", update.JobID).
				Debug("Subscriber buffer full, update dropped")
		}
	}
}

// CloseJob closes and removes every subscription of a finished job.
func (h *Hub) CloseJob(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subscribers[jobID] {
		close(ch)
	}
	delete(h.subscribers, jobID)
}

// SubscriberCount reports the active subscriptions for a job.
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[jobID])
}
