package jobs

import (
	"testing"
	"time"

	"statement-import-service/internal/models"
)

func update(jobID string, progress int) models.JobUpdate {
	return models.JobUpdate{
		JobID:    jobID,
		Status:   models.JobStatusProcessing,
		Progress: progress,
		At:       time.Now(),
	}
}

func TestHubDeliversInOrder(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	for i := 1; i <= 5; i++ {
		hub.Publish(update("job-1", i*10))
	}

	for i := 1; i <= 5; i++ {
		got := <-ch
		if got.Progress != i*10 {
			t.Fatalf("out of order: got %d, want %d", got.Progress, i*10)
		}
	}
}

func TestHubIsolatesJobs(t *testing.T) {
	hub := NewHub()

	ch1, cancel1 := hub.Subscribe("job-1")
	defer cancel1()
	ch2, cancel2 := hub.Subscribe("job-2")
	defer cancel2()

	hub.Publish(update("job-1", 50))

	if got := <-ch1; got.JobID != "job-1" {
		t.Errorf("unexpected update: %+v", got)
	}
	select {
	case got := <-ch2:
		t.Errorf("job-2 subscriber received foreign update: %+v", got)
	default:
	}
}

func TestHubDropsOnOverflow(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	// Publish never blocks, even with nobody draining.
	for i := 0; i < subscriberBuffer*3; i++ {
		hub.Publish(update("job-1", i))
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}

	if received != subscriberBuffer {
		t.Errorf("expected %d buffered updates, got %d", subscriberBuffer, received)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe("job-1")
	cancel()
	cancel() // safe to call twice

	if _, open := <-ch; open {
		t.Error("channel must be closed after unsubscribe")
	}
	if hub.SubscriberCount("job-1") != 0 {
		t.Error("subscriber still registered after unsubscribe")
	}

	// Publishing to a fully unsubscribed job is a no-op.
	hub.Publish(update("job-1", 10))
}

func TestHubCloseJob(t *testing.T) {
	hub := NewHub()

	ch1, cancel1 := hub.Subscribe("job-1")
	ch2, _ := hub.Subscribe("job-1")

	hub.Publish(update("job-1", 90))
	hub.CloseJob("job-1")

	// Buffered updates drain first, then the channels report closed.
	if got := <-ch1; got.Progress != 90 {
		t.Errorf("expected buffered update before close, got %+v", got)
	}
	if _, open := <-ch1; open {
		t.Error("ch1 must be closed after CloseJob")
	}
	<-ch2
	if _, open := <-ch2; open {
		t.Error("ch2 must be closed after CloseJob")
	}

	// Cancel after CloseJob must not panic on the closed channel.
	cancel1()
}
