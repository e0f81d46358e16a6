package task

import "testing"

type recordingRunnable struct {
	started chan struct{}
}

func newRecordingRunnable() *recordingRunnable {
	return &recordingRunnable{started: make(chan struct{}, 1)}
}

func (r *recordingRunnable) Start() { r.started <- struct{}{} }

func TestManagerQueuesBeyondCapacity(t *testing.T) {
	m := NewManager()
	runnables := make([]*recordingRunnable, MaxActiveTasks+2)
	for i := range runnables {
		runnables[i] = newRecordingRunnable()
		m.Submit(runnables[i])
	}
	if m.ActiveCount() != MaxActiveTasks {
		t.Fatalf("expected %d active tasks, got %d", MaxActiveTasks, m.ActiveCount())
	}
	if m.QueuedCount() != 2 {
		t.Fatalf("expected 2 queued tasks, got %d", m.QueuedCount())
	}
	for i := 0; i < MaxActiveTasks; i++ {
		select {
		case <-runnables[i].started:
		default:
			t.Fatalf("runnable %d should have started immediately", i)
		}
	}
	for i := MaxActiveTasks; i < len(runnables); i++ {
		select {
		case <-runnables[i].started:
			t.Fatalf("runnable %d should not have started while the pool is full", i)
		default:
		}
	}
}

func TestManagerReleasePromotesQueuedTask(t *testing.T) {
	m := NewManager()
	for i := 0; i < MaxActiveTasks; i++ {
		m.Submit(newRecordingRunnable())
	}
	queued := newRecordingRunnable()
	m.Submit(queued)
	if m.QueuedCount() != 1 {
		t.Fatalf("expected 1 queued task, got %d", m.QueuedCount())
	}

	m.Release()

	select {
	case <-queued.started:
	default:
		t.Fatal("releasing a slot should start the queued task")
	}
	if m.QueuedCount() != 0 {
		t.Fatalf("expected queue drained, got %d", m.QueuedCount())
	}
	if m.ActiveCount() != MaxActiveTasks {
		t.Fatalf("expected active count to stay at capacity, got %d", m.ActiveCount())
	}
}

func TestManagerReleaseWithEmptyQueueDecrementsActive(t *testing.T) {
	m := NewManager()
	m.Submit(newRecordingRunnable())
	if m.ActiveCount() != 1 {
		t.Fatalf("expected 1 active task, got %d", m.ActiveCount())
	}
	m.Release()
	if m.ActiveCount() != 0 {
		t.Fatalf("expected 0 active tasks after release, got %d", m.ActiveCount())
	}
}
