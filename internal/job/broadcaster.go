package job

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/ringsight/ringsight/pkg/models"
)

// subscriberBuffer must hold a full replay of the fixed pipeline (seven
// events) plus live events still in flight. A sink whose buffer fills up is
// considered dead and is dropped.
const subscriberBuffer = 16

type subscriber struct {
	ch chan models.ProgressEvent
}

// Broadcaster fans a job's events out to its live subscribers. It is a dumb
// delivery map: the Store calls Publish, CloseAll and register for a given
// job while holding that job's lock, which is what guarantees per-sink
// ordering and the gap-free register+replay seam. The Broadcaster's own
// mutex only protects the map against subscribers on other jobs and against
// Unsubscribe, which handlers call from their own goroutines.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[*subscriber]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uuid.UUID]map[*subscriber]struct{})}
}

func (b *Broadcaster) register(id uuid.UUID, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[id]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subs[id] = set
	}
	set[sub] = struct{}{}
}

// Unsubscribe detaches a single sink and closes its channel. Removing the
// last sink does not stop the driver; a job always runs to its terminal
// state so the result stays retrievable even when nobody watched.
func (b *Broadcaster) Unsubscribe(id uuid.UUID, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drop(id, sub)
}

// Publish delivers ev to every sink registered for id. The send never
// blocks: a sink that cannot keep up is dropped and closed, so one slow
// subscriber cannot delay the driver or its peers.
func (b *Broadcaster) Publish(id uuid.UUID, ev models.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[id] {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("dropping slow subscriber", "job_id", id, "stage", ev.Stage)
			b.drop(id, sub)
		}
	}
}

// CloseAll ends every stream for id after its terminal event was delivered.
func (b *Broadcaster) CloseAll(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[id] {
		close(sub.ch)
	}
	delete(b.subs, id)
}

// drop removes a sink if still registered. Channels are closed exactly here
// or in CloseAll, always under b.mu, so a close can never race a send.
func (b *Broadcaster) drop(id uuid.UUID, sub *subscriber) {
	set, ok := b.subs[id]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(b.subs, id)
	}
}

// SubscriberCount reports the number of live sinks for a job.
func (b *Broadcaster) SubscriberCount(id uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[id])
}
