package notify

import (
	"context"
	"sync"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// Recorder keeps every notification in memory. Tests use it to assert fan-out.
type Recorder struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *Recorder) Send(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Sent returns a copy of the recorded notifications.
func (r *Recorder) Sent() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.sent...)
}

// For returns notifications addressed to userID.
func (r *Recorder) For(userID string) []domain.Notification {
	var out []domain.Notification
	for _, n := range r.Sent() {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// Reset clears the recording.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
