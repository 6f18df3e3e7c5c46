package realtime

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"fixmate/internal/domain/entity"
	"fixmate/internal/domain/repository"
	"fixmate/pkg/logger"
)

type FeedConfig struct {
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// ResumeOverlap is how far before the newest delivered insert a
	// reconnect starts reading again. Repeats are dropped by id.
	ResumeOverlap time.Duration
}

func (c FeedConfig) withDefaults() FeedConfig {
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.ResumeOverlap <= 0 {
		c.ResumeOverlap = 10 * time.Second
	}
	return c
}

// FirestoreFeed streams message inserts through a snapshot listener on the
// messages collection group.
type FirestoreFeed struct {
	client *firestore.Client
	config FeedConfig
	now    func() time.Time
}

func NewFirestoreFeed(client *firestore.Client, config FeedConfig) repository.MessageFeed {
	return &FirestoreFeed{
		client: client,
		config: config.withDefaults(),
		now:    time.Now,
	}
}

type feedSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Unsubscribe stops the listener and waits for the delivery goroutine.
func (s *feedSubscription) Unsubscribe() {
	s.cancel()
	<-s.done
}

func (f *FirestoreFeed) Subscribe(ctx context.Context, userID string, onInsert func(*entity.Message)) (repository.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &feedSubscription{cancel: cancel, done: make(chan struct{})}

	l := &listener{
		feed:     f,
		userID:   userID,
		onInsert: onInsert,
		cursor:   newCursor(f.now().UTC(), f.config.ResumeOverlap),
		recon:    newReconnector(f.config),
	}
	go func() {
		defer close(sub.done)
		l.run(ctx)
	}()
	return sub, nil
}

type listener struct {
	feed     *FirestoreFeed
	userID   string
	onInsert func(*entity.Message)
	recon    *reconnector
	cursor   *cursor
}

// query filters on the server insert time so a message whose upload outlived
// the subscription start is still delivered.
func (l *listener) query() firestore.Query {
	return l.feed.client.CollectionGroup("messages").
		Where("participantIds", "array-contains", l.userID).
		Where("insertedAt", ">", l.cursor.resumeAt())
}

func (l *listener) run(ctx context.Context) {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil || status.Code(err) == codes.Canceled {
			return
		}

		delay := l.recon.nextDelay()
		logger.Warn("RealtimeFeed Warning: Listener for user %s failed, reconnecting in %v: %v", l.userID, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (l *listener) listen(ctx context.Context) error {
	it := l.query().Snapshots(ctx)
	defer it.Stop()

	first := true
	for {
		snap, err := it.Next()
		if err != nil {
			return err
		}
		if first {
			l.recon.markConnected()
			first = false
		}

		for _, change := range snap.Changes {
			if change.Kind != firestore.DocumentAdded {
				continue
			}
			var message entity.Message
			if err := change.Doc.DataTo(&message); err != nil {
				logger.Warn("RealtimeFeed Warning: Skipping undecodable message %s: %v", change.Doc.Ref.ID, err)
				continue
			}
			message.ID = change.Doc.Ref.ID
			if !l.cursor.admit(message.ID, message.InsertedAt) {
				continue
			}
			l.onInsert(&message)
		}
	}
}

// cursor remembers where a listener may resume. It never reaches back past
// the subscription start, and ids inside the overlap window are delivered once.
type cursor struct {
	start   time.Time
	since   time.Time
	overlap time.Duration
	seen    map[string]time.Time
}

func newCursor(start time.Time, overlap time.Duration) *cursor {
	return &cursor{
		start:   start,
		since:   start,
		overlap: overlap,
		seen:    make(map[string]time.Time),
	}
}

func (c *cursor) resumeAt() time.Time {
	from := c.since.Add(-c.overlap)
	if from.Before(c.start) {
		return c.start
	}
	return from
}

// admit records a delivered insert and reports whether it is new.
func (c *cursor) admit(id string, insertedAt time.Time) bool {
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = insertedAt
	if insertedAt.After(c.since) {
		c.since = insertedAt
	}

	floor := c.resumeAt()
	for seenID, at := range c.seen {
		if at.Before(floor) {
			delete(c.seen, seenID)
		}
	}
	return true
}

type reconnector struct {
	mu          sync.Mutex
	baseDelay   time.Duration
	maxDelay    time.Duration
	attempt     int
	connectedAt time.Time
}

func newReconnector(config FeedConfig) *reconnector {
	return &reconnector{
		baseDelay: config.ReconnectBaseDelay,
		maxDelay:  config.ReconnectMaxDelay,
	}
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectedAt = time.Now()
}

// nextDelay grows exponentially with jitter. A listener that stayed up for a
// minute starts over from the base delay.
func (r *reconnector) nextDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > time.Minute {
		r.attempt = 0
	}
	r.connectedAt = time.Time{}

	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
