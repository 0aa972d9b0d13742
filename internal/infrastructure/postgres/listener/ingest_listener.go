package listener

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"
)

const (
	channelName       = "raw_transactions_ingested"
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second

	// DefaultQuietPeriod is how long a user's notifications must stop before
	// reconciliation is triggered. Ingestion commits page by page, so this
	// waits for the batch to land.
	DefaultQuietPeriod = 10 * time.Second
)

// Trigger receives the users whose raw transactions changed.
type Trigger interface {
	TriggerReconcile(userID int64)
}

// IngestListener listens for raw transaction inserts and triggers
// reconciliation once per burst per user.
type IngestListener struct {
	connStr    string
	trigger    Trigger
	quiet      time.Duration
	shutdownCh chan struct{}
	done       chan struct{}

	mu      sync.Mutex
	pending map[int64]*time.Timer
}

// NewIngestListener creates a listener. quiet <= 0 uses DefaultQuietPeriod.
func NewIngestListener(connStr string, trigger Trigger, quiet time.Duration) *IngestListener {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &IngestListener{
		connStr:    connStr,
		trigger:    trigger,
		quiet:      quiet,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
		pending:    make(map[int64]*time.Timer),
	}
}

// Start begins listening for notifications in a background goroutine
func (l *IngestListener) Start(ctx context.Context) {
	go l.listen(ctx)
	log.Println("Ingest notification listener started")
}

// Stop shuts the listener down and drops triggers not yet fired.
func (l *IngestListener) Stop() {
	close(l.shutdownCh)
	<-l.done

	l.mu.Lock()
	for id, t := range l.pending {
		t.Stop()
		delete(l.pending, id)
	}
	l.mu.Unlock()
	log.Println("Ingest notification listener stopped")
}

func (l *IngestListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		// Wait before reconnecting
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			log.Println("Reconnecting to PostgreSQL for notifications...")
		}
	}
}

func (l *IngestListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Println("Connected to PostgreSQL notification channel")
		case pq.ListenerEventDisconnected:
			log.Printf("Disconnected from PostgreSQL notification channel: %v", err)
		case pq.ListenerEventReconnected:
			log.Println("Reconnected to PostgreSQL notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Printf("Connection attempt failed: %v", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(channelName); err != nil {
		log.Printf("Failed to listen on channel %s: %v", channelName, err)
		return
	}
	log.Printf("Listening on channel: %s", channelName)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				// Connection lost, break to reconnect
				return
			}
			l.handle(n.Extra)
		case <-time.After(pingInterval):
			go func() {
				if err := listener.Ping(); err != nil {
					log.Printf("Listener ping failed: %v", err)
				}
			}()
		}
	}
}

// handle (re)arms the user's quiet-period timer.
func (l *IngestListener) handle(payload string) {
	userID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || userID <= 0 {
		log.Printf("Ignoring notification with invalid user payload %q", payload)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.pending[userID]; ok {
		t.Reset(l.quiet)
		return
	}
	l.pending[userID] = time.AfterFunc(l.quiet, func() {
		l.mu.Lock()
		delete(l.pending, userID)
		l.mu.Unlock()
		l.trigger.TriggerReconcile(userID)
	})
}
