package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quill/printhold/internal/db"
)

// JobEventData is the payload body for every job lifecycle event.
type JobEventData struct {
	JobID        int64   `json:"job_id"`
	Owner        *string `json:"owner"`
	ClaimState   string  `json:"claim_state"`
	SpoolerState string  `json:"spooler_state"`
	Title        string  `json:"title"`
	SubmittedVia string  `json:"submitted_via"`
}

type Payload struct {
	Event      string       `json:"event"`
	DeliveryID string       `json:"delivery_id"`
	Timestamp  time.Time    `json:"timestamp"`
	Data       JobEventData `json:"data"`
	Signature  string       `json:"signature,omitempty"`
}

type Config struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type task struct {
	webhook *db.Webhook
	payload *Payload
	attempt int
}

// Sender delivers HMAC-signed job events to the subscribed endpoints.
// Deliveries are queued and retried with backoff; a full queue drops the
// delivery rather than blocking the caller.
type Sender struct {
	db         *sql.DB
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
	workers    int
	queue      chan *task
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewSender(database *sql.DB, cfg Config) *Sender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	return &Sender{
		db:         database,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		workers:    cfg.WorkerCount,
		queue:      make(chan *task, cfg.QueueSize),
		stopCh:     make(chan struct{}),
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// JobEvent implements core.Notifier. It fans the event out to every
// enabled webhook subscribed to it and returns without waiting for
// delivery.
func (s *Sender) JobEvent(event string, job *db.Job) {
	hooks, err := s.subscribedWebhooks(event)
	if err != nil {
		log.Printf("[webhook] failed to get webhooks for event %s: %v", event, err)
		return
	}

	for _, hook := range hooks {
		t := &task{
			webhook: hook,
			payload: &Payload{
				Event:      event,
				DeliveryID: uuid.NewString(),
				Timestamp:  time.Now().UTC(),
				Data: JobEventData{
					JobID:        job.JobID,
					Owner:        job.Owner,
					ClaimState:   job.ClaimState,
					SpoolerState: job.SpoolerState,
					Title:        job.Title,
					SubmittedVia: job.SubmittedVia,
				},
			},
		}

		select {
		case s.queue <- t:
		default:
			log.Printf("[webhook] queue full, dropping %s delivery for webhook %d", event, hook.ID)
		}
	}
}

func (s *Sender) subscribedWebhooks(event string) ([]*db.Webhook, error) {
	query := `SELECT id, name, url, secret, events_json, enabled, created_at FROM webhooks WHERE enabled = 1 AND events_json LIKE ?`
	rows, err := s.db.Query(query, fmt.Sprintf("%%%q%%", event))
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []*db.Webhook
	for rows.Next() {
		w := &db.Webhook{}
		if err := rows.Scan(&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

func (s *Sender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			if err := s.sendWithRetry(t); err != nil {
				log.Printf("[webhook worker %d] delivery %s to webhook %d failed after %d attempts: %v",
					id, t.payload.DeliveryID, t.webhook.ID, t.attempt, err)
			}
		}
	}
}

func (s *Sender) sendWithRetry(t *task) error {
	var lastErr error
	for t.attempt < s.retryCount {
		t.attempt++

		err := s.sendRequest(t.webhook, t.payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if isClientError(err) {
			return err
		}

		if t.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(t.attempt-1))
			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *Sender) sendRequest(hook *db.Webhook, payload *Payload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	if hook.Secret != "" {
		payload.Signature = sign(dataBytes, hook.Secret)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", payload.Signature)
	req.Header.Set("X-Webhook-Event", payload.Event)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("http error: %d", resp.StatusCode)
	}
	return nil
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "http error: 4")
}
