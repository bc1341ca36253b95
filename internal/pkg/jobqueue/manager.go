package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/marketsub/internal/pkg/billing"
	"github.com/ManuelReschke/marketsub/internal/pkg/config"
	"github.com/ManuelReschke/marketsub/internal/pkg/subscriptions"
)

// PeriodicCreditsLockKey guards the periodic credit run across instances.
const PeriodicCreditsLockKey = "subscriptions:lock:periodic_credits"

const lockTTL = 15 * time.Minute

// Manager owns the queue and the periodic subscription jobs.
type Manager struct {
	queue          *Queue
	client         *redis.Client
	subs           *subscriptions.Service
	creditInterval time.Duration
	expiryInterval time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

// NewManager wires the subscription job processors.
func NewManager(cfg config.JobsConfig, client *redis.Client, subs *subscriptions.Service) *Manager {
	m := &Manager{
		queue:          NewQueue(client, cfg.Workers),
		client:         client,
		subs:           subs,
		creditInterval: cfg.CreditJobInterval,
		expiryInterval: cfg.ExpirySweepInterval,
	}

	m.queue.Register(JobTypeGrantPeriodicCredits, func(ctx context.Context, job *Job) error {
		payload, err := PeriodicCreditsJobPayloadFromMap(job.Payload)
		if err != nil {
			return err
		}
		_, _, err = m.RunPeriodicCredits(ctx, payload.AsOf(subs.Now()))
		return err
	})
	m.queue.Register(JobTypeExpireDue, func(ctx context.Context, job *Job) error {
		_, err := subs.ExpireDue(ctx, subs.Now())
		return err
	})
	return m
}

// ProcessOrderEventsWith lets the queue apply queued order events through
// handler.
func (m *Manager) ProcessOrderEventsWith(handler *billing.Handler) {
	m.queue.Register(JobTypeOrderEvent, func(ctx context.Context, job *Job) error {
		payload, err := OrderEventJobPayloadFromMap(job.Payload)
		if err != nil {
			return err
		}
		_, err = handler.ProcessEvent(ctx, payload.EventID)
		return err
	})
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the queue workers and the tickers.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Fresh channel per cycle so the manager can be restarted.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.creditInterval > 0 {
		m.wg.Add(1)
		go m.tick("periodic credits", m.creditInterval, func(ctx context.Context) error {
			_, _, err := m.RunPeriodicCredits(ctx, m.subs.Now())
			return err
		})
	}
	if m.expiryInterval > 0 {
		m.wg.Add(1)
		go m.tick("expiry sweep", m.expiryInterval, func(ctx context.Context) error {
			_, err := m.subs.ExpireDue(ctx, m.subs.Now())
			return err
		})
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the tickers and the queue.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")
	close(m.stopCh)
	m.running = false
	m.wg.Wait()
	m.queue.Stop()
	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) tick(name string, interval time.Duration, run func(ctx context.Context) error) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Infof("[JobQueue Manager] Started %s worker (interval: %s)", name, interval)

	for {
		select {
		case <-m.stopCh:
			log.Infof("[JobQueue Manager] %s worker stopping", name)
			return
		case <-ticker.C:
			if err := run(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] %s error: %v", name, err)
			}
		}
	}
}

// RunPeriodicCredits grants the monthly credits for asOf's day unless
// another instance holds the lock, in which case ran is false.
func (m *Manager) RunPeriodicCredits(ctx context.Context, asOf time.Time) (granted int, ran bool, err error) {
	ok, err := m.client.SetNX(ctx, PeriodicCreditsLockKey, time.Now().UTC().Format(time.RFC3339), lockTTL).Result()
	if err != nil {
		return 0, false, fmt.Errorf("take periodic credits lock: %w", err)
	}
	if !ok {
		log.Infof("[JobQueue Manager] Periodic credits already running elsewhere, skipping")
		return 0, false, nil
	}
	defer func() {
		if derr := m.client.Del(context.Background(), PeriodicCreditsLockKey).Err(); derr != nil {
			log.Warnf("[JobQueue Manager] Failed to release periodic credits lock: %v", derr)
		}
	}()

	granted, err = m.subs.GrantPeriodicCredits(ctx, asOf)
	return granted, true, err
}

// TriggerPeriodicCredits queues a periodic credit run for date (YYYY-MM-DD,
// empty for today).
func (m *Manager) TriggerPeriodicCredits(ctx context.Context, date string) (*Job, error) {
	payload := PeriodicCreditsJobPayload{Date: date}
	if _, err := PeriodicCreditsJobPayloadFromMap(payload.ToMap()); err != nil {
		return nil, err
	}
	return m.queue.EnqueueJob(ctx, JobTypeGrantPeriodicCredits, payload.ToMap())
}

// TriggerExpirySweep queues an expiry sweep.
func (m *Manager) TriggerExpirySweep(ctx context.Context) (*Job, error) {
	return m.queue.EnqueueJob(ctx, JobTypeExpireDue, map[string]interface{}{})
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
