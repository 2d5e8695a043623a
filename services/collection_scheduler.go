package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HSouheill/barrim_settlement/config"
	"github.com/HSouheill/barrim_settlement/models"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const collectionLockKey = "barrim:commission:collection-cycle"

// ErrCycleInProgress is returned when another run holds the collection lock
var ErrCycleInProgress = errors.New("collection cycle already running")

// Locker guards a named job against overlapping runs across instances
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// RedisLocker implements Locker with SET NX PX and a token-checked release
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// only the holder of the token may delete the key
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// only the holder of the token may extend the key
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

// Acquire takes the lock and keeps extending it every ttl/3 until released,
// so a run longer than ttl still holds it.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(key, ttl/3, stop, func(ctx context.Context) (bool, error) {
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int64()
			return n == 1, err
		})
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				log.WithField("key", key).WithError(err).Warn("failed to release lock")
			}
		})
	}
	return release, true, nil
}

// keepAlive calls extend every interval until stop is closed or the lock is gone.
// A failed extension is retried on the next tick while the key has not expired.
func keepAlive(key string, interval time.Duration, stop <-chan struct{}, extend func(ctx context.Context) (bool, error)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		held, err := extend(ctx)
		cancel()
		switch {
		case err != nil:
			log.WithField("key", key).WithError(err).Warn("failed to extend lock")
		case !held:
			log.WithField("key", key).Error("lock expired before the run finished")
			return
		}
	}
}

// localLocker guards runs inside one process when Redis is unavailable
type localLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *localLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, true, nil
}

// CycleRunner runs one collection cycle
type CycleRunner interface {
	RunCollectionCycle(ctx context.Context) (models.CollectionResult, error)
}

// OverdueMarker runs the overdue sweep
type OverdueMarker interface {
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}

// CollectionScheduler triggers the collection cycle and the overdue sweep on cron
// schedules and keeps cycle runs from overlapping.
type CollectionScheduler struct {
	cycle   CycleRunner
	overdue OverdueMarker
	locker  Locker
	cfg     config.ScheduleConfig

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewCollectionScheduler creates the scheduler; a nil locker guards this process only
func NewCollectionScheduler(cycle CycleRunner, overdue OverdueMarker, locker Locker, cfg config.ScheduleConfig) *CollectionScheduler {
	if locker == nil {
		locker = &localLocker{held: map[string]bool{}}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &CollectionScheduler{
		cycle:   cycle,
		overdue: overdue,
		locker:  locker,
		cfg:     cfg,
	}
}

func (s *CollectionScheduler) Name() string { return "commission-collection" }

func (s *CollectionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.cfg.CollectionCron, func() { s.scheduledCycle(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule collection cycle %q: %w", s.cfg.CollectionCron, err)
	}
	if s.overdue != nil && s.cfg.OverdueCron != "" {
		if _, err := c.AddFunc(s.cfg.OverdueCron, func() { s.scheduledOverdue(runCtx) }); err != nil {
			cancel()
			return fmt.Errorf("schedule overdue sweep %q: %w", s.cfg.OverdueCron, err)
		}
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	log.WithFields(log.Fields{
		"collection": s.cfg.CollectionCron,
		"overdue":    s.cfg.OverdueCron,
	}).Info("commission collection scheduler started")
	return nil
}

func (s *CollectionScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	cancel := s.cancel
	s.running = false
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	cronDone := c.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-cronDone.Done()
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// RunNow runs a collection cycle immediately under the run lock
func (s *CollectionScheduler) RunNow(ctx context.Context) (models.CollectionResult, error) {
	release, ok, err := s.locker.Acquire(ctx, collectionLockKey, s.cfg.LockTTL)
	if err != nil {
		return models.CollectionResult{}, err
	}
	if !ok {
		return models.CollectionResult{}, ErrCycleInProgress
	}
	defer release()

	s.wg.Add(1)
	defer s.wg.Done()
	return s.cycle.RunCollectionCycle(ctx)
}

func (s *CollectionScheduler) scheduledCycle(ctx context.Context) {
	result, err := s.RunNow(ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		log.Info("collection cycle skipped: another run holds the lock")
	case err != nil:
		log.WithError(err).Error("scheduled collection cycle failed")
	default:
		log.WithFields(log.Fields{
			"attempted": result.Attempted,
			"closed":    result.Closed,
			"errors":    len(result.Errors),
		}).Info("scheduled collection cycle completed")
	}
}

func (s *CollectionScheduler) scheduledOverdue(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()
	if _, err := s.overdue.MarkOverdue(ctx, time.Now().UTC()); err != nil {
		log.WithError(err).Error("overdue sweep failed")
	}
}
