package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/huangang/spamguard/internal/services/detector"
	"github.com/huangang/spamguard/pkg/logger"
)

const (
	PredictionCacheKeyPrefix = "spamguard:prediction:"
	// Only the head of the content is hashed.
	cacheContentPrefix = 500
	memoryCacheMaxSize = 10000
)

// PredictionCache stores recent predictions for identical submissions.
// Failures are never fatal: a broken cache is a miss.
type PredictionCache interface {
	Get(ctx context.Context, key string) (*detector.Prediction, bool)
	Set(ctx context.Context, key string, p *detector.Prediction)
	Backend() string
}

// PredictionCacheKey identifies a submission under a given model version, so
// a reload never serves results from the previous model.
func PredictionCacheKey(siteID string, s detector.Submission, modelVersion string) string {
	content := []rune(s.Content)
	if len(content) > cacheContentPrefix {
		content = content[:cacheContentPrefix]
	}
	payload, _ := json.Marshal([]string{
		siteID, string(content), s.Author, s.AuthorEmail, s.AuthorURL, s.UserAgent, modelVersion,
	})
	sum := sha256.Sum256(payload)
	return PredictionCacheKeyPrefix + hex.EncodeToString(sum[:])
}

// NewPredictionCache picks Redis when a client is given, memory otherwise.
func NewPredictionCache(client *redis.Client, ttl time.Duration) PredictionCache {
	if client != nil {
		return NewRedisPredictionCache(client, ttl)
	}
	return NewMemoryPredictionCache(ttl)
}

type memoryEntry struct {
	prediction *detector.Prediction
	expiresAt  time.Time
}

// MemoryPredictionCache is a bounded TTL map for single-instance deployments.
type MemoryPredictionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryPredictionCache(ttl time.Duration) *MemoryPredictionCache {
	return &MemoryPredictionCache{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryPredictionCache) Backend() string { return "memory" }

func (c *MemoryPredictionCache) Get(ctx context.Context, key string) (*detector.Prediction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	cp := *e.prediction
	return &cp, true
}

func (c *MemoryPredictionCache) Set(ctx context.Context, key string, p *detector.Prediction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.entries) >= memoryCacheMaxSize {
		c.evict(now)
	}
	cp := *p
	c.entries[key] = memoryEntry{prediction: &cp, expiresAt: now.Add(c.ttl)}
}

// Len is the number of stored entries, expired ones included.
func (c *MemoryPredictionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evict drops expired entries, or everything if none had expired.
func (c *MemoryPredictionCache) evict(now time.Time) {
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) >= memoryCacheMaxSize {
		c.entries = make(map[string]memoryEntry)
	}
}

// RedisPredictionCache shares predictions between instances. A circuit
// breaker stops a flapping Redis from adding latency to every request.
type RedisPredictionCache struct {
	client *redis.Client
	ttl    time.Duration
	cb     *gobreaker.CircuitBreaker
}

func NewRedisPredictionCache(client *redis.Client, ttl time.Duration) *RedisPredictionCache {
	cbSettings := gobreaker.Settings{
		Name:        "prediction-cache",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 || (counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("[CircuitBreaker] State changed")
		},
	}
	return &RedisPredictionCache{client: client, ttl: ttl, cb: gobreaker.NewCircuitBreaker(cbSettings)}
}

func (c *RedisPredictionCache) Backend() string { return "redis" }

func (c *RedisPredictionCache) Get(ctx context.Context, key string) (*detector.Prediction, bool) {
	v, err := c.cb.Execute(func() (interface{}, error) {
		data, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			// A miss is not a failure.
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		logger.Debug().Err(err).Msg("[PredictionCache] Get failed")
		return nil, false
	}
	data, _ := v.([]byte)
	if data == nil {
		return nil, false
	}
	var p detector.Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (c *RedisPredictionCache) Set(ctx context.Context, key string, p *detector.Prediction) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	_, err = c.cb.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, key, data, c.ttl).Err()
	})
	if err != nil {
		logger.Debug().Err(err).Msg("[PredictionCache] Set failed")
	}
}
