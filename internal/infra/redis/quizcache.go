package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quibly/internal/app"
	"quibly/internal/domain"
)

// QuizCache caches the correctness-stripped quiz projection by join code.
// Quizzes are immutable after creation, so the cached copy can only go
// stale by expiry, never by mutation. Concurrent fills for the same code
// collapse through singleflight.
type QuizCache struct {
	client *redis.Client
	source app.PublicQuizSource
	ttl    time.Duration
	sf     singleflight.Group
}

func NewQuizCache(client *redis.Client, source app.PublicQuizSource, ttl time.Duration) *QuizCache {
	return &QuizCache{
		client: client,
		source: source,
		ttl:    ttl,
	}
}

func (c *QuizCache) key(code string) string {
	return "quiz:code:" + code + ":public"
}

func (c *QuizCache) PublicQuizByCode(ctx context.Context, code string) (domain.PublicQuiz, error) {
	key := c.key(code)
	if quiz, ok := c.lookup(ctx, key); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(code, func() (interface{}, error) {
		// Re-check in case another goroutine filled it.
		if quiz, ok := c.lookup(ctx, key); ok {
			return quiz, nil
		}
		quiz, err := c.source.PublicQuizByCode(ctx, code)
		if err != nil {
			return domain.PublicQuiz{}, err
		}
		if data, err := json.Marshal(quiz); err == nil {
			_ = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()
		}
		return quiz, nil
	})
	if err != nil {
		return domain.PublicQuiz{}, err
	}
	return result.(domain.PublicQuiz), nil
}

func (c *QuizCache) lookup(ctx context.Context, key string) (domain.PublicQuiz, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.PublicQuiz{}, false
	}
	var quiz domain.PublicQuiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.PublicQuiz{}, false
	}
	return quiz, true
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations; the locked package-level
	// source tolerates concurrent fills for different codes
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
