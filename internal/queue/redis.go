package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"
)

// RedisQueue implements Queue against a Redis list
type RedisQueue struct {
	pool *redis.Pool
}

// NewRedisQueue creates a Redis-backed queue client
func NewRedisQueue(addr string, db int) *RedisQueue {
	pool := &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr,
				redis.DialDatabase(db),
				redis.DialConnectTimeout(2*time.Second),
				redis.DialReadTimeout(10*time.Second),
				redis.DialWriteTimeout(10*time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	return &RedisQueue{pool: pool}
}

// Ping verifies connectivity
func (q *RedisQueue) Ping(ctx context.Context) error {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Push appends a payload to the named queue
func (q *RedisQueue) Push(ctx context.Context, name string, payload []byte) error {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("RPUSH", name, payload); err != nil {
		return fmt.Errorf("failed to push to %s: %w", name, err)
	}
	return nil
}

// PopBlocking removes the head of the named queue, blocking up to
// timeout. A timeout with no message is not an error.
func (q *RedisQueue) PopBlocking(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()

	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}

	// The read deadline must outlive the server-side block
	reply, err := redis.ByteSlices(redis.DoWithTimeout(conn, timeout+5*time.Second, "BLPOP", name, secs))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from %s: %w", name, err)
	}
	if len(reply) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply length %d", len(reply))
	}

	return reply[1], nil
}

// Len returns the current length of the named queue
func (q *RedisQueue) Len(ctx context.Context, name string) (int64, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()

	n, err := redis.Int64(conn.Do("LLEN", name))
	if err != nil {
		return 0, fmt.Errorf("failed to get length of %s: %w", name, err)
	}
	return n, nil
}

// Close releases the connection pool
func (q *RedisQueue) Close() error {
	log.Info().Msg("Closing redis queue client")
	return q.pool.Close()
}
