// Package guard serializes event commits per user so that the read of the
// latest event and the insert of the next one cannot interleave.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Guard modes accepted by New.
const (
	ModeNone  = "none"
	ModeLocal = "local"
	ModeRedis = "redis"
)

// ErrUnavailable is returned when the guard could not be taken before the
// context ended.
var ErrUnavailable = errors.New("commit guard unavailable")

// CommitGuard grants exclusive commit access for one user at a time.
type CommitGuard interface {
	// Acquire blocks until the user's guard is held or ctx ends. The returned
	// release must be called exactly once.
	Acquire(ctx context.Context, userID string) (release func(), err error)
}

// Noop performs no serialization.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

// Local serializes commits inside a single process.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocal creates an in-process guard.
func NewLocal() *Local {
	return &Local{entries: make(map[string]*localEntry)}
}

func (l *Local) Acquire(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[userID]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[userID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(userID, e)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(userID, e)
		})
	}, nil
}

func (l *Local) unref(userID string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, userID)
	}
}

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis serializes commits across processes with a SET NX PX lease.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedis creates a distributed guard. ttl bounds how long a crashed holder
// can block the user.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Redis{
		client: client,
		prefix: "smokelog:commit:",
		ttl:    ttl,
		retry:  25 * time.Millisecond,
	}
}

func (r *Redis) Acquire(ctx context.Context, userID string) (func(), error) {
	key := r.prefix + userID
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			// A failed release only delays the next commit until the lease expires.
			_ = releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err()
		})
	}, nil
}

// Options selects and configures a CommitGuard.
type Options struct {
	Mode     string
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New builds the guard named by opts.Mode. The returned closer releases the
// Redis connection pool when one was opened.
func New(ctx context.Context, opts Options) (CommitGuard, func() error, error) {
	noClose := func() error { return nil }
	switch opts.Mode {
	case "", ModeNone:
		return Noop{}, noClose, nil
	case ModeLocal:
		return NewLocal(), noClose, nil
	case ModeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
		}
		return NewRedis(client, opts.TTL), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown commit guard mode %q", opts.Mode)
	}
}
