package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/common"
)

// ErrLeaseLost is the cancellation cause seen by fn when the lease expired or was taken over.
var ErrLeaseLost = errors.New("lease lost")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis holds a lease key for the duration of fn so that only one process runs a pass.
// The lease is refreshed every ttl/3 and released with a compare-and-delete.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	clock  clock.WithTicker
	log    *slog.Logger
}

type RedisOption func(*Redis)

func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = strings.TrimSpace(prefix) }
}

func WithClock(c clock.WithTicker) RedisOption {
	return func(r *Redis) {
		if c != nil {
			r.clock = c
		}
	}
}

func NewRedis(client redis.UniversalClient, logger *slog.Logger, opts ...RedisOption) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Redis{
		client: client,
		prefix: "lease",
		ttl:    constants.DefaultLeaseTTL,
		clock:  clock.RealClock{},
		log:    logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Key returns the Redis key used for a lease name.
func (r *Redis) Key(name string) string {
	if r.prefix == "" {
		return name
	}
	return r.prefix + ":" + name
}

func (r *Redis) Do(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	key := r.Key(name)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return false, common.NewAppError(common.CodeLease, "acquire "+key, err)
	}
	if !ok {
		r.log.Info("lease.held_elsewhere", "key", key)
		return false, nil
	}
	r.log.Debug("lease.acquired", "key", key, "ttl_ms", r.ttl.Milliseconds())

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.keepAlive(runCtx, key, token, stop, cancel)
	}()

	fnErr := fn(runCtx)
	close(stop)
	<-done

	releaseCtx, cancelRelease := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelRelease()
	if n, err := releaseScript.Run(releaseCtx, r.client, []string{key}, token).Int64(); err != nil {
		r.log.Warn("lease.release_failed", "key", key, "err", err)
	} else if n == 0 {
		r.log.Warn("lease.release_skipped", "key", key, "reason", "no longer owner")
	}

	if cause := context.Cause(runCtx); errors.Is(cause, ErrLeaseLost) {
		if fnErr == nil || errors.Is(fnErr, context.Canceled) {
			fnErr = cause
		}
	}
	return true, fnErr
}

func (r *Redis) keepAlive(ctx context.Context, key, token string, stop <-chan struct{}, cancel context.CancelCauseFunc) {
	interval := r.ttl / 3
	if interval <= 0 {
		interval = r.ttl
	}
	t := r.clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C():
			n, err := refreshScript.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Int64()
			if err != nil {
				r.log.Warn("lease.refresh_failed", "key", key, "err", err)
				continue
			}
			if n == 0 {
				r.log.Error("lease.lost", "key", key)
				cancel(fmt.Errorf("%s: %w", key, ErrLeaseLost))
				return
			}
		}
	}
}
