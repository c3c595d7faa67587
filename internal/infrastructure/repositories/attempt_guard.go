package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/you/accountportal/domain"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only while it is still held by the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AttemptGuardImpl implements domain.AttemptGuard with a Redis SET NX lock so that
// every instance serving a device sees the same in-flight attempt
type AttemptGuardImpl struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewAttemptGuard creates a guard. ttl bounds how long a crashed attempt can block retries.
func NewAttemptGuard(client *redis.Client, ttl time.Duration, logger *zap.Logger) domain.AttemptGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttemptGuardImpl{client: client, ttl: ttl, logger: logger}
}

// Acquire implements domain.AttemptGuard
func (g *AttemptGuardImpl) Acquire(ctx context.Context, scope, identifier string) (func(), error) {
	key := fmt.Sprintf("portal:attempt:%s:%s", scope, identifier)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, domain.CacheUnavailable(fmt.Errorf("failed to acquire attempt lock: %w", err))
	}
	if !ok {
		return nil, domain.ErrAuthenticationInFlight
	}

	return func() {
		// The caller's context may already be cancelled; release must still run
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, g.client, []string{key}, token).Err(); err != nil {
			g.logger.Warn("failed to release attempt lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
