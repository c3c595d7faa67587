package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/you/accountportal/domain"
)

// VelocityEvaluator flags identifiers that complete more sign-ins than limit within window.
// It runs after the credential check, so only successful logins and signups are counted.
// Counters live in Redis so every instance shares them.
type VelocityEvaluator struct {
	redisClient *redis.Client
	config      VelocityConfig
}

type VelocityConfig struct {
	Limit  int
	Window time.Duration
}

// NewVelocityEvaluator creates a Redis-based velocity evaluator
func NewVelocityEvaluator(redisClient *redis.Client, config VelocityConfig) *VelocityEvaluator {
	if config.Limit <= 0 {
		config.Limit = 5
	}
	if config.Window <= 0 {
		config.Window = 10 * time.Minute
	}
	return &VelocityEvaluator{redisClient: redisClient, config: config}
}

// Assess implements domain.RiskEvaluator. Scores stay below 0.5 up to the limit, then start at
// 0.7 and saturate at twice the limit.
func (v *VelocityEvaluator) Assess(ctx context.Context, identifier string, at time.Time) (domain.RiskAssessment, error) {
	signInsKey := fmt.Sprintf("risk:att:%s", identifier)

	// Count and open the window in one transaction so a counter never outlives it
	pipe := v.redisClient.TxPipeline()
	incr := pipe.Incr(ctx, signInsKey)
	pipe.ExpireNX(ctx, signInsKey, v.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("%w: failed to count sign-ins: %w", domain.ErrEvaluatorUnavailable, err)
	}
	signIns := incr.Val()

	limit := int64(v.config.Limit)
	if signIns > limit {
		score := 0.7 + 0.3*float64(signIns-limit)/float64(limit)
		if score > 1 {
			score = 1
		}
		return domain.RiskAssessment{
			Suspicious: true,
			Reason:     fmt.Sprintf("%d sign-ins in the last %s", signIns, v.config.Window),
			Score:      score,
		}, nil
	}
	return domain.RiskAssessment{
		Suspicious: false,
		Reason:     "normal activity",
		Score:      float64(signIns) / float64(2*limit),
	}, nil
}
