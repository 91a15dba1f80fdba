package runtime

import (
	"github.com/tjfontaine/oapipe/internal/combinator"
	"github.com/tjfontaine/oapipe/internal/operation"
	"github.com/tjfontaine/oapipe/internal/pkg/config"
)

func validationDefaults(cfg *config.Config) operation.ValidationDefaults {
	return operation.ValidationDefaults{
		Request:           cfg.Validation.Request,
		Response:          cfg.Validation.Response,
		RequestStatusCode: cfg.Validation.RequestStatusCode,
	}
}

// cacheOptions of a nil config are rejected by combinator.NewCache.
func cacheOptions(cfg *config.Config) combinator.CacheOptions {
	if cfg == nil {
		return combinator.CacheOptions{}
	}
	return combinator.CacheOptions{
		MaxSize: cfg.Cache.MaxSize,
		MaxAge:  cfg.Cache.MaxAge,
	}
}

func retryOptions(cfg *config.Config) combinator.RetryOptions {
	if cfg == nil {
		return combinator.RetryOptions{}
	}
	return combinator.RetryOptions{
		MaxRetryAttempts: cfg.Retry.MaxAttempts,
		ScalingDuration:  cfg.Retry.ScalingDuration,
	}
}
