package ratelimit

import (
	"context"
	"encoding/json"

	"hookrelay/internal/config"
	"hookrelay/internal/logger"
	"hookrelay/pkg/models"
)

// Handler applies rate-limit policy changes announced on the config-update
// topic. Unlike filters and routes there is no store to reload from: the
// event metadata carries the new policy itself.
type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

func (h *Handler) HandleConfigUpdate(ctx context.Context, d models.Delivery) error {
	if d.Event.Type != models.EventTypeRateLimitUpdated {
		return nil
	}

	cfg, err := decodeSettings(d.Event.Payload)
	if err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to decode rate limit config event",
			"error", err,
			"event_id", d.Event.ID,
		)
		return err
	}

	h.service.SetConfig(cfg)
	h.logger.InfowCtx(ctx, "Rate limit policy updated",
		"algorithm", cfg.Algorithm,
		"default_limit", cfg.DefaultLimit,
	)
	return nil
}

// settingsPayload mirrors the metadata shape of a ratelimit_updated event.
type settingsPayload struct {
	Metadata struct {
		Algorithm     string  `json:"algorithm"`
		DefaultLimit  int     `json:"default_limit"`
		WindowSeconds int     `json:"window_seconds"`
		BucketSize    int     `json:"bucket_size"`
		RefillRate    float64 `json:"refill_rate"`
		Overrides     map[string]struct {
			Limit         int `json:"limit"`
			WindowSeconds int `json:"window_seconds"`
		} `json:"overrides"`
	} `json:"metadata"`
}

func decodeSettings(payload map[string]interface{}) (config.RateLimitConfig, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return config.RateLimitConfig{}, err
	}
	var decoded settingsPayload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return config.RateLimitConfig{}, err
	}

	cfg := config.RateLimitConfig{
		Algorithm:     decoded.Metadata.Algorithm,
		DefaultLimit:  decoded.Metadata.DefaultLimit,
		WindowSeconds: decoded.Metadata.WindowSeconds,
		BucketSize:    decoded.Metadata.BucketSize,
		RefillRate:    decoded.Metadata.RefillRate,
	}
	if len(decoded.Metadata.Overrides) > 0 {
		cfg.Overrides = make(map[string]config.LimitOverride, len(decoded.Metadata.Overrides))
		for key, o := range decoded.Metadata.Overrides {
			cfg.Overrides[key] = config.LimitOverride{
				Limit:         o.Limit,
				WindowSeconds: o.WindowSeconds,
			}
		}
	}
	return cfg, nil
}
