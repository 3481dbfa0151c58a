package ingest

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"hookrelay/internal/config"
	"hookrelay/internal/constants"
	"hookrelay/internal/delivery"
	"hookrelay/pkg/errors"
)

// SignatureValidator verifies an inbound webhook's authenticity before
// admission. Implementations return the timestamp the request carries, or
// the zero time when the source sends none.
type SignatureValidator interface {
	Validate(source string, headers http.Header, body []byte) (time.Time, error)
}

// HMACValidator checks hex HMAC-SHA256 signatures against per-source shared
// secrets. Sources without a configured secret pass unchecked unless
// RequireSignature is set.
type HMACValidator struct {
	cfg config.IngestConfig
}

func NewHMACValidator(cfg config.IngestConfig) *HMACValidator {
	return &HMACValidator{cfg: cfg}
}

func (v *HMACValidator) Validate(source string, headers http.Header, body []byte) (time.Time, error) {
	src, configured := v.cfg.Sources[source]
	if !configured || src.Secret == "" {
		if v.cfg.RequireSignature {
			return time.Time{}, errors.ErrValidation.WithDetail("message",
				fmt.Sprintf("source %q has no signing secret configured", source))
		}
		return headerTimestamp(headers), nil
	}

	header := src.SignatureHeader
	if header == "" {
		header = constants.HeaderSignature
	}

	signature := headers.Get(header)
	if signature == "" {
		return time.Time{}, errors.ErrValidation.WithDetail("message",
			fmt.Sprintf("missing %s header", header))
	}

	if !delivery.VerifySignature(src.Secret, body, signature) {
		return time.Time{}, errors.ErrValidation.WithDetail("message", "invalid webhook signature")
	}

	return headerTimestamp(headers), nil
}

func headerTimestamp(headers http.Header) time.Time {
	raw := headers.Get(constants.HeaderTimestamp)
	if raw == "" {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
