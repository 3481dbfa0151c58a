package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout     = 10 * time.Second
	DefaultDeliveryTimeout = 15 * time.Second
)

const (
	CacheKeyPrefixRateLimit = "ratelimit:"
	CacheKeyPrefixWindow    = "ratelimit:window:"
	CacheKeyPrefixBucket    = "ratelimit:bucket:"
	CacheKeyPrefixRetry     = "retry:"
)

const (
	DefaultDeliveriesTopic = "deliveries"
	DefaultDLQCollection   = "dead_letters"
	DefaultDLQPageSize     = 50
	MaxDLQPageSize         = 500
)

const (
	DefaultMongoDBName = "hookrelay"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit       = 100
	MaxLimit           = 1000
	DefaultTruncateLen = 100
)

const (
	DefaultRateLimit       = 100
	DefaultRateLimitWindow = time.Minute
	DefaultRetryAfter      = time.Minute
)

const (
	DefaultRetrySweepInterval = 5 * time.Second
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
	FallbackError = "error"
)

// Metadata keys written by the pipeline into EventData.Metadata.
const (
	MetadataKeyTargetAgent = "target_agent"
	MetadataKeyQueuedAt    = "queued_at"
	MetadataKeyTraceID     = "trace_id"
	MetadataKeyRouteID     = "route_id"
)

// Signature headers checked on inbound webhooks and attached to outbound pushes.
const (
	HeaderSignature = "X-Hookrelay-Signature"
	HeaderTimestamp = "X-Hookrelay-Timestamp"
	HeaderEventType = "X-Hookrelay-Event"
	HeaderDelivery  = "X-Hookrelay-Delivery"
)
