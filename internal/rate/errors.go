package rate

import "errors"

// ErrRedisUnavailable reports a failed counter read or write.
var ErrRedisUnavailable = errors.New("redis unavailable")
