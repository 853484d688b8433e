package sqlstore

import "github.com/goliatone/go-relay/core"

var (
	_ core.IdempotencyRecordStore = (*IdempotencyStore)(nil)
	_ core.DeadLetterStore        = (*DeadLetterStore)(nil)
	_ core.BreakerStateStore      = (*BreakerStateStore)(nil)
	_ core.BreakerStateStore      = (*CachedBreakerStateStore)(nil)
)
