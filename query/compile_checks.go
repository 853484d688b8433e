package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-relay/core"
)

var (
	_ gocmd.Querier[GetBreakerStateMessage, core.BreakerState]       = (*GetBreakerStateQuery)(nil)
	_ gocmd.Querier[ListDeadLettersMessage, []core.DeadLetterEntry]  = (*ListDeadLettersQuery)(nil)
	_ gocmd.Querier[GetDeadLetterMessage, core.DeadLetterEntry]      = (*GetDeadLetterQuery)(nil)
	_ gocmd.Querier[CheckIdempotencyMessage, core.IdempotencyRecord] = (*CheckIdempotencyQuery)(nil)
)
