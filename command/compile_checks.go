package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[DispatchEventMessage]         = (*DispatchEventCommand)(nil)
	_ gocmd.Commander[RetryDeadLetterMessage]       = (*RetryDeadLetterCommand)(nil)
	_ gocmd.Commander[ResolveDeadLetterMessage]     = (*ResolveDeadLetterCommand)(nil)
	_ gocmd.Commander[ResurrectDeadLetterMessage]   = (*ResurrectDeadLetterCommand)(nil)
	_ gocmd.Commander[RunPendingDeadLettersMessage] = (*RunPendingDeadLettersCommand)(nil)
	_ gocmd.Commander[TripBreakerMessage]           = (*TripBreakerCommand)(nil)
	_ gocmd.Commander[ResetBreakerMessage]          = (*ResetBreakerCommand)(nil)
)
