package transport

// DropReason records why a payload never reached the collector. Drops are
// never surfaced to the host page; they only show up in debug logs.
type DropReason string

const (
	// ReasonQueueOverflow indicates the delivery queue was full.
	ReasonQueueOverflow DropReason = "queue_overflow"

	// ReasonQueueStopped indicates the payload arrived after the queue stopped.
	ReasonQueueStopped DropReason = "queue_stopped"

	// ReasonNetworkError indicates the request failed before a response arrived.
	ReasonNetworkError DropReason = "network_error"

	// ReasonSendError indicates the collector answered with a non-2xx status.
	ReasonSendError DropReason = "send_error"

	// ReasonInvalidEvent indicates an event name failed validation.
	ReasonInvalidEvent DropReason = "invalid_event"

	// ReasonRateLimited indicates the error rate limiter rejected the report.
	ReasonRateLimited DropReason = "ratelimit"

	// ReasonDuplicate indicates an identical error was reported recently.
	ReasonDuplicate DropReason = "duplicate"

	// ReasonOutOfRange indicates a page-view duration outside the reportable bounds.
	ReasonOutOfRange DropReason = "out_of_range"

	// ReasonNotSent indicates a page view was superseded before its send fired.
	ReasonNotSent DropReason = "not_sent"
)

// reasonFor classifies a delivery error.
func reasonFor(err error) DropReason {
	if _, ok := err.(*StatusError); ok {
		return ReasonSendError
	}
	return ReasonNetworkError
}
