package state

// Trigger represents an event that causes a state transition.
type Trigger string

const (
	// TriggerConnect starts (or restarts) a connect attempt.
	TriggerConnect Trigger = "connect"
	// TriggerOpen marks the transport link as established.
	TriggerOpen Trigger = "open"
	// TriggerRetry records a close that will be followed by a reconnect.
	TriggerRetry Trigger = "retry"
	// TriggerHalt records a close with no reconnect scheduled.
	TriggerHalt Trigger = "halt"
	// TriggerFail records an unrecoverable connect error.
	TriggerFail Trigger = "fail"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
