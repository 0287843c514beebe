package app

// StopReason records why the app shut down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFinished   StopReason = "finished"
	StopFatalError StopReason = "fatal_error"
)
