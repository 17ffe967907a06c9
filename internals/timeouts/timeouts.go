package timeouts

import "time"

const (
	Probe         = 300 * time.Millisecond
	SecondShort   = 2 * time.Second
	SecondDefault = 10 * time.Second
	SecondLong    = 30 * time.Second

	// Upstream lifecycle pacing.
	ReconnectAfterClose = 5 * time.Second
	ReconnectAfterError = 3 * time.Second
	DialRetry           = 5 * time.Second
	HistoryPoll         = 1 * time.Second
	SettleSample        = 500 * time.Millisecond
	SettlePacing        = 200 * time.Millisecond
)
