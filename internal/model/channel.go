package model

import "time"

// ChannelState is a snapshot of one delivery channel's connectivity.
// It is owned by its channel; other components only read snapshots.
type ChannelState struct {
	Name              string
	Connected         bool
	BackoffMultiplier int
	LastSuccess       time.Time
	LastError         error
}
