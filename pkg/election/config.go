package election

import "time"

// Config holds the tunables this package consumes. AppointedLeaderID is
// nullable: nil means no statically preconfigured leader.
type Config struct {
	StatusInterval          time.Duration
	LeaderHeartbeatInterval time.Duration
	ElectionTimeout         time.Duration
	StartupStatusTimeout    time.Duration
	AppointedLeaderID       *int32
	LogChannel              string
	Random                  RandomSource
}

// DefaultConfig returns reasonable defaults: short enough for tests, sane
// for a demo binary driven by cmd/electiond.
func DefaultConfig() Config {
	return Config{
		StatusInterval:          100 * time.Millisecond,
		LeaderHeartbeatInterval: 50 * time.Millisecond,
		ElectionTimeout:         1000 * time.Millisecond,
		StartupStatusTimeout:    5000 * time.Millisecond,
		LogChannel:              "log://%s/%d",
	}
}
