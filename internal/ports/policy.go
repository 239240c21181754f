package ports

import "time"

type Policy struct {
	ToolOffsetInterval time.Duration
	FeedrateInterval   time.Duration
	ToolInUseInterval  time.Duration

	HistoryWindow time.Duration
	Retention     time.Duration // 0 keeps samples forever

	OutboxSize   int
	WriteTimeout time.Duration
}
