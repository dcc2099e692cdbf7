package dispatch

// Channel is an external delivery destination selected by the evaluation outcome.
type Channel string

const (
	ChannelAlert Channel = "alert"
	ChannelClean Channel = "clean"
)

func (c Channel) String() string { return string(c) }
