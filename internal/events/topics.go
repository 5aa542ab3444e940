package events

const (
	// TopicMessage carries window message events.
	TopicMessage = "window.message"
)
