package bus

// InboundMessage is a user utterance arriving from a transport.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	SessionKey string            `json:"session_key"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundKind tells transports how to render an outbound message.
type OutboundKind string

const (
	OutboundUtterance OutboundKind = "utterance"
	OutboundAction    OutboundKind = "action"
	OutboundNotice    OutboundKind = "notice"
)

// OutboundMessage is produced by the gateway for a transport to deliver.
type OutboundMessage struct {
	Channel   string            `json:"channel"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Kind      OutboundKind      `json:"kind,omitempty"`
	EpisodeID string            `json:"episode_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
