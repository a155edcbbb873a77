package models

// ChannelType names a messaging platform family.
type ChannelType string

const (
	ChannelSlack    ChannelType = "slack"
	ChannelDiscord  ChannelType = "discord"
	ChannelTelegram ChannelType = "telegram"
	ChannelMatrix   ChannelType = "matrix"
	ChannelTeams    ChannelType = "teams"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelWebhook  ChannelType = "webhook"
	ChannelWebchat  ChannelType = "webchat"
)

// InboundMessage is the normalized shape every channel plugin hands to the
// dock. Content has already been wrapped as external content; Metadata must
// carry at least the "sessionKey" entry by the time the processor runs.
type InboundMessage struct {
	Channel    ChannelType    `json:"channel"`
	ChannelID  string         `json:"channel_id"`
	SenderID   string         `json:"sender_id"`
	SenderName string         `json:"sender_name,omitempty"`
	Content    string         `json:"content"`
	ThreadID   string         `json:"thread_id,omitempty"`
	Timestamp  int64          `json:"timestamp"` // unix milliseconds
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SessionKey returns the conversation key attached by the channel plugin,
// or "" when absent.
func (m *InboundMessage) SessionKey() string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	key, _ := m.Metadata["sessionKey"].(string)
	return key
}

// OutboundMessage is a reply routed back to a channel id.
type OutboundMessage struct {
	Content  string `json:"content"`
	ThreadID string `json:"thread_id,omitempty"`
}

// ChannelStatus is the synchronous snapshot a plugin reports.
type ChannelStatus struct {
	Connected      bool   `json:"connected"`
	ConnectedSince int64  `json:"connected_since,omitempty"` // unix milliseconds
	Error          string `json:"error,omitempty"`
}
