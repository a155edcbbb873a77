package channels

import (
	"fmt"
	"strings"

	"github.com/hayahq/haya/pkg/models"
)

// Session-key derivation. The key uniquely identifies one conversation
// within a channel family; after sanitization it becomes the session file
// name. Raw platform ids survive into the key on purpose — the session
// store's strict id charset is the final defense.

// SlackDMKey keys a Slack direct message by user.
func SlackDMKey(userID string) string { return "slack:dm:" + userID }

// SlackThreadKey keys a Slack channel conversation by channel and thread.
func SlackThreadKey(channelID, threadTS string) string {
	return fmt.Sprintf("slack:channel:%s:%s", channelID, threadTS)
}

// DiscordDMKey keys a Discord DM by user.
func DiscordDMKey(userID string) string { return "discord:dm:" + userID }

// DiscordChannelKey keys a Discord guild conversation by channel.
func DiscordChannelKey(channelID string) string { return "discord:channel:" + channelID }

// TelegramDMKey keys a Telegram private chat.
func TelegramDMKey(chatID string) string { return "telegram:dm:" + chatID }

// TelegramGroupKey keys a Telegram group chat.
func TelegramGroupKey(chatID string) string { return "telegram:chat:" + chatID }

// MatrixDMKey keys a Matrix direct conversation by sender.
func MatrixDMKey(senderID string) string { return "matrix:dm:" + senderID }

// MatrixRoomKey keys a Matrix room.
func MatrixRoomKey(roomID string) string { return "matrix:room:" + roomID }

// TeamsDMKey keys a Teams personal chat by user.
func TeamsDMKey(userID string) string { return "teams:dm:" + userID }

// TeamsChannelKey keys a Teams channel conversation.
func TeamsChannelKey(conversationID string) string { return "teams:channel:" + conversationID }

// WhatsAppKey keys a WhatsApp conversation; WhatsApp is DM-only here.
func WhatsAppKey(userID string) string { return "whatsapp:dm:" + userID }

// WebhookKey keys a webhook source by its configured name.
func WebhookKey(sourceName string) string { return "webhook:" + sourceName }

// WebchatKey keys an embedded web-chat client by its 16-byte hex id.
func WebchatKey(id string) string { return "webchat:" + id }

// DefaultKey is the fallback when a plugin did not attach a key.
func DefaultKey(channel models.ChannelType, channelID string) string {
	return fmt.Sprintf("%s:%s", channel, channelID)
}

// SessionFileName maps a session key to a session-store id: colons become
// dashes, and any other byte outside the store's [A-Za-z0-9_-] charset is
// hex-escaped. Platform ids carry `!`, `@`, and `.` (Matrix room ids,
// WhatsApp JIDs, Teams chat ids); derivation must always yield an id the
// store accepts, with the store's strict charset kept as the final
// path-traversal defense.
func SessionFileName(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == ':':
			b.WriteByte('-')
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}
