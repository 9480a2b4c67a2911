// Package models defines the shared entity types persisted by the store and
// exchanged between the gateway, channel adapters, and the agent runtime.
package models

// ChannelType identifies a messenger family.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelSlack    ChannelType = "slack"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelWeb      ChannelType = "web"
	ChannelCLI      ChannelType = "cli"
)

// Valid reports whether the channel tag is one of the known families.
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelTelegram, ChannelSlack, ChannelWhatsApp, ChannelWeb, ChannelCLI:
		return true
	}
	return false
}
