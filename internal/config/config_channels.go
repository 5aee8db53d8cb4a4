package config

// ChannelsConfig holds the two supported channel adapters.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram" json:"telegram"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp" json:"whatsapp"`
}

// TelegramConfig configures the Telegram bot adapter.
type TelegramConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Token        string `yaml:"token" json:"-"`
	ChatID       string `yaml:"chat_id" json:"chat_id"` // the single principal's chat
	BootstrapKey string `yaml:"bootstrap_key,omitempty" json:"-"` // pairing code, accepted only while no chat is paired; the paired chat id is kept in memory, not written back
}

// WhatsAppConfig configures the WhatsApp bridge adapter.
type WhatsAppConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	BridgeURL    string `yaml:"bridge_url" json:"bridge_url"`
	ChatID       string `yaml:"chat_id" json:"chat_id"`
	BootstrapKey string `yaml:"bootstrap_key,omitempty" json:"-"`
}
