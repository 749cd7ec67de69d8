package models

// CompanyConfig holds site-wide settings owned by the admin screens.
type CompanyConfig struct {
	ID                    uint   `gorm:"primaryKey;autoIncrement"`
	CompanyName           string `gorm:"size:128"`
	Timezone              string `gorm:"size:64"`
	SLAThreshold          int
	WrapupTime            int
	AlertsEnabled         bool
	QuietHoursEnabled     bool
	QuietHoursStart       string `gorm:"size:8"`
	QuietHoursEnd         string `gorm:"size:8"`
	RepeatCallerDays      int
	RepeatCallerThreshold int
}

// TableName keeps the config table singular.
func (CompanyConfig) TableName() string { return "company_config" }

// AMIConfig is the manager-interface login stored by the admin screens.
type AMIConfig struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	AMIHost     string `gorm:"column:ami_host;size:255"`
	AMIPort     int    `gorm:"column:ami_port"`
	AMIUsername string `gorm:"column:ami_username;size:64"`
	AMIPassword string `gorm:"column:ami_password;size:255"`
	IsActive    bool
}

// TableName keeps the config table singular.
func (AMIConfig) TableName() string { return "ami_config" }

// SMTPConfig is the outgoing mail server for alert email.
type SMTPConfig struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	SMTPHost       string `gorm:"column:smtp_host;size:255"`
	SMTPPort       int    `gorm:"column:smtp_port"`
	SMTPUsername   string `gorm:"column:smtp_username;size:128"`
	SMTPPassword   string `gorm:"column:smtp_password;size:255"`
	SMTPEncryption string `gorm:"column:smtp_encryption;size:8"`
	FromAddress    string `gorm:"size:255"`
	FromName       string `gorm:"size:128"`
	IsConfigured   bool
}

// TableName keeps the config table singular.
func (SMTPConfig) TableName() string { return "smtp_config" }

// AlertRecipient receives alert email and/or SMS.
type AlertRecipient struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	Name          string `gorm:"size:128"`
	Email         string `gorm:"size:255"`
	Phone         string `gorm:"size:32"`
	ReceivesEmail bool
	ReceivesSMS   bool `gorm:"column:receives_sms"`
	IsActive      bool
}

// Webhook types.
const (
	WebhookSlack   = "slack"
	WebhookTeams   = "teams"
	WebhookDiscord = "discord"
)

// WebhookConfig is a chat webhook that receives alerts.
type WebhookConfig struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	WebhookType string `gorm:"size:16;not null"`
	WebhookName string `gorm:"size:128"`
	WebhookURL  string `gorm:"column:webhook_url;type:text"`
	ChannelName string `gorm:"size:128"`
	IsActive    bool
}

// TableName keeps the config table singular.
func (WebhookConfig) TableName() string { return "webhook_config" }
