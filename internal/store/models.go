package store

import "time"

const settingsType = "app_settings"

type User struct {
	ID           string    `db:"id"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	IsAdmin      bool      `db:"is_admin"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
	LastLogin    time.Time `db:"last_login"`
}

// Settings is the single runtime record holding provider and object-store
// credentials.
type Settings struct {
	Type              string    `db:"type"`
	ResendAPIKey      string    `db:"resend_api_key"`
	SendFrom          string    `db:"send_from"`
	R2AccountID       string    `db:"r2_account_id"`
	R2AccessKeyID     string    `db:"r2_access_key_id"`
	R2SecretAccessKey string    `db:"r2_secret_access_key"`
	R2Bucket          string    `db:"r2_bucket"`
	R2PublicURL       string    `db:"r2_public_url"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

type Attachment struct {
	ID                 string `json:"id"`
	Filename           string `json:"filename"`
	ContentType        string `json:"content_type"`
	ContentDisposition string `json:"content_disposition,omitempty"`
	ContentID          string `json:"content_id,omitempty"`
}

type ReplyEntry struct {
	RepliedAt time.Time `json:"replied_at"`
	RepliedBy string    `json:"replied_by"`
	MessageID string    `json:"message_id"`
}

// Message is one stored email thread keyed by the provider's email id.
type Message struct {
	EmailID      string       `db:"email_id"`
	CreatedAt    time.Time    `db:"created_at"`
	From         string       `db:"from_addr"`
	To           StringList   `db:"to_addrs"`
	Cc           StringList   `db:"cc_addrs"`
	Bcc          StringList   `db:"bcc_addrs"`
	ReplyTo      StringList   `db:"reply_to"`
	Subject      string       `db:"subject"`
	HTML         string       `db:"html"`
	Text         string       `db:"text"`
	MessageID    string       `db:"message_id"`
	Headers      Headers      `db:"headers"`
	Attachments  Attachments  `db:"attachments"`
	IsRead       bool         `db:"is_read"`
	IsReplied    bool         `db:"is_replied"`
	ReceivedAt   time.Time    `db:"received_at"`
	ReplyHistory ReplyHistory `db:"reply_history"`
}

func (m Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// MessageFilter narrows ListMessages. Query matches from, subject or to
// case-insensitively; the remaining fields are ANDed together.
type MessageFilter struct {
	Query          string
	From           string
	Subject        string
	IsRead         *bool
	HasAttachments *bool
}
