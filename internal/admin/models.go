// Package admin is the read-mostly store behind C8's origin and key guard:
// domains (one row per API key), the channels their sockets have been seen
// subscribing to, and a monitoring trail of socket connections. Modeled on
// original_source's domains/channels/ws_connections tables.
package admin

import "time"

// Domain is one registered application: a key, the origin it's allowed to
// connect from, and whether it's currently enabled.
type Domain struct {
	ID         string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID     string `gorm:"type:uuid;index"`
	DomainName string `gorm:"size:255;not null"`
	Key        string `gorm:"size:255;uniqueIndex;not null"`
	IsActive   bool   `gorm:"not null;default:true"`
	CreatedAt  time.Time
}

func (Domain) TableName() string { return "domains" }

// Channel records a channel name as it's first observed under a domain.
// Nothing in the core engine requires this row to exist; it exists purely
// so an operator can see what's being used per key.
type Channel struct {
	ID        string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name      string `gorm:"size:255;not null;uniqueIndex:idx_channel_domain"`
	DomainID  string `gorm:"type:uuid;not null;uniqueIndex:idx_channel_domain"`
	CreatedAt time.Time
}

func (Channel) TableName() string { return "channels" }

// WSConnection is one socket's monitoring row, written asynchronously off
// the Kafka pipeline (see internal/monitoring) and never read by the core
// engine itself.
type WSConnection struct {
	ID             string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ChannelID      *string `gorm:"type:uuid"`
	ChannelName    string  `gorm:"size:255;not null"`
	DomainID       string  `gorm:"type:uuid;not null;index"`
	SocketID       string  `gorm:"size:255;not null;index"`
	ConnectedUser  *string `gorm:"size:255"`
	ConnectedAt    time.Time
	DisconnectedAt *time.Time
	Status         string `gorm:"size:32;not null;default:connected"`
}

func (WSConnection) TableName() string { return "ws_connections" }
