package admin

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("admin: not found")

// Repository is the single gorm.DB-backed data access surface for both C8's
// guard (read path) and cmd/monitortail's consumer (write path).
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByKey looks up the domain owning an API key. It returns ErrNotFound
// for an unknown or inactive key, collapsing both into the single 401 case
// C8 requires.
func (r *Repository) FindByKey(ctx context.Context, key string) (Domain, error) {
	var d Domain
	err := r.db.WithContext(ctx).
		Where("key = ? AND is_active = ?", key, true).
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Domain{}, ErrNotFound
	}
	if err != nil {
		return Domain{}, err
	}
	return d, nil
}

// EnsureChannel records that domainID has been seen using a channel name,
// creating the row on first sight and returning its ID either way.
func (r *Repository) EnsureChannel(ctx context.Context, domainID, name string) (string, error) {
	var ch Channel
	err := r.db.WithContext(ctx).
		Where("domain_id = ? AND name = ?", domainID, name).
		First(&ch).Error
	if err == nil {
		return ch.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	ch = Channel{Name: name, DomainID: domainID}
	if err := r.db.WithContext(ctx).Create(&ch).Error; err != nil {
		return "", err
	}
	return ch.ID, nil
}

// InsertWSConnection records a new socket's channel membership becoming
// active, the row cmd/monitortail writes in response to a subscribe
// monitoring event.
func (r *Repository) InsertWSConnection(ctx context.Context, domainID, channelID, channelName, socketID string, connectedUser *string) error {
	row := WSConnection{
		DomainID:      domainID,
		ChannelName:   channelName,
		SocketID:      socketID,
		ConnectedUser: connectedUser,
		ConnectedAt:   time.Now(),
		Status:        "connected",
	}
	if channelID != "" {
		row.ChannelID = &channelID
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// MarkDisconnected closes every still-open row for socketID, used on a full
// socket disconnect (every channel it held ends at once).
func (r *Repository) MarkDisconnected(ctx context.Context, socketID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&WSConnection{}).
		Where("socket_id = ? AND status = ?", socketID, "connected").
		Updates(map[string]interface{}{"status": "disconnected", "disconnected_at": now}).Error
}

// MarkDisconnectedByChannel closes the row for one (socket_id, channel_name)
// pair, used on a per-channel unsubscribe that leaves the socket otherwise
// open.
func (r *Repository) MarkDisconnectedByChannel(ctx context.Context, socketID, channelName string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&WSConnection{}).
		Where("socket_id = ? AND channel_name = ? AND status = ?", socketID, channelName, "connected").
		Updates(map[string]interface{}{"status": "disconnected", "disconnected_at": now}).Error
}
