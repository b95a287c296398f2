// Package channel classifies channel names and verifies Pusher-style
// HMAC subscription signatures.
package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Type is the closed set of channel kinds implied by a channel name's prefix.
type Type int

const (
	// Public channels require no authorization.
	Public Type = iota
	// Private channels require an HMAC signature of socket_id:channel.
	Private
	// Presence channels require an HMAC signature of socket_id:channel:channel_data
	// and maintain a shared roster.
	Presence
)

func (t Type) String() string {
	switch t {
	case Private:
		return "private"
	case Presence:
		return "presence"
	default:
		return "public"
	}
}

// IsPrivate reports whether the type requires subscription authorization.
func (t Type) IsPrivate() bool {
	return t == Private || t == Presence
}

// Classify derives a channel's type from its name prefix.
func Classify(name string) Type {
	switch {
	case strings.HasPrefix(name, "presence-"):
		return Presence
	case strings.HasPrefix(name, "private-"):
		return Private
	default:
		return Public
	}
}

// ErrAuthFailed covers every way a subscription signature can fail to verify:
// missing auth, malformed hex, or a MAC mismatch. Callers surface a single
// pusher:error 4009 regardless of which.
var ErrAuthFailed = errors.New("channel: auth failed")

// VerifyPrivate checks the HMAC-SHA256 signature over "socketID:channel".
func VerifyPrivate(secret, socketID, channel, authHex string) error {
	return verify(secret, authHex, socketID+":"+channel)
}

// VerifyPresence checks the HMAC-SHA256 signature over
// "socketID:channel:channelData". channelData must be the exact bytes the
// client sent, not a re-serialized form, since the client signs those bytes.
func VerifyPresence(secret, socketID, channel, channelData, authHex string) error {
	return verify(secret, authHex, socketID+":"+channel+":"+channelData)
}

func verify(secret, authHex, payload string) error {
	if authHex == "" {
		return ErrAuthFailed
	}
	given, err := hex.DecodeString(authHex)
	if err != nil {
		return ErrAuthFailed
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	expected := mac.Sum(nil)
	if !hmac.Equal(given, expected) {
		return ErrAuthFailed
	}
	return nil
}

// Sign produces the auth signature a client would send for the given
// socket/channel/channel_data triple. Used by tests and cmd/signtool; mirrors
// the original implementation's server-side signing helper.
func Sign(secret, socketID, channel, channelData string) string {
	payload := socketID + ":" + channel
	if Classify(channel) == Presence {
		payload += ":" + channelData
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
