// Package presence keeps the shared roster for presence channels in Redis.
//
// Membership is a per-(channel,user_id) reference count: a user_id with N
// live sockets subscribed to a presence channel holds the count at N; the
// count only reaches zero, and the user_id leaves the roster, when the last
// socket unsubscribes. The increment/decrement and the resulting
// newly-added/last-removed decision must be a single atomic operation against
// Redis or two nodes racing to join/leave the same user_id can desynchronize
// the roster (spec invariant: the roster contains user_id iff at least one
// live connection anywhere holds it). Both operations are Lua scripts run
// with EVALSHA/EVAL, mirroring the "single transactional script" design note.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "pulsehub:presence:"
	// ttl is refreshed on every mutation so a crashed node's roster entries
	// eventually expire instead of leaking forever.
	ttl = 24 * time.Hour
)

// Member is one entry of a presence channel's roster.
type Member struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

// JoinResult reports whether a join newly added the user_id to the roster.
type JoinResult struct {
	Added    bool
	Snapshot []Member
}

// Store is a Redis-backed presence roster client satisfying C2.
type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func countKey(channel string) string  { return keyPrefix + channel + ":count" }
func memberKey(channel string) string { return keyPrefix + channel + ":members" }

// joinScript atomically increments the per-user_id socket count; when the
// count transitions 0->1 it also stores user_info and returns 1 (newly
// added), otherwise it returns 0 (already present).
var joinScript = redis.NewScript(`
local count_key = KEYS[1]
local member_key = KEYS[2]
local user_id = ARGV[1]
local user_info = ARGV[2]
local ttl = ARGV[3]

local n = redis.call("HINCRBY", count_key, user_id, 1)
redis.call("EXPIRE", count_key, ttl)
if n == 1 then
	redis.call("HSET", member_key, user_id, user_info)
	redis.call("EXPIRE", member_key, ttl)
	return 1
end
return 0
`)

// leaveScript atomically decrements the per-user_id socket count; when it
// transitions to 0 (or below, defensively) it removes the count and member
// entries and returns 1 if a member entry was actually removed (the last
// socket left); it returns 0 when the user_id is still held elsewhere or was
// never in the roster.
var leaveScript = redis.NewScript(`
local count_key = KEYS[1]
local member_key = KEYS[2]
local user_id = ARGV[1]
local ttl = ARGV[3]

local n = redis.call("HINCRBY", count_key, user_id, -1)
redis.call("EXPIRE", count_key, ttl)
if n <= 0 then
	redis.call("HDEL", count_key, user_id)
	local removed = redis.call("HDEL", member_key, user_id)
	redis.call("EXPIRE", member_key, ttl)
	return removed
end
return 0
`)

// Join atomically records this socket's hold on userID in channel's roster.
// The returned snapshot always reflects the roster after the join.
func (s *Store) Join(ctx context.Context, channel, userID string, userInfo json.RawMessage) (JoinResult, error) {
	if userInfo == nil {
		userInfo = json.RawMessage("null")
	}
	added, err := joinScript.Run(ctx, s.rdb,
		[]string{countKey(channel), memberKey(channel)},
		userID, string(userInfo), int(ttl.Seconds()),
	).Int()
	if err != nil {
		return JoinResult{}, fmt.Errorf("presence: join %s/%s: %w", channel, userID, err)
	}

	snapshot, err := s.Roster(ctx, channel)
	if err != nil {
		return JoinResult{}, err
	}
	return JoinResult{Added: added == 1, Snapshot: snapshot}, nil
}

// Leave atomically removes this socket's hold on userID. It returns true
// only when this was the last socket holding userID in channel.
func (s *Store) Leave(ctx context.Context, channel, userID string) (removed bool, err error) {
	n, err := leaveScript.Run(ctx, s.rdb,
		[]string{countKey(channel), memberKey(channel)},
		userID, "", int(ttl.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("presence: leave %s/%s: %w", channel, userID, err)
	}
	return n == 1, nil
}

// Roster lists every user_id currently present in channel.
func (s *Store) Roster(ctx context.Context, channel string) ([]Member, error) {
	raw, err := s.rdb.HGetAll(ctx, memberKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: roster %s: %w", channel, err)
	}
	members := make([]Member, 0, len(raw))
	for userID, info := range raw {
		m := Member{UserID: userID}
		if info != "" && info != "null" {
			m.UserInfo = json.RawMessage(info)
		}
		members = append(members, m)
	}
	return members, nil
}

// LeaveBestEffort calls Leave and logs, rather than returning, any error. It
// is used on connection teardown where the socket is already gone and the
// caller cannot retry; the shared roster's TTL is the eventual backstop.
func (s *Store) LeaveBestEffort(ctx context.Context, channel, userID string) bool {
	removed, err := s.Leave(ctx, channel, userID)
	if err != nil {
		slog.Warn("presence leave failed, relying on TTL expiry", "channel", channel, "user_id", userID, "error", err)
		return false
	}
	return removed
}
