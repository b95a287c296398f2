package realtime

import "encoding/json"

// Client -> server event names.
const (
	eventSubscribe   = "subscribe"
	eventUnsubscribe = "unsubscribe"
	eventPing        = "ping"
)

// Server -> client event names.
const (
	EventConnectionEstablished = "connection_established"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventMemberAdded           = "pusher_internal:member_added"
	EventMemberRemoved         = "pusher_internal:member_removed"
	EventPong                  = "pusher:pong"
	EventError                 = "pusher:error"
)

// Error codes carried in pusher:error frames.
const (
	CodeBadFrame     = 4001
	CodeAuthFailed   = 4009
	CodeSlowConsumer = 4201
)

// inboundFrame is the generic shape of any client->server frame before its
// event-specific data is parsed.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type subscribeData struct {
	Channel     string          `json:"channel"`
	Auth        string          `json:"auth,omitempty"`
	ChannelData json.RawMessage `json:"channel_data,omitempty"`
}

type unsubscribeData struct {
	Channel string `json:"channel"`
}

// channelDataPayload is what a presence subscribe's channel_data must parse
// as: a required user_id and an opaque, optional user_info.
type channelDataPayload struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

// outboundFrame is the generic shape of any server->client frame.
type outboundFrame struct {
	Event   string      `json:"event"`
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data"`
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every outbound frame is built from values we construct ourselves;
		// a marshal failure here means a programming error, not bad input.
		panic("realtime: failed to marshal outbound frame: " + err.Error())
	}
	return b
}

func connectionEstablishedFrame(socketID string, activityTimeoutSeconds int) []byte {
	return mustMarshal(outboundFrame{
		Event: EventConnectionEstablished,
		Data: map[string]interface{}{
			"socket_id":        socketID,
			"activity_timeout": activityTimeoutSeconds,
		},
	})
}

func subscriptionSucceededFrame(channel string, data interface{}) []byte {
	if data == nil {
		data = map[string]interface{}{}
	}
	return mustMarshal(outboundFrame{
		Event:   EventSubscriptionSucceeded,
		Channel: channel,
		Data:    data,
	})
}

func memberPayload(userID string, userInfo json.RawMessage) map[string]interface{} {
	m := map[string]interface{}{"user_id": userID}
	if len(userInfo) > 0 {
		m["user_info"] = json.RawMessage(userInfo)
	}
	return m
}

func pongFrame() []byte {
	return mustMarshal(outboundFrame{Event: EventPong, Data: map[string]interface{}{}})
}

func errorFrame(code int, message string) []byte {
	return mustMarshal(outboundFrame{
		Event: EventError,
		Data: map[string]interface{}{
			"message": message,
			"code":    code,
		},
	})
}
