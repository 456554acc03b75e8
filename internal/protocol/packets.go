// Package protocol implements the Bancho binary protocol: the primitive
// codec, packet framing, and the builders for every packet the server
// sends. All integers are little-endian.
package protocol

import "fmt"

// PacketType identifies the payload layout of a frame.
type PacketType uint16

// Packets sent by the client.
const (
	ClientChangeAction        PacketType = 0
	ClientSendPublicMessage   PacketType = 1
	ClientLogout              PacketType = 2
	ClientRequestStatusUpdate PacketType = 3
	ClientPing                PacketType = 4
	ClientSendPrivateMessage  PacketType = 25
	ClientPartLobby           PacketType = 29
	ClientJoinLobby           PacketType = 30
	ClientCreateMatch         PacketType = 31
	ClientJoinMatch           PacketType = 32
	ClientPartMatch           PacketType = 33
	ClientMatchReady          PacketType = 39
	ClientMatchStart          PacketType = 44
	ClientMatchComplete       PacketType = 49
	ClientMatchNotReady       PacketType = 55
	ClientChannelJoin         PacketType = 63
	ClientFriendAdd           PacketType = 73
	ClientFriendRemove        PacketType = 74
	ClientChannelPart         PacketType = 78
	ClientUserStatsRequest    PacketType = 85
	ClientUserPresenceRequest PacketType = 97
)

// Packets sent by the server.
const (
	ServerLoginReply             PacketType = 5
	ServerSendMessage            PacketType = 7
	ServerPong                   PacketType = 8
	ServerUserStats              PacketType = 11
	ServerUserQuit               PacketType = 12
	ServerNotification           PacketType = 24
	ServerUpdateMatch            PacketType = 26
	ServerNewMatch               PacketType = 27
	ServerDisposeMatch           PacketType = 28
	ServerMatchJoinSuccess       PacketType = 36
	ServerMatchJoinFail          PacketType = 37
	ServerMatchStart             PacketType = 46
	ServerMatchComplete          PacketType = 58
	ServerChannelJoinSuccess     PacketType = 64
	ServerChannelAvailable       PacketType = 65
	ServerChannelRevoked         PacketType = 66
	ServerUserPermissions        PacketType = 71
	ServerFriendsList            PacketType = 72
	ServerProtocolVersion        PacketType = 75
	ServerUserPresence           PacketType = 83
	ServerRestart                PacketType = 86
	ServerChannelListingComplete PacketType = 89
)

var packetNames = map[PacketType]string{
	ClientChangeAction:           "client_change_action",
	ClientSendPublicMessage:      "client_send_public_message",
	ClientLogout:                 "client_logout",
	ClientRequestStatusUpdate:    "client_request_status_update",
	ClientPing:                   "client_ping",
	ClientSendPrivateMessage:     "client_send_private_message",
	ClientPartLobby:              "client_part_lobby",
	ClientJoinLobby:              "client_join_lobby",
	ClientCreateMatch:            "client_create_match",
	ClientJoinMatch:              "client_join_match",
	ClientPartMatch:              "client_part_match",
	ClientMatchReady:             "client_match_ready",
	ClientMatchStart:             "client_match_start",
	ClientMatchComplete:          "client_match_complete",
	ClientMatchNotReady:          "client_match_not_ready",
	ClientChannelJoin:            "client_channel_join",
	ClientFriendAdd:              "client_friend_add",
	ClientFriendRemove:           "client_friend_remove",
	ClientChannelPart:            "client_channel_part",
	ClientUserStatsRequest:       "client_user_stats_request",
	ClientUserPresenceRequest:    "client_user_presence_request",
	ServerLoginReply:             "server_login_reply",
	ServerSendMessage:            "server_send_message",
	ServerPong:                   "server_pong",
	ServerUserStats:              "server_user_stats",
	ServerUserQuit:               "server_user_quit",
	ServerNotification:           "server_notification",
	ServerUpdateMatch:            "server_update_match",
	ServerNewMatch:               "server_new_match",
	ServerDisposeMatch:           "server_dispose_match",
	ServerMatchJoinSuccess:       "server_match_join_success",
	ServerMatchJoinFail:          "server_match_join_fail",
	ServerMatchStart:             "server_match_start",
	ServerMatchComplete:          "server_match_complete",
	ServerChannelJoinSuccess:     "server_channel_join_success",
	ServerChannelAvailable:       "server_channel_available",
	ServerChannelRevoked:         "server_channel_revoked",
	ServerUserPermissions:        "server_user_permissions",
	ServerFriendsList:            "server_friends_list",
	ServerProtocolVersion:        "server_protocol_version",
	ServerUserPresence:           "server_user_presence",
	ServerRestart:                "server_restart",
	ServerChannelListingComplete: "server_channel_listing_complete",
}

// String returns a readable packet name for logging.
func (t PacketType) String() string {
	if name, ok := packetNames[t]; ok {
		return name
	}
	return fmt.Sprintf("packet(%d)", uint16(t))
}

// Frame layout constants.
const (
	// FrameHeaderSize is type (2) + compression marker (1) + length (4).
	FrameHeaderSize = 7

	// MaxPayloadSize bounds a single frame payload.
	MaxPayloadSize = 1 << 20
)

// Packet is a typed payload. Inbound packets are produced by ReadFrames;
// outbound packets are produced by the builders in layouts.go.
type Packet struct {
	Type    PacketType
	Payload []byte
}

// Reader returns a codec reader positioned at the start of the payload.
func (p Packet) Reader() *Reader {
	return NewReader(p.Payload)
}

// Login reply codes. A successful login replies with the user id instead.
const (
	LoginFailed         int32 = -1
	LoginOutdatedClient int32 = -2
	LoginBanned         int32 = -3
	LoginMultiAccount   int32 = -4
	LoginServerError    int32 = -5
	LoginSupporterOnly  int32 = -6
	LoginPasswordReset  int32 = -7
	LoginVerifyRequired int32 = -8
)

// DefaultProtocolVersion is the bancho protocol version announced at login.
const DefaultProtocolVersion int32 = 19
