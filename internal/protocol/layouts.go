package protocol

import "github.com/yume-project/yume/internal/osu"

// UserPresenceData is the identity block peers see for a user.
type UserPresenceData struct {
	UserID      int32
	Username    string
	Timezone    int8
	CountryCode byte
	Permissions osu.ClientPermissions
	Longitude   float32
	Latitude    float32
	Rank        int32
}

// UserStatsData is the status and stat block peers see for a user.
type UserStatsData struct {
	UserID          int32
	Action          osu.ActionStatus
	ActionText      string
	BeatmapChecksum string
	Mods            osu.Mods
	Mode            osu.PlayMode
	BeatmapID       int32
	RankedScore     int64
	Accuracy        float32 // fraction in [0, 1]
	PlayCount       int32
	TotalScore      int64
	Rank            int32
	Performance     int32
}

// Message is a chat message, both as sent by clients and as relayed.
type Message struct {
	Sender   string
	Content  string
	Target   string
	SenderID int32
}

// ProtocolVersion announces the bancho protocol version.
func ProtocolVersion(version int32) Packet {
	return NewWriter().WriteInt32(version).Packet(ServerProtocolVersion)
}

// LoginReply carries the user id on success or a negative Login* code.
func LoginReply(code int32) Packet {
	return NewWriter().WriteInt32(code).Packet(ServerLoginReply)
}

// UserPermissions tells the client which permission tier to display.
func UserPermissions(perms osu.ClientPermissions) Packet {
	return NewWriter().WriteInt32(int32(perms)).Packet(ServerUserPermissions)
}

// UserPresence describes a user's identity and location.
func UserPresence(d UserPresenceData) Packet {
	return NewWriter().
		WriteInt32(d.UserID).
		WriteString(d.Username).
		WriteByte(byte(d.Timezone + 24)).
		WriteByte(d.CountryCode).
		WriteByte(byte(d.Permissions)).
		WriteFloat32(d.Longitude).
		WriteFloat32(d.Latitude).
		WriteInt32(d.Rank).
		Packet(ServerUserPresence)
}

// UserStats describes a user's live status and stats for the current mode.
// Performance above the int16 range is sent as 0; the client shows ranked
// score instead in that case.
func UserStats(d UserStatsData) Packet {
	performance := d.Performance
	if performance > 32767 || performance < 0 {
		performance = 0
	}
	return NewWriter().
		WriteInt32(d.UserID).
		WriteByte(byte(d.Action)).
		WriteString(d.ActionText).
		WriteString(d.BeatmapChecksum).
		WriteUint32(uint32(d.Mods)).
		WriteByte(byte(d.Mode)).
		WriteInt32(d.BeatmapID).
		WriteInt64(d.RankedScore).
		WriteFloat32(d.Accuracy).
		WriteInt32(d.PlayCount).
		WriteInt64(d.TotalScore).
		WriteInt32(d.Rank).
		WriteInt16(int16(performance)).
		Packet(ServerUserStats)
}

// UserQuit notifies that a user went offline.
func UserQuit(userID int32) Packet {
	return NewWriter().WriteInt32(userID).WriteByte(0).Packet(ServerUserQuit)
}

// Notification shows a popup on the client.
func Notification(text string) Packet {
	return NewWriter().WriteString(text).Packet(ServerNotification)
}

// Pong answers a client ping.
func Pong() Packet {
	return Packet{Type: ServerPong}
}

// SendMessage relays a chat message.
func SendMessage(m Message) Packet {
	return NewWriter().
		WriteString(m.Sender).
		WriteString(m.Content).
		WriteString(m.Target).
		WriteInt32(m.SenderID).
		Packet(ServerSendMessage)
}

// ChannelAvailable lists one channel in the channel browser.
func ChannelAvailable(name, topic string, userCount int16) Packet {
	return NewWriter().
		WriteString(name).
		WriteString(topic).
		WriteInt16(userCount).
		Packet(ServerChannelAvailable)
}

// ChannelJoinSuccess confirms a channel join.
func ChannelJoinSuccess(name string) Packet {
	return NewWriter().WriteString(name).Packet(ServerChannelJoinSuccess)
}

// ChannelRevoked removes a channel tab from the client.
func ChannelRevoked(name string) Packet {
	return NewWriter().WriteString(name).Packet(ServerChannelRevoked)
}

// ChannelListingComplete terminates the channel listing.
func ChannelListingComplete() Packet {
	return NewWriter().WriteInt32(0).Packet(ServerChannelListingComplete)
}

// FriendsList sends the ids of the user's friends.
func FriendsList(ids []int32) Packet {
	return NewWriter().WriteInt32List(ids).Packet(ServerFriendsList)
}

// Restart asks clients to reconnect after the given delay in milliseconds.
func Restart(delayMs int32) Packet {
	return NewWriter().WriteInt32(delayMs).Packet(ServerRestart)
}

// MatchJoinSuccess sends the joined match state to the joiner.
func MatchJoinSuccess(m MatchData) Packet {
	w := NewWriter()
	writeMatch(w, m)
	return w.Packet(ServerMatchJoinSuccess)
}

// MatchJoinFail tells the client the join was refused.
func MatchJoinFail() Packet {
	return Packet{Type: ServerMatchJoinFail}
}

// MatchUpdate broadcasts a changed match state to its members.
func MatchUpdate(m MatchData) Packet {
	w := NewWriter()
	writeMatch(w, m)
	return w.Packet(ServerUpdateMatch)
}

// NewMatch announces a created match to the lobby.
func NewMatch(m MatchData) Packet {
	w := NewWriter()
	writeMatch(w, m)
	return w.Packet(ServerNewMatch)
}

// MatchStart tells the members that gameplay begins.
func MatchStart(m MatchData) Packet {
	w := NewWriter()
	writeMatch(w, m)
	return w.Packet(ServerMatchStart)
}

// MatchComplete tells the members that every player finished.
func MatchComplete() Packet {
	return Packet{Type: ServerMatchComplete}
}

// MatchDisband removes a match from lobby listings.
func MatchDisband(matchID int32) Packet {
	return NewWriter().WriteInt32(matchID).Packet(ServerDisposeMatch)
}

// ReadMessage decodes a chat message payload.
func ReadMessage(r *Reader) (Message, error) {
	var (
		m   Message
		err error
	)
	if m.Sender, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Content, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Target, err = r.ReadString(); err != nil {
		return m, err
	}
	m.SenderID, err = r.ReadInt32()
	return m, err
}

// StatusUpdate is the payload of a client change-action packet.
type StatusUpdate struct {
	Action          osu.ActionStatus
	ActionText      string
	BeatmapChecksum string
	Mods            osu.Mods
	Mode            osu.PlayMode
	BeatmapID       int32
}

// ReadStatusUpdate decodes a change-action payload.
func ReadStatusUpdate(r *Reader) (StatusUpdate, error) {
	var s StatusUpdate

	action, err := r.ReadByte()
	if err != nil {
		return s, err
	}
	s.Action = osu.ActionStatus(action)

	if s.ActionText, err = r.ReadString(); err != nil {
		return s, err
	}
	if s.BeatmapChecksum, err = r.ReadString(); err != nil {
		return s, err
	}

	mods, err := r.ReadUint32()
	if err != nil {
		return s, err
	}
	s.Mods = osu.Mods(mods)

	mode, err := r.ReadByte()
	if err != nil {
		return s, err
	}
	s.Mode = osu.PlayMode(mode)

	s.BeatmapID, err = r.ReadInt32()
	return s, err
}
