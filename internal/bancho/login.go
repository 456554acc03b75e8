package bancho

import (
	"context"

	"github.com/yume-project/yume/internal/presence"
	"github.com/yume-project/yume/internal/protocol"
)

// NoToken is the session token returned with a failed login.
const NoToken = "no"

// Login authenticates a plain-text login body and completes the bootstrap
// sequence. It returns the session token and the response body. A failed
// login gets the protocol version and a negative login reply.
func (t *Table) Login(ctx context.Context, body []byte) (string, []byte) {
	creds, err := presence.ParseCredentials(body)
	if err == nil {
		var p *presence.Presence
		if p, err = t.deps.Presences.Login(ctx, creds); err == nil {
			t.bootstrap(p)
			return p.Token, protocol.EncodePackets(t.deps.Presences.Drain(p)...)
		}
	}

	code := presence.LoginCode(err)
	t.logger.Info().Err(err).Str("username", creds.Username).Int32("code", code).Msg("login rejected")

	reply := []protocol.Packet{protocol.ProtocolVersion(t.deps.ProtocolVersion), protocol.LoginReply(code)}
	if code == protocol.LoginServerError {
		reply = append(reply, protocol.Notification("Login failed, please try again later."))
	}
	return NoToken, protocol.EncodePackets(reply...)
}

// bootstrap queues everything a fresh session needs after the login reply
// and introduces the newcomer to everyone online.
func (t *Table) bootstrap(p *presence.Presence) {
	p.Enqueue(t.deps.Channels.Listing()...)
	p.Enqueue(
		protocol.UserPermissions(p.Privileges.ClientPermissions()),
		protocol.FriendsList(p.Friends()),
	)

	self := []protocol.Packet{p.PresencePacket(), p.StatsPacket()}
	for _, other := range t.deps.Presences.All() {
		if other.ID == p.ID {
			continue
		}
		p.Enqueue(other.PresencePacket(), other.StatsPacket())
		other.Enqueue(self...)
	}
}
