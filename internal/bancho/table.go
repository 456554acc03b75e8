// Package bancho routes decoded client packets to their handlers and runs
// the login bootstrap.
package bancho

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/yume-project/yume/internal/channel"
	"github.com/yume-project/yume/internal/events"
	"github.com/yume-project/yume/internal/match"
	"github.com/yume-project/yume/internal/presence"
	"github.com/yume-project/yume/internal/protocol"
	"github.com/yume-project/yume/internal/util"
)

// HandlerFunc handles one packet for the presence that sent it.
type HandlerFunc func(ctx context.Context, pkt protocol.Packet, p *presence.Presence) error

// FriendStore persists friend lists.
type FriendStore interface {
	AddFriend(ctx context.Context, userID, friendID int32) error
	RemoveFriend(ctx context.Context, userID, friendID int32) error
}

// Deps are the process-wide services handlers act on.
type Deps struct {
	Presences *presence.Registry
	Channels  *channel.Manager
	Matches   *match.Manager
	Friends   FriendStore
	Bus       *events.Bus

	ProtocolVersion int32
}

// Table maps packet types to handlers. It is built once and only read
// afterwards.
type Table struct {
	deps     Deps
	handlers map[protocol.PacketType]HandlerFunc
	logger   zerolog.Logger
}

// NewTable builds the dispatch table.
func NewTable(deps Deps) *Table {
	if deps.ProtocolVersion == 0 {
		deps.ProtocolVersion = protocol.DefaultProtocolVersion
	}
	t := &Table{deps: deps, logger: util.ComponentLogger("bancho")}
	t.handlers = map[protocol.PacketType]HandlerFunc{
		protocol.ClientChangeAction:        t.changeAction,
		protocol.ClientSendPublicMessage:   t.sendPublicMessage,
		protocol.ClientLogout:              t.logout,
		protocol.ClientRequestStatusUpdate: t.requestStatusUpdate,
		protocol.ClientPing:                t.ping,
		protocol.ClientSendPrivateMessage:  t.sendPrivateMessage,
		protocol.ClientPartLobby:           t.partLobby,
		protocol.ClientJoinLobby:           t.joinLobby,
		protocol.ClientCreateMatch:         t.createMatch,
		protocol.ClientJoinMatch:           t.joinMatch,
		protocol.ClientPartMatch:           t.partMatch,
		protocol.ClientMatchReady:          t.matchReady,
		protocol.ClientMatchNotReady:       t.matchNotReady,
		protocol.ClientMatchStart:          t.matchStart,
		protocol.ClientMatchComplete:       t.matchComplete,
		protocol.ClientChannelJoin:         t.channelJoin,
		protocol.ClientChannelPart:         t.channelPart,
		protocol.ClientFriendAdd:           t.friendAdd,
		protocol.ClientFriendRemove:        t.friendRemove,
		protocol.ClientUserStatsRequest:    t.userStatsRequest,
		protocol.ClientUserPresenceRequest: t.userPresenceRequest,
	}
	return t
}

// Handles reports whether a handler is registered for pt.
func (t *Table) Handles(pt protocol.PacketType) bool {
	_, ok := t.handlers[pt]
	return ok
}

// Dispatch decodes body and runs every packet's handler in frame order.
// Unknown packets are skipped. A failing or panicking handler does not stop
// the packets after it. A malformed frame ends decoding; the packets before
// it are still dispatched and the framing error is returned.
func (t *Table) Dispatch(ctx context.Context, body []byte, p *presence.Presence) error {
	p.Touch()
	packets, frameErr := protocol.ReadFrames(body)
	if frameErr != nil {
		t.logger.Warn().Err(frameErr).Int32("user_id", p.ID).Int("decoded", len(packets)).Msg("malformed request body")
	}

	for _, pkt := range packets {
		handler, ok := t.handlers[pkt.Type]
		if !ok {
			t.logger.Warn().Str("packet", pkt.Type.String()).Int32("user_id", p.ID).Msg("unhandled packet")
			continue
		}

		t.logger.Trace().Str("packet", pkt.Type.String()).Int32("user_id", p.ID).Int("size", len(pkt.Payload)).Msg("dispatch")
		if err := t.run(ctx, handler, pkt, p); err != nil {
			t.logger.Warn().Err(err).Str("packet", pkt.Type.String()).Int32("user_id", p.ID).Msg("handler failed")
		}
	}
	return frameErr
}

func (t *Table) run(ctx context.Context, handler HandlerFunc, pkt protocol.Packet, p *presence.Presence) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", pkt.Type, r)
		}
	}()
	return handler(ctx, pkt, p)
}

// isNotFound reports whether err names a missing target, which handlers
// answer with a failure packet instead of logging.
func isNotFound(err error) bool {
	return errors.Is(err, channel.ErrChannelNotFound) || errors.Is(err, match.ErrMatchNotFound)
}
