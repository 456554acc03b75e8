package bancho

import (
	"context"
	"errors"
	"fmt"

	"github.com/yume-project/yume/internal/channel"
	"github.com/yume-project/yume/internal/events"
	"github.com/yume-project/yume/internal/match"
	"github.com/yume-project/yume/internal/presence"
	"github.com/yume-project/yume/internal/protocol"
)

func (t *Table) changeAction(ctx context.Context, pkt protocol.Packet, p *presence.Presence) error {
	upd, err := protocol.ReadStatusUpdate(pkt.Reader())
	if err != nil {
		return err
	}
	if !upd.Mode.Valid() {
		return fmt.Errorf("invalid play mode %d", upd.Mode)
	}

	prev := p.Status()
	p.SetStatus(presence.Status{
		Action:          upd.Action,
		Text:            upd.ActionText,
		BeatmapChecksum: upd.BeatmapChecksum,
		BeatmapID:       upd.BeatmapID,
		Mods:            upd.Mods,
		Mode:            upd.Mode,
	})

	if prev.Mode != upd.Mode || prev.Mods.Variant() != upd.Mods.Variant() {
		if err := t.deps.Presences.UpdateStats(ctx, p, upd.Mode); err != nil {
			// Status and stats must agree on mode and variant.
			p.SetStatus(prev)
			return err
		}
	}
	t.deps.Presences.Broadcast([]protocol.Packet{p.StatsPacket()})
	return nil
}

func (t *Table) sendPublicMessage(_ context.Context, pkt protocol.Packet, p *presence.Presence) error {
	msg, err := protocol.ReadMessage(pkt.Reader())
	if err != nil {
		return err
	}
	if msg.Content == "" {
		return nil
	}

	if err := t.deps.Channels.Broadcast(p, msg.Target, msg.Content, false); err != nil {
		if errors.Is(err, channel.ErrChannelNotFound) || errors.Is(err, channel.ErrNotMember) {
			p.Enqueue(protocol.ChannelRevoked(msg.Target))
			return nil
		}
		return err
	}
	t.emitChat(p, msg.Target)
	return nil
}

func (t *Table) sendPrivateMessage(_ context.Context, pkt protocol.Packet, p *presence.Presence) error {
	msg, err := protocol.ReadMessage(pkt.Reader())
	if err != nil {
		return err
	}
	target, ok := t.deps.Presences.GetByName(msg.Target)
	if !ok {
		p.Enqueue(protocol.Notification(fmt.Sprintf("%s is not online.", msg.Target)))
		return nil
	}
	if target.Bot || msg.Content == "" {
		return nil
	}
	if target.BlockNonFriendPMs && !target.IsFriend(p.ID) {
		return nil
	}

	target.Enqueue(protocol.SendMessage(protocol.Message{
		Sender:   p.Username,
		Content:  msg.Content,
		Target:   target.Username,
		SenderID: p.ID,
	}))
	t.emitChat(p, target.Username)
	return nil
}

func (t *Table) emitChat(p *presence.Presence, target string) {
	if t.deps.Bus == nil {
		return
	}
	t.deps.Bus.Emit(context.Background(), events.Event{
		Type:    events.EventChatMessage,
		Source:  "bancho",
		Payload: events.ChatPayload{SenderID: p.ID, Sender: p.Username, Target: target},
	})
}

func (t *Table) logout(_ context.Context, _ protocol.Packet, p *presence.Presence) error {
	t.deps.Presences.Terminate(p, events.LogoutRequested)
	return nil
}

func (t *Table) requestStatusUpdate(ctx context.Context, _ protocol.Packet, p *presence.Presence) error {
	if err := t.deps.Presences.UpdateStats(ctx, p, p.Status().Mode); err != nil {
		return err
	}
	p.Enqueue(p.StatsPacket())
	return nil
}

func (t *Table) ping(context.Context, protocol.Packet, *presence.Presence) error {
	return nil
}

func (t *Table) joinLobby(_ context.Context, _ protocol.Packet, p *presence.Presence) error {
	t.deps.Matches.JoinLobby(p)
	return nil
}

func (t *Table) partLobby(_ context.Context, _ protocol.Packet, p *presence.Presence) error {
	t.deps.Matches.PartLobby(p)
	return nil
}

func (t *Table) createMatch(_ context.Context, pkt protocol.Packet, p *presence.Presence) error {
	d, err := protocol.ReadMatch(pkt.Reader())
	if err != nil {
		p.Enqueue(protocol.MatchJoinFail())
		return err
	}
	t.deps.Matches.PartLobby(p)
	t.deps.Matches.Create(p, d)
	return nil
}

func (t *Table) joinMatch(_ context.Context, pkt protocol.Packet, p *presence.Presence) error {
	r := pkt.Reader()
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	password, err := r.ReadString()
	if err != nil {
		return err
	}

	if _, err := t.deps.Matches.Join(p, id, password); err != nil {
		p.Enqueue(protocol.MatchJoinFail())
		if isNotFound(err) || errors.Is(err, match.ErrWrongPassword) || errors.Is(err, match.ErrMatchFull) {
			return nil
		}
		return err
	}
	t.deps.Matches.PartLobby(p)
	return nil
}

func (t *Table) partMatch(_ context.Context, _ protocol.Packet, p *presence.Presence) error {
	t.deps.Matches.Leave(p)
	return nil
}

func (t *Table) matchReady(_ context.Context, _ protocol.Packet, p *presence.Presence) error {
	return t.deps.Matches.SetReady(p, true)
}

func (t *Table) matchNotReady(_ context.Context, _ protocol.Packet, p *presence.Presence) error {
	return t.deps.Matches.SetReady(p, false)
}

func (t *Table) matchStart(_ context.Context, _ protocol.Packet, p *presence.Presence) error {
	return t.deps.Matches.Start(p)
}

func (t *Table) matchComplete(_ context.Context, _ protocol.Packet, p *presence.Presence) error {
	return t.deps.Matches.Complete(p)
}

func (t *Table) channelJoin(_ context.Context, pkt protocol.Packet, p *presence.Presence) error {
	name, err := pkt.Reader().ReadString()
	if err != nil {
		return err
	}
	if _, err := t.deps.Channels.Join(p, name); err != nil {
		if isNotFound(err) {
			p.Enqueue(protocol.ChannelRevoked(name))
			return nil
		}
		return err
	}
	return nil
}

func (t *Table) channelPart(_ context.Context, pkt protocol.Packet, p *presence.Presence) error {
	name, err := pkt.Reader().ReadString()
	if err != nil {
		return err
	}
	t.deps.Channels.Leave(p, name)
	return nil
}

func (t *Table) friendAdd(ctx context.Context, pkt protocol.Packet, p *presence.Presence) error {
	id, err := pkt.Reader().ReadInt32()
	if err != nil {
		return err
	}
	if id == p.ID {
		return nil
	}
	if t.deps.Friends != nil {
		if err := t.deps.Friends.AddFriend(ctx, p.ID, id); err != nil {
			return err
		}
	}
	p.AddFriend(id)
	return nil
}

func (t *Table) friendRemove(ctx context.Context, pkt protocol.Packet, p *presence.Presence) error {
	id, err := pkt.Reader().ReadInt32()
	if err != nil {
		return err
	}
	if t.deps.Friends != nil {
		if err := t.deps.Friends.RemoveFriend(ctx, p.ID, id); err != nil {
			return err
		}
	}
	p.RemoveFriend(id)
	return nil
}

func (t *Table) userStatsRequest(_ context.Context, pkt protocol.Packet, p *presence.Presence) error {
	ids, err := pkt.Reader().ReadInt32List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == p.ID {
			continue
		}
		if other, ok := t.deps.Presences.GetByID(id); ok {
			p.Enqueue(other.StatsPacket())
		}
	}
	return nil
}

func (t *Table) userPresenceRequest(_ context.Context, pkt protocol.Packet, p *presence.Presence) error {
	ids, err := pkt.Reader().ReadInt32List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if other, ok := t.deps.Presences.GetByID(id); ok {
			p.Enqueue(other.PresencePacket())
		}
	}
	return nil
}
