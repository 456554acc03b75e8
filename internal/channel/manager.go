// Package channel owns the chat channels and their membership.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yume-project/yume/internal/db"
	"github.com/yume-project/yume/internal/presence"
	"github.com/yume-project/yume/internal/protocol"
	"github.com/yume-project/yume/internal/util"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrNotMember       = errors.New("not a member of channel")
)

// Channel is one chat room.
type Channel struct {
	Name   string
	Topic  string
	Public bool

	mu      sync.RWMutex
	members map[int32]*presence.Presence
}

func newChannel(name, topic string, public bool) *Channel {
	return &Channel{Name: name, Topic: topic, Public: public, members: make(map[int32]*presence.Presence)}
}

// Members returns the current members.
func (c *Channel) Members() []*presence.Presence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*presence.Presence, 0, len(c.members))
	for _, p := range c.members {
		out = append(out, p)
	}
	return out
}

// Count returns the number of members.
func (c *Channel) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Has reports whether the user is a member.
func (c *Channel) Has(userID int32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[userID]
	return ok
}

// AvailablePacket describes the channel to clients.
func (c *Channel) AvailablePacket() protocol.Packet {
	return protocol.ChannelAvailable(c.Name, c.Topic, int16(c.Count()))
}

// Store is the persistence channel definitions are loaded from.
type Store interface {
	ListChannels(ctx context.Context) ([]db.ChannelRow, error)
}

// Manager owns every channel.
type Manager struct {
	channels sync.Map // string -> *Channel
	logger   zerolog.Logger
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{logger: util.ComponentLogger("channel")}
}

// Load registers the default channel plus every persisted channel.
func (m *Manager) Load(ctx context.Context, store Store, defaultName, defaultTopic string) error {
	m.Add(defaultName, defaultTopic, true)

	rows, err := store.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("failed to load channels: %w", err)
	}
	for _, row := range rows {
		m.Add(row.Name, row.Topic, row.Public)
	}

	m.logger.Info().Int("count", len(rows)+1).Msg("channels loaded")
	return nil
}

// Add registers a channel if no channel of that name exists and returns
// the registered one.
func (m *Manager) Add(name, topic string, public bool) *Channel {
	v, _ := m.channels.LoadOrStore(name, newChannel(name, topic, public))
	return v.(*Channel)
}

// Get returns the named channel.
func (m *Manager) Get(name string) (*Channel, bool) {
	v, ok := m.channels.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*Channel), true
}

// List returns every channel ordered by name.
func (m *Manager) List() []*Channel {
	var out []*Channel
	m.channels.Range(func(_, v any) bool {
		out = append(out, v.(*Channel))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Listing returns the channel-available packets for every public channel
// followed by the listing-complete marker.
func (m *Manager) Listing() []protocol.Packet {
	var packets []protocol.Packet
	for _, c := range m.List() {
		if c.Public {
			packets = append(packets, c.AvailablePacket())
		}
	}
	return append(packets, protocol.ChannelListingComplete())
}

// Join adds p to the named channel and enqueues the join-success packet on
// p. Joining a channel p is already in does nothing and returns false.
func (m *Manager) Join(p *presence.Presence, name string) (bool, error) {
	c, ok := m.Get(name)
	if !ok {
		return false, fmt.Errorf("join %s: %w", name, ErrChannelNotFound)
	}

	c.mu.Lock()
	if _, member := c.members[p.ID]; member {
		c.mu.Unlock()
		return false, nil
	}
	c.members[p.ID] = p
	c.mu.Unlock()

	p.Enqueue(protocol.ChannelJoinSuccess(c.Name))
	m.logger.Debug().Int32("user_id", p.ID).Str("channel", c.Name).Msg("joined channel")
	return true, nil
}

// Leave removes p from the named channel. It reports whether p was a
// member.
func (m *Manager) Leave(p *presence.Presence, name string) bool {
	c, ok := m.Get(name)
	if !ok {
		return false
	}

	c.mu.Lock()
	member := c.members[p.ID] == p
	if member {
		delete(c.members, p.ID)
	}
	c.mu.Unlock()
	return member
}

// LeaveAll removes p from every channel and returns the channels it left.
func (m *Manager) LeaveAll(p *presence.Presence) []*Channel {
	var left []*Channel
	for _, c := range m.List() {
		if m.Leave(p, c.Name) {
			left = append(left, c)
		}
	}
	return left
}

// Broadcast relays a message from sender to every member of the named
// channel. The sender must be a member and does not receive its own
// message unless includeSender is set.
func (m *Manager) Broadcast(sender *presence.Presence, name, content string, includeSender bool) error {
	c, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("broadcast to %s: %w", name, ErrChannelNotFound)
	}
	if !sender.Bot && !c.Has(sender.ID) {
		return fmt.Errorf("broadcast to %s: %w", name, ErrNotMember)
	}

	pkt := protocol.SendMessage(protocol.Message{
		Sender:   sender.Username,
		Content:  content,
		Target:   c.Name,
		SenderID: sender.ID,
	})
	for _, member := range c.Members() {
		if member.ID == sender.ID && !includeSender {
			continue
		}
		member.Enqueue(pkt)
	}
	return nil
}
