package match

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/yume-project/yume/internal/events"
	"github.com/yume-project/yume/internal/presence"
	"github.com/yume-project/yume/internal/protocol"
	"github.com/yume-project/yume/internal/util"
)

var (
	ErrMatchNotFound = errors.New("match not found")
	ErrWrongPassword = errors.New("wrong match password")
	ErrMatchFull     = errors.New("match is full")
	ErrNotHost       = errors.New("only the host may do that")
	ErrNotInMatch    = errors.New("not in a match")
	ErrInProgress    = errors.New("match is in progress")
)

// maxMatchID keeps ids inside the uint16 the wire format carries.
const maxMatchID = 1<<16 - 1

// Manager owns every live match and the lobby watchers.
type Manager struct {
	matches sync.Map // int32 -> *Match
	lobby   sync.Map // int32 -> *presence.Presence
	nextID  atomic.Int32
	bus     *events.Bus
	logger  zerolog.Logger
}

// NewManager creates an empty manager. bus may be nil.
func NewManager(bus *events.Bus) *Manager {
	return &Manager{bus: bus, logger: util.ComponentLogger("match")}
}

func (mgr *Manager) allocateID() int32 {
	for {
		id := mgr.nextID.Add(1)
		if id > maxMatchID {
			mgr.nextID.CompareAndSwap(id, 0)
			continue
		}
		if _, taken := mgr.matches.Load(id); !taken {
			return id
		}
	}
}

// Get returns the match with the given id.
func (mgr *Manager) Get(id int32) (*Match, bool) {
	v, ok := mgr.matches.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Match), true
}

// List returns every live match ordered by id.
func (mgr *Manager) List() []*Match {
	var out []*Match
	mgr.matches.Range(func(_, v any) bool {
		out = append(out, v.(*Match))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Of returns the match p occupies a slot in.
func (mgr *Manager) Of(p *presence.Presence) (*Match, bool) {
	id := p.MatchID()
	if id == presence.NoMatch {
		return nil, false
	}
	return mgr.Get(id)
}

// JoinLobby subscribes p to match listings and sends it every open match.
func (mgr *Manager) JoinLobby(p *presence.Presence) {
	mgr.lobby.Store(p.ID, p)
	for _, m := range mgr.List() {
		p.Enqueue(protocol.NewMatch(lobbyData(m.Data())))
	}
}

// PartLobby unsubscribes p from match listings.
func (mgr *Manager) PartLobby(p *presence.Presence) {
	mgr.lobby.CompareAndDelete(p.ID, p)
}

func (mgr *Manager) notifyLobby(pkt protocol.Packet) {
	mgr.lobby.Range(func(_, v any) bool {
		v.(*presence.Presence).Enqueue(pkt)
		return true
	})
}

// publish sends the current state to members and lobby.
func (mgr *Manager) publish(m *Match, d protocol.MatchData) {
	upd := protocol.MatchUpdate(d)
	for _, p := range m.Players() {
		p.Enqueue(upd)
	}
	mgr.notifyLobby(protocol.MatchUpdate(lobbyData(d)))
}

func (mgr *Manager) emit(t events.EventType, m *Match, d protocol.MatchData) {
	if mgr.bus == nil {
		return
	}
	players := 0
	for _, s := range d.Slots {
		if s.Status.Occupied() {
			players++
		}
	}
	mgr.bus.Emit(context.Background(), events.Event{
		Type:    t,
		Source:  "match",
		Payload: events.MatchPayload{MatchID: m.ID, Name: d.Name, HostID: d.HostID, Players: players},
	})
}

// Create registers a new match hosted by host, seating the host in the
// first slot. A host already in a match leaves it first.
func (mgr *Manager) Create(host *presence.Presence, d protocol.MatchData) *Match {
	m := newMatch(mgr.allocateID(), host, d)
	m.slots[0] = Slot{Status: protocol.SlotNotReady, Player: host}
	mgr.matches.Store(m.ID, m)
	mgr.claim(host, m)

	snapshot := m.Data()
	host.Enqueue(protocol.MatchJoinSuccess(snapshot))
	mgr.notifyLobby(protocol.NewMatch(lobbyData(snapshot)))

	mgr.logger.Info().Int32("match_id", m.ID).Int32("host_id", host.ID).Str("name", snapshot.Name).Msg("match created")
	mgr.emit(events.EventMatchCreated, m, snapshot)
	return m
}

// Join seats p in the first free slot of match id. On failure p's current
// membership is unchanged. On success every member receives the new
// state, and p leaves any other match it was in.
func (mgr *Manager) Join(p *presence.Presence, id int32, password string) (*Match, error) {
	m, ok := mgr.Get(id)
	if !ok {
		return nil, fmt.Errorf("join match %d: %w", id, ErrMatchNotFound)
	}

	m.mu.Lock()
	if m.slotOfLocked(p) >= 0 {
		d := m.dataLocked()
		m.mu.Unlock()
		p.Enqueue(protocol.MatchJoinSuccess(d))
		return m, nil
	}
	if m.password != "" && m.password != password {
		m.mu.Unlock()
		return nil, fmt.Errorf("join match %d: %w", id, ErrWrongPassword)
	}
	slot := m.freeSlotLocked()
	if slot < 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("join match %d: %w", id, ErrMatchFull)
	}
	m.slots[slot] = Slot{Status: protocol.SlotNotReady, Player: p}
	m.completed = false
	m.mu.Unlock()

	if !mgr.claim(p, m) {
		return nil, fmt.Errorf("join match %d: %w", id, ErrMatchNotFound)
	}

	d := m.Data()
	p.Enqueue(protocol.MatchJoinSuccess(d))
	mgr.publish(m, d)

	mgr.logger.Debug().Int32("match_id", m.ID).Int32("user_id", p.ID).Int("slot", slot).Msg("joined match")
	return m, nil
}

// claim records m as p's match, vacating the slot p held elsewhere. It
// reports false when m was disposed before the claim landed.
func (mgr *Manager) claim(p *presence.Presence, m *Match) bool {
	for {
		old := p.MatchID()
		if old == m.ID {
			return true
		}
		if !p.SwapMatchID(old, m.ID) {
			continue
		}
		if old != presence.NoMatch {
			if prev, ok := mgr.Get(old); ok {
				mgr.vacate(prev, p)
			}
		}
		if _, live := mgr.Get(m.ID); !live {
			p.SwapMatchID(m.ID, presence.NoMatch)
			return false
		}
		return true
	}
}

// Leave removes p from its match. The host role passes to the next
// occupant; an emptied match is disposed. It returns the match left.
func (mgr *Manager) Leave(p *presence.Presence) (*Match, bool) {
	id := p.MatchID()
	if id == presence.NoMatch || !p.SwapMatchID(id, presence.NoMatch) {
		return nil, false
	}
	m, ok := mgr.Get(id)
	if !ok {
		return nil, false
	}
	mgr.vacate(m, p)
	return m, true
}

// vacate frees p's slot in m and publishes or disposes the match.
func (mgr *Manager) vacate(m *Match, p *presence.Presence) {
	m.mu.Lock()
	slot := m.slotOfLocked(p)
	if slot < 0 {
		m.mu.Unlock()
		return
	}
	m.slots[slot] = Slot{Status: protocol.SlotOpen}

	remaining := m.playersLocked()
	if len(remaining) > 0 && m.hostID == p.ID {
		m.hostID = remaining[0].ID
	}
	if m.inProgress {
		m.finishIfDoneLocked()
	}
	d := m.dataLocked()
	m.mu.Unlock()

	mgr.logger.Debug().Int32("match_id", m.ID).Int32("user_id", p.ID).Msg("left match")

	if len(remaining) == 0 {
		mgr.dispose(m, d)
		return
	}
	mgr.publish(m, d)
}

func (mgr *Manager) dispose(m *Match, d protocol.MatchData) {
	if !mgr.matches.CompareAndDelete(m.ID, m) {
		return
	}
	mgr.notifyLobby(protocol.MatchDisband(m.ID))
	mgr.logger.Info().Int32("match_id", m.ID).Msg("match disposed")
	mgr.emit(events.EventMatchDisbanded, m, d)
}

// SetReady marks p's slot ready or not ready.
func (mgr *Manager) SetReady(p *presence.Presence, ready bool) error {
	m, ok := mgr.Of(p)
	if !ok {
		return ErrNotInMatch
	}

	m.mu.Lock()
	slot := m.slotOfLocked(p)
	if slot < 0 {
		m.mu.Unlock()
		return ErrNotInMatch
	}
	if m.inProgress {
		m.mu.Unlock()
		return ErrInProgress
	}
	if ready {
		m.slots[slot].Status = protocol.SlotReady
	} else {
		m.slots[slot].Status = protocol.SlotNotReady
	}
	m.completed = false
	d := m.dataLocked()
	m.mu.Unlock()

	mgr.publish(m, d)
	return nil
}

// Start moves every seated player with the map into play. Only the host
// may start.
func (mgr *Manager) Start(p *presence.Presence) error {
	m, ok := mgr.Of(p)
	if !ok {
		return ErrNotInMatch
	}

	m.mu.Lock()
	if m.hostID != p.ID {
		m.mu.Unlock()
		return ErrNotHost
	}
	if m.inProgress {
		m.mu.Unlock()
		return ErrInProgress
	}
	for i, s := range m.slots {
		if s.Status.Occupied() && s.Status != protocol.SlotNoMap {
			m.slots[i].Status = protocol.SlotPlaying
		}
	}
	m.inProgress = true
	m.completed = false
	d := m.dataLocked()
	m.broadcastLocked(protocol.MatchStart(d))
	m.mu.Unlock()

	mgr.notifyLobby(protocol.MatchUpdate(lobbyData(d)))
	mgr.logger.Info().Int32("match_id", m.ID).Msg("match started")
	mgr.emit(events.EventMatchStarted, m, d)
	return nil
}

// Complete marks p finished. When the last player finishes every member
// is told the match is complete and slots return to not ready.
func (mgr *Manager) Complete(p *presence.Presence) error {
	m, ok := mgr.Of(p)
	if !ok {
		return ErrNotInMatch
	}

	m.mu.Lock()
	slot := m.slotOfLocked(p)
	if slot < 0 || m.slots[slot].Status != protocol.SlotPlaying {
		m.mu.Unlock()
		return ErrNotInMatch
	}
	m.slots[slot].Status = protocol.SlotComplete
	finished := m.finishIfDoneLocked()
	d := m.dataLocked()
	m.mu.Unlock()

	if finished {
		mgr.publish(m, d)
	}
	return nil
}

// finishIfDoneLocked ends the round once nobody is still playing.
func (m *Match) finishIfDoneLocked() bool {
	for _, s := range m.slots {
		if s.Status == protocol.SlotPlaying {
			return false
		}
	}
	for i, s := range m.slots {
		if s.Status.Occupied() {
			m.slots[i].Status = protocol.SlotNotReady
		}
	}
	m.inProgress = false
	m.completed = true
	m.broadcastLocked(protocol.MatchComplete())
	return true
}
