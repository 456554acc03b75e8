// Package match owns the live multiplayer matches, their slot state
// machine and the lobby that watches them.
package match

import (
	"sync"

	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/presence"
	"github.com/yume-project/yume/internal/protocol"
)

// State is the lifecycle phase of a match.
type State int

const (
	StateOpen State = iota
	StateReady
	StateInProgress
	StateCompleted
)

var stateStrings = map[State]string{
	StateOpen:       "open",
	StateReady:      "ready",
	StateInProgress: "in_progress",
	StateCompleted:  "completed",
}

// String returns the lowercase name of the state.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "open"
}

// Slot is one seat in a match.
type Slot struct {
	Status protocol.SlotStatus
	Team   byte
	Mods   osu.Mods
	Player *presence.Presence
}

// Match is one multiplayer room. All fields are guarded by mu.
type Match struct {
	ID int32

	mu              sync.Mutex
	name            string
	password        string
	beatmapName     string
	beatmapID       int32
	beatmapChecksum string
	mods            osu.Mods
	mode            osu.PlayMode
	matchType       byte
	scoringType     byte
	teamType        byte
	freeMods        bool
	seed            int32
	hostID          int32
	inProgress      bool
	completed       bool
	slots           [protocol.MatchSlots]Slot
}

func newMatch(id int32, host *presence.Presence, d protocol.MatchData) *Match {
	m := &Match{
		ID:              id,
		name:            d.Name,
		password:        d.Password,
		beatmapName:     d.BeatmapName,
		beatmapID:       d.BeatmapID,
		beatmapChecksum: d.BeatmapChecksum,
		mods:            d.Mods,
		mode:            d.Mode,
		matchType:       d.Type,
		scoringType:     d.ScoringType,
		teamType:        d.TeamType,
		freeMods:        d.FreeMods,
		seed:            d.Seed,
		hostID:          host.ID,
	}
	for i := range m.slots {
		m.slots[i].Status = protocol.SlotOpen
	}
	return m
}

// Name returns the match name.
func (m *Match) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// HostID returns the user id of the host.
func (m *Match) HostID() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hostID
}

// State derives the lifecycle phase from the slots.
func (m *Match) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Match) stateLocked() State {
	if m.inProgress {
		return StateInProgress
	}
	if m.completed {
		return StateCompleted
	}
	occupied := 0
	for _, s := range m.slots {
		if !s.Status.Occupied() {
			continue
		}
		occupied++
		if s.Status != protocol.SlotReady {
			return StateOpen
		}
	}
	if occupied == 0 {
		return StateOpen
	}
	return StateReady
}

// Players returns the occupants in slot order.
func (m *Match) Players() []*presence.Presence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playersLocked()
}

func (m *Match) playersLocked() []*presence.Presence {
	var out []*presence.Presence
	for _, s := range m.slots {
		if s.Player != nil {
			out = append(out, s.Player)
		}
	}
	return out
}

// Data returns the wire snapshot of the match.
func (m *Match) Data() protocol.MatchData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dataLocked()
}

func (m *Match) dataLocked() protocol.MatchData {
	d := protocol.MatchData{
		ID:              m.ID,
		InProgress:      m.inProgress,
		Type:            m.matchType,
		Mods:            m.mods,
		Name:            m.name,
		Password:        m.password,
		BeatmapName:     m.beatmapName,
		BeatmapID:       m.beatmapID,
		BeatmapChecksum: m.beatmapChecksum,
		HostID:          m.hostID,
		Mode:            m.mode,
		ScoringType:     m.scoringType,
		TeamType:        m.teamType,
		FreeMods:        m.freeMods,
		Seed:            m.seed,
	}
	for i, s := range m.slots {
		d.Slots[i] = protocol.SlotData{Status: s.Status, Team: s.Team, Mods: s.Mods}
		if s.Player != nil {
			d.Slots[i].UserID = s.Player.ID
		}
	}
	return d
}

// lobbyData is the snapshot shown to lobby watchers, with the password
// redacted.
func lobbyData(d protocol.MatchData) protocol.MatchData {
	if d.Password != "" {
		d.Password = "*"
	}
	return d
}

func (m *Match) slotOfLocked(p *presence.Presence) int {
	for i, s := range m.slots {
		if s.Player == p {
			return i
		}
	}
	return -1
}

func (m *Match) freeSlotLocked() int {
	for i, s := range m.slots {
		if s.Status == protocol.SlotOpen {
			return i
		}
	}
	return -1
}

func (m *Match) broadcastLocked(packets ...protocol.Packet) {
	for _, p := range m.playersLocked() {
		p.Enqueue(packets...)
	}
}
