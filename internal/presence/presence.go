// Package presence owns live client sessions: identity, status, the cached
// stat projection for the current play mode, and the outbound packet queue
// drained by each poll.
package presence

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/protocol"
)

// NoMatch is the match id of a presence that is not in a match.
const NoMatch int32 = -1

// Status is what a presence is currently doing.
type Status struct {
	Action          osu.ActionStatus `json:"action"`
	Text            string           `json:"text"`
	BeatmapChecksum string           `json:"beatmap_checksum"`
	BeatmapID       int32            `json:"beatmap_id"`
	Mods            osu.Mods         `json:"mods"`
	Mode            osu.PlayMode     `json:"mode"`
}

// Stats is the stat projection for one mode and variant.
type Stats struct {
	Mode        osu.PlayMode `json:"mode"`
	Variant     osu.Variant  `json:"variant"`
	RankedScore int64        `json:"ranked_score"`
	TotalScore  int64        `json:"total_score"`
	Accuracy    float64      `json:"accuracy"`
	PlayCount   int32        `json:"play_count"`
	Performance int32        `json:"performance"`
	Rank        int32        `json:"rank"`
}

// Presence is one logged-in session.
type Presence struct {
	ID                int32
	Username          string
	Token             string
	Country           string
	CountryCode       byte
	Timezone          int8
	Privileges        osu.Privileges
	ClientVersion     string
	BlockNonFriendPMs bool
	Bot               bool
	LoginTime         time.Time

	status     atomic.Pointer[Status]
	stats      atomic.Pointer[Stats]
	lastActive atomic.Int64
	matchID    atomic.Int32

	friendsMu sync.RWMutex
	friends   map[int32]struct{}

	queueMu sync.Mutex
	queue   []protocol.Packet
}

// New creates a detached presence. Registry.Login is the normal way to
// obtain one.
func New(id int32, username string) *Presence {
	p := &Presence{
		ID:        id,
		Username:  username,
		LoginTime: time.Now(),
		friends:   make(map[int32]struct{}),
	}
	p.status.Store(&Status{})
	p.stats.Store(&Stats{})
	p.matchID.Store(NoMatch)
	p.Touch()
	return p
}

// Status returns a snapshot of the current status.
func (p *Presence) Status() Status {
	return *p.status.Load()
}

// SetStatus replaces the current status.
func (p *Presence) SetStatus(s Status) {
	p.status.Store(&s)
}

// Stats returns a snapshot of the cached stat projection.
func (p *Presence) Stats() Stats {
	return *p.stats.Load()
}

func (p *Presence) setStats(s Stats) {
	p.stats.Store(&s)
}

// Variant is the leaderboard variant selected by the current mods.
func (p *Presence) Variant() osu.Variant {
	return p.Status().Mods.Variant()
}

// Touch records activity now.
func (p *Presence) Touch() {
	p.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last recorded activity.
func (p *Presence) LastActive() time.Time {
	return time.Unix(0, p.lastActive.Load())
}

// MatchID returns the match the presence occupies a slot in, or NoMatch.
func (p *Presence) MatchID() int32 {
	return p.matchID.Load()
}

// SwapMatchID moves match membership from old to new if it is still old.
// The match manager owns this field.
func (p *Presence) SwapMatchID(old, new int32) bool {
	return p.matchID.CompareAndSwap(old, new)
}

// Enqueue appends packets to the outbound queue.
func (p *Presence) Enqueue(packets ...protocol.Packet) {
	if p.Bot || len(packets) == 0 {
		return
	}
	p.queueMu.Lock()
	p.queue = append(p.queue, packets...)
	p.queueMu.Unlock()
}

// Drain removes and returns every queued packet in enqueue order.
func (p *Presence) Drain() []protocol.Packet {
	p.queueMu.Lock()
	out := p.queue
	p.queue = nil
	p.queueMu.Unlock()
	return out
}

// Pending returns the number of queued packets.
func (p *Presence) Pending() int {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	return len(p.queue)
}

// SetFriends replaces the friend set.
func (p *Presence) SetFriends(ids []int32) {
	set := make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	p.friendsMu.Lock()
	p.friends = set
	p.friendsMu.Unlock()
}

// AddFriend adds one id to the friend set.
func (p *Presence) AddFriend(id int32) {
	p.friendsMu.Lock()
	p.friends[id] = struct{}{}
	p.friendsMu.Unlock()
}

// RemoveFriend removes one id from the friend set.
func (p *Presence) RemoveFriend(id int32) {
	p.friendsMu.Lock()
	delete(p.friends, id)
	p.friendsMu.Unlock()
}

// IsFriend reports whether id is in the friend set.
func (p *Presence) IsFriend(id int32) bool {
	p.friendsMu.RLock()
	defer p.friendsMu.RUnlock()
	_, ok := p.friends[id]
	return ok
}

// Friends returns the friend ids.
func (p *Presence) Friends() []int32 {
	p.friendsMu.RLock()
	defer p.friendsMu.RUnlock()
	ids := make([]int32, 0, len(p.friends))
	for id := range p.friends {
		ids = append(ids, id)
	}
	return ids
}

// PresenceData is the identity block sent to peers. There is no
// geolocation source, so longitude and latitude stay zero.
func (p *Presence) PresenceData() protocol.UserPresenceData {
	return protocol.UserPresenceData{
		UserID:      p.ID,
		Username:    p.Username,
		Timezone:    p.Timezone,
		CountryCode: p.CountryCode,
		Permissions: p.Privileges.ClientPermissions(),
		Rank:        p.Stats().Rank,
	}
}

// StatsData is the status and stat block sent to peers.
func (p *Presence) StatsData() protocol.UserStatsData {
	st := p.Status()
	stats := p.Stats()
	return protocol.UserStatsData{
		UserID:          p.ID,
		Action:          st.Action,
		ActionText:      st.Text,
		BeatmapChecksum: st.BeatmapChecksum,
		Mods:            st.Mods,
		Mode:            st.Mode,
		BeatmapID:       st.BeatmapID,
		RankedScore:     stats.RankedScore,
		Accuracy:        float32(stats.Accuracy),
		PlayCount:       stats.PlayCount,
		TotalScore:      stats.TotalScore,
		Rank:            stats.Rank,
		Performance:     stats.Performance,
	}
}

// PresencePacket builds the user-presence packet for p.
func (p *Presence) PresencePacket() protocol.Packet {
	return protocol.UserPresence(p.PresenceData())
}

// StatsPacket builds the user-stats packet for p.
func (p *Presence) StatsPacket() protocol.Packet {
	return protocol.UserStats(p.StatsData())
}
