package protocol

import "github.com/yume-project/yume/internal/osu"

// MatchSlots is the fixed number of slots in a multiplayer match.
const MatchSlots = 16

// SlotStatus is the state of one match slot.
type SlotStatus byte

const (
	SlotOpen     SlotStatus = 1
	SlotLocked   SlotStatus = 2
	SlotNotReady SlotStatus = 4
	SlotReady    SlotStatus = 8
	SlotNoMap    SlotStatus = 16
	SlotPlaying  SlotStatus = 32
	SlotComplete SlotStatus = 64
	SlotQuit     SlotStatus = 128

	// SlotHasPlayer is set for every status that implies an occupant.
	SlotHasPlayer SlotStatus = SlotNotReady | SlotReady | SlotNoMap | SlotPlaying | SlotComplete
)

// Occupied reports whether a player sits in a slot with this status.
func (s SlotStatus) Occupied() bool {
	return s&SlotHasPlayer != 0
}

// SlotData is one slot as serialized on the wire.
type SlotData struct {
	Status SlotStatus
	Team   byte
	UserID int32
	Mods   osu.Mods
}

// MatchData is the wire representation of a multiplayer match.
type MatchData struct {
	ID              int32
	InProgress      bool
	Type            byte
	Mods            osu.Mods
	Name            string
	Password        string
	BeatmapName     string
	BeatmapID       int32
	BeatmapChecksum string
	Slots           [MatchSlots]SlotData
	HostID          int32
	Mode            osu.PlayMode
	ScoringType     byte
	TeamType        byte
	FreeMods        bool
	Seed            int32
}

func writeMatch(w *Writer, m MatchData) {
	w.WriteUint16(uint16(m.ID)).
		WriteBool(m.InProgress).
		WriteByte(m.Type).
		WriteUint32(uint32(m.Mods)).
		WriteString(m.Name).
		WriteString(m.Password).
		WriteString(m.BeatmapName).
		WriteInt32(m.BeatmapID).
		WriteString(m.BeatmapChecksum)

	for _, s := range m.Slots {
		w.WriteByte(byte(s.Status))
	}
	for _, s := range m.Slots {
		w.WriteByte(s.Team)
	}
	for _, s := range m.Slots {
		if s.Status.Occupied() {
			w.WriteInt32(s.UserID)
		}
	}

	w.WriteInt32(m.HostID).
		WriteByte(byte(m.Mode)).
		WriteByte(m.ScoringType).
		WriteByte(m.TeamType).
		WriteBool(m.FreeMods)

	if m.FreeMods {
		for _, s := range m.Slots {
			w.WriteUint32(uint32(s.Mods))
		}
	}

	w.WriteInt32(m.Seed)
}

// ReadMatch decodes a match payload as sent by create-match.
func ReadMatch(r *Reader) (MatchData, error) {
	var (
		m   MatchData
		err error
	)

	id, err := r.ReadUint16()
	if err != nil {
		return m, err
	}
	m.ID = int32(id)

	if m.InProgress, err = r.ReadBool(); err != nil {
		return m, err
	}
	if m.Type, err = r.ReadByte(); err != nil {
		return m, err
	}
	mods, err := r.ReadUint32()
	if err != nil {
		return m, err
	}
	m.Mods = osu.Mods(mods)

	if m.Name, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Password, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.BeatmapName, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.BeatmapID, err = r.ReadInt32(); err != nil {
		return m, err
	}
	if m.BeatmapChecksum, err = r.ReadString(); err != nil {
		return m, err
	}

	for i := range m.Slots {
		b, err := r.ReadByte()
		if err != nil {
			return m, err
		}
		m.Slots[i].Status = SlotStatus(b)
	}
	for i := range m.Slots {
		if m.Slots[i].Team, err = r.ReadByte(); err != nil {
			return m, err
		}
	}
	for i := range m.Slots {
		if !m.Slots[i].Status.Occupied() {
			continue
		}
		if m.Slots[i].UserID, err = r.ReadInt32(); err != nil {
			return m, err
		}
	}

	if m.HostID, err = r.ReadInt32(); err != nil {
		return m, err
	}
	mode, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.Mode = osu.PlayMode(mode)
	if m.ScoringType, err = r.ReadByte(); err != nil {
		return m, err
	}
	if m.TeamType, err = r.ReadByte(); err != nil {
		return m, err
	}
	if m.FreeMods, err = r.ReadBool(); err != nil {
		return m, err
	}
	if m.FreeMods {
		for i := range m.Slots {
			v, err := r.ReadUint32()
			if err != nil {
				return m, err
			}
			m.Slots[i].Mods = osu.Mods(v)
		}
	}
	m.Seed, err = r.ReadInt32()
	return m, err
}
