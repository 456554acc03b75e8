// Package osu defines the game enumerations shared by the protocol,
// presence, leaderboard and scoring layers.
package osu

import "fmt"

// PlayMode is the game discipline a score or status belongs to.
type PlayMode byte

const (
	ModeOsu PlayMode = iota
	ModeTaiko
	ModeCatch
	ModeMania
)

// PlayModeCount is the number of play modes the server partitions stats by.
const PlayModeCount = 4

var playModeStrings = map[PlayMode]string{
	ModeOsu:   "osu",
	ModeTaiko: "taiko",
	ModeCatch: "catch",
	ModeMania: "mania",
}

// String returns the lowercase name of the mode.
func (m PlayMode) String() string {
	if s, ok := playModeStrings[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", byte(m))
}

// Valid reports whether m is one of the known play modes.
func (m PlayMode) Valid() bool {
	return m < PlayModeCount
}

// Variant selects the score pool a score is ranked in. Scores in different
// variants never share a leaderboard.
type Variant byte

const (
	VariantVanilla Variant = iota
	VariantRelax
	VariantAutopilot
)

// VariantCount is the number of leaderboard variants.
const VariantCount = 3

// String returns the lowercase name of the variant.
func (v Variant) String() string {
	switch v {
	case VariantVanilla:
		return "vanilla"
	case VariantRelax:
		return "relax"
	case VariantAutopilot:
		return "autopilot"
	default:
		return fmt.Sprintf("variant(%d)", byte(v))
	}
}

// Mods is the bitmask of gameplay modifiers.
type Mods uint32

const (
	ModNone        Mods = 0
	ModNoFail      Mods = 1 << 0
	ModEasy        Mods = 1 << 1
	ModTouchDevice Mods = 1 << 2
	ModHidden      Mods = 1 << 3
	ModHardRock    Mods = 1 << 4
	ModSuddenDeath Mods = 1 << 5
	ModDoubleTime  Mods = 1 << 6
	ModRelax       Mods = 1 << 7
	ModHalfTime    Mods = 1 << 8
	ModNightcore   Mods = 1 << 9
	ModFlashlight  Mods = 1 << 10
	ModAutoplay    Mods = 1 << 11
	ModSpunOut     Mods = 1 << 12
	ModAutopilot   Mods = 1 << 13
	ModPerfect     Mods = 1 << 14
)

// Variant returns the leaderboard variant a play with these mods counts toward.
func (m Mods) Variant() Variant {
	switch {
	case m&ModRelax != 0:
		return VariantRelax
	case m&ModAutopilot != 0:
		return VariantAutopilot
	default:
		return VariantVanilla
	}
}

// Has reports whether every bit of flag is set.
func (m Mods) Has(flag Mods) bool {
	return m&flag == flag
}

// ActionStatus is what a presence is currently doing, as shown to peers.
type ActionStatus byte

const (
	ActionIdle ActionStatus = iota
	ActionAfk
	ActionPlaying
	ActionEditing
	ActionModding
	ActionMultiplayer
	ActionWatching
	ActionUnknown
	ActionTesting
	ActionSubmitting
	ActionPaused
	ActionLobby
	ActionMultiplaying
	ActionOsuDirect
)

var actionNames = [...]string{
	"idle", "afk", "playing", "editing", "modding", "multiplayer", "watching",
	"unknown", "testing", "submitting", "paused", "lobby", "multiplaying", "osu_direct",
}

func (a ActionStatus) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// RankedStatus is the ranked state of a beatmap as the client understands it.
type RankedStatus int32

const (
	StatusNotSubmitted    RankedStatus = -1
	StatusPending         RankedStatus = 0
	StatusUpdateAvailable RankedStatus = 1
	StatusRanked          RankedStatus = 2
	StatusApproved        RankedStatus = 3
	StatusQualified       RankedStatus = 4
	StatusLoved           RankedStatus = 5
)

var rankedStatusStrings = map[RankedStatus]string{
	StatusNotSubmitted:    "not_submitted",
	StatusPending:         "pending",
	StatusUpdateAvailable: "update_available",
	StatusRanked:          "ranked",
	StatusApproved:        "approved",
	StatusQualified:       "qualified",
	StatusLoved:           "loved",
}

func (s RankedStatus) String() string {
	if v, ok := rankedStatusStrings[s]; ok {
		return v
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// HasLeaderboard reports whether scores on maps in this status are ranked
// on a leaderboard.
func (s RankedStatus) HasLeaderboard() bool {
	return s >= StatusRanked
}

// CountsTowardRanked reports whether plays on maps in this status add to
// the player's ranked score.
func (s RankedStatus) CountsTowardRanked() bool {
	return s == StatusRanked || s == StatusApproved
}

// CompletedStatus classifies a submitted score. The numeric values are the
// ones stored in the scores table.
type CompletedStatus byte

const (
	CompletedFailed    CompletedStatus = 0
	CompletedSubmitted CompletedStatus = 2
	CompletedBest      CompletedStatus = 3
)

// String returns the lowercase name of the status.
func (c CompletedStatus) String() string {
	switch c {
	case CompletedBest:
		return "best"
	case CompletedSubmitted:
		return "submitted"
	default:
		return "failed"
	}
}

// Privileges is the server-side account privilege bitmask.
type Privileges int32

const (
	PrivilegeBanned         Privileges = 0
	PrivilegeNormal         Privileges = 1 << 0
	PrivilegeVerified       Privileges = 1 << 1
	PrivilegeSupporter      Privileges = 1 << 2
	PrivilegeManageBeatmaps Privileges = 1 << 3
	PrivilegeManageUsers    Privileges = 1 << 4
)

// Restricted reports whether the account may not log in.
func (p Privileges) Restricted() bool {
	return p&PrivilegeNormal == 0
}

// ClientPermissions is the permission bitmask sent to the game client.
type ClientPermissions int32

const (
	PermissionNone       ClientPermissions = 0
	PermissionNormal     ClientPermissions = 1 << 0
	PermissionModerator  ClientPermissions = 1 << 1
	PermissionSupporter  ClientPermissions = 1 << 2
	PermissionAdmin      ClientPermissions = 1 << 3
	PermissionDeveloper  ClientPermissions = 1 << 4
	PermissionTournament ClientPermissions = 1 << 5
)

// ClientPermissions maps server privileges to what the client displays.
func (p Privileges) ClientPermissions() ClientPermissions {
	perms := PermissionNone
	if p&PrivilegeNormal != 0 {
		perms |= PermissionNormal
	}
	if p&PrivilegeSupporter != 0 {
		perms |= PermissionSupporter
	}
	if p&PrivilegeManageUsers != 0 {
		perms |= PermissionModerator
	}
	if p&PrivilegeManageBeatmaps != 0 {
		perms |= PermissionAdmin
	}
	return perms
}
