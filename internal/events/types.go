// Package events defines the server-wide event types carried by the Bus.
package events

import "github.com/yume-project/yume/internal/osu"

// EventType names an event published on the Bus.
type EventType string

const (
	// Session lifecycle
	EventUserLogin  EventType = "user_login"
	EventUserLogout EventType = "user_logout"

	// Gameplay
	EventScoreSubmitted     EventType = "score_submitted"
	EventLeaderboardRefresh EventType = "leaderboard_refreshed"
	EventStatsUpdated       EventType = "stats_updated"

	// Multiplayer
	EventMatchCreated   EventType = "match_created"
	EventMatchDisbanded EventType = "match_disbanded"
	EventMatchStarted   EventType = "match_started"

	// Chat
	EventChatMessage EventType = "chat_message"

	// System
	EventShutdown EventType = "shutdown"
)

// Event is a single published event.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// LogoutReason explains why a session ended.
type LogoutReason string

const (
	LogoutRequested LogoutReason = "requested"
	LogoutIdle      LogoutReason = "idle"
	LogoutReplaced  LogoutReason = "replaced"
	LogoutKicked    LogoutReason = "kicked"
)

// UserPayload is carried by login and logout events.
type UserPayload struct {
	UserID   int32
	Username string
	Country  string
	Reason   LogoutReason
}

// ScorePayload is carried by EventScoreSubmitted.
type ScorePayload struct {
	ScoreID     int64
	UserID      int32
	Username    string
	Checksum    string
	Mode        osu.PlayMode
	Variant     osu.Variant
	Score       int64
	Accuracy    float64
	Performance float64
	Completed   osu.CompletedStatus
}

// LeaderboardPayload is carried by EventLeaderboardRefresh.
type LeaderboardPayload struct {
	Checksum string
	Mode     osu.PlayMode
	Variant  osu.Variant
	Entries  int
}

// StatsPayload is carried by EventStatsUpdated.
type StatsPayload struct {
	UserID      int32
	Mode        osu.PlayMode
	Variant     osu.Variant
	Accuracy    float64
	Performance int32
}

// MatchPayload is carried by match events.
type MatchPayload struct {
	MatchID int32
	Name    string
	HostID  int32
	Players int
}

// ChatPayload is carried by EventChatMessage.
type ChatPayload struct {
	SenderID int32
	Sender   string
	Target   string
}
