package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yume-project/yume/internal/config"
	"github.com/yume-project/yume/internal/db"
	"github.com/yume-project/yume/internal/events"
	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/protocol"
	"github.com/yume-project/yume/internal/util"
)

// BotID is the user id reserved for the server bot.
const BotID int32 = 1

// Store is the persistence the registry reads accounts and stats from.
type Store interface {
	GetUserByName(ctx context.Context, username string) (*db.User, error)
	GetStats(ctx context.Context, userID int32, variant osu.Variant, mode osu.PlayMode) (db.Stats, error)
	Friends(ctx context.Context, userID int32) ([]int32, error)
}

// RankSource resolves global ranks.
type RankSource interface {
	UserRank(ctx context.Context, userID int32, variant osu.Variant, mode osu.PlayMode) (int32, error)
}

// TerminateHook runs after a presence leaves the live set.
type TerminateHook func(p *Presence)

// Options configures a Registry.
type Options struct {
	DuplicateLogin  string
	ProtocolVersion int32
	Ranks           RankSource
	Bus             *events.Bus
}

// Registry owns every live presence.
type Registry struct {
	store  Store
	opts   Options
	logger zerolog.Logger

	byID    sync.Map // int32 -> *Presence
	byToken sync.Map // string -> *Presence

	hooksMu sync.RWMutex
	hooks   []TerminateHook
}

// NewRegistry creates an empty registry.
func NewRegistry(store Store, opts Options) *Registry {
	if opts.DuplicateLogin == "" {
		opts.DuplicateLogin = config.DuplicateLoginReplace
	}
	if opts.ProtocolVersion == 0 {
		opts.ProtocolVersion = protocol.DefaultProtocolVersion
	}
	return &Registry{
		store:  store,
		opts:   opts,
		logger: util.ComponentLogger("presence"),
	}
}

// OnTerminate registers a hook run for every terminated presence.
func (r *Registry) OnTerminate(hook TerminateHook) {
	r.hooksMu.Lock()
	r.hooks = append(r.hooks, hook)
	r.hooksMu.Unlock()
}

// RegisterBot adds the always-online server bot.
func (r *Registry) RegisterBot(name string) *Presence {
	p := New(BotID, name)
	p.Bot = true
	p.Token = uuid.NewString()
	p.Privileges = osu.PrivilegeNormal | osu.PrivilegeVerified | osu.PrivilegeSupporter
	p.SetStatus(Status{Action: osu.ActionWatching, Text: "for sneaky gamers"})
	r.byID.Store(p.ID, p)
	r.byToken.Store(p.Token, p)
	return p
}

// Login authenticates creds and registers a new Active presence. The
// queue is seeded with protocol version, login reply and the presence's
// own presence and stats packets.
func (r *Registry) Login(ctx context.Context, creds Credentials) (*Presence, error) {
	user, err := r.Authenticate(ctx, creds.Username, creds.PasswordMD5)
	if err != nil {
		return nil, err
	}

	p := New(user.ID, user.Username)
	p.Token = uuid.NewString()
	p.Country = user.Country
	p.CountryCode = osu.CountryCode(user.Country)
	p.Timezone = creds.UTCOffset
	p.Privileges = user.Privileges
	p.ClientVersion = creds.ClientVersion
	p.BlockNonFriendPMs = creds.BlockNonFriendPMs

	if err := r.UpdateStats(ctx, p, osu.ModeOsu); err != nil {
		return nil, fmt.Errorf("login %s: %w", creds.Username, err)
	}
	if friends, err := r.store.Friends(ctx, user.ID); err == nil {
		p.SetFriends(friends)
	} else {
		r.logger.Warn().Err(err).Int32("user_id", user.ID).Msg("failed to load friends")
	}

	// Seeded before insert so no broadcast can reach the queue first.
	p.Enqueue(
		protocol.ProtocolVersion(r.opts.ProtocolVersion),
		protocol.LoginReply(p.ID),
		p.PresencePacket(),
		p.StatsPacket(),
	)

	if err := r.insert(p); err != nil {
		return nil, err
	}

	r.logger.Info().
		Int32("user_id", p.ID).
		Str("username", p.Username).
		Str("client", p.ClientVersion).
		Msg("user logged in")

	if r.opts.Bus != nil {
		r.opts.Bus.Emit(context.Background(), events.Event{
			Type:    events.EventUserLogin,
			Source:  "presence",
			Payload: events.UserPayload{UserID: p.ID, Username: p.Username, Country: p.Country},
		})
	}
	return p, nil
}

// Authenticate checks a username and password digest against the store
// without creating a session. Web endpoints authenticate per request.
func (r *Registry) Authenticate(ctx context.Context, username, passwordMD5 string) (*db.User, error) {
	user, err := r.store.GetUserByName(ctx, username)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}

	ok, err := util.CheckPassword(user.PasswordHash, passwordMD5)
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if user.Privileges.Restricted() {
		return nil, ErrBanned
	}
	return user, nil
}

// insert publishes p in the live set, applying the duplicate login policy.
func (r *Registry) insert(p *Presence) error {
	for {
		actual, loaded := r.byID.LoadOrStore(p.ID, p)
		if !loaded {
			r.byToken.Store(p.Token, p)
			return nil
		}
		if r.opts.DuplicateLogin == config.DuplicateLoginReject {
			return ErrAlreadyOnline
		}
		r.Terminate(actual.(*Presence), events.LogoutReplaced)
	}
}

// Get resolves a session token.
func (r *Registry) Get(token string) (*Presence, bool) {
	v, ok := r.byToken.Load(token)
	if !ok {
		return nil, false
	}
	return v.(*Presence), true
}

// GetByID resolves a user id.
func (r *Registry) GetByID(id int32) (*Presence, bool) {
	v, ok := r.byID.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Presence), true
}

// GetByName resolves a username, ignoring case and space/underscore
// differences.
func (r *Registry) GetByName(name string) (*Presence, bool) {
	safe := db.SafeUsername(name)
	var found *Presence
	r.byID.Range(func(_, v any) bool {
		p := v.(*Presence)
		if db.SafeUsername(p.Username) == safe {
			found = p
			return false
		}
		return true
	})
	return found, found != nil
}

// All returns every live presence ordered by user id.
func (r *Registry) All() []*Presence {
	var out []*Presence
	r.byID.Range(func(_, v any) bool {
		out = append(out, v.(*Presence))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live presences, the bot included.
func (r *Registry) Count() int {
	n := 0
	r.byID.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Enqueue appends packets to the queue of the presence with the given id.
// It reports whether that presence is online.
func (r *Registry) Enqueue(userID int32, packets ...protocol.Packet) bool {
	p, ok := r.GetByID(userID)
	if !ok {
		return false
	}
	p.Enqueue(packets...)
	return true
}

// Drain removes and returns the queued packets of p.
func (r *Registry) Drain(p *Presence) []protocol.Packet {
	return p.Drain()
}

// Broadcast enqueues packets on every live presence except the listed ids.
func (r *Registry) Broadcast(packets []protocol.Packet, except ...int32) {
	r.byID.Range(func(_, v any) bool {
		p := v.(*Presence)
		for _, id := range except {
			if p.ID == id {
				return true
			}
		}
		p.Enqueue(packets...)
		return true
	})
}

// UpdateStats reloads the stat projection of p for mode, in the variant
// selected by its current mods. The cached projection is only replaced
// once every read succeeded.
func (r *Registry) UpdateStats(ctx context.Context, p *Presence, mode osu.PlayMode) error {
	if p.Bot {
		return nil
	}
	variant := p.Variant()
	row, err := r.store.GetStats(ctx, p.ID, variant, mode)
	if err != nil {
		return fmt.Errorf("update stats for %d: %w", p.ID, err)
	}

	var rank int32
	if r.opts.Ranks != nil {
		if rank, err = r.opts.Ranks.UserRank(ctx, p.ID, variant, mode); err != nil {
			return fmt.Errorf("update rank for %d: %w", p.ID, err)
		}
	}

	p.setStats(Stats{
		Mode:        mode,
		Variant:     variant,
		RankedScore: row.RankedScore,
		TotalScore:  row.TotalScore,
		Accuracy:    row.Accuracy,
		PlayCount:   row.PlayCount,
		Performance: row.Performance,
		Rank:        rank,
	})
	return nil
}

// Terminate removes p from the live set, runs the terminate hooks and
// tells every remaining presence the user quit. It reports whether p was
// still live.
func (r *Registry) Terminate(p *Presence, reason events.LogoutReason) bool {
	if p.Bot {
		return false
	}
	if !r.byID.CompareAndDelete(p.ID, p) {
		return false
	}
	r.byToken.Delete(p.Token)

	r.hooksMu.RLock()
	hooks := append([]TerminateHook(nil), r.hooks...)
	r.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(p)
	}

	r.Broadcast([]protocol.Packet{protocol.UserQuit(p.ID)})

	r.logger.Info().
		Int32("user_id", p.ID).
		Str("username", p.Username).
		Str("reason", string(reason)).
		Msg("user logged out")

	if r.opts.Bus != nil {
		r.opts.Bus.Emit(context.Background(), events.Event{
			Type:    events.EventUserLogout,
			Source:  "presence",
			Payload: events.UserPayload{UserID: p.ID, Username: p.Username, Country: p.Country, Reason: reason},
		})
	}
	return true
}

// ReapIdle terminates every non-bot presence idle longer than window and
// returns them.
func (r *Registry) ReapIdle(now time.Time, window time.Duration) []*Presence {
	var reaped []*Presence
	for _, p := range r.All() {
		if p.Bot || now.Sub(p.LastActive()) <= window {
			continue
		}
		if r.Terminate(p, events.LogoutIdle) {
			reaped = append(reaped, p)
		}
	}
	return reaped
}

// Shutdown sends every presence the restart packet.
func (r *Registry) Shutdown(delayMs int32) {
	r.Broadcast([]protocol.Packet{
		protocol.Notification("The server is restarting."),
		protocol.Restart(delayMs),
	})
}
