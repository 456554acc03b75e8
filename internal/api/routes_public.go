package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yume-project/yume/internal/beatmap"
	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/util"
)

// Version is reported by the ping endpoint.
const Version = "1.0.0"

// handlePing returns a health check with host and process information.
func (s *Server) handlePing(c *gin.Context) {
	resp := gin.H{
		"status":   "ok",
		"service":  "yume",
		"version":  Version,
		"uptime_s": int64(time.Since(s.startedAt).Seconds()),
		"online":   s.deps.Presences.Count(),
		"host":     util.GetSystemInfo(),
	}
	if usage, err := util.GetProcessUsage(); err == nil {
		resp["process"] = usage
	}
	c.JSON(http.StatusOK, resp)
}

// handleOnline lists the users currently online.
func (s *Server) handleOnline(c *gin.Context) {
	all := s.deps.Presences.All()
	users := make([]gin.H, 0, len(all))
	for _, p := range all {
		status := p.Status()
		stats := p.Stats()
		users = append(users, gin.H{
			"id":          p.ID,
			"username":    p.Username,
			"country":     p.Country,
			"bot":         p.Bot,
			"action":      status.Action.String(),
			"text":        status.Text,
			"mode":        status.Mode.String(),
			"rank":        stats.Rank,
			"performance": stats.Performance,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"total": len(users),
	})
}

// handleMatches lists the open multiplayer matches.
func (s *Server) handleMatches(c *gin.Context) {
	matches := s.deps.Matches.List()
	out := make([]gin.H, 0, len(matches))
	for _, m := range matches {
		players := m.Players()
		names := make([]string, len(players))
		for i, p := range players {
			names[i] = p.Username
		}
		out = append(out, gin.H{
			"id":      m.ID,
			"name":    m.Name(),
			"host_id": m.HostID(),
			"state":   m.State().String(),
			"players": names,
		})
	}
	c.JSON(http.StatusOK, gin.H{"matches": out, "total": len(out)})
}

// handleChannels lists the public chat channels.
func (s *Server) handleChannels(c *gin.Context) {
	channels := s.deps.Channels.List()
	out := make([]gin.H, 0, len(channels))
	for _, ch := range channels {
		out = append(out, gin.H{
			"name":    ch.Name,
			"topic":   ch.Topic,
			"members": ch.Count(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

// handleLeaderboard returns a cached leaderboard as JSON. Query parameters
// mode and variant select the board; both default to 0.
func (s *Server) handleLeaderboard(c *gin.Context) {
	mode, err := parseMode(c.DefaultQuery("mode", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := strconv.ParseUint(c.DefaultQuery("variant", "0"), 10, 8)
	if err != nil || osu.Variant(v) >= osu.VariantCount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid variant"})
		return
	}
	variant := osu.Variant(v)

	bm, err := s.deps.Beatmaps.Get(c.Request.Context(), c.Param("checksum"))
	if errors.Is(err, beatmap.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "beatmap not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"beatmap": bm.Info(),
		"status":  bm.Status().String(),
		"mode":    mode.String(),
		"variant": variant.String(),
		"scores":  bm.Entries(variant, mode),
	})
}
