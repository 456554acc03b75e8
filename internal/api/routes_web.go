package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yume-project/yume/internal/beatmap"
	"github.com/yume-project/yume/internal/db"
	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/scoring"
)

const maxReplaySize = 8 << 20

// handleGetScores serves the leaderboard text for a beatmap. The client
// sends the checksum in c, the mode in m, the active mods and its
// credentials in us/ha.
func (s *Server) handleGetScores(c *gin.Context) {
	ctx := c.Request.Context()
	user, err := s.deps.Presences.Authenticate(ctx, c.Query("us"), c.Query("ha"))
	if err != nil {
		c.String(http.StatusOK, "error: pass")
		return
	}

	mode, err := parseMode(c.Query("m"))
	if err != nil {
		c.String(http.StatusOK, "error: no")
		return
	}
	mods, _ := strconv.ParseUint(c.Query("mods"), 10, 32)
	variant := osu.Mods(mods).Variant()
	checksum := c.Query("c")

	bm, err := s.deps.Beatmaps.Get(ctx, checksum)
	if errors.Is(err, beatmap.ErrNotFound) {
		c.String(http.StatusOK, "%d|false", int32(osu.StatusNotSubmitted))
		return
	}
	if err != nil {
		log.Error().Err(err).Str("checksum", checksum).Msg("failed to load beatmap")
		c.String(http.StatusOK, "error: no")
		return
	}

	var best *db.Score
	if bm.Status().HasLeaderboard() {
		best, err = s.deps.Scores.BestScore(ctx, user.ID, checksum, mode, variant)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			log.Warn().Err(err).Int32("user_id", user.ID).Str("checksum", checksum).Msg("failed to load personal best")
		}
	}

	c.String(http.StatusOK, bm.Response(variant, mode, best))
}

// handleSubmitScore ingests one play. The score form field is the
// colon-separated play record, pass is the password digest, and an
// optional replay file may accompany a passed play.
func (s *Server) handleSubmitScore(c *gin.Context) {
	ctx := c.Request.Context()

	sub, username, err := parseSubmission(c.PostForm("score"))
	if err != nil {
		log.Warn().Err(err).Str("client_ip", c.ClientIP()).Msg("malformed score submission")
		c.String(http.StatusBadRequest, "error: no")
		return
	}

	user, err := s.deps.Presences.Authenticate(ctx, username, c.PostForm("pass"))
	if err != nil {
		c.String(http.StatusOK, "error: pass")
		return
	}
	sub.Score.UserID = user.ID
	sub.Score.Username = user.Username

	if sub.Passed {
		if fh, err := c.FormFile("replay"); err == nil {
			f, err := fh.Open()
			if err == nil {
				sub.Replay, err = io.ReadAll(io.LimitReader(f, maxReplaySize))
				f.Close()
			}
			if err != nil {
				log.Warn().Err(err).Int32("user_id", user.ID).Msg("failed to read replay upload")
			}
		}
	}

	res, err := s.deps.Pipeline.Ingest(ctx, sub)
	switch {
	case errors.Is(err, scoring.ErrUnsubmittedBeatmap):
		c.String(http.StatusOK, "error: beatmap")
		return
	case err != nil:
		log.Error().Err(err).Int32("user_id", user.ID).Str("checksum", sub.Score.Checksum).Msg("score submission failed")
		c.String(http.StatusOK, "error: no")
		return
	}

	if p, ok := s.deps.Presences.GetByID(user.ID); ok {
		p.Touch()
	}
	c.String(http.StatusOK, "ok|%d|%s", res.Score.ID, res.Score.Completed)
}

// handleGetReplay serves the stored replay of a score by id.
func (s *Server) handleGetReplay(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := s.deps.Presences.Authenticate(ctx, c.Query("u"), c.Query("h")); err != nil {
		c.String(http.StatusOK, "error: pass")
		return
	}

	id, err := strconv.ParseInt(c.Query("c"), 10, 64)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	score, err := s.deps.Scores.GetScore(ctx, id)
	if err != nil || score.ReplayChecksum == "" {
		c.Status(http.StatusNotFound)
		return
	}
	data, err := s.deps.Scores.GetReplay(ctx, score.ReplayChecksum)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, octetStream, data)
}

func parseMode(v string) (osu.PlayMode, error) {
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil || !osu.PlayMode(n).Valid() {
		return 0, fmt.Errorf("invalid play mode %q", v)
	}
	return osu.PlayMode(n), nil
}

// parseSubmission reads the play record
// "checksum:username:online-checksum:n300:n100:n50:geki:katu:miss:score:combo:perfect:grade:mods:passed:mode[:...]".
func parseSubmission(record string) (scoring.Submission, string, error) {
	var sub scoring.Submission

	f := strings.Split(strings.TrimSpace(record), ":")
	if len(f) < 16 {
		return sub, "", fmt.Errorf("expected at least 16 fields, got %d", len(f))
	}

	// Hit counts and combo are int32 columns; only the score is 64-bit.
	ints := make([]int64, 0, 8)
	for _, i := range []int{3, 4, 5, 6, 7, 8, 9, 10} {
		bits := 32
		if i == 9 {
			bits = 64
		}
		n, err := strconv.ParseInt(f[i], 10, bits)
		if err != nil || n < 0 {
			return sub, "", fmt.Errorf("field %d: invalid count %q", i, f[i])
		}
		ints = append(ints, n)
	}
	mods, err := strconv.ParseUint(f[13], 10, 32)
	if err != nil {
		return sub, "", fmt.Errorf("invalid mods %q", f[13])
	}
	mode, err := parseMode(f[15])
	if err != nil {
		return sub, "", err
	}

	sub.Score = db.Score{
		Checksum:  f[0],
		Count300:  int32(ints[0]),
		Count100:  int32(ints[1]),
		Count50:   int32(ints[2]),
		CountGeki: int32(ints[3]),
		CountKatu: int32(ints[4]),
		CountMiss: int32(ints[5]),
		Score:     ints[6],
		MaxCombo:  int32(ints[7]),
		Perfect:   strings.EqualFold(f[11], "true"),
		Mods:      osu.Mods(mods),
		Mode:      mode,
	}
	sub.Passed = strings.EqualFold(f[14], "true")
	return sub, strings.TrimSpace(f[1]), nil
}
