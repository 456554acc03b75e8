// Package connector implements the HTTP clients for the external services
// Yume consumes: the beatmap metadata mirror, the .osu file source and the
// performance calculator.
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yume-project/yume/internal/config"
	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/util"
)

const userAgent = "yume/1.0"

// ErrMirrorNotFound is returned when the mirror does not know a beatmap.
var ErrMirrorNotFound = errors.New("beatmap not found on mirror")

// BeatmapInfo is one difficulty as described by the mirror.
type BeatmapInfo struct {
	Checksum   string
	ID         int32
	SetID      int32
	Status     osu.RankedStatus
	Mode       osu.PlayMode
	Artist     string
	Title      string
	Difficulty string
	Creator    string
	BPM        float64
	CS         float64
	OD         float64
	AR         float64
	HP         float64
	Stars      float64
}

type mirrorSet struct {
	SetID            int32         `json:"SetID"`
	RankedStatus     int           `json:"RankedStatus"`
	Artist           string        `json:"Artist"`
	Title            string        `json:"Title"`
	Creator          string        `json:"Creator"`
	ChildrenBeatmaps []mirrorChild `json:"ChildrenBeatmaps"`
}

type mirrorChild struct {
	BeatmapID        int32   `json:"BeatmapID"`
	ParentSetID      int32   `json:"ParentSetID"`
	DiffName         string  `json:"DiffName"`
	FileMD5          string  `json:"FileMD5"`
	Mode             int     `json:"Mode"`
	BPM              float64 `json:"BPM"`
	AR               float64 `json:"AR"`
	OD               float64 `json:"OD"`
	CS               float64 `json:"CS"`
	HP               float64 `json:"HP"`
	DifficultyRating float64 `json:"DifficultyRating"`
}

// mirrorStatus maps the web API ranked status to the client one.
func mirrorStatus(api int) osu.RankedStatus {
	switch api {
	case 1:
		return osu.StatusRanked
	case 2:
		return osu.StatusApproved
	case 3:
		return osu.StatusQualified
	case 4:
		return osu.StatusLoved
	default: // graveyard, wip, pending
		return osu.StatusPending
	}
}

// MirrorClient looks beatmaps up on a metadata mirror.
type MirrorClient struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewMirrorClient creates a mirror client.
func NewMirrorClient(cfg config.MirrorConfig) *MirrorClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MirrorClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		logger: util.ComponentLogger("mirror"),
	}
}

// Lookup returns the difficulty with the given file checksum.
func (c *MirrorClient) Lookup(ctx context.Context, checksum string) (*BeatmapInfo, error) {
	set, err := c.fetch(ctx, "/api/md5/"+checksum)
	if err != nil {
		return nil, err
	}
	for _, info := range set {
		if strings.EqualFold(info.Checksum, checksum) {
			info := info
			return &info, nil
		}
	}
	return nil, fmt.Errorf("lookup %s: %w", checksum, ErrMirrorNotFound)
}

// LookupSet returns every difficulty of a beatmap set.
func (c *MirrorClient) LookupSet(ctx context.Context, setID int32) ([]BeatmapInfo, error) {
	return c.fetch(ctx, fmt.Sprintf("/api/s/%d", setID))
}

func (c *MirrorClient) fetch(ctx context.Context, path string) ([]BeatmapInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mirror request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("mirror %s: %w", path, ErrMirrorNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("mirror returned status %d: %s", resp.StatusCode, string(body))
	}

	var set mirrorSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode mirror response: %w", err)
	}
	if len(set.ChildrenBeatmaps) == 0 {
		return nil, fmt.Errorf("mirror %s: %w", path, ErrMirrorNotFound)
	}

	status := mirrorStatus(set.RankedStatus)
	out := make([]BeatmapInfo, 0, len(set.ChildrenBeatmaps))
	for _, child := range set.ChildrenBeatmaps {
		out = append(out, BeatmapInfo{
			Checksum:   child.FileMD5,
			ID:         child.BeatmapID,
			SetID:      child.ParentSetID,
			Status:     status,
			Mode:       osu.PlayMode(child.Mode),
			Artist:     set.Artist,
			Title:      set.Title,
			Difficulty: child.DiffName,
			Creator:    set.Creator,
			BPM:        child.BPM,
			CS:         child.CS,
			OD:         child.OD,
			AR:         child.AR,
			HP:         child.HP,
			Stars:      child.DifficultyRating,
		})
	}

	c.logger.Debug().Str("path", path).Int("difficulties", len(out)).Msg("mirror lookup")
	return out, nil
}
