package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yume-project/yume/internal/config"
	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/util"
)

// ErrOracle wraps every failure of the performance calculator.
var ErrOracle = errors.New("performance oracle failed")

// PlayAttributes is what the oracle needs besides the beatmap file.
type PlayAttributes struct {
	Mods      osu.Mods
	Mode      osu.PlayMode
	Count300  int32
	Count100  int32
	Count50   int32
	CountGeki int32
	CountKatu int32
	CountMiss int32
	MaxCombo  int32
}

// OracleClient asks a calculator service for performance points. The
// beatmap file is uploaded as multipart form data alongside the play.
type OracleClient struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewOracleClient creates an oracle client.
func NewOracleClient(cfg config.OracleConfig) *OracleClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OracleClient{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		logger: util.ComponentLogger("oracle"),
	}
}

// Performance returns the performance points for a play on beatmap.
func (c *OracleClient) Performance(ctx context.Context, beatmap []byte, play PlayAttributes) (float64, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := map[string]int64{
		"mods":  int64(play.Mods),
		"mode":  int64(play.Mode),
		"n300":  int64(play.Count300),
		"n100":  int64(play.Count100),
		"n50":   int64(play.Count50),
		"ngeki": int64(play.CountGeki),
		"nkatu": int64(play.CountKatu),
		"nmiss": int64(play.CountMiss),
		"combo": int64(play.MaxCombo),
	}
	for name, v := range fields {
		if err := writer.WriteField(name, strconv.FormatInt(v, 10)); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrOracle, err)
		}
	}

	part, err := writer.CreateFormFile("beatmap", "beatmap.osu")
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create form file: %v", ErrOracle, err)
	}
	if _, err := part.Write(beatmap); err != nil {
		return 0, fmt.Errorf("%w: failed to copy beatmap: %v", ErrOracle, err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOracle, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOracle, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("%w: status %d: %s", ErrOracle, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		PP float64 `json:"pp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("%w: failed to decode response: %v", ErrOracle, err)
	}
	if result.PP < 0 {
		return 0, fmt.Errorf("%w: negative pp %f", ErrOracle, result.PP)
	}

	c.logger.Trace().Float64("pp", result.PP).Uint32("mods", uint32(play.Mods)).Msg("oracle scored play")
	return result.PP, nil
}

// OsuFiles serves .osu files from a local directory, downloading missing
// ones by beatmap id.
type OsuFiles struct {
	dir     string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewOsuFiles creates a file source rooted at cfg.BeatmapDirectory.
func NewOsuFiles(cfg config.OracleConfig) *OsuFiles {
	return &OsuFiles{
		dir:     cfg.BeatmapDirectory,
		baseURL: strings.TrimRight(cfg.OsuFileURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  util.ComponentLogger("osu_files"),
	}
}

// Get returns the .osu file for checksum, fetching it by beatmapID when
// it is not cached yet. The downloaded bytes must hash to checksum.
func (f *OsuFiles) Get(ctx context.Context, checksum string, beatmapID int32) ([]byte, error) {
	path := filepath.Join(f.dir, checksum+".osu")
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}
	if beatmapID <= 0 || f.baseURL == "" {
		return nil, fmt.Errorf("beatmap file %s not available", checksum)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%d", f.baseURL, beatmapID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download beatmap %d: %w", beatmapID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("beatmap %d download returned status %d", beatmapID, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read beatmap %d: %w", beatmapID, err)
	}
	if got := util.MD5Hex(data); got != strings.ToLower(checksum) {
		return nil, fmt.Errorf("beatmap %d checksum mismatch: got %s", beatmapID, got)
	}

	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create beatmap directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		f.logger.Warn().Err(err).Str("path", path).Msg("failed to cache beatmap file")
	}
	f.logger.Debug().Int32("beatmap_id", beatmapID).Msg("downloaded beatmap file")
	return data, nil
}
