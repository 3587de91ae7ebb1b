// Package video resolves pasted video links to metadata and transcripts.
package video

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Details is everything a chat needs to present a video.
type Details struct {
	VideoID      string `json:"video_id"`
	URL          string `json:"url"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// Source is the narrow interface consumed by the chat service.
type Source interface {
	Details(ctx context.Context, videoURL string) (Details, error)
	Transcript(ctx context.Context, videoURL string) (string, error)
}

var videoIDPattern = regexp.MustCompile(`youtu(?:\.be|be\.com)/(?:.*v(?:/|=)|(?:.*/)?)([a-zA-Z0-9_-]+)`)

// ExtractVideoID returns the id embedded in a youtube.com or youtu.be URL,
// or "" when the URL matches neither.
func ExtractVideoID(videoURL string) string {
	m := videoIDPattern.FindStringSubmatch(videoURL)
	if m == nil {
		return ""
	}
	return m[1]
}

type YouTube struct {
	httpClient *http.Client
	redis      *redis.Client
	cacheTTL   time.Duration
	logger     zerolog.Logger

	// Overridable in tests.
	oembedBase    string
	timedtextBase string
}

type Config struct {
	HTTPClient *http.Client
	Redis      *redis.Client
	CacheTTL   time.Duration
	Logger     zerolog.Logger
}

func NewYouTube(cfg Config) *YouTube {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	return &YouTube{
		httpClient:    cfg.HTTPClient,
		redis:         cfg.Redis,
		cacheTTL:      cfg.CacheTTL,
		logger:        cfg.Logger,
		oembedBase:    "https://noembed.com/embed",
		timedtextBase: "https://video.google.com/timedtext",
	}
}

var _ Source = (*YouTube)(nil)

// Details resolves title/description/thumbnail for the video, caching the
// result in redis keyed by video id.
func (y *YouTube) Details(ctx context.Context, videoURL string) (Details, error) {
	videoID := ExtractVideoID(videoURL)
	if videoID == "" {
		return Details{}, fmt.Errorf("no video id in url %q", videoURL)
	}

	cacheKey := "captionzen:video:" + videoID
	if y.redis != nil {
		if raw, err := y.redis.Get(ctx, cacheKey).Result(); err == nil {
			var d Details
			if err := json.Unmarshal([]byte(raw), &d); err == nil {
				return d, nil
			}
		}
	}

	embedURL := fmt.Sprintf("%s?url=%s", y.oembedBase,
		url.QueryEscape("https://www.youtube.com/watch?v="+videoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, embedURL, nil)
	if err != nil {
		return Details{}, fmt.Errorf("build oembed request: %w", err)
	}
	resp, err := y.httpClient.Do(req)
	if err != nil {
		return Details{}, fmt.Errorf("fetch video details: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Details{}, fmt.Errorf("oembed status %d", resp.StatusCode)
	}

	var embed struct {
		Title        string `json:"title"`
		Description  string `json:"description"`
		ThumbnailURL string `json:"thumbnail_url"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&embed); err != nil {
		return Details{}, fmt.Errorf("decode oembed response: %w", err)
	}
	if embed.Title == "" {
		return Details{}, fmt.Errorf("video %q has no metadata", videoID)
	}

	d := Details{
		VideoID:      videoID,
		URL:          videoURL,
		Title:        embed.Title,
		Description:  embed.Description,
		ThumbnailURL: embed.ThumbnailURL,
	}

	if y.redis != nil {
		if raw, err := json.Marshal(d); err == nil {
			if err := y.redis.Set(ctx, cacheKey, raw, y.cacheTTL).Err(); err != nil {
				y.logger.Warn().Err(err).Str("video_id", videoID).Msg("failed to cache video details")
			}
		}
	}

	return d, nil
}

// Transcript fetches the caption track and flattens it to one line of text.
// Returns "" without error when the video has no captions.
func (y *YouTube) Transcript(ctx context.Context, videoURL string) (string, error) {
	videoID := ExtractVideoID(videoURL)
	if videoID == "" {
		return "", fmt.Errorf("no video id in url %q", videoURL)
	}

	trackURL := fmt.Sprintf("%s?lang=en&v=%s", y.timedtextBase, url.QueryEscape(videoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trackURL, nil)
	if err != nil {
		return "", fmt.Errorf("build transcript request: %w", err)
	}
	resp, err := y.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch transcript: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("timedtext status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read transcript body: %w", err)
	}
	return flattenTranscript(body)
}

func flattenTranscript(raw []byte) (string, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return "", nil
	}

	var doc struct {
		Texts []struct {
			Value string `xml:",chardata"`
		} `xml:"text"`
	}
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("parse transcript xml: %w", err)
	}

	parts := make([]string, 0, len(doc.Texts))
	for _, t := range doc.Texts {
		v := strings.TrimSpace(html.UnescapeString(t.Value))
		if v == "" {
			continue
		}
		parts = append(parts, strings.ReplaceAll(v, "\n", " "))
	}
	return strings.Join(parts, " "), nil
}
