package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/aura-webinar/livesync/internal/models"
)

// videosPerCall is the YouTube Data API id limit for videos.list.
const videosPerCall = 50

// YouTubeProvider reads a channel's broadcasts from the YouTube Data API v3.
type YouTubeProvider struct {
	svc       *youtube.Service
	channelID string
}

// NewYouTubeProvider builds a provider authenticated with an API key. Extra options
// (endpoint, HTTP client) are passed to the API client.
func NewYouTubeProvider(ctx context.Context, apiKey, channelID string, opts ...option.ClientOption) (*YouTubeProvider, error) {
	if apiKey == "" || channelID == "" {
		return nil, &AuthError{Source: models.SourceHostedVideo, Err: errMissingCredential}
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &YouTubeProvider{svc: svc, channelID: channelID}, nil
}

// Broadcasts implements VideoProvider: search.list finds live and upcoming ids, then
// videos.list fills in the streaming timestamps for those and the known ids.
func (p *YouTubeProvider) Broadcasts(ctx context.Context, known []string) ([]HostedVideoBroadcast, error) {
	ids := make([]string, 0, len(known))
	dedup := make(map[string]bool)
	add := func(id string) {
		if id != "" && !dedup[id] {
			dedup[id] = true
			ids = append(ids, id)
		}
	}
	for _, eventType := range []string{"live", "upcoming"} {
		found, err := p.search(ctx, eventType)
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			add(id)
		}
	}
	for _, id := range known {
		add(id)
	}

	var out []HostedVideoBroadcast
	for start := 0; start < len(ids); start += videosPerCall {
		end := min(start+videosPerCall, len(ids))
		resp, err := p.svc.Videos.List([]string{"snippet", "liveStreamingDetails"}).
			Id(ids[start:end]...).
			Context(ctx).
			Do()
		if err != nil {
			return nil, classifyYouTube(err)
		}
		for _, v := range resp.Items {
			out = append(out, toBroadcast(v))
		}
	}
	return out, nil
}

func (p *YouTubeProvider) search(ctx context.Context, eventType string) ([]string, error) {
	resp, err := p.svc.Search.List([]string{"id"}).
		ChannelId(p.channelID).
		EventType(eventType).
		Type("video").
		MaxResults(25).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyYouTube(err)
	}
	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id != nil {
			ids = append(ids, item.Id.VideoId)
		}
	}
	return ids, nil
}

func toBroadcast(v *youtube.Video) HostedVideoBroadcast {
	b := HostedVideoBroadcast{VideoID: v.Id}
	if v.Snippet != nil {
		b.Title = v.Snippet.Title
		b.Description = v.Snippet.Description
		b.LiveState = v.Snippet.LiveBroadcastContent
	}
	if d := v.LiveStreamingDetails; d != nil {
		b.ScheduledStart = parseRFC3339(d.ScheduledStartTime)
		b.ActualStart = parseRFC3339(d.ActualStartTime)
		b.ScheduledEnd = parseRFC3339(d.ScheduledEndTime)
		b.ActualEnd = parseRFC3339(d.ActualEndTime)
	}
	return b
}

func parseRFC3339(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// classifyYouTube maps API errors onto the sync error taxonomy. Quota errors come back
// as 403 but clear on their own, so they are transient.
func classifyYouTube(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &TransientError{Source: models.SourceHostedVideo, Err: err}
	}
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded":
			return &TransientError{Source: models.SourceHostedVideo, Err: err}
		case "keyInvalid", "keyExpired":
			return &AuthError{Source: models.SourceHostedVideo, Err: err}
		}
	}
	switch cerr := classifyStatus(models.SourceHostedVideo, gerr.Code).(type) {
	case *AuthError:
		cerr.Err = err
		return cerr
	case *TransientError:
		cerr.Err = err
		return cerr
	case nil:
		return err
	default:
		return fmt.Errorf("%w: %v", cerr, err)
	}
}
