package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"google.golang.org/api/option"
)

func newFakeYouTube(t *testing.T, handler http.HandlerFunc) *YouTubeProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewYouTubeProvider(context.Background(), "test-key", "UC123",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func TestYouTubeProvider_Broadcasts(t *testing.T) {
	var videoIDs string
	p := newFakeYouTube(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/search"):
			if r.URL.Query().Get("channelId") != "UC123" {
				t.Errorf("unexpected channel %q", r.URL.Query().Get("channelId"))
			}
			if r.URL.Query().Get("eventType") == "live" {
				w.Write([]byte(`{"items":[{"id":{"kind":"youtube#video","videoId":"live1"}}]}`))
				return
			}
			w.Write([]byte(`{"items":[{"id":{"kind":"youtube#video","videoId":"soon1"}}]}`))
		case strings.HasSuffix(r.URL.Path, "/videos"):
			videoIDs = strings.Join(r.URL.Query()["id"], ",")
			w.Write([]byte(`{"items":[
				{"id":"live1","snippet":{"title":"Live class","liveBroadcastContent":"live"},
				 "liveStreamingDetails":{"scheduledStartTime":"2026-04-01T14:50:00Z","actualStartTime":"2026-04-01T14:55:00Z"}},
				{"id":"soon1","snippet":{"title":"Next class","liveBroadcastContent":"upcoming"},
				 "liveStreamingDetails":{"scheduledStartTime":"2026-04-01T15:10:00Z"}},
				{"id":"old1","snippet":{"title":"Yesterday","liveBroadcastContent":"none"},
				 "liveStreamingDetails":{"actualStartTime":"2026-03-31T15:00:00Z","actualEndTime":"2026-03-31T16:00:00Z"}}
			]}`))
		default:
			http.NotFound(w, r)
		}
	})

	list, err := p.Broadcasts(context.Background(), []string{"live1", "old1"})
	if err != nil {
		t.Fatalf("broadcasts: %v", err)
	}
	if videoIDs != "live1,soon1,old1" {
		t.Fatalf("videos.list ids = %q", videoIDs)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 broadcasts, got %d", len(list))
	}
	if list[0].ActualStart == nil || list[0].LiveState != "live" {
		t.Fatalf("live broadcast not parsed: %+v", list[0])
	}
	if list[2].ActualEnd == nil {
		t.Fatalf("ended broadcast must carry its end: %+v", list[2])
	}

	s, err := normalize(list[2], now)
	if err != nil || s.Status != "ended" {
		t.Fatalf("expected ended session, got %+v err=%v", s, err)
	}
}

func TestYouTubeProvider_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		reason    string
		auth      bool
		transient bool
	}{
		{"forbidden", http.StatusForbidden, "forbidden", true, false},
		{"bad key", http.StatusBadRequest, "keyInvalid", true, false},
		{"quota", http.StatusForbidden, "quotaExceeded", false, true},
		{"backend", http.StatusInternalServerError, "backendError", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeYouTube(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"code":` + strconv.Itoa(tt.status) +
					`,"message":"nope","errors":[{"reason":"` + tt.reason + `","message":"nope"}]}}`))
			})
			_, err := p.Broadcasts(context.Background(), nil)
			if IsAuth(err) != tt.auth || IsTransient(err) != tt.transient {
				t.Fatalf("err = %v (auth=%v transient=%v)", err, IsAuth(err), IsTransient(err))
			}
		})
	}
}
