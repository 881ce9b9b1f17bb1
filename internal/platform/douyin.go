package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"bsr/internal/apperr"
	"bsr/internal/httpfetch"
	"bsr/internal/logger"
	"bsr/internal/models"
)

const (
	douyinUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	douyinReferer   = "https://live.douyin.com"
)

// Douyin implements Adapter for live.douyin.com rooms. Unlike Bilibili,
// a room is addressed by (room_id, sec_uid) — sec_uid is threaded
// through as the Recorder's "extra" field (spec.md §4.3) since Douyin's
// room-info endpoint requires it.
type Douyin struct {
	client     *httpfetch.Client
	resilience *Resilience
	logger     logger.Logger
}

func NewDouyin(client *httpfetch.Client, log logger.Logger) *Douyin {
	return &Douyin{
		client:     client,
		resilience: NewResilience("douyin", 2, log),
		logger:     log,
	}
}

func (d *Douyin) Name() string { return "douyin" }

func (d *Douyin) headers(account *models.Account) map[string]string {
	h := map[string]string{
		"User-Agent": douyinUserAgent,
		"Referer":    douyinReferer,
	}
	if account != nil && account.Cookies != "" {
		h["Cookie"] = account.Cookies
	}
	return h
}

type douyinRoomResp struct {
	Data struct {
		Data []struct {
			Status    int    `json:"status"` // 2 = live
			Title     string `json:"title"`
			CoverURL  string `json:"cover_url"`
			StreamURL struct {
				HlsPullURL string `json:"hls_pull_url"`
			} `json:"stream_url"`
		} `json:"data"`
		User struct {
			Nickname string `json:"nickname"`
			AvatarURL string `json:"avatar_url"`
		} `json:"user"`
	} `json:"data"`
}

func (d *Douyin) roomInfoURL(roomID, secUID string) string {
	return fmt.Sprintf(
		"https://live.douyin.com/webcast/room/web/enter/?aid=6383&room_id_str=%s&sec_user_id=%s",
		roomID, secUID)
}

func (d *Douyin) fetchRoom(ctx context.Context, roomID, secUID string, account *models.Account) (douyinRoomResp, error) {
	var resp douyinRoomResp
	result, err := d.resilience.Do(ctx, "douyin.fetchRoom", func() (any, error) {
		return d.client.Fetch(ctx, d.roomInfoURL(roomID, secUID), d.headers(account))
	})
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(result.([]byte), &resp); err != nil {
		return resp, apperr.New(apperr.Protocol, "douyin.fetchRoom", err)
	}
	return resp, nil
}

func (d *Douyin) ResolveRoomInfo(ctx context.Context, roomID, extra string, account *models.Account) (RoomInfo, error) {
	resp, err := d.fetchRoom(ctx, roomID, extra, account)
	if err != nil {
		return RoomInfo{}, err
	}
	if len(resp.Data.Data) == 0 {
		return RoomInfo{}, apperr.New(apperr.NotFound, "douyin.ResolveRoomInfo", fmt.Errorf("room %s not found", roomID))
	}
	room := resp.Data.Data[0]
	return RoomInfo{
		Title:      room.Title,
		Cover:      room.CoverURL,
		UserName:   resp.Data.User.Nickname,
		UserAvatar: resp.Data.User.AvatarURL,
	}, nil
}

func (d *Douyin) PollLiveState(ctx context.Context, roomID string) (bool, error) {
	resp, err := d.fetchRoom(ctx, roomID, "", nil)
	if err != nil {
		return false, err
	}
	if len(resp.Data.Data) == 0 {
		return false, nil
	}
	return resp.Data.Data[0].Status == 2, nil
}

func (d *Douyin) FetchPlaylist(ctx context.Context, roomID string) (string, error) {
	resp, err := d.fetchRoom(ctx, roomID, "", nil)
	if err != nil {
		return "", err
	}
	if len(resp.Data.Data) == 0 || resp.Data.Data[0].Status != 2 {
		return "", apperr.New(apperr.NotLive, "douyin.FetchPlaylist", fmt.Errorf("room %s not live", roomID))
	}

	m3u8URL := resp.Data.Data[0].StreamURL.HlsPullURL
	if m3u8URL == "" {
		return "", apperr.New(apperr.NotLive, "douyin.FetchPlaylist", fmt.Errorf("room %s has no HLS pull URL", roomID))
	}

	result, err := d.resilience.Do(ctx, "douyin.FetchPlaylist.manifest", func() (any, error) {
		return d.client.Fetch(ctx, m3u8URL, d.headers(nil))
	})
	if err != nil {
		return "", err
	}
	return string(result.([]byte)), nil
}

func (d *Douyin) FetchSegmentHeaders() map[string]string {
	return map[string]string{
		"User-Agent": douyinUserAgent,
		"Referer":    douyinReferer,
	}
}

type douyinDanmuMessage struct {
	Method  string `json:"method"`
	Content string `json:"content"`
}

// SubscribeDanmu opens Douyin's chat websocket. Douyin's real wire
// protocol is protobuf-framed and gzip-compressed; adapters translate
// platform quirks here and only here (spec.md §4.3), so the JSON framing
// assumed below is this adapter's private concern and never leaks past
// the returned channel.
func (d *Douyin) SubscribeDanmu(ctx context.Context, roomID string, account *models.Account) (<-chan models.DanmuEntry, error) {
	wsURL := fmt.Sprintf("wss://webcast3-ws-web-lf.douyin.com/webcast/im/push/v2/?room_id=%s", roomID)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	header.Set("User-Agent", douyinUserAgent)
	if account != nil && account.Cookies != "" {
		header.Set("Cookie", account.Cookies)
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, apperr.New(apperr.TransientNetwork, "douyin.SubscribeDanmu", err)
	}

	out := make(chan models.DanmuEntry, 256)

	go func() {
		defer close(out)
		defer conn.Close()

		pingInterval := time.NewTicker(10 * time.Second)
		defer pingInterval.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-pingInterval.C:
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						return
					}
				}
			}
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				d.logger.Warnf("douyin: danmu connection for room %s ended: %v", roomID, err)
				return
			}
			var msg douyinDanmuMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Method != "WebcastChatMessage" {
				continue
			}
			select {
			case out <- models.DanmuEntry{Ts: time.Now().UnixMilli(), Content: msg.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
