package platform

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"bsr/internal/apperr"
	"bsr/internal/httpfetch"
	"bsr/internal/logger"
	"bsr/internal/models"
)

const (
	bilibiliUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	bilibiliReferer    = "https://live.bilibili.com"
	bilibiliDanmuHost  = "wss://broadcastlv.chat.bilibili.com/sub"
)

// Bilibili implements Adapter for live.bilibili.com rooms. The adapter
// does not report a live_id; the recorder assigns one from its own clock
// (epoch milliseconds) when the first segment is cached.
type Bilibili struct {
	client     *httpfetch.Client
	resilience *Resilience
	logger     logger.Logger
}

func NewBilibili(client *httpfetch.Client, log logger.Logger) *Bilibili {
	return &Bilibili{
		client:     client,
		resilience: NewResilience("bilibili", 3, log),
		logger:     log,
	}
}

func (b *Bilibili) Name() string { return "bilibili" }

type bilibiliRoomInfoResp struct {
	Code int `json:"code"`
	Data struct {
		Title      string `json:"title"`
		Cover      string `json:"user_cover"`
		LiveStatus int    `json:"live_status"`
		UID        int64  `json:"uid"`
	} `json:"data"`
}

func (b *Bilibili) headers(account *models.Account) map[string]string {
	h := map[string]string{
		"User-Agent": bilibiliUserAgent,
		"Referer":    bilibiliReferer,
	}
	if account != nil && account.Cookies != "" {
		h["Cookie"] = account.Cookies
	}
	return h
}

func (b *Bilibili) ResolveRoomInfo(ctx context.Context, roomID, extra string, account *models.Account) (RoomInfo, error) {
	url := fmt.Sprintf("https://api.live.bilibili.com/room/v1/Room/get_info?room_id=%s", roomID)

	result, err := b.resilience.Do(ctx, "bilibili.ResolveRoomInfo", func() (any, error) {
		return b.client.Fetch(ctx, url, b.headers(account))
	})
	if err != nil {
		return RoomInfo{}, err
	}

	var resp bilibiliRoomInfoResp
	if err := json.Unmarshal(result.([]byte), &resp); err != nil {
		return RoomInfo{}, apperr.New(apperr.Protocol, "bilibili.ResolveRoomInfo", err)
	}
	if resp.Code != 0 {
		return RoomInfo{}, apperr.Newf(apperr.Protocol, "bilibili.ResolveRoomInfo", "unexpected API code %d for room %s", resp.Code, roomID)
	}

	return RoomInfo{
		Title: resp.Data.Title,
		Cover: resp.Data.Cover,
	}, nil
}

func (b *Bilibili) PollLiveState(ctx context.Context, roomID string) (bool, error) {
	info, err := b.ResolveRoomInfo(ctx, roomID, "", nil)
	if err != nil {
		if apperr.Is(err, apperr.Protocol) {
			return false, apperr.New(apperr.NotLive, "bilibili.PollLiveState", err)
		}
		return false, err
	}
	_ = info
	url := fmt.Sprintf("https://api.live.bilibili.com/room/v1/Room/get_info?room_id=%s", roomID)
	result, err := b.resilience.Do(ctx, "bilibili.PollLiveState", func() (any, error) {
		return b.client.Fetch(ctx, url, b.headers(nil))
	})
	if err != nil {
		return false, err
	}
	var resp bilibiliRoomInfoResp
	if err := json.Unmarshal(result.([]byte), &resp); err != nil {
		return false, apperr.New(apperr.Protocol, "bilibili.PollLiveState", err)
	}
	return resp.Data.LiveStatus == 1, nil
}

type bilibiliPlayInfoResp struct {
	Code int `json:"code"`
	Data struct {
		PlayurlInfo struct {
			Playurl struct {
				Stream []struct {
					Format []struct {
						Codec []struct {
							UrlInfo []struct {
								Host      string `json:"host"`
								Extra     string `json:"extra"`
								StreamTTL int    `json:"stream_ttl"`
							} `json:"url_info"`
							BaseUrl string `json:"base_url"`
						} `json:"codec"`
					} `json:"format"`
				} `json:"stream"`
			} `json:"playurl"`
		} `json:"playurl_info"`
	} `json:"data"`
}

// FetchPlaylist resolves the current HLS URL via getRoomPlayInfo and
// returns the fetched manifest text.
func (b *Bilibili) FetchPlaylist(ctx context.Context, roomID string) (string, error) {
	infoURL := fmt.Sprintf(
		"https://api.live.bilibili.com/xlive/web-room/v2/index/getRoomPlayInfo?room_id=%s&protocol=0,1&format=0,1,2&codec=0,1&qn=10000",
		roomID)

	result, err := b.resilience.Do(ctx, "bilibili.FetchPlaylist", func() (any, error) {
		return b.client.Fetch(ctx, infoURL, b.headers(nil))
	})
	if err != nil {
		return "", err
	}

	var resp bilibiliPlayInfoResp
	if err := json.Unmarshal(result.([]byte), &resp); err != nil {
		return "", apperr.New(apperr.Protocol, "bilibili.FetchPlaylist", err)
	}

	streams := resp.Data.PlayurlInfo.Playurl.Stream
	for _, stream := range streams {
		for _, format := range stream.Format {
			for _, codec := range format.Codec {
				if len(codec.UrlInfo) == 0 || codec.BaseUrl == "" {
					continue
				}
				m3u8URL := codec.UrlInfo[0].Host + codec.BaseUrl + codec.UrlInfo[0].Extra

				manifestResult, err := b.resilience.Do(ctx, "bilibili.FetchPlaylist.manifest", func() (any, error) {
					return b.client.Fetch(ctx, m3u8URL, b.headers(nil))
				})
				if err != nil {
					return "", err
				}
				return string(manifestResult.([]byte)), nil
			}
		}
	}

	return "", apperr.New(apperr.NotLive, "bilibili.FetchPlaylist", fmt.Errorf("room %s has no active HLS stream", roomID))
}

func (b *Bilibili) FetchSegmentHeaders() map[string]string {
	return map[string]string{
		"User-Agent": bilibiliUserAgent,
		"Referer":    bilibiliReferer,
	}
}

// Bilibili danmu wire framing: a 16-byte header (packet length, header
// length, protocol version, operation, sequence) followed by a body.
const (
	bilibiliOpHeartbeat    = 2
	bilibiliOpHeartbeatAck = 3
	bilibiliOpMessage      = 5
	bilibiliOpAuth         = 7
	bilibiliOpAuthAck      = 8
)

// maxMissedPongs is how many consecutive heartbeats can go unacknowledged
// before the connection is considered dead and closed to force a
// reconnect (spec.md §4.4).
const maxMissedPongs = 3

func encodeBilibiliPacket(op int32, body []byte) []byte {
	packet := make([]byte, 16+len(body))
	binary.BigEndian.PutUint32(packet[0:4], uint32(16+len(body)))
	binary.BigEndian.PutUint16(packet[4:6], 16)
	binary.BigEndian.PutUint16(packet[6:8], 1)
	binary.BigEndian.PutUint32(packet[8:12], uint32(op))
	binary.BigEndian.PutUint32(packet[12:16], 1)
	copy(packet[16:], body)
	return packet
}

type bilibiliAuthBody struct {
	UID      int64  `json:"uid"`
	RoomID   int64  `json:"roomid"`
	ProtoVer int    `json:"protover"`
	Platform string `json:"platform"`
	Type     int    `json:"type"`
	Key      string `json:"key,omitempty"`
}

type bilibiliDanmuFrame struct {
	Cmd  string `json:"cmd"`
	Info []any  `json:"info"`
}

// SubscribeDanmu opens one websocket connection to Bilibili's chat relay
// and decodes DANMU_MSG frames into DanmuEntry. The returned channel is
// closed when the connection ends; internal/danmu owns reconnection.
func (b *Bilibili) SubscribeDanmu(ctx context.Context, roomID string, account *models.Account) (<-chan models.DanmuEntry, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	header.Set("User-Agent", bilibiliUserAgent)

	conn, _, err := dialer.DialContext(ctx, bilibiliDanmuHost, header)
	if err != nil {
		return nil, apperr.New(apperr.TransientNetwork, "bilibili.SubscribeDanmu", err)
	}

	var roomIDNum int64
	fmt.Sscanf(roomID, "%d", &roomIDNum)

	auth := bilibiliAuthBody{RoomID: roomIDNum, ProtoVer: 1, Platform: "web", Type: 2}
	authBody, err := json.Marshal(auth)
	if err != nil {
		conn.Close()
		return nil, apperr.New(apperr.Protocol, "bilibili.SubscribeDanmu", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, encodeBilibiliPacket(bilibiliOpAuth, authBody)); err != nil {
		conn.Close()
		return nil, apperr.New(apperr.TransientNetwork, "bilibili.SubscribeDanmu", err)
	}

	out := make(chan models.DanmuEntry, 256)

	go func() {
		defer close(out)
		defer conn.Close()

		heartbeat := time.NewTicker(30 * time.Second)
		defer heartbeat.Stop()

		var missedPongs atomic.Int32

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-heartbeat.C:
					if missedPongs.Load() >= maxMissedPongs {
						b.logger.Warnf("bilibili: danmu connection for room %s missed %d pongs, forcing reconnect", roomID, maxMissedPongs)
						conn.Close()
						return
					}
					missedPongs.Add(1)
					if err := conn.WriteMessage(websocket.BinaryMessage, encodeBilibiliPacket(bilibiliOpHeartbeat, nil)); err != nil {
						return
					}
				}
			}
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				b.logger.Warnf("bilibili: danmu connection for room %s ended: %v", roomID, err)
				return
			}
			for _, frame := range splitBilibiliFrames(data) {
				if isBilibiliHeartbeatAck(frame) {
					missedPongs.Store(0)
					continue
				}
				entry, ok := decodeBilibiliDanmuFrame(frame)
				if !ok {
					continue
				}
				select {
				case out <- entry:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// splitBilibiliFrames splits a websocket message into its constituent
// length-prefixed packets (the server batches multiple frames per
// message).
func splitBilibiliFrames(data []byte) [][]byte {
	var frames [][]byte
	for len(data) >= 16 {
		packetLen := binary.BigEndian.Uint32(data[0:4])
		if packetLen < 16 || int(packetLen) > len(data) {
			break
		}
		frames = append(frames, data[:packetLen])
		data = data[packetLen:]
	}
	return frames
}

// isBilibiliHeartbeatAck reports whether packet is a heartbeat ack frame,
// the signal that resets the missed-pong counter.
func isBilibiliHeartbeatAck(packet []byte) bool {
	return len(packet) >= 16 && binary.BigEndian.Uint32(packet[8:12]) == bilibiliOpHeartbeatAck
}

func decodeBilibiliDanmuFrame(packet []byte) (models.DanmuEntry, bool) {
	if len(packet) < 16 {
		return models.DanmuEntry{}, false
	}
	op := binary.BigEndian.Uint32(packet[8:12])
	if op != bilibiliOpMessage {
		return models.DanmuEntry{}, false
	}

	var frame bilibiliDanmuFrame
	if err := json.Unmarshal(packet[16:], &frame); err != nil {
		return models.DanmuEntry{}, false
	}
	if frame.Cmd != "DANMU_MSG" || len(frame.Info) < 2 {
		return models.DanmuEntry{}, false
	}
	content, ok := frame.Info[1].(string)
	if !ok {
		return models.DanmuEntry{}, false
	}

	return models.DanmuEntry{Ts: time.Now().UnixMilli(), Content: content}, true
}
