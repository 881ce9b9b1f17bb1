package platform

import "testing"

func TestEncodeDecodeBilibiliPacketRoundTrip(t *testing.T) {
	body := []byte(`{"cmd":"DANMU_MSG","info":[null,"hello world"]}`)
	packet := encodeBilibiliPacket(bilibiliOpMessage, body)

	frames := splitBilibiliFrames(packet)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}

	entry, ok := decodeBilibiliDanmuFrame(frames[0])
	if !ok {
		t.Fatalf("expected frame to decode as a danmu message")
	}
	if entry.Content != "hello world" {
		t.Errorf("expected content 'hello world', got %q", entry.Content)
	}
}

func TestSplitBilibiliFramesHandlesMultipleFramesInOneMessage(t *testing.T) {
	a := encodeBilibiliPacket(bilibiliOpMessage, []byte(`{"cmd":"DANMU_MSG","info":[null,"first"]}`))
	b := encodeBilibiliPacket(bilibiliOpMessage, []byte(`{"cmd":"DANMU_MSG","info":[null,"second"]}`))
	combined := append(append([]byte{}, a...), b...)

	frames := splitBilibiliFrames(combined)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}

	first, ok := decodeBilibiliDanmuFrame(frames[0])
	if !ok || first.Content != "first" {
		t.Errorf("expected first frame content 'first', got %+v ok=%v", first, ok)
	}
	second, ok := decodeBilibiliDanmuFrame(frames[1])
	if !ok || second.Content != "second" {
		t.Errorf("expected second frame content 'second', got %+v ok=%v", second, ok)
	}
}

func TestDecodeBilibiliDanmuFrameIgnoresNonMessageOps(t *testing.T) {
	packet := encodeBilibiliPacket(bilibiliOpHeartbeatAck, []byte(`{}`))
	_, ok := decodeBilibiliDanmuFrame(packet)
	if ok {
		t.Errorf("expected non-message op to be ignored")
	}
}

func TestIsBilibiliHeartbeatAckRecognizesOnlyAckFrames(t *testing.T) {
	ack := encodeBilibiliPacket(bilibiliOpHeartbeatAck, nil)
	if !isBilibiliHeartbeatAck(ack) {
		t.Errorf("expected heartbeat ack packet to be recognized")
	}

	msg := encodeBilibiliPacket(bilibiliOpMessage, []byte(`{"cmd":"DANMU_MSG","info":[null,"hi"]}`))
	if isBilibiliHeartbeatAck(msg) {
		t.Errorf("expected a message frame not to be mistaken for a heartbeat ack")
	}

	if isBilibiliHeartbeatAck([]byte{1, 2, 3}) {
		t.Errorf("expected a too-short packet to be rejected")
	}
}
