package deeplink

import "testing"

func TestParseExtractsPlatformAndRoomID(t *testing.T) {
	link, err := Parse("bsr://live.bilibili.com/12345")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if link.Platform != "bilibili" {
		t.Errorf("expected platform bilibili, got %q", link.Platform)
	}
	if link.RoomID != "12345" {
		t.Errorf("expected room id 12345, got %q", link.RoomID)
	}
}

func TestParseCapturesQueryParameters(t *testing.T) {
	link, err := Parse("bsr://live.douyin.com/999?extra=abc")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if link.Query.Get("extra") != "abc" {
		t.Errorf("expected query param extra=abc, got %q", link.Query.Get("extra"))
	}
}

func TestParseRejectsWrongScheme(t *testing.T) {
	if _, err := Parse("http://live.bilibili.com/1"); err == nil {
		t.Fatal("expected an error for a non-bsr scheme")
	}
}

func TestParseRejectsMalformedHost(t *testing.T) {
	if _, err := Parse("bsr://bilibili.com/1"); err == nil {
		t.Fatal("expected an error for a host missing the live./.com wrapping")
	}
}

func TestParseRejectsMissingRoomID(t *testing.T) {
	if _, err := Parse("bsr://live.bilibili.com/"); err == nil {
		t.Fatal("expected an error for a missing room id")
	}
}
