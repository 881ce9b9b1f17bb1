// Package config loads the application-wide Config (spec.md §9): a single
// struct that cmd/server/main.go hands by pointer to the API router, while
// other components receive only the individual fields they need, mirroring the
// teacher's LoadConfig which reads one JSON file and post-processes a
// handful of fields that can't be used as-is straight off the wire.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"bsr/internal/apperr"
)

// AutoGenerate controls whether a clip is produced automatically once a
// recording finalizes, and whether danmu should be burned into it.
type AutoGenerate struct {
	Enabled     bool `json:"enabled"`
	EncodeDanmu bool `json:"encode_danmu"`
}

// Config is the fully processed application configuration.
type Config struct {
	CachePath           string       `json:"cache_path"`
	OutputPath          string       `json:"output_path"`
	DataPath            string       `json:"data_path"`
	PrimaryUID          string       `json:"primary_uid"`
	LiveStartNotify     bool         `json:"live_start_notify"`
	LiveEndNotify       bool         `json:"live_end_notify"`
	ClipNotify          bool         `json:"clip_notify"`
	PostNotify          bool         `json:"post_notify"`
	AutoCleanup         bool         `json:"auto_cleanup"`
	AutoSubtitle        bool         `json:"auto_subtitle"`
	WhisperModel        string       `json:"whisper_model"`
	WhisperPrompt       string       `json:"whisper_prompt"`
	ClipNameFormat      string       `json:"clip_name_format"`
	AutoGenerate        AutoGenerate `json:"auto_generate"`
	StatusCheckInterval Duration     `json:"status_check_interval"`
	WebhookURL          string       `json:"webhook_url"`
	ListenAddr          string       `json:"listen_addr"`
	FFmpegPath          string       `json:"ffmpeg_path"`
	FFprobePath         string       `json:"ffprobe_path"`
}

// Duration unmarshals either a JSON number of seconds or a Go duration
// string ("10s"), since hand-edited config files are usually written with
// the latter but the rest of the spec's intervals are named in seconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler for Duration.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var asSeconds float64
	if err := json.Unmarshal(data, &asSeconds); err != nil {
		return fmt.Errorf("duration must be a string or number of seconds: %w", err)
	}
	*d = Duration(time.Duration(asSeconds * float64(time.Second)))
	return nil
}

func (d Duration) AsTime() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler for Duration, writing it back out
// in the same Go-duration-string form Load accepts.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// rawConfig mirrors the on-disk JSON shape before defaults are applied.
// Kept as a distinct type from Config (same split as the teacher's
// rawConfig/ChannelConfig) because defaulting needs to distinguish
// "field absent" from "field explicitly zero".
type rawConfig struct {
	CachePath           string        `json:"cache_path"`
	OutputPath          string        `json:"output_path"`
	DataPath            string        `json:"data_path"`
	PrimaryUID          string        `json:"primary_uid"`
	LiveStartNotify     *bool         `json:"live_start_notify"`
	LiveEndNotify       *bool         `json:"live_end_notify"`
	ClipNotify          *bool         `json:"clip_notify"`
	PostNotify          *bool         `json:"post_notify"`
	AutoCleanup         *bool         `json:"auto_cleanup"`
	AutoSubtitle        *bool         `json:"auto_subtitle"`
	WhisperModel        string        `json:"whisper_model"`
	WhisperPrompt       string        `json:"whisper_prompt"`
	ClipNameFormat      string        `json:"clip_name_format"`
	AutoGenerate        *AutoGenerate `json:"auto_generate"`
	StatusCheckInterval *Duration     `json:"status_check_interval"`
	WebhookURL          string        `json:"webhook_url"`
	ListenAddr          string        `json:"listen_addr"`
	FFmpegPath          string        `json:"ffmpeg_path"`
	FFprobePath         string        `json:"ffprobe_path"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Default returns a Config with sensible out-of-the-box paths, used when
// no config file is present yet (first run).
func Default() *Config {
	return &Config{
		CachePath:           "./data/cache",
		OutputPath:          "./data/output",
		DataPath:            "./data",
		LiveStartNotify:     true,
		LiveEndNotify:       true,
		ClipNotify:          true,
		AutoCleanup:         false,
		AutoSubtitle:        false,
		ClipNameFormat:      "{title}-{live_id}-{start}-{end}",
		StatusCheckInterval: Duration(10 * time.Second),
		ListenAddr:          ":3000",
		FFmpegPath:          "ffmpeg",
		FFprobePath:         "ffprobe",
	}
}

// Load reads and parses the configuration file from the given path,
// filling in defaults for anything absent. A missing file is not an
// error — it returns Default() so a fresh install can boot without one.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, apperr.New(apperr.Config, "config.Load", fmt.Errorf("read %s: %w", path, err))
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperr.New(apperr.Config, "config.Load", fmt.Errorf("unmarshal %s: %w", path, err))
	}

	if raw.CachePath != "" {
		cfg.CachePath = raw.CachePath
	}
	if raw.OutputPath != "" {
		cfg.OutputPath = raw.OutputPath
	}
	if raw.DataPath != "" {
		cfg.DataPath = raw.DataPath
	}
	cfg.PrimaryUID = raw.PrimaryUID
	cfg.LiveStartNotify = boolOr(raw.LiveStartNotify, cfg.LiveStartNotify)
	cfg.LiveEndNotify = boolOr(raw.LiveEndNotify, cfg.LiveEndNotify)
	cfg.ClipNotify = boolOr(raw.ClipNotify, cfg.ClipNotify)
	cfg.PostNotify = boolOr(raw.PostNotify, cfg.PostNotify)
	cfg.AutoCleanup = boolOr(raw.AutoCleanup, cfg.AutoCleanup)
	cfg.AutoSubtitle = boolOr(raw.AutoSubtitle, cfg.AutoSubtitle)
	if raw.WhisperModel != "" {
		cfg.WhisperModel = raw.WhisperModel
	}
	if raw.WhisperPrompt != "" {
		cfg.WhisperPrompt = raw.WhisperPrompt
	}
	if raw.ClipNameFormat != "" {
		cfg.ClipNameFormat = raw.ClipNameFormat
	}
	if raw.AutoGenerate != nil {
		cfg.AutoGenerate = *raw.AutoGenerate
	}
	if raw.StatusCheckInterval != nil {
		cfg.StatusCheckInterval = *raw.StatusCheckInterval
	}
	if raw.WebhookURL != "" {
		cfg.WebhookURL = raw.WebhookURL
	}
	if raw.ListenAddr != "" {
		cfg.ListenAddr = raw.ListenAddr
	}
	if raw.FFmpegPath != "" {
		cfg.FFmpegPath = raw.FFmpegPath
	}
	if raw.FFprobePath != "" {
		cfg.FFprobePath = raw.FFprobePath
	}

	return cfg, nil
}

// Save writes cfg back to path as indented JSON, used by the `set_cache_path`/
// `set_output_path`/`update_notify` API commands.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return apperr.New(apperr.Config, "config.Save", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperr.New(apperr.Config, "config.Save", err)
	}
	return nil
}
