package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bsr/internal/apperr"
	"bsr/internal/config"
	"bsr/internal/events"
	"bsr/internal/media"
	"bsr/internal/models"
)

// commandHandler decodes its own body out of r and returns the data
// payload for a successful envelope, or an error for a failing one.
type commandHandler func(a *API, r *http.Request) (any, error)

// commands is the full dispatch table for POST /api/<command>
// (spec.md §6). An unknown command name is a 405, per spec.
var commands = map[string]commandHandler{
	"get_recorder_list":           (*API).cmdGetRecorderList,
	"add_recorder":                (*API).cmdAddRecorder,
	"remove_recorder":             (*API).cmdRemoveRecorder,
	"set_enable":                  (*API).cmdSetEnable,
	"get_archives":                (*API).cmdGetArchives,
	"get_archives_by_parent_id":   (*API).cmdGetArchivesByParentID,
	"delete_archive":              (*API).cmdDeleteArchive,
	"get_video":                   (*API).cmdGetVideo,
	"get_videos":                  (*API).cmdGetVideos,
	"get_all_videos":              (*API).cmdGetAllVideos,
	"delete_video":                (*API).cmdDeleteVideo,
	"update_video_note":           (*API).cmdUpdateVideoNote,
	"update_video_subtitle":       (*API).cmdUpdateVideoSubtitle,
	"get_video_subtitle":          (*API).cmdGetVideoSubtitle,
	"get_danmu_stats":             (*API).cmdGetDanmuStats,
	"clip_range":                  (*API).cmdClipRange,
	"clip_video":                  (*API).cmdClipVideo,
	"generate_whole_clip":         (*API).cmdGenerateWholeClip,
	"encode_video_subtitle":       (*API).cmdEncodeVideoSubtitle,
	"generate_video_subtitle":     (*API).cmdGenerateVideoSubtitle,
	"import_external_video":       (*API).cmdImportExternalVideo,
	"batch_import_external_videos": (*API).cmdBatchImportExternalVideos,
	"get_import_progress":         (*API).cmdGetImportProgress,
	"get_tasks":                   (*API).cmdGetTasks,
	"cancel":                      (*API).cmdCancel,
	"delete_task":                 (*API).cmdDeleteTask,
	"get_accounts":                (*API).cmdGetAccounts,
	"add_account":                 (*API).cmdAddAccount,
	"remove_account":              (*API).cmdRemoveAccount,
	"set_primary":                 (*API).cmdSetPrimary,
	"get_config":                  (*API).cmdGetConfig,
	"set_cache_path":              (*API).cmdSetCachePath,
	"set_output_path":             (*API).cmdSetOutputPath,
	"update_notify":               (*API).cmdUpdateNotify,
}

func (a *API) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "command")
	h, ok := commands[name]
	if !ok {
		http.Error(w, "unknown command "+name, http.StatusMethodNotAllowed)
		return
	}

	data, err := h(a, r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, data)
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return apperr.Newf(apperr.Config, "api.decodeBody", "missing request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperr.New(apperr.Config, "api.decodeBody", err)
	}
	return nil
}

// --- recorders ---

func (a *API) cmdGetRecorderList(r *http.Request) (any, error) {
	return a.manager.List(), nil
}

func (a *API) cmdAddRecorder(r *http.Request) (any, error) {
	var req struct {
		Platform    string `json:"platform"`
		RoomID      string `json:"room_id"`
		Extra       string `json:"extra"`
		AutoStart   bool   `json:"auto_start"`
		AccountUID  string `json:"account_uid"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	var account *models.Account
	if req.AccountUID != "" {
		acc, err := a.store.GetAccount(r.Context(), req.Platform, req.AccountUID)
		if err != nil {
			return nil, err
		}
		account = &acc
	}

	cfg := models.RecorderConfig{
		Platform:  req.Platform,
		RoomID:    req.RoomID,
		Extra:     req.Extra,
		AutoStart: req.AutoStart,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if err := a.manager.Add(r.Context(), cfg, account); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *API) cmdRemoveRecorder(r *http.Request) (any, error) {
	var req struct {
		Platform string `json:"platform"`
		RoomID   string `json:"room_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	key := models.RecorderKey{Platform: req.Platform, RoomID: req.RoomID}
	if err := a.manager.Remove(r.Context(), key); err != nil {
		return nil, err
	}
	return nil, nil
}

func (a *API) cmdSetEnable(r *http.Request) (any, error) {
	var req struct {
		Platform   string `json:"platform"`
		RoomID     string `json:"room_id"`
		Enabled    bool   `json:"enabled"`
		AccountUID string `json:"account_uid"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	var account *models.Account
	if req.AccountUID != "" {
		acc, err := a.store.GetAccount(r.Context(), req.Platform, req.AccountUID)
		if err != nil {
			return nil, err
		}
		account = &acc
	}

	key := models.RecorderKey{Platform: req.Platform, RoomID: req.RoomID}
	if err := a.manager.SetEnable(r.Context(), key, req.Enabled, account); err != nil {
		return nil, err
	}
	return nil, nil
}

// --- archives ---

func (a *API) cmdGetArchives(r *http.Request) (any, error) {
	var req struct {
		Platform string `json:"platform"`
		RoomID   string `json:"room_id"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return a.store.ListArchives(r.Context(), req.Platform, req.RoomID, req.Offset, req.Limit)
}

func (a *API) cmdGetArchivesByParentID(r *http.Request) (any, error) {
	var req struct {
		Platform string `json:"platform"`
		RoomID   string `json:"room_id"`
		ParentID int64  `json:"parent_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return a.store.ListArchivesByParentID(r.Context(), req.Platform, req.RoomID, req.ParentID)
}

func (a *API) cmdDeleteArchive(r *http.Request) (any, error) {
	var req struct {
		Platform string `json:"platform"`
		RoomID   string `json:"room_id"`
		LiveID   int64  `json:"live_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	key := models.ArchiveKey{Platform: req.Platform, RoomID: req.RoomID, LiveID: req.LiveID}

	if err := a.store.DeleteArchive(r.Context(), key); err != nil {
		return nil, err
	}
	if err := a.cache.Delete(key); err != nil {
		a.logger.Warnf("api: cache delete for %+v failed: %v", key, err)
	}
	a.bus.Publish(events.ArchiveDeleted, key)
	return nil, nil
}

// --- videos ---

func (a *API) cmdGetVideo(r *http.Request) (any, error) {
	var req struct {
		ID int64 `json:"id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return a.store.GetVideo(r.Context(), req.ID)
}

func (a *API) cmdGetVideos(r *http.Request) (any, error) {
	var req struct {
		Platform string `json:"platform"`
		RoomID   string `json:"room_id"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return a.store.ListVideos(r.Context(), req.Platform, req.RoomID, req.Offset, req.Limit)
}

func (a *API) cmdGetAllVideos(r *http.Request) (any, error) {
	var req struct {
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return a.store.ListAllVideos(r.Context(), req.Offset, req.Limit)
}

func (a *API) cmdDeleteVideo(r *http.Request) (any, error) {
	var req struct {
		ID int64 `json:"id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := a.store.DeleteVideo(r.Context(), req.ID); err != nil {
		return nil, err
	}
	a.bus.Publish(events.ClipDeleted, req.ID)
	return nil, nil
}

func (a *API) cmdUpdateVideoNote(r *http.Request) (any, error) {
	var req struct {
		ID   int64  `json:"id"`
		Note string `json:"note"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := a.store.UpdateVideoNote(r.Context(), req.ID, req.Note); err != nil {
		return nil, err
	}
	return nil, nil
}

func (a *API) cmdUpdateVideoSubtitle(r *http.Request) (any, error) {
	var req struct {
		ID       int64  `json:"id"`
		Subtitle string `json:"subtitle"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := a.store.UpdateVideoSubtitle(r.Context(), req.ID, req.Subtitle); err != nil {
		return nil, err
	}
	return nil, nil
}

func (a *API) cmdGetVideoSubtitle(r *http.Request) (any, error) {
	var req struct {
		ID int64 `json:"id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	v, err := a.store.GetVideo(r.Context(), req.ID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"subtitle": v.Subtitle}, nil
}

// cmdGetDanmuStats implements get_danmu_stats: the density graph's data
// source, bucketed to bucket_ms (default 10s). This is the only reader
// of store.GetDanmuStats — without it the aggregation query has no path
// from the product surface at all.
func (a *API) cmdGetDanmuStats(r *http.Request) (any, error) {
	var req struct {
		Platform string `json:"platform"`
		RoomID   string `json:"room_id"`
		LiveID   int64  `json:"live_id"`
		BucketMs int64  `json:"bucket_ms"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	key := models.ArchiveKey{Platform: req.Platform, RoomID: req.RoomID, LiveID: req.LiveID}
	return a.store.GetDanmuStats(r.Context(), key, req.BucketMs)
}

// --- media/task submission ---

func (a *API) cmdClipRange(r *http.Request) (any, error) {
	var req struct {
		Platform     string  `json:"platform"`
		RoomID       string  `json:"room_id"`
		LiveID       int64   `json:"live_id"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		BurnDanmu    bool    `json:"burn_danmu"`
		SRTStyle     string  `json:"srt_style"`
		LocalOffsetS float64 `json:"local_offset_s"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	in := media.ClipRangeInput{
		Platform:     req.Platform,
		RoomID:       req.RoomID,
		LiveID:       req.LiveID,
		StartS:       req.Start,
		EndS:         req.End,
		BurnDanmu:    req.BurnDanmu,
		SRTStyle:     req.SRTStyle,
		LocalOffsetS: req.LocalOffsetS,
	}
	id, err := a.tasks.Submit(context.Background(), models.TaskClipRange, encodeMetadata(in), func(ctx context.Context, progress func(string)) error {
		v, err := a.media.ClipRange(ctx, in, progress)
		if err != nil {
			return err
		}
		a.bus.Publish(events.ClipGenerated, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"task_id": id}, nil
}

func (a *API) cmdClipVideo(r *http.Request) (any, error) {
	var req struct {
		VideoID int64   `json:"video_id"`
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	in := media.ClipVideoInput{VideoID: req.VideoID, StartS: req.Start, EndS: req.End}
	id, err := a.tasks.Submit(context.Background(), models.TaskClipRange, encodeMetadata(in), func(ctx context.Context, progress func(string)) error {
		v, err := a.media.ClipVideo(ctx, in, progress)
		if err != nil {
			return err
		}
		a.bus.Publish(events.ClipGenerated, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"task_id": id}, nil
}

func (a *API) cmdGenerateWholeClip(r *http.Request) (any, error) {
	var req struct {
		Platform string `json:"platform"`
		RoomID   string `json:"room_id"`
		ParentID int64  `json:"parent_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	id, err := a.tasks.Submit(context.Background(), models.TaskGenerateWholeClip, encodeMetadata(req), func(ctx context.Context, progress func(string)) error {
		v, err := a.media.GenerateWholeClip(ctx, req.Platform, req.RoomID, req.ParentID, progress)
		if err != nil {
			return err
		}
		a.bus.Publish(events.ClipGenerated, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"task_id": id}, nil
}

func (a *API) cmdEncodeVideoSubtitle(r *http.Request) (any, error) {
	var req struct {
		VideoID int64  `json:"video_id"`
		Style   string `json:"style"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	in := media.EncodeSubtitleInput{VideoID: req.VideoID, Style: req.Style}
	id, err := a.tasks.Submit(context.Background(), models.TaskEncodeVideoSubtitle, encodeMetadata(in), func(ctx context.Context, progress func(string)) error {
		v, err := a.media.EncodeSubtitle(ctx, in, progress)
		if err != nil {
			return err
		}
		a.bus.Publish(events.ClipGenerated, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"task_id": id}, nil
}

func (a *API) cmdGenerateVideoSubtitle(r *http.Request) (any, error) {
	var req struct {
		VideoID int64 `json:"video_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if a.asr == nil {
		return nil, apperr.Newf(apperr.Config, "api.cmdGenerateVideoSubtitle", "no speech-recognition worker configured")
	}
	id, err := a.tasks.Submit(context.Background(), models.TaskGenerateVideoSubtitle, encodeMetadata(req), func(ctx context.Context, progress func(string)) error {
		_, err := a.media.GenerateSubtitle(ctx, req.VideoID, a.asr, progress)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"task_id": id}, nil
}

func (a *API) cmdImportExternalVideo(r *http.Request) (any, error) {
	var req struct {
		Path   string `json:"path"`
		RoomID string `json:"room_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	id, err := a.tasks.Submit(context.Background(), models.TaskImportExternalVideo, encodeMetadata(req), func(ctx context.Context, progress func(string)) error {
		_, err := a.media.ImportExternalVideo(ctx, req.Path, req.RoomID, progress)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"task_id": id}, nil
}

func (a *API) cmdBatchImportExternalVideos(r *http.Request) (any, error) {
	var req struct {
		Paths  []string `json:"paths"`
		RoomID string   `json:"room_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	taskIDs := make([]string, 0, len(req.Paths))
	for _, path := range req.Paths {
		path := path
		id, err := a.tasks.Submit(context.Background(), models.TaskImportExternalVideo, path, func(ctx context.Context, progress func(string)) error {
			_, err := a.media.ImportExternalVideo(ctx, path, req.RoomID, progress)
			return err
		})
		if err != nil {
			a.logger.Warnf("api: submitting import for %s failed: %v", path, err)
			continue
		}
		taskIDs = append(taskIDs, id)
	}
	return map[string]any{"task_ids": taskIDs}, nil
}

func (a *API) cmdGetImportProgress(r *http.Request) (any, error) {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	tasks, err := a.tasks.List(r.Context())
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == req.TaskID {
			return t, nil
		}
	}
	return nil, apperr.Newf(apperr.NotFound, "api.cmdGetImportProgress", "no task %s", req.TaskID)
}

// --- tasks ---

func (a *API) cmdGetTasks(r *http.Request) (any, error) {
	return a.tasks.List(r.Context())
}

func (a *API) cmdCancel(r *http.Request) (any, error) {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := a.tasks.Cancel(r.Context(), req.TaskID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (a *API) cmdDeleteTask(r *http.Request) (any, error) {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := a.tasks.Delete(r.Context(), req.TaskID); err != nil {
		return nil, err
	}
	return nil, nil
}

// --- accounts ---

func (a *API) cmdGetAccounts(r *http.Request) (any, error) {
	return a.store.ListAccounts(r.Context())
}

func (a *API) cmdAddAccount(r *http.Request) (any, error) {
	var req struct {
		Platform string `json:"platform"`
		UID      string `json:"uid"`
		Name     string `json:"name"`
		Avatar   string `json:"avatar"`
		Cookies  string `json:"cookies"`
		CSRF     string `json:"csrf"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	acc := models.Account{
		Platform:  req.Platform,
		UID:       req.UID,
		Name:      req.Name,
		Avatar:    req.Avatar,
		Cookies:   req.Cookies,
		CSRF:      req.CSRF,
		CreatedAt: time.Now(),
	}
	if err := a.store.UpsertAccount(r.Context(), acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (a *API) cmdRemoveAccount(r *http.Request) (any, error) {
	var req struct {
		Platform string `json:"platform"`
		UID      string `json:"uid"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := a.store.DeleteAccount(r.Context(), req.Platform, req.UID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (a *API) cmdSetPrimary(r *http.Request) (any, error) {
	var req struct {
		UID string `json:"uid"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return nil, a.mutateConfig(func(cfg *config.Config) { cfg.PrimaryUID = req.UID })
}

// --- config ---

func (a *API) cmdGetConfig(r *http.Request) (any, error) {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	cp := *a.cfg
	return cp, nil
}

func (a *API) cmdSetCachePath(r *http.Request) (any, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return nil, a.mutateConfig(func(cfg *config.Config) { cfg.CachePath = req.Path })
}

func (a *API) cmdSetOutputPath(r *http.Request) (any, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return nil, a.mutateConfig(func(cfg *config.Config) { cfg.OutputPath = req.Path })
}

func (a *API) cmdUpdateNotify(r *http.Request) (any, error) {
	var req struct {
		LiveStartNotify *bool `json:"live_start_notify"`
		LiveEndNotify   *bool `json:"live_end_notify"`
		ClipNotify      *bool `json:"clip_notify"`
		PostNotify      *bool `json:"post_notify"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return nil, a.mutateConfig(func(cfg *config.Config) {
		if req.LiveStartNotify != nil {
			cfg.LiveStartNotify = *req.LiveStartNotify
		}
		if req.LiveEndNotify != nil {
			cfg.LiveEndNotify = *req.LiveEndNotify
		}
		if req.ClipNotify != nil {
			cfg.ClipNotify = *req.ClipNotify
		}
		if req.PostNotify != nil {
			cfg.PostNotify = *req.PostNotify
		}
	})
}

// mutateConfig applies fn under lock and persists the result, the shared
// tail of every set_*/update_notify/set_primary command.
func (a *API) mutateConfig(fn func(*config.Config)) error {
	a.cfgMu.Lock()
	fn(a.cfg)
	cp := *a.cfg
	a.cfgMu.Unlock()
	return config.Save(a.configPath, &cp)
}

func encodeMetadata(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
