package api

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"bsr/internal/models"
)

// maxUploadMemory bounds how much of a multipart upload is buffered in
// memory before spilling to a temp file, same convention as net/http's
// own default for ParseMultipartForm.
const maxUploadMemory = 32 << 20

// handleUploadFile implements POST /api/upload_file (spec.md §6):
// receives one file, stages it under the output directory's uploads
// subdirectory, and submits an import_external_video task for it.
func (a *API) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeErr(w, err)
		return
	}
	roomID := r.FormValue("room_id")
	if roomID == "" {
		roomID = "uploaded"
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, err)
		return
	}
	defer file.Close()

	staged, err := a.writeStaged(header.Filename, file)
	if err != nil {
		writeErr(w, err)
		return
	}

	id, err := a.submitImport(staged, roomID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]string{"task_id": id})
}

// handleBatchUploadFiles implements POST /api/upload_and_import_files:
// every "files" part is staged and submitted as its own import task, so
// one failing file doesn't block the rest.
func (a *API) handleBatchUploadFiles(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeErr(w, err)
		return
	}
	roomID := r.FormValue("room_id")
	if roomID == "" {
		roomID = "uploaded"
	}

	files := r.MultipartForm.File["files"]
	taskIDs := make([]string, 0, len(files))
	for _, fh := range files {
		staged, err := a.stageUploadHeader(fh)
		if err != nil {
			a.logger.Warnf("api: staging upload %s failed: %v", fh.Filename, err)
			continue
		}
		id, err := a.submitImport(staged, roomID)
		if err != nil {
			a.logger.Warnf("api: submitting import for %s failed: %v", fh.Filename, err)
			continue
		}
		taskIDs = append(taskIDs, id)
	}
	writeOK(w, map[string]any{"task_ids": taskIDs})
}

func (a *API) stageUploadHeader(header *multipart.FileHeader) (string, error) {
	file, err := header.Open()
	if err != nil {
		return "", err
	}
	defer file.Close()
	return a.writeStaged(header.Filename, file)
}

func (a *API) writeStaged(name string, src io.Reader) (string, error) {
	dir := filepath.Join(a.outputDir(), "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(name))
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, src); err != nil {
		return "", err
	}
	return dst, nil
}

// submitImport hands the staged file to the supervisor as an
// import_external_video task; the upload HTTP request itself returns
// immediately with the task id, the import runs in the background.
func (a *API) submitImport(stagedPath, roomID string) (string, error) {
	return a.tasks.Submit(context.Background(), models.TaskImportExternalVideo, stagedPath, func(ctx context.Context, progress func(string)) error {
		_, err := a.media.ImportExternalVideo(ctx, stagedPath, roomID, progress)
		return err
	})
}
