package httpfetch

import (
	"context"
	"sync"
	"time"

	"bsr/internal/logger"
	"bsr/internal/models"
)

// DownloadTask is one segment fetch request, generalized from the
// teacher's DownloadTask by carrying an explicit URL and header map
// instead of a DASH-specific Segment.URL built from template placeholders.
type DownloadTask struct {
	Segment models.Segment
	URL     string
	Headers map[string]string
	Result  chan<- DownloadResult
}

// DownloadResult holds the outcome of one download attempt.
type DownloadResult struct {
	Task  DownloadTask
	Data  []byte
	Error error
}

// Downloader runs a fixed pool of workers pulling from a shared queue,
// same shape as the teacher's dash.Downloader, retrying each segment a
// bounded number of times before giving up.
type Downloader struct {
	client     *Client
	logger     logger.Logger
	taskQueue  chan DownloadTask
	workerWG   sync.WaitGroup
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
}

// NewDownloader starts numWorkers goroutines draining a buffered task
// queue.
func NewDownloader(client *Client, log logger.Logger, numWorkers int) *Downloader {
	d := &Downloader{
		client:     client,
		logger:     log,
		taskQueue:  make(chan DownloadTask, 100),
		maxRetries: 3,
		retryDelay: 200 * time.Millisecond,
		timeout:    10 * time.Second,
	}

	d.workerWG.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go d.worker(i + 1)
	}
	return d
}

// QueueDownload enqueues a task. Blocks if the queue is full, applying
// backpressure to the caller rather than growing memory unbounded.
func (d *Downloader) QueueDownload(task DownloadTask) {
	d.taskQueue <- task
}

// Stop closes the queue and waits for in-flight workers to drain.
func (d *Downloader) Stop() {
	close(d.taskQueue)
	d.workerWG.Wait()
}

func (d *Downloader) worker(id int) {
	defer d.workerWG.Done()
	d.logger.Debugf("httpfetch: downloader worker %d started", id)

	for task := range d.taskQueue {
		data, err := d.download(task)
		task.Result <- DownloadResult{Task: task, Data: data, Error: err}
	}

	d.logger.Debugf("httpfetch: downloader worker %d finished", id)
}

func (d *Downloader) download(task DownloadTask) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		data, _, err := d.client.FetchWithStatus(ctx, task.URL, task.Headers)
		cancel()
		if err == nil {
			return data, nil
		}

		lastErr = err
		d.logger.Warnf("httpfetch: attempt %d/%d for segment %d (%s) failed: %v",
			attempt, d.maxRetries, task.Segment.Sequence, task.URL, err)
		if attempt < d.maxRetries {
			time.Sleep(d.retryDelay)
		}
	}

	return nil, lastErr
}
