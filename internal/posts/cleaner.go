package posts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/2beens/postboard/internal/blobstore"
	"github.com/2beens/postboard/internal/telemetry/metrics"

	log "github.com/sirupsen/logrus"
)

const (
	defaultCleanupQueueSize = 256
	cleanupTimeout          = 30 * time.Second
)

// Cleaner deletes replaced and orphaned images in the background.
// Failures never reach the post operation that scheduled them. They are logged and counted,
// then published on Errors().
type Cleaner struct {
	blobs          BlobStore
	metricsManager *metrics.Manager

	jobs       chan string
	errs       chan *ImageError
	wg         sync.WaitGroup
	mutex      sync.RWMutex
	stopped    bool
	errsClosed bool
}

func NewCleaner(blobs BlobStore, metricsManager *metrics.Manager, queueSize int) *Cleaner {
	if queueSize <= 0 {
		queueSize = defaultCleanupQueueSize
	}
	return &Cleaner{
		blobs:          blobs,
		metricsManager: metricsManager,
		jobs:           make(chan string, queueSize),
		errs:           make(chan *ImageError, queueSize),
	}
}

func (c *Cleaner) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for objectPath := range c.jobs {
				c.setPending()
				c.clean(objectPath)
			}
		}()
	}
}

// Schedule queues the object for deletion. With a full queue, or after Stop, it is deleted inline.
func (c *Cleaner) Schedule(objectPath string) {
	if objectPath == "" {
		return
	}

	c.mutex.RLock()
	if !c.stopped {
		select {
		case c.jobs <- objectPath:
			c.mutex.RUnlock()
			c.setPending()
			return
		default:
		}
	}
	c.mutex.RUnlock()

	log.Warnf("image cleaner: queue unavailable, deleting [%s] inline", objectPath)
	c.clean(objectPath)
}

// Errors publishes failed deletions. Errors are dropped when nobody drains the channel.
func (c *Cleaner) Errors() <-chan *ImageError {
	return c.errs
}

// Stop drains the queue, waits for the workers and closes the error channel.
func (c *Cleaner) Stop() {
	c.mutex.Lock()
	if c.stopped {
		c.mutex.Unlock()
		return
	}
	c.stopped = true
	close(c.jobs)
	c.mutex.Unlock()

	c.wg.Wait()

	c.mutex.Lock()
	c.errsClosed = true
	close(c.errs)
	c.mutex.Unlock()
}

func (c *Cleaner) clean(objectPath string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := c.blobs.Delete(ctx, objectPath); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		c.Report(&ImageError{Op: ImageOpDelete, Path: objectPath, Err: err})
		return
	}
	log.Debugf("image cleaner: [%s] removed", objectPath)
}

// Report counts a failed image deletion, then publishes it on Errors(). The consumer of
// Errors() is the one raising it to error level.
func (c *Cleaner) Report(imgErr *ImageError) {
	log.Warnf("image cleaner: orphaned blob left behind: %s", imgErr)
	if c.metricsManager != nil {
		c.metricsManager.CounterImageCleanupsFailed.Inc()
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.errsClosed {
		return
	}
	select {
	case c.errs <- imgErr:
	default:
	}
}

func (c *Cleaner) setPending() {
	if c.metricsManager != nil {
		c.metricsManager.GaugePendingImageJobs.Set(float64(len(c.jobs)))
	}
}
