// Package admission provides the ambient pacing and ceiling checks
// layered in front of session acceptance and backup spawning. None of
// it changes protocol outcomes on its own — a rejected CONNECT is
// still rejected because MAX_SESSIONS is full, not because of the
// rate limiter — it only smooths bursts and gives operators a signal
// before a ceiling is hit.
package admission

import (
	"context"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/time/rate"
)

// ConnectLimiter paces CONNECT admission, grounded on the same
// token-bucket pattern the teacher uses for per-IP connection
// limiting, applied here to the server's single FIFO listener rather
// than per-client IP since the transport has no IP concept.
type ConnectLimiter struct {
	limiter *rate.Limiter
}

// NewConnectLimiter builds a limiter allowing ratePerSec sustained
// CONNECTs with a burst allowance.
func NewConnectLimiter(ratePerSec float64, burst int) *ConnectLimiter {
	return &ConnectLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait blocks until a CONNECT may proceed or ctx is cancelled. The
// dispatcher calls Wait before attempting Registry.Acquire, so a
// burst of CONNECTs is paced here. Wait does not wait for a session
// slot to free up: a CONNECT that arrives while every slot is
// occupied is still rejected by Acquire.
func (c *ConnectLimiter) Wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// BackupAdmission enforces the CLI's max_backups ceiling: at most N
// backup children may be in flight at once. It is a pure counting
// semaphore, not a rate limiter — spec §4.7 bounds concurrency, not
// throughput.
type BackupAdmission struct {
	mu       sync.Mutex
	inUse    int
	maxInUse int
}

// NewBackupAdmission builds a ceiling of maxBackups concurrent
// in-flight backup children.
func NewBackupAdmission(maxBackups int) *BackupAdmission {
	if maxBackups < 1 {
		maxBackups = 1
	}
	return &BackupAdmission{maxInUse: maxBackups}
}

// TryAcquire attempts to reserve one backup slot, returning false if
// the ceiling is already reached. BACKUP calls beyond the ceiling are
// rejected rather than queued, matching the original implementation's
// fixed MAX_BACKUPS array of child slots.
func (b *BackupAdmission) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inUse >= b.maxInUse {
		return false
	}
	b.inUse++
	return true
}

// Release frees a previously acquired backup slot.
func (b *BackupAdmission) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inUse > 0 {
		b.inUse--
	}
}

// InUse reports the current number of in-flight backup children.
func (b *BackupAdmission) InUse() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inUse
}

// MemoryAdvisory samples host memory pressure against a warn ratio.
// It is advisory only: Check reports a reading and rejects nothing.
// The job runner's BACKUP path does not call it, so no memory reading
// is taken or logged when a backup child is spawned.
type MemoryAdvisory struct {
	warnRatio float64
}

// NewMemoryAdvisory builds an advisory checker that flags usage at or
// above warnRatio of total memory.
func NewMemoryAdvisory(warnRatio float64) *MemoryAdvisory {
	return &MemoryAdvisory{warnRatio: warnRatio}
}

// Check samples current memory usage and reports whether it is at or
// above the configured warn ratio, along with a human-readable
// summary for logging.
func (m *MemoryAdvisory) Check() (warn bool, summary string, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return false, "", fmt.Errorf("admission: sample memory: %w", err)
	}
	ratio := v.UsedPercent / 100.0
	summary = fmt.Sprintf("used=%.1f%% total=%dMB", v.UsedPercent, v.Total/1024/1024)
	return ratio >= m.warnRatio, summary, nil
}
