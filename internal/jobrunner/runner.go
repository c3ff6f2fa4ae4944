// Package jobrunner scans a directory of .job files and executes each
// one's batch commands against the store, writing a matching .out
// file — the batch-ingestion half of the server (spec §2, §4).
package jobrunner

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kvsd/internal/admission"
	"kvsd/internal/cmdlang"
	"kvsd/internal/logging"
	"kvsd/internal/metrics"
	"kvsd/internal/snapshot"
	"kvsd/internal/store"
)

const (
	jobExt    = ".job"
	outExt    = ".out"
	backupExt = ".bck"
)

// Runner owns the directory scan and the worker pool that executes
// discovered job files.
type Runner struct {
	jobsDir   string
	table     *store.Table
	pool      *Pool
	backups   *admission.BackupAdmission
	logger    zerolog.Logger
	audit     *logging.Audit
	metrics   *metrics.Registry

	mu           sync.Mutex
	backupCounts map[string]int // per job-file backup sequence number
}

// New builds a Runner that will execute job files found under jobsDir
// with up to maxThreads concurrent workers.
func New(jobsDir string, table *store.Table, maxThreads int, backups *admission.BackupAdmission, logger zerolog.Logger, audit *logging.Audit, m *metrics.Registry) *Runner {
	return &Runner{
		jobsDir:      jobsDir,
		table:        table,
		pool:         NewPool(maxThreads, maxThreads*2, logger),
		backups:      backups,
		logger:       logger,
		audit:        audit,
		metrics:      m,
		backupCounts: make(map[string]int),
	}
}

// Run scans jobsDir once for every .job file (sorted, for
// deterministic ordering in tests and logs), submits each to the
// worker pool, and blocks until every submitted job has finished.
func (r *Runner) Run(ctx context.Context) error {
	entries, err := os.ReadDir(r.jobsDir)
	if err != nil {
		return fmt.Errorf("jobrunner: read dir %s: %w", r.jobsDir, err)
	}

	var jobFiles []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), jobExt) {
			continue
		}
		jobFiles = append(jobFiles, e.Name())
	}
	sort.Strings(jobFiles)

	r.pool.Start(ctx)

	var wg sync.WaitGroup
	for _, name := range jobFiles {
		name := name
		wg.Add(1)
		task := Task(func() {
			defer wg.Done()
			if err := r.processJobFile(ctx, name); err != nil {
				r.logger.Error().Err(err).Str("job", name).Msg("jobrunner: job failed")
			} else if r.metrics != nil {
				r.metrics.JobsProcessed.Inc()
			}
		})
		// Wait for queue space rather than dropping the job when the
		// queue is full.
		select {
		case r.pool.taskQueue <- task:
		case <-ctx.Done():
			wg.Done()
			r.logger.Warn().Str("job", name).Msg("jobrunner: cancelled before job was queued")
		}
	}
	wg.Wait()
	r.pool.Stop()
	return nil
}

// processJobFile executes one job file's commands in order and
// writes its matching .out file.
func (r *Runner) processJobFile(ctx context.Context, name string) error {
	path := filepath.Join(r.jobsDir, name)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	outPath := filepath.Join(r.jobsDir, strings.TrimSuffix(name, jobExt)+outExt)
	outFile, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	defer outFile.Close()
	out := bufio.NewWriter(outFile)
	defer out.Flush()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cmd, err := cmdlang.Parse(scanner.Text())
		if err == cmdlang.ErrComment {
			continue
		}
		if err != nil {
			fmt.Fprintf(out, "ERROR %v\n", err)
			continue
		}
		r.execute(ctx, name, cmd, out)
	}
	return scanner.Err()
}

func (r *Runner) execute(ctx context.Context, jobName string, cmd cmdlang.Command, out *bufio.Writer) {
	switch cmd.Kind {
	case cmdlang.KindWrite:
		results := r.table.Write(cmd.Pairs)
		r.countResults("WRITE", results)
	case cmdlang.KindRead:
		values, results := r.table.Read(cmd.Keys)
		r.countResults("READ", results)
		keys := sortedCaseInsensitive(cmd.Keys)
		fmt.Fprint(out, "[")
		for _, k := range keys {
			if v, ok := values[k]; ok {
				fmt.Fprintf(out, "(%s,%s)", k, v)
			} else {
				fmt.Fprintf(out, "(%s,KVSERROR)", k)
			}
		}
		fmt.Fprint(out, "]\n")
	case cmdlang.KindDelete:
		results := r.table.Delete(cmd.Keys)
		r.countResults("DELETE", results)
		var missing []string
		for _, k := range cmd.Keys {
			if results[k] == store.ResultNotFound {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			missing = sortedCaseInsensitive(missing)
			fmt.Fprint(out, "[")
			for _, k := range missing {
				fmt.Fprintf(out, "(%s,KVSMISSING)", k)
			}
			fmt.Fprint(out, "]\n")
		}
	case cmdlang.KindShow:
		for _, kv := range r.table.Show() {
			fmt.Fprintf(out, "(%s, %s)\n", kv.Key, kv.Value)
		}
	case cmdlang.KindWait:
		if cmd.WaitFor > 0 {
			fmt.Fprintln(out, "Waiting...")
		}
		select {
		case <-time.After(time.Duration(cmd.WaitFor) * time.Millisecond):
		case <-ctx.Done():
		}
	case cmdlang.KindBackup:
		r.runBackup(ctx, jobName, out)
	case cmdlang.KindHelp:
		fmt.Fprintln(out, helpText)
	default:
		fmt.Fprintf(out, "ERROR unsupported command in job context\n")
	}
}

// sortedCaseInsensitive returns a copy of keys sorted case-insensitively,
// the ordering spec R1 requires for READ/DELETE output regardless of
// input order.
func sortedCaseInsensitive(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

func (r *Runner) runBackup(ctx context.Context, jobName string, out *bufio.Writer) {
	if !r.backups.TryAcquire() {
		fmt.Fprintln(out, "ERROR backup ceiling reached")
		return
	}
	defer r.backups.Release()

	r.mu.Lock()
	r.backupCounts[jobName]++
	seq := r.backupCounts[jobName]
	r.mu.Unlock()

	destPath := filepath.Join(r.jobsDir, strings.TrimSuffix(jobName, jobExt)+"-"+fmt.Sprint(seq)+backupExt)

	backupCtx, cancel := context.WithTimeout(ctx, snapshot.DefaultTimeout)
	defer cancel()

	if r.metrics != nil {
		r.metrics.BackupsStarted.Inc()
	}
	if err := snapshot.Backup(backupCtx, r.table, destPath); err != nil {
		if r.metrics != nil {
			r.metrics.BackupsFailed.Inc()
		}
		r.audit.Critical("backup_failed", "backup child failed", map[string]any{"job": jobName, "seq": seq, "error": err.Error()})
		fmt.Fprintln(out, "ERROR backup failed")
		return
	}
	fmt.Fprintf(out, "BACKUP %s\n", filepath.Base(destPath))
}

func (r *Runner) countResults(command string, results map[string]store.Result) {
	if r.metrics == nil {
		return
	}
	for _, res := range results {
		r.metrics.Operations.WithLabelValues(command, res.String()).Inc()
	}
}

const helpText = `commands: WRITE [(k,v)...] | READ [k,...] | DELETE [k,...] | SHOW | WAIT ms | BACKUP | HELP`
