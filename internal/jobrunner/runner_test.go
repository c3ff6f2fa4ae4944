package jobrunner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kvsd/internal/admission"
	"kvsd/internal/logging"
	"kvsd/internal/store"
)

func TestRunProcessesJobFileAndWritesOut(t *testing.T) {
	dir := t.TempDir()
	jobPath := filepath.Join(dir, "job1.job")
	content := "WRITE [(banana,1)(apple,2)]\nREAD [banana,apple,missing]\nDELETE [apple,ghost]\n"
	if err := os.WriteFile(jobPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write job: %v", err)
	}

	table := store.NewTable()
	logger := logging.New(logging.Config{Level: "error", Format: logging.FormatJSON})
	audit := logging.NewAudit(&logger)
	runner := New(dir, table, 2, admission.NewBackupAdmission(1), logger, audit, nil)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	outPath := filepath.Join(dir, "job1.out")
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read out: %v", err)
	}
	out := string(data)

	if strings.Contains(out, "WRITE") {
		t.Fatalf("expected no WRITE output line, got: %s", out)
	}
	if !strings.Contains(out, "[(apple,2)(banana,1)(missing,KVSERROR)]\n") {
		t.Fatalf("expected case-insensitively sorted bracketed READ output, got: %s", out)
	}
	if !strings.Contains(out, "[(ghost,KVSMISSING)]\n") {
		t.Fatalf("expected DELETE miss-list for the one missing key, got: %s", out)
	}
}

func TestDeleteEmitsNothingWhenAllKeysPresent(t *testing.T) {
	dir := t.TempDir()
	jobPath := filepath.Join(dir, "job1.job")
	content := "WRITE [(a,1)]\nDELETE [a]\n"
	if err := os.WriteFile(jobPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write job: %v", err)
	}

	table := store.NewTable()
	logger := logging.New(logging.Config{Level: "error", Format: logging.FormatJSON})
	audit := logging.NewAudit(&logger)
	runner := New(dir, table, 1, admission.NewBackupAdmission(1), logger, audit, nil)
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "job1.out"))
	if err != nil {
		t.Fatalf("read out: %v", err)
	}
	if strings.Contains(string(data), "KVSMISSING") {
		t.Fatalf("expected no miss-list when every key was present, got: %s", string(data))
	}
}

func TestWaitEmitsLiteralForNonzeroDelayOnly(t *testing.T) {
	dir := t.TempDir()
	jobPath := filepath.Join(dir, "job1.job")
	content := "WAIT 0\nWAIT 1\n"
	if err := os.WriteFile(jobPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write job: %v", err)
	}

	table := store.NewTable()
	logger := logging.New(logging.Config{Level: "error", Format: logging.FormatJSON})
	audit := logging.NewAudit(&logger)
	runner := New(dir, table, 1, admission.NewBackupAdmission(1), logger, audit, nil)
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "job1.out"))
	if err != nil {
		t.Fatalf("read out: %v", err)
	}
	out := string(data)
	if strings.Count(out, "Waiting...\n") != 1 {
		t.Fatalf("expected exactly one literal Waiting... line (for the nonzero delay), got: %s", out)
	}
}

func TestRunSkipsNonJobFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("noise"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	table := store.NewTable()
	logger := logging.New(logging.Config{Level: "error", Format: logging.FormatJSON})
	audit := logging.NewAudit(&logger)
	runner := New(dir, table, 1, admission.NewBackupAdmission(1), logger, audit, nil)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ignore.out")); !os.IsNotExist(err) {
		t.Fatalf("expected no .out file for non-job input")
	}
}
