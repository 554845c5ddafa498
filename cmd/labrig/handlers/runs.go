package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/labrig/labrig/internal/config"
	"github.com/labrig/labrig/internal/plan"
	"github.com/labrig/labrig/internal/platform/s3"
	"github.com/labrig/labrig/internal/report"
)

// newArchiveClient builds the S3 archive client - replaced in tests.
var newArchiveClient = func(ctx context.Context, a *config.Archive) (archiveClient, error) {
	return s3.NewClient(ctx, a.Endpoint, a.Region, a.Bucket,
		os.Getenv("LABRIG_S3_ACCESS_KEY"), os.Getenv("LABRIG_S3_SECRET_KEY"))
}

// archiveClient is the slice of the S3 client the archive command
// needs, kept narrow for test doubles.
type archiveClient interface {
	EnsureBucket(ctx context.Context) error
	ArchiveRun(ctx context.Context, prefix string, r *plan.Run, logPath string) ([]string, error)
}

// RunsList prints the most recent runs, newest first.
func RunsList(_ context.Context, configPath string, limit int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openHistory(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	fmt.Printf("  %-10s %-16s %-17s %-16s %s\n", "RUN", "PLAN", "STATUS", "STARTED", "STAGES")
	for _, e := range entries {
		stages := fmt.Sprintf("%d ok, %d skipped", e.Succeeded, e.Skipped)
		if e.Failed > 0 {
			stages += fmt.Sprintf(", %d failed", e.Failed)
		}
		if e.Blocked > 0 {
			stages += fmt.Sprintf(", %d blocked", e.Blocked)
		}
		if e.Warned > 0 {
			stages += fmt.Sprintf(", %d warned", e.Warned)
		}
		fmt.Printf("  %-10.8s %-16s %-17s %-16s %s\n",
			e.ID, e.Plan, e.Status, e.StartedAt.Local().Format("2006-01-02 15:04"), stages)
	}
	return nil
}

// RunsShow prints one recorded run's full summary.
func RunsShow(_ context.Context, configPath, runID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openHistory(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Get(runID)
	if err != nil {
		return err
	}

	fmt.Print(report.Summary(run))
	return nil
}

// RunsPrune deletes all but the newest keep runs.
func RunsPrune(_ context.Context, configPath string, keep int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openHistory(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.Prune(keep)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d run(s), kept the newest %d.\n", removed, keep)
	return nil
}

// RunsArchive uploads a recorded run and its transition log to the
// configured S3-compatible archive.
func RunsArchive(ctx context.Context, configPath, runID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.HasArchive() {
		return fmt.Errorf("no archive configured: add an archive block to %s", config.DefaultConfigFilename)
	}

	store, err := openHistory(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Get(runID)
	if err != nil {
		return err
	}

	client, err := newArchiveClient(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return err
	}

	// The transition log may have been rotated away; archive what is
	// still there.
	logPath := report.RunLogPath(cfg.LogDir, run.ID, run.StartedAt)
	if !fileExists(logPath) {
		fmt.Printf("Warning: transition log %s not found, archiving the run record only.\n", logPath)
		logPath = ""
	}

	keys, err := client.ArchiveRun(ctx, cfg.Archive.Prefix, run, logPath)
	if err != nil {
		return err
	}

	fmt.Printf("Archived run %.8s to bucket %s:\n", run.ID, cfg.Archive.Bucket)
	for _, key := range keys {
		fmt.Printf("  %s\n", key)
	}
	return nil
}
