package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/labrig/labrig/internal/plan"
)

// RunPrefix builds the object key prefix for one run:
// <prefix>/<lab>/<start time>-<short id>/. Start time leads so keys
// list chronologically.
func RunPrefix(prefix, lab string, r *plan.Run) string {
	dir := fmt.Sprintf("%s-%.8s", r.StartedAt.UTC().Format("20060102-150405"), r.ID)
	return path.Join(prefix, lab, dir) + "/"
}

// ArchiveRun uploads a sealed run's record and, when logPath is set,
// its transition log. Returns the uploaded object keys.
func (c *Client) ArchiveRun(ctx context.Context, prefix string, r *plan.Run, logPath string) ([]string, error) {
	record, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run record: %w", err)
	}

	base := RunPrefix(prefix, r.Lab, r)
	keys := []string{base + "run.json"}
	if err := c.PutObject(ctx, keys[0], record, "application/json"); err != nil {
		return nil, err
	}

	if logPath != "" {
		log, err := os.ReadFile(logPath)
		if err != nil {
			return keys, fmt.Errorf("failed to read transition log: %w", err)
		}
		key := base + "transitions.jsonl"
		if err := c.PutObject(ctx, key, log, "application/x-ndjson"); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	return keys, nil
}
