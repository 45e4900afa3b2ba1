package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/org/sessionvault/internal/archive"
	"github.com/org/sessionvault/pkg/models"
)

var outputFormat string // "table", "json"

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck
}

func printExpiring(items []models.ExpiringArchive) {
	if outputFormat == "json" {
		printJSON(items)
		return
	}
	if len(items) == 0 {
		fmt.Println("no archives in the window")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ARCHIVE\tSESSION\tSEVERITY\tRETAIN UNTIL\tDAYS LEFT")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			item.Archive.ID,
			item.Archive.SessionID,
			item.Archive.Severity,
			item.Archive.RetainUntil.Format(time.DateOnly),
			item.DaysRemaining,
		)
	}
	w.Flush()
}

func printStats(stats *models.ArchiveStats) {
	if outputFormat == "json" {
		printJSON(stats)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "total\t%d\t%s\n", stats.TotalCount, formatBytes(stats.TotalBytes))
	printGroup(w, "TIER", stats.ByTier)
	printGroup(w, "SEVERITY", stats.BySeverity)
	printGroup(w, "BUCKET", stats.ByBucket)
	w.Flush()
}

func printGroup(w io.Writer, heading string, group map[string]models.StatsBucket) {
	if len(group) == 0 {
		return
	}
	fmt.Fprintf(w, "%s\t\t\n", heading)
	for _, key := range sortedKeys(group) {
		b := group[key]
		fmt.Fprintf(w, "  %s\t%d\t%s\n", key, b.Count, formatBytes(b.Bytes))
	}
}

func printReconcile(report *archive.ReconcileReport) {
	if outputFormat == "json" {
		printJSON(report)
		return
	}
	fmt.Printf("scanned %d blob(s), pruned %d\n", report.BlobsScanned, report.Pruned)
	if len(report.Orphans) > 0 {
		fmt.Printf("orphaned blobs (%d):\n", len(report.Orphans))
		for _, key := range report.Orphans {
			fmt.Printf("  %s\n", key)
		}
	}
	if len(report.MissingBlobs) > 0 {
		fmt.Printf("archives missing their blob (%d):\n", len(report.MissingBlobs))
		for _, id := range report.MissingBlobs {
			fmt.Printf("  %s\n", id)
		}
	}
	if len(report.Orphans) == 0 && len(report.MissingBlobs) == 0 {
		fmt.Println("metadata and object store agree")
	}
}

func sortedKeys(m map[string]models.StatsBucket) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatBytes renders a byte count in the nearest binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
