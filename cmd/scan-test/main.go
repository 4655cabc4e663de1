// Command scan-test scans a directory the way a full sync would and prints
// what would be indexed, without touching any data store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shelfsync/shelfsync/internal/diff"
	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/id"
	"github.com/shelfsync/shelfsync/internal/logger"
	"github.com/shelfsync/shelfsync/internal/scanner"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: scan-test <library-path>")
		os.Exit(1)
	}

	path, err := filepath.Abs(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid path: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: slog.LevelInfo, Environment: "development"})

	uri := scanner.URIFromPath(path)
	root := &domain.LibraryRoot{
		ID:         id.Root(uri),
		Name:       filepath.Base(path),
		URI:        uri,
		SourceKind: domain.SourceImportedInternal,
	}
	root.Permission = scanner.ProbePermission(root)
	if !root.Scannable() {
		log.Error("directory is not readable", "path", path)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	s := scanner.NewFSScanner(log.Logger, scanner.Options{})
	result, err := s.ScanRoot(ctx, root, scanner.Request{Type: domain.ScanFull}, func(p scanner.Progress) {
		if p.Phase == scanner.PhaseReading {
			fmt.Printf("[%s] %d/%d - %s\n", p.Phase, p.Current, p.Total, p.CurrentItem)
		}
	})
	if err != nil {
		log.Error("scan failed", "error", err)
		os.Exit(1)
	}

	d := diff.Compute(diff.Input{Scanned: result.Snapshot, ScanType: domain.ScanFull, Unverified: result.Unverified})
	counts := d.Result()

	fmt.Printf("\n=== Scan Complete ===\n")
	fmt.Printf("Root ID: %s\n", root.ID)
	fmt.Printf("Duration: %s\n", result.CompletedAt.Sub(result.StartedAt))
	fmt.Printf("Comics: %d\n", counts.NewComics)
	fmt.Printf("Chapters: %d\n", counts.NewChapters)
	fmt.Printf("Pages: %d\n", counts.NewPages)
	fmt.Printf("Index writes: %d (%d batches)\n", d.Ops(), (d.Ops()+diff.DefaultBatchSize-1)/diff.DefaultBatchSize)
	fmt.Printf("Errors: %d (%d unverified comics/chapters)\n", len(result.Errors), len(result.Unverified))
	for _, e := range result.Errors {
		fmt.Printf("  %s\n", e.Error())
	}
}
