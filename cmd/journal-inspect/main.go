// Command journal-inspect prints the scan and scrape task journal of a
// stopped shelfsync daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/store"
)

func main() {
	dataPath := os.Getenv("DATA_PATH")
	if dataPath == "" {
		dataPath = os.ExpandEnv("$HOME/.shelfsync")
	}

	journal, err := store.OpenReadOnly(filepath.Join(dataPath, "tasks"))
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer journal.Close()

	ctx := context.Background()

	fmt.Println("=== Task Journal ===")
	fmt.Println()

	scansByStatus := make(map[domain.TaskStatus]int)
	scans := 0
	for task, err := range journal.ScanTasks.List(ctx) {
		if err != nil {
			log.Fatalf("Error reading scan tasks: %v", err)
		}
		scans++
		scansByStatus[task.Status]++
		if task.Status == domain.TaskFailed && scansByStatus[task.Status] <= 5 {
			fmt.Printf("Failed scan %s (root %s, %s): %s\n", task.ID, task.RootID, task.ScanType, task.Error)
		}
	}

	scrapesByStatus := make(map[domain.TaskStatus]int)
	scrapes, exhausted := 0, 0
	for task, err := range journal.ScrapeTasks.List(ctx) {
		if err != nil {
			log.Fatalf("Error reading scrape tasks: %v", err)
		}
		scrapes++
		scrapesByStatus[task.Status]++
		if task.Exhausted() {
			exhausted++
			if exhausted <= 5 {
				fmt.Printf("Exhausted scrape %s (%s): %s\n", task.ID, task.ComicTitle, task.Error)
			}
		}
	}

	statuses := []domain.TaskStatus{
		domain.TaskPending, domain.TaskRunning, domain.TaskCompleted,
		domain.TaskFailed, domain.TaskCancelled,
	}

	fmt.Println()
	fmt.Println("=== Summary ===")
	fmt.Printf("Scan tasks: %d\n", scans)
	for _, st := range statuses {
		fmt.Printf("  %-10s %d\n", st, scansByStatus[st])
	}
	fmt.Printf("Scrape tasks: %d\n", scrapes)
	for _, st := range statuses {
		fmt.Printf("  %-10s %d\n", st, scrapesByStatus[st])
	}
	fmt.Printf("Scrapes out of retries: %d\n", exhausted)
}
