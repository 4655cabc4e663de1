package domain

// UpdateResult summarizes one diff application.
type UpdateResult struct {
	NewComics       int `json:"new_comics"`
	UpdatedComics   int `json:"updated_comics"`
	DeletedComics   int `json:"deleted_comics"`
	NewChapters     int `json:"new_chapters"`
	UpdatedChapters int `json:"updated_chapters"`
	DeletedChapters int `json:"deleted_chapters"`
	NewPages        int `json:"new_pages"`
	DeletedPages    int `json:"deleted_pages"`
}

// Add returns the field-wise sum of r and o.
func (r UpdateResult) Add(o UpdateResult) UpdateResult {
	return UpdateResult{
		NewComics:       r.NewComics + o.NewComics,
		UpdatedComics:   r.UpdatedComics + o.UpdatedComics,
		DeletedComics:   r.DeletedComics + o.DeletedComics,
		NewChapters:     r.NewChapters + o.NewChapters,
		UpdatedChapters: r.UpdatedChapters + o.UpdatedChapters,
		DeletedChapters: r.DeletedChapters + o.DeletedChapters,
		NewPages:        r.NewPages + o.NewPages,
		DeletedPages:    r.DeletedPages + o.DeletedPages,
	}
}

// Empty reports whether nothing changed.
func (r UpdateResult) Empty() bool {
	return r == UpdateResult{}
}

// SyncResult is handed back to the caller of a successful sync.
type SyncResult struct {
	ScanTask      ScanTask     `json:"scan_task"`
	Counts        UpdateResult `json:"counts"`
	ScrapeTaskIDs []string     `json:"scrape_task_ids"`
	// ScrapeEnqueueErrors counts scrape tasks that could not be queued.
	// Such failures never fail the sync itself.
	ScrapeEnqueueErrors int `json:"scrape_enqueue_errors,omitempty"`
}
