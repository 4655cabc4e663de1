package domain

// Snapshot is the full comic/chapter/page state of one root, either as
// indexed or as just scanned.
type Snapshot struct {
	Comics   []Comic   `json:"comics"`
	Chapters []Chapter `json:"chapters"`
	Pages    []Page    `json:"pages"`
}

// Len returns the total number of entities in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.Comics) + len(s.Chapters) + len(s.Pages)
}
