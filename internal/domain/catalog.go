package domain

// RejectedFile is a directory entry excluded from a model catalog.
type RejectedFile struct {
	Name string
	Err  error
}

// Listing is the result of one catalog discovery.
type Listing struct {
	// Files maps each required model to its sorted, trimmed snapshots. A
	// model with no files maps to an empty slice.
	Files    map[string][]SnapshotFile
	Rejected []RejectedFile
}
