package store

// RowStatus is the archival state of a row. Rows are soft-deleted:
// archived entries are excluded from default reads but never removed.
type RowStatus string

const (
	// Active is the normal visible state.
	Active RowStatus = "ACTIVE"
	// Archived marks a soft-deleted row retained for historical lookups.
	Archived RowStatus = "ARCHIVED"
)

func (s RowStatus) String() string {
	return string(s)
}
