package types

import "time"

// FileType is the declared content type of an uploaded plant data file.
type FileType string

const (
	FileTypeCSV  FileType = "csv"
	FileTypeJSON FileType = "json"
)

// Valid reports whether the file type is one the service accepts.
func (f FileType) Valid() bool {
	return f == FileTypeCSV || f == FileTypeJSON
}

// UploadMeta is the information extracted from an upload before it is stored.
type UploadMeta struct {
	FileType  FileType
	RowCount  int
	Columns   []string
	SizeBytes int64
}

// UploadedFile is the registry record for a stored upload. Records are
// immutable once created.
type UploadedFile struct {
	ID               string    `json:"file_id"`
	OriginalFilename string    `json:"original_filename"`
	StoredPath       string    `json:"stored_path"`
	FileType         FileType  `json:"file_type"`
	UploadedAt       time.Time `json:"uploaded_at"`
	RowCount         int       `json:"row_count"`
	Columns          []string  `json:"columns"`
	SizeBytes        int64     `json:"file_size_bytes"`
}

// SweepResult summarizes one expiry sweep of the upload store.
type SweepResult struct {
	Removed   int `json:"files_removed"`
	Orphans   int `json:"orphans_removed"`
	Remaining int `json:"files_remaining"`
}
