package types

import "time"

// FolderStatus is the lifecycle state of a configured folder
type FolderStatus string

const (
	StatusPending          FolderStatus = "pending"
	StatusScanning         FolderStatus = "scanning"
	StatusIndexing         FolderStatus = "indexing"
	StatusActive           FolderStatus = "active"
	StatusError            FolderStatus = "error"
	StatusDownloadingModel FolderStatus = "downloading-model"
)

// IsWorking reports whether a worker owns the folder in this status
func (s FolderStatus) IsWorking() bool {
	switch s {
	case StatusScanning, StatusIndexing, StatusDownloadingModel:
		return true
	default:
		return false
	}
}

// HasProgress reports whether the progress field is meaningful in this status
func (s FolderStatus) HasProgress() bool {
	return s.IsWorking()
}

// Valid checks the status against the known set
func (s FolderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusScanning, StatusIndexing, StatusActive, StatusError, StatusDownloadingModel:
		return true
	default:
		return false
	}
}

// FolderConfig is the user-declared intent for one folder
type FolderConfig struct {
	Path           string `yaml:"path" json:"path"`
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`
	Enabled        bool   `yaml:"enabled" json:"enabled"`
}

// Validate checks the fields that do not require filesystem access
func (f FolderConfig) Validate() error {
	if f.Path == "" {
		return ErrEmptyPath
	}
	if f.EmbeddingModel == "" {
		return ErrEmptyModel
	}
	return nil
}

// FolderState is the runtime view of a folder, published on every meaningful transition
type FolderState struct {
	Path          string       `json:"path"`
	Status        FolderStatus `json:"status"`
	Progress      float64      `json:"progress"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	Retryable     bool         `json:"retryable,omitempty"`
	Busy          bool         `json:"busy,omitempty"`
	Paused        bool         `json:"paused,omitempty"`
	LastIndexedAt time.Time    `json:"last_indexed_at"`
	DocumentCount int          `json:"document_count"`
	TotalBytes    int64        `json:"total_bytes"`
	Model         string       `json:"model"`
}
