package models

// FileInfo describes one file inside a transfer batch.
type FileInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mimeType"`
	Index      int    `json:"currentIndex"`
	TotalFiles int    `json:"totalFiles"`
}
