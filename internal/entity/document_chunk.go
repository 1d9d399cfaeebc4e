package entity

import "time"

// DocumentChunk is one window of a document's extracted text.
type DocumentChunk struct {
	Filename    string    `json:"filename"`
	ChunkIndex  int       `json:"chunk_index"`
	TextContent string    `json:"text_content"`
	FileType    string    `json:"file_type"`
	UploadDate  time.Time `json:"upload_date"`
	ChunkSize   int       `json:"chunk_size"`
}
