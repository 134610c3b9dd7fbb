package models

import (
	"time"
)

// DateLayout is the wire and storage format of FileRecord.UploadDate.
const DateLayout = "2006-01-02"

// FileRecord is the metadata row kept for every uploaded blob.
type FileRecord struct {
	ID         string    `json:"fileId"`
	Filename   string    `json:"filename"`
	S3Path     string    `json:"s3Path"`
	UploadDate time.Time `json:"upload_date"`
}

// ObjectKey is the blob-store key for a file: "<id>-<original filename>".
func ObjectKey(id, filename string) string {
	return id + "-" + filename
}

// ObjectKey returns the blob-store key the record's bytes live under.
func (f FileRecord) ObjectKey() string {
	return ObjectKey(f.ID, f.Filename)
}

// UploadResponse is the 201 body of POST /v1/file.
type UploadResponse struct {
	FileID     string `json:"fileId"`
	Filename   string `json:"filename"`
	S3Path     string `json:"s3Path"`
	UploadDate string `json:"upload_date"`
}

// FileResponse is the 200 body of GET /v1/file/{id}.
type FileResponse struct {
	FileID      string `json:"fileId"`
	Filename    string `json:"filename"`
	S3Path      string `json:"s3Path"`
	DownloadURL string `json:"downloadUrl"`
}

func NewUploadResponse(f FileRecord) UploadResponse {
	return UploadResponse{
		FileID:     f.ID,
		Filename:   f.Filename,
		S3Path:     f.S3Path,
		UploadDate: f.UploadDate.Format(DateLayout),
	}
}

func NewFileResponse(f FileRecord, downloadURL string) FileResponse {
	return FileResponse{
		FileID:      f.ID,
		Filename:    f.Filename,
		S3Path:      f.S3Path,
		DownloadURL: downloadURL,
	}
}

// Today truncates t to a UTC calendar date.
func Today(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
