package evidence

import "time"

type UploadIndex struct {
	UploadID   string    `json:"upload_id"`
	MatchID    string    `json:"match_id"`
	UploadedBy string    `json:"uploaded_by"`
	Timestamp  time.Time `json:"timestamp"`
	Files      []string  `json:"files"`
}
