package pipeline

// SubmitRequest represents a request to process a video URL
type SubmitRequest struct {
	URL    string `json:"url"`
	UserID string `json:"user_id"`
	Force  bool   `json:"force,omitempty"`
}

// SubmitResponse represents the response from submitting a video
type SubmitResponse struct {
	JobID           string `json:"job_id"`
	VideoID         string `json:"video_id"`
	URL             string `json:"url"`
	Existing        bool   `json:"existing"`
	DedupeSeenCount int    `json:"dedupe_seen_count"`
}

// StatusReport is the poll result for a job.
//
// A successful report carries Stage and Status; segment counters are only
// set for the transcribe stage. A failed job carries Error (an ErrorKind)
// and Message instead.
type StatusReport struct {
	Stage         string `json:"stage,omitempty"`
	Status        string `json:"status,omitempty"`
	TotalSegments *int   `json:"total_segments,omitempty"`
	DoneSegments  *int   `json:"done_segments,omitempty"`
	Tasks         *int   `json:"tasks,omitempty"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Finished reports whether the job reached a terminal state.
func (r StatusReport) Finished() bool {
	return r.Error != "" || (r.Stage == StageEnd && r.Status == StatusDone)
}

// Stage names reported by poll
const (
	StageInit       = "init"
	StageDownload   = "download"
	StageTranscribe = "transcribe"
	StageSummarize  = "summarize"
	StageCategorize = "categorize"
	StageEnd        = "end"
)

// Status values reported by poll
const (
	StatusInProgress = "in_progress"
	StatusPending    = "PENDING"
	StatusRunning    = "RUNNING"
	StatusSuccess    = "SUCCESS"
	StatusFailed     = "FAILED"
	StatusDone       = "DONE"
)

// Chunk is one timestamped piece of transcript text. Times are seconds
// from the start of the full audio.
type Chunk struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcript is the aggregated transcription of a video
type Transcript struct {
	Chunks   []Chunk `json:"chunks"`
	Text     string  `json:"text"`
	Language string  `json:"language"`
}

// Empty reports whether the transcript carries no text at all
func (t *Transcript) Empty() bool {
	return t == nil || (len(t.Chunks) == 0 && t.Text == "")
}

// VideoMetadata is the metadata extracted by the download stage
type VideoMetadata struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Channel     string `json:"channel"`
	ChannelID   string `json:"channel_id"`
	Duration    int    `json:"duration"`
	Language    string `json:"language"`
	UploadDate  string `json:"upload_date"`
	Thumbnail   string `json:"thumbnail"`
}
