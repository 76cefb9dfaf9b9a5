package msst

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ncobase/msst/validator"
)

// State is the lifecycle state of a remote task.
type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// ParseState maps a server status string onto a State. Anything other than
// completed or failed, such as "accepted" or "completed_or_not_found", is
// treated as still processing.
func ParseState(s string) State {
	switch State(strings.ToLower(strings.TrimSpace(s))) {
	case StateCompleted:
		return StateCompleted
	case StateFailed:
		return StateFailed
	default:
		return StateProcessing
	}
}

// IsTerminal reports whether no further transition can happen.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	*s = ParseState(string(b))
	return nil
}

// Mode is the transfer mode of a job.
type Mode int

const (
	// ModeDirect uploads a local file to the processing API.
	ModeDirect Mode = iota + 1
	// ModePresigned hands the API presigned source and sink URLs.
	ModePresigned
	// ModeStorageKey hands the API an object key in the shared store.
	ModeStorageKey
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModePresigned:
		return "presigned"
	case ModeStorageKey:
		return "storage-key"
	default:
		return "unknown"
	}
}

// Job describes one separation request. Exactly one source is set.
type Job struct {
	TaskID       string `json:"task_id" validate:"required"`
	PresetName   string `json:"preset_name" validate:"required"`
	OutputFormat string `json:"output_format" validate:"omitempty,oneof=wav mp3 flac"`

	SourcePath string `json:"source_path,omitempty"` // direct upload
	SourceKey  string `json:"source_key,omitempty"`  // storage key
	SourceURL  string `json:"source_url,omitempty" validate:"omitempty,url"`

	// SinkRefs maps output filename to a presigned PUT URL.
	SinkRefs map[string]string `json:"sink_refs,omitempty"`
	// SinkKeys maps output filename to the object key behind its sink URL.
	// Kept client side to locate results after completion.
	SinkKeys map[string]string `json:"sink_keys,omitempty"`
	// PresignExpiresAt is the earliest expiry among SourceURL and SinkRefs
	// when the client signed them, zero otherwise.
	PresignExpiresAt time.Time `json:"presign_expires_at,omitempty"`

	CallbackURL string `json:"callback_url,omitempty" validate:"omitempty,url"`
}

// NewJob returns a job with a fresh task id.
func NewJob(preset, format string) Job {
	if format == "" {
		format = "wav"
	}
	return Job{
		TaskID:       uuid.NewString(),
		PresetName:   preset,
		OutputFormat: format,
	}
}

// Mode derives the transfer mode from the populated source fields.
func (j Job) Mode() (Mode, error) {
	var modes []Mode
	if j.SourcePath != "" {
		modes = append(modes, ModeDirect)
	}
	if j.SourceURL != "" || len(j.SinkRefs) > 0 {
		modes = append(modes, ModePresigned)
	}
	if j.SourceKey != "" {
		modes = append(modes, ModeStorageKey)
	}

	switch len(modes) {
	case 0:
		return 0, errors.New("job has no source")
	case 1:
	default:
		return 0, fmt.Errorf("job mixes transfer modes %v", modes)
	}

	if modes[0] == ModePresigned {
		if j.SourceURL == "" {
			return 0, errors.New("presigned job requires a source url")
		}
		if len(j.SinkRefs) == 0 {
			return 0, errors.New("presigned job requires sink urls")
		}
	}
	return modes[0], nil
}

// Validate checks field constraints and the transfer mode.
func (j Job) Validate() error {
	if err := validator.Validate(&j); err != nil {
		return err
	}
	_, err := j.Mode()
	return err
}

// PresignExpired reports whether the job carries signed URLs that are no
// longer valid at now.
func (j Job) PresignExpired(now time.Time) bool {
	return !j.PresignExpiresAt.IsZero() && !now.Before(j.PresignExpiresAt)
}

// UsesCallback reports whether completion arrives by callback.
func (j Job) UsesCallback() bool {
	return j.CallbackURL != ""
}

// SubmitResponse is the processing API's answer to a submission.
type SubmitResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TaskStatus is a snapshot of a remote task.
type TaskStatus struct {
	TaskID  string   `json:"task_id"`
	State   State    `json:"status"`
	Message string   `json:"message,omitempty"`
	Results []string `json:"results,omitempty"`
}

// ResultList is the answer of GET /results/{task_id}.
type ResultList struct {
	TaskID       string   `json:"task_id"`
	Results      []string `json:"results"`
	DownloadURLs []string `json:"download_urls,omitempty"`
}

// CallbackPayload is pushed by the processing API when a task ends. The
// populated result fields depend on the transfer mode of the job.
type CallbackPayload struct {
	TaskID  string `json:"task_id" binding:"required"`
	Status  State  `json:"status"`
	Message string `json:"message,omitempty"`

	// Direct mode: result paths plus server download URLs.
	Results []string `json:"results,omitempty"`
	// Direct and storage-key modes: URLs to fetch each result.
	DownloadURLs []string `json:"download_urls,omitempty"`
	// Presigned mode: filenames already written to the sink URLs.
	UploadedFiles []string `json:"uploaded_files,omitempty"`
	// Storage-key mode: object keys of the results.
	EcloudKeys []string `json:"ecloud_keys,omitempty"`
	// Validity of DownloadURLs in seconds, counted from delivery.
	URLExpireSeconds int `json:"url_expire_seconds,omitempty"`
}

// Basename returns the file name of a result reference, which may be a
// server relative path such as "t1/extra_output/vocals.wav".
func Basename(ref string) string {
	ref = strings.ReplaceAll(ref, "\\", "/")
	return path.Base(ref)
}
