package domain

import "time"

// GenerationType enumerates supported output media.
type GenerationType string

const (
	GenerationTypeText  GenerationType = "text"
	GenerationTypeImage GenerationType = "image"
	GenerationTypeVideo GenerationType = "video"
	GenerationTypeAudio GenerationType = "audio"
)

// GenerationStatus enumerates lifecycle states of a single generation record.
type GenerationStatus string

const (
	GenerationStatusPending   GenerationStatus = "pending"
	GenerationStatusCompleted GenerationStatus = "completed"
	GenerationStatusError     GenerationStatus = "error"
	GenerationStatusSkipped   GenerationStatus = "skipped"
)

// SkippedOutput is the sentinel output persisted when a cell's execution
// condition evaluated to false and the backend was never invoked.
const SkippedOutput = "[skipped: condition not met]"

// Generation is one historical execution record for a cell. Records are
// append-only and stored newest-first; the single outstanding async entry is
// the only one that mutates in place (pending -> completed|error).
type Generation struct {
	ID             string
	Prompt         string
	ResolvedPrompt string
	Output         string
	Model          string
	Temperature    float64
	Type           GenerationType
	Status         GenerationStatus
	JobID          *string
	Timestamp      time.Time
}

// Terminal reports whether the generation has reached a final state.
func (g Generation) Terminal() bool {
	switch g.Status {
	case GenerationStatusCompleted, GenerationStatusError, GenerationStatusSkipped:
		return true
	}
	return false
}
