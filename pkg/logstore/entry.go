// Package logstore keeps a byte-bounded in-memory ring of recent log
// entries, indexed for filtered queries, and fans entries out to live
// subscribers over bounded queues.
package logstore

import "time"

// Level is an RFC 5424 severity. Lower numeric value is more severe.
type Level int

const (
	LevelEmergency Level = iota
	LevelAlert
	LevelCritical
	LevelError
	LevelWarning
	LevelNotice
	LevelInfo
	LevelDebug
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelEmergency:
		return "emergency"
	case LevelAlert:
		return "alert"
	case LevelCritical:
		return "critical"
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelNotice:
		return "notice"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseLevel maps a level name to its Level. Unknown names map to LevelDebug
// so a filter using them matches everything.
func ParseLevel(name string) Level {
	switch name {
	case "emergency":
		return LevelEmergency
	case "alert":
		return LevelAlert
	case "critical":
		return LevelCritical
	case "error":
		return LevelError
	case "warning", "warn":
		return LevelWarning
	case "notice":
		return LevelNotice
	case "info":
		return LevelInfo
	default:
		return LevelDebug
	}
}

// Entry is one in-memory observability record.
type Entry struct {
	ID              uint64    `json:"id"`
	Level           Level     `json:"level"`
	Timestamp       time.Time `json:"timestamp"`
	EntityType      string    `json:"entity_type,omitempty"`
	EntityID        string    `json:"entity_id,omitempty"`
	RequestID       string    `json:"request_id,omitempty"`
	PipelineStage   string    `json:"pipeline_stage,omitempty"`
	Operation       string    `json:"operation,omitempty"`
	Message         string    `json:"message"`
	ExecutionTimeMS int64     `json:"execution_time_ms,omitempty"`
}

// sizeBytes approximates the entry's memory footprint for ring accounting.
func (e *Entry) sizeBytes() int {
	const fixedOverhead = 64
	return fixedOverhead + len(e.EntityType) + len(e.EntityID) + len(e.RequestID) +
		len(e.PipelineStage) + len(e.Operation) + len(e.Message)
}
