// Package entry defines the canonical structured log record handed to the
// downstream formatter: the bunyan core fields plus a source tag.
package entry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"pm2bunyan/internal/jsoncodec"
)

// Level is the numeric severity of an entry.
type Level int

const (
	LevelTrace Level = 10
	LevelDebug Level = 20
	LevelInfo  Level = 30
	LevelError Level = 40
	LevelFatal Level = 50 // and above
)

// SchemaVersion is the value of the "v" field on every entry we build.
const SchemaVersion = 0

// TimeLayout is ISO 8601 in UTC with millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Field names of the canonical schema.
const (
	FieldName      = "name"
	FieldHostname  = "hostname"
	FieldPID       = "pid"
	FieldLevel     = "level"
	FieldTime      = "time"
	FieldMsg       = "msg"
	FieldV         = "v"
	FieldSourceTag = "source_tag"
)

// ErrNotObject is returned by Parse when the data is not a JSON object.
var ErrNotObject = errors.New("not a JSON object")

// Entry is one canonical log record.
type Entry struct {
	Name      string
	Hostname  string
	PID       int // zero means not known yet
	Level     Level
	Time      string
	Msg       string
	V         int
	SourceTag string

	// Extra holds every other field of a pre-structured record, verbatim.
	Extra map[string]json.RawMessage
}

// HasPID reports whether the entry carries a usable process id.
func (e Entry) HasPID() bool {
	return e.PID > 0
}

// SourceTag formats the routing annotation "[name-instanceId (channel)]".
func SourceTag(name string, instanceID int, channel string) string {
	return fmt.Sprintf("[%s-%d (%s)]", name, instanceID, channel)
}

// FormatTime converts seconds since the epoch to the entry time format.
func FormatTime(at float64) string {
	return time.UnixMilli(int64(math.Round(at * 1000))).UTC().Format(TimeLayout)
}

// Parse decodes a structured record. Known fields with the wrong JSON type
// are treated as absent so the caller can fill them in; unknown fields end
// up in Extra.
func Parse(data []byte) (Entry, error) {
	var fields map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(data, &fields); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if fields == nil {
		return Entry{}, ErrNotObject
	}

	var e Entry
	for key, raw := range fields {
		switch key {
		case FieldName:
			decodeInto(raw, &e.Name)
		case FieldHostname:
			decodeInto(raw, &e.Hostname)
		case FieldPID:
			decodeInto(raw, &e.PID)
		case FieldLevel:
			decodeInto(raw, &e.Level)
		case FieldTime:
			decodeInto(raw, &e.Time)
		case FieldMsg:
			decodeInto(raw, &e.Msg)
		case FieldV:
			decodeInto(raw, &e.V)
		case FieldSourceTag:
			// always recomputed from the live routing context
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]json.RawMessage)
			}
			e.Extra[key] = raw
		}
	}
	return e, nil
}

func decodeInto[T any](raw json.RawMessage, dst *T) {
	var v T
	if err := jsoncodec.Unmarshal(raw, &v); err == nil {
		*dst = v
	}
}

// MarshalJSON writes the entry as a single flat JSON object.
func (e Entry) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Extra)+8)
	for k, v := range e.Extra {
		obj[k] = v
	}
	obj[FieldName] = e.Name
	obj[FieldHostname] = e.Hostname
	obj[FieldPID] = e.PID
	obj[FieldLevel] = int(e.Level)
	obj[FieldTime] = e.Time
	obj[FieldMsg] = e.Msg
	obj[FieldV] = e.V
	obj[FieldSourceTag] = e.SourceTag
	return jsoncodec.Marshal(obj)
}

// Marshal serializes e as one JSON document without a trailing newline.
func Marshal(e Entry) ([]byte, error) {
	return e.MarshalJSON()
}
