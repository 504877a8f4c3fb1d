// Package event decodes the raw log notifications published by the process
// manager's bus.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pm2bunyan/internal/jsoncodec"
)

// LogPrefix marks log-class bus event names ("log:out", "log:err").
const LogPrefix = "log:"

var (
	// ErrNotLog is returned for bus events outside the log category.
	ErrNotLog = errors.New("not a log event")
	// ErrNoChannel is returned when neither a channel nor a log event name is present.
	ErrNoChannel = errors.New("event has no channel")
)

// ProcessMeta describes the managed process that produced an event.
type ProcessMeta struct {
	Name        string
	InstanceID  int
	PIDFilePath string
}

// UnmarshalJSON accepts pm2's keys (pm_id, pm_pid_path) as well as the
// spelled-out instanceId and pidFilePath.
func (p *ProcessMeta) UnmarshalJSON(b []byte) error {
	var aux struct {
		Name        string `json:"name"`
		PMID        *int   `json:"pm_id"`
		InstanceID  *int   `json:"instanceId"`
		PMPIDPath   string `json:"pm_pid_path"`
		PIDFilePath string `json:"pidFilePath"`
	}
	if err := jsoncodec.Unmarshal(b, &aux); err != nil {
		return err
	}
	p.Name = aux.Name
	switch {
	case aux.PMID != nil:
		p.InstanceID = *aux.PMID
	case aux.InstanceID != nil:
		p.InstanceID = *aux.InstanceID
	}
	p.PIDFilePath = aux.PMPIDPath
	if p.PIDFilePath == "" {
		p.PIDFilePath = aux.PIDFilePath
	}
	return nil
}

// RawEvent is one inbound notification. Data and Str are kept undecoded;
// deciding what the payload means is the sanitizer's job.
type RawEvent struct {
	Channel string
	Process ProcessMeta
	Data    json.RawMessage // nil when absent
	Str     *string         // top-level raw text, used when Data is absent
	At      float64         // seconds since epoch
}

type wireEvent struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Process ProcessMeta     `json:"process"`
	Data    json.RawMessage `json:"data"`
	Str     *string         `json:"str"`
	At      float64         `json:"at"`
}

// Decode parses one bus message.
func Decode(b []byte) (RawEvent, error) {
	var w wireEvent
	if err := jsoncodec.Unmarshal(b, &w); err != nil {
		return RawEvent{}, fmt.Errorf("failed to decode event: %w", err)
	}

	channel := w.Channel
	if w.Event != "" {
		if !strings.HasPrefix(w.Event, LogPrefix) {
			return RawEvent{}, fmt.Errorf("%w: %q", ErrNotLog, w.Event)
		}
		if channel == "" {
			channel = strings.TrimPrefix(w.Event, LogPrefix)
		}
	}
	if channel == "" {
		return RawEvent{}, ErrNoChannel
	}

	return RawEvent{
		Channel: channel,
		Process: w.Process,
		Data:    w.Data,
		Str:     w.Str,
		At:      w.At,
	}, nil
}
