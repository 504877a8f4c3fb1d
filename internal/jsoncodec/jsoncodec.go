// Package jsoncodec is the JSON encoder for log records and bus events.
package jsoncodec

import (
	"github.com/bytedance/sonic"
)

// defaultConfig keeps encoding/json semantics (sorted map keys, HTML
// escaping, json.Marshaler support) so output is deterministic.
var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}
