package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedCommand is returned for update commands lacking a string "url" or "version".
var ErrMalformedCommand = errors.New("malformed update command")

// UpdateCommandPayload is the command received on the update topic.
//
// Fields:
//
//	URL: location of the firmware image (http, https or s3 scheme).
//	Version: version of the image, compared against the running firmware.
type UpdateCommandPayload struct {
	URL     string `json:"url"`
	Version string `json:"version"`
}

// ParseUpdateCommand decodes an update command. Both fields must be present as
// non-empty JSON strings; any other shape is rejected.
func ParseUpdateCommand(payload []byte) (UpdateCommandPayload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return UpdateCommandPayload{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}

	var cmd UpdateCommandPayload
	required := []struct {
		key string
		dst *string
	}{
		{"url", &cmd.URL},
		{"version", &cmd.Version},
	}
	for _, f := range required {
		raw, ok := fields[f.key]
		if !ok {
			return UpdateCommandPayload{}, fmt.Errorf("%w: no key %q", ErrMalformedCommand, f.key)
		}
		if err := json.Unmarshal(raw, f.dst); err != nil || *f.dst == "" {
			return UpdateCommandPayload{}, fmt.Errorf("%w: key %q is not a non-empty string", ErrMalformedCommand, f.key)
		}
	}
	return cmd, nil
}
