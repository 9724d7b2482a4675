package inbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/scrypster/rapport/pkg/types"
)

// Transcript is one conversation to analyze.
type Transcript struct {
	UserID   string          `json:"user_id"`
	Messages []types.Message `json:"messages"`
}

// ParseTranscript decodes a JSON array of messages or an object with
// "messages" and an optional "user_id". When the user id is absent it is
// taken from the file name without its extension.
func ParseTranscript(name string, data []byte) (Transcript, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Transcript{}, errors.New("transcript is empty")
	}

	var t Transcript
	if data[0] == '[' {
		if err := json.Unmarshal(data, &t.Messages); err != nil {
			return Transcript{}, fmt.Errorf("failed to parse transcript: %w", err)
		}
	} else if err := json.Unmarshal(data, &t); err != nil {
		return Transcript{}, fmt.Errorf("failed to parse transcript: %w", err)
	}

	if strings.TrimSpace(t.UserID) == "" && name != "" {
		base := filepath.Base(name)
		t.UserID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return t, nil
}
