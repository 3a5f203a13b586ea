package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	dataFieldPrefix = "data:"
	doneSentinel    = "[DONE]"
	malformedFormat = "%w: %v"
	providerFormat  = "%w: %s"
	frameLineBreak  = "\n"
	carriageReturn  = '\r'
	lineFeed        = '\n'
)

var frameSeparator = []byte("\n\n")

var (
	// ErrMalformedFrame reports a data payload that is not valid JSON.
	ErrMalformedFrame = errors.New("malformed stream frame")
	// ErrProviderError reports an error object sent inside the stream.
	ErrProviderError = errors.New("provider reported an error")
)

// FrameDecoder reassembles server-sent-event frames from arbitrarily split
// byte chunks. Line endings are normalised to "\n" so CRLF streams split the
// same way as LF streams. A trailing partial frame is retained across writes.
type FrameDecoder struct {
	buffer    []byte
	pendingCR bool
}

// Write appends chunk and returns every frame completed by it, without the
// blank-line separator.
func (decoder *FrameDecoder) Write(chunk []byte) []string {
	for _, value := range chunk {
		if decoder.pendingCR {
			decoder.pendingCR = false
			decoder.buffer = append(decoder.buffer, lineFeed)
			if value == lineFeed {
				continue
			}
		}
		if value == carriageReturn {
			decoder.pendingCR = true
			continue
		}
		decoder.buffer = append(decoder.buffer, value)
	}

	var frames []string
	for {
		separatorIndex := bytes.Index(decoder.buffer, frameSeparator)
		if separatorIndex < 0 {
			break
		}
		frames = append(frames, string(decoder.buffer[:separatorIndex]))
		decoder.buffer = decoder.buffer[separatorIndex+len(frameSeparator):]
	}
	return frames
}

// Flush returns the retained partial frame at end of stream, or "" when only
// whitespace remains, and resets the decoder.
func (decoder *FrameDecoder) Flush() string {
	remaining := string(decoder.buffer)
	decoder.buffer = nil
	decoder.pendingCR = false
	if strings.TrimSpace(remaining) == "" {
		return ""
	}
	return remaining
}

type streamPayload struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ParseFrame extracts the text fragment carried by one frame. done is true for
// the termination sentinel. Frames without data lines, and payloads without a
// delta content field, yield an empty fragment and no error.
func ParseFrame(frame string) (fragment string, done bool, err error) {
	var dataLines []string
	for _, line := range strings.Split(frame, frameLineBreak) {
		if !strings.HasPrefix(line, dataFieldPrefix) {
			continue
		}
		value := strings.TrimPrefix(line, dataFieldPrefix)
		value = strings.TrimPrefix(value, " ")
		dataLines = append(dataLines, value)
	}
	if len(dataLines) == 0 {
		return "", false, nil
	}

	payload := strings.Join(dataLines, frameLineBreak)
	if strings.TrimSpace(payload) == doneSentinel {
		return "", true, nil
	}

	var decoded streamPayload
	if unmarshalErr := json.Unmarshal([]byte(payload), &decoded); unmarshalErr != nil {
		return "", false, fmt.Errorf(malformedFormat, ErrMalformedFrame, unmarshalErr)
	}
	if decoded.Error != nil {
		return "", false, fmt.Errorf(providerFormat, ErrProviderError, decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Delta.Content == nil {
		return "", false, nil
	}
	return *decoded.Choices[0].Delta.Content, false, nil
}
