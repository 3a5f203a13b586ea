// Package tokenizer estimates how many model tokens a context document costs.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates token counts for text content.
type Counter interface {
	Name() string
	CountString(input string) (int, error)
}

// Config captures tokenizer selection parameters.
type Config struct {
	Model string
}

const (
	defaultModel        = "gpt-4o"
	defaultEncodingName = "cl100k_base"

	errorFallbackTokenizerFormat = "initialize fallback tokenizer: %w"
)

// ErrNilCounter is returned when counting without a counter.
var ErrNilCounter = errors.New("nil tokenizer counter")

// NewCounter returns a tiktoken-backed Counter for the requested model and the
// name of the encoding actually used. Models without a known encoding fall back
// to cl100k_base.
func NewCounter(cfg Config) (Counter, string, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	lowerModel := strings.ToLower(model)

	encoding, encodingErr := tiktoken.EncodingForModel(lowerModel)
	if encodingErr == nil && encoding != nil {
		return tiktokenCounter{encoding: encoding, name: lowerModel}, model, nil
	}
	fallback, fallbackErr := tiktoken.GetEncoding(defaultEncodingName)
	if fallbackErr != nil {
		return nil, "", fmt.Errorf(errorFallbackTokenizerFormat, fallbackErr)
	}
	return tiktokenCounter{encoding: fallback, name: defaultEncodingName}, defaultEncodingName, nil
}

// CountText counts tokens in text, treating a nil counter as an error.
func CountText(counter Counter, text string) (int, error) {
	if counter == nil {
		return 0, ErrNilCounter
	}
	return counter.CountString(text)
}

// tiktokenCounter counts with a resolved tiktoken encoding.
type tiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	name     string
}

func (counter tiktokenCounter) Name() string {
	return counter.name
}

func (counter tiktokenCounter) CountString(input string) (int, error) {
	if counter.encoding == nil {
		return 0, ErrNilCounter
	}
	return len(counter.encoding.EncodeOrdinary(input)), nil
}
