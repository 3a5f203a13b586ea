// Package clipboard provides access to the system clipboard.
package clipboard

import (
	"fmt"

	"github.com/atotto/clipboard"
)

const errorCopyFormat = "copy to clipboard: %w"

// Copier copies textual data to the system clipboard.
type Copier interface {
	Copy(text string) error
}

// CopierFunc adapts a function into a Copier.
type CopierFunc func(text string) error

// Copy invokes the underlying function.
func (copier CopierFunc) Copy(text string) error {
	return copier(text)
}

// Service implements Copier using github.com/atotto/clipboard.
type Service struct{}

// NewService constructs a Clipboard service implementation.
func NewService() *Service {
	return &Service{}
}

// Copy writes text to the system clipboard.
func (service *Service) Copy(text string) error {
	if writeErr := clipboard.WriteAll(text); writeErr != nil {
		return fmt.Errorf(errorCopyFormat, writeErr)
	}
	return nil
}

var (
	_ Copier = (*Service)(nil)
	_ Copier = CopierFunc(nil)
)
