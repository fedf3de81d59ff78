package credential

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoCredential is returned when the pool holds no usable credential.
var ErrNoCredential = errors.New("no usable CodeBuddy credential")

// IndexError reports an out-of-range credential index.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("credential index %d out of range (have %d)", e.Index, e.Len)
}

// StatusCode implements the status interface consumed by the HTTP layer.
func (e *IndexError) StatusCode() int { return http.StatusBadRequest }
