package parsers

import (
	"errors"
	"io"

	"github.com/username/coinfolio/backend/src/models"
)

// ErrDeserialization marks input data the parser could not make sense of.
var ErrDeserialization = errors.New("deserialization error")

// Parser turns a raw export file from one source into canonical event
// history. Parsers skip rows they cannot understand and report them through
// their message aggregator rather than failing the whole file; only a
// structurally unreadable document returns an error.
type Parser interface {
	Parse(file io.Reader) (models.History, error)
}
