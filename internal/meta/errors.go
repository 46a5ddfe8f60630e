package meta

import (
	"errors"
	"fmt"
)

// MetadataErrorCode categorizes a malformed case.
type MetadataErrorCode string

const (
	// ErrCodeNoMetadata means the leading metadata block is absent or unterminated.
	ErrCodeNoMetadata MetadataErrorCode = "E_NO_METADATA"

	// ErrCodeTOML means the block is not valid TOML or has unknown keys.
	ErrCodeTOML MetadataErrorCode = "E_TOML"

	// ErrCodeMissingField means a required field is absent.
	ErrCodeMissingField MetadataErrorCode = "E_MISSING_FIELD"

	// ErrCodeSchema means a field violates the CUE schema.
	ErrCodeSchema MetadataErrorCode = "E_SCHEMA"

	// ErrCodeFilename means the case id cannot be derived from the file name.
	ErrCodeFilename MetadataErrorCode = "E_FILENAME"
)

// MetadataError reports a MalformedMetadata condition for one case file.
// It only ever excludes that case from the corpus run.
type MetadataError struct {
	Code    MetadataErrorCode
	File    string
	Field   string
	Line    int
	Message string
	Err     error
}

func (e *MetadataError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.File, e.Line)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: malformed metadata [%s] %s: %s", loc, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: malformed metadata [%s] %s", loc, e.Code, e.Message)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// IsMalformedMetadata returns true if err is (or wraps) a MetadataError.
func IsMalformedMetadata(err error) bool {
	var me *MetadataError
	return errors.As(err, &me)
}
