package media

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

// Error kinds
const (
	KindContainerParse         ErrorKind = "CONTAINER_PARSE"
	KindCodecConfigUnsupported ErrorKind = "CODEC_CONFIG_UNSUPPORTED"
	KindDecode                 ErrorKind = "DECODE"
	KindEncode                 ErrorKind = "ENCODE"
	KindUpload                 ErrorKind = "UPLOAD"
)

// Sentinels for errors.Is. A *Error matches the sentinel of its kind.
var (
	ErrContainerParse         = &Error{Kind: KindContainerParse}
	ErrCodecConfigUnsupported = &Error{Kind: KindCodecConfigUnsupported}
	ErrDecode                 = &Error{Kind: KindDecode}
	ErrEncode                 = &Error{Kind: KindEncode}
	ErrUpload                 = &Error{Kind: KindUpload}
)

// Error is a terminal pipeline error tagged with the stage kind that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// NewError creates a new pipeline error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// WrapKind tags err with kind unless it already carries one.
func WrapKind(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := KindOf(err); ok {
		return err
	}
	return NewError(kind, op, err)
}
