/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ipfix

import (
	"errors"
	"fmt"

	"github.com/abartolomey/ipfix/iana/version"
)

// ErrorKind classifies the errors this package returns so that callers can
// branch on failure class without string matching.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	// KindMissingTemplate indicates a data set referenced a template id that
	// is not (yet, or anymore) known for the given observation domain.
	KindMissingTemplate
	// KindEndOfMessage indicates the current message's set buffer has been
	// entirely consumed; callers should fetch the next message.
	KindEndOfMessage
	// KindEndOfStream indicates the underlying transport or file reader is
	// exhausted and no further messages will arrive.
	KindEndOfStream
	// KindInvalidIPFIX indicates malformed wire data: bad version, set
	// length underflow, field count mismatches, and similar.
	KindInvalidIPFIX
	// KindBufferTooSmall indicates an encode operation does not fit in the
	// remaining space of a message buffer.
	KindBufferTooSmall
	// KindNotImplemented indicates a named but unimplemented collaborator,
	// e.g., DTLS or SCTP transports.
	KindNotImplemented
	// KindIO wraps an underlying io.Reader/io.Writer failure.
	KindIO
	// KindConnection indicates a transport-level connection failure.
	KindConnection
	// KindNoSuchElement indicates a lookup against the Information Model
	// found no matching Information Element.
	KindNoSuchElement
	// KindInvalidLength indicates a reduced-length or variable-length
	// encoding violates the natural width or varlen bounds of a type.
	KindInvalidLength
	// KindSetup indicates a configuration or construction-time error, e.g.
	// a Session created without an Information Model.
	KindSetup
)

func (k ErrorKind) String() string {
	switch k {
	case KindMissingTemplate:
		return "missing template"
	case KindEndOfMessage:
		return "end of message"
	case KindEndOfStream:
		return "end of stream"
	case KindInvalidIPFIX:
		return "invalid ipfix"
	case KindBufferTooSmall:
		return "buffer too small"
	case KindNotImplemented:
		return "not implemented"
	case KindIO:
		return "io"
	case KindConnection:
		return "connection"
	case KindNoSuchElement:
		return "no such element"
	case KindInvalidLength:
		return "invalid length"
	case KindSetup:
		return "setup"
	default:
		return "unknown"
	}
}

// Error is the single structured error type returned across the package. Op
// names the failing operation (e.g. "Session.AddTemplate"), Kind classifies
// the failure, and Err, if non-nil, is the wrapped underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ipfix: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("ipfix: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind, so that
// callers can write errors.Is(err, &ipfix.Error{Kind: ipfix.KindMissingTemplate}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == KindUnknown {
		return false
	}
	return e.Kind == t.Kind
}

func newError(op string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// errorKind extracts the ErrorKind from err, for metrics labeling; errors
// not produced by this package are reported as KindUnknown.
func errorKind(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Sentinel errors for errors.Is comparisons against a fixed Kind without
// constructing an *Error value.
var (
	ErrMissingTemplate = &Error{Kind: KindMissingTemplate}
	ErrEndOfMessage    = &Error{Kind: KindEndOfMessage}
	ErrEndOfStream     = &Error{Kind: KindEndOfStream}
	ErrInvalidIPFIX    = &Error{Kind: KindInvalidIPFIX}
	ErrBufferTooSmall  = &Error{Kind: KindBufferTooSmall}
	ErrNotImplemented  = &Error{Kind: KindNotImplemented}
	ErrIO              = &Error{Kind: KindIO}
	ErrConnection      = &Error{Kind: KindConnection}
	ErrNoSuchElement   = &Error{Kind: KindNoSuchElement}
	ErrInvalidLength   = &Error{Kind: KindInvalidLength}
	ErrSetup           = &Error{Kind: KindSetup}
)

// legacy sentinels kept for compatibility with call sites predating the
// structured Error type.
var (
	ErrTemplateNotFound error = errors.New("template not found")
	ErrUnknownVersion   error = errors.New("unknown version")
	ErrUnknownFlowId    error = errors.New("unknown flow id")
)

func TemplateNotFound(observationDomainId uint32, templateId uint16) error {
	return newError("Session.GetTemplate", KindMissingTemplate,
		fmt.Errorf("template %d not found in observation domain %d", templateId, observationDomainId))
}

func UnknownVersion(v version.ProtocolVersion) error {
	return newError("Message.Decode", KindInvalidIPFIX,
		fmt.Errorf("%w %d, only 10 is specified", ErrUnknownVersion, v))
}

func UnknownFlowId(id uint16) error {
	return newError("Session.GetTemplate", KindMissingTemplate,
		fmt.Errorf("%w %d", ErrUnknownFlowId, id))
}
