package benchmark

import (
	stderrors "errors"
	"fmt"

	"github.com/cloudflare/p11bench/errors"
	"github.com/cloudflare/p11bench/log"
	"github.com/cloudflare/p11bench/token"
	"github.com/miekg/pkcs11"
)

// Kind tags how a run ended.
type Kind int

// The possible outcome kinds.
const (
	Ok Kind = iota
	TransportError
	ObjectNotFound
	AmbiguousObject
	PayloadSizeUnsupported
)

var kindNames = [...]string{
	Ok:                     "ok",
	TransportError:         "transport_error",
	ObjectNotFound:         "object_not_found",
	AmbiguousObject:        "ambiguous_object",
	PayloadSizeUnsupported: "payload_size_unsupported",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Outcome describes how one run ended. Only the field matching the kind is
// meaningful.
type Outcome struct {
	kind  Kind
	code  uint
	label string
	size  int
}

// OK is the outcome of a run that completed every iteration.
func OK() Outcome {
	return Outcome{kind: Ok}
}

// Transport is the outcome of a run stopped by the token returning code.
func Transport(code uint) Outcome {
	return Outcome{kind: TransportError, code: code}
}

// NotFound is the outcome of a run whose search for label matched nothing.
func NotFound(label string) Outcome {
	return Outcome{kind: ObjectNotFound, label: label}
}

// Ambiguous is the outcome of a run whose search for label matched more than
// one object.
func Ambiguous(label string) Outcome {
	return Outcome{kind: AmbiguousObject, label: label}
}

// PayloadUnsupported is the outcome of a run refused because of its payload
// size.
func PayloadUnsupported(size int) Outcome {
	return Outcome{kind: PayloadSizeUnsupported, size: size}
}

// Kind returns the outcome tag.
func (o Outcome) Kind() Kind { return o.kind }

// Code returns the PKCS#11 return value of a TransportError.
func (o Outcome) Code() uint { return o.code }

// Label returns the search label of ObjectNotFound and AmbiguousObject.
func (o Outcome) Label() string { return o.label }

// Size returns the rejected payload size of PayloadSizeUnsupported.
func (o Outcome) Size() int { return o.size }

func (o Outcome) String() string {
	switch o.kind {
	case TransportError:
		return fmt.Sprintf("%s(%s)", o.kind, pkcs11.Error(o.code))
	case ObjectNotFound, AmbiguousObject:
		return fmt.Sprintf("%s(%q)", o.kind, o.label)
	case PayloadSizeUnsupported:
		return fmt.Sprintf("%s(%d)", o.kind, o.size)
	}
	return o.kind.String()
}

// Err renders the outcome as a numbered error, nil for Ok.
func (o Outcome) Err() *errors.Error {
	switch o.kind {
	case TransportError:
		return errors.Token(o.code, pkcs11.Error(o.code))
	case ObjectNotFound:
		return errors.Wrap(errors.SearchError, errors.ObjectNotFound, fmt.Errorf("no object labelled '%s'", o.label))
	case AmbiguousObject:
		return errors.Wrap(errors.SearchError, errors.AmbiguousObject, fmt.Errorf("more than one object labelled '%s'", o.label))
	case PayloadSizeUnsupported:
		return errors.Wrap(errors.ConfigurationError, errors.PayloadSizeUnsupported, fmt.Errorf("payload size %d is not supported", o.size))
	}
	return nil
}

// PayloadSizeError is returned by a Prepare hook that learns only then that
// the payload cannot be processed.
type PayloadSizeError struct {
	Size int
}

func (e *PayloadSizeError) Error() string {
	return fmt.Sprintf("payload size %d is not supported", e.Size)
}

// Classify turns an error returned by a hook into an outcome. Errors that
// neither come from the token nor describe a search or payload problem are
// reported as CKR_FUNCTION_FAILED.
func Classify(err error) Outcome {
	if err == nil {
		return OK()
	}

	var rv pkcs11.Error
	var notFound *token.NotFoundError
	var ambiguous *token.AmbiguousError
	var size *PayloadSizeError
	switch {
	case stderrors.As(err, &rv):
		return Transport(uint(rv))
	case stderrors.As(err, &notFound):
		return NotFound(notFound.Label)
	case stderrors.As(err, &ambiguous):
		return Ambiguous(ambiguous.Label)
	case stderrors.As(err, &size):
		return PayloadUnsupported(size.Size)
	}
	log.Warningf("unexpected failure reported as CKR_FUNCTION_FAILED: %v", err)
	return Transport(pkcs11.CKR_FUNCTION_FAILED)
}
