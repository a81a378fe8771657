// Package errors provides the numbered error type reported by p11bench for
// every benchmark run that did not end well.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error is the error type usually returned by functions in the p11bench
// packages. It contains a 4-digit error code where the most significant digit
// describes the category where the error occurred and the rest 3 digits
// describe the specific error reason. Errors coming from the token carry the
// PKCS#11 return value in TokenCode.
type Error struct {
	ErrorCode int    `json:"code"`
	Message   string `json:"message"`
	TokenCode uint   `json:"token_code,omitempty"`
}

// Category is the error category as the most significant digit of the error code.
type Category int

// Reason is the error reason as the last 3 digits of the error code.
type Reason int

const (
	Success            Category = 1000 * iota // 0XXX
	TransportError                            // 1XXX
	SearchError                               // 2XXX
	ConfigurationError                        // 3XXX
	TeardownError                             // 4XXX
)

// Non-specified error
const (
	Unknown Reason = iota
)

// Search errors, must be specified along with SearchError.
const (
	ObjectNotFound  Reason = 100 * (iota + 1) // 21XX
	AmbiguousObject                           // 22XX
)

// Configuration errors, must be specified along with ConfigurationError.
const (
	PayloadSizeUnsupported Reason = 100 * (iota + 1) // 31XX
	CorpusTooLarge                                   // 32XX
	InvalidConfig                                    // 33XX
)

// The error interface implementation, which formats to a JSON object string.
func (e *Error) Error() string {
	marshaled, err := json.Marshal(e)
	if err != nil {
		panic(err)
	}
	return string(marshaled)
}

// New returns an error that contains an error code and message derived from
// the given category, reason and error. When err is nil, a message is made up
// from the reason. It is not allowed to create an error of category Success.
func New(category Category, reason Reason, err error) *Error {
	errorCode := int(category) + int(reason)
	switch category {
	case TransportError:
		if err == nil {
			err = errors.New("token operation failed")
		}
	case SearchError:
		if err == nil {
			msg := "unknown search error"
			switch reason {
			case ObjectNotFound:
				msg = "object not found"
			case AmbiguousObject:
				msg = "more than one object found"
			}
			err = errors.New(msg)
		}
	case ConfigurationError:
		if err == nil {
			msg := "invalid configuration"
			switch reason {
			case PayloadSizeUnsupported:
				msg = "payload size is not supported"
			case CorpusTooLarge:
				msg = "object corpus exceeds the label suffix width"
			}
			err = errors.New(msg)
		}
	case TeardownError:
		if err == nil {
			panic(errors.New("TeardownError needs a supplied error to initialize"))
		}
	default:
		panic(fmt.Errorf("unsupported p11bench error category %d", category))
	}

	return &Error{ErrorCode: errorCode, Message: err.Error()}
}

// Wrap returns an error with the given category and reason whose message is
// taken verbatim from err.
func Wrap(category Category, reason Reason, err error) *Error {
	if err == nil {
		return New(category, reason, nil)
	}
	return &Error{ErrorCode: int(category) + int(reason), Message: err.Error()}
}

// Token returns a TransportError carrying the PKCS#11 return value rv.
func Token(rv uint, err error) *Error {
	e := New(TransportError, Unknown, err)
	e.TokenCode = rv
	return e
}

// Category returns the category digit of the error code.
func (e *Error) Category() Category {
	return Category(e.ErrorCode / 1000 * 1000)
}
