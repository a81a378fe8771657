package benchmark

import (
	"fmt"
	"strings"

	"github.com/cloudflare/p11bench/token"
	"github.com/miekg/pkcs11"
)

// Vendor is a hint about the token implementation, for mechanisms whose
// parameters differ between vendors.
type Vendor int

// Known vendors.
const (
	Generic Vendor = iota
	Luna
)

func (v Vendor) String() string {
	switch v {
	case Luna:
		return "luna"
	}
	return "generic"
}

// ParseVendor parses a vendor hint; the empty string is Generic.
func ParseVendor(s string) (Vendor, error) {
	switch strings.ToLower(s) {
	case "", "generic":
		return Generic, nil
	case "luna":
		return Luna, nil
	}
	return Generic, fmt.Errorf("unknown vendor '%s'", s)
}

// Target is what a variant is prepared against.
type Target struct {
	// Object is the resolved object, meaningful when HasObject is set.
	Object    pkcs11.ObjectHandle
	HasObject bool
	// ThreadIndex is the index of the worker, or NoThread.
	ThreadIndex int
	// Label is the label the object was looked up with, thread index
	// included.
	Label string
	// Iterations is the number of times Run will be called, warm-up
	// included.
	Iterations int
}

// Variant is one benchmarked operation. An instance is prepared once, run
// many times and torn down once; workers each use their own Clone.
type Variant interface {
	// Name is the test name, e.g. "aescbc".
	Name() string
	// Label is the label of the object the variant works on.
	Label() string
	// ObjectClass is the class of that object, or token.None.
	ObjectClass() token.Class

	// SetPayload hands the variant its own copy of the payload.
	SetPayload(payload []byte)
	// IsPayloadSupported reports whether size can be processed. It is asked
	// before Prepare and may answer more precisely afterwards.
	IsPayloadSupported(size int) bool

	Prepare(s *token.Session, t Target) error
	// Run performs the measured operation once. Work that must not be
	// measured is bracketed by tm.Suspend and tm.Resume.
	Run(s *token.Session, tm *Timer) error
	// Cleanup runs after every Run, outside the measurement.
	Cleanup(s *token.Session) error
	// Teardown destroys what Prepare and Run left on the token.
	Teardown(s *token.Session, t Target) error

	// Clone returns an unprepared copy sharing no buffer with v.
	Clone() Variant
}

// Base holds what every variant has. It is embedded by variants and provides
// the default hooks.
type Base struct {
	name    string
	label   string
	class   token.Class
	Vendor  Vendor
	Payload []byte
}

// NewBase returns a Base for a variant named name working on the object of
// class labelled label.
func NewBase(name, label string, class token.Class, vendor Vendor) Base {
	return Base{name: name, label: label, class: class, Vendor: vendor}
}

func (b *Base) Name() string             { return b.name }
func (b *Base) Label() string            { return b.label }
func (b *Base) ObjectClass() token.Class { return b.class }

// SetPayload copies payload.
func (b *Base) SetPayload(payload []byte) {
	b.Payload = append(b.Payload[:0], payload...)
}

// IsPayloadSupported accepts every size.
func (b *Base) IsPayloadSupported(size int) bool { return true }

// Cleanup does nothing.
func (b *Base) Cleanup(s *token.Session) error { return nil }

// Teardown does nothing.
func (b *Base) Teardown(s *token.Session, t Target) error { return nil }

// CloneBase returns a copy of b owning its own payload buffer.
func (b *Base) CloneBase() Base {
	c := *b
	if b.Payload != nil {
		c.Payload = append([]byte(nil), b.Payload...)
	}
	return c
}
