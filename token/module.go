package token

import (
	"fmt"
	"sync"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/cloudflare/p11bench/log"
	"github.com/jmhodges/clock"
	"github.com/miekg/pkcs11"
)

// maxOpenRetries bounds how many times opening a session is retried while
// the token reports CKR_SESSION_COUNT.
const maxOpenRetries = 5

// Token is a PKCS#11 token located by its label, on which sessions can be
// opened. All sessions share the module.
type Token struct {
	// The PKCS#11 library to use
	module Ctx

	// Path of the library, empty when the module was attached directly.
	modulePath string

	// The label of the token to be used (mandatory).
	// We will automatically search for this in the slot list.
	tokenLabel string

	// The PIN to be used to log in to the device
	pin string

	// The slot the token was found in.
	slot uint

	// Maximum number of read/write sessions the token allows, 0 if unknown.
	maxSessions uint

	clk clock.Clock
}

var modules = make(map[string]Ctx)
var modulesMu sync.Mutex

// initialize loads the given PKCS#11 module (shared library) if it is not
// already loaded. It's an error to load a PKCS#11 module multiple times, so we
// maintain a map of loaded modules.
func initialize(modulePath string) (Ctx, error) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	module, ok := modules[modulePath]
	if ok {
		return module, nil
	}

	p := pkcs11.New(modulePath)
	if p == nil {
		return nil, fmt.Errorf("unable to load PKCS#11 module %s", modulePath)
	}

	err := p.Initialize()
	if err != nil && err != pkcs11.Error(pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED) {
		return nil, err
	}

	modules[modulePath] = p
	return p, nil
}

// Open loads the module at modulePath and locates the token with the given
// label.
func Open(modulePath, tokenLabel, pin string) (*Token, error) {
	module, err := initialize(modulePath)
	if err != nil {
		return nil, err
	}
	tk, err := Attach(module, tokenLabel, pin, clock.Default())
	if err != nil {
		return nil, err
	}
	tk.modulePath = modulePath
	return tk, nil
}

// Attach locates the token with the given label using an already
// initialized module. The clock is used to pace session-open retries.
func Attach(module Ctx, tokenLabel, pin string, clk clock.Clock) (*Token, error) {
	tk := &Token{
		module:     module,
		tokenLabel: tokenLabel,
		pin:        pin,
		clk:        clk,
	}
	if err := tk.findSlot(); err != nil {
		return nil, err
	}
	return tk, nil
}

func (tk *Token) findSlot() error {
	slots, err := tk.module.GetSlotList(true)
	if err != nil {
		return err
	}

	for _, slot := range slots {
		// Check that token label matches.
		tokenInfo, err := tk.module.GetTokenInfo(slot)
		if err != nil {
			return err
		}
		if tokenInfo.Label != tk.tokenLabel {
			continue
		}
		tk.slot = slot
		tk.maxSessions = tokenInfo.MaxRwSessionCount
		log.Debugf("token '%s' found in slot %d", tk.tokenLabel, slot)
		return nil
	}
	return fmt.Errorf("no slot found matching token label '%s'", tk.tokenLabel)
}

// Label returns the token label.
func (tk *Token) Label() string {
	return tk.tokenLabel
}

// MaxSessions returns the maximum number of read/write sessions the token
// advertises, or 0 when it does not say.
func (tk *Token) MaxSessions() uint {
	return tk.maxSessions
}

// NewSession opens a read/write session on the token and logs in. While the
// token refuses with CKR_SESSION_COUNT, opening is retried with backoff.
func (tk *Token) NewSession() (*Session, error) {
	b := backoff.New(2*time.Second, 50*time.Millisecond)

	var sh pkcs11.SessionHandle
	var err error
	for attempt := 0; ; attempt++ {
		sh, err = tk.module.OpenSession(tk.slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
		if err == nil {
			break
		}
		if err != pkcs11.Error(pkcs11.CKR_SESSION_COUNT) || attempt == maxOpenRetries {
			return nil, fmt.Errorf("open session: %w", err)
		}
		d := b.Duration()
		log.Warningf("token '%s' has no free session, retrying in %s", tk.tokenLabel, d)
		tk.clk.Sleep(d)
	}

	// Login
	// Note: Logged-in status is application-wide, not per session. But in
	// practice it appears to be okay to login to a token multiple times with the same
	// credentials.
	if err = tk.module.Login(sh, pkcs11.CKU_USER, tk.pin); err != nil {
		if err != pkcs11.Error(pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
			tk.module.CloseSession(sh)
			return nil, fmt.Errorf("login: %w", err)
		}
	}

	return &Session{Ctx: tk.module, Handle: sh}, nil
}

// CloseSession closes s.
// NOTE: We do not want to call module.Logout here. module.Logout applies
// application-wide. So if there are multiple sessions active, the other ones
// would be logged out as well, causing CKR_OBJECT_HANDLE_INVALID next
// time they try to use an object. module.CloseSession will log out once the
// last session in the application is closed.
func (tk *Token) CloseSession(s *Session) error {
	return tk.module.CloseSession(s.Handle)
}

// Finalize unloads the module if it was loaded by Open. No session of any
// Token using the same module may be used afterwards.
func (tk *Token) Finalize() error {
	if tk.modulePath == "" {
		return nil
	}
	modulesMu.Lock()
	defer modulesMu.Unlock()
	if _, ok := modules[tk.modulePath]; !ok {
		return nil
	}
	delete(modules, tk.modulePath)
	return tk.module.Finalize()
}
