// Package tokentest provides an in-memory PKCS#11 token implementing
// token.Ctx, for tests. It keeps an object table, counts calls per method and
// can be told to fail a method after a number of successful calls.
package tokentest

import (
	"bytes"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"

	"github.com/cloudflare/p11bench/token"
	"github.com/jmhodges/clock"
	"github.com/miekg/pkcs11"
)

// Slot is the only slot of a Token.
const Slot = 4

type failure struct {
	after int
	err   error
}

type findState struct {
	active bool
	found  []pkcs11.ObjectHandle
}

type opState struct {
	active bool
	mech   *pkcs11.Mechanism
	key    pkcs11.ObjectHandle
}

type session struct {
	find    findState
	encrypt opState
	sign    opState
}

// Token is a fake token. The zero value is not usable, use New.
type Token struct {
	mu sync.Mutex

	label string
	pin   string

	// MaxSessions, when positive, makes OpenSession fail with
	// CKR_SESSION_COUNT once that many sessions are open.
	MaxSessions int

	loggedIn    bool
	sessions    map[pkcs11.SessionHandle]*session
	nextSession pkcs11.SessionHandle

	objects    map[pkcs11.ObjectHandle]map[uint][]byte
	nextObject pkcs11.ObjectHandle

	calls    map[string]int
	failures map[string]failure
	mechs    map[string][]*pkcs11.Mechanism
	params   map[string][][]byte
}

// New returns an empty token with the given label and user PIN.
func New(label, pin string) *Token {
	return &Token{
		label:       label,
		pin:         pin,
		sessions:    make(map[pkcs11.SessionHandle]*session),
		nextSession: 1,
		objects:     make(map[pkcs11.ObjectHandle]map[uint][]byte),
		nextObject:  100,
		calls:       make(map[string]int),
		failures:    make(map[string]failure),
		mechs:       make(map[string][]*pkcs11.Mechanism),
		params:      make(map[string][][]byte),
	}
}

// Session attaches to tk and opens a logged-in session, failing the test on
// error.
func (tk *Token) Session(t testing.TB) *token.Session {
	t.Helper()
	attached, err := token.Attach(tk, tk.label, tk.pin, clock.NewFake())
	if err != nil {
		t.Fatalf("attach: %s", err)
	}
	s, err := attached.NewSession()
	if err != nil {
		t.Fatalf("new session: %s", err)
	}
	return s
}

// FailAfter makes method fail with err once it has succeeded n times.
func (tk *Token) FailAfter(method string, n int, err error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.failures[method] = failure{after: n, err: err}
}

// Calls returns how many times method was called, failed calls included.
func (tk *Token) Calls(method string) int {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.calls[method]
}

// Mechanisms returns the mechanism passed to the last call of an *Init
// method, GenerateKey, UnwrapKey or DeriveKey.
func (tk *Token) Mechanisms(method string) []*pkcs11.Mechanism {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.mechs[method]
}

// Parameters returns a copy of the mechanism parameter of every successful
// call of an *Init method, in call order.
func (tk *Token) Parameters(method string) [][]byte {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	out := make([][]byte, len(tk.params[method]))
	copy(out, tk.params[method])
	return out
}

// ObjectCount returns the number of objects on the token.
func (tk *Token) ObjectCount() int {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return len(tk.objects)
}

// FindByLabel returns the only object labelled label.
func (tk *Token) FindByLabel(label string) (pkcs11.ObjectHandle, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	var found []pkcs11.ObjectHandle
	for h, obj := range tk.objects {
		if string(obj[pkcs11.CKA_LABEL]) == label {
			found = append(found, h)
		}
	}
	if len(found) != 1 {
		return 0, fmt.Errorf("%d objects labelled '%s'", len(found), label)
	}
	return found[0], nil
}

// Value returns attribute typ of object o, or nil.
func (tk *Token) Value(o pkcs11.ObjectHandle, typ uint) []byte {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.objects[o][typ]
}

// AddObject stores an object with the given attributes and returns its
// handle.
func (tk *Token) AddObject(attrs ...*pkcs11.Attribute) pkcs11.ObjectHandle {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.store(attrs)
}

// AddSecretKey stores a secret key of the given type and length.
func (tk *Token) AddSecretKey(label string, keyType uint, valueLen int) pkcs11.ObjectHandle {
	return tk.AddObject(
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, keyType),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
		pkcs11.NewAttribute(pkcs11.CKA_VALUE_LEN, valueLen),
	)
}

// AddRSAKey stores the private key of priv, with its modulus and exponent.
func (tk *Token) AddRSAKey(label string, priv *rsa.PrivateKey) pkcs11.ObjectHandle {
	return tk.AddObject(
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, priv.N.Bytes()),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, big.NewInt(int64(priv.E)).Bytes()),
	)
}

// AddECKey stores an EC private key on the given curve.
func (tk *Token) AddECKey(label string, curve elliptic.Curve) pkcs11.ObjectHandle {
	params, err := token.CurveParams(curve)
	if err != nil {
		panic(err)
	}
	return tk.AddObject(
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_EC),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, params),
	)
}

// store copies the attribute values so later changes to the template are not
// seen by the object. tk.mu must be held.
func (tk *Token) store(attrs []*pkcs11.Attribute) pkcs11.ObjectHandle {
	obj := make(map[uint][]byte, len(attrs))
	for _, a := range attrs {
		obj[a.Type] = append([]byte(nil), a.Value...)
	}
	h := tk.nextObject
	tk.nextObject++
	tk.objects[h] = obj
	return h
}

// call counts a call of method and reports the injected failure, if any.
// tk.mu must be held.
func (tk *Token) call(method string) error {
	tk.calls[method]++
	if f, ok := tk.failures[method]; ok && tk.calls[method] > f.after {
		return f.err
	}
	return nil
}

func (tk *Token) session(sh pkcs11.SessionHandle) (*session, error) {
	s, ok := tk.sessions[sh]
	if !ok {
		return nil, pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}
	return s, nil
}

func (tk *Token) enter(method string, sh pkcs11.SessionHandle) (*session, error) {
	if err := tk.call(method); err != nil {
		return nil, err
	}
	s, err := tk.session(sh)
	if err != nil {
		return nil, err
	}
	if !tk.loggedIn {
		return nil, pkcs11.Error(pkcs11.CKR_USER_NOT_LOGGED_IN)
	}
	return s, nil
}

func (tk *Token) Initialize() error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.call("Initialize")
}

func (tk *Token) Finalize() error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.call("Finalize")
}

func (tk *Token) GetSlotList(tokenPresent bool) ([]uint, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if err := tk.call("GetSlotList"); err != nil {
		return nil, err
	}
	return []uint{Slot}, nil
}

func (tk *Token) GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if err := tk.call("GetTokenInfo"); err != nil {
		return pkcs11.TokenInfo{}, err
	}
	if slotID != Slot {
		return pkcs11.TokenInfo{}, pkcs11.Error(pkcs11.CKR_SLOT_ID_INVALID)
	}
	return pkcs11.TokenInfo{Label: tk.label, MaxRwSessionCount: uint(tk.MaxSessions)}, nil
}

func (tk *Token) OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if err := tk.call("OpenSession"); err != nil {
		return 0, err
	}
	if slotID != Slot {
		return 0, pkcs11.Error(pkcs11.CKR_SLOT_ID_INVALID)
	}
	if tk.MaxSessions > 0 && len(tk.sessions) >= tk.MaxSessions {
		return 0, pkcs11.Error(pkcs11.CKR_SESSION_COUNT)
	}
	sh := tk.nextSession
	tk.nextSession++
	tk.sessions[sh] = &session{}
	return sh, nil
}

func (tk *Token) CloseSession(sh pkcs11.SessionHandle) error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if err := tk.call("CloseSession"); err != nil {
		return err
	}
	if _, err := tk.session(sh); err != nil {
		return err
	}
	delete(tk.sessions, sh)
	if len(tk.sessions) == 0 {
		tk.loggedIn = false
	}
	return nil
}

func (tk *Token) Login(sh pkcs11.SessionHandle, userType uint, pin string) error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if err := tk.call("Login"); err != nil {
		return err
	}
	if _, err := tk.session(sh); err != nil {
		return err
	}
	if tk.loggedIn {
		return pkcs11.Error(pkcs11.CKR_USER_ALREADY_LOGGED_IN)
	}
	if pin != tk.pin {
		return pkcs11.Error(pkcs11.CKR_PIN_INCORRECT)
	}
	tk.loggedIn = true
	return nil
}

func (tk *Token) Logout(sh pkcs11.SessionHandle) error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if _, err := tk.enter("Logout", sh); err != nil {
		return err
	}
	tk.loggedIn = false
	return nil
}

func matches(obj map[uint][]byte, template []*pkcs11.Attribute) bool {
	for _, a := range template {
		v, ok := obj[a.Type]
		if !ok || !bytes.Equal(v, a.Value) {
			return false
		}
	}
	return true
}

func (tk *Token) FindObjectsInit(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	s, err := tk.enter("FindObjectsInit", sh)
	if err != nil {
		return err
	}
	if s.find.active {
		return pkcs11.Error(pkcs11.CKR_OPERATION_ACTIVE)
	}
	var found []pkcs11.ObjectHandle
	for h, obj := range tk.objects {
		if matches(obj, temp) {
			found = append(found, h)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	s.find = findState{active: true, found: found}
	return nil
}

func (tk *Token) FindObjects(sh pkcs11.SessionHandle, max int) ([]pkcs11.ObjectHandle, bool, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	s, err := tk.enter("FindObjects", sh)
	if err != nil {
		return nil, false, err
	}
	if !s.find.active {
		return nil, false, pkcs11.Error(pkcs11.CKR_OPERATION_NOT_INITIALIZED)
	}
	n := max
	if n > len(s.find.found) {
		n = len(s.find.found)
	}
	out := s.find.found[:n]
	s.find.found = s.find.found[n:]
	return out, false, nil
}

func (tk *Token) FindObjectsFinal(sh pkcs11.SessionHandle) error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	s, err := tk.enter("FindObjectsFinal", sh)
	if err != nil {
		return err
	}
	if !s.find.active {
		return pkcs11.Error(pkcs11.CKR_OPERATION_NOT_INITIALIZED)
	}
	s.find = findState{}
	return nil
}

func (tk *Token) GetAttributeValue(sh pkcs11.SessionHandle, o pkcs11.ObjectHandle, a []*pkcs11.Attribute) ([]*pkcs11.Attribute, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if _, err := tk.enter("GetAttributeValue", sh); err != nil {
		return nil, err
	}
	obj, ok := tk.objects[o]
	if !ok {
		return nil, pkcs11.Error(pkcs11.CKR_OBJECT_HANDLE_INVALID)
	}
	var out []*pkcs11.Attribute
	for _, want := range a {
		v, ok := obj[want.Type]
		if !ok {
			return nil, pkcs11.Error(pkcs11.CKR_ATTRIBUTE_TYPE_INVALID)
		}
		out = append(out, &pkcs11.Attribute{Type: want.Type, Value: append([]byte(nil), v...)})
	}
	return out, nil
}

// blockSize returns the block size of the padding-free block cipher
// mechanisms, 0 for the others.
func blockSize(mech uint) int {
	switch mech {
	case pkcs11.CKM_AES_CBC, pkcs11.CKM_AES_ECB:
		return 16
	case pkcs11.CKM_DES3_CBC, pkcs11.CKM_DES3_ECB:
		return 8
	}
	return 0
}

func (tk *Token) initOp(method string, sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, key pkcs11.ObjectHandle, op func(*session) *opState) error {
	s, err := tk.enter(method, sh)
	if err != nil {
		return err
	}
	if len(m) != 1 {
		return pkcs11.Error(pkcs11.CKR_MECHANISM_INVALID)
	}
	st := op(s)
	if st.active {
		return pkcs11.Error(pkcs11.CKR_OPERATION_ACTIVE)
	}
	if key != 0 {
		if _, ok := tk.objects[key]; !ok {
			return pkcs11.Error(pkcs11.CKR_KEY_HANDLE_INVALID)
		}
	}
	tk.mechs[method] = m
	tk.params[method] = append(tk.params[method], append([]byte(nil), m[0].Parameter...))
	*st = opState{active: true, mech: m[0], key: key}
	return nil
}

func (tk *Token) EncryptInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.initOp("EncryptInit", sh, m, o, func(s *session) *opState { return &s.encrypt })
}

func (tk *Token) Encrypt(sh pkcs11.SessionHandle, message []byte) ([]byte, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	s, err := tk.enter("Encrypt", sh)
	if err != nil {
		return nil, err
	}
	if !s.encrypt.active {
		return nil, pkcs11.Error(pkcs11.CKR_OPERATION_NOT_INITIALIZED)
	}
	mech := s.encrypt.mech
	s.encrypt = opState{}
	if bs := blockSize(mech.Mechanism); bs > 0 && len(message)%bs != 0 {
		return nil, pkcs11.Error(pkcs11.CKR_DATA_LEN_RANGE)
	}
	out := make([]byte, len(message))
	for i := range message {
		out[i] = message[i] ^ 0x5a
	}
	if mech.Mechanism == pkcs11.CKM_AES_GCM {
		out = append(out, make([]byte, 16)...)
	}
	return out, nil
}

func (tk *Token) SignInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.initOp("SignInit", sh, m, o, func(s *session) *opState { return &s.sign })
}

func (tk *Token) Sign(sh pkcs11.SessionHandle, message []byte) ([]byte, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	s, err := tk.enter("Sign", sh)
	if err != nil {
		return nil, err
	}
	if !s.sign.active {
		return nil, pkcs11.Error(pkcs11.CKR_OPERATION_NOT_INITIALIZED)
	}
	s.sign = opState{}
	sum := sha256.Sum256(message)
	return sum[:], nil
}

func (tk *Token) createFrom(method string, sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, base pkcs11.ObjectHandle, a []*pkcs11.Attribute) (pkcs11.ObjectHandle, error) {
	if _, err := tk.enter(method, sh); err != nil {
		return 0, err
	}
	if len(m) != 1 {
		return 0, pkcs11.Error(pkcs11.CKR_MECHANISM_INVALID)
	}
	if base != 0 {
		if _, ok := tk.objects[base]; !ok {
			return 0, pkcs11.Error(pkcs11.CKR_KEY_HANDLE_INVALID)
		}
	}
	tk.mechs[method] = m
	return tk.store(a), nil
}

func (tk *Token) GenerateKey(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, temp []*pkcs11.Attribute) (pkcs11.ObjectHandle, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.createFrom("GenerateKey", sh, m, 0, temp)
}

func (tk *Token) WrapKey(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, wrappingkey, key pkcs11.ObjectHandle) ([]byte, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if _, err := tk.enter("WrapKey", sh); err != nil {
		return nil, err
	}
	if _, ok := tk.objects[wrappingkey]; !ok {
		return nil, pkcs11.Error(pkcs11.CKR_WRAPPING_KEY_HANDLE_INVALID)
	}
	if _, ok := tk.objects[key]; !ok {
		return nil, pkcs11.Error(pkcs11.CKR_KEY_HANDLE_INVALID)
	}
	return make([]byte, 32), nil
}

func (tk *Token) UnwrapKey(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, unwrappingkey pkcs11.ObjectHandle, wrappedkey []byte, a []*pkcs11.Attribute) (pkcs11.ObjectHandle, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.createFrom("UnwrapKey", sh, m, unwrappingkey, a)
}

func (tk *Token) DeriveKey(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, basekey pkcs11.ObjectHandle, a []*pkcs11.Attribute) (pkcs11.ObjectHandle, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.createFrom("DeriveKey", sh, m, basekey, a)
}

func (tk *Token) DestroyObject(sh pkcs11.SessionHandle, oh pkcs11.ObjectHandle) error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if _, err := tk.enter("DestroyObject", sh); err != nil {
		return err
	}
	if _, ok := tk.objects[oh]; !ok {
		return pkcs11.Error(pkcs11.CKR_OBJECT_HANDLE_INVALID)
	}
	delete(tk.objects, oh)
	return nil
}

func (tk *Token) SeedRandom(sh pkcs11.SessionHandle, seed []byte) error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	_, err := tk.enter("SeedRandom", sh)
	return err
}

func (tk *Token) GenerateRandom(sh pkcs11.SessionHandle, length int) ([]byte, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if _, err := tk.enter("GenerateRandom", sh); err != nil {
		return nil, err
	}
	return make([]byte, length), nil
}
