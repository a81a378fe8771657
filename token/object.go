package token

import (
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"github.com/miekg/pkcs11"
	"golang.org/x/crypto/cryptobyte"
)

// NotFoundError is returned by FindOne when no object carries the label.
type NotFoundError struct {
	Class Class
	Label string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s labelled '%s'", e.Class, e.Label)
}

// AmbiguousError is returned by FindOne when more than one object carries
// the label.
type AmbiguousError struct {
	Class Class
	Label string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("more than one %s labelled '%s'", e.Class, e.Label)
}

// FindOne returns the single object of the given class with the given label.
// Two handles are asked for so that duplicates can be told apart from a
// unique match.
func FindOne(s *Session, class Class, label string) (pkcs11.ObjectHandle, error) {
	var noHandle pkcs11.ObjectHandle
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, uint(class)),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
	}
	if err := s.Ctx.FindObjectsInit(s.Handle, template); err != nil {
		return noHandle, err
	}
	objs, _, err := s.Ctx.FindObjects(s.Handle, 2)
	if err != nil {
		s.Ctx.FindObjectsFinal(s.Handle)
		return noHandle, err
	}
	if err = s.Ctx.FindObjectsFinal(s.Handle); err != nil {
		return noHandle, err
	}

	switch len(objs) {
	case 0:
		return noHandle, &NotFoundError{Class: class, Label: label}
	case 1:
		return objs[0], nil
	}
	return noHandle, &AmbiguousError{Class: class, Label: label}
}

// Attribute reads a single attribute of o. A missing attribute is an error.
func Attribute(s *Session, o pkcs11.ObjectHandle, typ uint) ([]byte, error) {
	attr, err := s.Ctx.GetAttributeValue(s.Handle, o, []*pkcs11.Attribute{
		pkcs11.NewAttribute(typ, nil),
	})
	if err != nil {
		return nil, err
	}
	for _, a := range attr {
		if a.Type == typ {
			return a.Value, nil
		}
	}
	return nil, fmt.Errorf("object %d has no attribute 0x%x", o, typ)
}

// RSAPublicKey returns the public half of the RSA key o, read from its
// modulus and public exponent. Private keys carry both.
func RSAPublicKey(s *Session, o pkcs11.ObjectHandle) (*rsa.PublicKey, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	}
	attr, err := s.Ctx.GetAttributeValue(s.Handle, o, template)
	if err != nil {
		return nil, err
	}

	n := big.NewInt(0)
	e := int(0)
	gotModulus, gotExponent := false, false
	for _, a := range attr {
		if a.Type == pkcs11.CKA_MODULUS {
			n.SetBytes(a.Value)
			gotModulus = true
		} else if a.Type == pkcs11.CKA_PUBLIC_EXPONENT {
			bigE := big.NewInt(0)
			bigE.SetBytes(a.Value)
			e = int(bigE.Int64())
			gotExponent = true
		}
	}
	if !gotModulus || n.Sign() == 0 {
		return nil, errors.New("key missing modulus")
	}
	if !gotExponent {
		return nil, errors.New("key missing exponent")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

// from src/pkg/crypto/x509/x509.go
var (
	oidNamedCurveP224 = asn1.ObjectIdentifier{1, 3, 132, 0, 33}
	oidNamedCurveP256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	oidNamedCurveP384 = asn1.ObjectIdentifier{1, 3, 132, 0, 34}
	oidNamedCurveP521 = asn1.ObjectIdentifier{1, 3, 132, 0, 35}
)

func namedCurveFromOID(oid asn1.ObjectIdentifier) elliptic.Curve {
	switch {
	case oid.Equal(oidNamedCurveP224):
		return elliptic.P224()
	case oid.Equal(oidNamedCurveP256):
		return elliptic.P256()
	case oid.Equal(oidNamedCurveP384):
		return elliptic.P384()
	case oid.Equal(oidNamedCurveP521):
		return elliptic.P521()
	}
	return nil
}

// CurveParams returns the DER encoding of the named curve OID, as stored in
// CKA_EC_PARAMS, for one of the supported curves.
func CurveParams(curve elliptic.Curve) ([]byte, error) {
	var oid asn1.ObjectIdentifier
	switch curve {
	case elliptic.P224():
		oid = oidNamedCurveP224
	case elliptic.P256():
		oid = oidNamedCurveP256
	case elliptic.P384():
		oid = oidNamedCurveP384
	case elliptic.P521():
		oid = oidNamedCurveP521
	default:
		return nil, fmt.Errorf("unsupported curve %s", curve.Params().Name)
	}
	return asn1.Marshal(oid)
}

// Curve returns the named curve of the EC key o, read from CKA_EC_PARAMS.
func Curve(s *Session, o pkcs11.ObjectHandle) (elliptic.Curve, error) {
	params, err := Attribute(s, o, pkcs11.CKA_EC_PARAMS)
	if err != nil {
		return nil, err
	}

	var oid asn1.ObjectIdentifier
	in := cryptobyte.String(params)
	if !in.ReadASN1ObjectIdentifier(&oid) || !in.Empty() {
		return nil, errors.New("CKA_EC_PARAMS is not a named curve")
	}
	curve := namedCurveFromOID(oid)
	if curve == nil {
		return nil, fmt.Errorf("unsupported curve %s", oid)
	}
	return curve, nil
}

// SecretKeyTemplate returns the template of a session secret key of the given
// type, labelled label, usable for encryption. valueLen is omitted when zero.
func SecretKeyTemplate(label string, keyType uint, valueLen int) []*pkcs11.Attribute {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, keyType),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, false),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
		pkcs11.NewAttribute(pkcs11.CKA_ENCRYPT, true),
		pkcs11.NewAttribute(pkcs11.CKA_DECRYPT, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, false),
	}
	if valueLen > 0 {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_VALUE_LEN, valueLen))
	}
	return template
}
