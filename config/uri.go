package config

import (
	"fmt"
	"io/ioutil"
	"net/url"
	"strings"
)

// setAttributes calls set for every name=value pair of s, split on sep. Values
// are percent-decoded.
func setAttributes(s, sep string, set func(name, value string) error) error {
	for _, attr := range strings.Split(s, sep) {
		if attr == "" {
			continue
		}
		name, value, found := strings.Cut(attr, "=")
		if !found {
			return fmt.Errorf("attribute '%s' has no value", attr)
		}
		value, err := url.PathUnescape(value)
		if err != nil {
			return err
		}
		if err = set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// ParseURI applies a PKCS #11 URI, as described in RFC 7512, to c. The token
// label comes from the token path attribute; the module from module-path or
// module-name; the PIN from pin-value or from the file named by a file:
// pin-source. Attributes not naming one of these are ignored.
func (c *Config) ParseURI(uri string) error {
	if !strings.HasPrefix(uri, "pkcs11:") {
		return invalid("'%s' is not a PKCS #11 URI", uri)
	}
	path, query, _ := strings.Cut(strings.TrimPrefix(uri, "pkcs11:"), "?")

	err := setAttributes(path, ";", func(name, value string) error {
		if name == "token" {
			c.TokenLabel = value
		}
		return nil
	})
	if err != nil {
		return invalid("PKCS #11 URI path: %v", err)
	}

	err = setAttributes(query, "&", func(name, value string) error {
		switch name {
		case "module-path", "module-name":
			c.Module = value
		case "pin-value":
			c.PIN = value
		case "pin-source":
			file := strings.TrimPrefix(value, "file:")
			if strings.Contains(file, ":") && !strings.HasPrefix(value, "file:") {
				return fmt.Errorf("unsupported pin-source '%s'", value)
			}
			pin, err := ioutil.ReadFile(file)
			if err != nil {
				return err
			}
			c.PIN = strings.TrimSpace(string(pin))
		}
		return nil
	})
	if err != nil {
		return invalid("PKCS #11 URI query: %v", err)
	}
	return nil
}
