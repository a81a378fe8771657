package errors

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(SearchError, ObjectNotFound, nil)
	if err == nil {
		t.Fatal("Error creation failed.")
	}
	if err.ErrorCode != int(SearchError)+int(ObjectNotFound) {
		t.Fatal("Error code construction failed.")
	}
	if err.Message != "object not found" {
		t.Fatal("Error message construction failed.")
	}
	if err.Category() != SearchError {
		t.Fatalf("Wrong category %d", err.Category())
	}
}

func TestWrap(t *testing.T) {
	msg := "Arbitrary error message"
	err := Wrap(ConfigurationError, PayloadSizeUnsupported, errors.New(msg))
	if err == nil {
		t.Fatal("Error creation failed.")
	}
	if err.ErrorCode != 3100 {
		t.Fatal("Error code construction failed.")
	}
	if err.Message != msg {
		t.Fatal("Error message construction failed.")
	}
}

func TestToken(t *testing.T) {
	err := Token(0x82, errors.New("pkcs11: 0x82: CKR_OBJECT_HANDLE_INVALID"))
	if err.ErrorCode != int(TransportError) {
		t.Fatal("Error code construction failed.")
	}
	if err.TokenCode != 0x82 {
		t.Fatal("Token code not kept.")
	}
}

func TestMarshal(t *testing.T) {
	msg := "Arbitrary error message"
	err := Wrap(SearchError, AmbiguousObject, errors.New(msg))
	bytes, _ := json.Marshal(err)
	var received Error
	json.Unmarshal(bytes, &received)
	if received.ErrorCode != int(SearchError)+int(AmbiguousObject) {
		t.Fatal("Error code construction failed.")
	}
	if received.Message != msg {
		t.Fatal("Error message construction failed.")
	}
}

func TestErrorString(t *testing.T) {
	msg := "Arbitrary error message"
	err := Wrap(TeardownError, Unknown, errors.New(msg))
	str := err.Error()
	if str != `{"code":4000,"message":"`+msg+`"}` {
		t.Fatal("Incorrect Error():", str)
	}
}

func TestTeardownNeedsError(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("TeardownError without error should panic")
		}
	}()
	New(TeardownError, Unknown, nil)
}
