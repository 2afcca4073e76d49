package amqp

import (
	"testing"
)

func TestAccountCheckMessageWireFormat(t *testing.T) {
	msg := NewAccountCheckMessage("user-1", []string{"a1", "a2"}, "tx-1", ReasonPartialWrite)
	if msg.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}

	data, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := AccountCheckMessageFromJSON(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.UserID != "user-1" || decoded.Reason != ReasonPartialWrite || decoded.TransactionID != "tx-1" {
		t.Fatalf("decoded = %+v", decoded)
	}
	if len(decoded.AccountIDs) != 2 {
		t.Fatalf("accounts = %v", decoded.AccountIDs)
	}
}

func TestAccountCheckMessageFromJSONRejectsGarbage(t *testing.T) {
	if _, err := AccountCheckMessageFromJSON([]byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}
}
