package failover

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRegisterRequest(t *testing.T) {
	msg := NewRequest(SubtypeRegister)

	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage error: %v", err)
	}

	decoded, err := DecodeMessage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeMessage error: %v", err)
	}

	if decoded.Subtype != SubtypeRegister {
		t.Errorf("Subtype = %v, want %v", decoded.Subtype, SubtypeRegister)
	}
	if decoded.Reply != nil {
		t.Error("bare request should have no reply")
	}
}

func TestEncodeDecodeRegisterReply(t *testing.T) {
	msg := NewRegisterReply(12345)

	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage error: %v", err)
	}

	decoded, err := DecodeMessage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeMessage error: %v", err)
	}

	if decoded.Reply == nil {
		t.Fatal("expected reply")
	}
	if decoded.Reply.Code != ReplyOK {
		t.Errorf("Code = %v, want ReplyOK", decoded.Reply.Code)
	}

	hostID, err := ParseHostID(decoded.Reply.Text)
	if err != nil {
		t.Fatalf("ParseHostID error: %v", err)
	}
	if hostID != 12345 {
		t.Errorf("hostID = %d, want 12345", hostID)
	}
}

func TestBusyReply(t *testing.T) {
	msg := NewBusyReply(SubtypeRegister)
	if msg.Reply.Code != ReplyObjBusy {
		t.Errorf("Code = %v, want ReplyObjBusy", msg.Reply.Code)
	}
}

func TestDecodeMessageTooLarge(t *testing.T) {
	buf := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	if _, err := DecodeMessage(bytes.NewReader(buf)); err == nil {
		t.Error("expected error for oversized message")
	}
}

func TestMultipleMessagesOnStream(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		data, err := EncodeMessage(NewRequest(SubtypeHandShake))
		if err != nil {
			t.Fatalf("message %d encode error: %v", i, err)
		}
		buf.Write(data)
	}

	reader := bytes.NewReader(buf.Bytes())
	for i := 0; i < 3; i++ {
		msg, err := DecodeMessage(reader)
		if err != nil {
			t.Fatalf("message %d decode error: %v", i, err)
		}
		if msg.Subtype != SubtypeHandShake {
			t.Errorf("message %d subtype = %v, want HandShake", i, msg.Subtype)
		}
	}
}

func TestSubtypeString(t *testing.T) {
	cases := map[Subtype]string{
		SubtypeRegister:       "Register",
		SubtypeHandShake:      "HandShake",
		SubtypePrimIsBack:     "PrimIsBack",
		SubtypeSecdShutdown:   "SecdShutdown",
		SubtypeSecdGoInactive: "SecdGoInactive",
		SubtypeSecdTakeOver:   "SecdTakeOver",
	}
	for subtype, want := range cases {
		if got := subtype.String(); got != want {
			t.Errorf("Subtype(%d).String() = %q, want %q", int(subtype), got, want)
		}
	}
}
