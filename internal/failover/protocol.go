package failover

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// maxMessageSize bounds a single framed message, guarding against a
// corrupt or hostile length prefix (spec §7, "Protocol violation").
const maxMessageSize = 1 << 20

// Message is the wire-format frame exchanged over the control connection:
// a length-prefixed JSON envelope carrying a single FailOver subtype plus
// an optional reply (spec §4.1, §6).
type Message struct {
	Subtype   Subtype         `json:"subtype"`
	Timestamp int64           `json:"timestamp"`
	Reply     *ReplyPayload   `json:"reply,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ReplyPayload is the {code, choice, text} triple spec §4.1 says the core
// consumes from the external reply codec.
type ReplyPayload struct {
	Code ReplyCode `json:"code"`
	// Choice distinguishes a text reply from a bare status reply. Only
	// Register replies carry Text.
	Choice string `json:"choice,omitempty"`
	Text   string `json:"text,omitempty"`
}

// NewRequest builds a bare FailOver request with no reply, as sent by
// Encode-request (spec §4.1).
func NewRequest(subtype Subtype) *Message {
	return &Message{Subtype: subtype, Timestamp: nowUnix()}
}

// NewRegisterReply builds the Register reply whose text body is the
// Primary's host identifier formatted as decimal ASCII (spec §4.1, §6).
func NewRegisterReply(primaryHostID uint32) *Message {
	return &Message{
		Subtype:   SubtypeRegister,
		Timestamp: nowUnix(),
		Reply: &ReplyPayload{
			Code:   ReplyOK,
			Choice: "Text",
			Text:   strconv.FormatUint(uint64(primaryHostID), 10),
		},
	}
}

// NewBusyReply builds the ObjBusy rejection sent to a second Register
// attempt (spec §4.4, §8 property 2).
func NewBusyReply(subtype Subtype) *Message {
	return &Message{
		Subtype:   subtype,
		Timestamp: nowUnix(),
		Reply:     &ReplyPayload{Code: ReplyObjBusy},
	}
}

// NewAckReply builds a plain status-OK reply, used to acknowledge
// HandShake, SecdGoInactive, SecdTakeOver, SecdShutdown, and PrimIsBack.
func NewAckReply(subtype Subtype) *Message {
	return &Message{
		Subtype:   subtype,
		Timestamp: nowUnix(),
		Reply:     &ReplyPayload{Code: ReplyOK},
	}
}

// ParseHostID parses the decimal host id text carried in a Register
// reply (the inverse of NewRegisterReply).
func ParseHostID(text string) (uint32, error) {
	v, err := strconv.ParseUint(text, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing host id %q: %w", text, err)
	}
	return uint32(v), nil
}

// EncodeMessage serializes a Message with a 4-byte big-endian length
// prefix (spec §4.1 Encode-request/Encode-reply).
func EncodeMessage(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding failover message: %w", err)
	}
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(data)))
	copy(frame[4:], data)
	return frame, nil
}

// DecodeMessage reads one length-prefixed Message from r (spec §4.1
// Decode-request/Decode-reply).
func DecodeMessage(r io.Reader) (*Message, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}

	msgLen := binary.BigEndian.Uint32(lenBuf)
	if msgLen > maxMessageSize {
		return nil, fmt.Errorf("failover message too large: %d bytes", msgLen)
	}

	data := make([]byte, msgLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading failover message body: %w", err)
	}

	msg := &Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decoding failover message: %w", err)
	}
	return msg, nil
}

// EncodeMessageTo writes an encoded Message directly to w.
func EncodeMessageTo(w io.Writer, msg *Message) error {
	frame, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

var timeNow = time.Now

func nowUnix() int64 {
	return timeNow().Unix()
}
