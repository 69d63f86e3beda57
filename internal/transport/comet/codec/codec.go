package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	// EncodingBase64 is the only payload encoding the gateway speaks.
	EncodingBase64 = "base64"
	// TypeJSON is the only payload type the gateway speaks.
	TypeJSON = "json"

	logIDSuffix = "000000"
)

// ErrDecode matches every error returned by Decode.
var ErrDecode = errors.New("comet envelope decode failed")

// DecodeError reports which step of Decode rejected a frame.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("comet decode %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDecode) match any DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Envelope is the transport frame carried in a websocket text message.
type Envelope struct {
	SeqID           uint64 `json:"seq_id,omitempty"`
	LogID           string `json:"log_id"`
	PayloadEncoding string `json:"payload_encoding"`
	PayloadType     string `json:"payload_type"`
	Payload         string `json:"payload"`
}

// Message is the request, reply or notification carried in an envelope payload.
type Message struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// IsNotification reports whether the message carries no correlation id.
func (m Message) IsNotification() bool {
	return m.ID == 0
}

// HasError reports whether a reply carries a non-null error value.
func (m Message) HasError() bool {
	return isSet(m.Error)
}

// NewLogID derives the log correlation id from t.
func NewLogID(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10) + logIDSuffix
}

// Encode builds a request envelope for method and params under seqID.
func Encode(seqID uint64, method string, params any) ([]byte, error) {
	msg := Message{ID: seqID, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("comet encode params for %s: %w", method, err)
		}
		msg.Params = raw
	}
	return Pack(seqID, msg)
}

// Pack wraps an arbitrary message into an envelope.
func Pack(seqID uint64, msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("comet encode message: %w", err)
	}
	envelope := Envelope{
		SeqID:           seqID,
		LogID:           NewLogID(time.Now()),
		PayloadEncoding: EncodingBase64,
		PayloadType:     TypeJSON,
		Payload:         base64.StdEncoding.EncodeToString(payload),
	}
	frame, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("comet encode envelope: %w", err)
	}
	return frame, nil
}

// Decode parses a frame and its embedded message.
func Decode(frame []byte) (Envelope, Message, error) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return Envelope{}, Message{}, &DecodeError{Stage: "envelope", Err: err}
	}
	if envelope.PayloadEncoding != "" && envelope.PayloadEncoding != EncodingBase64 {
		return envelope, Message{}, &DecodeError{Stage: "envelope", Err: fmt.Errorf("unsupported payload encoding %q", envelope.PayloadEncoding)}
	}
	if envelope.PayloadType != "" && envelope.PayloadType != TypeJSON {
		return envelope, Message{}, &DecodeError{Stage: "envelope", Err: fmt.Errorf("unsupported payload type %q", envelope.PayloadType)}
	}
	payload, err := base64.StdEncoding.DecodeString(envelope.Payload)
	if err != nil {
		return envelope, Message{}, &DecodeError{Stage: "payload", Err: err}
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return envelope, Message{}, &DecodeError{Stage: "message", Err: err}
	}
	return envelope, msg, nil
}

func isSet(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
