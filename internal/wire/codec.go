package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds the declared body length of an incoming frame. It is
// generous relative to the ~500 byte Event datagrams described in the spec
// and exists only to reject a clearly bogus length prefix before allocating
// a buffer for it.
const MaxFrameSize = 64 * 1024

// Wire errors never propagate outside the component that owns the affected
// connection; callers close the connection and move on.
var (
	// ErrIO indicates the peer closed the connection mid-frame (a short read
	// on either the length prefix or the body).
	ErrIO = errors.New("wire: short read, peer closed mid-frame")

	// ErrProtocol indicates a frame whose body isn't a message this codec
	// recognizes: an unknown "type" discriminator, an unknown field in a
	// known type, or a field with the wrong JSON shape.
	ErrProtocol = errors.New("wire: protocol error")

	// ErrFrameTooLarge indicates a declared body length beyond MaxFrameSize.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
)

// Encode writes m to w as one length-prefixed JSON frame.
func Encode(w io.Writer, m Message) error {
	body, err := marshalBody(m)
	if err != nil {
		return fmt.Errorf("wire: marshal body: %w", err)
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Decode reads one length-prefixed JSON frame from r and parses its body
// into the concrete Message variant named by its "type" field.
func Decode(r io.Reader) (Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	return unmarshalBody(body)
}

// marshalBody flattens a Message's own fields with its "type" discriminator
// into one JSON object, matching the wire shape described in spec §6.
func marshalBody(m Message) ([]byte, error) {
	fields, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(fields, &merged); err != nil {
		return nil, err
	}

	typeJSON, err := json.Marshal(m.MsgType())
	if err != nil {
		return nil, err
	}
	merged["type"] = typeJSON

	return json.Marshal(merged)
}

type typeProbe struct {
	Type *Type `json:"type"`
}

// unmarshalBody decodes body strictly (DisallowUnknownFields) into the
// variant struct matching its declared "type"; an unrecognized type, a
// missing type, or a known type with malformed/unexpected fields is
// ErrProtocol.
func unmarshalBody(body []byte) (Message, error) {
	var probe typeProbe
	if err := json.Unmarshal(body, &probe); err != nil || probe.Type == nil {
		return nil, fmt.Errorf("%w: missing or malformed type field", ErrProtocol)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var (
		out Message
		err error
	)

	switch *probe.Type {
	case TypeEvent:
		var v struct {
			Type  Type      `json:"type"`
			Job   string    `json:"job"`
			Event EventKind `json:"event"`
		}
		if err = dec.Decode(&v); err == nil {
			out = Event{Job: v.Job, Event: v.Event}
		}
	case TypeCommand:
		var v struct {
			Type    Type        `json:"type"`
			Job     string      `json:"job"`
			Command CommandCode `json:"command"`
			N       int         `json:"n"`
		}
		if err = dec.Decode(&v); err == nil {
			out = Command{Job: v.Job, Command: v.Command, N: v.N}
		}
	case TypeSuccess:
		var v struct {
			Type Type   `json:"type"`
			Job  string `json:"job"`
		}
		if err = dec.Decode(&v); err == nil {
			out = Success{Job: v.Job}
		}
	case TypeFailure:
		var v struct {
			Type   Type          `json:"type"`
			Job    string        `json:"job"`
			Reason FailureReason `json:"reason"`
		}
		if err = dec.Decode(&v); err == nil {
			out = Failure{Job: v.Job, Reason: v.Reason}
		}
	case TypeStatus:
		var v struct {
			Type       Type   `json:"type"`
			Job        string `json:"job"`
			IsRunning  bool   `json:"is_running"`
			ExitCode   int    `json:"exit_code"`
			StartCount int    `json:"start_count"`
		}
		if err = dec.Decode(&v); err == nil {
			out = Status{Job: v.Job, IsRunning: v.IsRunning, ExitCode: v.ExitCode, StartCount: v.StartCount}
		}
	case TypeJobList:
		var v struct {
			Type    Type            `json:"type"`
			AllJobs map[string]bool `json:"all_jobs"`
		}
		if err = dec.Decode(&v); err == nil {
			out = JobList{AllJobs: v.AllJobs}
		}
	case TypeLogLines:
		var v struct {
			Type  Type     `json:"type"`
			Job   string   `json:"job"`
			Lines []string `json:"lines"`
		}
		if err = dec.Decode(&v); err == nil {
			out = LogLines{Job: v.Job, Lines: v.Lines}
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %d", ErrProtocol, int(*probe.Type))
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return out, nil
}
