package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame - line is not a JSON object or required fields of its type are absent or mistyped.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// wireFrame - union of all frame fields. Pointers distinguish absent fields from zero values.
type wireFrame struct {
	Type      Type       `json:"type"`
	UserID    *string    `json:"user_id,omitempty"`
	OK        *bool      `json:"ok,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	From      *string    `json:"from,omitempty"`
	To        *string    `json:"to,omitempty"`
	Text      *string    `json:"text,omitempty"`
	Delivered *bool      `json:"delivered,omitempty"`
	Users     *[]string  `json:"users,omitempty"`
	TS        *Timestamp `json:"ts,omitempty"`
	Error     *string    `json:"error,omitempty"`
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optTimestamp(ts Timestamp) *Timestamp {
	if ts == 0 {
		return nil
	}
	return &ts
}

func toWire(f Frame) (wireFrame, error) {
	w := wireFrame{Type: f.Type()}
	switch f := f.(type) {
	case Register:
		w.UserID = &f.UserID
	case RegisterAck:
		w.OK, w.Reason, w.UserID = &f.OK, f.Reason, optString(f.UserID)
	case Chat:
		w.From, w.Text, w.TS = optString(f.From), &f.Text, optTimestamp(f.TS)
	case PM:
		w.From, w.To, w.Text, w.TS = optString(f.From), &f.To, &f.Text, optTimestamp(f.TS)
	case PMAck:
		w.To, w.Delivered, w.Reason, w.TS = &f.To, &f.Delivered, f.Reason, optTimestamp(f.TS)
	case List, Logout, Unrecognized:
	case Users:
		users := f.Users
		if users == nil {
			users = []string{}
		}
		w.Users, w.TS = &users, optTimestamp(f.TS)
	case System:
		w.Text, w.TS = &f.Text, optTimestamp(f.TS)
	case ErrorReply:
		w.Error = &f.Code
	default:
		return w, fmt.Errorf("protocol: can't encode frame %T", f)
	}
	if w.Type == "" {
		return w, fmt.Errorf("protocol: can't encode frame without type")
	}
	return w, nil
}

// Encode - serializes frame into one JSON object followed by a single '\n'.
// Non-ASCII text is kept as UTF-8, line terminators inside strings are escaped by JSON.
func Encode(f Frame) ([]byte, error) {
	if f == nil {
		return nil, errors.New("protocol: can't encode nil frame")
	}
	w, err := toWire(f)
	if err != nil {
		return nil, err
	}
	buf := bytes.Buffer{}
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", w.Type, err)
	}
	return buf.Bytes(), nil
}

// EncodeLimited - like Encode, but replaces frames whose payload exceeds max bytes
// with ErrorReply{CodeMessageTooLong}. The line terminator is not counted.
func EncodeLimited(f Frame, max int) ([]byte, error) {
	data, err := Encode(f)
	if err != nil {
		return nil, err
	}
	if max > 0 && len(data)-1 > max {
		return Encode(ErrorReply{Code: CodeMessageTooLong})
	}
	return data, nil
}

func malformed(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, v...))
}

func requireField(t Type, field string, present bool) error {
	if !present {
		return malformed("%s: missing %q", t, field)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTS(ts *Timestamp) Timestamp {
	if ts == nil {
		return 0
	}
	return *ts
}

// Decode - parses one line (without or with its terminator) into a Frame.
// Unknown types decode into Unrecognized. Any other failure wraps ErrMalformedFrame.
func Decode(line []byte) (Frame, error) {
	line = bytes.TrimSpace(line)
	w := wireFrame{}
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var err error
	switch w.Type {
	case "":
		return nil, malformed("missing type")
	case TypeRegister:
		if w.OK != nil {
			return RegisterAck{OK: *w.OK, Reason: w.Reason, UserID: deref(w.UserID)}, nil
		}
		if err = requireField(w.Type, "user_id", w.UserID != nil); err != nil {
			return nil, err
		}
		return Register{UserID: *w.UserID}, nil
	case TypeChat:
		if err = requireField(w.Type, "text", w.Text != nil); err != nil {
			return nil, err
		}
		return Chat{From: deref(w.From), Text: *w.Text, TS: derefTS(w.TS)}, nil
	case TypePM:
		if err = requireField(w.Type, "to", w.To != nil); err != nil {
			return nil, err
		}
		if err = requireField(w.Type, "text", w.Text != nil); err != nil {
			return nil, err
		}
		return PM{From: deref(w.From), To: *w.To, Text: *w.Text, TS: derefTS(w.TS)}, nil
	case TypePMAck:
		if err = requireField(w.Type, "to", w.To != nil); err != nil {
			return nil, err
		}
		if err = requireField(w.Type, "delivered", w.Delivered != nil); err != nil {
			return nil, err
		}
		return PMAck{To: *w.To, Delivered: *w.Delivered, Reason: w.Reason, TS: derefTS(w.TS)}, nil
	case TypeList:
		return List{}, nil
	case TypeUsers:
		if err = requireField(w.Type, "users", w.Users != nil); err != nil {
			return nil, err
		}
		return Users{Users: *w.Users, TS: derefTS(w.TS)}, nil
	case TypeSystem:
		if err = requireField(w.Type, "text", w.Text != nil); err != nil {
			return nil, err
		}
		return System{Text: *w.Text, TS: derefTS(w.TS)}, nil
	case TypeError:
		if err = requireField(w.Type, "error", w.Error != nil); err != nil {
			return nil, err
		}
		return ErrorReply{Code: *w.Error}, nil
	case TypeLogout:
		return Logout{}, nil
	default:
		return Unrecognized{Name: w.Type}, nil
	}
}
