// Package protocol implements the newline-delimited JSON wire format of the relay:
// frame types, the codec and a bounded frame reader.
package protocol

import "time"

// Type - wire name of a frame, the value of its "type" field.
type Type string

// Frame types known to the relay.
const (
	TypeRegister Type = "register"
	TypeChat     Type = "chat"
	TypePM       Type = "pm"
	TypePMAck    Type = "pm_ack"
	TypeList     Type = "list"
	TypeUsers    Type = "users"
	TypeSystem   Type = "system"
	TypeError    Type = "error"
	TypeLogout   Type = "logout"
)

// Reasons and error codes carried by server replies.
const (
	ReasonInvalidUser = "invalid_user"
	ReasonUserTaken   = "user_taken"
	ReasonInvalid     = "invalid"

	CodeBadJSON          = "bad_json"
	CodeUnknownType      = "unknown_type"
	CodeRegisterRequired = "register_required"
	CodeMessageTooLong   = "message_too_long"
)

// Frame - one structured message exchanged over the wire.
type Frame interface {
	Type() Type
}

// Timestamp - seconds since Unix epoch with sub-second precision. Zero means absent.
type Timestamp float64

// TimestampOf - converts t into Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(float64(t.UnixNano()) / float64(time.Second))
}

// Now - returns current server time as Timestamp.
func Now() Timestamp {
	return TimestampOf(time.Now())
}

// Time - converts ts back to time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(0, int64(float64(ts)*float64(time.Second)))
}

type (
	// Register - client request to join under UserID.
	Register struct {
		UserID string
	}

	// RegisterAck - server reply to Register, shares the "register" wire type.
	RegisterAck struct {
		OK     bool
		Reason string
		UserID string
	}

	// Chat - broadcast line. From and TS are assigned by the server.
	Chat struct {
		From string
		Text string
		TS   Timestamp
	}

	// PM - private message. From and TS are assigned by the server.
	PM struct {
		From string
		To   string
		Text string
		TS   Timestamp
	}

	// PMAck - delivery report sent back to the PM author.
	PMAck struct {
		To        string
		Delivered bool
		Reason    string
		TS        Timestamp
	}

	// List - roster request.
	List struct{}

	// Users - sorted roster of registered identities.
	Users struct {
		Users []string
		TS    Timestamp
	}

	// System - server announcement.
	System struct {
		Text string
		TS   Timestamp
	}

	// ErrorReply - protocol error reported to the sender, Code is the wire "error" field.
	ErrorReply struct {
		Code string
	}

	// Logout - client leaves.
	Logout struct{}

	// Unrecognized - well-formed frame of a type the relay does not know.
	Unrecognized struct {
		Name Type
	}
)

func (Register) Type() Type       { return TypeRegister }
func (RegisterAck) Type() Type    { return TypeRegister }
func (Chat) Type() Type           { return TypeChat }
func (PM) Type() Type             { return TypePM }
func (PMAck) Type() Type          { return TypePMAck }
func (List) Type() Type           { return TypeList }
func (Users) Type() Type          { return TypeUsers }
func (System) Type() Type         { return TypeSystem }
func (ErrorReply) Type() Type     { return TypeError }
func (Logout) Type() Type         { return TypeLogout }
func (u Unrecognized) Type() Type { return u.Name }
