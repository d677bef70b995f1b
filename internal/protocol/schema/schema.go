// Package schema names the operation commands, their fields and result
// codes, and checks that a decoded request carries what its command needs.
package schema

import (
	"fmt"

	"github.com/danmuck/confirmationui/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

type Command uint32

const (
	CmdPromptUserConfirmation  Command = 1
	CmdDeliverSecureInputEvent Command = 2
	CmdAbort                   Command = 3
	CmdFetchConfirmationResult Command = 4
	CmdFetchSecureUIParams     Command = 5
)

func (c Command) String() string {
	switch c {
	case CmdPromptUserConfirmation:
		return "PromptUserConfirmation"
	case CmdDeliverSecureInputEvent:
		return "DeliverSecureInputEvent"
	case CmdAbort:
		return "Abort"
	case CmdFetchConfirmationResult:
		return "FetchConfirmationResult"
	case CmdFetchSecureUIParams:
		return "FetchSecureUIParams"
	default:
		return fmt.Sprintf("Command(%d)", uint32(c))
	}
}

// Field IDs.
const (
	FieldCommand uint16 = 1

	FieldPrompt    uint16 = 100
	FieldExtraData uint16 = 101
	FieldLocale    uint16 = 102
	FieldUIOptions uint16 = 103

	FieldInputEvent uint16 = 200

	FieldResponseCode      uint16 = 300
	FieldFormattedMessage  uint16 = 301
	FieldConfirmationToken uint16 = 302
	FieldSecureUIParams    uint16 = 303
)

// UI option bits carried in FieldUIOptions.
const (
	UIOptionInverted  uint32 = 1 << 0
	UIOptionMagnified uint32 = 1 << 1
)

// Input events carried in FieldInputEvent.
const (
	InputConfirm uint32 = 1
	InputCancel  uint32 = 2
)

// ResponseCode is the caller visible result of a command.
type ResponseCode uint32

const (
	OK               ResponseCode = 0
	Canceled         ResponseCode = 1
	Aborted          ResponseCode = 2
	OperationPending ResponseCode = 3
	Ignored          ResponseCode = 4
	SystemError      ResponseCode = 5
	Unimplemented    ResponseCode = 6
	Unexpected       ResponseCode = 7

	UIError                      ResponseCode = 0x10000
	UIErrorMissingGlyph          ResponseCode = 0x10001
	UIErrorMessageTooLong        ResponseCode = 0x10002
	UIErrorMalformedUTF8Encoding ResponseCode = 0x10003
)

func (c ResponseCode) String() string {
	switch c {
	case OK:
		return "OK"
	case Canceled:
		return "Canceled"
	case Aborted:
		return "Aborted"
	case OperationPending:
		return "OperationPending"
	case Ignored:
		return "Ignored"
	case SystemError:
		return "SystemError"
	case Unimplemented:
		return "Unimplemented"
	case Unexpected:
		return "Unexpected"
	case UIError:
		return "UIError"
	case UIErrorMissingGlyph:
		return "UIErrorMissingGlyph"
	case UIErrorMessageTooLong:
		return "UIErrorMessageTooLong"
	case UIErrorMalformedUTF8Encoding:
		return "UIErrorMalformedUTF8Encoding"
	default:
		return fmt.Sprintf("ResponseCode(%d)", uint32(c))
	}
}

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	Command Command
	FieldID uint16
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: command=%s: %s", e.Command, e.Reason)
	}
	return fmt.Sprintf("schema: command=%s field=%d: %s", e.Command, e.FieldID, e.Reason)
}

var requirements = map[Command][]Requirement{
	CmdPromptUserConfirmation: {
		{FieldPrompt, tlv.TypeString},
		{FieldExtraData, tlv.TypeBytes},
		{FieldLocale, tlv.TypeString},
		{FieldUIOptions, tlv.TypeU32},
	},
	CmdDeliverSecureInputEvent: {
		{FieldInputEvent, tlv.TypeU32},
	},
	CmdAbort:                   {},
	CmdFetchConfirmationResult: {},
	CmdFetchSecureUIParams:     {},
}

// CommandOf reads and checks the command field.
func CommandOf(fields []tlv.Field) (Command, error) {
	v, ok, err := tlv.GetU32(fields, FieldCommand)
	if !ok {
		return 0, ValidationError{FieldID: FieldCommand, Reason: "missing command"}
	}
	if err != nil {
		return 0, ValidationError{FieldID: FieldCommand, Reason: err.Error()}
	}
	return Command(v), nil
}

// Validate enforces required fields and their types for a command.
// Unknown fields are ignored.
func Validate(cmd Command, fields []tlv.Field) error {
	log.Debug().Stringer("command", cmd).Int("fields", len(fields)).Msg("schema.Validate")
	reqs, ok := requirements[cmd]
	if !ok {
		log.Error().Uint32("command", uint32(cmd)).Msg("schema.Validate unknown command")
		return ValidationError{Command: cmd, Reason: "unknown command"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().Stringer("command", cmd).Uint16("field_id", req.ID).Msg("schema.Validate missing field")
			return ValidationError{Command: cmd, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().Stringer("command", cmd).Uint16("field_id", req.ID).
				Uint8("got", f.Type).Uint8("want", req.Type).Msg("schema.Validate type mismatch")
			return ValidationError{Command: cmd, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}

// Known reports whether cmd is a defined command.
func Known(cmd Command) bool {
	_, ok := requirements[cmd]
	return ok
}
