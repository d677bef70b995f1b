// Package operation interprets reassembled confirmation requests.
//
// One Operation lives for one session. A prompt moves it from idle to
// pending, a confirm, cancel or abort finishes it, and fetching the result
// returns it to idle. The confirmation token is only ever computed over the
// exact formatted message that was shown.
package operation

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/danmuck/confirmationui/internal/keys"
	"github.com/danmuck/confirmationui/internal/observability"
	"github.com/danmuck/confirmationui/internal/protocol/schema"
	"github.com/danmuck/confirmationui/internal/protocol/tlv"
	"github.com/danmuck/confirmationui/internal/ui"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
)

// MaxMessageSize bounds the formatted message so that it, the token and the
// response framing fit one transport message.
const MaxMessageSize = 6144

const tokenPrefix = "confirmation token"

var ErrNoKey = errors.New("operation: no auth token key")

// UI is the part of ui.ConfirmationUI the operation drives.
type UI interface {
	Start(prompt, lang string, inverted, magnified bool) error
	ShowInstructions(enable bool) error
	Stop()
	SecureUIParams() []ui.DisplayParams
}

type state int

const (
	stateIdle state = iota
	statePending
	stateFinished
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case statePending:
		return "pending"
	case stateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type formattedMessage struct {
	Prompt string `cbor:"prompt"`
	Extra  []byte `cbor:"extra"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// FormatMessage encodes the message the token signs.
func FormatMessage(prompt string, extra []byte) ([]byte, error) {
	if extra == nil {
		extra = []byte{}
	}
	return encMode.Marshal(formattedMessage{Prompt: prompt, Extra: extra})
}

// Token computes the confirmation token for a formatted message.
func Token(key *keys.Key, formatted []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrNoKey
	}
	var out []byte
	err := key.Use(func(material []byte) error {
		mac := hmac.New(sha256.New, material)
		mac.Write([]byte(tokenPrefix))
		mac.Write(formatted)
		out = mac.Sum(nil)
		return nil
	})
	return out, err
}

type Operation struct {
	ui        UI
	key       *keys.Key
	state     state
	formatted []byte
	result    schema.ResponseCode
	token     []byte
}

func New(u UI) *Operation {
	return &Operation{ui: u}
}

func (o *Operation) SetAuthTokenKey(k *keys.Key) {
	o.key = k
}

// Handle decodes one request and returns the encoded response. Malformed
// requests get an Unexpected response rather than an error; an error means
// no response can be produced.
func (o *Operation) Handle(req []byte) ([]byte, error) {
	fields, err := tlv.DecodeFields(req)
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(req)).Msg("operation.Handle malformed request")
		return o.respond(0, schema.Unexpected), nil
	}
	cmd, err := schema.CommandOf(fields)
	if err != nil {
		log.Warn().Err(err).Msg("operation.Handle missing command")
		return o.respond(0, schema.Unexpected), nil
	}
	if !schema.Known(cmd) {
		return o.respond(cmd, schema.Unimplemented), nil
	}
	if err := schema.Validate(cmd, fields); err != nil {
		return o.respond(cmd, schema.Unexpected), nil
	}

	switch cmd {
	case schema.CmdPromptUserConfirmation:
		return o.respond(cmd, o.prompt(fields)), nil
	case schema.CmdDeliverSecureInputEvent:
		return o.respond(cmd, o.deliver(fields)), nil
	case schema.CmdAbort:
		return o.respond(cmd, o.abortPending()), nil
	case schema.CmdFetchConfirmationResult:
		return o.fetchResult(), nil
	case schema.CmdFetchSecureUIParams:
		return o.fetchParams()
	}
	return o.respond(cmd, schema.Unimplemented), nil
}

func (o *Operation) respond(cmd schema.Command, code schema.ResponseCode, extra ...tlv.Field) []byte {
	observability.RecordOperation(cmd.String(), code.String())
	log.Debug().Stringer("command", cmd).Stringer("response", code).Stringer("state", o.state).Msg("operation.respond")
	fields := append([]tlv.Field{
		tlv.U32(schema.FieldCommand, uint32(cmd)),
		tlv.U32(schema.FieldResponseCode, uint32(code)),
	}, extra...)
	return tlv.EncodeFields(fields)
}

func (o *Operation) prompt(fields []tlv.Field) schema.ResponseCode {
	if o.state == statePending {
		return schema.OperationPending
	}
	promptField, _ := tlv.GetField(fields, schema.FieldPrompt)
	extraField, _ := tlv.GetField(fields, schema.FieldExtraData)
	localeField, _ := tlv.GetField(fields, schema.FieldLocale)
	opts, _, err := tlv.GetU32(fields, schema.FieldUIOptions)
	if err != nil {
		return schema.Unexpected
	}
	if !utf8.Valid(promptField.Value) {
		return schema.UIErrorMalformedUTF8Encoding
	}
	prompt := string(promptField.Value)
	formatted, err := FormatMessage(prompt, extraField.Value)
	if err != nil {
		log.Error().Err(err).Msg("operation.prompt format failed")
		return schema.SystemError
	}
	if len(formatted) > MaxMessageSize {
		return schema.UIErrorMessageTooLong
	}

	o.discard()
	err = o.ui.Start(prompt, string(localeField.Value),
		opts&schema.UIOptionInverted != 0, opts&schema.UIOptionMagnified != 0)
	if err != nil {
		return ui.ResponseCodeFor(err)
	}
	o.formatted = formatted
	o.state = statePending
	return schema.OK
}

func (o *Operation) deliver(fields []tlv.Field) schema.ResponseCode {
	if o.state != statePending {
		return schema.Ignored
	}
	event, _, err := tlv.GetU32(fields, schema.FieldInputEvent)
	if err != nil {
		return schema.Unexpected
	}
	switch event {
	case schema.InputConfirm:
		token, err := Token(o.key, o.formatted)
		if err != nil {
			log.Error().Err(err).Msg("operation.deliver token failed")
			o.finish(schema.SystemError)
			return schema.SystemError
		}
		o.token = token
		o.finish(schema.OK)
		return schema.OK
	case schema.InputCancel:
		o.finish(schema.Canceled)
		return schema.OK
	default:
		// Unrecognized input: point the user at the buttons.
		if err := o.ui.ShowInstructions(true); err != nil {
			o.finish(ui.ResponseCodeFor(err))
		}
		return schema.Ignored
	}
}

func (o *Operation) abortPending() schema.ResponseCode {
	if o.state != statePending {
		return schema.Ignored
	}
	o.finish(schema.Aborted)
	return schema.OK
}

func (o *Operation) finish(code schema.ResponseCode) {
	o.ui.Stop()
	o.result = code
	o.state = stateFinished
}

func (o *Operation) fetchResult() []byte {
	cmd := schema.CmdFetchConfirmationResult
	switch o.state {
	case statePending:
		return o.respond(cmd, schema.OperationPending)
	case stateIdle:
		return o.respond(cmd, schema.Ignored)
	}
	var extra []tlv.Field
	if o.result == schema.OK {
		extra = append(extra,
			tlv.Bytes(schema.FieldFormattedMessage, o.formatted),
			tlv.Bytes(schema.FieldConfirmationToken, o.token))
	}
	resp := o.respond(cmd, o.result, extra...)
	o.discard()
	return resp
}

func (o *Operation) fetchParams() ([]byte, error) {
	params, err := encMode.Marshal(o.ui.SecureUIParams())
	if err != nil {
		return nil, fmt.Errorf("operation: encode ui params: %w", err)
	}
	return o.respond(schema.CmdFetchSecureUIParams, schema.OK, tlv.Bytes(schema.FieldSecureUIParams, params)), nil
}

// discard forgets any pending or finished result.
func (o *Operation) discard() {
	clear(o.formatted)
	clear(o.token)
	o.formatted, o.token = nil, nil
	o.result = schema.OK
	o.state = stateIdle
}

// Abort tears down whatever the session left behind. Safe to call at any
// time and more than once.
func (o *Operation) Abort() {
	if o.state == statePending {
		log.Info().Msg("operation.Abort pending prompt")
	}
	o.ui.Stop()
	o.discard()
	o.key = nil
}
