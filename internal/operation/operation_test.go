package operation

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/confirmationui/internal/keys"
	"github.com/danmuck/confirmationui/internal/protocol/schema"
	"github.com/danmuck/confirmationui/internal/protocol/tlv"
	"github.com/danmuck/confirmationui/internal/render"
	"github.com/danmuck/confirmationui/internal/testutil/testlog"
	"github.com/danmuck/confirmationui/internal/ui"
	"github.com/fxamacker/cbor/v2"
)

type fakeUI struct {
	startErr  error
	instrErr  error
	started   int
	stopped   int
	instr     []bool
	prompt    string
	lang      string
	inverted  bool
	magnified bool
}

func (f *fakeUI) Start(prompt, lang string, inverted, magnified bool) error {
	f.started++
	f.prompt, f.lang, f.inverted, f.magnified = prompt, lang, inverted, magnified
	return f.startErr
}

func (f *fakeUI) ShowInstructions(enable bool) error {
	f.instr = append(f.instr, enable)
	return f.instrErr
}

func (f *fakeUI) Stop() { f.stopped++ }

func (f *fakeUI) SecureUIParams() []ui.DisplayParams {
	return []ui.DisplayParams{{Display: 0, Model: "emulator", Width: 360, Height: 640, ConfirmTop: 120}}
}

func request(cmd schema.Command, fields ...tlv.Field) []byte {
	return tlv.EncodeFields(append([]tlv.Field{tlv.U32(schema.FieldCommand, uint32(cmd))}, fields...))
}

func promptRequest(prompt string, extra []byte, opts uint32) []byte {
	return request(schema.CmdPromptUserConfirmation,
		tlv.String(schema.FieldPrompt, prompt),
		tlv.Bytes(schema.FieldExtraData, extra),
		tlv.String(schema.FieldLocale, "fr-FR"),
		tlv.U32(schema.FieldUIOptions, opts))
}

func call(t *testing.T, op *Operation, req []byte) (schema.ResponseCode, []tlv.Field) {
	t.Helper()
	resp, err := op.Handle(req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	fields, err := tlv.DecodeFields(resp)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	code, ok, err := tlv.GetU32(fields, schema.FieldResponseCode)
	if !ok || err != nil {
		t.Fatalf("response without code: %v", err)
	}
	return schema.ResponseCode(code), fields
}

func testKey(t *testing.T) *keys.Key {
	t.Helper()
	k, err := keys.TestKeyProvider{}.AuthTokenKey(t.Context())
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	t.Cleanup(k.Scrub)
	return k
}

func TestConfirmFlowProducesToken(t *testing.T) {
	testlog.Start(t)

	fu := &fakeUI{}
	op := New(fu)
	op.SetAuthTokenKey(testKey(t))

	code, _ := call(t, op, promptRequest("Pay 5 EUR?", []byte{7, 8}, schema.UIOptionInverted|schema.UIOptionMagnified))
	if code != schema.OK || fu.started != 1 || fu.prompt != "Pay 5 EUR?" || fu.lang != "fr-FR" || !fu.inverted || !fu.magnified {
		t.Fatalf("prompt code=%v ui=%+v", code, fu)
	}
	if code, _ := call(t, op, promptRequest("again", nil, 0)); code != schema.OperationPending {
		t.Fatalf("second prompt code %v", code)
	}
	if code, _ := call(t, op, request(schema.CmdFetchConfirmationResult)); code != schema.OperationPending {
		t.Fatalf("early fetch code %v", code)
	}
	if code, _ := call(t, op, request(schema.CmdDeliverSecureInputEvent, tlv.U32(schema.FieldInputEvent, schema.InputConfirm))); code != schema.OK {
		t.Fatalf("confirm code %v", code)
	}
	if fu.stopped == 0 {
		t.Fatalf("ui not stopped after confirm")
	}

	code, fields := call(t, op, request(schema.CmdFetchConfirmationResult))
	if code != schema.OK {
		t.Fatalf("fetch code %v", code)
	}
	msg, _ := tlv.GetField(fields, schema.FieldFormattedMessage)
	tok, _ := tlv.GetField(fields, schema.FieldConfirmationToken)

	want, err := FormatMessage("Pay 5 EUR?", []byte{7, 8})
	if err != nil || !bytes.Equal(msg.Value, want) {
		t.Fatalf("formatted message mismatch")
	}
	var decoded map[string]any
	if err := cbor.Unmarshal(msg.Value, &decoded); err != nil || decoded["prompt"] != "Pay 5 EUR?" {
		t.Fatalf("formatted message not a prompt map: %v %v", decoded, err)
	}
	mac := hmac.New(sha256.New, bytes.Repeat([]byte{keys.TestKeyByte}, keys.Size))
	mac.Write([]byte("confirmation token"))
	mac.Write(msg.Value)
	if !hmac.Equal(tok.Value, mac.Sum(nil)) {
		t.Fatalf("token mismatch")
	}

	if code, _ := call(t, op, request(schema.CmdFetchConfirmationResult)); code != schema.Ignored {
		t.Fatalf("result fetched twice: %v", code)
	}
}

func TestCancelAndAbort(t *testing.T) {
	testlog.Start(t)

	fu := &fakeUI{}
	op := New(fu)
	op.SetAuthTokenKey(testKey(t))

	call(t, op, promptRequest("a", nil, 0))
	call(t, op, request(schema.CmdDeliverSecureInputEvent, tlv.U32(schema.FieldInputEvent, schema.InputCancel)))
	code, fields := call(t, op, request(schema.CmdFetchConfirmationResult))
	if code != schema.Canceled {
		t.Fatalf("cancel result %v", code)
	}
	if _, ok := tlv.GetField(fields, schema.FieldConfirmationToken); ok {
		t.Fatalf("token returned for canceled prompt")
	}

	call(t, op, promptRequest("b", nil, 0))
	if code, _ := call(t, op, request(schema.CmdAbort)); code != schema.OK {
		t.Fatalf("abort code %v", code)
	}
	if code, _ := call(t, op, request(schema.CmdFetchConfirmationResult)); code != schema.Aborted {
		t.Fatalf("abort result %v", code)
	}
	if code, _ := call(t, op, request(schema.CmdAbort)); code != schema.Ignored {
		t.Fatalf("abort while idle %v", code)
	}
	if code, _ := call(t, op, request(schema.CmdDeliverSecureInputEvent, tlv.U32(schema.FieldInputEvent, schema.InputConfirm))); code != schema.Ignored {
		t.Fatalf("input while idle %v", code)
	}
}

func TestUnknownInputShowsInstructions(t *testing.T) {
	fu := &fakeUI{}
	op := New(fu)
	call(t, op, promptRequest("a", nil, 0))
	if code, _ := call(t, op, request(schema.CmdDeliverSecureInputEvent, tlv.U32(schema.FieldInputEvent, 99))); code != schema.Ignored {
		t.Fatalf("unknown input code %v", code)
	}
	if len(fu.instr) != 1 || !fu.instr[0] {
		t.Fatalf("instructions not shown: %v", fu.instr)
	}

	fu.instrErr = render.ErrMessageTooLong
	call(t, op, request(schema.CmdDeliverSecureInputEvent, tlv.U32(schema.FieldInputEvent, 99)))
	if code, _ := call(t, op, request(schema.CmdFetchConfirmationResult)); code != schema.UIErrorMessageTooLong {
		t.Fatalf("failed re-render result %v", code)
	}
}

func TestConfirmWithoutKeyIsSystemError(t *testing.T) {
	op := New(&fakeUI{})
	call(t, op, promptRequest("a", nil, 0))
	if code, _ := call(t, op, request(schema.CmdDeliverSecureInputEvent, tlv.U32(schema.FieldInputEvent, schema.InputConfirm))); code != schema.SystemError {
		t.Fatalf("confirm without key %v", code)
	}
}

func TestPromptRejections(t *testing.T) {
	testlog.Start(t)

	fu := &fakeUI{}
	op := New(fu)
	if code, _ := call(t, op, promptRequest("bad \xff utf8", nil, 0)); code != schema.UIErrorMalformedUTF8Encoding {
		t.Fatalf("malformed utf8 code %v", code)
	}
	if code, _ := call(t, op, promptRequest(strings.Repeat("x", MaxMessageSize), nil, 0)); code != schema.UIErrorMessageTooLong {
		t.Fatalf("oversized message code %v", code)
	}
	fu.startErr = render.ErrMissingGlyph
	if code, _ := call(t, op, promptRequest("ok", nil, 0)); code != schema.UIErrorMissingGlyph {
		t.Fatalf("ui failure code %v", code)
	}
	if fu.started != 1 {
		t.Fatalf("ui started for rejected prompts: %d", fu.started)
	}
	if code, _ := call(t, op, request(schema.CmdFetchConfirmationResult)); code != schema.Ignored {
		t.Fatalf("failed prompt left state behind: %v", code)
	}
}

func TestMalformedRequests(t *testing.T) {
	op := New(&fakeUI{})
	if code, _ := call(t, op, []byte{1, 2, 3}); code != schema.Unexpected {
		t.Fatalf("garbage code %v", code)
	}
	if code, _ := call(t, op, tlv.EncodeFields([]tlv.Field{tlv.String(schema.FieldPrompt, "x")})); code != schema.Unexpected {
		t.Fatalf("missing command code %v", code)
	}
	if code, _ := call(t, op, request(schema.Command(77))); code != schema.Unimplemented {
		t.Fatalf("unknown command code %v", code)
	}
	if code, _ := call(t, op, request(schema.CmdPromptUserConfirmation)); code != schema.Unexpected {
		t.Fatalf("prompt without fields code %v", code)
	}
}

func TestFetchSecureUIParams(t *testing.T) {
	op := New(&fakeUI{})
	code, fields := call(t, op, request(schema.CmdFetchSecureUIParams))
	if code != schema.OK {
		t.Fatalf("params code %v", code)
	}
	f, ok := tlv.GetField(fields, schema.FieldSecureUIParams)
	if !ok {
		t.Fatalf("params missing")
	}
	var params []ui.DisplayParams
	if err := cbor.Unmarshal(f.Value, &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if len(params) != 1 || params[0].Model != "emulator" || params[0].ConfirmTop != 120 {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestAbortIsIdempotent(t *testing.T) {
	fu := &fakeUI{}
	op := New(fu)
	op.SetAuthTokenKey(testKey(t))
	call(t, op, promptRequest("a", nil, 0))
	op.Abort()
	op.Abort()
	if fu.stopped != 2 {
		t.Fatalf("stop calls %d", fu.stopped)
	}
	if code, _ := call(t, op, request(schema.CmdFetchConfirmationResult)); code != schema.Ignored {
		t.Fatalf("state survived abort: %v", code)
	}
	if _, err := Token(nil, nil); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}
