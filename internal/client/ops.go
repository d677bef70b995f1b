package client

import (
	"context"
	"fmt"

	"github.com/danmuck/confirmationui/internal/protocol/schema"
	"github.com/danmuck/confirmationui/internal/protocol/tlv"
)

// Response is a decoded operation response.
type Response struct {
	Command schema.Command
	Code    schema.ResponseCode
	Fields  []tlv.Field
}

// Bytes returns the bytes field id, or nil.
func (r Response) Bytes(id uint16) []byte {
	f, ok := tlv.GetField(r.Fields, id)
	if !ok {
		return nil
	}
	return f.Value
}

// Do encodes cmd with fields, calls the server and decodes the response.
func (c *Client) Do(ctx context.Context, cmd schema.Command, fields ...tlv.Field) (Response, error) {
	req := tlv.EncodeFields(append([]tlv.Field{tlv.U32(schema.FieldCommand, uint32(cmd))}, fields...))
	raw, err := c.Call(ctx, req)
	if err != nil {
		return Response{}, err
	}
	out, err := tlv.DecodeFields(raw)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	got, err := schema.CommandOf(out)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	code, ok, err := tlv.GetU32(out, schema.FieldResponseCode)
	if !ok || err != nil {
		return Response{}, fmt.Errorf("%w: response without code", ErrProtocol)
	}
	return Response{Command: got, Code: schema.ResponseCode(code), Fields: out}, nil
}

func (c *Client) Prompt(ctx context.Context, prompt string, extra []byte, locale string, opts uint32) (Response, error) {
	return c.Do(ctx, schema.CmdPromptUserConfirmation,
		tlv.String(schema.FieldPrompt, prompt),
		tlv.Bytes(schema.FieldExtraData, extra),
		tlv.String(schema.FieldLocale, locale),
		tlv.U32(schema.FieldUIOptions, opts))
}

func (c *Client) DeliverInput(ctx context.Context, event uint32) (Response, error) {
	return c.Do(ctx, schema.CmdDeliverSecureInputEvent, tlv.U32(schema.FieldInputEvent, event))
}

func (c *Client) Abort(ctx context.Context) (Response, error) {
	return c.Do(ctx, schema.CmdAbort)
}

func (c *Client) FetchResult(ctx context.Context) (Response, error) {
	return c.Do(ctx, schema.CmdFetchConfirmationResult)
}

func (c *Client) FetchSecureUIParams(ctx context.Context) (Response, error) {
	return c.Do(ctx, schema.CmdFetchSecureUIParams)
}
