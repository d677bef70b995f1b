// confuictl drives the confirmation daemon over its socket. Every step named
// on the command line runs in order on one connection, because a pending
// prompt does not survive a hangup.
//
//	confuictl -text "Pay 5 EUR?" prompt confirm fetch
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/confirmationui/internal/channel"
	"github.com/danmuck/confirmationui/internal/client"
	"github.com/danmuck/confirmationui/internal/logging"
	"github.com/danmuck/confirmationui/internal/protocol/packet"
	"github.com/danmuck/confirmationui/internal/protocol/schema"
	"github.com/danmuck/confirmationui/internal/ui"
	"github.com/fxamacker/cbor/v2"
)

var errUnknownStep = errors.New("unknown step")

type options struct {
	text      string
	extra     []byte
	locale    string
	inverted  bool
	magnified bool
}

func main() {
	socket := flag.String("socket", "/tmp/confirmationui.sock", "daemon socket path")
	mtu := flag.Int("mtu", packet.DefaultMTU, "packet size")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	text := flag.String("text", "", "prompt text")
	extraHex := flag.String("extra", "", "extra data (hex)")
	locale := flag.String("locale", "en", "prompt locale")
	inverted := flag.Bool("inverted", false, "inverted colour scheme")
	magnified := flag.Bool("magnified", false, "magnified text")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: confuictl [flags] step...\n")
		fmt.Fprintf(flag.CommandLine.Output(), "steps: prompt confirm cancel input=N abort fetch params\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	logging.ConfigureRuntime()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	extra, err := hex.DecodeString(*extraHex)
	if err != nil {
		fatal(fmt.Errorf("parse -extra: %w", err))
	}
	opts := options{text: *text, extra: extra, locale: *locale, inverted: *inverted, magnified: *magnified}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ch, err := channel.DialUnix(ctx, *socket, *mtu)
	if err != nil {
		fatal(err)
	}
	c, err := client.New(ch, *mtu)
	if err != nil {
		fatal(err)
	}
	defer c.Close()

	for _, step := range flag.Args() {
		if err := runStep(ctx, c, step, opts); err != nil {
			fatal(fmt.Errorf("%s: %w", step, err))
		}
	}
}

func runStep(ctx context.Context, c *client.Client, step string, opts options) error {
	var (
		resp client.Response
		err  error
	)
	switch {
	case step == "prompt":
		var uiOpts uint32
		if opts.inverted {
			uiOpts |= schema.UIOptionInverted
		}
		if opts.magnified {
			uiOpts |= schema.UIOptionMagnified
		}
		resp, err = c.Prompt(ctx, opts.text, opts.extra, opts.locale, uiOpts)
	case step == "confirm":
		resp, err = c.DeliverInput(ctx, schema.InputConfirm)
	case step == "cancel":
		resp, err = c.DeliverInput(ctx, schema.InputCancel)
	case strings.HasPrefix(step, "input="):
		n, perr := strconv.ParseUint(strings.TrimPrefix(step, "input="), 10, 32)
		if perr != nil {
			return perr
		}
		resp, err = c.DeliverInput(ctx, uint32(n))
	case step == "abort":
		resp, err = c.Abort(ctx)
	case step == "fetch":
		resp, err = c.FetchResult(ctx)
	case step == "params":
		resp, err = c.FetchSecureUIParams(ctx)
	default:
		return errUnknownStep
	}
	if err != nil {
		return err
	}
	return printResponse(step, resp)
}

func printResponse(step string, resp client.Response) error {
	fmt.Printf("%s: %s\n", step, resp.Code)
	if msg := resp.Bytes(schema.FieldFormattedMessage); msg != nil {
		fmt.Printf("  message: %s\n", hex.EncodeToString(msg))
	}
	if token := resp.Bytes(schema.FieldConfirmationToken); token != nil {
		fmt.Printf("  token:   %s\n", hex.EncodeToString(token))
	}
	if raw := resp.Bytes(schema.FieldSecureUIParams); raw != nil {
		var params []ui.DisplayParams
		if err := cbor.Unmarshal(raw, &params); err != nil {
			return fmt.Errorf("decode params: %w", err)
		}
		out, err := json.MarshalIndent(params, "  ", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("  %s\n", out)
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "confuictl: %v\n", err)
	os.Exit(1)
}
