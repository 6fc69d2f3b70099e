// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/creachadair/command"
	"github.com/creachadair/ocpp"
	"github.com/creachadair/ocpp/schema"
)

var decodeFlags struct {
	Version string `flag:"version,default=ocpp1.6,Protocol version of the frames"`
	Action  string `flag:"action,Action whose response schema checks CallResult payloads"`
	NoCheck bool   `flag:"nocheck,Do not check payloads against schemas"`
}

func runDecode(env *command.Env) error {
	var val *schema.Validator
	if !decodeFlags.NoCheck {
		v, err := ocpp.ParseVersion(decodeFlags.Version)
		if err != nil {
			return err
		}
		val, err = schema.For(v)
		if err != nil {
			return err
		}
	}

	frames := env.Args
	if len(frames) == 0 {
		sc := bufio.NewScanner(os.Stdin)
		sc.Buffer(nil, 1<<20)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				frames = append(frames, line)
			}
		}
		if err := sc.Err(); err != nil {
			return err
		}
	}
	return decodeFrames(os.Stdout, val, decodeFlags.Action, frames)
}

// decodeFrames writes a description of each frame to w. If val != nil,
// payloads are checked against its schemas. It reports an error if any frame
// is invalid.
func decodeFrames(w io.Writer, val *schema.Validator, action string, frames []string) error {
	var bad int
	for _, f := range frames {
		msg, err := ocpp.Decode([]byte(f))
		if err == nil && val != nil {
			switch {
			case msg.Type == ocpp.TypeCall:
				err = val.ValidateRequest(msg.Action, msg.Payload)
			case msg.Type == ocpp.TypeCallResult && action != "":
				err = val.ValidateResponse(action, msg.Payload)
			}
		}
		if msg != nil {
			fmt.Fprintln(w, msg)
		}
		if err != nil {
			bad++
			fmt.Fprintf(w, "  invalid: %v\n", err)
		}
	}
	if bad != 0 {
		return fmt.Errorf("%d of %d frames invalid", bad, len(frames))
	}
	return nil
}
