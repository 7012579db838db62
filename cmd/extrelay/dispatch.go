package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coffersTech/extrelay/internal/model"
	"github.com/coffersTech/extrelay/internal/relay"
	"github.com/coffersTech/extrelay/internal/visit"
	"github.com/coffersTech/extrelay/internal/wire"
)

const maxLine = wire.MaxPayload

// Line tags that are not instrument names.
const (
	tagLog     = "log"
	tagControl = "control"
)

var errBadLine = errors.New("expected a JSON array [tag, ...]")

// dispatch relays one stdin line:
//
//	["<instrument>", {record}]
//	["page_content", ["<base64>", "<hash>"]]
//	["log", "<LEVEL>", "<message>"]
//	["control", <control message>]
func dispatch(r *relay.Relay, line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(line, &parts); err != nil || len(parts) < 2 {
		return errBadLine
	}
	var tag string
	if err := json.Unmarshal(parts[0], &tag); err != nil {
		return errBadLine
	}

	switch tag {
	case tagLog:
		if len(parts) != 3 {
			return fmt.Errorf("log line needs level and message")
		}
		var name, msg string
		if err := json.Unmarshal(parts[1], &name); err != nil {
			return err
		}
		if err := json.Unmarshal(parts[2], &msg); err != nil {
			return err
		}
		lvl, ok := model.ParseLevel(name)
		if !ok {
			return fmt.Errorf("unknown log level %q", name)
		}
		return r.Log(lvl, msg)

	case tagControl:
		r.HandleControl(visit.ParseControl(wire.Frame{Kind: wire.KindJSON, Payload: parts[1]}))
		return nil

	case model.CategoryContent:
		var pair [2]string
		if err := json.Unmarshal(parts[1], &pair); err != nil {
			return fmt.Errorf("page_content: %w", err)
		}
		content, err := base64.StdEncoding.DecodeString(pair[0])
		if err != nil {
			return fmt.Errorf("page_content: %w", err)
		}
		return r.SaveContent(content, pair[1])

	default:
		var rec model.Record
		if err := json.Unmarshal(parts[1], &rec); err != nil || rec == nil {
			return fmt.Errorf("%s: record must be an object", tag)
		}
		return r.SaveRecord(tag, rec)
	}
}
