package visit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/extrelay/internal/wire"
)

// Action classifies a control message.
type Action int

const (
	ActionInitialize Action = iota + 1
	ActionFinalize
	// ActionLegacy is a bare visit id from older controllers.
	ActionLegacy
	// ActionInvalid is a legacy payload that did not parse as an integer.
	ActionInvalid
)

// Tags recognised in the "action" field.
const (
	TagInitialize = "Initialize"
	TagFinalize   = "Finalize"
)

// Fields added to forwarded meta records.
const (
	FieldAction    = "action"
	FieldVisitID   = "visit_id"
	FieldBrowserID = "browser_id"
	FieldSuccess   = "success"
)

func (a Action) String() string {
	switch a {
	case ActionInitialize:
		return TagInitialize
	case ActionFinalize:
		return TagFinalize
	case ActionLegacy:
		return "Legacy"
	case ActionInvalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// ControlMessage is a parsed control frame.
type ControlMessage struct {
	Action Action
	// VisitID is meaningful only when HasVisitID is set.
	VisitID    int64
	HasVisitID bool
	// Reason explains an ActionInvalid message.
	Reason string

	raw []byte // original object for tagged messages
}

var (
	parserPool fastjson.ParserPool
	arenaPool  fastjson.ArenaPool
)

// Initialize builds a tagged Initialize message, as a controller sends it.
func Initialize(visitID int64) ControlMessage {
	return tagged(ActionInitialize, visitID)
}

// Finalize builds a tagged Finalize message.
func Finalize(visitID int64) ControlMessage {
	return tagged(ActionFinalize, visitID)
}

// Legacy builds a bare visit id message.
func Legacy(visitID int64) ControlMessage {
	return ControlMessage{Action: ActionLegacy, VisitID: visitID, HasVisitID: true}
}

func tagged(a Action, visitID int64) ControlMessage {
	raw, _ := json.Marshal(map[string]any{FieldAction: a.String(), FieldVisitID: visitID})
	return ControlMessage{Action: a, VisitID: visitID, HasVisitID: true, raw: raw}
}

// Raw returns the original JSON object of a tagged message.
func (m ControlMessage) Raw() []byte {
	return m.raw
}

// ParseControl classifies a frame received on the listening socket.
// Objects tagged Initialize or Finalize keep their fields; every other
// payload is read as a bare integer.
func ParseControl(f wire.Frame) ControlMessage {
	if f.Kind != wire.KindJSON {
		return parseLegacy(string(f.Payload))
	}

	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(f.Payload)
	if err != nil {
		return ControlMessage{Action: ActionInvalid, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	switch v.Type() {
	case fastjson.TypeObject:
		var action Action
		switch string(v.GetStringBytes(FieldAction)) {
		case TagInitialize:
			action = ActionInitialize
		case TagFinalize:
			action = ActionFinalize
		default:
			return ControlMessage{Action: ActionInvalid, Reason: "object without a recognised action"}
		}
		msg := ControlMessage{Action: action, raw: bytes.Clone(f.Payload)}
		msg.VisitID, msg.HasVisitID = visitIDOf(v.Get(FieldVisitID))
		return msg
	case fastjson.TypeNumber:
		return parseLegacy(v.String())
	case fastjson.TypeString:
		return parseLegacy(string(v.GetStringBytes()))
	default:
		return ControlMessage{Action: ActionInvalid, Reason: fmt.Sprintf("unexpected %s payload", v.Type())}
	}
}

// visitIDOf accepts integers, integral floats such as 7.0 and strings
// holding a whole decimal integer.
func visitIDOf(v *fastjson.Value) (int64, bool) {
	if v == nil {
		return 0, false
	}
	switch v.Type() {
	case fastjson.TypeNumber:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case fastjson.TypeString:
		n, err := strconv.ParseInt(strings.TrimSpace(string(v.GetStringBytes())), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func parseLegacy(s string) ControlMessage {
	n, ok := parseIntPrefix(s)
	if !ok {
		return ControlMessage{Action: ActionInvalid, Reason: fmt.Sprintf("%q is not an integer", s)}
	}
	return Legacy(n)
}

// parseIntPrefix reads an optionally signed run of decimal digits after
// leading whitespace and ignores whatever follows it.
func parseIntPrefix(s string) (int64, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// annotate adds the crawl id (and success flag) to a tagged message
// without dropping any of the caller's fields.
func annotate(m ControlMessage, browserID int64, success bool) (json.RawMessage, error) {
	raw := m.raw
	if raw == nil {
		raw = []byte("{}")
	}

	p := parserPool.Get()
	defer parserPool.Put(p)
	v, err := p.ParseBytes(raw)
	if err != nil {
		return nil, err
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("control message is a %s, not an object", v.Type())
	}

	a := arenaPool.Get()
	defer arenaPool.Put(a)

	v.Set(FieldBrowserID, a.NewNumberString(strconv.FormatInt(browserID, 10)))
	if success {
		v.Set(FieldSuccess, a.NewTrue())
	}
	return v.MarshalTo(nil), nil
}
