package jobstream

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
)

// Parser incrementally decodes the SSE wire format into Events. Frames may
// arrive split across arbitrary network reads; the parser buffers partial
// input and only emits an event once the terminating blank line of a frame
// has been seen. A frame whose payload is not valid JSON is dropped (and
// logged) without disturbing the rest of the stream.
type Parser struct {
	buf   []byte // unconsumed bytes of a partial line
	event string // event name of the frame being assembled
	data  []byte // accumulated data lines of the frame being assembled
}

// NewParser creates a parser with empty state
func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes the next chunk of raw stream bytes and returns all events
// completed by it, in arrival order.
func (p *Parser) Feed(chunk []byte) []Event {
	p.buf = append(p.buf, chunk...)

	var events []Event
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(p.buf[:idx])
		p.buf = p.buf[idx+1:]

		// Tolerate CRLF line endings
		line = strings.TrimSuffix(line, "\r")

		if ev := p.consumeLine(line); ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}

// consumeLine processes one complete line and returns a decoded event when
// the line terminates a frame.
func (p *Parser) consumeLine(line string) *Event {
	if line == "" {
		// Blank line dispatches the assembled frame
		return p.dispatch()
	}

	// Comment lines (heartbeats) are ignored
	if strings.HasPrefix(line, ":") {
		return nil
	}

	field, value := splitField(line)
	switch field {
	case "event":
		p.event = value
	case "data":
		if len(p.data) > 0 {
			p.data = append(p.data, '\n')
		}
		p.data = append(p.data, value...)
	default:
		// id, retry and unknown fields carry nothing we use
	}
	return nil
}

// dispatch decodes the assembled frame and resets per-frame state
func (p *Parser) dispatch() *Event {
	name, data := p.event, p.data
	p.event = ""
	p.data = nil

	if len(data) == 0 {
		return nil
	}

	switch name {
	case EventJobProgress, EventDone:
	default:
		// Heartbeats and foreign event types are not part of the job protocol
		return nil
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		// One bad frame must never terminate the stream
		log.Printf("jobstream: dropping malformed %s frame: %v", name, err)
		return nil
	}

	return &Event{Kind: name, Payload: payload}
}

// splitField separates an SSE "field: value" line. The space after the
// colon is optional on the wire.
func splitField(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	if strings.HasPrefix(value, " ") {
		value = value[1:]
	}
	return field, value
}
