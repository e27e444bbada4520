// Package yeelight implements the Yeelight LAN protocol: multicast discovery
// on port 1982 and newline-delimited JSON commands over TCP.
package yeelight

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultPort is the TCP control port advertised by Yeelight bulbs.
const DefaultPort = 55443

// minSmoothTransition is the shortest duration a bulb accepts for the smooth effect.
const minSmoothTransition = 30 * time.Millisecond

// Command is a single request line sent to a bulb.
type Command struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// Encode renders the command as a CRLF-terminated JSON line.
func (c Command) Encode() ([]byte, error) {
	if c.Params == nil {
		c.Params = []any{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", c.Method, err)
	}
	return append(data, '\r', '\n'), nil
}

// Response is a line received from a bulb: either a command result or a
// property notification.
type Response struct {
	ID     int            `json:"id"`
	Result []any          `json:"result,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`

	// Notification fields
	Method string         `json:"method,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// ResponseError is the error object of a rejected command.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// IsNotification reports whether the line is an unsolicited state notification.
func (r Response) IsNotification() bool {
	return r.Method != ""
}

// ParseResponse decodes one line received from a bulb.
func ParseResponse(line []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("invalid response %q: %w", line, err)
	}
	return resp, nil
}

// CommandError is reported when a bulb rejects a command.
type CommandError struct {
	Address string
	ID      int
	Method  string
	Code    int
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("yeelight %s: %s (id %d) rejected: %s (code %d)", e.Address, e.Method, e.ID, e.Message, e.Code)
}

// effect returns the effect name and duration in milliseconds for a transition.
func effect(transition time.Duration) (string, int) {
	if transition < minSmoothTransition {
		return "sudden", int(minSmoothTransition.Milliseconds())
	}
	return "smooth", int(transition.Milliseconds())
}
