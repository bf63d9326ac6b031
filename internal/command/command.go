// Package command implements the newline-delimited JSON frame used on the
// wire between the supervisor and a sandboxed child process.
package command

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Command is one JSON object frame. It behaves like the dict-shaped message
// the wire protocol actually is: three well-known fields (Cmd, CmdID, Reply)
// plus arbitrary payload fields, round-tripped without a fixed schema.
type Command map[string]interface{}

// Well-known field names.
const (
	FieldCmd   = "cmd"
	FieldCmdID = "cmd_id"
	FieldReply = "reply"
)

// New builds a Command, defaulting cmd, cmd_id and reply the way the wire
// protocol requires, then applying fields on top.
func New(cmd string, fields map[string]interface{}) Command {
	c := Command{}
	for k, v := range fields {
		c[k] = v
	}
	if cmd != "" {
		c[FieldCmd] = cmd
	}
	c.applyDefaults()
	return c
}

// Reply builds a reply Command for an incoming request: same cmd and cmd_id,
// reply set to true, with the given extra fields.
func Reply(req Command, fields map[string]interface{}) Command {
	r := Command{
		FieldCmd:   req.Cmd(),
		FieldCmdID: req.CmdID(),
		FieldReply: true,
	}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

// FailureReply builds the synthetic failure reply sent when a resource
// handler panics or returns an error: {success: false, reason: <msg>}.
func FailureReply(cmdID string, reason string) Command {
	return Command{
		FieldCmdID: cmdID,
		FieldReply: true,
		"success":  false,
		"reason":   reason,
	}
}

func (c Command) applyDefaults() {
	if _, ok := c[FieldCmd]; !ok {
		c[FieldCmd] = "unknown"
	}
	if _, ok := c[FieldCmdID]; !ok {
		c[FieldCmdID] = GenerateID()
	}
	if _, ok := c[FieldReply]; !ok {
		c[FieldReply] = false
	}
}

// Cmd returns the dotted or bare command name.
func (c Command) Cmd() string {
	s, _ := c[FieldCmd].(string)
	return s
}

// SetCmd overwrites the command name, used to restore the full dotted name
// before a reply is sent back to the child.
func (c Command) SetCmd(name string) {
	c[FieldCmd] = name
}

// CmdID returns the correlation id.
func (c Command) CmdID() string {
	s, _ := c[FieldCmdID].(string)
	return s
}

// IsReply reports whether the reply flag is set.
func (c Command) IsReply() bool {
	b, _ := c[FieldReply].(bool)
	return b
}

// Get returns a payload field, or nil if absent.
func (c Command) Get(key string) interface{} {
	return c[key]
}

// GetString returns a payload field as a string, or def if absent/wrong type.
func (c Command) GetString(key, def string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// GetBool returns a payload field as a bool, or def if absent/wrong type.
func (c Command) GetBool(key string, def bool) bool {
	if v, ok := c[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Split divides a command name on the first '.' into (resource, operation).
// An undotted name yields an empty resource name, routing to the fallback
// resource.
func Split(name string) (resource, operation string) {
	idx := strings.IndexByte(name, '.')
	if idx < 0 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}

// Joined reassembles a dotted command name from its parts, preserving the
// undotted form when resource is empty.
func Joined(resource, operation string) string {
	if resource == "" {
		return operation
	}
	return resource + "." + operation
}

// ParseLine parses one wire line into a Command. A malformed line never
// returns an error to the caller: it yields a well-formed "unknown" command
// carrying the raw line and the parse failure, so the fallback resource can
// log it and kill the child (spec §4.A, §7 "Protocol malformed").
func ParseLine(line string) Command {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Command{
			FieldCmd:   "unknown",
			FieldCmdID: GenerateID(),
			FieldReply: false,
			"line":     line,
			"exception": err.Error(),
		}
	}
	c := Command(raw)
	c.applyDefaults()
	return c
}

// ToJSONLine serializes the command to a single JSON line terminated by \n,
// ready to write to the child's stdin.
func (c Command) ToJSONLine() ([]byte, error) {
	b, err := json.Marshal(map[string]interface{}(c))
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// GenerateID returns a fresh 128-bit random hex correlation id.
func GenerateID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is not recoverable; a zeroed id is still
		// unique enough to not collide catastrophically and callers never
		// treat id generation as fallible.
		return hex.EncodeToString(buf[:])
	}
	return hex.EncodeToString(buf[:])
}
