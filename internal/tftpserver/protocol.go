// Package tftpserver implements the TFTP Server (C5, §4.5, §6.2): a
// read-only RFC 1350 server with blksize (RFC 2348) and timeout (RFC 2349)
// option negotiation, whose response to each Read Request depends on
// client identity, per-client configuration, and the client state machine.
// No TFTP library exists anywhere in the reference corpus, so the wire
// protocol here is hand-rolled directly on net.UDPConn, the same way the
// pack's own closest netboot analog (go.universe.tf/netboot/pixiecore)
// hand-rolls its TFTP handling on net.ListenPacket.
package tftpserver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Opcodes (RFC 1350 §5, RFC 2347 for OACK).
const (
	OpRRQ   uint16 = 1
	OpWRQ   uint16 = 2
	OpDATA  uint16 = 3
	OpACK   uint16 = 4
	OpERROR uint16 = 5
	OpOACK  uint16 = 6
)

// Error codes (RFC 1350 §5).
const (
	ErrNotDefined       uint16 = 0
	ErrFileNotFound     uint16 = 1
	ErrAccessViolation  uint16 = 2
	ErrDiskFull         uint16 = 3
	ErrIllegalOperation uint16 = 4
	ErrUnknownTID       uint16 = 5
	ErrFileExists       uint16 = 6
	ErrNoSuchUser       uint16 = 7
	ErrOptionNeg        uint16 = 8
)

// Request is a parsed RRQ/WRQ.
type Request struct {
	Opcode   uint16
	Filename string
	Mode     string
	Options  map[string]string
}

// ParseRequest decodes a whole RRQ or WRQ packet; buf starts at the
// opcode, which ParseRequest reads and checks itself.
func ParseRequest(buf []byte) (*Request, error) {
	if len(buf) < 4 {
		return nil, errors.New("tftp: request too short")
	}
	opcode := binary.BigEndian.Uint16(buf[0:2])
	if opcode != OpRRQ && opcode != OpWRQ {
		return nil, fmt.Errorf("tftp: not a request opcode: %d", opcode)
	}

	fields, err := splitNulTerminated(buf[2:])
	if err != nil {
		return nil, err
	}
	if len(fields) < 2 {
		return nil, errors.New("tftp: request missing filename/mode")
	}

	req := &Request{Opcode: opcode, Filename: fields[0], Mode: strings.ToLower(fields[1]), Options: map[string]string{}}
	for i := 2; i+1 < len(fields); i += 2 {
		req.Options[strings.ToLower(fields[i])] = fields[i+1]
	}
	return req, nil
}

func splitNulTerminated(buf []byte) ([]string, error) {
	var fields []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			fields = append(fields, string(buf[start:i]))
			start = i + 1
		}
	}
	if start != len(buf) {
		return nil, errors.New("tftp: request not nul-terminated")
	}
	return fields, nil
}

// RequestedBlockSize returns the negotiated blksize option if present and
// valid (RFC 2348 allows 8-65464), else ok=false.
func (r *Request) RequestedBlockSize() (int, bool) {
	v, present := r.Options["blksize"]
	if !present {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 8 || n > 65464 {
		return 0, false
	}
	return n, true
}

// RequestedTimeout returns the negotiated timeout option in seconds if
// present and valid (RFC 2349 allows 1-255), else ok=false.
func (r *Request) RequestedTimeout() (int, bool) {
	v, present := r.Options["timeout"]
	if !present {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 255 {
		return 0, false
	}
	return n, true
}

// BuildData encodes a DATA packet for blockNum carrying payload.
func BuildData(blockNum uint16, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], OpDATA)
	binary.BigEndian.PutUint16(buf[2:4], blockNum)
	copy(buf[4:], payload)
	return buf
}

// BuildACK encodes an ACK packet for blockNum.
func BuildACK(blockNum uint16) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], OpACK)
	binary.BigEndian.PutUint16(buf[2:4], blockNum)
	return buf
}

// BuildError encodes an ERROR packet.
func BuildError(code uint16, msg string) []byte {
	buf := make([]byte, 4+len(msg)+1)
	binary.BigEndian.PutUint16(buf[0:2], OpERROR)
	binary.BigEndian.PutUint16(buf[2:4], code)
	copy(buf[4:], msg)
	return buf
}

// BuildOACK encodes an OACK packet (RFC 2347) from an ordered set of
// accepted option name/value pairs.
func BuildOACK(opts map[string]string, order []string) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, OpOACK)
	for _, name := range order {
		val, ok := opts[name]
		if !ok {
			continue
		}
		buf = append(buf, []byte(name)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(val)...)
		buf = append(buf, 0)
	}
	return buf
}

// ParseAck extracts the block number from an ACK packet body (starting at
// the opcode).
func ParseAck(buf []byte) (uint16, error) {
	if len(buf) < 4 || binary.BigEndian.Uint16(buf[0:2]) != OpACK {
		return 0, errors.New("tftp: not an ACK packet")
	}
	return binary.BigEndian.Uint16(buf[2:4]), nil
}

// IsError reports whether buf is an ERROR packet.
func IsError(buf []byte) bool {
	return len(buf) >= 2 && binary.BigEndian.Uint16(buf[0:2]) == OpERROR
}
