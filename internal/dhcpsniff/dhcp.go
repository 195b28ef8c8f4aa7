// Package dhcpsniff implements the DHCP Sniffer (C4, §4.4): passive
// observation of DHCPv4 broadcast traffic to classify unknown clients by
// architecture and seed a stub Client Store record. It never originates
// DHCP traffic of its own (§9) — an external DHCP server is assumed.
package dhcpsniff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Message types of interest (option 53), per §6.1.
const (
	MsgDiscover = 1
	MsgOffer    = 2
)

var magicCookie = [4]byte{99, 130, 83, 99}

// Packet is a minimally-parsed DHCPv4 frame: only the fixed header fields
// and options this package cares about are decoded.
type Packet struct {
	Op      byte
	HType   byte
	HLen    byte
	Hops    byte
	Xid     uint32
	Secs    uint16
	Flags   uint16
	CIAddr  net.IP
	YIAddr  net.IP
	SIAddr  net.IP
	GIAddr  net.IP
	CHAddr  net.HardwareAddr
	Options Options
}

// Options maps an option number to its raw bytes.
type Options map[byte][]byte

// ParsePacket decodes a raw UDP payload into a Packet. It returns an error
// for anything shorter than a legal DHCP header or carrying a bad magic
// cookie; malformed individual options are skipped rather than failing the
// whole parse, consistent with the "drop the item, continue" parse-error
// policy used throughout this codebase.
func ParsePacket(raw []byte) (*Packet, error) {
	if len(raw) < 240 {
		return nil, fmt.Errorf("dhcp packet too short: %d bytes", len(raw))
	}
	if raw[236] != magicCookie[0] || raw[237] != magicCookie[1] || raw[238] != magicCookie[2] || raw[239] != magicCookie[3] {
		return nil, errors.New("dhcp packet: bad magic cookie")
	}

	hlen := raw[2]
	p := &Packet{
		Op:     raw[0],
		HType:  raw[1],
		HLen:   hlen,
		Hops:   raw[3],
		Xid:    binary.BigEndian.Uint32(raw[4:8]),
		Secs:   binary.BigEndian.Uint16(raw[8:10]),
		Flags:  binary.BigEndian.Uint16(raw[10:12]),
		CIAddr: net.IP(append([]byte(nil), raw[12:16]...)),
		YIAddr: net.IP(append([]byte(nil), raw[16:20]...)),
		SIAddr: net.IP(append([]byte(nil), raw[20:24]...)),
		GIAddr: net.IP(append([]byte(nil), raw[24:28]...)),
	}
	if hlen > 0 && hlen <= 16 {
		p.CHAddr = net.HardwareAddr(append([]byte(nil), raw[28:28+int(hlen)]...))
	}

	opts, err := parseOptions(raw[240:])
	if err != nil {
		return nil, err
	}
	p.Options = opts
	return p, nil
}

// parseOptions walks a DHCP option TLV stream, stopping at the End option
// (255) or the buffer boundary, whichever comes first. A truncated final
// option is dropped rather than failing the whole packet.
func parseOptions(buf []byte) (Options, error) {
	opts := make(Options)
	for i := 0; i < len(buf); {
		code := buf[i]
		if code == 0 { // Pad
			i++
			continue
		}
		if code == 255 { // End
			break
		}
		if i+1 >= len(buf) {
			break
		}
		length := int(buf[i+1])
		start := i + 2
		end := start + length
		if end > len(buf) {
			break
		}
		opts[code] = append([]byte(nil), buf[start:end]...)
		i = end
	}
	return opts, nil
}

// MessageType returns option 53's value, or 0 if absent/malformed.
func (o Options) MessageType() byte {
	v, ok := o[53]
	if !ok || len(v) != 1 {
		return 0
	}
	return v[0]
}

// String returns option code as a plain string, or "" if absent.
func (o Options) String(code byte) string {
	return string(o[code])
}

// Uint16 returns a two-byte big-endian option, and whether it was present
// and well-formed.
func (o Options) Uint16(code byte) (uint16, bool) {
	v, ok := o[code]
	if !ok || len(v) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(v), true
}
