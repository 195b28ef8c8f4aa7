package tftpserver

import (
	"net"
	"strings"
)

// ReverseLookupHostname resolves ip to a hostname via the system resolver
// (§4.5 "update ip and hostname on record"), mirroring the original's
// socket.gethostbyaddr. Trailing dots from PTR records are stripped.
func ReverseLookupHostname(ip string) (string, error) {
	names, err := net.LookupAddr(ip)
	if err != nil || len(names) == 0 {
		if err == nil {
			err = errNoPTRRecord
		}
		return "", err
	}
	return strings.TrimSuffix(names[0], "."), nil
}

var errNoPTRRecord = &net.DNSError{Err: "no PTR record", Name: "", IsNotFound: true}
