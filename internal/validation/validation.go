// Package validation checks user-supplied input for visit requests and the
// approved-IP set before anything reaches storage.
//
// The IP literal check is syntactic only: an IPv4 address is four groups of
// one to three digits, so "999.1.1.1" passes. Operators occasionally see odd
// addresses from upstream proxies and a rejected request cannot be corrected
// by the visitor, so the pattern stays lenient.
package validation

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxNameLength bounds the requester name stored with a visit request.
const MaxNameLength = 200

// Field names used in validation errors. They match the JSON request keys.
const (
	FieldName      = "name"
	FieldIPAddress = "ipAddress"
	FieldAddress   = "address"
)

// Messages returned for visit request validation failures.
const (
	MsgNameRequired = "name is required"
	MsgNameTooLong  = "name is too long"
	MsgIPRequired   = "IP address is required"
	MsgIPInvalid    = "invalid IP address format"
)

var (
	ipv4Pattern = regexp.MustCompile(`^(?:[0-9]{1,3}\.){3}[0-9]{1,3}$`)

	ipv6Pattern = regexp.MustCompile(`^(?:` +
		`(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}|` +
		`(?:[0-9a-fA-F]{1,4}:){1,7}:|` +
		`(?:[0-9a-fA-F]{1,4}:){1,6}:[0-9a-fA-F]{1,4}|` +
		`(?:[0-9a-fA-F]{1,4}:){1,5}(?::[0-9a-fA-F]{1,4}){1,2}|` +
		`(?:[0-9a-fA-F]{1,4}:){1,4}(?::[0-9a-fA-F]{1,4}){1,3}|` +
		`(?:[0-9a-fA-F]{1,4}:){1,3}(?::[0-9a-fA-F]{1,4}){1,4}|` +
		`(?:[0-9a-fA-F]{1,4}:){1,2}(?::[0-9a-fA-F]{1,4}){1,5}|` +
		`[0-9a-fA-F]{1,4}:(?::[0-9a-fA-F]{1,4}){1,6}|` +
		`:(?:(?::[0-9a-fA-F]{1,4}){1,7}|:)` +
		`)$`)
)

// IsIPv4Literal reports whether s looks like a dotted-quad IPv4 address.
// Octet ranges are not checked.
func IsIPv4Literal(s string) bool {
	return ipv4Pattern.MatchString(s)
}

// IsIPv6Literal reports whether s is a full or "::"-compressed IPv6 address.
func IsIPv6Literal(s string) bool {
	return ipv6Pattern.MatchString(s)
}

// ValidateIPLiteral validates the syntax of an IPv4 or IPv6 address.
func ValidateIPLiteral(ip string) error {
	if ip == "" {
		return fmt.Errorf("IP address must not be empty")
	}
	if IsIPv4Literal(ip) || IsIPv6Literal(ip) {
		return nil
	}
	return fmt.Errorf("must be an IPv4 or IPv6 address")
}

// ValidateVisitorName validates the requester name of a visit request.
// The name is expected to be trimmed already.
func ValidateVisitorName(name string) error {
	if name == "" {
		return fmt.Errorf("%s", MsgNameRequired)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%s", MsgNameTooLong)
	}
	return nil
}

// ValidateVisitRequest checks a visit request in order: name, IP presence,
// IP format. It trims both values and returns them with the first failure.
func ValidateVisitRequest(name, ip string) (string, string, *ValidationError) {
	name = strings.TrimSpace(name)
	ip = strings.TrimSpace(ip)

	if err := ValidateVisitorName(name); err != nil {
		return name, ip, NewValidationError(FieldName, name, err.Error())
	}
	if ip == "" {
		return name, ip, NewValidationError(FieldIPAddress, ip, MsgIPRequired)
	}
	if err := ValidateIPLiteral(ip); err != nil {
		return name, ip, NewValidationError(FieldIPAddress, ip, MsgIPInvalid)
	}
	return name, ip, nil
}

// ValidateApprovedAddress validates an address an administrator adds to the
// approved set directly.
func ValidateApprovedAddress(addr string) *ValidationError {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return NewValidationError(FieldAddress, addr, MsgIPRequired)
	}
	if err := ValidateIPLiteral(addr); err != nil {
		return NewValidationError(FieldAddress, addr, MsgIPInvalid)
	}
	return nil
}

// ValidateProxyEntry validates a trusted proxy entry: an IP address or a CIDR.
// Unlike visitor input this uses the strict parser, since a typo here widens
// the set of peers whose forwarding headers are believed.
func ValidateProxyEntry(entry string) error {
	if entry == "" {
		return fmt.Errorf("entry must not be empty")
	}
	if ip := net.ParseIP(entry); ip != nil {
		return nil
	}
	if _, _, err := net.ParseCIDR(entry); err == nil {
		return nil
	}
	return fmt.Errorf("%q must be a valid IP address or CIDR", entry)
}
