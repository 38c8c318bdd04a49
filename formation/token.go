// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package formation

import "strings"

// Token is the opaque cluster join secret minted by the primary. It is read
// once over the mgmt channel after the primary is up, then threaded
// explicitly to every joining node. Write once, immutable afterwards.
type Token string

// Redacted returns a loggable form of the token.
func (t Token) Redacted() string {
	if len(t) < 12 {
		return "********"
	}

	return string(t[:4]) + "..." + string(t[len(t)-4:])
}

// String returns the redacted form so the raw secret cannot leak through
// formatting. Use an explicit string conversion to access the raw value.
func (t Token) String() string {
	return t.Redacted()
}

// ParseToken returns the token from raw node-token file content.
func ParseToken(raw []byte) (Token, bool) {
	token := Token(strings.TrimSpace(string(raw)))

	return token, token != ""
}
