package remote

import (
	"fmt"
	"net/url"
	"strings"
)

// Paths exchanged with a Provider are in URL form: each byte outside the
// encodeURI set is percent-encoded. Providers decode them for client calls
// that escape on their own and encode the names they list.

// EncodePath percent-encodes p the way ECMAScript encodeURI does: letters,
// digits and ;,/?:@&=+$-_.!~*'()# are kept, every other byte of the UTF-8
// encoding becomes %XX.
func EncodePath(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if keepURIByte(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

// DecodePath reverses EncodePath. Malformed escapes are returned unchanged.
func DecodePath(p string) string {
	d, err := url.PathUnescape(p)
	if err != nil {
		return p
	}
	return d
}

func keepURIByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte(";,/?:@&=+$-_.!~*'()#", c) >= 0
}
