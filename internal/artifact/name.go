package artifact

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// TokenLayout renders the shared version token. It is fixed width and
	// most-significant first, so lexical order equals chronological order.
	TokenLayout   = "2006-01-02_15-04"
	DefaultPrefix = "summary"
	// MaxSequence bounds same-minute runs.
	MaxSequence = 99
)

func Token(t time.Time) string { return t.Format(TokenLayout) }

// Name is a parsed artifact file name: <prefix>_<token>[_<seq>].<ext>.
type Name struct {
	Prefix string
	Token  string
	Seq    int
	Format Format
}

// Version is the token plus the optional two-digit sequence. All members
// of one artifact set share it.
func (n Name) Version() string {
	if n.Seq <= 0 {
		return n.Token
	}
	return fmt.Sprintf("%s_%02d", n.Token, n.Seq)
}

func (n Name) String() string {
	return n.Prefix + "_" + n.Version() + "." + n.Format.Ext()
}

// Time parses the token back to a minute-precision timestamp.
func (n Name) Time(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(TokenLayout, n.Token, loc)
}

// ParseName reports whether name follows the artifact naming contract.
// Temp files, foreign names and unknown extensions do not.
func ParseName(name string) (Name, bool) {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 {
		return Name{}, false
	}
	format := Format(name[dot+1:])
	if !format.valid() {
		return Name{}, false
	}
	base := name[:dot]
	tl := len(TokenLayout)

	seq := 0
	if n := len(base); n > 3 && base[n-3] == '_' && isDigits(base[n-2:]) {
		if v, err := strconv.Atoi(base[n-2:]); err == nil && v >= 1 {
			seq = v
			base = base[:n-3]
		}
	}
	n := len(base)
	if n < tl+2 || base[n-tl-1] != '_' {
		return Name{}, false
	}
	token := base[n-tl:]
	if !validToken(token) {
		return Name{}, false
	}
	prefix := base[:n-tl-1]
	if prefix == "" || strings.HasPrefix(prefix, ".") {
		return Name{}, false
	}
	return Name{Prefix: prefix, Token: token, Seq: seq, Format: format}, true
}

func validToken(token string) bool {
	t, err := time.Parse(TokenLayout, token)
	if err != nil {
		return false
	}
	return t.Format(TokenLayout) == token
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
