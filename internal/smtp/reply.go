package smtp

import (
	"fmt"
	"strings"
)

// EnhancedCode is an enhanced mail system status code per RFC 3463,
// formatted class.subject.detail.
type EnhancedCode struct {
	Class   int
	Subject int
	Detail  int
}

// Enhanced status codes used by the server (RFC 3463, RFC 5248).
var (
	EnhancedOK              = EnhancedCode{2, 0, 0}
	EnhancedAddressOK       = EnhancedCode{2, 1, 0}
	EnhancedDestValid       = EnhancedCode{2, 1, 5}
	EnhancedAuthOK          = EnhancedCode{2, 7, 0}
	EnhancedInvalidCommand  = EnhancedCode{5, 5, 1}
	EnhancedSyntaxError     = EnhancedCode{5, 5, 2}
	EnhancedInvalidParams   = EnhancedCode{5, 5, 4}
	EnhancedAuthRequired    = EnhancedCode{5, 7, 0}
	EnhancedAuthCredentials = EnhancedCode{5, 7, 8}
)

// String returns the code formatted as "X.Y.Z".
func (e EnhancedCode) String() string {
	return fmt.Sprintf("%d.%d.%d", e.Class, e.Subject, e.Detail)
}

// IsZero reports whether the code is unset.
func (e EnhancedCode) IsZero() bool {
	return e == EnhancedCode{}
}

// Reply is a complete SMTP reply: a three-digit code, an optional enhanced
// status code, and either a single message or a multiline block.
type Reply struct {
	Code     int
	Enhanced EnhancedCode
	Message  string

	// Lines, when set, produces a multiline reply ("250-..." continuation
	// prefixes with a final "250 " line). Message and Enhanced are ignored.
	Lines []string
}

// String formats the reply as wire text without the trailing CRLF. Multiline
// replies contain embedded CRLF separators.
func (r Reply) String() string {
	if len(r.Lines) > 0 {
		var sb strings.Builder
		for i, line := range r.Lines {
			sep := "-"
			if i == len(r.Lines)-1 {
				sep = " "
			}
			if i > 0 {
				sb.WriteString("\r\n")
			}
			fmt.Fprintf(&sb, "%d%s%s", r.Code, sep, line)
		}
		return sb.String()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d", r.Code)
	if !r.Enhanced.IsZero() {
		sb.WriteString(" ")
		sb.WriteString(r.Enhanced.String())
	}
	if r.Message != "" {
		sb.WriteString(" ")
		sb.WriteString(r.Message)
	}
	return sb.String()
}

func replyOK(message string) Reply {
	return Reply{Code: 250, Enhanced: EnhancedOK, Message: message}
}

func replySyntax(message string) Reply {
	return Reply{Code: 501, Enhanced: EnhancedInvalidParams, Message: message}
}

func replyBadSequence(message string) Reply {
	return Reply{Code: 503, Enhanced: EnhancedInvalidCommand, Message: message}
}
