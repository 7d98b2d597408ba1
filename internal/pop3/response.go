package pop3

import "strings"

// Response is one POP3 reply to a command.
type Response struct {
	// OK selects the +OK or -ERR status indicator.
	OK bool

	// Message is the status line text, without the indicator.
	Message string

	// Lines is the multi-line payload, sent after the status line and
	// terminated by ".". Lines beginning with "." are byte-stuffed on output.
	Lines []string

	// Multiline forces the "." terminator even when Lines is empty. RETR of
	// an empty message still ends with the terminator.
	Multiline bool
}

// WireLines renders the response as protocol lines, without terminators.
func (r Response) WireLines() []string {
	status := "-ERR"
	if r.OK {
		status = "+OK"
	}
	if r.Message != "" {
		status += " " + r.Message
	}

	out := []string{status}
	if !r.OK || (!r.Multiline && len(r.Lines) == 0) {
		return out
	}
	for _, line := range r.Lines {
		if strings.HasPrefix(line, ".") {
			line = "." + line
		}
		out = append(out, line)
	}
	return append(out, ".")
}

func ok(message string) Response {
	return Response{OK: true, Message: message}
}

func errResponse(message string) Response {
	return Response{Message: message}
}
