package ftpsession

import (
	"slices"
	"strings"
)

// Command is a single control-channel request.
type Command struct {
	// Verb is the FTP command (e.g., "MKD").
	Verb string

	// Arg is the command argument, empty for none.
	Arg string

	// Expect lists the reply codes that count as the intended outcome.
	// An empty list accepts any non-failure reply.
	Expect []int
}

// NewCommand returns a command with the given verb, argument and expected codes.
func NewCommand(verb, arg string, expect ...int) Command {
	return Command{Verb: strings.ToUpper(verb), Arg: arg, Expect: expect}
}

// Line renders the command as sent on the wire, without the CRLF.
func (c Command) Line() string {
	if c.Arg == "" {
		return c.Verb
	}
	return c.Verb + " " + c.Arg
}

// String renders the command for logs, hiding passwords.
func (c Command) String() string {
	if c.Verb == "PASS" || c.Verb == "ACCT" {
		return c.Verb + " ****"
	}
	return c.Line()
}

// Expects reports whether code is one of the expected codes.
func (c Command) Expects(code int) bool {
	if len(c.Expect) == 0 {
		return !ClassOf(code).IsFailure()
	}
	return slices.Contains(c.Expect, code)
}
