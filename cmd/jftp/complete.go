package main

import (
	"strings"

	"github.com/c-bata/go-prompt"
)

// complete suggests command names for the first word and, for commands
// taking a remote path, the names seen in the last listing.
func (sh *shell) complete(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	word := d.GetWordBeforeCursor()
	fields := strings.Fields(before)

	if len(fields) == 0 || (len(fields) == 1 && word != "") {
		suggestions := make([]prompt.Suggest, 0, len(sh.commands))
		for _, c := range sh.commands {
			suggestions = append(suggestions, prompt.Suggest{Text: c.name, Description: c.help})
		}
		return prompt.FilterHasPrefix(suggestions, word, true)
	}

	c := sh.lookup(fields[0])
	if c == nil || !c.remote {
		return nil
	}
	suggestions := make([]prompt.Suggest, 0, len(sh.names))
	for _, name := range sh.names {
		suggestions = append(suggestions, prompt.Suggest{Text: name})
	}
	return prompt.FilterHasPrefix(suggestions, word, false)
}
