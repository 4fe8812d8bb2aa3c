// Package scpi holds the fixed SCPI command-grammar reference and small
// helpers for classifying command strings. Nothing here talks to an
// instrument; the tables are documentation data printed by the syntax
// subcommand.
package scpi

import "strings"

// CommandIDN is the IEEE 488.2 identification query.
const CommandIDN = "*IDN?"

// Element is one symbol or message element in the grammar reference.
type Element struct {
	Symbol      string
	Description string
}

// BNFSymbols returns the notation legend used by instrument programming
// manuals.
func BNFSymbols() []Element {
	return []Element{
		{"<>", "Defined element"},
		{"::=", "is defined as"},
		{"|", "Exclusive OR"},
		{"{}", "Group, one element is required"},
		{"[]", "Optional, can be omitted"},
		{"...", "Previous element(s) may be repeated"},
		{"()", "Comment"},
	}
}

// CommandMessageElements returns the parts of a command message.
func CommandMessageElements() []Element {
	return []Element{
		{"<Header>", "This is the basic command name. If the header ends with a question mark, the command is a query. The header may begin with a colon (:) character. If the command is concatenated with other commands, the beginning colon is required. Never use the beginning colon with command headers beginning with a star (*)."},
		{"<Mnemonic>", "This is a header subfunction. Some command headers have only one mnemonic. If a command header has multiple mnemonics, a colon (:) character always separates them from each other."},
		{"<Argument>", "This is a quantity, quality, restriction, or limit associated with the header. Some commands have no arguments while others have multiple arguments. A <space> separates arguments from the header. A <comma> separates arguments from each other."},
		{"<Comma>", "A single comma is used between arguments of multiple-argument commands. Optionally, there may be white space characters before and after the comma."},
		{"<Space>", "A white space character is used between a command header and the related argument. Optionally, a white space may consist of multiple white space characters."},
	}
}

// CommandForm is the general shape of a set command.
const CommandForm = "[:]<Header>[<Space><Argument>[<Comma> <Argument>]...]"

// QueryForms returns the two general shapes of a query.
func QueryForms() []string {
	return []string{
		"[:]<Header>",
		"[:]<Header>[<Space><Argument> [<Comma><Argument>]...]",
	}
}

// IsQuery reports whether a command expects a response message, i.e. its
// header ends with a question mark.
func IsQuery(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	return strings.HasSuffix(fields[0], "?")
}
