// Package color styles the human-readable CLI output. Styling is off until
// Init enables it for a terminal.
package color

import (
	"os"

	"github.com/mattn/go-isatty"
)

// Enabled reports whether output is styled.
var Enabled bool

// Init enables styling when f is a terminal, NO_COLOR is unset and TERM is
// not "dumb".
func Init(f *os.File) {
	Enabled = os.Getenv("NO_COLOR") == "" &&
		os.Getenv("TERM") != "dumb" &&
		(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func seq(code, s string) string {
	if !Enabled || s == "" {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func Bold(s string) string   { return seq("1", s) }
func Dim(s string) string    { return seq("2", s) }
func Red(s string) string    { return seq("31", s) }
func Green(s string) string  { return seq("32", s) }
func Yellow(s string) string { return seq("33", s) }
func Cyan(s string) string   { return seq("36", s) }

// Op styles a plan operation name.
func Op(op string) string {
	switch op {
	case "install":
		return Green(op)
	case "update":
		return Yellow(op)
	case "remove":
		return Red(op)
	default:
		return op
	}
}

// Status styles a verification or step outcome.
func Status(ok bool, s string) string {
	if ok {
		return seq("1;32", s)
	}
	return seq("1;31", s)
}
