package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/lipgloss"
)

// usageErrorPrefixes identifies cobra argument/flag errors, which get a
// --help hint instead of a bare failure.
//
// See: https://github.com/spf13/cobra/pull/2266
var usageErrorPrefixes = []string{
	"flag needs an argument:",
	"unknown flag:",
	"unknown shorthand flag:",
	"unknown command",
	"invalid argument",
	"accepts at most",
}

// ErrorHandler renders run failures through fang's styles.
func ErrorHandler(w io.Writer, styles fang.Styles, err error) {
	mustN(fmt.Fprintln(w, styles.ErrorHeader.String()))
	mustN(fmt.Fprintln(w, lipgloss.NewStyle().MarginLeft(2).Render(err.Error()))) //nolint:mnd
	mustN(fmt.Fprintln(w))

	if !isUsageError(err) {
		return
	}

	mustN(fmt.Fprintln(w, lipgloss.JoinHorizontal(
		lipgloss.Left,
		styles.ErrorText.UnsetWidth().Render("Try"),
		styles.Program.Flag.Render("--help"),
		styles.ErrorText.UnsetWidth().UnsetMargins().UnsetTransform().PaddingLeft(1).Render("for usage."),
	)))
	mustN(fmt.Fprintln(w))
}

func isUsageError(err error) bool {
	msg := err.Error()

	for _, prefix := range usageErrorPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}

	return false
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func mustN(_ int, err error) {
	must(err)
}
