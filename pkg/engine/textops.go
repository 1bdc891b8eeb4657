package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/rule"
)

var ErrUnbalancedMarkers = errors.New("unbalanced markers")

// stripBlocks removes every contiguous region between the start and end
// markers, inclusive, one region per start/end occurrence. On unbalanced
// markers it returns an error and the caller must leave the file untouched
// for the rule.
func stripBlocks(content string, m *rule.MarkerPair) (string, int, error) {
	lines := strings.Split(content, "\n")
	kept := make([]string, 0, len(lines))

	var (
		blocks    int
		inBlock   bool
		startLine int
	)

	for i, line := range lines {
		switch {
		case strings.Contains(line, m.Start):
			if inBlock {
				return "", 0, fmt.Errorf("%w: start marker on line %d before end of block opened on line %d",
					ErrUnbalancedMarkers, i+1, startLine+1)
			}

			inBlock = true
			startLine = i

		case strings.Contains(line, m.End):
			if !inBlock {
				return "", 0, fmt.Errorf("%w: end marker on line %d without a matching start",
					ErrUnbalancedMarkers, i+1)
			}

			inBlock = false
			blocks++

		case !inBlock:
			kept = append(kept, line)
		}
	}

	if inBlock {
		return "", 0, fmt.Errorf("%w: start marker on line %d without a matching end before end of file",
			ErrUnbalancedMarkers, startLine+1)
	}

	return strings.Join(kept, "\n"), blocks, nil
}

// stripLines removes every line containing the tag token. Tags do not
// require pairing.
func stripLines(content, tag string) (string, int) {
	lines := strings.Split(content, "\n")
	kept := lines[:0]

	removed := 0
	for _, line := range lines {
		if strings.Contains(line, tag) {
			removed++

			continue
		}

		kept = append(kept, line)
	}

	return strings.Join(kept, "\n"), removed
}

// isWhitespaceOnly reports whether content contains only whitespace bytes.
func isWhitespaceOnly(content []byte) bool {
	return len(strings.TrimSpace(string(content))) == 0
}
