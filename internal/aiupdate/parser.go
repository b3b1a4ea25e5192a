// Package aiupdate implements the AI Update Service (spec §4.6): applies
// agent-produced file mutations to a workspace. The `FILE:` block parser
// is new; the atomic per-file write and the escape-path validation reuse
// the teacher's pathWithin idiom (internal/adapters/cli/base.go) and
// google/renameio/v2 write idiom directly.
package aiupdate

import (
	"bufio"
	"strings"
)

// FileBlock is one parsed `FILE: <relpath>` section with its fenced
// content body.
type FileBlock struct {
	Path    string
	Content string
}

// ParseFileBlocks parses an agent reply formatted as a sequence of
// `FILE: <relpath>` lines each followed by a fenced content block (spec
// §4.6). Unrecognized text between blocks is ignored. A fence may be
// ``` or ```<lang>; it is matched to the next bare ``` line.
func ParseFileBlocks(reply string) []FileBlock {
	var blocks []FileBlock
	scanner := bufio.NewScanner(strings.NewReader(reply))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var current *FileBlock
	inFence := false
	var body strings.Builder

	flush := func() {
		if current != nil {
			current.Content = strings.TrimSuffix(body.String(), "\n")
			blocks = append(blocks, *current)
		}
		current = nil
		body.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if !inFence {
			if name, ok := parseFileHeader(trimmed); ok {
				flush()
				current = &FileBlock{Path: name}
				continue
			}
			if strings.HasPrefix(trimmed, "```") && current != nil {
				inFence = true
				body.Reset()
				continue
			}
			continue
		}

		if trimmed == "```" {
			inFence = false
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return blocks
}

func parseFileHeader(line string) (string, bool) {
	const prefix = "FILE:"
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if name == "" {
		return "", false
	}
	return name, true
}
