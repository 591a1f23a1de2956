package bridge

import (
	"math"
	"os"

	"rockerboo/rust-analyzer-bridge/lsp"
	"rockerboo/rust-analyzer-bridge/security"
	"rockerboo/rust-analyzer-bridge/utils"
)

// resolveFile turns a file argument into an absolute path inside root that
// names an existing regular file.
func resolveFile(root, filePath string) (string, error) {
	if filePath == "" {
		return "", lsp.InvalidArgument("file_path is required")
	}
	path := utils.ResolveWorkspacePath(root, filePath)
	if !security.IsWithinAllowedDirectory(path, root) {
		return "", lsp.InvalidArgument("file_path %s is outside the workspace %s", filePath, root)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", lsp.InvalidArgument("file_path %s does not exist", filePath)
		}
		return "", lsp.InvalidArgument("file_path %s: %v", filePath, err)
	}
	if info.IsDir() {
		return "", lsp.InvalidArgument("file_path %s is a directory", filePath)
	}
	return path, nil
}

func safeUint32(name string, v int) (uint32, error) {
	if v < 0 {
		return 0, lsp.InvalidArgument("%s must be >= 0, got %d", name, v)
	}
	if uint64(v) > math.MaxUint32 {
		return 0, lsp.InvalidArgument("%s %d is out of range", name, v)
	}
	return uint32(v), nil
}

type position struct{ line, character uint32 }

func (p Position) validate() (position, error) {
	line, err := safeUint32("line", p.Line)
	if err != nil {
		return position{}, err
	}
	char, err := safeUint32("character", p.Character)
	if err != nil {
		return position{}, err
	}
	return position{line, char}, nil
}

type span struct{ start, end position }

func (r Range) validate() (span, error) {
	start, err := Position{Line: r.Line, Character: r.Character}.validate()
	if err != nil {
		return span{}, err
	}
	endLine, err := safeUint32("end_line", r.EndLine)
	if err != nil {
		return span{}, err
	}
	endChar, err := safeUint32("end_character", r.EndCharacter)
	if err != nil {
		return span{}, err
	}
	end := position{endLine, endChar}
	if end.line < start.line || (end.line == start.line && end.character < start.character) {
		return span{}, lsp.InvalidArgument("range end %d:%d precedes start %d:%d",
			end.line, end.character, start.line, start.character)
	}
	return span{start, end}, nil
}
