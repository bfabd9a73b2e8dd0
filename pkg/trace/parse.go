package trace

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Regex definitions for parsing standard Go panic output.
var (
	// Matches the first line of a panic or a fatal runtime error.
	panicMessageRegex = regexp.MustCompile(`^(panic|fatal error): (.*?)(?: \[recovered\])?$`)
	// Matches a printed non-error panic value: "(main.T) 0xc000012345".
	typedValueRegex = regexp.MustCompile(`^\(([^)\s]+)\) `)
	// Matches the function signature line in the stack trace.
	functionRegex = regexp.MustCompile(`^([a-zA-Z0-9_\-./\(\)\*\[\]]+)\((.*)\)$`)
	// Matches the file path and line number line.
	locationRegex = regexp.MustCompile(`^\s+(.*\.go):(\d+)(?: .*)?$`)
)

// Parser reads Go panic dumps, such as the text a crashed process writes to stderr.
type Parser struct{}

// NewParser creates a new dump parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile reads a panic dump file and builds an Exception from it.
func (p *Parser) ParseFile(logPath string) (Exception, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return Exception{}, fmt.Errorf("failed to open panic log file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return Exception{}, fmt.Errorf("failed to read panic log file: %w", err)
	}

	return p.Parse(lines)
}

// ParseString is Parse for a dump held in a single string.
func (p *Parser) ParseString(dump string) (Exception, error) {
	return p.Parse(strings.Split(strings.ReplaceAll(dump, "\r\n", "\n"), "\n"))
}

// Parse interprets the lines of a panic dump. Only the first goroutine block, the one
// that panicked, contributes frames.
func (p *Parser) Parse(lines []string) (Exception, error) {
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start == len(lines) {
		return Exception{}, fmt.Errorf("panic log is empty")
	}
	lines = lines[start:]

	exc := Exception{Stack: strings.TrimRight(strings.Join(lines, "\n"), "\n")}
	message := strings.TrimSpace(lines[0])
	if m := panicMessageRegex.FindStringSubmatch(message); m != nil {
		message = m[2]
		exc.Kind = kindFromDump(m[1], message)
	} else {
		exc.Kind = "panic"
	}
	exc.Value = message

	var innermostFirst []Frame
	inGoroutine := false
	for i := 1; i < len(lines); i++ {
		line := lines[i]

		if strings.HasPrefix(line, "goroutine ") {
			if inGoroutine {
				break
			}
			inGoroutine = true
			continue
		}
		if !inGoroutine {
			continue
		}
		if strings.TrimSpace(line) == "" {
			if len(innermostFirst) > 0 {
				break
			}
			continue
		}

		m := functionRegex.FindStringSubmatch(line)
		if m == nil || i+1 >= len(lines) {
			continue
		}
		loc := locationRegex.FindStringSubmatch(lines[i+1])
		if loc == nil {
			continue
		}
		lineNumber, _ := strconv.Atoi(loc[2])
		frame := Frame{File: loc[1], Function: m[1], Line: lineNumber}
		if args := strings.TrimSpace(m[2]); args != "" {
			frame.Locals = map[string]string{"args": args}
		}
		innermostFirst = append(innermostFirst, frame)
		i++
	}

	if len(innermostFirst) == 0 {
		return Exception{}, fmt.Errorf("could not find any stack frames in panic log")
	}

	exc.Frames = outermostFirst(trimRecoveryPath(innermostFirst))
	return exc, nil
}

func kindFromDump(prefix, message string) string {
	if prefix == "fatal error" {
		return "fatal error"
	}
	if strings.HasPrefix(message, "runtime error:") {
		return "runtime.Error"
	}
	if m := typedValueRegex.FindStringSubmatch(message); m != nil {
		return strings.TrimLeft(m[1], "*")
	}
	return "panic"
}
