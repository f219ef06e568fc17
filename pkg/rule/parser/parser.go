package parser

import (
	"fmt"
	"os"

	"mercator-hq/ganymede/pkg/rule/ast"
)

// ParseError reports a rule file that could not be parsed.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

// Error returns the error message.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Parser parses YAML rule files into rule definitions.
type Parser struct {
	maxFileSize int64 // Maximum file size in bytes (default: 10MB)
}

// NewParser creates a new parser with default configuration.
func NewParser() *Parser {
	return &Parser{
		maxFileSize: 10 * 1024 * 1024, // 10MB
	}
}

// WithMaxFileSize sets the maximum file size limit.
func (p *Parser) WithMaxFileSize(size int64) *Parser {
	p.maxFileSize = size
	return p
}

// Parse parses a rule file at the given path and returns the definitions.
// It returns an error if the file cannot be read, has invalid YAML syntax,
// or contains malformed rule entries.
func (p *Parser) Parse(path string) ([]*ast.Rule, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return nil, &ParseError{
			Path:    path,
			Message: fmt.Sprintf("failed to access file: %v", err),
		}
	}

	if fileInfo.Size() > p.maxFileSize {
		return nil, &ParseError{
			Path:    path,
			Message: fmt.Sprintf("file size %d exceeds maximum %d bytes", fileInfo.Size(), p.maxFileSize),
		}
	}

	yf, err := parseYAMLFile(path)
	if err != nil {
		return nil, &ParseError{
			Path:    path,
			Line:    1,
			Message: fmt.Sprintf("YAML parsing failed: %v", err),
		}
	}

	return newBuilder(path).buildRules(yf)
}

// ParseBytes parses rule definitions from raw YAML bytes. The sourcePath is
// used only for error reporting.
func (p *Parser) ParseBytes(data []byte, sourcePath string) ([]*ast.Rule, error) {
	yf, err := parseYAMLBytes(data)
	if err != nil {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    1,
			Message: fmt.Sprintf("YAML parsing failed: %v", err),
		}
	}

	return newBuilder(sourcePath).buildRules(yf)
}
