// Package parser turns Python source into the typed AST the CFG
// lowering pass consumes, using tree-sitter for the heavy lifting.
package parser

import (
	"context"
	"fmt"
	"io"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/ludo-technologies/pycfg/internal/pyast"
)

// Parser provides Python code parsing capabilities using tree-sitter
type Parser struct {
	parser *sitter.Parser
}

// New creates a new Parser instance with Python grammar
func New() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Parser{parser: p}
}

// Module is a parsed compilation unit.
type Module struct {
	Body     []pyast.Stmt
	Interner *pyast.Interner
}

// Parse parses Python source code and builds the module's statement
// list.
func (p *Parser) Parse(ctx context.Context, source []byte) (*Module, error) {
	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("syntax errors found in source code")
	}

	b := newBuilder(source)
	body := b.buildStmts(root)
	if b.err != nil {
		return nil, b.err
	}
	return &Module{Body: body, Interner: b.interner}, nil
}

// ParseFile parses a Python file from a reader.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader) (*Module, error) {
	source, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	return p.Parse(ctx, source)
}
