package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/ludo-technologies/pycfg/internal/cfg"
	"github.com/ludo-technologies/pycfg/internal/config"
	"github.com/ludo-technologies/pycfg/internal/fileset"
	"github.com/ludo-technologies/pycfg/internal/parser"
	"github.com/ludo-technologies/pycfg/internal/pyast"
)

// cfgOptions are the flag overrides for the cfg command.
type cfgOptions struct {
	format     string
	checkNames bool
	recursive  bool
	include    []string
	exclude    []string
}

// NewCFGCmd creates the "cfg" command: parse, lower, and dump.
func NewCFGCmd() *cobra.Command {
	opts := &cfgOptions{}

	cmd := &cobra.Command{
		Use:   "cfg [files or directories]",
		Short: "Lower Python files and dump their control-flow graphs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCFG(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format: text, dot, or yaml")
	cmd.Flags().BoolVar(&opts.checkNames, "check-names", false, "Audit generated temporaries for collisions")
	cmd.Flags().BoolVarP(&opts.recursive, "recursive", "r", true, "Recurse into directories")
	cmd.Flags().StringSliceVar(&opts.include, "include", nil, "Include patterns (doublestar globs)")
	cmd.Flags().StringSliceVar(&opts.exclude, "exclude", nil, "Exclude patterns (doublestar globs)")

	return cmd
}

func runCFG(cmd *cobra.Command, args []string, opts *cfgOptions) error {
	conf, err := config.Load(".")
	if err != nil {
		return err
	}
	applyFlags(cmd, conf, opts)

	files, err := fileset.Collect(args, conf.Files.Recursive, conf.Files.IncludePatterns, conf.Files.ExcludePatterns)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no Python files found in %s", strings.Join(args, ", "))
	}

	var bar *progressbar.ProgressBar
	if len(files) > 1 && term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("lowering"),
			progressbar.OptionClearOnFinish(),
		)
	}

	p := parser.New()
	failed := 0
	for _, file := range files {
		if err := lowerFile(cmd, p, file, conf); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", file, err)
			failed++
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func applyFlags(cmd *cobra.Command, conf *config.Config, opts *cfgOptions) {
	if opts.format != "" {
		conf.Output.Format = opts.format
	}
	if opts.checkNames {
		conf.Lowering.CheckNames = true
	}
	if cmd.Flags().Changed("recursive") {
		conf.Files.Recursive = opts.recursive
	}
	if len(opts.include) > 0 {
		conf.Files.IncludePatterns = opts.include
	}
	if len(opts.exclude) > 0 {
		conf.Files.ExcludePatterns = opts.exclude
	}
}

func lowerFile(cmd *cobra.Command, p *parser.Parser, path string, conf *config.Config) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	mod, err := p.Parse(context.Background(), source)
	if err != nil {
		return err
	}

	moduleName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	src := &cfg.SourceInfo{
		RootKind:        cfg.RootModule,
		Interner:        mod.Interner,
		ModuleName:      moduleName,
		Future:          futureFlags(mod.Body),
		DebugCheckNames: conf.Lowering.CheckNames,
	}

	graph, err := cfg.ComputeCFG(src, mod.Body)
	if err != nil {
		return err
	}

	if !conf.Output.ShowLabels {
		for _, blk := range graph.Blocks {
			blk.Label = ""
		}
	}

	out := cmd.OutOrStdout()
	switch conf.Output.Format {
	case "", "text":
		fmt.Fprintf(out, "== %s\n%s", path, graph.Dump())
	case "dot":
		fmt.Fprint(out, dotGraph(moduleName, graph))
	case "yaml":
		doc, err := yamlGraph(path, graph)
		if err != nil {
			return err
		}
		fmt.Fprint(out, doc)
	default:
		return fmt.Errorf("unknown output format %q", conf.Output.Format)
	}
	return nil
}

// futureFlags extracts the __future__ flags the lowering consults from
// the module's top-level "from __future__ import" statements.
func futureFlags(body []pyast.Stmt) cfg.FutureFlags {
	var flags cfg.FutureFlags
	for _, stmt := range body {
		imp, ok := stmt.(*pyast.ImportFrom)
		if !ok || imp.Module != "__future__" {
			continue
		}
		for _, alias := range imp.Names {
			if alias.Name == "absolute_import" {
				flags |= cfg.FutureAbsoluteImport
			}
		}
	}
	return flags
}

// dotGraph renders the graph in Graphviz dot form.
func dotGraph(name string, graph *cfg.CFG) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", name)
	b.WriteString("  node [shape=box fontname=\"monospace\"];\n")
	for _, blk := range graph.Blocks {
		var label strings.Builder
		fmt.Fprintf(&label, "%d", blk.Index)
		if blk.Label != "" {
			fmt.Fprintf(&label, " (%s)", blk.Label)
		}
		for _, stmt := range blk.Body {
			label.WriteString("\\l" + escapeDot(cfg.StmtString(stmt)))
		}
		label.WriteString("\\l")
		fmt.Fprintf(&b, "  b%d [label=\"%s\"];\n", blk.Index, label.String())
		for _, succ := range blk.Succs {
			fmt.Fprintf(&b, "  b%d -> b%d;\n", blk.Index, succ.Index)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

func escapeDot(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "\"", "\\\"")
}

// yamlBlock is the YAML summary of one block.
type yamlBlock struct {
	Index      int      `yaml:"index"`
	Label      string   `yaml:"label,omitempty"`
	Statements []string `yaml:"statements"`
	Successors []int    `yaml:"successors"`
}

type yamlDoc struct {
	File   string      `yaml:"file"`
	Blocks []yamlBlock `yaml:"blocks"`
}

func yamlGraph(path string, graph *cfg.CFG) (string, error) {
	doc := yamlDoc{File: path}
	for _, blk := range graph.Blocks {
		yb := yamlBlock{Index: blk.Index, Label: blk.Label}
		for _, stmt := range blk.Body {
			yb.Statements = append(yb.Statements, cfg.StmtString(stmt))
		}
		for _, succ := range blk.Succs {
			yb.Successors = append(yb.Successors, succ.Index)
		}
		doc.Blocks = append(doc.Blocks, yb)
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal graph: %w", err)
	}
	return string(data), nil
}
