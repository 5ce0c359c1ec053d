package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"io"
	"log"
	"os"

	"golang.org/x/tools/go/packages"

	"github.com/arcbound/symbex"
	"github.com/arcbound/symbex/internal/gocfg"
	"github.com/arcbound/symbex/internal/gotypes"
)

// CheckCommand represents a command for exploring every function in a set
// of packages and printing the reported issues.
type CheckCommand struct{}

// NewCheckCommand returns a new instance of CheckCommand.
func NewCheckCommand() *CheckCommand {
	return &CheckCommand{}
}

// Run executes the "check" subcommand.
func (cmd *CheckCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("symbex-check", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "verbose")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("package required")
	}

	log.SetFlags(0)
	if !*verbose {
		log.SetOutput(io.Discard)
	}

	initial, err := packages.Load(&packages.Config{
		Mode:    packages.LoadAllSyntax,
		Context: ctx,
	}, fs.Args()...)
	if err != nil {
		return err
	} else if packages.PrintErrors(initial) > 0 {
		return fmt.Errorf("packages contain errors")
	}

	var issues int
	for _, pkg := range initial {
		n, err := cmd.checkPackage(pkg)
		if err != nil {
			return err
		}
		issues += n
	}
	if issues > 0 {
		return fmt.Errorf("%d issue(s) found", issues)
	}
	return nil
}

func (cmd *CheckCommand) checkPackage(pkg *packages.Package) (issues int, err error) {
	oracle := gotypes.NewOracle(pkg.Fset, pkg.TypesInfo, pkg.Syntax)
	walker := symbex.NewWalker(symbex.IssueSinkFunc(func(node ast.Node, message string) {
		issues++
		fmt.Printf("%s: %s\n", pkg.Fset.Position(node.Pos()), message)
	}))
	walker.Logger = log.Default()

	for _, file := range pkg.Syntax {
		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Body == nil {
				continue
			}
			g, err := gocfg.Build(fn, oracle)
			if err != nil {
				return issues, err
			}
			err = walker.VisitProcedure(&symbex.Procedure{
				Name:   fn.Name.Name,
				Decl:   fn,
				CFG:    g,
				Oracle: oracle,
				Fset:   pkg.Fset,
			})
			switch {
			case err == nil:
			case errors.Is(err, symbex.ErrMaximumStepsReached),
				errors.Is(err, symbex.ErrExplodedGraphTooBig):
				// expected on pathological inputs; skip to the next function
				log.Printf("[abort] %v", err)
			default:
				// internal invariant violation: a crash for this function
				fmt.Fprintf(os.Stderr, "symbex: %s: %v\n", fn.Name.Name, err)
			}
		}
	}
	return issues, nil
}

func (cmd *CheckCommand) usage() {
	fmt.Fprintln(os.Stderr, `
Explore every function in the given packages symbolically and print the
issues the built-in checkers report.

Usage:

	symbex check [-v] packages

Arguments:

	-v
	    Enable verbose logging of the exploration.
`[1:])
}
