// Command irqlint flags allocation-shaped expressions reachable from
// interrupt-context functions. spec.md's frame allocator is guarded by a
// single global spinlock and states plainly that "allocations inside
// interrupt handlers are forbidden"; the scheduler section repeats the
// same rule for interrupt handlers in general ("they may only set
// NeedResched and enqueue work"). Nothing in the type system enforces
// that, so this walks the AST instead, the way biscuit/scripts/features.go
// walks it to build its feature census — narrowed here to the one
// allocation check the interrupt-handler invariant actually asks for.
//
// A function counts as interrupt context if its name matches one of the
// patterns below: this tree has no real IDT/vector-table dispatch loop,
// so "interrupt handler" means the Tick entry point the (simulated)
// Local APIC timer drives, the migrate-drain and shootdown functions, and
// anything sharing their naming. Only named function declarations are
// matched: a function literal, such as the migrate/shootdown IPI callbacks
// boot.go wires into the Lapic broadcasters, is checked only as part of its
// enclosing function, and only when that function's name matches.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// irqFuncPattern matches the function names this tree uses for
// interrupt-context entry points: the scheduler's timer tick, the
// migrate/shootdown IPI drain handlers, and anything named in the same
// family (*Handler, *Irq*, *Intr*, *IPI*).
var irqFuncPattern = regexp.MustCompile(`(?i)(^Tick$|Handler|Irq|Intr|IPI|Drain|Shootdown)`)

// finding is one allocation-shaped expression found inside an
// interrupt-context function.
type finding struct {
	funcName string
	kind     string
	pos      string
}

var findings []finding

var curFunc string
var curIrq bool

func isAllocCall(call *ast.CallExpr) (string, bool) {
	if fun, ok := call.Fun.(*ast.Ident); ok {
		switch fun.Name {
		case "make":
			return "make", true
		case "new":
			return "new", true
		case "append":
			return "append", true
		}
	}
	return "", false
}

func isCompositeAlloc(u *ast.UnaryExpr) bool {
	if u.Op != token.AND {
		return false
	}
	_, ok := u.X.(*ast.CompositeLit)
	return ok
}

func walk(node ast.Node, fset *token.FileSet) bool {
	switch x := node.(type) {
	case *ast.CallExpr:
		if curIrq {
			if kind, ok := isAllocCall(x); ok {
				findings = append(findings, finding{curFunc, kind, fset.Position(x.Pos()).String()})
			}
		}
	case *ast.UnaryExpr:
		if curIrq && isCompositeAlloc(x) {
			findings = append(findings, finding{curFunc, "&composite literal", fset.Position(x.Pos()).String()})
		}
	}
	return true
}

func dofile(path string) error {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return err
	}
	for _, decl := range f.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		curFunc = fd.Name.Name
		curIrq = irqFuncPattern.MatchString(fd.Name.Name)
		ast.Inspect(fd, func(n ast.Node) bool {
			return walk(n, fset)
		})
	}
	return nil
}

func main() {
	verbose := flag.Bool("v", false, "print the pattern used to recognize interrupt-context functions")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: irqlint <path>")
		os.Exit(2)
	}

	dir := flag.Arg(0)
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		return dofile(path)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "irqlint: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Fprintf(w, "scanned functions matching %s\n", irqFuncPattern.String())
	}

	if len(findings) == 0 {
		fmt.Fprintln(w, "no allocations found in interrupt-context functions")
		return
	}

	for _, fnd := range findings {
		fmt.Fprintf(w, "%s: %s in interrupt-context function %s\n", fnd.pos, fnd.kind, fnd.funcName)
	}
	os.Exit(1)
}
