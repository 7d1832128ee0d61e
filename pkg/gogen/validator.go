package gogen

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"strings"
	"sync"

	"golang.org/x/tools/go/packages"
)

// ValidationError represents a Go validation error with position info
type ValidationError struct {
	Line     int
	Column   int
	Function string // Function containing the error, "<package>" outside any
	Receiver string // Receiver type for methods (empty for functions)
	Message  string
}

// importsForGenerated lists every package generated code may import.
var importsForGenerated = []string{avmPath, "encoding/hex", "fmt", "sync"}

// loadImports type-loads the imports of generated code once per process.
var loadImports = sync.OnceValues(func() (map[string]*types.Package, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedTypes,
	}
	pkgs, err := packages.Load(cfg, importsForGenerated...)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", avmPath, err)
	}
	out := make(map[string]*types.Package, len(pkgs))
	for _, p := range pkgs {
		if len(p.Errors) > 0 {
			return nil, fmt.Errorf("package errors: %v", p.Errors)
		}
		if p.Types == nil {
			return nil, fmt.Errorf("type information not available for %s", p.PkgPath)
		}
		out[p.PkgPath] = p.Types
	}
	return out, nil
})

// CodeValidator validates generated Go source code in-memory
type CodeValidator struct {
	fset     *token.FileSet
	filename string
}

// NewCodeValidator creates a validator for the given filename (used in error messages)
func NewCodeValidator(filename string) *CodeValidator {
	return &CodeValidator{filename: filename}
}

// Validate parses and type-checks Go source code, returning any errors.
// When the imported packages cannot be loaded the source is only parsed,
// and the returned warning says why.
func (cv *CodeValidator) Validate(source string) ([]ValidationError, string) {
	cv.fset = token.NewFileSet()

	file, err := parser.ParseFile(cv.fset, cv.filename, source, parser.AllErrors)
	if err != nil {
		return []ValidationError{{Line: 1, Column: 1, Function: "<package>", Message: err.Error()}}, ""
	}

	imports, err := loadImports()
	if err != nil {
		return nil, fmt.Sprintf("type checking skipped: %v", err)
	}

	funcMap := cv.buildFunctionMap(file)
	var typeCheckErrors []ValidationError
	conf := types.Config{
		Importer: importerFunc(func(path string) (*types.Package, error) {
			if p, ok := imports[path]; ok {
				return p, nil
			}
			return nil, fmt.Errorf("generated code imports unexpected package %q", path)
		}),
		Error: func(err error) {
			typeErr, ok := err.(types.Error)
			if !ok {
				return
			}
			pos := cv.fset.Position(typeErr.Pos)
			fn := funcMap[pos.Line]
			if fn == nil {
				fn = &functionInfo{Name: "<package>"}
			}
			typeCheckErrors = append(typeCheckErrors, ValidationError{
				Line:     pos.Line,
				Column:   pos.Column,
				Function: fn.Name,
				Receiver: fn.Receiver,
				Message:  typeErr.Msg,
			})
		},
	}
	_, _ = conf.Check(file.Name.Name, cv.fset, []*ast.File{file}, nil)
	return typeCheckErrors, ""
}

type importerFunc func(path string) (*types.Package, error)

func (f importerFunc) Import(path string) (*types.Package, error) { return f(path) }

// FunctionsWithErrors returns the set of functions that have errors.
// Methods are keyed as "Receiver.Method".
func (cv *CodeValidator) FunctionsWithErrors(errs []ValidationError) map[string]bool {
	fns := make(map[string]bool)
	for _, err := range errs {
		if err.Function == "" || err.Function == "<package>" {
			continue
		}
		if err.Receiver != "" {
			fns[err.Receiver+"."+err.Function] = true
		} else {
			fns[err.Function] = true
		}
	}
	return fns
}

type functionInfo struct {
	Name     string
	Receiver string
}

// buildFunctionMap maps every source line to the function declared there.
// Top-level var declarations count as the function they serve, so an error
// in addProgram is attributed to Add.
func (cv *CodeValidator) buildFunctionMap(file *ast.File) map[int]*functionInfo {
	funcMap := make(map[int]*functionInfo)
	span := func(n ast.Node, info *functionInfo) {
		start := cv.fset.Position(n.Pos()).Line
		end := cv.fset.Position(n.End()).Line
		for line := start; line <= end; line++ {
			funcMap[line] = info
		}
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			info := &functionInfo{Name: d.Name.Name}
			if d.Recv != nil && len(d.Recv.List) > 0 {
				info.Receiver = receiverType(d.Recv.List[0].Type)
			}
			span(d, info)
		case *ast.GenDecl:
			if d.Tok != token.VAR {
				continue
			}
			for _, spec := range d.Specs {
				vs := spec.(*ast.ValueSpec)
				name := vs.Names[0].Name
				if fn, ok := strings.CutSuffix(name, "Program"); ok && fn != "" {
					span(vs, &functionInfo{Name: strings.ToUpper(fn[:1]) + fn[1:]})
				}
			}
		}
	}
	return funcMap
}

func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		if ident, ok := t.X.(*ast.Ident); ok {
			return "*" + ident.Name
		}
	}
	return ""
}

// FormatValidationErrors returns a human-readable error report
func FormatValidationErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, err := range errs {
		fmt.Fprintf(&sb, "  %d:%d: ", err.Line, err.Column)
		if err.Function != "" && err.Function != "<package>" {
			if err.Receiver != "" {
				sb.WriteString("(" + err.Receiver + ")." + err.Function)
			} else {
				sb.WriteString(err.Function)
			}
			sb.WriteString(": ")
		}
		sb.WriteString(err.Message)
		sb.WriteString("\n")
	}
	return sb.String()
}
