// Package scanner finds the registrations declared with annotations in Go sources:
//
//	// NewCache builds the cache.
//	// @provider named="cache" reuse="singleton"
//	// @when named="CACHE_ENABLED" equals="true"
//	func NewCache(store Store, // @inject named="redis"
//		logger *Logger, // @inject optional=true
//	) *Cache
//
// Decorators are annotated with @decorator, their first parameter is the decorated
// service. Config structs are annotated with @config.
package scanner

import (
	"fmt"
	"go/ast"
	"go/token"
	"strings"
	"time"

	"github.com/a-peyrard/plandi/option"
	"github.com/rs/zerolog"
	"golang.org/x/tools/go/packages"
)

type Options struct {
	dir      string
	patterns []string
	logger   *zerolog.Logger
}

func WithDir(dir string) option.Option[Options] {
	return func(opts *Options) {
		opts.dir = dir
	}
}

func WithPatterns(patterns ...string) option.Option[Options] {
	return func(opts *Options) {
		opts.patterns = patterns
	}
}

func WithLogger(logger *zerolog.Logger) option.Option[Options] {
	return func(opts *Options) {
		opts.logger = logger
	}
}

// Scan loads the packages matching the patterns (./... by default) and returns
// their annotations, in source order.
func Scan(opts ...option.Option[Options]) ([]Annotation, error) {
	nop := zerolog.Nop()
	options := option.Build(&Options{
		patterns: []string{"./..."},
		logger:   &nop,
	}, opts...)
	logger := options.logger

	startScan := time.Now()

	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax,
		Dir:  options.dir,
	}
	pkgs, err := packages.Load(cfg, options.patterns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load packages %v: %w", options.patterns, err)
	}
	if count := packages.PrintErrors(pkgs); count > 0 {
		return nil, fmt.Errorf("failed to load packages %v: %d errors", options.patterns, count)
	}

	var annotations []Annotation
	for _, pkg := range pkgs {
		logger := logger.With().Str("package", pkg.ID).Logger()
		logger.Debug().Msg("Scanning package")
		for _, file := range pkg.Syntax {
			annotations = append(annotations, scanFile(&logger, pkg, file)...)
		}
	}

	logger.Info().
		Int("annotations", len(annotations)).
		Dur("duration", time.Since(startScan)).
		Msg("Scanning completed")
	return annotations, nil
}

func scanFile(logger *zerolog.Logger, pkg *packages.Package, file *ast.File) []Annotation {
	var annotations []Annotation
	for _, decl := range file.Decls {
		switch decl := decl.(type) {
		case *ast.FuncDecl:
			if decl.Doc == nil || decl.Recv != nil {
				continue
			}
			doc := decl.Doc.Text()
			switch {
			case strings.Contains(doc, providerAnnotationTag):
				logger := logger.With().Str("provider", decl.Name.Name).Logger()
				logger.Debug().Msg("=> Found provider")
				annotations = append(annotations, scanFunc(&logger, pkg, file, decl, ProviderKind, providerAnnotationTag))
			case strings.Contains(doc, decoratorAnnotationTag):
				logger := logger.With().Str("decorator", decl.Name.Name).Logger()
				logger.Debug().Msg("=> Found decorator")
				annotations = append(annotations, scanFunc(&logger, pkg, file, decl, DecoratorKind, decoratorAnnotationTag))
			}
		case *ast.GenDecl:
			if decl.Tok != token.TYPE {
				continue
			}
			for _, spec := range decl.Specs {
				typeSpec, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				if _, ok := typeSpec.Type.(*ast.StructType); !ok {
					continue
				}
				doc := typeSpec.Doc
				if doc == nil {
					doc = decl.Doc
				}
				if doc == nil || !strings.Contains(doc.Text(), configAnnotationTag) {
					continue
				}
				logger := logger.With().Str("config", typeSpec.Name.Name).Logger()
				logger.Debug().Msg("=> Found config")
				annotations = append(annotations, scanConfig(&logger, pkg, typeSpec, doc.Text()))
			}
		}
	}
	return annotations
}

func scanFunc(
	logger *zerolog.Logger,
	pkg *packages.Package,
	file *ast.File,
	fn *ast.FuncDecl,
	kind Kind,
	tag string,
) Annotation {
	doc := parseDocAnnotation(logger, fn.Doc.Text(), tag)

	var serviceType string
	if fn.Type.Results != nil && len(fn.Type.Results.List) > 0 {
		serviceType = formatType(fn.Type.Results.List[0].Type)
	}

	var dependencies []Inject
	for _, param := range fn.Type.Params.List {
		inject := parseInjectAnnotation(logger, findCommentForParam(pkg.Fset, file, param))
		// unnamed parameters still count for one
		count := max(len(param.Names), 1)
		for range count {
			dependencies = append(dependencies, inject)
		}
	}

	return Annotation{
		Kind:           kind,
		Implementation: pkg.PkgPath + "." + fn.Name.Name,
		ServiceType:    serviceType,
		Key:            doc.named(),
		Reuse:          doc.reuse(),
		Order:          doc.order(),
		Description:    doc.description,
		Dependencies:   dependencies,
		Conditions:     doc.conditions,
		Position:       pkg.Fset.Position(fn.Pos()).String(),
	}
}

func scanConfig(logger *zerolog.Logger, pkg *packages.Package, typeSpec *ast.TypeSpec, docText string) Annotation {
	doc := parseDocAnnotation(logger, docText, configAnnotationTag)
	return Annotation{
		Kind:           ConfigKind,
		Implementation: pkg.PkgPath + "." + typeSpec.Name.Name,
		ServiceType:    "*" + typeSpec.Name.Name,
		Key:            doc.named(),
		Reuse:          doc.reuse(),
		Description:    doc.description,
		Conditions:     doc.conditions,
		Position:       pkg.Fset.Position(typeSpec.Pos()).String(),
	}
}

func findCommentForParam(fset *token.FileSet, file *ast.File, param *ast.Field) string {
	paramLine := fset.Position(param.Pos()).Line

	for _, commentGroup := range file.Comments {
		for _, comment := range commentGroup.List {
			if fset.Position(comment.Pos()).Line == paramLine {
				return comment.Text
			}
		}
	}
	return ""
}

func formatType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + formatType(t.X)
	case *ast.SelectorExpr:
		return formatType(t.X) + "." + t.Sel.Name
	case *ast.ArrayType:
		return "[]" + formatType(t.Elt)
	case *ast.MapType:
		return "map[" + formatType(t.Key) + "]" + formatType(t.Value)
	case *ast.ChanType:
		return "chan " + formatType(t.Value)
	case *ast.FuncType:
		return "func"
	case *ast.IndexExpr:
		return formatType(t.X) + "[" + formatType(t.Index) + "]"
	case *ast.InterfaceType:
		return "interface{}"
	default:
		return "unknown"
	}
}
