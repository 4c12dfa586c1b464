package codeindex

import (
	"bufio"
	"context"
	"regexp"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/jonhardwick-spec/specmem-sub022/internal/observability"
	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

// maxSignatureSize bounds how much of a definition's body is kept as the
// Signature text for oversized literals.
const maxSignatureSize = 2048

// Extractor pulls function/class/method definitions out of source files
// using per-language Tree-sitter grammars, falling back to a line-oriented
// heuristic for languages with no bundled grammar.
type Extractor struct {
	log *observability.Logger

	goPool sync.Pool
	pyPool sync.Pool
	jsPool sync.Pool
	tsPool sync.Pool
	once   sync.Once
}

// NewExtractor constructs an Extractor. log may be nil.
func NewExtractor(log *observability.Logger) *Extractor {
	return &Extractor{log: log}
}

func (e *Extractor) initPools() {
	e.once.Do(func() {
		e.goPool.New = func() any {
			p := sitter.NewParser()
			p.SetLanguage(golang.GetLanguage())
			return p
		}
		e.pyPool.New = func() any {
			p := sitter.NewParser()
			p.SetLanguage(python.GetLanguage())
			return p
		}
		e.jsPool.New = func() any {
			p := sitter.NewParser()
			p.SetLanguage(javascript.GetLanguage())
			return p
		}
		e.tsPool.New = func() any {
			p := sitter.NewParser()
			p.SetLanguage(typescript.GetLanguage())
			return p
		}
	})
}

// Extract returns the definitions found in content. filePath and
// projectPath are stamped onto every returned definition; contentHash is
// not set here (the caller stamps it once, for the whole file).
func (e *Extractor) Extract(language string, content []byte, filePath, projectPath string) ([]models.CodeDefinition, error) {
	e.initPools()

	switch language {
	case "go":
		parser := e.goPool.Get().(*sitter.Parser)
		defer e.goPool.Put(parser)
		return e.extractGo(parser, content, filePath, projectPath)
	case "python":
		parser := e.pyPool.Get().(*sitter.Parser)
		defer e.pyPool.Put(parser)
		return e.extractPython(parser, content, filePath, projectPath)
	case "javascript":
		parser := e.jsPool.Get().(*sitter.Parser)
		defer e.jsPool.Put(parser)
		return e.extractJSLike(parser, content, filePath, projectPath, "javascript")
	case "typescript":
		parser := e.tsPool.Get().(*sitter.Parser)
		defer e.tsPool.Put(parser)
		return e.extractJSLike(parser, content, filePath, projectPath, "typescript")
	default:
		return heuristicExtract(content, filePath, projectPath, language), nil
	}
}

func (e *Extractor) extractGo(parser *sitter.Parser, content []byte, filePath, projectPath string) ([]models.CodeDefinition, error) {
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var defs []models.CodeDefinition
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		switch node.Type() {
		case "function_declaration":
			if d := e.goFunction(node, content, filePath, projectPath, false); d != nil {
				defs = append(defs, *d)
			}
		case "method_declaration":
			if d := e.goFunction(node, content, filePath, projectPath, true); d != nil {
				defs = append(defs, *d)
			}
		case "type_spec":
			if d := goTypeSpec(node, content, filePath, projectPath); d != nil {
				defs = append(defs, *d)
			}
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(tree.RootNode())
	return defs, nil
}

func (e *Extractor) goFunction(node *sitter.Node, content []byte, filePath, projectPath string, method bool) *models.CodeDefinition {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := nodeText(content, nameNode)

	var sig strings.Builder
	sig.WriteString("func ")
	if method {
		if recv := node.ChildByFieldName("receiver"); recv != nil {
			sig.WriteString(nodeText(content, recv))
			sig.WriteString(" ")
		}
	}
	sig.WriteString(name)
	if tp := node.ChildByFieldName("type_parameters"); tp != nil {
		sig.WriteString(nodeText(content, tp))
	}
	if params := node.ChildByFieldName("parameters"); params != nil {
		sig.WriteString(nodeText(content, params))
	}
	if result := node.ChildByFieldName("result"); result != nil {
		sig.WriteString(" ")
		sig.WriteString(nodeText(content, result))
	}

	definitionType := "function"
	if method {
		definitionType = "method"
		if recv := node.ChildByFieldName("receiver"); recv != nil {
			name = receiverTypeName(recv, content) + "." + name
		}
	}

	return &models.CodeDefinition{
		FilePath:       filePath,
		Language:       "go",
		DefinitionType: definitionType,
		Name:           name,
		Signature:      truncate(sig.String(), maxSignatureSize),
		Docstring:      precedingComment(node, content),
		LineStart:      int(node.StartPoint().Row) + 1,
		LineEnd:        int(node.EndPoint().Row) + 1,
		ProjectPath:    projectPath,
	}
}

func goTypeSpec(node *sitter.Node, content []byte, filePath, projectPath string) *models.CodeDefinition {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	typeNode := node.ChildByFieldName("type")
	kind := "type"
	if typeNode != nil {
		switch typeNode.Type() {
		case "struct_type":
			kind = "struct"
		case "interface_type":
			kind = "interface"
		}
	}
	if kind == "type" {
		// Plain aliases (type ID = int) aren't useful index entries.
		return nil
	}

	return &models.CodeDefinition{
		FilePath:       filePath,
		Language:       "go",
		DefinitionType: kind,
		Name:           nodeText(content, nameNode),
		Signature:      truncate(nodeText(content, node), maxSignatureSize),
		Docstring:      precedingComment(node.Parent(), content),
		LineStart:      int(node.StartPoint().Row) + 1,
		LineEnd:        int(node.EndPoint().Row) + 1,
		ProjectPath:    projectPath,
	}
}

func receiverTypeName(receiver *sitter.Node, content []byte) string {
	text := nodeText(content, receiver)
	text = strings.Trim(text, "()")
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimPrefix(fields[len(fields)-1], "*")
}

func (e *Extractor) extractPython(parser *sitter.Parser, content []byte, filePath, projectPath string) ([]models.CodeDefinition, error) {
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var defs []models.CodeDefinition
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		switch node.Type() {
		case "function_definition":
			if d := pythonDef(node, content, filePath, projectPath, "function"); d != nil {
				defs = append(defs, *d)
			}
		case "class_definition":
			if d := pythonDef(node, content, filePath, projectPath, "class"); d != nil {
				defs = append(defs, *d)
			}
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(tree.RootNode())
	return defs, nil
}

func pythonDef(node *sitter.Node, content []byte, filePath, projectPath, kind string) *models.CodeDefinition {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	var sig strings.Builder
	sig.WriteString(strings.Fields(node.Type())[0])
	sig.WriteString(" ")
	sig.WriteString(nodeText(content, nameNode))
	if params := node.ChildByFieldName("parameters"); params != nil {
		sig.WriteString(nodeText(content, params))
	} else if super := node.ChildByFieldName("superclasses"); super != nil {
		sig.WriteString(nodeText(content, super))
	}

	doc := ""
	if body := node.ChildByFieldName("body"); body != nil && body.ChildCount() > 0 {
		doc = pythonDocstring(body.Child(0), content)
	}

	return &models.CodeDefinition{
		FilePath:       filePath,
		Language:       "python",
		DefinitionType: kind,
		Name:           nodeText(content, nameNode),
		Signature:      truncate(sig.String(), maxSignatureSize),
		Docstring:      doc,
		LineStart:      int(node.StartPoint().Row) + 1,
		LineEnd:        int(node.EndPoint().Row) + 1,
		ProjectPath:    projectPath,
	}
}

func pythonDocstring(firstStmt *sitter.Node, content []byte) string {
	if firstStmt == nil || firstStmt.Type() != "expression_statement" {
		return ""
	}
	if firstStmt.ChildCount() == 0 {
		return ""
	}
	str := firstStmt.Child(0)
	if str.Type() != "string" {
		return ""
	}
	text := nodeText(content, str)
	text = strings.Trim(text, `"'`)
	return strings.TrimSpace(text)
}

func (e *Extractor) extractJSLike(parser *sitter.Parser, content []byte, filePath, projectPath, language string) ([]models.CodeDefinition, error) {
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var defs []models.CodeDefinition
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		switch node.Type() {
		case "function_declaration":
			if d := jsDef(node, content, filePath, projectPath, language, "function"); d != nil {
				defs = append(defs, *d)
			}
		case "method_definition":
			if d := jsDef(node, content, filePath, projectPath, language, "method"); d != nil {
				defs = append(defs, *d)
			}
		case "class_declaration":
			if d := jsDef(node, content, filePath, projectPath, language, "class"); d != nil {
				defs = append(defs, *d)
			}
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(tree.RootNode())
	return defs, nil
}

func jsDef(node *sitter.Node, content []byte, filePath, projectPath, language, kind string) *models.CodeDefinition {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	var sig strings.Builder
	sig.WriteString(nodeText(content, nameNode))
	if params := node.ChildByFieldName("parameters"); params != nil {
		sig.WriteString(nodeText(content, params))
	}

	return &models.CodeDefinition{
		FilePath:       filePath,
		Language:       language,
		DefinitionType: kind,
		Name:           nodeText(content, nameNode),
		Signature:      truncate(sig.String(), maxSignatureSize),
		Docstring:      precedingComment(node, content),
		LineStart:      int(node.StartPoint().Row) + 1,
		LineEnd:        int(node.EndPoint().Row) + 1,
		ProjectPath:    projectPath,
	}
}

// precedingComment walks backward over immediately adjacent "comment"
// siblings (no blank line in between in practice; Tree-sitter gives us
// contiguous siblings either way) and joins them in document order.
func precedingComment(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	var lines []string
	for sib := node.PrevSibling(); sib != nil && sib.Type() == "comment"; sib = sib.PrevSibling() {
		lines = append([]string{stripCommentMarkers(nodeText(content, sib))}, lines...)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func stripCommentMarkers(s string) string {
	s = strings.TrimPrefix(s, "///")
	s = strings.TrimPrefix(s, "//")
	s = strings.TrimPrefix(s, "/**")
	s = strings.TrimPrefix(s, "/*")
	s = strings.TrimSuffix(s, "*/")
	s = strings.TrimPrefix(strings.TrimSpace(s), "*")
	return strings.TrimSpace(s)
}

func nodeText(content []byte, node *sitter.Node) string {
	return string(content[node.StartByte():node.EndByte()])
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// heuristicHeaderPattern matches a line that plausibly opens a function or
// method definition in a language with no bundled grammar: a keyword, a
// name, and an opening parenthesis for the parameter list.
var heuristicHeaderPattern = regexp.MustCompile(`(?i)^\s*(?:export\s+)?(?:public|private|protected|static\s+)*\s*(function|def|fn|sub|void|int|string)\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// heuristicClassPattern matches a line that plausibly opens a class, which
// in most class-based languages need not be followed by parentheses.
var heuristicClassPattern = regexp.MustCompile(`(?i)^\s*(?:export\s+)?(?:public|private|protected|abstract\s+)*\s*class\s+([A-Za-z_][A-Za-z0-9_]*)`)

// heuristicExtract is a line-oriented fallback for languages without a
// bundled Tree-sitter grammar: it records a definition, without body-range
// precision, for every line that looks like a definition header.
func heuristicExtract(content []byte, filePath, projectPath, language string) []models.CodeDefinition {
	var defs []models.CodeDefinition
	scanner := bufio.NewScanner(strings.NewReader(string(content)))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if m := heuristicHeaderPattern.FindStringSubmatch(line); m != nil {
			defs = append(defs, models.CodeDefinition{
				FilePath:       filePath,
				Language:       language,
				DefinitionType: "function",
				Name:           m[2],
				Signature:      truncate(strings.TrimSpace(line), maxSignatureSize),
				LineStart:      lineNo,
				LineEnd:        lineNo,
				ProjectPath:    projectPath,
			})
			continue
		}

		if m := heuristicClassPattern.FindStringSubmatch(line); m != nil {
			defs = append(defs, models.CodeDefinition{
				FilePath:       filePath,
				Language:       language,
				DefinitionType: "class",
				Name:           m[1],
				Signature:      truncate(strings.TrimSpace(line), maxSignatureSize),
				LineStart:      lineNo,
				LineEnd:        lineNo,
				ProjectPath:    projectPath,
			})
		}
	}
	return defs
}
