// Package nodes defines the template AST.
//
// Nodes are immutable once the parser (and optimizer) have produced them;
// re-parsing is the only way to change a tree. That property is what makes
// cached ASTs safely shareable across concurrent renders. Every node owns
// its children exclusively and carries its originating source position.
package nodes

import (
	"fmt"
	"strings"
)

// Position represents a 1-indexed source location.
type Position struct {
	Line   int
	Column int
}

// NewPosition creates a new Position.
func NewPosition(line, column int) Position {
	return Position{Line: line, Column: column}
}

// Node is the base interface for all AST nodes.
type Node interface {
	// Position returns the node's originating source location.
	Position() Position

	// String returns a compact representation used by Dump.
	String() string
}

// Stmt is implemented by statement-level nodes.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is implemented by expression nodes.
type Expr interface {
	Node
	exprNode()
}

// BaseNode provides position storage for all nodes.
type BaseNode struct {
	Pos Position
}

// Position returns the stored source location.
func (n *BaseNode) Position() Position { return n.Pos }

type baseStmt struct{ BaseNode }

func (baseStmt) stmtNode() {}

type baseExpr struct{ BaseNode }

func (baseExpr) exprNode() {}

// At stamps a position onto a BaseNode; a construction convenience for the
// parser and optimizer.
func At(line, column int) BaseNode {
	return BaseNode{Pos: Position{Line: line, Column: column}}
}

// Template is the root node of a parsed template.
type Template struct {
	BaseNode
	Name string
	Body []Stmt
}

func (t *Template) String() string {
	return fmt.Sprintf("Template(%s, %d stmts)", t.Name, len(t.Body))
}

// --- Statements ---

// Text is a literal text run emitted verbatim.
type Text struct {
	baseStmt
	Data string
}

func (n *Text) String() string { return fmt.Sprintf("Text(%q)", n.Data) }

// Output emits the value of an expression, escaped per the environment's
// autoescape policy.
type Output struct {
	baseStmt
	Expr Expr
}

func (n *Output) String() string { return fmt.Sprintf("Output(%s)", n.Expr) }

// If is a conditional with optional elif branches and else body.
type If struct {
	baseStmt
	Test Expr
	Body []Stmt
	Elif []*If
	Else []Stmt
}

func (n *If) String() string { return fmt.Sprintf("If(%s)", n.Test) }

// For iterates a sequence binding one or two loop variables. Empty is the
// branch taken when the iterable has no items.
type For struct {
	baseStmt
	Var       string
	SecondVar string
	Iter      Expr
	Body      []Stmt
	Empty     []Stmt
}

func (n *For) String() string {
	if n.SecondVar != "" {
		return fmt.Sprintf("For(%s, %s in %s)", n.Var, n.SecondVar, n.Iter)
	}
	return fmt.Sprintf("For(%s in %s)", n.Var, n.Iter)
}

// Set binds a name in the enclosing scope for the remainder of the block.
type Set struct {
	baseStmt
	Name  string
	Value Expr
}

func (n *Set) String() string { return fmt.Sprintf("Set(%s = %s)", n.Name, n.Value) }

// With pushes a nested scope with the given bindings around its body.
type With struct {
	baseStmt
	Names  []string
	Values []Expr
	Body   []Stmt
}

func (n *With) String() string { return fmt.Sprintf("With(%s)", strings.Join(n.Names, ", ")) }

// Block is a named, overridable region participating in inheritance.
type Block struct {
	baseStmt
	Name string
	Body []Stmt
}

func (n *Block) String() string { return fmt.Sprintf("Block(%s)", n.Name) }

// Extends declares the template's parent. The target is recorded as an
// expression; resolution happens at load time, never here.
type Extends struct {
	baseStmt
	Target Expr
}

func (n *Extends) String() string { return fmt.Sprintf("Extends(%s)", n.Target) }

// Include renders another template in place with the current context.
type Include struct {
	baseStmt
	Target Expr
}

func (n *Include) String() string { return fmt.Sprintf("Include(%s)", n.Target) }

// Def declares a named callable with lexical closure over the enclosing
// scope. Free names are resolved at call time.
type Def struct {
	baseStmt
	Name   string
	Params []Param
	Body   []Stmt
}

// Param is a def parameter with an optional default expression.
type Param struct {
	Name    string
	Default Expr
}

func (n *Def) String() string { return fmt.Sprintf("Def(%s/%d)", n.Name, len(n.Params)) }

// CallBlock invokes a def with its body exposed as the caller() function.
type CallBlock struct {
	baseStmt
	Call *Call
	Body []Stmt
}

func (n *CallBlock) String() string { return fmt.Sprintf("CallBlock(%s)", n.Call) }

// Cache guards its body with a fragment-cache lookup keyed by Key. TTL is an
// optional expression yielding seconds; Vary lists expressions whose live
// values fingerprint the entry.
type Cache struct {
	baseStmt
	Key  Expr
	TTL  Expr
	Vary []Expr
	Body []Stmt
}

func (n *Cache) String() string { return fmt.Sprintf("Cache(%s)", n.Key) }

// TypeDecl is an advisory declaration that a context variable holds a value
// of the named type. Strict environments verify the name is defined.
type TypeDecl struct {
	baseStmt
	Name     string
	TypeName string
}

func (n *TypeDecl) String() string { return fmt.Sprintf("TypeDecl(%s: %s)", n.Name, n.TypeName) }

// Break terminates the innermost loop.
type Break struct {
	baseStmt
}

func (n *Break) String() string { return "Break" }

// Continue skips to the next iteration of the innermost loop.
type Continue struct {
	baseStmt
}

func (n *Continue) String() string { return "Continue" }

// --- Expressions ---

// Name references a variable.
type Name struct {
	baseExpr
	Ident string
}

func (n *Name) String() string { return n.Ident }

// Const is a literal constant: bool, nil, int64, float64 or string. Both
// casings of the boolean and null literals parse to this same node.
type Const struct {
	baseExpr
	Value interface{}
}

func (n *Const) String() string { return fmt.Sprintf("%#v", n.Value) }

// BinaryOp applies an arithmetic, concatenation or logical operator.
type BinaryOp struct {
	baseExpr
	Op    string
	Left  Expr
	Right Expr
}

func (n *BinaryOp) String() string { return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right) }

// UnaryOp applies a prefix operator: "-", "+" or "not".
type UnaryOp struct {
	baseExpr
	Op   string
	Expr Expr
}

func (n *UnaryOp) String() string { return fmt.Sprintf("(%s %s)", n.Op, n.Expr) }

// Compare is a comparison chain: left op1 e1 op2 e2 ...
type Compare struct {
	baseExpr
	Left Expr
	Ops  []CompareOp
}

// CompareOp is one link of a comparison chain. Op is one of
// "==", "!=", "<", "<=", ">", ">=", "in", "not in".
type CompareOp struct {
	Op    string
	Right Expr
}

func (n *Compare) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", n.Left)
	for _, op := range n.Ops {
		fmt.Fprintf(&b, " %s %s", op.Op, op.Right)
	}
	return b.String()
}

// TestExpr applies a registered test: "x is defined", "n is not even".
type TestExpr struct {
	baseExpr
	Expr    Expr
	Name    string
	Args    []Expr
	Negated bool
}

func (n *TestExpr) String() string {
	if n.Negated {
		return fmt.Sprintf("(%s is not %s)", n.Expr, n.Name)
	}
	return fmt.Sprintf("(%s is %s)", n.Expr, n.Name)
}

// Call invokes a callable with positional and keyword arguments.
type Call struct {
	baseExpr
	Target Expr
	Args   []Expr
	Kwargs []Kwarg
}

// Kwarg is a keyword argument in a call, filter or pipeline stage.
type Kwarg struct {
	Name  string
	Value Expr
}

func (n *Call) String() string { return fmt.Sprintf("Call(%s/%d)", n.Target, len(n.Args)) }

// Attribute accesses obj.name.
type Attribute struct {
	baseExpr
	Target Expr
	Name   string
}

func (n *Attribute) String() string { return fmt.Sprintf("%s.%s", n.Target, n.Name) }

// Subscript accesses obj[index].
type Subscript struct {
	baseExpr
	Target Expr
	Index  Expr
}

func (n *Subscript) String() string { return fmt.Sprintf("%s[%s]", n.Target, n.Index) }

// ListLiteral is [a, b, c].
type ListLiteral struct {
	baseExpr
	Items []Expr
}

func (n *ListLiteral) String() string { return fmt.Sprintf("List(%d)", len(n.Items)) }

// DictLiteral is {k: v, ...}; Keys and Values are parallel.
type DictLiteral struct {
	baseExpr
	Keys   []Expr
	Values []Expr
}

func (n *DictLiteral) String() string { return fmt.Sprintf("Dict(%d)", len(n.Keys)) }

// Ternary is the conditional expression "a if test else b".
type Ternary struct {
	baseExpr
	Test  Expr
	True  Expr
	False Expr
}

func (n *Ternary) String() string {
	return fmt.Sprintf("(%s if %s else %s)", n.True, n.Test, n.False)
}

// Filter applies one named transformation to Target: "name|upper" or a
// single "|>" stage before fusion.
type Filter struct {
	baseExpr
	Target Expr
	Name   string
	Args   []Expr
	Kwargs []Kwarg
}

func (n *Filter) String() string { return fmt.Sprintf("(%s | %s)", n.Target, n.Name) }

// Pipeline is a chain of transformations applied to one input: written
// with "|>" in source, or produced by the optimizer fusing nested Filter
// nodes.
type Pipeline struct {
	baseExpr
	Input  Expr
	Stages []*Stage
}

// Stage is one step of a fused pipeline.
type Stage struct {
	BaseNode
	Name   string
	Args   []Expr
	Kwargs []Kwarg
}

func (n *Stage) String() string { return fmt.Sprintf("Stage(%s)", n.Name) }

func (n *Pipeline) String() string {
	names := make([]string, len(n.Stages))
	for i, s := range n.Stages {
		names[i] = s.Name
	}
	return fmt.Sprintf("(%s |> %s)", n.Input, strings.Join(names, " |> "))
}
