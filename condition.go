package edimig

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrBadExpression = errors.New("bad condition expression")

// ExprError reports an unparseable AHB condition expression. Column is
// the 1-based rune position where parsing failed.
type ExprError struct {
	Column int
	Err    error
}

func (e *ExprError) Error() string {
	return fmt.Sprintf("column %d: %s", e.Column, e.Err)
}

func (e *ExprError) Unwrap() error {
	return e.Err
}

func newExprError(column int, format string, args ...any) error {
	return &ExprError{
		Column: column,
		Err:    fmt.Errorf("%w: %s", ErrBadExpression, fmt.Sprintf(format, args...)),
	}
}

// ConditionResult is the three-valued outcome of evaluating an AHB
// condition under Kleene logic. The zero value is reserved: a struct
// field left unset means "no outcome" and serializes as absent, which
// keeps it distinct from an explicit ResultUnknown.
type ConditionResult uint8

const (
	_ ConditionResult = iota
	ResultTrue
	ResultFalse
	ResultUnknown
)

func (r ConditionResult) String() string {
	switch r {
	case ResultTrue:
		return "True"
	case ResultFalse:
		return "False"
	case ResultUnknown:
		return "Unknown"
	}
	return fmt.Sprintf("ConditionResult(%d)", uint8(r))
}

func (r ConditionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// ConditionOp is the operator of a ConditionExpr node.
type ConditionOp uint8

const (
	OpRef ConditionOp = iota
	OpAnd
	OpOr
	OpXor
	OpNot
)

// ConditionExpr is a parsed AHB condition expression. For OpRef the
// Ref field carries the condition number; the other operators hold
// their operands (≥2 for And/Or, exactly 2 for Xor, 1 for Not).
type ConditionExpr struct {
	Op       ConditionOp
	Ref      uint32
	Operands []*ConditionExpr
}

// Ref builds a condition-number reference like `[182]`.
func Ref(n uint32) *ConditionExpr {
	return &ConditionExpr{Op: OpRef, Ref: n}
}

// And builds a conjunction. A single operand is returned unchanged.
func And(exprs ...*ConditionExpr) *ConditionExpr {
	if len(exprs) == 1 {
		return exprs[0]
	}
	return &ConditionExpr{Op: OpAnd, Operands: exprs}
}

// Or builds a disjunction. A single operand is returned unchanged.
func Or(exprs ...*ConditionExpr) *ConditionExpr {
	if len(exprs) == 1 {
		return exprs[0]
	}
	return &ConditionExpr{Op: OpOr, Operands: exprs}
}

// Xor builds an exclusive or over exactly two operands.
func Xor(a, b *ConditionExpr) *ConditionExpr {
	return &ConditionExpr{Op: OpXor, Operands: []*ConditionExpr{a, b}}
}

// Not negates an expression.
func Not(inner *ConditionExpr) *ConditionExpr {
	return &ConditionExpr{Op: OpNot, Operands: []*ConditionExpr{inner}}
}

func (e *ConditionExpr) String() string {
	switch e.Op {
	case OpRef:
		return fmt.Sprintf("[%d]", e.Ref)
	case OpNot:
		return "NOT " + e.Operands[0].String()
	case OpXor:
		return fmt.Sprintf("(%s ⊻ %s)", e.Operands[0], e.Operands[1])
	case OpAnd, OpOr:
		op := " ∧ "
		if e.Op == OpOr {
			op = " ∨ "
		}
		parts := make([]string, len(e.Operands))
		for i, sub := range e.Operands {
			parts[i] = sub.String()
		}
		return "(" + strings.Join(parts, op) + ")"
	}
	return ""
}

// ConditionIDs returns the condition numbers referenced anywhere in
// the expression, deduplicated and sorted.
func (e *ConditionExpr) ConditionIDs() []uint32 {
	seen := make(map[uint32]bool)
	var walk func(x *ConditionExpr)
	walk = func(x *ConditionExpr) {
		if x.Op == OpRef {
			seen[x.Ref] = true
			return
		}
		for _, sub := range x.Operands {
			walk(sub)
		}
	}
	walk(e)
	ids := make([]uint32, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Eval evaluates the expression under Kleene three-valued logic.
// A conjunction containing a False is False even when other operands
// are Unknown; a disjunction containing a True is True the same way.
// Xor and Not propagate Unknown. A nil resolver yields Unknown for
// every reference.
func (e *ConditionExpr) Eval(resolve func(uint32) ConditionResult) ConditionResult {
	switch e.Op {
	case OpRef:
		if resolve == nil {
			return ResultUnknown
		}
		return resolve(e.Ref)
	case OpAnd:
		unknown := false
		for _, sub := range e.Operands {
			switch sub.Eval(resolve) {
			case ResultFalse:
				return ResultFalse
			case ResultUnknown:
				unknown = true
			}
		}
		if unknown {
			return ResultUnknown
		}
		return ResultTrue
	case OpOr:
		unknown := false
		for _, sub := range e.Operands {
			switch sub.Eval(resolve) {
			case ResultTrue:
				return ResultTrue
			case ResultUnknown:
				unknown = true
			}
		}
		if unknown {
			return ResultUnknown
		}
		return ResultFalse
	case OpXor:
		a := e.Operands[0].Eval(resolve)
		b := e.Operands[1].Eval(resolve)
		if a == ResultUnknown || b == ResultUnknown {
			return ResultUnknown
		}
		if a != b {
			return ResultTrue
		}
		return ResultFalse
	case OpNot:
		switch e.Operands[0].Eval(resolve) {
		case ResultTrue:
			return ResultFalse
		case ResultFalse:
			return ResultTrue
		}
		return ResultUnknown
	}
	return ResultUnknown
}

// StatusKeyword is the leading keyword of an AHB status expression.
type StatusKeyword uint8

const (
	KeywordNone StatusKeyword = iota
	KeywordMuss
	KeywordSoll
	KeywordKann
	KeywordX
)

var statusKeywordNames = map[StatusKeyword]string{
	KeywordNone: "",
	KeywordMuss: "Muss",
	KeywordSoll: "Soll",
	KeywordKann: "Kann",
	KeywordX:    "X",
}

var statusKeywordValues = map[string]StatusKeyword{
	"Muss": KeywordMuss,
	"Soll": KeywordSoll,
	"Kann": KeywordKann,
	"X":    KeywordX,
}

func (k StatusKeyword) String() string {
	return statusKeywordNames[k]
}

func (k StatusKeyword) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// IsMandatory reports whether the keyword demands presence when its
// condition holds (Muss and the bare X marker).
func (k StatusKeyword) IsMandatory() bool {
	return k == KeywordMuss || k == KeywordX
}

// AhbStatus is a parsed AHB status: a keyword plus an optional
// condition expression. A nil expression is unconditionally satisfied.
type AhbStatus struct {
	Keyword StatusKeyword
	Expr    *ConditionExpr
}

// ParseAhbStatus splits a raw status like `Muss [182] ∧ [6]` into its
// keyword and condition expression. An empty string yields
// KeywordNone with no expression.
func ParseAhbStatus(s string) (AhbStatus, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return AhbStatus{}, nil
	}
	status := AhbStatus{}
	rest := trimmed
	for name, kw := range statusKeywordValues {
		if trimmed == name {
			return AhbStatus{Keyword: kw}, nil
		}
		if strings.HasPrefix(trimmed, name+" ") {
			status.Keyword = kw
			rest = strings.TrimSpace(trimmed[len(name):])
			break
		}
	}
	if rest == "" {
		return status, nil
	}
	expr, err := ParseConditionExpr(rest)
	if err != nil {
		return status, err
	}
	status.Expr = expr
	return status, nil
}

type exprTokenKind uint8

const (
	tokEOF exprTokenKind = iota
	tokRef
	tokAnd
	tokOr
	tokXor
	tokNot
	tokLParen
	tokRParen
)

type exprToken struct {
	kind   exprTokenKind
	ref    uint32
	column int
}

func lexConditionExpr(s string) ([]exprToken, error) {
	runes := []rune(s)
	var tokens []exprToken
	i := 0
	for i < len(runes) {
		r := runes[i]
		column := i + 1
		switch {
		case r == ' ' || r == '\t':
			i++
		case r == '[':
			j := i + 1
			var n uint32
			digits := 0
			for j < len(runes) && runes[j] >= '0' && runes[j] <= '9' {
				n = n*10 + uint32(runes[j]-'0')
				digits++
				j++
			}
			if digits == 0 {
				return nil, newExprError(column, "expected digits after '['")
			}
			if j >= len(runes) || runes[j] != ']' {
				return nil, newExprError(column, "unclosed condition reference")
			}
			tokens = append(tokens, exprToken{kind: tokRef, ref: n, column: column})
			i = j + 1
		case r == '∧':
			tokens = append(tokens, exprToken{kind: tokAnd, column: column})
			i++
		case r == '∨':
			tokens = append(tokens, exprToken{kind: tokOr, column: column})
			i++
		case r == '⊻':
			tokens = append(tokens, exprToken{kind: tokXor, column: column})
			i++
		case r == '(':
			tokens = append(tokens, exprToken{kind: tokLParen, column: column})
			i++
		case r == ')':
			tokens = append(tokens, exprToken{kind: tokRParen, column: column})
			i++
		case r == 'N' && i+2 < len(runes) && runes[i+1] == 'O' && runes[i+2] == 'T':
			tokens = append(tokens, exprToken{kind: tokNot, column: column})
			i += 3
		default:
			return nil, newExprError(column, "unexpected character %q", string(r))
		}
	}
	tokens = append(tokens, exprToken{kind: tokEOF, column: len(runes) + 1})
	return tokens, nil
}

type exprParser struct {
	tokens []exprToken
	pos    int
}

func (p *exprParser) peek() exprToken {
	return p.tokens[p.pos]
}

func (p *exprParser) next() exprToken {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

// ParseConditionExpr parses an AHB condition expression. Precedence,
// lowest first: ∨, ∧, ⊻. Adjacent atoms without an operator are an
// implicit conjunction (real AHB data contains `[939] [147]`).
func ParseConditionExpr(s string) (*ConditionExpr, error) {
	tokens, err := lexConditionExpr(s)
	if err != nil {
		return nil, err
	}
	p := &exprParser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, newExprError(t.column, "unexpected trailing token")
	}
	return expr, nil
}

func (p *exprParser) parseOr() (*ConditionExpr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	operands := []*ConditionExpr{first}
	for p.peek().kind == tokOr {
		p.next()
		operand, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, operand)
	}
	return Or(operands...), nil
}

func (p *exprParser) parseAnd() (*ConditionExpr, error) {
	first, err := p.parseXor()
	if err != nil {
		return nil, err
	}
	operands := []*ConditionExpr{first}
	for {
		switch p.peek().kind {
		case tokAnd:
			p.next()
		case tokRef, tokLParen, tokNot:
			// implicit AND by juxtaposition
		default:
			return And(operands...), nil
		}
		operand, err := p.parseXor()
		if err != nil {
			return nil, err
		}
		operands = append(operands, operand)
	}
}

func (p *exprParser) parseXor() (*ConditionExpr, error) {
	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokXor {
		p.next()
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		left = Xor(left, right)
	}
	return left, nil
}

func (p *exprParser) parseAtom() (*ConditionExpr, error) {
	t := p.next()
	switch t.kind {
	case tokRef:
		return Ref(t.ref), nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, newExprError(closing.column, "expected ')'")
		}
		return inner, nil
	case tokNot:
		inner, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		return Not(inner), nil
	}
	return nil, newExprError(t.column, "expected condition reference, '(' or NOT")
}

// ConditionContext carries the evaluation scope for condition
// functions: the message, its assembled tree, and the detected PID.
type ConditionContext struct {
	Message *MessageChunk
	Tree    *AssembledTree
	Pid     string
}

// ConditionFunc computes one condition number against a message.
type ConditionFunc func(ctx *ConditionContext) ConditionResult

// ExternalConditionProvider resolves conditions that depend on context
// outside the message itself (message splitting state, date knowledge,
// registry lookups). Absent providers leave such conditions Unknown.
type ExternalConditionProvider interface {
	Resolve(id uint32, ctx *ConditionContext) ConditionResult
}

// ConditionEvaluator dispatches condition numbers to their
// implementations for one (message type, format version) pair.
// Unregistered conditions evaluate to Unknown.
type ConditionEvaluator struct {
	MessageType   string
	FormatVersion FormatVersion
	funcs         map[uint32]ConditionFunc
	external      map[uint32]bool
	provider      ExternalConditionProvider
}

// NewConditionEvaluator creates an empty evaluator.
func NewConditionEvaluator(messageType string, fv FormatVersion) *ConditionEvaluator {
	return &ConditionEvaluator{
		MessageType:   messageType,
		FormatVersion: fv,
		funcs:         make(map[uint32]ConditionFunc),
		external:      make(map[uint32]bool),
	}
}

// Register binds a condition number to its implementation.
func (ce *ConditionEvaluator) Register(id uint32, fn ConditionFunc) {
	ce.funcs[id] = fn
}

// RegisterExternal marks a condition number as externally resolved.
func (ce *ConditionEvaluator) RegisterExternal(id uint32) {
	ce.external[id] = true
}

// SetProvider installs the resolver for external conditions.
func (ce *ConditionEvaluator) SetProvider(p ExternalConditionProvider) {
	ce.provider = p
}

// Registered reports whether the evaluator knows the given condition
// number, either internally or as external.
func (ce *ConditionEvaluator) Registered(id uint32) bool {
	if _, ok := ce.funcs[id]; ok {
		return true
	}
	return ce.external[id]
}

// Evaluate computes the expression against the context. A nil
// expression is unconditionally satisfied.
func (ce *ConditionEvaluator) Evaluate(expr *ConditionExpr, ctx *ConditionContext) ConditionResult {
	if expr == nil {
		return ResultTrue
	}
	return expr.Eval(func(id uint32) ConditionResult {
		if fn, ok := ce.funcs[id]; ok {
			return fn(ctx)
		}
		if ce.external[id] && ce.provider != nil {
			return ce.provider.Resolve(id, ctx)
		}
		return ResultUnknown
	})
}

// EvaluateStatus evaluates a parsed AHB status. Statuses without an
// expression are unconditionally satisfied.
func (ce *ConditionEvaluator) EvaluateStatus(status AhbStatus, ctx *ConditionContext) ConditionResult {
	return ce.Evaluate(status.Expr, ctx)
}
