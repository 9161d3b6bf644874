package queryir

import (
	"github.com/roach88/dsq/internal/dserr"
)

// Predicate is a parsed condition tree.
//
// This is a sealed interface: only Leaf, And, Or and Group implement it, so
// renderers can switch over it exhaustively.
//
// AND binds tighter than OR, so an And inside an Or needs no parentheses.
// Parentheses the caller asked for with Begin/End survive as Group nodes.
type Predicate interface {
	predicateNode()
}

// Leaf is a single condition.
type Leaf struct {
	Condition Condition
}

// And is a conjunction of two or more predicates.
type And struct {
	Items []Predicate
}

// Or is a disjunction of two or more predicates.
type Or struct {
	Items []Predicate
}

// Group is an explicit parenthesized predicate.
type Group struct {
	Inner Predicate
}

func (Leaf) predicateNode()  {}
func (And) predicateNode()   {}
func (Or) predicateNode()    {}
func (Group) predicateNode() {}

// Leaves returns the conditions of p in their original order.
func Leaves(p Predicate) []Condition {
	var out []Condition
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch n := p.(type) {
		case Leaf:
			out = append(out, n.Condition)
		case And:
			for _, it := range n.Items {
				walk(it)
			}
		case Or:
			for _, it := range n.Items {
				walk(it)
			}
		case Group:
			walk(n.Inner)
		}
	}
	if p != nil {
		walk(p)
	}
	return out
}

type tokenKind int

const (
	tokLeaf tokenKind = iota
	tokAnd
	tokOr
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	leaf int
}

// BuildTree parses a flat condition list into a predicate tree. Each
// condition contributes its connective (AND, or OR when Or is set; ignored
// on the first), Begin opening parentheses, itself, and End closing
// parentheses. An empty list yields a nil predicate.
//
// Unbalanced grouping is a configuration error.
func BuildTree(conds []Condition) (Predicate, error) {
	if len(conds) == 0 {
		return nil, nil
	}

	var toks []token
	depth := 0
	for i, c := range conds {
		if c.Begin < 0 || c.End < 0 {
			return nil, dserr.Configuration("build condition tree", "condition on %s.%s has negative grouping", c.Alias, c.Field)
		}
		if i > 0 {
			if c.Or {
				toks = append(toks, token{kind: tokOr})
			} else {
				toks = append(toks, token{kind: tokAnd})
			}
		}
		for range c.Begin {
			toks = append(toks, token{kind: tokOpen})
		}
		toks = append(toks, token{kind: tokLeaf, leaf: i})
		depth += c.Begin - c.End
		if depth < 0 {
			return nil, dserr.Configuration("build condition tree", "group closed after %s.%s was never opened", c.Alias, c.Field)
		}
		for range c.End {
			toks = append(toks, token{kind: tokClose})
		}
	}
	if depth != 0 {
		return nil, dserr.Configuration("build condition tree", "%d group(s) left open", depth)
	}

	p := &treeParser{toks: toks, conds: conds}
	return p.expr(), nil
}

// treeParser is a recursive-descent parser over balanced tokens.
//
//	expr   := term { OR term }
//	term   := factor { AND factor }
//	factor := "(" expr ")" | leaf
type treeParser struct {
	toks  []token
	pos   int
	conds []Condition
}

func (p *treeParser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *treeParser) expr() Predicate {
	items := []Predicate{p.term()}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			break
		}
		p.pos++
		items = append(items, p.term())
	}
	if len(items) == 1 {
		return items[0]
	}
	return Or{Items: items}
}

func (p *treeParser) term() Predicate {
	items := []Predicate{p.factor()}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			break
		}
		p.pos++
		items = append(items, p.factor())
	}
	if len(items) == 1 {
		return items[0]
	}
	return And{Items: items}
}

func (p *treeParser) factor() Predicate {
	t := p.toks[p.pos]
	p.pos++
	if t.kind == tokOpen {
		inner := p.expr()
		p.pos++ // closing parenthesis, guaranteed by the balance check
		return Group{Inner: inner}
	}
	return Leaf{Condition: p.conds[t.leaf]}
}
