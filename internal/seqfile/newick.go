package seqfile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTree — строка не является деревом в формате Newick.
var ErrInvalidTree = errors.New("invalid newick tree")

// Node — узел филогенетического дерева.
type Node struct {
	Name     string
	Length   float64
	Children []*Node
}

// IsLeaf возвращает true для листа.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Find ищет узел по имени (обход в глубину, первый найденный).
func (n *Node) Find(name string) *Node {
	if n.Name == name {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// Leaves возвращает имена листьев слева направо.
func (n *Node) Leaves() []string {
	var out []string
	n.walk(func(node *Node) {
		if node.IsLeaf() {
			out = append(out, node.Name)
		}
	})
	return out
}

// Names возвращает имена всех узлов поддерева в прямом порядке обхода.
func (n *Node) Names() []string {
	var out []string
	n.walk(func(node *Node) {
		if node.Name != "" {
			out = append(out, node.Name)
		}
	})
	return out
}

func (n *Node) walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.walk(fn)
	}
}

// ParseNewick разбирает дерево вида "((A:0.1,B:0.2)anc1,C)anc0;".
func ParseNewick(s string) (*Node, error) {
	p := &newickParser{src: strings.TrimSpace(s)}
	root, err := p.node()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.peek() == ';' {
		p.pos++
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected trailing input")
	}
	return root, nil
}

type newickParser struct {
	src string
	pos int
}

func (p *newickParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: at offset %d: %s", ErrInvalidTree, p.pos, fmt.Sprintf(format, args...))
}

func (p *newickParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *newickParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n' || p.src[p.pos] == '\r') {
		p.pos++
	}
}

func (p *newickParser) node() (*Node, error) {
	n := &Node{}
	p.skipSpace()
	if p.peek() == '(' {
		p.pos++
		for {
			child, err := p.node()
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
			p.skipSpace()
			switch p.peek() {
			case ',':
				p.pos++
				continue
			case ')':
				p.pos++
			default:
				return nil, p.errorf("expected ',' or ')'")
			}
			break
		}
	}

	p.skipSpace()
	n.Name = p.label()

	p.skipSpace()
	if p.peek() == ':' {
		p.pos++
		raw := p.label()
		length, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, p.errorf("invalid branch length %q", raw)
		}
		n.Length = length
	}

	if n.IsLeaf() && n.Name == "" {
		return nil, p.errorf("leaf without a name")
	}
	return n, nil
}

func (p *newickParser) label() string {
	start := p.pos
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '(', ')', ',', ':', ';', ' ', '\t', '\n', '\r':
			return p.src[start:p.pos]
		}
		p.pos++
	}
	return p.src[start:p.pos]
}
