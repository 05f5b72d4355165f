package crs

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// node is one keyword of a WKT CRS definition, e.g. PROJCS["name", GEOGCS[...], ...].
type node struct {
	Name string
	Args []any // string, float64 or *node
}

func (n *node) child(name string) *node {
	for _, a := range n.Args {
		if c, ok := a.(*node); ok && strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

func (n *node) children(name string) []*node {
	var out []*node
	for _, a := range n.Args {
		if c, ok := a.(*node); ok && strings.EqualFold(c.Name, name) {
			out = append(out, c)
		}
	}
	return out
}

func (n *node) str(i int) string {
	if i < len(n.Args) {
		if s, ok := n.Args[i].(string); ok {
			return s
		}
	}
	return ""
}

func (n *node) num(i int) (float64, bool) {
	if i < len(n.Args) {
		if f, ok := n.Args[i].(float64); ok {
			return f, true
		}
	}
	return 0, false
}

// find does a depth-first search for the first node with the given keyword.
func (n *node) find(name string) *node {
	if strings.EqualFold(n.Name, name) {
		return n
	}
	for _, a := range n.Args {
		if c, ok := a.(*node); ok {
			if f := c.find(name); f != nil {
				return f
			}
		}
	}
	return nil
}

type wktParser struct {
	s   string
	pos int
}

func parseWKT(s string) (*node, error) {
	p := &wktParser{s: strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))}
	if p.s == "" {
		return nil, fmt.Errorf("empty wkt")
	}
	n, err := p.node()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("trailing data at offset %d", p.pos)
	}
	return n, nil
}

func (p *wktParser) skipSpace() {
	for p.pos < len(p.s) && unicode.IsSpace(rune(p.s[p.pos])) {
		p.pos++
	}
}

func (p *wktParser) node() (*node, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && (isIdent(p.s[p.pos])) {
		p.pos++
	}
	if start == p.pos {
		return nil, fmt.Errorf("expected keyword at offset %d", p.pos)
	}
	n := &node{Name: strings.ToUpper(p.s[start:p.pos])}
	p.skipSpace()
	if p.pos >= len(p.s) {
		return n, nil
	}
	open := p.s[p.pos]
	if open != '[' && open != '(' {
		return n, nil
	}
	closer := byte(']')
	if open == '(' {
		closer = ')'
	}
	p.pos++
	for {
		p.skipSpace()
		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("unterminated %s", n.Name)
		}
		c := p.s[p.pos]
		switch {
		case c == closer:
			p.pos++
			return n, nil
		case c == ',':
			p.pos++
		case c == '"':
			s, err := p.quoted()
			if err != nil {
				return nil, err
			}
			n.Args = append(n.Args, s)
		case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
			f, err := p.number()
			if err != nil {
				return nil, err
			}
			n.Args = append(n.Args, f)
		case isIdent(c):
			child, err := p.node()
			if err != nil {
				return nil, err
			}
			n.Args = append(n.Args, child)
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", c, p.pos)
		}
	}
}

func (p *wktParser) quoted() (string, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		p.pos++
		if c == '"' {
			// "" is an escaped quote
			if p.pos < len(p.s) && p.s[p.pos] == '"' {
				b.WriteByte('"')
				p.pos++
				continue
			}
			return b.String(), nil
		}
		b.WriteByte(c)
	}
	return "", fmt.Errorf("unterminated string")
}

func (p *wktParser) number() (float64, error) {
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+' || c == 'e' || c == 'E' {
			p.pos++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(p.s[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("number at offset %d: %w", start, err)
	}
	return f, nil
}

func isIdent(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
