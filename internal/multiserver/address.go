// Package multiserver parses layered peer addresses such as
// "net:10.0.0.2:8008~shs:<base64 key>".
//
// Addresses are separated by ';', protocols within an address by '~' and a
// protocol's name from its data segments by ':'. Within data, '!' escapes
// any of "!:;~".
package multiserver

import (
	"fmt"
	"strings"
)

// Protocol is one layer of an address.
type Protocol struct {
	Name string
	Data []string
}

// Address is a stack of protocols, outermost first.
type Address struct {
	Protocols []Protocol
}

// MultiAddress lists alternative addresses for one peer.
type MultiAddress struct {
	Addresses []Address
}

func isReserved(c byte) bool {
	return c == '!' || c == ':' || c == ';' || c == '~'
}

func isDataChar(c byte) bool {
	return (c >= '"' && c <= '9') || (c >= '<' && c <= '}')
}

func (p Protocol) String() string {
	var b strings.Builder
	b.WriteString(p.Name)
	for _, d := range p.Data {
		b.WriteByte(':')
		for i := 0; i < len(d); i++ {
			if isReserved(d[i]) {
				b.WriteByte('!')
			}
			b.WriteByte(d[i])
		}
	}
	return b.String()
}

func (a Address) String() string {
	parts := make([]string, len(a.Protocols))
	for i, p := range a.Protocols {
		parts[i] = p.String()
	}
	return strings.Join(parts, "~")
}

func (m MultiAddress) String() string {
	parts := make([]string, len(m.Addresses))
	for i, a := range m.Addresses {
		parts[i] = a.String()
	}
	return strings.Join(parts, ";")
}

// Find returns the first protocol named name.
func (a Address) Find(name string) (Protocol, bool) {
	for _, p := range a.Protocols {
		if p.Name == name {
			return p, true
		}
	}
	return Protocol{}, false
}

// NetSHS extracts the TCP host:port and the base64 server key from a
// "net:host:port~shs:key" address.
func (a Address) NetSHS() (hostport, key string, err error) {
	n, ok := a.Find("net")
	if !ok || len(n.Data) != 2 {
		return "", "", fmt.Errorf("address %s has no net:host:port layer", a)
	}
	s, ok := a.Find("shs")
	if !ok || len(s.Data) < 1 {
		return "", "", fmt.Errorf("address %s has no shs:key layer", a)
	}
	host := n.Data[0]
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return host + ":" + n.Data[1], s.Data[0], nil
}

// Parse decodes s. The empty string is a MultiAddress with no addresses.
func Parse(s string) (MultiAddress, error) {
	p := &parser{s: s}
	m, err := p.multiAddress()
	if err != nil {
		return MultiAddress{}, err
	}
	return m, nil
}

type parser struct {
	s   string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("multiserver: at offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) peek() (byte, bool) {
	if p.pos >= len(p.s) {
		return 0, false
	}
	return p.s[p.pos], true
}

func (p *parser) multiAddress() (MultiAddress, error) {
	var m MultiAddress
	if p.s == "" {
		return m, nil
	}
	for {
		a, err := p.address()
		if err != nil {
			return MultiAddress{}, err
		}
		m.Addresses = append(m.Addresses, a)
		c, ok := p.peek()
		if !ok {
			return m, nil
		}
		if c != ';' {
			return MultiAddress{}, p.errorf("unexpected %q", c)
		}
		p.pos++
	}
}

func (p *parser) address() (Address, error) {
	var a Address
	for {
		proto, err := p.protocol()
		if err != nil {
			return Address{}, err
		}
		a.Protocols = append(a.Protocols, proto)
		if c, ok := p.peek(); !ok || c != '~' {
			return a, nil
		}
		p.pos++
	}
}

func (p *parser) protocol() (Protocol, error) {
	name, err := p.name()
	if err != nil {
		return Protocol{}, err
	}
	proto := Protocol{Name: name}
	for {
		if c, ok := p.peek(); !ok || c != ':' {
			return proto, nil
		}
		p.pos++
		proto.Data = append(proto.Data, p.data())
	}
}

// name is a lowercase letter followed by one or more of [a-z0-9-].
func (p *parser) name() (string, error) {
	start := p.pos
	if c, ok := p.peek(); !ok || c < 'a' || c > 'z' {
		return "", p.errorf("expected protocol name")
	}
	p.pos++
	for {
		c, ok := p.peek()
		if !ok || !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-') {
			break
		}
		p.pos++
	}
	if p.pos-start < 2 {
		return "", p.errorf("protocol name too short")
	}
	return p.s[start:p.pos], nil
}

func (p *parser) data() string {
	var b strings.Builder
	for {
		c, ok := p.peek()
		if !ok {
			return b.String()
		}
		if c == '!' && p.pos+1 < len(p.s) && isReserved(p.s[p.pos+1]) {
			b.WriteByte(p.s[p.pos+1])
			p.pos += 2
			continue
		}
		if !isDataChar(c) {
			return b.String()
		}
		b.WriteByte(c)
		p.pos++
	}
}
