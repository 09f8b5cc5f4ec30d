// Package rewrite rewrites origin URLs inside podcast RSS documents.
//
// The document is processed as a stream of XML tokens. Element names are
// resolved against the in-scope namespace declarations for matching, while
// the original prefixes are written back unchanged. Output is buffered in
// full, so a malformed document never produces partial output.
package rewrite

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"podcast-feed-proxy/internal/allowlist"
	"podcast-feed-proxy/internal/config"
)

// Namespaces whose elements carry rewritable URLs.
const (
	AtomNamespace   = "http://www.w3.org/2005/Atom"
	ITunesNamespace = "http://www.itunes.com/dtds/podcast-1.0.dtd"
)

// xmlNamespace is implicitly bound to the "xml" prefix.
const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// byteOrderMark is a UTF-8 encoded U+FEFF, allowed before the prolog.
var byteOrderMark = []byte("\ufeff")

var (
	enclosureName   = xml.Name{Local: "enclosure"}
	imageName       = xml.Name{Local: "image"}
	urlName         = xml.Name{Local: "url"}
	atomLinkName    = xml.Name{Space: AtomNamespace, Local: "link"}
	itunesImageName = xml.Name{Space: ITunesNamespace, Local: "image"}
)

// ParseError reports a feed that is not well-formed XML.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "rewrite: malformed feed: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Allower decides whether an image URL may be wrapped in a relay link.
type Allower interface {
	Allowed(rawURL string) bool
}

// Rewriter replaces origin URLs in feeds with proxy URLs. It holds no
// per-document state and is safe for concurrent use.
type Rewriter struct {
	oldBase string
	newBase string
	token   string
	allow   Allower
}

// New creates a Rewriter from the feed, auth and relay configuration.
func New(cfg *config.Config, policy *allowlist.Policy) *Rewriter {
	return NewRewriter(cfg.Feed.OldBase, cfg.Feed.NewBase, cfg.Auth.Token, policy)
}

// NewRewriter creates a Rewriter. An empty token produces relay links
// without a token parameter.
func NewRewriter(oldBase, newBase, token string, allow Allower) *Rewriter {
	return &Rewriter{
		oldBase: oldBase,
		newBase: newBase,
		token:   token,
		allow:   allow,
	}
}

// RelayURL returns the proxy link that relays href through /cloudfront.
// href is appended verbatim.
func (r *Rewriter) RelayURL(href string) string {
	var b strings.Builder
	b.WriteString(r.newBase)
	b.WriteString("cloudfront?")
	if r.token != "" {
		b.WriteString("token=")
		b.WriteString(r.token)
		b.WriteByte('&')
	}
	b.WriteString("url=")
	b.WriteString(href)
	return b.String()
}

// RewriteBytes is Rewrite over an in-memory document.
func (r *Rewriter) RewriteBytes(doc []byte) ([]byte, error) {
	return r.Rewrite(bytes.NewReader(doc))
}

// Rewrite reads an XML document from src and returns the rewritten document
// encoded as UTF-8. Any XML declaration in the source is replaced by a UTF-8
// one. A *ParseError is returned if src is not well-formed.
func (r *Rewriter) Rewrite(src io.Reader) ([]byte, error) {
	dec := xml.NewDecoder(src)
	dec.CharsetReader = charset.NewReaderLabel

	var out bytes.Buffer
	out.WriteString(xml.Header)
	enc := xml.NewEncoder(&out)

	d := &document{r: r, enc: enc}
	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		if err := d.token(tok); err != nil {
			return nil, err
		}
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// element is an open element: its name as written and as resolved.
type element struct {
	raw      xml.Name
	resolved xml.Name
}

// document carries the state of one Rewrite call.
type document struct {
	r       *Rewriter
	enc     *xml.Encoder
	scopes  []map[string]string
	open    []element
	sawRoot bool

	// text collects the content of an <image><url> element; nil otherwise.
	text *strings.Builder
}

func (d *document) token(tok xml.Token) error {
	switch t := tok.(type) {
	case xml.ProcInst:
		if t.Target == "xml" {
			return nil
		}
		if err := d.flushText(false); err != nil {
			return err
		}
		return d.encode(t)

	case xml.StartElement:
		if len(d.open) == 0 && d.sawRoot {
			return &ParseError{Err: fmt.Errorf("second root element <%s>", rawName(t.Name))}
		}
		d.sawRoot = true
		if err := d.flushText(false); err != nil {
			return err
		}

		d.pushScope(t.Attr)
		name := d.resolve(t.Name)
		var parent xml.Name
		if n := len(d.open); n > 0 {
			parent = d.open[n-1].resolved
		}
		d.open = append(d.open, element{raw: t.Name, resolved: name})

		start := xml.StartElement{Name: flatten(t.Name), Attr: d.rewriteAttrs(name, t.Attr)}
		if err := d.encode(start); err != nil {
			return err
		}
		if name == urlName && parent == imageName {
			d.text = &strings.Builder{}
		}
		return nil

	case xml.EndElement:
		n := len(d.open)
		if n == 0 {
			return &ParseError{Err: fmt.Errorf("unexpected end element </%s>", rawName(t.Name))}
		}
		if top := d.open[n-1]; top.raw != t.Name {
			return &ParseError{Err: fmt.Errorf("element <%s> closed by </%s>", rawName(top.raw), rawName(t.Name))}
		}
		if err := d.flushText(true); err != nil {
			return err
		}
		d.open = d.open[:n-1]
		d.scopes = d.scopes[:len(d.scopes)-1]
		return d.encode(xml.EndElement{Name: flatten(t.Name)})

	case xml.CharData:
		if d.text != nil {
			d.text.Write(t)
			return nil
		}
		if len(d.open) == 0 {
			if !d.sawRoot {
				t = bytes.TrimPrefix(t, byteOrderMark)
			}
			// Whitespace around the root is dropped so output layout is stable.
			if len(bytes.TrimSpace(t)) > 0 {
				return &ParseError{Err: errors.New("character data outside the root element")}
			}
			return nil
		}
		return d.encode(t)

	default:
		// A comment or directive inside <image><url> ends the collected text.
		if err := d.flushText(false); err != nil {
			return err
		}
		return d.encode(tok)
	}
}

// finish checks that the document was complete and flushes the encoder.
func (d *document) finish() error {
	if !d.sawRoot {
		return &ParseError{Err: errors.New("document has no root element")}
	}
	if n := len(d.open); n > 0 {
		return &ParseError{Err: fmt.Errorf("unexpected EOF: <%s> not closed", rawName(d.open[n-1].raw))}
	}
	if err := d.enc.Close(); err != nil {
		return &ParseError{Err: err}
	}
	return nil
}

// flushText writes out collected <image><url> text. When closing is true the
// element ended normally and the text is rewritten; otherwise a child element,
// comment or processing instruction interrupted it and the text is written
// as-is.
func (d *document) flushText(closing bool) error {
	if d.text == nil {
		return nil
	}
	s := d.text.String()
	d.text = nil
	if closing {
		s = d.r.relayText(s)
	}
	if s == "" {
		return nil
	}
	return d.encode(xml.CharData(s))
}

func (d *document) encode(tok xml.Token) error {
	if err := d.enc.EncodeToken(tok); err != nil {
		return &ParseError{Err: err}
	}
	return nil
}

// rewriteAttrs returns attrs with names flattened to prefix:local form and
// URL attributes of name rewritten.
func (d *document) rewriteAttrs(name xml.Name, attrs []xml.Attr) []xml.Attr {
	var target string
	var fn func(string) string
	switch name {
	case enclosureName:
		target, fn = "url", d.r.replaceBase
	case atomLinkName:
		target, fn = "href", d.r.replaceBase
	case itunesImageName:
		target, fn = "href", d.r.relayIfAllowed
	}

	out := make([]xml.Attr, len(attrs))
	for i, a := range attrs {
		v := a.Value
		if fn != nil && a.Name.Space == "" && a.Name.Local == target {
			v = fn(v)
		}
		out[i] = xml.Attr{Name: flatten(a.Name), Value: v}
	}
	return out
}

// pushScope opens a namespace scope holding the declarations in attrs.
func (d *document) pushScope(attrs []xml.Attr) {
	var scope map[string]string
	for _, a := range attrs {
		prefix, ok := "", false
		switch {
		case a.Name.Space == "xmlns":
			prefix, ok = a.Name.Local, true
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			ok = true
		}
		if !ok {
			continue
		}
		if scope == nil {
			scope = make(map[string]string)
		}
		scope[prefix] = a.Value
	}
	d.scopes = append(d.scopes, scope)
}

// resolve maps a raw element name to its namespace URL. Unbound prefixes are
// kept as the namespace, matching encoding/xml's own behavior.
func (d *document) resolve(n xml.Name) xml.Name {
	if n.Space == "xml" {
		return xml.Name{Space: xmlNamespace, Local: n.Local}
	}
	for i := len(d.scopes) - 1; i >= 0; i-- {
		if uri, ok := d.scopes[i][n.Space]; ok {
			return xml.Name{Space: uri, Local: n.Local}
		}
	}
	return n
}

// replaceBase substitutes every occurrence of the old base with the new one.
func (r *Rewriter) replaceBase(v string) string {
	return strings.ReplaceAll(v, r.oldBase, r.newBase)
}

// relayIfAllowed wraps v in a relay link when the allow-list accepts it.
func (r *Rewriter) relayIfAllowed(v string) string {
	if !r.allow.Allowed(v) {
		return v
	}
	return r.RelayURL(v)
}

// relayText is relayIfAllowed for element text, ignoring surrounding
// whitespace when matching.
func (r *Rewriter) relayText(s string) string {
	trimmed := strings.TrimSpace(s)
	if !r.allow.Allowed(trimmed) {
		return s
	}
	return r.RelayURL(trimmed)
}

// flatten turns a raw prefixed name into a single local name so the encoder
// writes it verbatim instead of inventing its own prefixes.
func flatten(n xml.Name) xml.Name {
	if n.Space == "" {
		return n
	}
	return xml.Name{Local: n.Space + ":" + n.Local}
}

func rawName(n xml.Name) string {
	return flatten(n).Local
}
