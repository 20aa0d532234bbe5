// Package tagparser extracts inline structured tag spans — <name attr="v">
// body</name> — from a chunked text stream, degrading anything malformed to
// plain text rather than failing. It never returns a parse error; a model
// that emits broken markup is still fully streamable.
package tagparser

import "strings"

// Tag is one recognised <name attr="v">body</name> span.
//
// Attributes whose key repeats collapse to a list in order of appearance;
// a key with a single occurrence stays a plain string. Callers that only
// care about the first value can use First.
type Tag struct {
	Name  string
	Attrs map[string]any
	Body  string
}

// First returns the first (or only) value bound to key, and whether key was
// present at all.
func (t Tag) First(key string) (string, bool) {
	v, ok := t.Attrs[key]
	if !ok {
		return "", false
	}
	switch vv := v.(type) {
	case string:
		return vv, true
	case []string:
		if len(vv) == 0 {
			return "", false
		}
		return vv[0], true
	default:
		return "", false
	}
}

// Parser is a single-threaded, resettable buffered scanner. Feed it chunks
// in order via Feed; each call returns the text fragments and tags that
// became determinable from the newly available data. Call Flush once the
// upstream stream ends to drain any residual buffer as trailing text.
//
// Parser holds no goroutines and is not safe for concurrent use — callers
// that need concurrent fan-out should run one Parser per consumer inside
// pipeline's dispatch loop.
type Parser struct {
	buf        strings.Builder
	lastWasTag bool
}

// New returns a ready-to-use Parser.
func New() *Parser {
	return &Parser{}
}

// Reset clears all internal state, allowing the Parser to be reused for a
// new stream without reallocating.
func (p *Parser) Reset() {
	p.buf.Reset()
	p.lastWasTag = false
}

// Feed appends chunk to the internal buffer and extracts every text
// fragment and tag that can be determined without further input. A tag
// opened but not yet closed (or whose close tag has not arrived) is left
// unconsumed in the buffer awaiting the next Feed or Flush. Text that
// follows a tag stays buffered until the next '<' or Flush.
func (p *Parser) Feed(chunk string) ([]string, []Tag) {
	p.buf.WriteString(chunk)
	return p.drain(false)
}

// Flush signals end-of-stream: any residual buffered text is emitted (left
// trimmed if the previous emission was a tag), and the Parser is left
// reset for reuse.
func (p *Parser) Flush() ([]string, []Tag) {
	text, tags := p.drain(true)
	p.Reset()
	return text, tags
}

// drain repeatedly extracts leading text and tags from the buffer. When
// final is false, it stops once it can no longer determine a boundary
// (e.g. an unclosed tag) and leaves the remainder buffered. When final is
// true, any remainder is flushed as text.
func (p *Parser) drain(final bool) ([]string, []Tag) {
	var texts []string
	var tags []Tag

	for {
		buf := p.buf.String()
		if buf == "" {
			break
		}

		lt := strings.IndexByte(buf, '<')
		if lt < 0 {
			if !final && p.lastWasTag {
				// Text right after a tag stays buffered until the next '<'
				// or Flush, so the left trim applies to the whole run rather
				// than to its first chunk only.
				break
			}
			p.buf.Reset()
			if t := p.emitText(buf); t != "" {
				texts = append(texts, t)
			}
			break
		}

		if lt > 0 {
			leading := buf[:lt]
			rest := buf[lt:]
			if t := p.emitText(leading); t != "" {
				texts = append(texts, t)
			}
			p.buf.Reset()
			p.buf.WriteString(rest)
			buf = rest
		}

		gt := strings.IndexByte(buf, '>')
		if gt < 0 {
			// Tag head not yet complete; wait for more data unless this is
			// the final flush, in which case the stray '<' degrades to text.
			if final {
				p.buf.Reset()
				if t := p.emitText(buf); t != "" {
					texts = append(texts, t)
				}
			}
			break
		}

		head := buf[1:gt] // between '<' and '>'

		if strings.HasPrefix(head, "/") {
			// Closing tag with no matching open: drop it silently.
			p.buf.Reset()
			p.buf.WriteString(buf[gt+1:])
			continue
		}

		selfClosing := strings.HasSuffix(head, "/")
		headBody := strings.TrimSuffix(head, "/")
		name, attrs := parseHead(headBody)
		if name == "" {
			// Not a tag at all (e.g. "< foo"); degrade the '<' to text and
			// keep scanning from just after it.
			p.buf.Reset()
			if t := p.emitText(buf[:1]); t != "" {
				texts = append(texts, t)
			}
			p.buf.WriteString(buf[1:])
			continue
		}

		if selfClosing {
			tags = append(tags, Tag{Name: name, Attrs: attrs})
			p.lastWasTag = true
			p.buf.Reset()
			p.buf.WriteString(buf[gt+1:])
			continue
		}

		closeTag := "</" + name + ">"
		rest := buf[gt+1:]
		idx := strings.Index(rest, closeTag)
		if idx < 0 {
			if final {
				// No closing tag will ever arrive: degrade the opening tag
				// to text and keep the rest buffered for further scanning.
				if t := p.emitText(buf[:gt+1]); t != "" {
					texts = append(texts, t)
				}
				p.buf.Reset()
				p.buf.WriteString(rest)
				continue
			}
			// Unconsume: wait for more data.
			break
		}

		body := rest[:idx]
		tags = append(tags, Tag{Name: name, Attrs: attrs, Body: strings.TrimSpace(body)})
		p.lastWasTag = true
		p.buf.Reset()
		p.buf.WriteString(rest[idx+len(closeTag):])
	}

	return texts, tags
}

// emitText applies boundary trimming and updates lastWasTag. Interior
// whitespace is always preserved; only the edge adjacent to a tag is
// trimmed.
func (p *Parser) emitText(s string) string {
	if p.lastWasTag {
		s = strings.TrimLeft(s, " \t\r\n")
	}
	p.lastWasTag = false
	if s == "" {
		return ""
	}
	return s
}

// parseHead splits a tag head ("name k=\"v\" bare") into its name and
// attribute map. Unparseable heads return an empty name, signalling the
// caller to degrade the construct to text.
func parseHead(head string) (string, map[string]any) {
	head = strings.TrimSpace(head)
	if head == "" {
		return "", nil
	}

	fields := splitHeadFields(head)
	if len(fields) == 0 {
		return "", nil
	}
	name := fields[0]
	if !isValidName(name) {
		return "", nil
	}

	var attrs map[string]any
	for _, f := range fields[1:] {
		key, val := splitAttr(f)
		if key == "" {
			continue
		}
		if attrs == nil {
			attrs = make(map[string]any)
		}
		addAttr(attrs, key, val)
	}
	return name, attrs
}

// splitHeadFields splits a tag head on whitespace, respecting quoted
// attribute values so "k=\"a b\"" stays one field.
func splitHeadFields(head string) []string {
	var fields []string
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(head); i++ {
		c := head[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
			cur.WriteByte(c)
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}

// splitAttr parses one "key=\"v\"", "key='v'", "key=v", or bare "key" field.
func splitAttr(field string) (string, string) {
	eq := strings.IndexByte(field, '=')
	if eq < 0 {
		key := strings.TrimSpace(field)
		if !isValidName(key) {
			return "", ""
		}
		return key, ""
	}
	key := strings.TrimSpace(field[:eq])
	if !isValidName(key) {
		return "", ""
	}
	val := field[eq+1:]
	if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
		val = val[1 : len(val)-1]
	}
	return key, val
}

// addAttr inserts key=val, collapsing repeats into a []string.
func addAttr(attrs map[string]any, key, val string) {
	existing, ok := attrs[key]
	if !ok {
		attrs[key] = val
		return
	}
	switch v := existing.(type) {
	case string:
		attrs[key] = []string{v, val}
	case []string:
		attrs[key] = append(v, val)
	}
}

func isValidName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == ':'
		if !isAlnum {
			return false
		}
	}
	return true
}
