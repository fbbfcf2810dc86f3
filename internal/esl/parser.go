package esl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Parse decodes as many complete packets as are present in buf and
// returns them along with the unconsumed remainder. It is pure, total,
// and incremental: called again with remainder plus newly-arrived
// bytes, it resumes exactly where it left off. It never discards bytes
// it has not decoded into a packet.
func Parse(buf []byte) (rest []byte, packets []*Packet) {
	for {
		sep := bytes.Index(buf, []byte("\n\n"))
		if sep < 0 {
			return buf, packets
		}

		headerBlock := buf[:sep]
		afterHeaders := buf[sep+2:]

		headers := parseHeaderLines(headerBlock)

		contentLength := 0
		if cl, ok := headers["content-length"]; ok {
			if n, err := strconv.Atoi(strings.TrimSpace(cl)); err == nil && n >= 0 {
				contentLength = n
			}
			// A malformed Content-Length is treated as 0 rather than
			// rejecting the packet.
		}

		if len(afterHeaders) < contentLength {
			// Body not fully arrived yet; wait for more bytes.
			return buf, packets
		}

		body := afterHeaders[:contentLength]
		buf = afterHeaders[contentLength:]

		packets = append(packets, decodePacket(headers, body))
	}
}

// parseHeaderLines splits a header block into a lowercased key/value
// map. A value may contain additional ':' characters; only the first
// separates key from value, and exactly one leading space is trimmed.
func parseHeaderLines(block []byte) map[string]string {
	headers := make(map[string]string)
	for _, line := range bytes.Split(block, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.ToLower(string(bytes.TrimSpace(line[:idx])))
		val := line[idx+1:]
		val = bytes.TrimPrefix(val, []byte(" "))
		headers[key] = string(val)
	}
	return headers
}

func decodePacket(headers map[string]string, body []byte) *Packet {
	p := &Packet{
		Type:    headers["content-type"],
		Headers: headers,
		Body:    body,
		JobID:   headers["job-uuid"],
	}

	switch p.Type {
	case "command/reply":
		replyText := headers["reply-text"]
		p.Success = strings.HasPrefix(replyText, "+OK")
		p.Rest = replyRest(replyText)
	case "api/response":
		p.Success = bytes.HasPrefix(body, []byte("+OK"))
	case "text/event-plain":
		p.Parsed = parseEventPlain(body)
		if p.JobID == "" {
			p.JobID = p.Parsed["Job-UUID"]
		}
	case "text/event-json":
		p.Parsed = parseEventJSON(body)
		if p.JobID == "" {
			p.JobID = p.Parsed["Job-UUID"]
		}
	}

	return p
}

// replyRest returns the text following "+OK " or "-ERR " in a
// Reply-Text header value.
func replyRest(replyText string) string {
	for _, prefix := range []string{"+OK ", "-ERR "} {
		if strings.HasPrefix(replyText, prefix) {
			return strings.TrimPrefix(replyText, prefix)
		}
	}
	return ""
}

// parseEventPlain decodes a text/event-plain body: a second header
// block whose values are URL-encoded, optionally followed by a blank
// line and a further payload whose length is given by a nested
// Content-Length header. The outer framing already guarantees the
// nested payload is fully present.
func parseEventPlain(body []byte) map[string]string {
	fields := make(map[string]string)

	sep := bytes.Index(body, []byte("\n\n"))
	headerBlock := body
	var nestedBody []byte
	if sep >= 0 {
		headerBlock = body[:sep]
		nestedBody = body[sep+2:]
	}

	for _, line := range bytes.Split(headerBlock, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := urlDecode(string(bytes.TrimSpace(line[:idx])))
		val := string(bytes.TrimPrefix(line[idx+1:], []byte(" ")))
		fields[key] = urlDecode(val)
	}

	if nestedLen, ok := fields["Content-Length"]; ok {
		if n, err := strconv.Atoi(nestedLen); err == nil && n >= 0 && n <= len(nestedBody) {
			nestedBody = nestedBody[:n]
		}
	}
	if len(nestedBody) > 0 {
		fields["_body"] = string(nestedBody)
	}

	return fields
}

// parseEventJSON decodes a text/event-json body into a flat string map.
// Non-string JSON values are rendered with their default string form.
func parseEventJSON(body []byte) map[string]string {
	fields := make(map[string]string)
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return fields
	}
	for k, v := range raw {
		switch tv := v.(type) {
		case string:
			fields[k] = tv
		case nil:
			fields[k] = ""
		default:
			fields[k] = fmt.Sprint(tv)
		}
	}
	return fields
}

// urlDecode decodes a URL-encoded event field value. Per the
// protocol's own convention, spaces are encoded as %20 rather than
// "+", so a literal "+" is preserved as-is rather than treated as a
// space. A value with no "%" is returned unchanged, so decoding twice
// equals decoding once unless the decoded text itself still contains a
// "%HH" sequence (e.g. a double-encoded "%2520").
func urlDecode(s string) string {
	if !strings.ContainsRune(s, '%') {
		return s
	}
	// url.QueryUnescape treats "+" as space; PathUnescape does not,
	// which matches this protocol's encoding.
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
