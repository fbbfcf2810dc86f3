package esl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// encodeSimple formats a plain command line: "<verb> <args>\n\n".
func encodeSimple(verb, args string) []byte {
	var b strings.Builder
	b.WriteString(verb)
	if args != "" {
		b.WriteByte(' ')
		b.WriteString(args)
	}
	b.WriteString("\n\n")
	return []byte(b.String())
}

// encodeWithHeaders formats a command that carries its own header
// block and optional body, as used by sendmsg and sendevent: a verb
// line, then "Name: Value" lines, then — if a body is present — a
// blank line and the body. Content-Length (and Content-Type when
// bodyContentType is non-empty) are injected from the body's length.
func encodeWithHeaders(verbLine string, headers map[string]string, bodyContentType string, body []byte) []byte {
	var b strings.Builder
	b.WriteString(verbLine)
	b.WriteByte('\n')

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, headers[k])
	}

	if len(body) > 0 {
		if bodyContentType != "" {
			fmt.Fprintf(&b, "Content-Type: %s\n", bodyContentType)
		}
		fmt.Fprintf(&b, "Content-Length: %d\n", len(body))
		b.WriteByte('\n')
		b.Write(body)
	} else {
		b.WriteByte('\n')
	}

	return []byte(b.String())
}

func encodeAPI(cmd, args string) []byte {
	return encodeSimple("api", strings.TrimSpace(cmd+" "+args))
}

func encodeBgapi(cmd, args, jobID string) []byte {
	verb := encodeSimple("bgapi", strings.TrimSpace(cmd+" "+args))
	return appendHeaderLine(verb, "Job-UUID", jobID)
}

// appendHeaderLine inserts "Name: Value\n" before the trailing blank
// line of an already-encoded simple command.
func appendHeaderLine(encoded []byte, name, value string) []byte {
	s := strings.TrimSuffix(string(encoded), "\n\n")
	return []byte(s + "\n" + name + ": " + value + "\n\n")
}

func encodeEvent(format string, names []string) []byte {
	args := format
	if len(names) > 0 {
		args += " " + strings.Join(names, " ")
	}
	return encodeSimple("event", args)
}

func encodeMyevents(format, uuid string) []byte {
	if format == "" {
		format = "plain"
	}
	return encodeSimple("myevents", format+" "+uuid)
}

func encodeDivertEvents(on bool) []byte {
	state := "off"
	if on {
		state = "on"
	}
	return encodeSimple("divert_events", state)
}

func encodeFilter(key, value string) []byte {
	return encodeSimple("filter", key+" "+value)
}

func encodeFilterDelete(key, value string) []byte {
	args := key
	if value != "" {
		args += " " + value
	}
	return encodeSimple("filter delete", args)
}

func encodeSendevent(name string, headers map[string]string, body []byte) []byte {
	return encodeWithHeaders("sendevent "+name, headers, "", body)
}

func encodeSendmsg(uuid string, headers map[string]string, body []byte) []byte {
	verb := "sendmsg"
	if uuid != "" {
		verb += " " + uuid
	}
	contentType := ""
	if len(body) > 0 {
		contentType = "text/plain"
	}
	return encodeWithHeaders(verb, headers, contentType, body)
}

func encodeLog(level string) []byte {
	return encodeSimple("log", level)
}

func encodeNolog() []byte {
	return encodeSimple("nolog", "")
}

func encodeNixevent(names []string) []byte {
	return encodeSimple("nixevent", strings.Join(names, " "))
}

func encodeNoevents() []byte {
	return encodeSimple("noevents", "")
}

func encodeLinger(seconds int) []byte {
	args := ""
	if seconds > 0 {
		args = strconv.Itoa(seconds)
	}
	return encodeSimple("linger", args)
}

func encodeNolinger() []byte {
	return encodeSimple("nolinger", "")
}

func encodeExit() []byte {
	return encodeSimple("exit", "")
}

func encodeAuth(password string) []byte {
	return encodeSimple("auth", password)
}
