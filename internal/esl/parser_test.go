package esl

import (
	"bytes"
	"testing"
)

func TestParse_SimpleCommandReply(t *testing.T) {
	input := []byte("Content-Type: command/reply\nReply-Text: +OK accepted\n\n")

	rest, packets := Parse(input)

	if len(rest) != 0 {
		t.Fatalf("rest = %q, want empty", rest)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	p := packets[0]
	if p.Type != "command/reply" {
		t.Errorf("Type = %q", p.Type)
	}
	if !p.Success {
		t.Error("Success = false, want true")
	}
	if p.Rest != "accepted" {
		t.Errorf("Rest = %q, want %q", p.Rest, "accepted")
	}
}

func TestParse_ErrReplyIsNotSuccess(t *testing.T) {
	input := []byte("Content-Type: command/reply\nReply-Text: -ERR no such command\n\n")

	_, packets := Parse(input)
	if packets[0].Success {
		t.Error("Success = true, want false for -ERR reply")
	}
	if packets[0].Rest != "no such command" {
		t.Errorf("Rest = %q", packets[0].Rest)
	}
}

func TestParse_ApiResponseWithBody(t *testing.T) {
	input := []byte("Content-Type: api/response\nContent-Length: 5\n\n+OK\n\n")

	rest, packets := Parse(input)
	if len(rest) != 0 {
		t.Fatalf("rest = %q, want empty", rest)
	}
	p := packets[0]
	if !p.Success {
		t.Error("Success = false, want true")
	}
	if !bytes.Equal(p.Body, []byte("+OK\n\n")) {
		t.Errorf("Body = %q", p.Body)
	}
}

func TestParse_IncompleteBodyWaitsForMoreBytes(t *testing.T) {
	input := []byte("Content-Type: api/response\nContent-Length: 10\n\n+OK\n\n")

	rest, packets := Parse(input)
	if len(packets) != 0 {
		t.Fatalf("got %d packets, want 0 (body incomplete)", len(packets))
	}
	if !bytes.Equal(rest, input) {
		t.Error("remainder should be the whole buffer when the body hasn't fully arrived")
	}
}

func TestParse_NoBlankLineReturnsWholeBufferAsRemainder(t *testing.T) {
	input := []byte("Content-Type: command/reply\nReply-Text: +OK")

	rest, packets := Parse(input)
	if len(packets) != 0 {
		t.Fatalf("got %d packets, want 0", len(packets))
	}
	if !bytes.Equal(rest, input) {
		t.Errorf("rest = %q, want whole input", rest)
	}
}

func TestParse_MultiplePacketsInOneBuffer(t *testing.T) {
	input := []byte("Content-Type: auth/request\n\n" +
		"Content-Type: command/reply\nReply-Text: +OK accepted\n\n")

	rest, packets := Parse(input)
	if len(rest) != 0 {
		t.Fatalf("rest = %q, want empty", rest)
	}
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(packets))
	}
	if packets[0].Type != "auth/request" || packets[1].Type != "command/reply" {
		t.Errorf("unexpected packet types: %q, %q", packets[0].Type, packets[1].Type)
	}
}

func TestParse_ChunkInvariance(t *testing.T) {
	full := []byte("Content-Type: command/reply\nReply-Text: +OK accepted\n\n" +
		"Content-Type: api/response\nContent-Length: 3\n\nfoo")

	splits := [][]int{
		{len(full)},
		{1, len(full) - 1},
		{10, 20, len(full) - 30},
		{30, 31, 32, len(full) - 93},
	}

	_, want := Parse(full)

	for _, sizes := range splits {
		var rest []byte
		var got []*Packet
		off := 0
		for _, n := range sizes {
			if n <= 0 {
				continue
			}
			end := off + n
			if end > len(full) {
				end = len(full)
			}
			chunk := append(append([]byte{}, rest...), full[off:end]...)
			var packets []*Packet
			rest, packets = Parse(chunk)
			got = append(got, packets...)
			off = end
		}

		if len(got) != len(want) {
			t.Fatalf("chunk sizes %v: got %d packets, want %d", sizes, len(got), len(want))
		}
		for i := range want {
			if got[i].Type != want[i].Type {
				t.Errorf("chunk sizes %v: packet %d Type = %q, want %q", sizes, i, got[i].Type, want[i].Type)
			}
		}
	}
}

func TestParse_EventPlainDecodesFields(t *testing.T) {
	body := "Event-Name: CHANNEL_CREATE\nUnique-ID: abc%2Ddef\nVariable-Name: a%20b\n\n"
	input := []byte("Content-Type: text/event-plain\nContent-Length: " + itoa(len(body)) + "\n\n" + body)

	_, packets := Parse(input)
	p := packets[0]
	if p.Field("Event-Name") != "CHANNEL_CREATE" {
		t.Errorf("Event-Name = %q", p.Field("Event-Name"))
	}
	if p.Field("Unique-ID") != "abc-def" {
		t.Errorf("Unique-ID = %q", p.Field("Unique-ID"))
	}
	if p.Field("Variable-Name") != "a b" {
		t.Errorf("Variable-Name = %q", p.Field("Variable-Name"))
	}
}

func TestParse_EventPlainLiteralPlusIsNotSpace(t *testing.T) {
	body := "Event-Name: CUSTOM\nSome-Field: a+b%2Bc\n\n"
	input := []byte("Content-Type: text/event-plain\nContent-Length: " + itoa(len(body)) + "\n\n" + body)

	_, packets := Parse(input)
	if got := packets[0].Field("Some-Field"); got != "a+b+c" {
		t.Errorf("Some-Field = %q, want %q", got, "a+b+c")
	}
}

func TestParse_EventPlainIdempotentDecoding(t *testing.T) {
	once := urlDecode("a%20b")
	twice := urlDecode(once)
	if once != twice {
		t.Errorf("decoding is not idempotent: once=%q twice=%q", once, twice)
	}
}

func TestParse_EventPlainNestedContentLength(t *testing.T) {
	nested := "raw log line\n"
	headerPart := "Event-Name: CUSTOM\nContent-Length: " + itoa(len(nested)) + "\n\n"
	body := headerPart + nested
	input := []byte("Content-Type: text/event-plain\nContent-Length: " + itoa(len(body)) + "\n\n" + body)

	_, packets := Parse(input)
	p := packets[0]
	if p.Field("_body") != nested {
		t.Errorf("_body = %q, want %q", p.Field("_body"), nested)
	}
}

func TestParse_EventJSON(t *testing.T) {
	body := `{"Event-Name":"HEARTBEAT","Event-Info":"System Ready"}`
	input := []byte("Content-Type: text/event-json\nContent-Length: " + itoa(len(body)) + "\n\n" + body)

	_, packets := Parse(input)
	p := packets[0]
	if p.Field("Event-Name") != "HEARTBEAT" {
		t.Errorf("Event-Name = %q", p.Field("Event-Name"))
	}
}

func TestParse_JobUUIDHeaderSetsJobID(t *testing.T) {
	input := []byte("Content-Type: command/reply\nJob-UUID: abc-123\nReply-Text: +OK\n\n")

	_, packets := Parse(input)
	if packets[0].JobID != "abc-123" {
		t.Errorf("JobID = %q", packets[0].JobID)
	}
	if packets[0].IsCommandReply() {
		t.Error("IsCommandReply() should be false when a Job-UUID is present")
	}
}

func TestParse_MalformedContentLengthTreatedAsZero(t *testing.T) {
	input := []byte("Content-Type: api/response\nContent-Length: not-a-number\n\nleftover")

	rest, packets := Parse(input)
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if len(packets[0].Body) != 0 {
		t.Errorf("Body = %q, want empty", packets[0].Body)
	}
	if string(rest) != "leftover" {
		t.Errorf("rest = %q, want %q", rest, "leftover")
	}
}

func TestParse_HeaderValueWithColon(t *testing.T) {
	input := []byte("Content-Type: command/reply\nReply-Text: +OK 10:30:00\n\n")

	_, packets := Parse(input)
	if packets[0].Rest != "10:30:00" {
		t.Errorf("Rest = %q, want %q", packets[0].Rest, "10:30:00")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
