package esl

import "testing"

func TestEncodeAPI(t *testing.T) {
	got := string(encodeAPI("status", ""))
	want := "api status\n\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEncodeAPIWithArgs(t *testing.T) {
	got := string(encodeAPI("originate", "sofia/gateway/x 1234"))
	want := "api originate sofia/gateway/x 1234\n\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEncodeBgapiInjectsJobUUID(t *testing.T) {
	got := string(encodeBgapi("originate", "sofia/gateway/x 1234", "J-1"))
	want := "bgapi originate sofia/gateway/x 1234\nJob-UUID: J-1\n\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEncodeEvent(t *testing.T) {
	got := string(encodeEvent("plain", []string{"CHANNEL_CREATE", "HEARTBEAT"}))
	want := "event plain CHANNEL_CREATE HEARTBEAT\n\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEncodeMyevents(t *testing.T) {
	got := string(encodeMyevents("plain", "abc-123"))
	want := "myevents plain abc-123\n\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEncodeFilterDelete(t *testing.T) {
	got := string(encodeFilterDelete("Event-Name", "HEARTBEAT"))
	want := "filter delete Event-Name HEARTBEAT\n\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEncodeSendeventWithBodyInjectsContentLength(t *testing.T) {
	body := []byte("hello")
	got := string(encodeSendevent("CUSTOM", map[string]string{"Event-Subclass": "demo::test"}, body))
	want := "sendevent CUSTOM\nEvent-Subclass: demo::test\nContent-Length: 5\n\nhello"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEncodeSendmsgInjectsContentType(t *testing.T) {
	body := []byte("app data")
	got := string(encodeSendmsg("uuid-1", map[string]string{"call-command": "execute", "execute-app-name": "answer"}, body))
	want := "sendmsg uuid-1\ncall-command: execute\nexecute-app-name: answer\nContent-Type: text/plain\nContent-Length: 8\n\napp data"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEncodeSendmsgNoBodyNoContentHeaders(t *testing.T) {
	got := string(encodeSendmsg("uuid-1", map[string]string{"call-command": "execute"}, nil))
	want := "sendmsg uuid-1\ncall-command: execute\n\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEncodeRoundTripsThroughParser(t *testing.T) {
	encoded := encodeSendevent("CUSTOM", map[string]string{"Event-Subclass": "demo::test"}, []byte("payload"))
	// The encoder's output isn't itself a server packet (it has no
	// Content-Type header), but it must still tokenize as exactly one
	// complete frame once a Content-Type is prefixed, confirming the
	// blank-line/body framing matches the parser's expectations.
	framed := append([]byte("Content-Type: text/plain\n"), encoded...)
	_, packets := Parse(framed)
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
}
