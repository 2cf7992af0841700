package transport

import (
	"bytes"
	"testing"
)

func TestClassifyBinaryIsAssistantAudio(t *testing.T) {
	blob := []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0x01}
	msg := Classify(true, blob)
	audio, ok := msg.(AssistantAudio)
	if !ok {
		t.Fatalf("expected AssistantAudio, got %T", msg)
	}
	if !bytes.Equal(audio.Data, blob) {
		t.Fatal("audio payload altered")
	}
}

func TestClassifyTranscript(t *testing.T) {
	msg := Classify(false, []byte(`{"type":"transcript","text":"שלום, מה שלומך?"}`))
	tr, ok := msg.(Transcript)
	if !ok {
		t.Fatalf("expected Transcript, got %T", msg)
	}
	if tr.Text != "שלום, מה שלומך?" {
		t.Fatalf("wrong text: %q", tr.Text)
	}
}

func TestClassifyServerError(t *testing.T) {
	msg := Classify(false, []byte(`{"type":"error","message":"speech recognition failed"}`))
	se, ok := msg.(ServerError)
	if !ok {
		t.Fatalf("expected ServerError, got %T", msg)
	}
	if se.Message != "speech recognition failed" {
		t.Fatalf("wrong message: %q", se.Message)
	}
	if se.Protocol {
		t.Fatal("explicit server error must not be marked as protocol failure")
	}
}

func TestClassifyStatusFallback(t *testing.T) {
	// Older server revisions tag errors with "status" instead of "type".
	msg := Classify(false, []byte(`{"status":"error","message":"no speech detected"}`))
	se, ok := msg.(ServerError)
	if !ok {
		t.Fatalf("expected ServerError, got %T", msg)
	}
	if se.Message != "no speech detected" {
		t.Fatalf("wrong message: %q", se.Message)
	}
}

func TestClassifyCaseInsensitiveType(t *testing.T) {
	msg := Classify(false, []byte(`{"type":"Transcript","text":"hi"}`))
	if _, ok := msg.(Transcript); !ok {
		t.Fatalf("expected Transcript, got %T", msg)
	}
}

func TestClassifyMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json at all`),
		[]byte(`{"type":"weather","temp":31}`),
		[]byte(`{}`),
		[]byte(``),
		[]byte(`{"type":"transcript"`),
	}
	for _, raw := range cases {
		msg := Classify(false, raw)
		se, ok := msg.(ServerError)
		if !ok {
			t.Fatalf("payload %q: expected ServerError, got %T", raw, msg)
		}
		if se.Message != protocolFailure {
			t.Fatalf("payload %q: message %q", raw, se.Message)
		}
		if !se.Protocol {
			t.Fatalf("payload %q: not marked as protocol failure", raw)
		}
	}
}

func TestClassifyErrorWithoutMessage(t *testing.T) {
	msg := Classify(false, []byte(`{"type":"error"}`))
	se, ok := msg.(ServerError)
	if !ok {
		t.Fatalf("expected ServerError, got %T", msg)
	}
	if se.Message == "" {
		t.Fatal("empty error should get a placeholder message")
	}
}
