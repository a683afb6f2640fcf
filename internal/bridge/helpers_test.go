package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

func newTestTranslator(t *testing.T) (*Translator, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	tr := NewTranslator(TranslatorOptions{
		Logger: discardLogger(),
		Sink:   rec,
		Cwd:    func() string { return "/work" },
		NewID:  sequentialIDs("gen"),
	})
	return tr, rec
}

func event(t *testing.T, name string, data any) Envelope {
	t.Helper()
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return Envelope{Type: "event", Name: name, Data: b}
}

func mustHandle(t *testing.T, tr *Translator, env Envelope) {
	t.Helper()
	if err := tr.Handle(env); err != nil {
		t.Fatalf("Handle(%s): %v", env.Name, err)
	}
}

// wire round-trips an envelope through JSON the way the UI sees it.
func wire(t *testing.T, o Outbound) map[string]any {
	t.Helper()
	b, err := o.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	return m
}

func notificationParams(t *testing.T, o Outbound) map[string]any {
	t.Helper()
	m := wire(t, o)
	msg, ok := m["message"].(map[string]any)
	if !ok {
		t.Fatalf("envelope %v has no message", m)
	}
	p, ok := msg["params"].(map[string]any)
	if !ok {
		t.Fatalf("envelope %v has no params", m)
	}
	return p
}

func itemIDOf(t *testing.T, o Outbound) string {
	t.Helper()
	p := notificationParams(t, o)
	if item, ok := p["item"].(map[string]any); ok {
		s, _ := item["id"].(string)
		return s
	}
	s, _ := p["itemId"].(string)
	return s
}
