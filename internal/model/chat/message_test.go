package chat

import (
	"encoding/json"
	"testing"
)

func TestSourceAcceptsLegacyStrings(t *testing.T) {
	var msg Message
	raw := `{"id":"1","type":"BOT","content":"x","timestamp":1,"sources":["Quran & Sunnah",{"title":"Sahih Muslim","uri":"https://sunnah.com/muslim"}]}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(msg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(msg.Sources))
	}
	if msg.Sources[0].Title != "Quran & Sunnah" || msg.Sources[0].URI != "" {
		t.Fatalf("unexpected legacy source: %+v", msg.Sources[0])
	}
	if msg.Sources[1].URI != "https://sunnah.com/muslim" {
		t.Fatalf("unexpected object source: %+v", msg.Sources[1])
	}
}

func TestDisplayContentFollowsSelector(t *testing.T) {
	msg := Message{
		Content:         "Patience",
		Translations:    map[string]string{"Urdu": "صبر"},
		DisplayLanguage: "Urdu",
	}
	if got := msg.DisplayContent(); got != "صبر" {
		t.Fatalf("expected translated text, got %q", got)
	}

	msg.DisplayLanguage = "Arabic"
	if got := msg.DisplayContent(); got != "Patience" {
		t.Fatalf("missing translation should fall back to original, got %q", got)
	}

	msg.DisplayLanguage = ""
	if got := msg.SelectedLanguage(); got != LanguageOriginal {
		t.Fatalf("empty selector should read as Original, got %q", got)
	}
}

func TestCachedAudioKeyedByDisplayLanguage(t *testing.T) {
	msg := Message{AudioData: "AAAA"}
	if _, ok := msg.CachedAudio(); !ok {
		t.Fatalf("legacy audio without language should count for Original")
	}

	msg.DisplayLanguage = "Urdu"
	if _, ok := msg.CachedAudio(); ok {
		t.Fatalf("audio rendered for Original must not serve Urdu")
	}

	msg.AudioLanguage = "Urdu"
	if audio, ok := msg.CachedAudio(); !ok || audio != "AAAA" {
		t.Fatalf("expected cached Urdu audio, got %q %v", audio, ok)
	}
}

func TestCloneIsDeep(t *testing.T) {
	msg := Message{Translations: map[string]string{"Urdu": "a"}, Sources: []Source{{Title: "t"}}}
	cp := msg.Clone()
	cp.Translations["Urdu"] = "b"
	cp.Sources[0].Title = "changed"
	if msg.Translations["Urdu"] != "a" || msg.Sources[0].Title != "t" {
		t.Fatalf("clone shares state with original")
	}
}

func TestCanonicalLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"urdu", "Urdu", true},
		{" ORIGINAL ", LanguageOriginal, true},
		{"Klingon", "", false},
	}
	for _, tt := range tests {
		got, ok := CanonicalLanguage(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("CanonicalLanguage(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseSafetyStatus(t *testing.T) {
	if s, ok := ParseSafetyStatus("tampering"); !ok || s != SafetyTampering {
		t.Fatalf("lowercase verdict should parse, got %q %v", s, ok)
	}
	if _, ok := ParseSafetyStatus("maybe"); ok {
		t.Fatalf("unknown verdict should not parse")
	}
}
