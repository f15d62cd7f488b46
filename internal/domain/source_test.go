package domain

import (
	"errors"
	"testing"
)

func testSources() []Source {
	return []Source{
		{Key: "history", URL: "https://docs.example.com/history.md", Type: DocHistory, Title: "Company History"},
		{Key: "fintech", URL: "https://cdn.example.org/fintech.html", Type: DocFintechRegulation, Title: "Fintech Regulation"},
	}
}

func TestNewAllowList_RejectsNonHTTPS(t *testing.T) {
	sources := []Source{{Key: "bad", URL: "http://docs.example.com/a.md"}}
	if _, err := NewAllowList(sources); !errors.Is(err, ErrURLNotAllowed) {
		t.Fatalf("expected ErrURLNotAllowed, got %v", err)
	}
}

func TestAllowList_Validate(t *testing.T) {
	allow, err := NewAllowList(testSources())
	if err != nil {
		t.Fatalf("NewAllowList: %v", err)
	}

	tests := []struct {
		name    string
		url     string
		allowed bool
	}{
		{"configured host", "https://docs.example.com/history.md", true},
		{"second configured host", "https://cdn.example.org/other.html", true},
		{"unknown host", "https://evil.example.net/x", false},
		{"http scheme", "http://docs.example.com/history.md", false},
		{"internal address", "https://169.254.169.254/latest/meta-data", false},
		{"garbage", "://nope", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := allow.Validate(tt.url)
			if tt.allowed && err != nil {
				t.Fatalf("expected allowed, got %v", err)
			}
			if !tt.allowed && !errors.Is(err, ErrURLNotAllowed) {
				t.Fatalf("expected ErrURLNotAllowed, got %v", err)
			}
		})
	}
}

func TestChunkID_Stable(t *testing.T) {
	c := Chunk{DocumentKey: "history", ChunkIndex: 7}
	if got := c.ID(); got != "history:7" {
		t.Fatalf("unexpected chunk id %q", got)
	}
}

func TestParseDocumentType(t *testing.T) {
	if dt, ok := ParseDocumentType("  Banking_Regulation "); !ok || dt != DocBankingRegulation {
		t.Fatalf("got %q ok=%v", dt, ok)
	}
	if _, ok := ParseDocumentType("poetry"); ok {
		t.Fatal("expected unknown document type to be rejected")
	}
}
