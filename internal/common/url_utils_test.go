package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"https://example.com/a", "https://example.com/a", true},
		{"  http://example.com  ", "http://example.com", true},
		{"ftp://example.com", "", false},
		{"example.com/page", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeURL(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestExtractURLsKeepsOrderAndDuplicates(t *testing.T) {
	text := "https://a.example/x\r\nnot a url\nhttps://b.example\nhttps://a.example/x\n"

	urls := ExtractURLs(text, arbor.NewLogger())

	assert.Equal(t, []string{"https://a.example/x", "https://b.example", "https://a.example/x"}, urls)
}
