package plaintext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromHTML(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"empty", "", ""},
		{"empty paragraph", "<p></p>", ""},
		{"single paragraph", "<p>Hello world</p>", "Hello world"},
		{"two paragraphs", "<p>One</p><p>Two</p>", "One Two"},
		{"inline markup joins", "<p>H<strong>e</strong>llo</p>", "Hello"},
		{"entities", "<p>Fish &amp; chips&nbsp;today</p>", "Fish & chips today"},
		{"whitespace runs", "<p>  a \n\t b  </p>", "a b"},
		{"line break", "<p>a<br>b</p>", "a b"},
		{"script ignored", "<p>x</p><script>var y = 1;</script>", "x"},
		{"plain text", "no markup", "no markup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromHTML(tt.html))
		})
	}
}

func TestLength(t *testing.T) {
	assert.Equal(t, 0, Length(""))
	assert.Equal(t, 11, Length("<p>Hello world</p>"))
	assert.Equal(t, 5, Length("<p>héllo</p>"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "", Truncate("abc", 0))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "hé", Truncate("héllo", 2))
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount("   "))
	assert.Equal(t, 3, WordCount(" one two\nthree "))
}
