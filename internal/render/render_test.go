package render

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind        string
		contentType string
		ext         string
	}{
		{"", "text/html; charset=UTF-8", "html"},
		{"html", "text/html; charset=UTF-8", "html"},
		{"TEXT", "text/plain; charset=UTF-8", "txt"},
		{"markdown", "text/html; charset=UTF-8", "html"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			t.Parallel()
			r, err := New(tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.contentType, r.ContentType())
			assert.Equal(t, tt.ext, r.Extension())
		})
	}

	_, err := New("pdf")
	assert.ErrorContains(t, err, "unknown attachment renderer")
}

func TestRender_HTMLWrapsFragment(t *testing.T) {
	t.Parallel()

	r, err := New(KindHTML)
	require.NoError(t, err)

	out, err := r.Render(context.Background(), "<h1>Invoice INV-1</h1>")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<!DOCTYPE html>")
	assert.Contains(t, string(out), "<h1>Invoice INV-1</h1>")

	full := "<html><body>done</body></html>"
	out, err = r.Render(context.Background(), full)
	require.NoError(t, err)
	assert.Equal(t, full, string(out))
}

func TestRender_Text(t *testing.T) {
	t.Parallel()

	r, err := New(KindText)
	require.NoError(t, err)

	out, err := r.Render(context.Background(), "<h1>Hello Ana</h1><p>Total: 5 &amp; change</p><script>alert(1)</script>")
	require.NoError(t, err)
	assert.Equal(t, "Hello Ana\nTotal: 5 & change\n", string(out))
}

func TestRender_Markdown(t *testing.T) {
	t.Parallel()

	r, err := New(KindMarkdown)
	require.NoError(t, err)

	out, err := r.Render(context.Background(), "# Invoice\n\n**Due** now")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<h1>Invoice</h1>")
	assert.Contains(t, string(out), "<strong>Due</strong>")
}

func TestRender_EmptySourceFails(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{KindHTML, KindText, KindMarkdown} {
		r, err := New(kind)
		require.NoError(t, err)
		_, err = r.Render(context.Background(), "   ")
		assert.ErrorIs(t, err, ErrEmptyDocument, kind)
	}
}

func TestRender_CancelledContext(t *testing.T) {
	t.Parallel()

	r, err := New(KindHTML)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Render(ctx, "<p>x</p>")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlainText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", PlainText(""))
	assert.Equal(t, "Hi Ana\nSee you", PlainText("<p>Hi <b>Ana</b></p><p>See you</p>"))
	assert.Equal(t, "line1\nline2", PlainText("line1<br/>line2"))
}
