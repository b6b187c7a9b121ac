package richtext

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func paragraph(texts ...string) map[string]any {
	children := []any{}
	for _, t := range texts {
		children = append(children, map[string]any{"type": "text", "text": t})
	}
	return map[string]any{"type": "paragraph", "content": children}
}

func doc(nodes ...any) Doc {
	return Doc{"type": "doc", "content": nodes}
}

func TestCanonical_SortedCompact(t *testing.T) {
	d := Doc{"type": "doc", "b": 1, "a": "<x>"}
	got, err := Canonical(d)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x>","b":1,"type":"doc"}`, string(got))
}

func TestCanonical_NilIsEmpty(t *testing.T) {
	got, err := Canonical(nil)
	require.NoError(t, err)
	assert.Equal(t, `{"content":[],"type":"doc"}`, string(got))
	assert.Equal(t, Hash(Empty()), Hash(nil))
}

func TestHash_KeyOrderIndependent(t *testing.T) {
	a, err := Decode([]byte(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"hi"}]}]}`))
	require.NoError(t, err)
	b, err := Decode([]byte(`{ "content": [ {"content":[{"text":"hi","type":"text"}],"type":"paragraph"} ], "type": "doc" }`))
	require.NoError(t, err)
	assert.Equal(t, Hash(a), Hash(b))
	assert.Len(t, Hash(a), 64)
}

func TestHash_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lines := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{1,12}`), 0, 6).Draw(t, "lines")
		text := strings.Join(lines, "\n")
		d := FromText(text)

		roundTrip, err := Canonical(d)
		if err != nil {
			t.Fatalf("canonical: %v", err)
		}
		decoded, err := Decode(roundTrip)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if Hash(decoded) != Hash(d) {
			t.Fatalf("hash changed across round trip")
		}

		extra := rapid.StringMatching(`[a-z]{1,5}`).Draw(t, "extra")
		changed := FromText(text + "\n" + extra)
		if Hash(changed) == Hash(d) {
			t.Fatalf("hash did not change after appending %q", extra)
		}
	})
}

func TestDecode_RejectsNonObject(t *testing.T) {
	for _, in := range []string{`[]`, `null`, `"x"`, `{`} {
		_, err := Decode([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestCharCount(t *testing.T) {
	tests := []struct {
		name string
		doc  Doc
		want int
	}{
		{"nil", nil, 0},
		{"empty", Empty(), 0},
		{"single", doc(paragraph("hello")), 5},
		{"multi", doc(paragraph("ab", "cd"), paragraph("ef")), 6},
		{"cjk", doc(paragraph("明天开会")), 4},
		{"string content", doc(map[string]any{"type": "paragraph", "content": "xyz"}), 3},
		{"nested object", Doc{"type": "doc", "content": map[string]any{"text": "ab", "content": []any{map[string]any{"text": "c"}}}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CharCount(tt.doc); got != tt.want {
				t.Errorf("CharCount = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParagraphs(t *testing.T) {
	d := doc(
		paragraph("  first  "),
		paragraph(""),
		map[string]any{"type": "bulletList", "content": []any{
			map[string]any{"type": "listItem", "content": []any{paragraph("nested", " item")}},
		}},
		map[string]any{"type": "paragraph", "content": "raw"},
		map[string]any{"type": "heading", "content": []any{map[string]any{"type": "text", "text": "skip"}}},
	)
	want := []string{"first", "nested item", "raw"}
	if diff := cmp.Diff(want, Paragraphs(d)); diff != "" {
		t.Errorf("Paragraphs mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "first\nnested item\nraw", PlainText(d))
}

func TestPreview(t *testing.T) {
	d := FromText("abcdef")
	assert.Equal(t, "abcdef", Preview(d, 10))
	assert.Equal(t, "abc...", Preview(d, 3))
}

func TestFromText(t *testing.T) {
	d := FromText("one\n\n  two \n")
	assert.Equal(t, []string{"one", "two"}, Paragraphs(d))
	assert.Empty(t, Paragraphs(FromText("")))
}
