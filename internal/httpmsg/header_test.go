package httpmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderCaseInsensitiveDuplicates(t *testing.T) {
	var h Header
	h.Add("Content-Type", "text/xml")
	h.Add("X-Thing", "a")
	h.Add("x-thing", "b")

	assert.Equal(t, "text/xml", h.Get("CONTENT-TYPE"))
	assert.Equal(t, []string{"a", "b"}, h.Values("X-THING"))
	assert.True(t, h.Has("x-Thing"))
	assert.False(t, h.Has("Missing"))
	assert.Equal(t, 3, h.Len())
}

func TestHeaderSet(t *testing.T) {
	tests := []struct {
		name string
		init []Field
		want []Field
	}{
		{
			name: "append when absent",
			init: []Field{{"HOST", "x"}},
			want: []Field{{"HOST", "x"}, {"Sid", "uuid-1"}},
		},
		{
			name: "replace first in place and drop later",
			init: []Field{{"SID", "old"}, {"NT", "upnp:event"}, {"sid", "older"}},
			want: []Field{{"Sid", "uuid-1"}, {"NT", "upnp:event"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Header{fields: append([]Field(nil), tt.init...)}
			h.Set("Sid", "uuid-1")
			assert.Equal(t, tt.want, h.Fields())
		})
	}
}

func TestHeaderDelAndClone(t *testing.T) {
	var h Header
	h.Add("A", "1")
	h.Add("b", "2")
	h.Add("a", "3")

	c := h.Clone()
	h.Del("A")

	assert.Equal(t, []Field{{"b", "2"}}, h.Fields())
	assert.Equal(t, 3, c.Len(), "clone must not share storage")
}
