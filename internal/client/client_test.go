package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnunes/repeater/internal/fields"
)

var fieldStub = fields.Field{ID: 10, Name: "gallery", Kind: fields.KindRepeater, Template: []string{"caption"}}

func TestClientAdd(t *testing.T) {
	var gotQuery url.Values
	var gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotUser = r.Header.Get(HeaderUser)
		w.Header().Set(HeaderItem, "42")
		io.WriteString(w, `<li data-item-id="42"></li>`)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, UserID: 7}
	l := loadedList()
	it, err := c.Add(context.Background(), 1, 10, l)
	require.NoError(t, err)

	assert.Equal(t, int64(42), it.ID)
	assert.Equal(t, `<li data-item-id="42"></li>`, it.Fragment)
	assert.Equal(t, "1", gotQuery.Get("hostId"))
	assert.Equal(t, "10", gotQuery.Get("fieldId"))
	assert.Equal(t, "10,11,12", gotQuery.Get("exclude"))
	assert.Equal(t, "7", gotUser)
	assert.False(t, l.Adding())
}

func TestClientAddFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"refused": func(w http.ResponseWriter, r *http.Request) {},
		"server error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		"bad header": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderItem, "x")
		},
		"timeout": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			c := &Client{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}
			l := loadedList()
			_, err := c.Add(context.Background(), 1, 10, l)
			require.Error(t, err)
			assert.Len(t, l.Items(), 3)
			assert.False(t, l.Adding(), "the add control is usable again")
		})
	}
}

func TestClientAddRefusedIsErrNoItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := (&Client{BaseURL: srv.URL}).Add(context.Background(), 1, 10, loadedList())
	assert.ErrorIs(t, err, ErrNoItem)
}

func TestClientSave(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/records/5", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	l := loadedList()
	require.NoError(t, l.Move(0, 2))
	c := &Client{BaseURL: srv.URL}
	require.NoError(t, c.Save(context.Background(), 5, url.Values{"title": {"T"}}, l))

	assert.Equal(t, "T", form.Get("title"))
	assert.Equal(t, "2", form.Get("gallery_sort_10"))
	assert.Equal(t, "-1", form.Get("gallery_publish_11"))
}
