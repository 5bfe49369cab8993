package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnunes/repeater/internal/client"
	"github.com/esnunes/repeater/internal/config"
	"github.com/esnunes/repeater/internal/db/dbtest"
	"github.com/esnunes/repeater/internal/models"
	"github.com/esnunes/repeater/internal/repeater"
)

const (
	adminID   int64 = 1
	writerID  int64 = 2
	galleryID int64 = 100
)

const galleryKey = "gallery"

type testServer struct {
	service *repeater.Service
	server  *Server
	http    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	_, q := dbtest.New(t, repeater.CodecVersion)
	reg, err := config.Default().Registry()
	require.NoError(t, err)
	auth := repeater.NewUserAuthorizer([]models.User{
		{ID: adminID, Name: "admin", Editor: true},
		{ID: writerID, Name: "writer"},
	})
	svc := repeater.NewService(q, reg, auth, nil)
	srv, err := New(svc, adminID, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{service: svc, server: srv, http: ts}
}

func (ts *testServer) host(t *testing.T) *models.Node {
	t.Helper()
	h, err := ts.service.CreateHost(context.Background(), adminID, "page", "Hello")
	require.NoError(t, err)
	return h
}

// noRedirect returns a client that reports redirects instead of following them.
func noRedirect() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func (ts *testServer) do(t *testing.T, method, path string, form url.Values, header http.Header) (*http.Response, string) {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, ts.http.URL+path, body)
	require.NoError(t, err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := noRedirect().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func addQuery(hostID, fieldID int64, exclude ...int64) string {
	ids := make([]string, 0, len(exclude))
	for _, id := range exclude {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return "/repeater/add?" + url.Values{
		"hostId":  {strconv.FormatInt(hostID, 10)},
		"fieldId": {strconv.FormatInt(fieldID, 10)},
		"exclude": {strings.Join(ids, ",")},
	}.Encode()
}

func itemHeader(t *testing.T, resp *http.Response) int64 {
	t.Helper()
	id, err := strconv.ParseInt(resp.Header.Get(client.HeaderItem), 10, 64)
	require.NoError(t, err)
	return id
}

func TestDashboardAndCreate(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/records", url.Values{"template": {"page"}, "title": {"Hello"}}, nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	loc := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(loc, "/records/"), loc)

	resp, body := ts.do(t, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `href="`+loc+`"`)
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))

	resp, body = ts.do(t, http.MethodGet, loc, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Hello")
	assert.Contains(t, body, `data-field-id="100"`)

	resp, _ = ts.do(t, http.MethodPost, "/records", url.Values{"template": {"nope"}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/records/9999", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAddReturnsFragment(t *testing.T) {
	ts := newTestServer(t)
	h := ts.host(t)

	resp, body := ts.do(t, http.MethodGet, addQuery(h.ID, galleryID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := itemHeader(t, resp)
	assert.Contains(t, body, `data-item-id="`+strconv.FormatInt(first, 10)+`"`)
	assert.Contains(t, body, `name="`+repeater.SortKey(galleryKey, first)+`"`)
	assert.Contains(t, body, `name="`+repeater.ValueKey(galleryKey, first, "caption")+`"`)

	// repeating the add without excluding reuses the same draft
	resp, _ = ts.do(t, http.MethodPost, addQuery(h.ID, galleryID), nil, nil)
	assert.Equal(t, first, itemHeader(t, resp))

	resp, _ = ts.do(t, http.MethodGet, addQuery(h.ID, galleryID, first), nil, nil)
	second := itemHeader(t, resp)
	assert.NotEqual(t, first, second)
}

func TestAddRefusedIsEmpty(t *testing.T) {
	ts := newTestServer(t)
	h := ts.host(t)
	writer := http.Header{client.HeaderUser: {strconv.FormatInt(writerID, 10)}}

	for name, tc := range map[string]struct {
		path   string
		header http.Header
	}{
		"not permitted":  {addQuery(h.ID, galleryID), writer},
		"not a repeater": {addQuery(h.ID, 1), nil},
		"unknown host":   {addQuery(9999, galleryID), nil},
		"system host":    {addQuery(models.RepeatersID, galleryID), nil},
		"malformed":      {"/repeater/add?hostId=x&fieldId=100", nil},
		"bad exclude":    {"/repeater/add?hostId=" + strconv.FormatInt(h.ID, 10) + "&fieldId=100&exclude=1,x", nil},
	} {
		t.Run(name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodGet, tc.path, nil, tc.header)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Empty(t, body)
			assert.Empty(t, resp.Header.Get(client.HeaderItem))
		})
	}
}

func TestBadUserHeader(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/", nil, http.Header{client.HeaderUser: {"nobody"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSave(t *testing.T) {
	ts := newTestServer(t)
	h := ts.host(t)
	path := "/records/" + strconv.FormatInt(h.ID, 10)

	resp, _ := ts.do(t, http.MethodGet, addQuery(h.ID, galleryID), nil, nil)
	id := itemHeader(t, resp)

	form := url.Values{}
	form.Set("title", "Renamed")
	form.Set("status", "published")
	form.Set(repeater.SortKey(galleryKey, id), "0")
	form.Set(repeater.PublishKey(galleryKey, id), "1")
	form.Set(repeater.ValueKey(galleryKey, id, "caption"), "first")
	form.Set(repeater.ValueKey(galleryKey, id, "not_a_sub"), "dropped")
	resp, _ = ts.do(t, http.MethodPost, path, form, http.Header{"Accept": {"application/json"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	view, err := ts.service.Host(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", view.Values["title"])
	items := view.Repeaters[galleryKey]
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID())
	assert.Equal(t, repeater.StateActive, items[0].State())
	assert.Equal(t, "first", items[0].Values["caption"])
	assert.NotContains(t, items[0].Values, "not_a_sub")
	assert.True(t, view.Public[id])

	// browsers are redirected back to the edit page
	resp, _ = ts.do(t, http.MethodPost, path, url.Values{repeater.DeleteKey(galleryKey, id): {"1"}}, nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, path+"?saved=1", resp.Header.Get("Location"))

	view, err = ts.service.Host(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Repeaters[galleryKey])
}

func TestSaveErrors(t *testing.T) {
	ts := newTestServer(t)
	h := ts.host(t)
	path := "/records/" + strconv.FormatInt(h.ID, 10)

	resp, _ := ts.do(t, http.MethodPost, "/records/9999", url.Values{"title": {"x"}}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, path, url.Values{"title": {"x"}},
		http.Header{client.HeaderUser: {strconv.FormatInt(writerID, 10)}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, path, url.Values{repeater.SortKey(galleryKey, 5): {"first"}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, path, url.Values{"status": {"archived"}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	view, err := ts.service.Host(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", view.Values["title"], "failed saves change nothing")
}

func TestClientRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	h := ts.host(t)
	ctx := context.Background()
	c := &client.Client{BaseURL: ts.http.URL, UserID: adminID}

	list := client.NewList(galleryKey, nil)
	a, err := c.Add(ctx, h.ID, galleryID, list)
	require.NoError(t, err)
	b, err := c.Add(ctx, h.ID, galleryID, list)
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
	require.NoError(t, list.Move(1, 0))
	require.NoError(t, list.Toggle(a.Key))

	require.NoError(t, c.Save(ctx, h.ID, url.Values{"title": {"Hello"}}, list))

	view, err := ts.service.Host(ctx, h.ID)
	require.NoError(t, err)
	items := view.Repeaters[galleryKey]
	require.Len(t, items, 2)
	assert.Equal(t, b.ID, items[0].ID())
	assert.Equal(t, repeater.StateActive, items[0].State())
	assert.Equal(t, a.ID, items[1].ID())
	assert.Equal(t, repeater.StateOff, items[1].State())

	// the edit page renders what was saved
	resp, body := ts.do(t, http.MethodGet, "/records/"+strconv.FormatInt(h.ID, 10), nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `data-item-id="`+strconv.FormatInt(a.ID, 10)+`" data-state="off"`)
}

func TestServeStopsOnCancel(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.server.Listen(""))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.server.Serve(ctx) }()

	resp, err := http.Get("http://" + ts.server.Addr() + "/static/repeater.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	assert.NoError(t, <-done)
}
