package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/feedwire/pkg/dispatch"
	"github.com/ryandielhenn/feedwire/pkg/protocol"
	"github.com/ryandielhenn/feedwire/pkg/sender"
	"github.com/ryandielhenn/feedwire/pkg/snapshot"
	"github.com/ryandielhenn/feedwire/pkg/state"
)

// fakeChannel answers every command immediately with "first" unless sendErr
// is set.
type fakeChannel struct {
	mu      sync.Mutex
	st      state.ApplicationState
	sent    []protocol.Command
	sendErr error
	table   *dispatch.Table
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{st: state.Initial(), table: dispatch.New(0, nil)}
}

func (f *fakeChannel) Dispatch(cmd protocol.Command) (*dispatch.Future, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	fut, err := f.table.Register(cmd)
	if err != nil {
		return nil, err
	}
	res, _ := protocol.OKResult(cmd.CorrelationID, "first")
	f.table.Resolve(res)
	return fut, nil
}

func (f *fakeChannel) apply(a state.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st = state.Reduce(f.st, a)
}

func (f *fakeChannel) SelectPost(id string) { f.apply(state.PostSelected{EntryID: id}) }
func (f *fakeChannel) ClearPost()           { f.apply(state.PostCleared{}) }
func (f *fakeChannel) ClearLog()            { f.apply(state.LogCleared{}) }

func (f *fakeChannel) State() state.ApplicationState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeChannel) ConnectionState() state.ConnectionState { return state.Open }
func (f *fakeChannel) Mode() sender.Mode                      { return sender.ModeDirect }

func (f *fakeChannel) commands() []protocol.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Command(nil), f.sent...)
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzAndInfo(t *testing.T) {
	h := New(newFakeChannel()).Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/info", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "open", info["connectionState"])
	assert.Equal(t, "direct", info["sender"])
}

func TestDiscoverTextBody(t *testing.T) {
	ch := newFakeChannel()
	h := New(ch).Handler()

	rec := do(t, h, http.MethodPost, "/discover", "text/plain", "http://a.example  http://b.example\n")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var out commandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	sent := ch.commands()
	require.Len(t, sent, 1)
	assert.Equal(t, sent[0].CorrelationID, out.CorrelationID)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, sent[0].URLs)
}

func TestDiscoverJSONAndWait(t *testing.T) {
	ch := newFakeChannel()
	h := New(ch).Handler()

	rec := do(t, h, http.MethodPost, "/discover?wait=true", "application/json; charset=utf-8", `{"urls":["http://a.example"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out commandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotNil(t, out.Result)
	assert.True(t, out.Result.OK())
	assert.JSONEq(t, `"first"`, string(out.Result.Response))
}

func TestDiscoverRejectsEmpty(t *testing.T) {
	ch := newFakeChannel()
	rec := do(t, New(ch).Handler(), http.MethodPost, "/discover", "text/plain", "   ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ch.commands())
}

func TestDispatchWhileNotReady(t *testing.T) {
	ch := newFakeChannel()
	ch.sendErr = sender.ErrNotReady
	rec := do(t, New(ch).Handler(), http.MethodPost, "/fetch", "application/json", `{"title":"Blog","url":"http://blog.example/rss"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var out commandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out.CorrelationID)
	assert.Equal(t, sender.ErrNotReady.Error(), out.Error)
	require.Len(t, ch.commands(), 1)
	assert.Equal(t, protocol.KindFetchFeed, ch.commands()[0].Kind)
}

func TestSelectAndClear(t *testing.T) {
	ch := newFakeChannel()
	h := New(ch).Handler()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/select", "application/json", `{}`).Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/select", "application/json", `{"entryId":"p1"}`).Code)
	assert.Equal(t, "p1", ch.State().SelectedPostID)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/select", "", "").Code)
	assert.Empty(t, ch.State().SelectedPostID)

	ch.apply(state.CommandDispatched{Command: protocol.NewDiscover([]string{"http://a"})})
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/log/clear", "", "").Code)
	assert.Empty(t, ch.State().Log)
}

func TestPostsNewestFirst(t *testing.T) {
	ch := newFakeChannel()
	ch.apply(state.FeedFetched{Result: protocol.FetchResult{
		Status: protocol.StatusOK,
		Feed: protocol.Feed{Entries: []protocol.Post{
			{EntryID: "old", Published: "2024-01-01T00:00:00Z"},
			{EntryID: "new", Published: "2024-06-01T00:00:00Z"},
		}},
	}})

	rec := do(t, New(ch).Handler(), http.MethodGet, "/posts", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var posts []protocol.Post
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posts))
	require.Len(t, posts, 2)
	assert.Equal(t, "new", posts[0].EntryID)
}

func TestGetState(t *testing.T) {
	rec := do(t, New(newFakeChannel()).Handler(), http.MethodGet, "/state", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Contains(t, st, "log")
	assert.Contains(t, st, "posts")
}

func TestSnapshot(t *testing.T) {
	ch := newFakeChannel()
	ch.apply(state.FeedFetched{Result: protocol.FetchResult{
		Status: protocol.StatusOK,
		Feed:   protocol.Feed{Entries: []protocol.Post{{EntryID: "x", Title: "T"}}},
	}})

	rec := do(t, New(ch).Handler(), http.MethodPost, "/snapshot", "", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	b := snapshot.NewMemory()
	rec = do(t, New(ch, WithSnapshot(b, "k")).Handler(), http.MethodPost, "/snapshot", "", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	st := snapshot.LoadInitial(context.Background(), b, "k", nil)
	assert.Equal(t, "T", st.Posts["x"].Title)
}

func TestMethodNotAllowed(t *testing.T) {
	rec := do(t, New(newFakeChannel()).Handler(), http.MethodGet, "/discover", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
