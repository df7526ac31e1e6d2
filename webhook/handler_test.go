package webhook

import (
	"bytes"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eterna-Community/Deterna-Bot/errors"
)

const testSecret = "s3cret"

var pushBody = []byte(`{
	"ref": "refs/heads/main",
	"compare": "https://forge.example/compare/abc...def",
	"repository": {"full_name": "eterna/deterna-bot"},
	"pusher": {"name": "alice"},
	"commits": [
		{"id": "0123456789abcdef", "message": "fix the thing\n\nlong details"}
	]
}`)

type capturingForward struct {
	mu     sync.Mutex
	embeds []*discordgo.MessageEmbed
	err    error
}

func (f *capturingForward) forward(embed *discordgo.MessageEmbed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.embeds = append(f.embeds, embed)
	return nil
}

func (f *capturingForward) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.embeds)
}

func newTestHandler(t *testing.T, forward *capturingForward) *Handler {
	t.Helper()
	h, err := NewHandler([]byte(testSecret), forward.forward)
	require.NoError(t, err)
	return h
}

func post(h *Handler, event, deliveryID, signature string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if event != "" {
		req.Header.Set("X-GitHub-Event", event)
	}
	if deliveryID != "" {
		req.Header.Set("X-GitHub-Delivery", deliveryID)
	}
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(nil, func(*discordgo.MessageEmbed) error { return nil })
	assert.True(t, errors.IsInvalid(err))

	_, err = NewHandler([]byte(testSecret), nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, &capturingForward{})

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_RejectsBadSignature(t *testing.T) {
	forward := &capturingForward{}
	h := newTestHandler(t, forward)

	rec := post(h, "push", "d-1", sign("wrong-secret", pushBody), pushBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(h, "push", "d-2", "", pushBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Zero(t, forward.count())
}

func TestHandler_ForwardsPush(t *testing.T) {
	forward := &capturingForward{}
	h := newTestHandler(t, forward)

	rec := post(h, "push", "d-1", sign(testSecret, pushBody), pushBody)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, 1, forward.count())
	embed := forward.embeds[0]
	assert.Equal(t, "[eterna/deterna-bot] alice pushed 1 commit to main", embed.Title)
	assert.Contains(t, embed.Description, "`0123456`")
	assert.Contains(t, embed.Description, "fix the thing")
	assert.NotContains(t, embed.Description, "long details", "only the first message line is shown")
	assert.Equal(t, "https://forge.example/compare/abc...def", embed.URL)
}

func TestHandler_DeduplicatesDeliveries(t *testing.T) {
	forward := &capturingForward{}
	h := newTestHandler(t, forward)
	signature := sign(testSecret, pushBody)

	assert.Equal(t, http.StatusOK, post(h, "push", "d-1", signature, pushBody).Code)
	assert.Equal(t, http.StatusOK, post(h, "push", "d-1", signature, pushBody).Code)
	assert.Equal(t, 1, forward.count(), "replayed delivery is not forwarded twice")

	assert.Equal(t, http.StatusOK, post(h, "push", "d-2", signature, pushBody).Code)
	assert.Equal(t, 2, forward.count())
}

func TestHandler_UnhandledEventAcknowledged(t *testing.T) {
	forward := &capturingForward{}
	h := newTestHandler(t, forward)
	body := []byte(`{"action":"opened"}`)

	rec := post(h, "issues", "d-1", sign(testSecret, body), body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, forward.count())
}

func TestHandler_MalformedPayloadAcknowledged(t *testing.T) {
	forward := &capturingForward{}
	h := newTestHandler(t, forward)
	body := []byte(`{broken`)

	rec := post(h, "push", "d-1", sign(testSecret, body), body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, forward.count())
}

func TestHandler_MissingEventHeader(t *testing.T) {
	h := newTestHandler(t, &capturingForward{})

	rec := post(h, "", "d-1", sign(testSecret, pushBody), pushBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_BodyTooLarge(t *testing.T) {
	h := newTestHandler(t, &capturingForward{})
	body := bytes.Repeat([]byte("x"), maxBodySize+1)

	rec := post(h, "push", "d-1", sign(testSecret, body), body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandler_ForwardFailure(t *testing.T) {
	forward := &capturingForward{err: stderrors.New("discord is down")}
	h := newTestHandler(t, forward)

	rec := post(h, "push", "d-1", sign(testSecret, pushBody), pushBody)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandler_PingForwarded(t *testing.T) {
	forward := &capturingForward{}
	h := newTestHandler(t, forward)
	body := []byte(`{"zen":"Keep it logically awesome.","hook":{"id":42},"repository":{"full_name":"eterna/deterna-bot"}}`)

	rec := post(h, "ping", "d-1", sign(testSecret, body), body)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, 1, forward.count())
	assert.Equal(t, "Keep it logically awesome.", forward.embeds[0].Description)
}

func TestHandler_Release(t *testing.T) {
	forward := &capturingForward{}
	h := newTestHandler(t, forward)

	published := []byte(`{"action":"published","release":{"tag_name":"v1.2.0","name":"Deterna 1.2","html_url":"https://forge.example/releases/v1.2.0"},"repository":{"full_name":"eterna/deterna-bot"},"sender":{"login":"alice"}}`)
	rec := post(h, "release", "d-1", sign(testSecret, published), published)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, forward.count())
	assert.Equal(t, "[eterna/deterna-bot] release Deterna 1.2 published", forward.embeds[0].Title)

	// Draft activity is acknowledged without a forward.
	draft := []byte(`{"action":"created","release":{"tag_name":"v1.3.0"},"repository":{"full_name":"eterna/deterna-bot"}}`)
	rec = post(h, "release", "d-2", sign(testSecret, draft), draft)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, forward.count())
}

func TestHandler_PushTruncatesCommitList(t *testing.T) {
	forward := &capturingForward{}
	h := newTestHandler(t, forward)

	var commits []string
	for i := 0; i < 8; i++ {
		commits = append(commits, `{"id":"aaaaaaaaaaaaaaa`+string(rune('0'+i))+`","message":"commit"}`)
	}
	body := []byte(`{"ref":"refs/heads/main","repository":{"full_name":"r/r"},"pusher":{"name":"bob"},"commits":[` + strings.Join(commits, ",") + `]}`)

	rec := post(h, "push", "d-1", sign(testSecret, body), body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, forward.count())
	assert.Contains(t, forward.embeds[0].Description, "and 3 more")
}
