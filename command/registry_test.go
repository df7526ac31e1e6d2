package command

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eterna-Community/Deterna-Bot/errors"
	"github.com/Eterna-Community/Deterna-Bot/service"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type capturedRequest struct {
	method string
	path   string
	body   []byte
}

// restRecorder captures Discord REST calls and answers them with a
// canned response, so handlers run without touching the network.
type restRecorder struct {
	mu       sync.Mutex
	requests []capturedRequest
}

func (r *restRecorder) transport(status int, body string) http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		var payload []byte
		if req.Body != nil {
			payload, _ = io.ReadAll(req.Body)
		}
		r.mu.Lock()
		r.requests = append(r.requests, capturedRequest{req.Method, req.URL.Path, payload})
		r.mu.Unlock()

		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	})
}

func (r *restRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *restRecorder) last() capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}

func newRESTSession(t *testing.T, rec *restRecorder, status int, body string) *discordgo.Session {
	t.Helper()
	s, err := discordgo.New("Bot test-token")
	require.NoError(t, err)
	s.Client = &http.Client{Transport: rec.transport(status, body)}
	return s
}

func commandInteraction(name string, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:        "interaction-1",
		Type:      discordgo.InteractionApplicationCommand,
		Token:     "interaction-token",
		GuildID:   "guild-1",
		ChannelID: "chan-1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "user-1"}},
		Data:      discordgo.ApplicationCommandInteractionData{Name: name, Options: options},
	}}
}

func stubCommand(name string, handler HandlerFunc) Command {
	return Command{
		Definition: &discordgo.ApplicationCommand{Name: name, Description: name},
		Handler:    handler,
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubCommand("echo", func(*discordgo.Session, *discordgo.InteractionCreate) error { return nil })))

	cmd, ok := r.Get("echo")
	assert.True(t, ok)
	assert.Equal(t, "echo", cmd.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Command{})
	assert.True(t, errors.IsInvalid(err), "nil definition")

	err = r.Register(Command{Definition: &discordgo.ApplicationCommand{}})
	assert.True(t, errors.IsInvalid(err), "empty name")

	err = r.Register(Command{Definition: &discordgo.ApplicationCommand{Name: "echo"}})
	assert.True(t, errors.IsInvalid(err), "nil handler")
}

func TestRegistry_RegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	cmd := stubCommand("echo", func(*discordgo.Session, *discordgo.InteractionCreate) error { return nil })

	require.NoError(t, r.Register(cmd))
	err := r.Register(cmd)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegistry_NamesAndDefinitionsSorted(t *testing.T) {
	r := NewRegistry()
	nop := func(*discordgo.Session, *discordgo.InteractionCreate) error { return nil }
	require.NoError(t, r.Register(stubCommand("ticket", nop)))
	require.NoError(t, r.Register(stubCommand("ping", nop)))
	require.NoError(t, r.Register(stubCommand("status", nop)))

	assert.Equal(t, []string{"ping", "status", "ticket"}, r.Names())

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "ping", defs[0].Name)
	assert.Equal(t, "ticket", defs[2].Name)
}

func TestLoadCommands(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, LoadCommands(r, service.NewManager(), nil))
	assert.Equal(t, []string{"ping", "status"}, r.Names(), "no ticket service, no ticket command")
}

func TestRegistry_HandleInteractionDispatches(t *testing.T) {
	r := NewRegistry()

	var got *discordgo.InteractionCreate
	require.NoError(t, r.Register(stubCommand("echo", func(_ *discordgo.Session, i *discordgo.InteractionCreate) error {
		got = i
		return nil
	})))

	i := commandInteraction("echo")
	r.HandleInteraction(nil, i)
	require.NotNil(t, got)
	assert.Equal(t, "echo", got.ApplicationCommandData().Name)
}

func TestRegistry_HandleInteractionIgnoresOtherTypes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubCommand("echo", func(*discordgo.Session, *discordgo.InteractionCreate) error {
		t.Fatal("handler invoked for a component interaction")
		return nil
	})))

	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionMessageComponent}}
	assert.NotPanics(t, func() { r.HandleInteraction(nil, i) })
}

func TestRegistry_HandleInteractionUnknownCommand(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() { r.HandleInteraction(nil, commandInteraction("ghost")) })
}

func TestRegistry_RecoversHandlerPanic(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubCommand("boom", func(*discordgo.Session, *discordgo.InteractionCreate) error {
		panic("bad handler")
	})))

	rec := &restRecorder{}
	s := newRESTSession(t, rec, http.StatusNoContent, "")

	assert.NotPanics(t, func() { r.HandleInteraction(s, commandInteraction("boom")) })

	// The dispatcher still acknowledged the interaction.
	require.Equal(t, 1, rec.count())
	assert.Contains(t, string(rec.last().body), "Something went wrong")
}

func TestRegistry_Deploy(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Ping()))

	rec := &restRecorder{}
	s := newRESTSession(t, rec, http.StatusOK, "[]")

	require.NoError(t, r.Deploy(s, "app-1", "guild-1"))
	require.Equal(t, 1, rec.count())

	req := rec.last()
	assert.Equal(t, http.MethodPut, req.method)
	assert.Contains(t, req.path, "applications/app-1/guilds/guild-1/commands")

	var defs []*discordgo.ApplicationCommand
	require.NoError(t, json.Unmarshal(req.body, &defs))
	require.Len(t, defs, 1)
	assert.Equal(t, "ping", defs[0].Name)
}

func TestRegistry_DeployGlobal(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Ping()))

	rec := &restRecorder{}
	s := newRESTSession(t, rec, http.StatusOK, "[]")

	require.NoError(t, r.Deploy(s, "app-1", ""))
	assert.Contains(t, rec.last().path, "applications/app-1/commands")
	assert.NotContains(t, rec.last().path, "guilds")
}

func TestRegistry_DeployValidation(t *testing.T) {
	r := NewRegistry()

	err := r.Deploy(nil, "app-1", "")
	assert.True(t, errors.IsInvalid(err), "nil session")

	rec := &restRecorder{}
	err = r.Deploy(newRESTSession(t, rec, http.StatusOK, "[]"), "", "")
	assert.True(t, errors.IsInvalid(err), "missing application id")
	assert.Zero(t, rec.count())
}

func TestPingCommand(t *testing.T) {
	rec := &restRecorder{}
	s := newRESTSession(t, rec, http.StatusNoContent, "")

	cmd := Ping()
	require.NoError(t, cmd.Handler(s, commandInteraction("ping")))

	require.Equal(t, 1, rec.count())
	req := rec.last()
	assert.Contains(t, req.path, "interactions/interaction-1/interaction-token/callback")
	assert.Contains(t, string(req.body), "Pong!")
}

func TestStatusCommand(t *testing.T) {
	m := service.NewManager()
	require.NoError(t, m.Register(service.New("database", service.Config{Priority: 100})))

	rec := &restRecorder{}
	s := newRESTSession(t, rec, http.StatusNoContent, "")

	cmd := Status(m)
	require.NoError(t, cmd.Handler(s, commandInteraction("status")))

	require.Equal(t, 1, rec.count())
	body := string(rec.last().body)
	assert.Contains(t, body, "database")
	assert.Contains(t, body, "disabled")
}

func TestInteractionUserID(t *testing.T) {
	guild := commandInteraction("ping")
	assert.Equal(t, "user-1", interactionUserID(guild))

	dm := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		User: &discordgo.User{ID: "user-9"},
	}}
	assert.Equal(t, "user-9", interactionUserID(dm))

	assert.Empty(t, interactionUserID(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}))
}

func TestDescribeServiceSanitizesErrors(t *testing.T) {
	info := service.Info{
		Name:      "database",
		Status:    "error",
		LastError: "dial tcp 10.0.0.5:5432: connection refused",
	}
	value := describeService(info)
	assert.NotContains(t, value, "10.0.0.5")
}
