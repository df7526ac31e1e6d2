package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Eterna-Community/Deterna-Bot/errors"
	"github.com/Eterna-Community/Deterna-Bot/metric"
)

// maxBodySize caps webhook payloads at 1 MiB. Push events with huge
// commit lists get truncated summaries anyway, so anything larger is
// either misconfigured or hostile.
const maxBodySize = 1 << 20

// deduplicationWindow is how long delivery IDs are remembered for replay
// protection. Forges retry within minutes, so an hour is conservative.
const deduplicationWindow = time.Hour

// accentColor is the embed color for forwarded forge events.
const accentColor = 0x5865F2

// ForwardFunc delivers one translated embed to Discord.
type ForwardFunc func(embed *discordgo.MessageEmbed) error

// Handler processes incoming webhook requests: signature verification,
// replay protection, translation, forwarding. It is a plain http.Handler
// so the service can mount it wherever its config says.
type Handler struct {
	secret  []byte
	forward ForwardFunc
	logger  *slog.Logger
	metrics *metric.MetricsRegistry

	mu         sync.Mutex
	deliveries map[string]time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// WithHandlerMetrics wires delivery counters.
func WithHandlerMetrics(registry *metric.MetricsRegistry) HandlerOption {
	return func(h *Handler) { h.metrics = registry }
}

// NewHandler builds a handler verifying with secret and forwarding
// translated events through forward.
func NewHandler(secret []byte, forward ForwardFunc, opts ...HandlerOption) (*Handler, error) {
	if len(secret) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Handler", "New", "webhook secret")
	}
	if forward == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Handler", "New", "forward function")
	}

	h := &Handler{
		secret:     secret,
		forward:    forward,
		deliveries: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "webhook-handler")
	return h, nil
}

// ServeHTTP handles a single delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	// The raw bytes are needed for signature verification before any
	// decoding. Read one byte past the cap to tell "at the cap" from
	// "over it".
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		h.logger.Error("webhook body read failed", "error", err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	if len(body) > maxBodySize {
		http.Error(w, "", http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) == 0 {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	if err := VerifySignature(h.secret, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		h.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr, "error", err)
		h.record("unknown", "rejected")
		http.Error(w, "", http.StatusUnauthorized)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if event == "" {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	if deliveryID != "" && h.isDuplicate(deliveryID) {
		h.logger.Debug("duplicate delivery ignored", "delivery_id", deliveryID, "event", event)
		h.record(event, "duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	embed, err := translate(event, body)
	if err != nil {
		// Retrying a malformed payload cannot fix it, so acknowledge.
		h.logger.Error("webhook translation failed", "event", event, "delivery_id", deliveryID, "error", err)
		h.record(event, "error")
		w.WriteHeader(http.StatusOK)
		return
	}
	if embed == nil {
		h.logger.Debug("unhandled webhook event acknowledged", "event", event, "delivery_id", deliveryID)
		h.record(event, "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.forward(embed); err != nil {
		h.logger.Error("webhook forward failed", "event", event, "delivery_id", deliveryID, "error", err)
		h.record(event, "error")
		http.Error(w, "", http.StatusBadGateway)
		return
	}

	h.logger.Info("webhook forwarded", "event", event, "delivery_id", deliveryID)
	h.record(event, "forwarded")
	w.WriteHeader(http.StatusOK)
}

// isDuplicate checks and records a delivery ID, pruning expired entries
// on the way. The map holds at most one entry per delivery in the window,
// so the sweep is cheap.
func (h *Handler) isDuplicate(deliveryID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for id, receivedAt := range h.deliveries {
		if now.Sub(receivedAt) > deduplicationWindow {
			delete(h.deliveries, id)
		}
	}

	if _, exists := h.deliveries[deliveryID]; exists {
		return true
	}
	h.deliveries[deliveryID] = now
	return false
}

func (h *Handler) record(event, outcome string) {
	if h.metrics != nil {
		h.metrics.Metrics().RecordWebhookDelivery(event, outcome)
	}
}

// translate turns a raw payload into the embed to forward. A nil embed
// with nil error means the event kind is valid but not handled.
func translate(event string, body []byte) (*discordgo.MessageEmbed, error) {
	switch event {
	case "ping":
		return translatePing(body)
	case "push":
		return translatePush(body)
	case "release":
		return translateRelease(body)
	default:
		return nil, nil
	}
}

type pingPayload struct {
	Zen  string `json:"zen"`
	Hook struct {
		ID int64 `json:"id"`
	} `json:"hook"`
	Repository repository `json:"repository"`
}

type pushPayload struct {
	Ref        string     `json:"ref"`
	Compare    string     `json:"compare"`
	Repository repository `json:"repository"`
	Pusher     struct {
		Name string `json:"name"`
	} `json:"pusher"`
	Commits []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"commits"`
}

type releasePayload struct {
	Action  string `json:"action"`
	Release struct {
		TagName string `json:"tag_name"`
		Name    string `json:"name"`
		HTMLURL string `json:"html_url"`
	} `json:"release"`
	Repository repository `json:"repository"`
	Sender     struct {
		Login string `json:"login"`
	} `json:"sender"`
}

type repository struct {
	FullName string `json:"full_name"`
}

func translatePing(body []byte) (*discordgo.MessageEmbed, error) {
	var payload pingPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing ping payload: %w", err)
	}
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Webhook connected: %s", payload.Repository.FullName),
		Description: payload.Zen,
		Color:       accentColor,
	}, nil
}

func translatePush(body []byte) (*discordgo.MessageEmbed, error) {
	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing push payload: %w", err)
	}

	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")
	commitWord := "commits"
	if len(payload.Commits) == 1 {
		commitWord = "commit"
	}

	var lines []string
	for i, commit := range payload.Commits {
		if i == 5 {
			lines = append(lines, fmt.Sprintf("and %d more", len(payload.Commits)-i))
			break
		}
		message, _, _ := strings.Cut(commit.Message, "\n")
		lines = append(lines, fmt.Sprintf("`%s` %s", shortSHA(commit.ID), message))
	}

	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("[%s] %s pushed %d %s to %s", payload.Repository.FullName, payload.Pusher.Name, len(payload.Commits), commitWord, branch),
		Description: strings.Join(lines, "\n"),
		URL:         payload.Compare,
		Color:       accentColor,
	}, nil
}

func translateRelease(body []byte) (*discordgo.MessageEmbed, error) {
	var payload releasePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing release payload: %w", err)
	}

	// Drafts and edits only produce noise; published is the event that
	// matters to a community channel.
	if payload.Action != "published" {
		return nil, nil
	}

	name := payload.Release.Name
	if name == "" {
		name = payload.Release.TagName
	}
	return &discordgo.MessageEmbed{
		Title: fmt.Sprintf("[%s] release %s published", payload.Repository.FullName, name),
		URL:   payload.Release.HTMLURL,
		Color: accentColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Tag", Value: payload.Release.TagName, Inline: true},
			{Name: "By", Value: payload.Sender.Login, Inline: true},
		},
	}, nil
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
