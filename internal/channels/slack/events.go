package slack

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// maxEventBody bounds Events API request bodies.
const maxEventBody = 1 << 20

// EventsHandler serves the HTTP Events API endpoint as an alternative
// to Socket Mode. Requests are authenticated with Slack's signing
// secret; the verifier rejects timestamps older than five minutes, so
// replayed requests fail.
type EventsHandler struct {
	signingSecret string
	adapter       *Adapter
}

// NewEventsHandler wires the adapter's dispatch path to HTTP delivery.
func NewEventsHandler(signingSecret string, adapter *Adapter) *EventsHandler {
	return &EventsHandler{signingSecret: signingSecret, adapter: adapter}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	verifier, err := slack.NewSecretsVerifier(r.Header, h.signingSecret)
	if err != nil {
		http.Error(w, "bad signature headers", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if _, err := verifier.Write(body); err != nil {
		http.Error(w, "verify body", http.StatusInternalServerError)
		return
	}
	if err := verifier.Ensure(); err != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		http.Error(w, "parse event", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(w, "parse challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(challenge.Challenge))

	case slackevents.CallbackEvent:
		switch ev := event.InnerEvent.Data.(type) {
		case *slackevents.AppMentionEvent:
			h.adapter.dispatch(r.Context(), inboundEvent{
				user:      ev.User,
				text:      ev.Text,
				channel:   ev.Channel,
				mentioned: true,
			})
		case *slackevents.MessageEvent:
			if ev.BotID == "" && ev.SubType == "" {
				h.adapter.dispatch(r.Context(), inboundEvent{
					user:    ev.User,
					text:    ev.Text,
					channel: ev.Channel,
				})
			}
		}
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusOK)
	}
}
