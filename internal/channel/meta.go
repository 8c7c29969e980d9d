package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/config"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

// Meta sends through the WhatsApp Cloud API.
type Meta struct {
	graphURL    string
	version     string
	accessToken string
	client      *http.Client
}

var _ OutboundChannel = (*Meta)(nil)

type metaText struct {
	Body string `json:"body"`
}

type metaTextRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             metaText `json:"text"`
}

type metaTextResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// NewMeta creates the adapter from config.
func NewMeta(cfg config.MetaConfig) *Meta {
	return &Meta{
		graphURL:    strings.TrimSuffix(cfg.GraphURL, "/"),
		version:     cfg.Version,
		accessToken: cfg.AccessToken,
		client:      newHTTPClient(cfg.Timeout),
	}
}

func (m *Meta) Kind() model.Channel { return model.ChannelOfficial }

// Send posts to /{version}/{phone-number-id}/messages. The provider message id is messages[0].id.
func (m *Meta) Send(ctx context.Context, to Recipient, text string) (SendResult, error) {
	if to.AccountRef == "" {
		return SendResult{}, &SendError{Channel: model.ChannelOfficial, Message: "official account id is required"}
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages", m.graphURL, m.version, url.PathEscape(to.AccountRef))
	var resp metaTextResponse
	err := postJSON(ctx, m.client, model.ChannelOfficial, endpoint,
		map[string]string{"Authorization": "Bearer " + m.accessToken},
		metaTextRequest{MessagingProduct: "whatsapp", To: to.Phone, Type: "text", Text: metaText{Body: text}},
		&resp, metaErrorMessage)
	if err != nil {
		return SendResult{}, err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return SendResult{}, &SendError{Channel: model.ChannelOfficial, StatusCode: http.StatusOK, Message: "response carries no message id"}
	}
	return SendResult{ProviderMessageID: resp.Messages[0].ID}, nil
}

// metaErrorMessage reads the Graph API error object.
func metaErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil || e.Error.Message == "" {
		return ""
	}
	if e.Error.Code != 0 {
		return fmt.Sprintf("%s (code %d)", e.Error.Message, e.Error.Code)
	}
	return e.Error.Message
}
