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

// Evolution sends through an Evolution API gateway instance.
type Evolution struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ OutboundChannel = (*Evolution)(nil)

type evolutionTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type evolutionTextResponse struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJID string `json:"remoteJid"`
	} `json:"key"`
	Status string `json:"status"`
}

// NewEvolution creates the adapter from config.
func NewEvolution(cfg config.EvolutionConfig) *Evolution {
	return &Evolution{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  newHTTPClient(cfg.Timeout),
	}
}

func (e *Evolution) Kind() model.Channel { return model.ChannelEvolution }

// Send posts to /message/sendText/{instance}. The provider message id is key.id.
func (e *Evolution) Send(ctx context.Context, to Recipient, text string) (SendResult, error) {
	if to.AccountRef == "" {
		return SendResult{}, &SendError{Channel: model.ChannelEvolution, Message: "instance id is required"}
	}

	endpoint := fmt.Sprintf("%s/message/sendText/%s", e.baseURL, url.PathEscape(to.AccountRef))
	var resp evolutionTextResponse
	err := postJSON(ctx, e.client, model.ChannelEvolution, endpoint,
		map[string]string{"apikey": e.apiKey},
		evolutionTextRequest{Number: to.Phone, Text: text},
		&resp, evolutionErrorMessage)
	if err != nil {
		return SendResult{}, err
	}
	if resp.Key.ID == "" {
		return SendResult{}, &SendError{Channel: model.ChannelEvolution, StatusCode: http.StatusOK, Message: "response carries no message id"}
	}
	return SendResult{ProviderMessageID: resp.Key.ID}, nil
}

// evolutionErrorMessage reads {"response":{"message":[...]}} or {"message":"..."}.
func evolutionErrorMessage(body []byte) string {
	var withList struct {
		Response struct {
			Message []interface{} `json:"message"`
		} `json:"response"`
	}
	if json.Unmarshal(body, &withList) == nil && len(withList.Response.Message) > 0 {
		parts := make([]string, 0, len(withList.Response.Message))
		for _, m := range withList.Response.Message {
			parts = append(parts, fmt.Sprint(m))
		}
		return strings.Join(parts, "; ")
	}
	var flat struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &flat) == nil {
		if flat.Message != "" {
			return flat.Message
		}
		return flat.Error
	}
	return ""
}
