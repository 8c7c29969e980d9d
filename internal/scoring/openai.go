package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/observer"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

const systemPrompt = `Você qualifica leads de compra de precatórios para uma equipe comercial no WhatsApp.
Responda sempre com um único objeto JSON, sem texto adicional.`

// OpenAIReasonerConfig configures the chat completions client.
type OpenAIReasonerConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}

// OpenAIReasoner implements Reasoner on the OpenAI chat completions API.
type OpenAIReasoner struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	logger    *zap.Logger
}

// NewOpenAIReasoner creates a reasoner. An empty BaseURL uses the public API.
func NewOpenAIReasoner(cfg OpenAIReasonerConfig, log *zap.Logger) *OpenAIReasoner {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if log == nil {
		log = logger.Named("reasoner")
	}
	return &OpenAIReasoner{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   timeout,
		logger:    log,
	}
}

type extractResponse struct {
	HasPrecatorio     bool    `json:"has_precatorio"`
	AssetValue        float64 `json:"asset_value"`
	Region            string  `json:"region"`
	Urgency           bool    `json:"urgency"`
	DocumentsReceived bool    `json:"documents_received"`
	Interested        bool    `json:"interested"`
	Eligible          bool    `json:"eligible"`
}

func (r *OpenAIReasoner) Extract(ctx context.Context, text string, extractCtx ExtractContext) (model.LeadAttributes, error) {
	prompt := fmt.Sprintf(`Extraia os atributos de qualificação da mensagem abaixo.
Atributos já conhecidos: %s
Histórico recente:
%s
Mensagem: %q

Formato:
{"has_precatorio": bool, "asset_value": number, "region": "UF com duas letras ou vazio", "urgency": bool, "documents_received": bool, "interested": bool, "eligible": bool}`,
		string(utils.MustMarshalJSON(extractCtx.Current)), transcript(extractCtx.History), text)

	var out extractResponse
	if err := r.complete(ctx, "extract", prompt, &out); err != nil {
		return model.LeadAttributes{}, err
	}
	return model.LeadAttributes{
		HasPrecatorio:     out.HasPrecatorio,
		AssetValue:        out.AssetValue,
		Region:            strings.ToUpper(strings.TrimSpace(out.Region)),
		Urgency:           out.Urgency,
		DocumentsReceived: out.DocumentsReceived,
		Interested:        out.Interested,
		Eligible:          out.Eligible,
	}, nil
}

func (r *OpenAIReasoner) Score(ctx context.Context, lead model.Lead, history []model.Message) (Assessment, error) {
	prompt := fmt.Sprintf(`Avalie o lead de 0 a 100.
Lead: nome=%q pontuação atual=%d atributos=%s
Histórico:
%s

Formato:
{"score": inteiro 0-100, "classification": "hot|warm|cold|discard", "reasoning": "justificativa curta"}`,
		lead.Name, lead.Score, string(utils.MustMarshalJSON(lead.Attributes)), transcript(history))

	var out Assessment
	if err := r.complete(ctx, "score", prompt, &out); err != nil {
		return Assessment{}, err
	}
	return out, nil
}

func (r *OpenAIReasoner) DecideTransfer(ctx context.Context, score int, history []model.Message, messageCount int64) (TransferAdvice, error) {
	prompt := fmt.Sprintf(`Decida se a conversa deve ser transferida para um atendente humano.
Pontuação do lead: %d
Total de mensagens: %d
Histórico:
%s

Formato:
{"should_transfer": bool, "reason": "motivo curto", "priority": "high|medium|low"}`,
		score, messageCount, transcript(history))

	var out TransferAdvice
	if err := r.complete(ctx, "decide_transfer", prompt, &out); err != nil {
		return TransferAdvice{}, err
	}
	if out.ShouldTransfer && !out.Priority.Valid() {
		out.Priority = model.PriorityMedium
	}
	return out, nil
}

// complete runs one JSON-only completion bounded by the reasoner timeout and decodes it into out.
func (r *OpenAIReasoner) complete(ctx context.Context, op, prompt string, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		observer.ObserveReasoningCall(op, time.Since(start), err)
	}()

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   r.maxTokens,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		if callCtx.Err() != nil {
			return fmt.Errorf("%w: reasoning %s: %w", apperrors.ErrTimeout, op, err)
		}
		return fmt.Errorf("%w: reasoning %s: %w", apperrors.ErrUpstream, op, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: %s returned no choices", ErrUnparsableResponse, op)
	}

	content := resp.Choices[0].Message.Content
	raw := utils.ExtractJSONObject(content)
	if raw == "" {
		r.logger.Warn("Reasoning response has no JSON object", zap.String("operation", op), zap.String("response", content))
		return fmt.Errorf("%w: %s", ErrUnparsableResponse, op)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		r.logger.Warn("Failed to parse reasoning response", zap.String("operation", op), zap.String("response", content), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrUnparsableResponse, op, err)
	}
	return nil
}

// transcript renders messages as "sender: text" lines.
func transcript(history []model.Message) string {
	if len(history) == 0 {
		return "(vazio)"
	}
	var b strings.Builder
	for _, m := range history {
		text := m.Text
		if text == "" {
			text = "[" + string(m.Type) + "]"
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Sender, text)
	}
	return b.String()
}
