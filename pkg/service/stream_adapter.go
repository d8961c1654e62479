package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/tosgen/tosgen/pkg/db"
	"github.com/tosgen/tosgen/pkg/utils"
)

// FallbackResponse replaces the model output when the provider fails.
const FallbackResponse = "I'm sorry, I couldn't understand that. Could you please rephrase?"

// StreamRequest is the input of one generation.
type StreamRequest struct {
	SystemPrompt   string
	ConversationID string
	UserMessage    string
	History        []db.ChatMessage
	// OnToken is called synchronously for every non-empty chunk, in order.
	OnToken func(token string)
}

// StreamResult is what the adapter hands back once the stream ends.
// Response is exactly the text passed to OnToken.
type StreamResult struct {
	Response       string
	Kind           string
	Cancelled      bool
	BillableTokens TokenUsage
	Err            error // upstream failure behind a fallback response
}

// StreamAdapter drives a provider stream and reports each chunk.
type StreamAdapter struct {
	estimator    TokenEstimator
	contextTurns int
	logger       *slog.Logger
}

func NewStreamAdapter(estimator TokenEstimator, contextTurns int) *StreamAdapter {
	if estimator == nil {
		estimator = CharEstimator{}
	}
	if contextTurns <= 0 {
		contextTurns = 10
	}
	return &StreamAdapter{
		estimator:    estimator,
		contextTurns: contextTurns,
		logger:       utils.GetLogger(),
	}
}

// BuildMessages converts stored history plus the new prompt into the provider
// message list. Without history the system prompt is inlined into the single
// user message. History is limited to the latest contextTurns entries.
func BuildMessages(systemPrompt, userMessage string, history []db.ChatMessage, contextTurns int) []*schema.Message {
	if len(history) == 0 {
		return []*schema.Message{schema.UserMessage(systemPrompt + "\n\n" + userMessage)}
	}

	converted := make([]*schema.Message, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case db.RoleUser:
			converted = append(converted, schema.UserMessage(m.Text()))
		case db.RoleModel:
			converted = append(converted, schema.AssistantMessage(m.Text(), nil))
		}
	}
	if contextTurns > 0 && len(converted) > contextTurns {
		converted = converted[len(converted)-contextTurns:]
	}
	return append(converted, schema.UserMessage(userMessage))
}

// StreamChat runs one generation under ctx. Cancellation of ctx ends the
// stream early with Cancelled set; other failures produce FallbackResponse.
func (a *StreamAdapter) StreamChat(ctx context.Context, chatModel einoModel.BaseChatModel, req *StreamRequest) *StreamResult {
	res := &StreamResult{Kind: db.KindNormal}
	res.BillableTokens.Estimated = true

	msgs := BuildMessages(req.SystemPrompt, req.UserMessage, req.History, a.contextTurns)
	in := a.estimator.Estimate(msgs[len(msgs)-1].Content)
	res.BillableTokens.Input = in
	res.BillableTokens.Total = in

	if ctx.Err() != nil {
		res.Cancelled = true
		return res
	}

	var sb strings.Builder
	emit := func(chunk string) {
		if req.OnToken != nil {
			req.OnToken(chunk)
		}
		sb.WriteString(chunk)
		out := a.estimator.Estimate(chunk)
		res.BillableTokens.Output += out
		res.BillableTokens.Total += out
	}

	reader, err := chatModel.Stream(ctx, msgs)
	if err != nil {
		if ctx.Err() != nil {
			res.Cancelled = true
			return res
		}
		a.fail(res, &sb, emit, req.ConversationID, err)
		return res
	}
	defer reader.Close()

	for {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				res.Cancelled = true
				break
			}
			a.fail(res, &sb, emit, req.ConversationID, err)
			return res
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		emit(chunk.Content)
	}

	res.Response = sb.String()
	if res.Cancelled {
		a.logger.Info("Stream cancelled", "chatId", req.ConversationID, "cause", context.Cause(ctx), "chars", sb.Len())
	}
	return res
}

func (a *StreamAdapter) fail(res *StreamResult, sb *strings.Builder, emit func(string), chatID string, err error) {
	a.logger.Error("Model stream failed", "chatId", chatID, "error", err)
	text := FallbackResponse
	if sb.Len() > 0 {
		text = "\n\n" + text
	}
	emit(text)
	res.Response = sb.String()
	res.Kind = db.KindFallback
	res.Err = err
}
