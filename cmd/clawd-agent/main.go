// clawd-agent is a minimal in-container peer for the internal agent
// protocol: it authenticates to the master, echoes prompts back as
// assistant messages, and answers protocol queries with canned data. The
// production agent wraps an LLM SDK loop in its place; this binary
// exists to exercise the link, the auth handshake, and the reconnect
// path end to end.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/lmdudester/clawd/internal/agentlink"
	"github.com/lmdudester/clawd/internal/domain"
)

const promptQueueCapacity = 16

func main() {
	sessionID := os.Getenv("SESSION_ID")
	if sessionID == "" {
		log.Fatal().Msg("SESSION_ID is required")
	}

	token, err := readSecret("SESSION_TOKEN")
	if err != nil {
		log.Fatal().Err(err).Msg("reading session token")
	}
	masterURL, err := readSecret("MASTER_WS_URL")
	if err != nil {
		log.Fatal().Err(err).Msg("reading master WS URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	prompts := agentlink.NewPromptQueue(promptQueueCapacity)

	var link *agentlink.Link
	link = agentlink.New(masterURL, sessionID, token, func(frame domain.Frame) {
		handleFrame(ctx, link, prompts, frame)
	})

	if err := link.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connecting to master")
	}
	defer link.Close()

	link.Send(map[string]string{"type": domain.FrameReady})
	log.Info().Str("sessionId", sessionID).Msg("agent ready")

	runLoop(ctx, link, prompts)
}

// readSecret loads one bind-mounted secret from /run/secrets.
func readSecret(name string) (string, error) {
	data, err := os.ReadFile("/run/secrets/" + name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// handleFrame runs on the link's read loop: prompts go onto the queue,
// everything else is answered inline.
func handleFrame(ctx context.Context, link *agentlink.Link, prompts *agentlink.PromptQueue, frame domain.Frame) {
	switch frame.Type {
	case domain.FrameUserMessage:
		var f domain.UserMessageFrame
		if err := json.Unmarshal(frame.Raw, &f); err != nil {
			log.Warn().Err(err).Msg("malformed user_message")
			return
		}
		if err := prompts.Push(ctx, f.Content); err != nil {
			log.Warn().Err(err).Msg("prompt dropped")
		}
	case domain.FrameInterrupt:
		// Nothing long-running to cancel in the demo loop; confirm the
		// interrupt with an immediate result.
		link.Send(map[string]any{"type": domain.FrameResult, "totalCostUsd": 0.0, "contextUsage": domain.ContextUsage{}})
	case domain.FrameGetModels:
		link.Send(map[string]any{"type": domain.FrameModelsList, "models": []string{"opus", "sonnet", "haiku"}})
	case domain.FrameSetModel:
		var f struct {
			Model string `json:"model"`
		}
		if err := json.Unmarshal(frame.Raw, &f); err != nil {
			return
		}
		link.Send(map[string]any{"type": domain.FrameSessionInfoUpdate, "model": f.Model})
	case domain.FrameUpdateSettings, domain.FrameApprovalResponse, domain.FrameQuestionResponse, domain.FrameTokenUpdate:
		// Acknowledged implicitly; the demo loop never blocks on these.
	default:
		log.Debug().Str("type", frame.Type).Msg("unhandled master frame")
	}
}

// runLoop pulls prompts and answers each with an echoed assistant
// message followed by a result.
func runLoop(ctx context.Context, link *agentlink.Link, prompts *agentlink.PromptQueue) {
	defer prompts.Close()
	for {
		prompt, ok := prompts.Pull(ctx)
		if !ok {
			return
		}

		link.Send(map[string]any{
			"type": domain.FrameSDKMessage,
			"message": domain.SDKMessagePayload{
				Kind:    domain.MessageAssistant,
				Content: "echo: " + prompt,
			},
		})
		link.Send(map[string]any{
			"type":         domain.FrameResult,
			"totalCostUsd": 0.0,
			"contextUsage": domain.ContextUsage{Turns: 1},
		})
	}
}
