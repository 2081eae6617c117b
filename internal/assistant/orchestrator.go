// Package assistant runs the live conversation loop for one connection and
// the memory and report work that follows when the session closes.
package assistant

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/companion/internal/audio"
	"github.com/ent0n29/companion/internal/conversation"
	"github.com/ent0n29/companion/internal/gateway"
	"github.com/ent0n29/companion/internal/memory"
	"github.com/ent0n29/companion/internal/observability"
	"github.com/ent0n29/companion/internal/policy"
	"github.com/ent0n29/companion/internal/prompts"
	"github.com/ent0n29/companion/internal/protocol"
	"github.com/ent0n29/companion/internal/reliability"
	"github.com/ent0n29/companion/internal/report"
	"github.com/ent0n29/companion/internal/session"
)

const (
	chatMaxTokens   = 150
	chatTemperature = 0.7

	defaultTeardownTimeout = 45 * time.Second
	outboundSendTimeout    = 600 * time.Millisecond
)

type MemoryRetriever interface {
	Retrieve(ctx context.Context, userID, query string) ([]memory.Scored, error)
}

type MemoryWriter interface {
	Write(ctx context.Context, userID string, sessionLog []string) (memory.Record, bool, error)
}

type ReportScheduler interface {
	MaybeGenerate(ctx context.Context, userID string) (report.Report, bool, error)
}

// Deps are the collaborators of an Orchestrator. Metrics and Logger may be nil.
type Deps struct {
	Sessions    *session.Manager
	Prompts     *prompts.Set
	Transcriber gateway.Transcriber
	Completer   gateway.Completer
	Retriever   MemoryRetriever
	Writer      MemoryWriter
	Scheduler   ReportScheduler
	Turns       conversation.Store
	Redactor    policy.Redactor
	Metrics     *observability.Metrics
	Logger      *zap.Logger

	TeardownTimeout time.Duration
}

type Orchestrator struct {
	Deps
	now func() time.Time
}

func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.TeardownTimeout <= 0 {
		deps.TeardownTimeout = defaultTeardownTimeout
	}
	deps.Logger = observability.OrNop(deps.Logger)
	return &Orchestrator{Deps: deps, now: time.Now}
}

// RunConnection drives one session for one websocket connection. It returns
// when the client disconnects, asks to end, or the session expires, after
// the session's memory and report work has finished. Connections of the same
// user run one at a time.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	log := o.Logger.With(zap.String("session_id", s.ID), zap.String("user_id", s.UserID))

	release, err := o.Sessions.AcquireUser(ctx, s.UserID)
	if err != nil {
		return err
	}
	defer release()
	if err := o.Sessions.WaitTeardown(ctx, s.UserID); err != nil {
		return err
	}
	// The session may have been superseded or ended while waiting.
	if cur, err := o.Sessions.Get(s.ID); err != nil {
		return err
	} else if cur.Status != session.StatusActive {
		return session.ErrEnded
	}
	ended, err := o.Sessions.Done(s.ID)
	if err != nil {
		return err
	}

	buf := &session.Buffer{}
	defer o.closeSession(ctx, s, buf, log)

	o.Metrics.IncSessionEvent("connected")
	o.send(outbound, protocol.AIMessage{
		Type:      protocol.TypeAIMessage,
		SessionID: s.ID,
		Text:      o.Prompts.Greeting,
		TSMs:      o.now().UnixMilli(),
	})

	turn := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ended:
			o.send(outbound, protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: s.ID,
				Code:      "session_ended",
			})
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			_ = o.Sessions.Touch(s.ID)
			switch m := msg.(type) {
			case protocol.ClientAudio:
				text, err := o.transcribe(ctx, m)
				if err != nil {
					log.Warn("transcription failed", zap.Error(err))
					o.sendApology(ctx, outbound, s.ID, "transcribe_failed", err)
					continue
				}
				turn++
				o.handleUtterance(ctx, s, buf, turn, text, outbound, log)
			case protocol.ClientText:
				turn++
				o.handleUtterance(ctx, s, buf, turn, m.Text, outbound, log)
			case protocol.ClientControl:
				switch m.Action {
				case protocol.ActionEnd:
					o.Metrics.IncSessionEvent("client_end")
					return nil
				case protocol.ActionPing:
					o.send(outbound, protocol.SystemEvent{
						Type:      protocol.TypeSystemEvent,
						SessionID: s.ID,
						Code:      "pong",
					})
				default:
					o.send(outbound, protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: s.ID,
						Code:      "unsupported_action",
						Source:    "client",
						Detail:    m.Action,
					})
				}
			}
		}
	}
}

func (o *Orchestrator) transcribe(ctx context.Context, m protocol.ClientAudio) (string, error) {
	start := time.Now()
	defer func() { o.Metrics.ObserveStage(observability.StageTranscribe, time.Since(start)) }()

	raw, err := m.Audio()
	if err != nil {
		return "", err
	}
	wav, err := audio.ToWAV(m.Format, raw, m.SampleRate)
	if err != nil {
		return "", err
	}
	text, err := o.Transcriber.Transcribe(ctx, wav)
	if err != nil {
		return "", reliability.Gateway("transcribe", err)
	}
	return text, nil
}

// handleUtterance runs one turn to completion. Turns of a session never
// overlap because the connection loop calls this synchronously.
func (o *Orchestrator) handleUtterance(
	ctx context.Context,
	s *session.Session,
	buf *session.Buffer,
	turn int,
	text string,
	outbound chan<- any,
	log *zap.Logger,
) {
	text = strings.TrimSpace(text)
	if o.Prompts.ShouldIgnore(text) {
		o.Metrics.IncSessionEvent("transcript_ignored")
		o.send(outbound, protocol.AIMessage{
			Type:      protocol.TypeAIMessage,
			SessionID: s.ID,
			Turn:      turn,
			Text:      o.Prompts.RetryReply,
			TSMs:      o.now().UnixMilli(),
		})
		return
	}

	turnStart := time.Now()
	_ = o.Sessions.StartTurn(s.ID)
	log = log.With(zap.Int("turn", turn))

	reply, err := o.reply(ctx, s.UserID, text)
	if err != nil {
		log.Warn("turn failed", zap.Error(err))
		o.sendApology(ctx, outbound, s.ID, "turn_failed", err)
		return
	}

	userLine, userRedacted := o.Redactor.Apply(text)
	aiLine, aiRedacted := o.Redactor.Apply(reply)
	persistStart := time.Now()
	if err := o.persist(ctx, s.UserID, userLine, userRedacted, aiLine, aiRedacted); err != nil {
		o.Metrics.IncSessionEvent("turn_persist_failed")
		log.Error("persist turn failed", zap.Error(err))
	}
	o.Metrics.ObserveStage(observability.StagePersist, time.Since(persistStart))

	buf.Add(string(conversation.SpeakerUser), userLine)
	buf.Add(string(conversation.SpeakerAI), aiLine)

	now := o.now().UnixMilli()
	o.send(outbound, protocol.UserMessage{
		Type:      protocol.TypeUserMessage,
		SessionID: s.ID,
		Text:      text,
		TSMs:      now,
	})
	o.send(outbound, protocol.AIMessage{
		Type:      protocol.TypeAIMessage,
		SessionID: s.ID,
		Turn:      turn,
		Text:      reply,
		TSMs:      now,
	})
	o.Metrics.ObserveStage(observability.StageTurnTotal, time.Since(turnStart))
}

// reply retrieves memories for text and completes the chat prompt.
func (o *Orchestrator) reply(ctx context.Context, userID, text string) (string, error) {
	scored, err := o.Retriever.Retrieve(ctx, userID, text)
	if err != nil {
		return "", err
	}

	prompt, err := o.Prompts.RenderChat(memory.Render(scored, o.Prompts.NoMemories), text)
	if err != nil {
		return "", reliability.Configuration("render chat prompt", err)
	}

	completeStart := time.Now()
	reply, err := o.Completer.Complete(ctx, prompt, gateway.CompletionOptions{
		System:      o.Prompts.Chat.System,
		MaxTokens:   chatMaxTokens,
		Temperature: chatTemperature,
	})
	o.Metrics.ObserveStage(observability.StageComplete, time.Since(completeStart))
	if err != nil {
		return "", reliability.Gateway("complete chat", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", reliability.Gateway("complete chat", gateway.ErrEmptyOutput)
	}
	return reply, nil
}

func (o *Orchestrator) persist(ctx context.Context, userID, userText string, userRedacted bool, aiText string, aiRedacted bool) error {
	now := o.now().UTC()
	turns := []conversation.Turn{
		{UserID: userID, Speaker: conversation.SpeakerUser, Message: userText, PIIRedacted: userRedacted, CreatedAt: now},
		{UserID: userID, Speaker: conversation.SpeakerAI, Message: aiText, PIIRedacted: aiRedacted, CreatedAt: now.Add(time.Microsecond)},
	}
	for _, t := range turns {
		if err := o.Turns.Append(ctx, t); err != nil {
			return reliability.Persistence("append turn", err)
		}
	}
	return nil
}

// sendApology reports a failed turn to the client without internal detail.
// Nothing is sent once the connection context is gone.
func (o *Orchestrator) sendApology(ctx context.Context, outbound chan<- any, sessionID, code string, err error) {
	if ctx.Err() != nil {
		return
	}
	source := "turn"
	if kind, ok := reliability.KindOf(err); ok {
		source = string(kind)
	}
	o.Metrics.IncSessionEvent(code)
	o.send(outbound, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: reliability.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded),
		Detail:    o.Prompts.Apology,
	})
}

func (o *Orchestrator) send(outbound chan<- any, msg any) {
	msgType := outboundMessageType(msg)
	timer := time.NewTimer(outboundSendTimeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
		o.Metrics.ObserveOutboundMessage(msgType, "delivered")
	case <-timer.C:
		o.Metrics.ObserveOutboundMessage(msgType, "timeout")
		o.Metrics.IncSessionEvent("outbound_drop")
	}
}

func outboundMessageType(msg any) string {
	switch m := msg.(type) {
	case protocol.UserMessage:
		return string(m.Type)
	case protocol.AIMessage:
		return string(m.Type)
	case protocol.ErrorEvent:
		return string(m.Type)
	case protocol.SystemEvent:
		return string(m.Type)
	default:
		return "unknown"
	}
}
