package convo

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Prompt is the normalized request sent to the conversation model provider.
type Prompt struct {
	SessionID string
	History   []Turn
	Input     Turn
}

// ModelProvider is the narrow boundary to a language-model service:
// prompt in, reply text out, stateless per call.
type ModelProvider interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Engine produces an assistant turn for each user turn. It serializes calls
// per session (a second turn arriving mid-generation waits rather than
// interleaving) and degrades provider failures to a fallback utterance in
// the turn's language, which is still recorded so the conversation stays
// self-consistent.
type Engine struct {
	provider        ModelProvider
	fallbacks       map[string]string
	defaultLanguage string
	callTimeout     time.Duration

	gates sync.Map // session id -> *sync.Mutex
}

// Fallback apologies per language. Kept short so synthesis stays cheap.
var defaultFallbacks = map[string]string{
	"en": "Sorry, I lost my train of thought. Could you say that again?",
	"ml": "ക്ഷമിക്കണം, എനിക്ക് അത് മനസ്സിലായില്ല. ഒന്നുകൂടി പറയാമോ?",
}

type EngineConfig struct {
	// Fallbacks overrides the per-language fallback utterances.
	Fallbacks map[string]string
	// DefaultLanguage is used when a turn's language has no fallback entry.
	DefaultLanguage string
	// CallTimeout bounds each provider call. Zero means 30s.
	CallTimeout time.Duration
}

func NewEngine(provider ModelProvider, cfg EngineConfig) *Engine {
	fallbacks := cfg.Fallbacks
	if len(fallbacks) == 0 {
		fallbacks = defaultFallbacks
	}
	lang := strings.TrimSpace(cfg.DefaultLanguage)
	if lang == "" {
		lang = "en"
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		provider:        provider,
		fallbacks:       fallbacks,
		defaultLanguage: lang,
		callTimeout:     timeout,
	}
}

// Respond generates the assistant turn for user's utterance. The user turn
// and the resulting assistant turn (real or fallback) are both appended to
// history. Respond never returns an error: provider failure yields the
// fallback turn instead.
func (e *Engine) Respond(ctx context.Context, sessionID string, history *History, user Turn) Turn {
	gate := e.gateFor(sessionID)
	gate.Lock()
	defer gate.Unlock()

	snapshot := history.Turns()
	history.Append(user)

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	text, err := e.provider.Complete(callCtx, Prompt{
		SessionID: sessionID,
		History:   snapshot,
		Input:     user,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		text = e.fallbackFor(user.Language)
	}

	assistant := Turn{
		Role:     RoleAssistant,
		Text:     strings.TrimSpace(text),
		Language: e.replyLanguage(user.Language),
		At:       time.Now().UTC(),
	}
	history.Append(assistant)
	return assistant
}

// Forget releases the per-session serialization gate after teardown.
func (e *Engine) Forget(sessionID string) {
	e.gates.Delete(sessionID)
}

func (e *Engine) gateFor(sessionID string) *sync.Mutex {
	v, _ := e.gates.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (e *Engine) fallbackFor(language string) string {
	if text, ok := e.fallbacks[language]; ok {
		return text
	}
	if text, ok := e.fallbacks[e.defaultLanguage]; ok {
		return text
	}
	return defaultFallbacks["en"]
}

func (e *Engine) replyLanguage(language string) string {
	if strings.TrimSpace(language) == "" {
		return e.defaultLanguage
	}
	return language
}
