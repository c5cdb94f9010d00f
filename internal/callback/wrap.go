// Package callback provides ADK agent callbacks for the pet agent.
package callback

import (
	"log/slog"
	"time"

	"google.golang.org/adk/agent"
	"google.golang.org/genai"
)

// WrapBeforeCallback logs the callback's outcome and turns a panic into a
// logged no-op.
func WrapBeforeCallback(name string, cb agent.BeforeAgentCallback) agent.BeforeAgentCallback {
	return agent.BeforeAgentCallback(wrap("before", name, cb))
}

// WrapAfterCallback is WrapBeforeCallback for after-agent callbacks.
func WrapAfterCallback(name string, cb agent.AfterAgentCallback) agent.AfterAgentCallback {
	return agent.AfterAgentCallback(wrap("after", name, cb))
}

func wrap(phase, name string, cb func(agent.CallbackContext) (*genai.Content, error)) func(agent.CallbackContext) (*genai.Content, error) {
	return func(ctx agent.CallbackContext) (content *genai.Content, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("callback panic", "phase", phase, "name", name, "error", r)
				content, err = nil, nil
			}
		}()

		content, err = cb(ctx)
		if err != nil {
			slog.Error("callback error", "phase", phase, "name", name, "error", err.Error())
			return content, err
		}
		slog.Debug("callback done", "phase", phase, "name", name,
			"has_content", content != nil, "elapsed", time.Since(start))
		return content, nil
	}
}
