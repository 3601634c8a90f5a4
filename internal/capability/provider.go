package capability

import (
	"fmt"

	"go.uber.org/zap"
)

// Provider names.
const (
	ProviderStub     = "stub"
	ProviderScripted = "scripted"
	ProviderOpenAI   = "openai"
)

// Settings selects and configures a Ports implementation.
type Settings struct {
	Provider     string
	ScriptedPath string
	OpenAI       OpenAIConfig
}

// New builds the Ports named by s.Provider.
func New(s Settings, logger *zap.Logger) (Ports, error) {
	switch s.Provider {
	case "", ProviderStub:
		return NewStub(), nil
	case ProviderScripted:
		script, err := LoadScript(s.ScriptedPath)
		if err != nil {
			return nil, fmt.Errorf("scripted provider: %w", err)
		}
		return NewScripted(script), nil
	case ProviderOpenAI:
		llm, err := NewOpenAICompleter(s.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		return NewLLMPorts(llm, s.OpenAI.RequestsPerSecond, s.OpenAI.Burst, logger), nil
	default:
		return nil, fmt.Errorf("unknown capability provider %q", s.Provider)
	}
}
