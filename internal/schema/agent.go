package schema

type AgentSettings struct {
	Model              string
	MaxSteps           int
	TerminalToolPrefix string
	Temperature        float64
	MaxTokens          int
	Instructions       string
}

func NewAgentSettings(model string, maxSteps int, terminalPrefix string, temperature float64, maxTokens int) AgentSettings {
	return AgentSettings{
		Model:              model,
		MaxSteps:           maxSteps,
		TerminalToolPrefix: terminalPrefix,
		Temperature:        temperature,
		MaxTokens:          maxTokens,
	}
}
