package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shaharia-lab/copilot"
	"github.com/shaharia-lab/copilot/observability"
)

const contextTurns = 5

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	// Agents by routing key. Defaults to DefaultAgents when empty.
	Agents map[string]*Agent
	// Keys lists routable keys in matching order. Defaults to DefaultKeys.
	Keys []string
	// AgentOptions are applied to the router and to the default agents.
	AgentOptions []Option
	// Store persists the turn log under ConversationID when set.
	Store          TurnStore
	ConversationID string
	Logger         observability.Logger
}

// DefaultKeys is the routing order: the first key contained in the router's
// answer wins.
var DefaultKeys = []string{LifePlannerKey, ExpenseAnalyzerKey, NormalChatKey, InvestmentAdvisorKey, BudgetPlannerKey}

// DefaultAgents builds the built-in finance agents.
func DefaultAgents(provider copilot.LLMProvider, opts ...Option) map[string]*Agent {
	return map[string]*Agent{
		LifePlannerKey:       New("LifePlannerAgent", LifePlannerRole, provider, opts...),
		ExpenseAnalyzerKey:   NewExpenseAnalyzer(provider, opts...),
		NormalChatKey:        New("NormalChatAgent", NormalChatRole, provider, opts...),
		InvestmentAdvisorKey: New("InvestmentAdvisorAgent", InvestmentAdvisorRole, provider, opts...),
		BudgetPlannerKey:     New("BudgetPlannerAgent", BudgetPlannerRole, provider, opts...),
	}
}

// Orchestrator routes each user input to one of its agents and keeps the turn log.
type Orchestrator struct {
	router *Agent
	agents map[string]*Agent
	keys   []string
	turns  []Turn

	store          TurnStore
	conversationID string
	logger         observability.Logger
}

// NewOrchestrator creates an orchestrator, loading the stored turn log when a store is configured.
func NewOrchestrator(provider copilot.LLMProvider, config OrchestratorConfig) (*Orchestrator, error) {
	if len(config.Agents) == 0 {
		config.Agents = DefaultAgents(provider, config.AgentOptions...)
	}
	if len(config.Keys) == 0 {
		for _, key := range DefaultKeys {
			if _, ok := config.Agents[key]; ok {
				config.Keys = append(config.Keys, key)
			}
		}
	}
	if _, ok := config.Agents[NormalChatKey]; !ok {
		return nil, fmt.Errorf("orchestrator needs a %s agent", NormalChatKey)
	}
	if config.Logger == nil {
		config.Logger = observability.NewNullLogger()
	}

	roles := make(map[string]string, len(config.Agents))
	for key, a := range config.Agents {
		roles[key] = a.Role
	}

	o := &Orchestrator{
		router:         New(defaultOrchestratorID, OrchestratorRole(roles, config.Keys), provider, config.AgentOptions...),
		agents:         config.Agents,
		keys:           config.Keys,
		store:          config.Store,
		conversationID: config.ConversationID,
		logger:         config.Logger,
	}

	if o.store != nil {
		turns, err := o.store.LoadTurns(o.conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load turns: %w", err)
		}
		o.turns = turns
	}
	return o, nil
}

// Turns returns a copy of the turn log.
func (o *Orchestrator) Turns() []Turn {
	out := make([]Turn, len(o.turns))
	copy(out, o.turns)
	return out
}

// Route picks the agent key for input. A question from the previous agent
// keeps the conversation with it; otherwise the router model decides.
func (o *Orchestrator) Route(ctx context.Context, input string) (string, error) {
	if n := len(o.turns); n > 0 {
		last := o.turns[n-1]
		if _, ok := o.agents[last.AgentKey]; ok && asksQuestion(last.AgentResponse) {
			o.logger.Debugf("agent %s asked a question, routing reply back to it", last.AgentKey)
			return last.AgentKey, nil
		}
	}

	answer, err := o.router.Generate(ctx, o.contextualPrompt(input))
	if err != nil {
		return "", fmt.Errorf("failed to route request: %w", err)
	}
	key := o.matchKey(answer)
	o.logger.Debugf("router answered %q, using %s", answer, key)
	return key, nil
}

func (o *Orchestrator) matchKey(answer string) string {
	answer = strings.ToLower(answer)
	for _, key := range o.keys {
		if strings.Contains(answer, key) {
			return key
		}
	}
	return NormalChatKey
}

func (o *Orchestrator) contextualPrompt(input string) string {
	var b strings.Builder
	b.WriteString("Below is a log of previous conversation steps:\n")
	start := len(o.turns) - contextTurns
	if start < 0 {
		start = 0
	}
	for _, turn := range o.turns[start:] {
		fmt.Fprintf(&b, "User: %s\nAgent: %s\nResponse: %s\n", turn.UserInput, turn.AgentKey, turn.AgentResponse)
	}
	fmt.Fprintf(&b, "\nNow the user says: %s\n", input)
	b.WriteString("Which agent should handle this?")
	return b.String()
}

// Handle routes input, runs the chosen agent and records the turn.
func (o *Orchestrator) Handle(ctx context.Context, input string) (Turn, error) {
	key, err := o.Route(ctx, input)
	if err != nil {
		return Turn{}, err
	}

	response, err := o.agents[key].Generate(ctx, o.agentPrompt(key, input))
	if err != nil {
		return Turn{}, err
	}

	turn := Turn{UserInput: input, AgentKey: key, AgentResponse: response, CreatedAt: time.Now()}
	o.turns = append(o.turns, turn)

	if o.store != nil {
		if err := o.store.SaveTurns(o.conversationID, o.turns); err != nil {
			o.logger.WithErr(err).Warnf("failed to save turns of %s", o.conversationID)
		}
	}
	return turn, nil
}

// agentPrompt repeats the agent's own pending question so a short answer keeps its meaning.
func (o *Orchestrator) agentPrompt(key, input string) string {
	n := len(o.turns)
	if n == 0 || o.turns[n-1].AgentKey != key || !asksQuestion(o.turns[n-1].AgentResponse) {
		return input
	}
	last := o.turns[n-1]
	return fmt.Sprintf("User: %s\nYou asked: %s\nUser: %s", last.UserInput, replyText(last.AgentResponse), input)
}

// Summarize asks the router model for a plain language message built from an agent's output.
func (o *Orchestrator) Summarize(ctx context.Context, input, agentResponse string) (string, error) {
	output := agentResponse
	var decoded interface{}
	if err := json.Unmarshal([]byte(copilot.CleanJSONText(agentResponse)), &decoded); err == nil {
		if pretty, err := json.MarshalIndent(decoded, "", "  "); err == nil {
			output = string(pretty)
		}
	}

	prompt := "Below is a summary of the agent's output followed by the user's original question. " +
		"Provide a clear and helpful final message for the user.\n" +
		fmt.Sprintf("User: %s\nAgent's structured output:\n%s\nFinal natural language message to user:\n", input, output)

	summarizer := *o.router
	summarizer.Role = ""
	summarizer.config.JSONResponse = false
	return summarizer.Generate(ctx, prompt)
}

// IsQuestion reports whether text ends with a question mark or has one among its last three words.
func IsQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if strings.HasSuffix(text, "?") {
		return true
	}
	words := strings.Fields(text)
	if len(words) > 3 {
		words = words[len(words)-3:]
	}
	for _, w := range words {
		if w == "?" {
			return true
		}
	}
	return false
}

// asksQuestion reports whether an agent reply, plain or JSON, ends the turn with a question.
func asksQuestion(response string) bool {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(copilot.CleanJSONText(response)), &fields); err == nil {
		if asking, ok := fields["askingQuestion"].(bool); ok {
			return asking
		}
	}
	return IsQuestion(replyText(response))
}

// replyText extracts the conversational part of a JSON reply so questions
// inside structured output are recognised.
func replyText(response string) string {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(copilot.CleanJSONText(response)), &fields); err != nil {
		return response
	}
	for _, name := range []string{"question", "response"} {
		if s, ok := fields[name].(string); ok && s != "" {
			return s
		}
	}
	return response
}
