package copilot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaharia-lab/copilot/observability"
)

const (
	// DefaultContextWindowLimit is the input window of gemini-2.0-flash.
	DefaultContextWindowLimit = 1_048_576

	// DefaultWarningRatio is the share of the context window at which replies carry a warning.
	DefaultWarningRatio = 0.8
)

// SessionState reports whether a session has a request in flight.
type SessionState int

const (
	StateIdle SessionState = iota
	StateSending
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// BudgetWarning is attached to a reply whose token usage crossed the warning threshold.
type BudgetWarning struct {
	Used  int
	Limit int
	Ratio float64
}

func (w BudgetWarning) String() string {
	return fmt.Sprintf("token usage %d is at or above %.0f%% of the %d token context window",
		w.Used, w.Ratio*100, w.Limit)
}

// Reply is the outcome of a successful Send.
type Reply struct {
	Text        string
	TotalTokens int
	// Warning is set when usage reached the warning threshold. It never blocks the reply.
	Warning *BudgetWarning
	// Truncated is the number of history messages dropped to fit the context window.
	Truncated int
}

// ConversationSession keeps the history of one conversation and drives the
// completion service with it. A session is not safe for concurrent use.
type ConversationSession struct {
	id                 string
	provider           LLMProvider
	requestConfig      LLMRequestConfig
	systemInstruction  string
	history            []LLMMessage
	totalTokensUsed    int
	contextWindowLimit int
	warningRatio       float64
	requestTimeout     time.Duration
	retrier            *retrier
	state              SessionState
	transcript         ChatHistoryStorage
	logger             observability.Logger
	metrics            *observability.Metrics
}

// SessionOption configures a ConversationSession.
type SessionOption func(*ConversationSession)

// WithContextWindowLimit sets the token limit that triggers history truncation.
func WithContextWindowLimit(limit int) SessionOption {
	return func(s *ConversationSession) {
		if limit > 0 {
			s.contextWindowLimit = limit
		}
	}
}

// WithWarningRatio sets the share of the context window at which replies carry a warning.
func WithWarningRatio(ratio float64) SessionOption {
	return func(s *ConversationSession) {
		if ratio > 0 {
			s.warningRatio = ratio
		}
	}
}

// WithRetryPolicy sets the rate limit retry policy.
func WithRetryPolicy(policy RetryPolicy) SessionOption {
	return func(s *ConversationSession) {
		s.retrier.policy = policy
	}
}

// WithRequestTimeout bounds every single completion attempt.
func WithRequestTimeout(timeout time.Duration) SessionOption {
	return func(s *ConversationSession) {
		s.requestTimeout = timeout
	}
}

// WithSystemInstruction sends instruction as a system message ahead of every prompt.
func WithSystemInstruction(instruction string) SessionOption {
	return func(s *ConversationSession) {
		s.systemInstruction = instruction
	}
}

// WithRequestConfig sets the generation parameters.
func WithRequestConfig(config LLMRequestConfig) SessionOption {
	return func(s *ConversationSession) {
		s.requestConfig = config
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger observability.Logger) SessionOption {
	return func(s *ConversationSession) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records send outcomes, retries and truncations.
func WithMetrics(metrics *observability.Metrics) SessionOption {
	return func(s *ConversationSession) {
		s.metrics = metrics
	}
}

// WithTranscript appends every message of the session to chat sessionID in storage.
// The session adopts sessionID as its own ID.
func WithTranscript(storage ChatHistoryStorage, sessionID string) SessionOption {
	return func(s *ConversationSession) {
		s.transcript = storage
		s.id = sessionID
	}
}

// WithInitialHistory seeds the session with an existing history and its last known usage.
func WithInitialHistory(messages []LLMMessage, totalTokensUsed int) SessionOption {
	return func(s *ConversationSession) {
		s.history = make([]LLMMessage, 0, len(messages))
		for _, m := range messages {
			if m.Role == UserRole || m.Role == AssistantRole {
				s.history = append(s.history, m)
			}
		}
		s.totalTokensUsed = totalTokensUsed
	}
}

// NewConversationSession creates an empty session on top of provider.
func NewConversationSession(provider LLMProvider, opts ...SessionOption) *ConversationSession {
	s := &ConversationSession{
		id:                 uuid.New().String(),
		provider:           provider,
		requestConfig:      DefaultConfig,
		contextWindowLimit: DefaultContextWindowLimit,
		warningRatio:       DefaultWarningRatio,
		retrier:            newRetrier(DefaultRetryPolicy()),
		state:              StateIdle,
		logger:             observability.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retrier.observe = s.onRetry
	return s
}

// ResumeSession rebuilds a session from the transcript stored under sessionID
// and keeps recording to it. Messages already truncated out of the prompt
// window before the last recorded message stay in the transcript but are not
// restored; see ChatHistory.PromptWindow.
func ResumeSession(ctx context.Context, provider LLMProvider, storage ChatHistoryStorage, sessionID string, opts ...SessionOption) (*ConversationSession, error) {
	chat, err := storage.GetChat(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat %s: %w", sessionID, err)
	}

	opts = append([]SessionOption{
		WithInitialHistory(chat.PromptWindow(), chat.LastTotalToken()),
	}, opts...)
	opts = append(opts, WithTranscript(storage, chat.SessionID))
	return NewConversationSession(provider, opts...), nil
}

// ID identifies the session and, when a transcript is attached, its stored chat.
func (s *ConversationSession) ID() string {
	return s.id
}

// State reports whether a Send is in progress.
func (s *ConversationSession) State() SessionState {
	return s.state
}

// History returns a copy of the current prompt window, oldest first.
func (s *ConversationSession) History() []LLMMessage {
	history := make([]LLMMessage, len(s.history))
	copy(history, s.history)
	return history
}

// TotalTokensUsed returns the usage reported by the last successful completion.
func (s *ConversationSession) TotalTokensUsed() int {
	return s.totalTokensUsed
}

// Send appends userText to the history, asks the completion service for a
// reply and appends the reply. When the reported usage reaches the context
// window limit the oldest messages are dropped one by one and the request is
// reissued until usage falls below the limit.
//
// On error the user message stays in the history, so sending the same text
// again duplicates it.
func (s *ConversationSession) Send(ctx context.Context, userText string) (Reply, error) {
	s.state = StateSending
	defer func() { s.state = StateIdle }()

	logger := s.logger.WithContext(ctx).WithFields(map[string]interface{}{"session_id": s.id})

	userMessage := LLMMessage{Role: UserRole, Text: userText}
	s.history = append(s.history, userMessage)
	s.record(ctx, ChatHistoryMessage{LLMMessage: userMessage, Metadata: s.windowMetadata()})

	resp, err := s.complete(ctx)
	if err != nil {
		s.metrics.ObserveSend(sendOutcome(err))
		logger.WithErr(err).Error("completion failed")
		return Reply{}, err
	}

	var reply Reply
	if warning := s.budgetWarning(); warning != nil {
		reply.Warning = warning
		s.metrics.ObserveBudgetWarning()
		logger.Warn(warning.String())
	}

	for s.totalTokensUsed >= s.contextWindowLimit {
		s.history = s.history[1:]
		reply.Truncated++
		s.metrics.ObserveTruncation()

		if len(s.history) == 0 {
			s.metrics.ObserveSend(observability.OutcomeOverflow)
			logger.Errorf("history exhausted with %d tokens used, limit %d", s.totalTokensUsed, s.contextWindowLimit)
			return Reply{}, fmt.Errorf("%w: %d tokens used, limit %d", ErrEmptyHistoryOverflow, s.totalTokensUsed, s.contextWindowLimit)
		}

		logger.Infof("dropped oldest message, %d tokens used of %d, %d messages left",
			s.totalTokensUsed, s.contextWindowLimit, len(s.history))

		resp, err = s.complete(ctx)
		if err != nil {
			s.metrics.ObserveSend(sendOutcome(err))
			logger.WithErr(err).Error("completion failed after truncation")
			return Reply{}, err
		}
	}

	assistantMessage := LLMMessage{Role: AssistantRole, Text: resp.Text}
	s.history = append(s.history, assistantMessage)
	s.record(ctx, ChatHistoryMessage{
		LLMMessage:  assistantMessage,
		InputToken:  int64(resp.TotalInputToken),
		OutputToken: int64(resp.TotalOutputToken),
		TotalToken:  int64(resp.TotalTokens()),
		Metadata:    s.windowMetadata(),
	})

	s.metrics.ObserveSend(observability.OutcomeSuccess)

	reply.Text = resp.Text
	reply.TotalTokens = s.totalTokensUsed
	return reply, nil
}

// complete sends the joined history under the retry policy and records the reported usage.
func (s *ConversationSession) complete(ctx context.Context) (LLMResponse, error) {
	messages := s.promptMessages()

	var resp LLMResponse
	err := s.retrier.do(ctx, func(ctx context.Context) error {
		if s.requestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
			defer cancel()
		}

		r, err := s.provider.GetResponse(ctx, messages, s.requestConfig)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return LLMResponse{}, err
	}

	s.totalTokensUsed = resp.TotalTokens()
	s.metrics.SetTokensUsed(s.totalTokensUsed)
	return resp, nil
}

func (s *ConversationSession) promptMessages() []LLMMessage {
	messages := make([]LLMMessage, 0, 2)
	if s.systemInstruction != "" {
		messages = append(messages, LLMMessage{Role: SystemRole, Text: s.systemInstruction})
	}
	return append(messages, LLMMessage{Role: UserRole, Text: JoinHistory(s.history)})
}

// JoinHistory renders messages as a single prompt, oldest first, one
// "User: ..." or "Assistant: ..." block per message separated by blank lines.
func JoinHistory(messages []LLMMessage) string {
	blocks := make([]string, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case UserRole:
			blocks = append(blocks, "User: "+m.Text)
		case AssistantRole:
			blocks = append(blocks, "Assistant: "+m.Text)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func (s *ConversationSession) budgetWarning() *BudgetWarning {
	if float64(s.totalTokensUsed) < s.warningRatio*float64(s.contextWindowLimit) {
		return nil
	}
	return &BudgetWarning{
		Used:  s.totalTokensUsed,
		Limit: s.contextWindowLimit,
		Ratio: s.warningRatio,
	}
}

func (s *ConversationSession) onRetry(retry int, delay time.Duration, err error) {
	s.metrics.ObserveRetry()
	s.logger.WithErr(err).WithFields(map[string]interface{}{
		"session_id": s.id,
		"retry":      retry,
		"delay":      delay.String(),
	}).Warn("completion service rate limited, retrying")
}

// record appends message to the transcript. Storage failures are logged, not returned.
func (s *ConversationSession) record(ctx context.Context, message ChatHistoryMessage) {
	if s.transcript == nil {
		return
	}
	message.GeneratedAt = time.Now().UTC()
	if err := s.transcript.AddMessage(ctx, s.id, message); err != nil {
		s.logger.WithErr(err).WithFields(map[string]interface{}{
			"session_id": s.id,
			"role":       message.Role,
		}).Error("failed to record transcript message")
	}
}

// windowMetadata tags a transcript entry with the prompt window size right
// after it was appended.
func (s *ConversationSession) windowMetadata() map[string]interface{} {
	return map[string]interface{}{WindowSizeMetadataKey: len(s.history)}
}

func sendOutcome(err error) string {
	var serviceErr *ServiceError
	switch {
	case errors.Is(err, ErrRateLimitExhausted):
		return observability.OutcomeRateLimitExhausted
	case errors.Is(err, ErrEmptyHistoryOverflow):
		return observability.OutcomeOverflow
	case errors.As(err, &serviceErr):
		return observability.OutcomeServiceError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return observability.OutcomeCanceled
	default:
		return observability.OutcomeServiceError
	}
}
