// Package chat is the view-model behind the assistant's chat surface: the
// conversation list, the compose field, model settings and the voice
// recording state machine.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stephanwesten/ayurveda-voice/src/api"
	"github.com/stephanwesten/ayurveda-voice/src/audio"
	"github.com/stephanwesten/ayurveda-voice/src/pipeline"
)

var (
	// ErrBusy is returned when a recording is requested while the previous
	// one is still being transcribed.
	ErrBusy = errors.New("still processing previous recording")
	// ErrEmptyMessage is returned by Send when the compose field is blank.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrUnknownChat is returned for a conversation ID that does not exist.
	ErrUnknownChat = errors.New("unknown conversation")
)

const titleLength = 40

// Role identifies who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation.
type Message struct {
	ID   string
	Role Role
	Text string
	At   time.Time
}

// Conversation is a titled list of messages.
type Conversation struct {
	ID        string
	Title     string
	Messages  []Message
	CreatedAt time.Time
}

// Recorder is the capture session used for voice input.
type Recorder interface {
	pipeline.Capture
	Start() error
}

// Runner executes a recording cycle.
type Runner interface {
	Run(ctx context.Context, capture pipeline.Capture) (*pipeline.Cycle, error)
}

// Backend is the chat backend.
type Backend interface {
	Chat(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error)
	UpdateSettings(ctx context.Context, settings api.Settings) error
}

// Session holds the state of one chat window.
type Session struct {
	recorder Recorder
	runner   Runner
	backend  Backend
	log      *slog.Logger
	now      func() time.Time

	mu            sync.Mutex
	state         AppState
	compose       string
	banner        string
	firstSession  bool
	activeID      string
	conversations []*Conversation
	settings      api.Settings
}

// NewSession creates a session with no conversations.
func NewSession(recorder Recorder, runner Runner, backend Backend, settings api.Settings, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		recorder:     recorder,
		runner:       runner,
		backend:      backend,
		log:          log,
		now:          time.Now,
		state:        StateIdle,
		firstSession: true,
		settings:     settings,
	}
}

// State returns the recording state.
func (s *Session) State() AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// tryTransition moves from one state to another only if the session is
// currently in from.
func (s *Session) tryTransition(from, to AppState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

// ToggleRecording starts a recording when idle and finishes it when
// recording. While a previous recording is processing it returns ErrBusy.
// The returned command is only set when a transcript was produced.
func (s *Session) ToggleRecording(ctx context.Context) (*Command, error) {
	switch s.State() {
	case StateIdle:
		return nil, s.StartRecording()
	case StateRecording:
		return s.StopRecording(ctx)
	default:
		return nil, ErrBusy
	}
}

// StartRecording opens the microphone.
func (s *Session) StartRecording() error {
	if !s.tryTransition(StateIdle, StateRecording) {
		if s.State() == StateRecording {
			return nil
		}
		return ErrBusy
	}

	if err := s.recorder.Start(); err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.banner = UserMessage(err)
		s.mu.Unlock()
		return err
	}
	return nil
}

// StopRecording runs the recording cycle. On success the transcript
// replaces the compose field, unless it was addressed to the clipboard.
// On failure the compose field is left untouched and the banner is set.
func (s *Session) StopRecording(ctx context.Context) (*Command, error) {
	if !s.tryTransition(StateRecording, StateProcessing) {
		return nil, audio.ErrNotRecording
	}
	defer func() {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
	}()

	cycle, err := s.runner.Run(ctx, s.recorder)
	if err != nil {
		s.mu.Lock()
		s.banner = UserMessage(err)
		s.mu.Unlock()
		return nil, err
	}

	cmd := ParseCommand(cycle.Transcript)
	if cmd.Text == "" {
		s.log.Info("no speech detected", slog.String("cycle", cycle.ID))
	} else if !cmd.Clipboard {
		s.mu.Lock()
		s.compose = cmd.Text
		s.mu.Unlock()
	}
	return &cmd, nil
}

// Compose returns the compose field.
func (s *Session) Compose() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compose
}

// SetCompose replaces the compose field.
func (s *Session) SetCompose(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compose = text
}

// Banner returns the current error banner, empty when there is none.
func (s *Session) Banner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}

// DismissBanner clears the error banner.
func (s *Session) DismissBanner() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banner = ""
}

// Send posts the compose field to the active conversation, creating one if
// none is active, and appends the assistant reply.
func (s *Session) Send(ctx context.Context) (*Message, error) {
	s.mu.Lock()
	text := strings.TrimSpace(s.compose)
	if text == "" {
		s.mu.Unlock()
		return nil, ErrEmptyMessage
	}
	conv := s.activeLocked()
	if conv == nil {
		conv = s.newChatLocked()
	}
	if conv.Title == "" {
		conv.Title = title(text)
	}
	conv.Messages = append(conv.Messages, Message{ID: uuid.NewString(), Role: RoleUser, Text: text, At: s.now()})
	chatID := conv.ID
	settings := s.settings
	s.firstSession = false
	s.mu.Unlock()

	resp, err := s.backend.Chat(ctx, api.ChatRequest{Message: text, ChatID: chatID, Settings: &settings})
	if err != nil {
		s.mu.Lock()
		s.banner = UserMessage(err)
		s.mu.Unlock()
		s.log.Error("chat request failed", slog.String("chat", chatID), slog.String("error", err.Error()))
		return nil, err
	}

	reply := Message{ID: uuid.NewString(), Role: RoleAssistant, Text: resp.Response, At: s.now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.findLocked(chatID); c != nil {
		c.Messages = append(c.Messages, reply)
	}
	if strings.TrimSpace(s.compose) == text {
		s.compose = ""
	}
	return &reply, nil
}

// FirstSession reports whether no message has been sent yet.
func (s *Session) FirstSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstSession
}

// NewChat creates an empty conversation, makes it active and returns its ID.
func (s *Session) NewChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newChatLocked().ID
}

func (s *Session) newChatLocked() *Conversation {
	conv := &Conversation{ID: uuid.NewString(), CreatedAt: s.now()}
	s.conversations = append([]*Conversation{conv}, s.conversations...)
	s.activeID = conv.ID
	return conv
}

// SelectChat makes the conversation with id active.
func (s *Session) SelectChat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findLocked(id) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownChat, id)
	}
	s.activeID = id
	return nil
}

// DeleteChat removes a conversation. Deleting the active one activates the
// most recent remaining conversation.
func (s *Session) DeleteChat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conversations {
		if c.ID != id {
			continue
		}
		s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
		if s.activeID == id {
			s.activeID = ""
			if len(s.conversations) > 0 {
				s.activeID = s.conversations[0].ID
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownChat, id)
}

// Conversations returns copies of all conversations, newest first.
func (s *Session) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = copyConversation(c)
	}
	return out
}

// Active returns a copy of the active conversation.
func (s *Session) Active() (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.activeLocked()
	if c == nil {
		return Conversation{}, false
	}
	return copyConversation(c), true
}

func (s *Session) activeLocked() *Conversation {
	return s.findLocked(s.activeID)
}

func (s *Session) findLocked(id string) *Conversation {
	if id == "" {
		return nil
	}
	for _, c := range s.conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Settings returns the model settings.
func (s *Session) Settings() api.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings validates the settings, stores them on the backend and
// keeps them for subsequent messages.
func (s *Session) UpdateSettings(ctx context.Context, settings api.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := s.backend.UpdateSettings(ctx, settings); err != nil {
		s.mu.Lock()
		s.banner = UserMessage(err)
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	return nil
}

func copyConversation(c *Conversation) Conversation {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}

func title(text string) string {
	r := []rune(text)
	if len(r) <= titleLength {
		return text
	}
	return strings.TrimSpace(string(r[:titleLength])) + "…"
}

// UserMessage maps an error to the text shown in the banner.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, audio.ErrPermission):
		return "Microphone access was denied"
	case errors.Is(err, audio.ErrDevice):
		return "No microphone available"
	case errors.Is(err, audio.ErrDecode):
		return "Error processing audio"
	case errors.Is(err, audio.ErrNotRecording):
		return "Not recording"
	case errors.Is(err, api.ErrNetwork):
		return "Could not reach the server"
	case errors.Is(err, api.ErrServer):
		return "The server could not handle the request"
	case errors.Is(err, ErrBusy):
		return "Still transcribing the previous recording"
	default:
		return "Something went wrong"
	}
}
