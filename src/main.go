package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/prometheus/client_golang/prometheus"
	"golang.design/x/hotkey"
	"golang.design/x/hotkey/mainthread"

	"github.com/stephanwesten/ayurveda-voice/src/api"
	"github.com/stephanwesten/ayurveda-voice/src/audio"
	"github.com/stephanwesten/ayurveda-voice/src/chat"
	"github.com/stephanwesten/ayurveda-voice/src/config"
	"github.com/stephanwesten/ayurveda-voice/src/logger"
	"github.com/stephanwesten/ayurveda-voice/src/metrics"
	"github.com/stephanwesten/ayurveda-voice/src/pipeline"
	"github.com/stephanwesten/ayurveda-voice/src/whisper"
)

var (
	cfg           *config.Config
	configPath    string
	log           = slog.Default()
	session       *chat.Session
	recorder      *audio.Recorder
	closers       []io.Closer
	metricsServer *http.Server

	hk            *hotkey.Hotkey
	mStatus       *systray.MenuItem
	mToggle       *systray.MenuItem
	stopAnimation chan bool

	enabledMu sync.RWMutex
	isEnabled = true
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	upload := flag.String("upload", "", "upload a reference document (.pdf, .txt, .md, .docx) and exit")
	flag.Parse()

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, _ := cfg.Logging.SlogLevel()
	log = logger.New(logger.Config{Level: level, JSONFormat: cfg.Logging.Format == "json"})
	slog.SetDefault(log)

	if *upload != "" {
		if err := uploadDocument(appContext(), *upload); err != nil {
			logger.ErrorErr(appContext(), "upload failed", err, slog.String("file", *upload))
			os.Exit(1)
		}
		return
	}

	setHotkeyEnabled(cfg.Hotkey.Enabled)
	mainthread.Init(fn)
}

func fn() {
	systray.Run(onReady, onExit)
}

func onReady() {
	systray.SetTitle("◉")
	systray.SetTooltip("Ayurveda Voice - Press Cmd+Shift+P to record")

	if err := setup(); err != nil {
		log.Error("startup failed", slog.String("error", err.Error()))
		showErrorDialog("Ayurveda Voice", err.Error())
		systray.Quit()
		return
	}

	mStatus = systray.AddMenuItem("Ready", "Current status")
	mStatus.Disable()
	systray.AddSeparator()
	mSend := systray.AddMenuItem("Send transcript", "Send the last transcript to the assistant")
	mNewChat := systray.AddMenuItem("New chat", "Start a new conversation")
	mConversations := systray.AddMenuItem("Conversations", "Switch or delete conversations")
	mNextChat := mConversations.AddSubMenuItem("Previous chat", "Switch to the next older conversation")
	mDeleteChat := mConversations.AddSubMenuItem("Delete chat", "Delete the active conversation")
	mReloadSettings := systray.AddMenuItem("Reload model settings", "Re-read model settings from the config and apply them")
	mDismiss := systray.AddMenuItem("Dismiss error", "Clear the error message")
	mToggle = systray.AddMenuItem("Disable hotkey", "Enable or disable Cmd+Shift+P")
	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Quit the application")

	hk = hotkey.New([]hotkey.Modifier{hotkey.ModCmd, hotkey.ModShift}, hotkey.KeyP)
	if isHotkeyEnabled() {
		if err := hk.Register(); err != nil {
			log.Warn("failed to register hotkey", slog.String("error", err.Error()))
			setHotkeyEnabled(false)
		} else {
			log.Info("hotkey registered", slog.String("keys", "Cmd+Shift+P"))
		}
	}
	updateToggleTitle()

	// Hotkey events are coalesced so only one is handled at a time.
	triggerCh := make(chan struct{}, 1)

	go func() {
		for range hk.Keydown() {
			select {
			case triggerCh <- struct{}{}:
			default:
			}
		}
	}()

	go func() {
		for range triggerCh {
			handleHotkey()
		}
	}()

	go func() {
		for {
			select {
			case <-mSend.ClickedCh:
				sendCompose(appContext())
			case <-mNewChat.ClickedCh:
				id := session.NewChat()
				log.Info("new chat", slog.String("chat", id))
				setStatus("Ready")
			case <-mNextChat.ClickedCh:
				selectNextChat()
			case <-mDeleteChat.ClickedCh:
				deleteActiveChat()
			case <-mReloadSettings.ClickedCh:
				reloadSettings(appContext())
			case <-mDismiss.ClickedCh:
				session.DismissBanner()
				setStatus("Ready")
			case <-mToggle.ClickedCh:
				toggleHotkey()
			case <-mQuit.ClickedCh:
				log.Info("quit clicked")
				if isHotkeyEnabled() {
					hk.Unregister()
				}
				systray.Quit()
				return
			}
		}
	}()
}

// setup builds the recording pipeline and chat session from cfg.
func setup() error {
	backend, err := api.NewClient(api.Config{BaseURL: cfg.Backend.URL, Timeout: cfg.Backend.Timeout}, log)
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}

	transcriber, err := newTranscriber(backend)
	if err != nil {
		return err
	}

	device, err := audio.NewPortAudioDevice(cfg.Audio.Channels)
	if err != nil {
		return fmt.Errorf("failed to initialize audio: %w", err)
	}
	recorder = audio.NewRecorder(device, log)

	reg := prometheus.NewRegistry()
	m := metrics.NewPipeline(reg)
	if cfg.Metrics.Addr != "" {
		startMetricsServer(cfg.Metrics.Addr, reg)
	}

	session = chat.NewSession(recorder, pipeline.New(transcriber, m, log), backend, chatSettings(cfg.Chat), log)
	return nil
}

func chatSettings(c config.ChatConfig) api.Settings {
	return api.Settings{
		Model:        c.Model,
		Temperature:  c.Temperature,
		TopP:         c.TopP,
		MaxTokens:    c.MaxTokens,
		SystemPrompt: c.SystemPrompt,
	}
}

// appContext carries the application logger.
func appContext() context.Context {
	return logger.WithContext(context.Background(), log)
}

func newTranscriber(backend *api.Client) (pipeline.Transcriber, error) {
	tc := cfg.Transcription
	switch tc.Provider {
	case config.ProviderOpenAI:
		t, err := api.NewOpenAITranscriber(api.OpenAIConfig{
			APIKey:   tc.OpenAIKey,
			BaseURL:  tc.OpenAIBaseURL,
			Model:    tc.OpenAIModel,
			Language: tc.Language,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI transcriber: %w", err)
		}
		return t, nil
	case config.ProviderWhisper:
		t, err := whisper.NewTranscriber(whisper.Config{
			ModelPath: tc.WhisperModel,
			Language:  tc.Language,
			Threads:   tc.WhisperThreads,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize transcriber: %w", err)
		}
		closers = append(closers, t)
		return t, nil
	default:
		return backend, nil
	}
}

func startMetricsServer(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("metrics listening", slog.String("addr", addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
}

func handleHotkey() {
	if !isHotkeyEnabled() || session == nil {
		return
	}

	ctx := appContext()
	switch session.State() {
	case chat.StateIdle:
		log.Info("starting recording")
		if _, err := session.ToggleRecording(ctx); err != nil {
			logger.ErrorErr(ctx, "failed to start recording", err)
			setStatus("Error: " + session.Banner())
			return
		}
		startRecordingAnimation()
		setStatus("🎤 Recording...")

	case chat.StateRecording:
		log.Info("stopping recording")
		stopRecordingAnimation()
		systray.SetTitle("◉")
		setStatus("Transcribing...")

		cmd, err := session.ToggleRecording(ctx)
		if err != nil {
			logger.ErrorErr(ctx, "recording cycle failed", err)
			setStatus("Error: " + session.Banner())
			return
		}
		deliver(ctx, cmd)

	default:
		log.Debug("hotkey ignored while processing")
	}
}

// deliver routes a transcript according to its voice command.
func deliver(ctx context.Context, cmd *chat.Command) {
	if cmd == nil || cmd.Text == "" {
		setStatus("Ready")
		return
	}

	if cmd.Clipboard {
		if err := clipboard.WriteAll(cmd.Text); err != nil {
			logger.ErrorErr(ctx, "failed to copy to clipboard", err)
			setStatus("Error: Failed to copy")
			return
		}
		log.Info("transcript copied to clipboard")
		if !cmd.Send {
			setStatus("Copied to clipboard")
			return
		}
		session.SetCompose(cmd.Text)
	}

	if cmd.Send {
		sendCompose(ctx)
		return
	}
	setStatus("Transcript ready: " + preview(cmd.Text))
}

func sendCompose(ctx context.Context) {
	setStatus("Asking the assistant...")
	reply, err := session.Send(ctx)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			setStatus("Nothing to send")
			return
		}
		setStatus("Error: " + session.Banner())
		return
	}

	if err := clipboard.WriteAll(reply.Text); err != nil {
		logger.FromContext(ctx, log).Warn("failed to copy reply", slog.String("error", err.Error()))
	}
	setStatus("Reply copied: " + preview(reply.Text))
}

func uploadDocument(ctx context.Context, path string) error {
	client, err := api.NewClient(api.Config{BaseURL: cfg.Backend.URL, Timeout: cfg.Backend.Timeout}, log)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	resp, err := client.UploadDocument(ctx, path, f)
	if err != nil {
		return err
	}
	fmt.Println(resp.Message)
	return nil
}

// selectNextChat activates the conversation after the active one, wrapping
// around to the newest.
func selectNextChat() {
	convs := session.Conversations()
	if len(convs) == 0 {
		setStatus("No conversations")
		return
	}
	next := 0
	if active, ok := session.Active(); ok {
		for i, c := range convs {
			if c.ID == active.ID {
				next = (i + 1) % len(convs)
				break
			}
		}
	}
	if err := session.SelectChat(convs[next].ID); err != nil {
		log.Warn("failed to select chat", slog.String("error", err.Error()))
		return
	}
	setStatus("Chat: " + chatTitle(convs[next]))
}

func deleteActiveChat() {
	active, ok := session.Active()
	if !ok {
		setStatus("No conversations")
		return
	}
	if err := session.DeleteChat(active.ID); err != nil {
		log.Warn("failed to delete chat", slog.String("error", err.Error()))
		return
	}
	if next, ok := session.Active(); ok {
		setStatus("Chat: " + chatTitle(next))
	} else {
		setStatus("Ready")
	}
}

// reloadSettings re-reads the config and applies its model settings.
func reloadSettings(ctx context.Context) error {
	fresh, err := config.Load(configPath)
	if err != nil {
		logger.ErrorErr(ctx, "failed to reload config", err)
		setStatus("Error: Invalid config")
		return err
	}
	if err := session.UpdateSettings(ctx, chatSettings(fresh.Chat)); err != nil {
		logger.ErrorErr(ctx, "failed to update settings", err)
		setStatus("Error: " + session.Banner())
		return err
	}
	setStatus("Settings updated: " + fresh.Chat.Model)
	return nil
}

func chatTitle(c chat.Conversation) string {
	if c.Title == "" {
		return "New chat"
	}
	return c.Title
}

func onExit() {
	log.Info("cleaning up")
	if recorder != nil {
		recorder.Close()
	}
	for _, c := range closers {
		c.Close()
	}
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		metricsServer.Shutdown(ctx)
	}
	log.Info("menu bar app exiting")
}

func isHotkeyEnabled() bool {
	enabledMu.RLock()
	defer enabledMu.RUnlock()
	return isEnabled
}

func setHotkeyEnabled(enabled bool) {
	enabledMu.Lock()
	defer enabledMu.Unlock()
	isEnabled = enabled
}

// toggleHotkey registers or unregisters the global hotkey. The enabled flag
// is cleared before unregistering so a late keydown is ignored.
func toggleHotkey() {
	if isHotkeyEnabled() {
		setHotkeyEnabled(false)
		if err := hk.Unregister(); err != nil {
			log.Warn("failed to unregister hotkey", slog.String("error", err.Error()))
		}
		setStatus("Hotkey disabled")
	} else {
		if err := hk.Register(); err != nil {
			log.Error("failed to register hotkey", slog.String("error", err.Error()))
			setStatus("Error: Hotkey unavailable")
			return
		}
		setHotkeyEnabled(true)
		setStatus("Ready")
	}
	updateToggleTitle()
}

func updateToggleTitle() {
	if mToggle == nil {
		return
	}
	if isHotkeyEnabled() {
		mToggle.SetTitle("Disable hotkey")
	} else {
		mToggle.SetTitle("Enable hotkey")
	}
}

func setStatus(text string) {
	if mStatus != nil {
		mStatus.SetTitle(text)
	}
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= 40 {
		return text
	}
	return string(r[:40]) + "…"
}

// showErrorDialog displays an error dialog to the user
func showErrorDialog(title, message string) {
	script := `display dialog "` + escapeAppleScript(message) + `" with title "` + escapeAppleScript(title) + `" buttons {"OK"} default button "OK" with icon caution`

	cmd := exec.Command("osascript", "-e", script)
	if err := cmd.Run(); err != nil {
		log.Warn("failed to show error dialog", slog.String("error", err.Error()))
	}
}

func escapeAppleScript(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// startRecordingAnimation starts a blinking animation in the menu bar
func startRecordingAnimation() {
	stopAnimation = make(chan bool, 1)
	go func() {
		ticker := time.NewTicker(750 * time.Millisecond)
		defer ticker.Stop()

		blinkState := false
		for {
			select {
			case <-stopAnimation:
				return
			case <-ticker.C:
				if blinkState {
					systray.SetTitle("🔴")
				} else {
					systray.SetTitle("⭕")
				}
				blinkState = !blinkState
			}
		}
	}()
}

// stopRecordingAnimation stops the blinking animation
func stopRecordingAnimation() {
	if stopAnimation != nil {
		select {
		case stopAnimation <- true:
		default:
		}
	}
}
