// Package channel holds the user-facing surfaces: the HTTP gateway the
// mobile app talks to, the interactive CLI, and the Telegram channel for
// the family caregiver.
package channel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"carebot/internal/domain"
	"carebot/internal/metrics"
	"carebot/internal/provider"
)

const (
	maxAudioUpload = 15 << 20 // 15MB
	maxBodySize    = 1 << 20
	turnTimeout    = 180 * time.Second // ride lookups drive a browser
	wsWriteTimeout = 10 * time.Second
)

// Transcriber converts uploaded audio to text. *provider.Whisper
// satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (*provider.TranscriptionResult, error)
}

// Synthesizer renders reply audio (MP3).
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// GatewayStore is the slice of the persistence layer the config CRUD
// endpoints need.
type GatewayStore interface {
	GetProfile(ctx context.Context) (*domain.UserProfile, error)
	SaveProfile(ctx context.Context, p domain.UserProfile) error
	ListMedications(ctx context.Context) ([]domain.Medication, error)
	AddMedication(ctx context.Context, m domain.Medication) (domain.Medication, error)
	DeleteMedication(ctx context.Context, id string) error
	ListContacts(ctx context.Context) ([]domain.EmergencyContact, error)
	AddContact(ctx context.Context, c domain.EmergencyContact) (domain.EmergencyContact, error)
	UpdateContact(ctx context.Context, c domain.EmergencyContact) error
	DeleteContact(ctx context.Context, id string) error
	ListBills(ctx context.Context, unpaidOnly bool) ([]domain.BillReminder, error)
	AddBill(ctx context.Context, b domain.BillReminder) (domain.BillReminder, error)
	MarkBillPaid(ctx context.Context, idOrName string) (*domain.BillReminder, error)
	DeleteBill(ctx context.Context, id string) error
}

// Web is the HTTP gateway: voice and text chat for the mobile app,
// config CRUD for the dashboard, a websocket event stream, and metrics.
type Web struct {
	host        string
	port        int
	stt         Transcriber // nil disables audio input
	tts         Synthesizer // nil disables reply audio
	provider    domain.Provider
	store       GatewayStore
	promptReset func() // invalidates the agent's cached system prompt
	metrics     http.HandlerFunc
	logger      *slog.Logger

	bus    domain.MessageBus
	server *http.Server

	upgrader  websocket.Upgrader
	wsClients map[*websocket.Conn]*sync.Mutex
	wsMu      sync.Mutex
}

type WebConfig struct {
	Host        string
	Port        int
	STT         Transcriber
	TTS         Synthesizer
	Provider    domain.Provider
	Store       GatewayStore
	PromptReset func()
	Metrics     http.HandlerFunc
	Logger      *slog.Logger
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	return &Web{
		host:        cfg.Host,
		port:        cfg.Port,
		stt:         cfg.STT,
		tts:         cfg.TTS,
		provider:    cfg.Provider,
		store:       cfg.Store,
		promptReset: cfg.PromptReset,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		upgrader: websocket.Upgrader{
			// The gateway serves a native app, not browsers; no Origin check.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		wsClients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

func (w *Web) Name() string { return "web" }

// Start serves until the context is cancelled.
func (w *Web) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus

	// Asynchronous outbound (reminders) goes to the event stream.
	bus.OnOutbound("web", func(msg domain.OutboundMessage) {
		w.broadcast(map[string]any{"type": "message", "chatId": msg.ChatID, "content": msg.Content})
	})

	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{Addr: addr, Handler: w.Handler()}

	w.logger.Info("gateway started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

// Send pushes a message to the event stream. The reminder scheduler and
// the bus outbound path use it.
func (w *Web) Send(ctx context.Context, chatID, content string) error {
	w.broadcast(map[string]any{"type": "message", "chatId": chatID, "content": content})
	return nil
}

// Handler builds the route table. Exposed so tests can drive the gateway
// through httptest without binding a port.
func (w *Web) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/voice-chat", w.handleVoiceChat)
	mux.HandleFunc("POST /api/chat", w.handleChat)
	mux.HandleFunc("POST /api/generate", w.handleGenerate)
	mux.HandleFunc("POST /api/tts", w.handleTTS)
	mux.HandleFunc("GET /api/health", w.handleHealth)
	mux.HandleFunc("GET /api/events", w.handleEvents)

	mux.HandleFunc("GET /api/config/profile", w.handleGetProfile)
	mux.HandleFunc("PUT /api/config/profile", w.handlePutProfile)
	mux.HandleFunc("GET /api/config/medications", w.handleListMedications)
	mux.HandleFunc("POST /api/config/medications", w.handleAddMedication)
	mux.HandleFunc("DELETE /api/config/medications/{id}", w.handleDeleteMedication)
	mux.HandleFunc("GET /api/config/contacts", w.handleListContacts)
	mux.HandleFunc("POST /api/config/contacts", w.handleAddContact)
	mux.HandleFunc("PUT /api/config/contacts/{id}", w.handleUpdateContact)
	mux.HandleFunc("DELETE /api/config/contacts/{id}", w.handleDeleteContact)
	mux.HandleFunc("GET /api/config/bills", w.handleListBills)
	mux.HandleFunc("POST /api/config/bills", w.handleAddBill)
	mux.HandleFunc("PUT /api/config/bills/{id}", w.handleMarkBillPaid)
	mux.HandleFunc("DELETE /api/config/bills/{id}", w.handleDeleteBill)

	if w.metrics != nil {
		mux.HandleFunc("GET /metrics", w.metrics)
	}
	return mux
}

// runTurn publishes a turn onto the bus and waits for the agent's result.
func (w *Web) runTurn(ctx context.Context, chatID, content string) (domain.TurnResult, error) {
	replyCh := make(chan domain.TurnResult, 1)
	w.bus.Publish(domain.InboundMessage{
		Channel:   "web",
		ChatID:    chatID,
		SenderID:  "app",
		Content:   content,
		Timestamp: time.Now(),
		ReplyCh:   replyCh,
	})

	timer := time.NewTimer(turnTimeout)
	defer timer.Stop()
	select {
	case result := <-replyCh:
		return result, nil
	case <-timer.C:
		return domain.TurnResult{}, fmt.Errorf("turn timed out after %s", turnTimeout)
	case <-ctx.Done():
		return domain.TurnResult{}, ctx.Err()
	}
}

// handleVoiceChat is the voice pipeline: multipart audio (or a text
// fallback field) in, transcript + reply text + reply audio + cards out.
func (w *Web) handleVoiceChat(rw http.ResponseWriter, r *http.Request) {
	metrics.VoiceTurnsTotal.Inc()

	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		writeError(rw, http.StatusBadRequest, "expected multipart form: "+err.Error())
		return
	}

	chatID := r.FormValue("chatId")
	if chatID == "" {
		chatID = "app"
	}

	transcript := r.FormValue("text")
	if file, header, err := r.FormFile("audio"); err == nil {
		defer file.Close()
		if w.stt == nil {
			writeError(rw, http.StatusServiceUnavailable, "speech-to-text is not configured")
			return
		}
		result, err := w.stt.Transcribe(r.Context(), file, header.Filename)
		if err != nil {
			w.logger.Error("transcription failed", "err", err)
			writeError(rw, http.StatusBadGateway, "could not transcribe audio")
			return
		}
		transcript = result.Text
	}
	if transcript == "" {
		writeError(rw, http.StatusBadRequest, "no audio or text provided")
		return
	}

	result, err := w.runTurn(r.Context(), chatID, transcript)
	if err != nil {
		writeError(rw, http.StatusGatewayTimeout, err.Error())
		return
	}
	if result.Err != nil {
		writeError(rw, http.StatusInternalServerError, result.Err.Error())
		return
	}

	w.broadcastTurn(chatID, result)

	response := map[string]any{
		"transcript": transcript,
		"reply":      result.Content,
	}
	if cards := buildCards(result.ToolResults); len(cards) > 0 {
		response["cards"] = cards
	}
	if url := liveViewURL(result.ToolResults); url != "" {
		response["liveViewUrl"] = url
	}
	if w.tts != nil {
		if audio, err := w.synthesizeBase64(r.Context(), result.Content); err != nil {
			w.logger.Warn("reply synthesis failed, returning text only", "err", err)
		} else {
			response["audio"] = audio
			response["audioFormat"] = "mp3"
		}
	}
	writeJSON(rw, http.StatusOK, response)
}

func (w *Web) handleChat(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		ChatID  string `json:"chatId"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil || req.Message == "" {
		writeError(rw, http.StatusBadRequest, "body must be JSON with a non-empty message")
		return
	}
	if req.ChatID == "" {
		req.ChatID = "app"
	}

	result, err := w.runTurn(r.Context(), req.ChatID, req.Message)
	if err != nil {
		writeError(rw, http.StatusGatewayTimeout, err.Error())
		return
	}
	if result.Err != nil {
		writeError(rw, http.StatusInternalServerError, result.Err.Error())
		return
	}

	w.broadcastTurn(req.ChatID, result)

	response := map[string]any{"reply": result.Content}
	if cards := buildCards(result.ToolResults); len(cards) > 0 {
		response["cards"] = cards
	}
	if url := liveViewURL(result.ToolResults); url != "" {
		response["liveViewUrl"] = url
	}
	writeJSON(rw, http.StatusOK, response)
}

// handleGenerate is a direct model call without tools or history. The
// dashboard uses it for one-off text generation.
func (w *Web) handleGenerate(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
		Model  string `json:"model"`
		JSON   bool   `json:"json"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil || req.Prompt == "" {
		writeError(rw, http.StatusBadRequest, "body must be JSON with a non-empty prompt")
		return
	}

	resp, err := w.provider.Chat(r.Context(), domain.ChatRequest{
		Messages:     []domain.Message{{Role: "user", Content: req.Prompt}},
		Model:        req.Model,
		ResponseJSON: req.JSON,
	})
	if err != nil {
		writeError(rw, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"text": resp.Content})
}

func (w *Web) handleTTS(rw http.ResponseWriter, r *http.Request) {
	if w.tts == nil {
		writeError(rw, http.StatusServiceUnavailable, "text-to-speech is not configured")
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil || req.Text == "" {
		writeError(rw, http.StatusBadRequest, "body must be JSON with non-empty text")
		return
	}

	audio, err := w.tts.Synthesize(r.Context(), req.Text)
	if err != nil {
		writeError(rw, http.StatusBadGateway, err.Error())
		return
	}
	defer audio.Close()

	rw.Header().Set("Content-Type", "audio/mpeg")
	io.Copy(rw, audio)
}

func (w *Web) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleEvents upgrades to a websocket and streams turn events (tool
// results, replies, reminders) to the dashboard.
func (w *Web) handleEvents(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	w.wsMu.Lock()
	w.wsClients[conn] = &sync.Mutex{}
	w.wsMu.Unlock()

	w.logger.Info("event stream client connected", "remote", conn.RemoteAddr())

	// Reads only detect disconnects; the stream is one-way.
	go func() {
		defer w.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (w *Web) dropClient(conn *websocket.Conn) {
	w.wsMu.Lock()
	delete(w.wsClients, conn)
	w.wsMu.Unlock()
	conn.Close()
}

// broadcastTurn pushes the tool results and final reply of a turn to all
// event stream clients.
func (w *Web) broadcastTurn(chatID string, result domain.TurnResult) {
	for _, tr := range result.ToolResults {
		w.broadcast(map[string]any{"type": "tool", "chatId": chatID, "tool": tr.Tool, "callId": tr.CallID})
	}
	w.broadcast(map[string]any{"type": "reply", "chatId": chatID, "content": result.Content})
}

func (w *Web) broadcast(event map[string]any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	w.wsMu.Lock()
	clients := make(map[*websocket.Conn]*sync.Mutex, len(w.wsClients))
	for conn, mu := range w.wsClients {
		clients[conn] = mu
	}
	w.wsMu.Unlock()

	for conn, mu := range clients {
		mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		err := conn.WriteMessage(websocket.TextMessage, data)
		mu.Unlock()
		if err != nil {
			w.dropClient(conn)
		}
	}
}

func (w *Web) synthesizeBase64(ctx context.Context, text string) (string, error) {
	audio, err := w.tts.Synthesize(ctx, text)
	if err != nil {
		return "", err
	}
	defer audio.Close()
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func writeJSON(rw http.ResponseWriter, status int, payload any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(payload)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}
