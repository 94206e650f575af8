// Package telegram implements transport.Session on the Telegram Bot API.
//
// A connection is a getMe handshake followed by a getUpdates long-poll loop
// that serves as the liveness probe: the first poll failure ends the
// connection with a classified close reason.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"contestbot/internal/transport"
	logx "contestbot/pkg/logx"
)

const DefaultPollTimeout = 10 * time.Second

var (
	ErrNotConnected     = errors.New("telegram: not connected")
	ErrAlreadyConnected = errors.New("telegram: already connected")
	ErrBadRecipient     = errors.New("telegram: recipient must be a chat id or @username")
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// APIURL overrides the Bot API endpoint (tests, local bot API servers).
	APIURL string
	Client *http.Client
}

type Session struct {
	cfg Config
	log logx.Logger

	mu     sync.Mutex
	bot    *tele.Bot
	cancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) (*Session, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.PollTimeout + 20*time.Second}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{cfg: cfg, log: log}, nil
}

// Connect performs the handshake and starts the liveness loop.
func (s *Session) Connect(ctx context.Context) (<-chan transport.Event, error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	s.mu.Unlock()

	bot, err := tele.NewBot(tele.Settings{
		URL:     s.cfg.APIURL,
		Token:   s.cfg.Token,
		Client:  s.cfg.Client,
		Offline: false,
	})
	if err != nil {
		return nil, &transport.CloseError{Reason: classify(err), Err: err}
	}

	cctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		cancel()
		return nil, ErrAlreadyConnected
	}
	s.bot = bot
	s.cancel = cancel
	s.mu.Unlock()

	events := make(chan transport.Event, 2)
	events <- transport.Event{Kind: transport.EventOpen}
	s.log.Info("connected", logx.String("bot", bot.Me.Username))

	go func() {
		reason, err := s.poll(cctx, bot)
		s.mu.Lock()
		if s.bot == bot {
			s.bot = nil
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
		events <- transport.Event{Kind: transport.EventClose, Reason: reason, Err: err}
		close(events)
	}()
	return events, nil
}

// poll long-polls getUpdates until ctx ends or a request fails. Updates are
// acknowledged and ignored; the session only sends.
func (s *Session) poll(ctx context.Context, bot *tele.Bot) (transport.CloseReason, error) {
	offset := 0
	params := map[string]string{
		"timeout":         strconv.Itoa(int(s.cfg.PollTimeout / time.Second)),
		"allowed_updates": `["message"]`,
	}
	for {
		if ctx.Err() != nil {
			return transport.ConnectionClosed, nil
		}
		params["offset"] = strconv.Itoa(offset)
		data, err := bot.Raw("getUpdates", params)
		if err != nil {
			if ctx.Err() != nil {
				return transport.ConnectionClosed, nil
			}
			reason := classify(err)
			s.log.Warn("poll failed", logx.String("reason", string(reason)), logx.Err(err))
			return reason, err
		}
		next, err := nextOffset(data, offset)
		if err != nil {
			return transport.Unknown, err
		}
		offset = next
	}
}

func nextOffset(data []byte, offset int) (int, error) {
	var resp struct {
		Result []struct {
			ID int `json:"update_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return offset, fmt.Errorf("decode updates: %w", err)
	}
	for _, u := range resp.Result {
		if u.ID >= offset {
			offset = u.ID + 1
		}
	}
	return offset, nil
}

func (s *Session) current() (*tele.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bot == nil {
		return nil, ErrNotConnected
	}
	return s.bot, nil
}

func (s *Session) Send(ctx context.Context, recipient, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to, err := parseRecipient(recipient)
	if err != nil {
		return err
	}
	bot, err := s.current()
	if err != nil {
		return err
	}
	if _, err := bot.Send(to, text, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		return mapSendError(err)
	}
	return nil
}

func (s *Session) GroupMetadata(ctx context.Context, recipient string) (transport.GroupInfo, error) {
	if err := ctx.Err(); err != nil {
		return transport.GroupInfo{}, err
	}
	to, err := parseRecipient(recipient)
	if err != nil {
		return transport.GroupInfo{}, err
	}
	bot, err := s.current()
	if err != nil {
		return transport.GroupInfo{}, err
	}
	// getChat takes numeric ids and @names alike as chat_id
	chat, err := bot.ChatByUsername(to.Recipient())
	if err != nil {
		return transport.GroupInfo{}, mapSendError(err)
	}
	return transport.GroupInfo{ID: strconv.FormatInt(chat.ID, 10), Title: chat.Title, Kind: string(chat.Type)}, nil
}

// Close ends the current connection. Its event stream still receives the
// final EventClose.
func (s *Session) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// chatRef is passed to the Bot API as chat_id verbatim.
type chatRef string

func (c chatRef) Recipient() string { return string(c) }

func parseRecipient(raw string) (chatRef, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "@") && len(raw) > 1 {
		return chatRef(raw), nil
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return chatRef(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadRecipient, raw)
}

// apiCode matches the status suffix telebot puts on Bot API errors it has
// no predefined *tele.Error for, e.g. "telegram: Conflict (409)".
var apiCode = regexp.MustCompile(`\((\d{3})\)$`)

// statusOf returns the Bot API status carried by err, or 0.
func statusOf(err error) int {
	var te *tele.Error
	if errors.As(err, &te) {
		return te.Code
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return http.StatusTooManyRequests
	}
	if err == nil {
		return 0
	}
	m := apiCode.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

func classify(err error) transport.CloseReason {
	var ce *transport.CloseError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	switch code := statusOf(err); {
	case code == http.StatusUnauthorized:
		return transport.LoggedOut
	case code == http.StatusConflict:
		return transport.ConnectionReplaced
	case code == http.StatusTooManyRequests, code >= 500 && code <= 599:
		return transport.RestartRequired
	case code != 0:
		return transport.Unknown
	}
	return transport.ReasonOf(err)
}

// mapSendError marks a revoked token as terminal so the channel stops
// retrying; other send errors stay per-recipient.
func mapSendError(err error) error {
	if statusOf(err) == http.StatusUnauthorized {
		return &transport.CloseError{Reason: transport.LoggedOut, Err: err}
	}
	return err
}
