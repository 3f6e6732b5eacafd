package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "newsrelay/internal/transport"
	logx "newsrelay/pkg/logx"
)

// telegramTextLimit is the Bot API limit for a single text message, in
// characters.
const telegramTextLimit = 4096

type Config struct {
	Token   string
	APIURL  string // empty = api.telegram.org
	Timeout time.Duration
}

// Adapter is a send-only Telegram client. The relay never consumes updates,
// so no poller is configured.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		default:
		}
	}

	text = clampText(text, telegramTextLimit, opt.ParseMode)

	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
	if err != nil {
		return kit.MessageRef{}, mapError(err)
	}
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	if msg != nil {
		ref.MessageID = msg.ID
	}
	return ref, nil
}

// mapError turns telebot's flood control error into the transport-level
// rate limit error so callers don't depend on telebot.
func mapError(err error) error {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &kit.RateLimitedError{RetryAfter: time.Duration(fe.RetryAfter) * time.Second, Err: err}
	}
	return err
}

// clampText cuts s to limit runes. In HTML mode the cut backs off to before
// a dangling tag or entity. It is a last resort: it cannot close open tags,
// so callers sending markup size their text themselves.
func clampText(s string, limit int, parseMode string) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	end := limit
	if strings.EqualFold(parseMode, "HTML") {
		lastOpen, lastClose, lastAmp, lastSemi := -1, -1, -1, -1
		for i := 0; i < end; i++ {
			switch rs[i] {
			case '<':
				lastOpen = i
			case '>':
				lastClose = i
			case '&':
				lastAmp = i
			case ';':
				lastSemi = i
			}
		}
		if lastOpen > lastClose {
			end = lastOpen
		}
		if lastAmp > lastSemi && lastAmp < end {
			end = lastAmp
		}
	}
	return string(rs[:end])
}
