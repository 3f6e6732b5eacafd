package notifier

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf16"

	"golang.org/x/time/rate"

	"newsrelay/internal/eventbus"
	kit "newsrelay/internal/transport"
	logx "newsrelay/pkg/logx"
	"newsrelay/pkg/tgui"
)

const (
	DefaultPacing       = time.Second
	DefaultFloodWaitMax = 30 * time.Second
	DefaultAnnounceText = "✅ Bot started and is watching the feed"

	// MaxMessageLen is the Bot API text limit in UTF-16 code units, counted
	// after entity parsing.
	MaxMessageLen = 4096
)

var ErrNoTarget = errors.New("notifier: chat id is not configured")

// Service delivers messages one at a time. It is meant to be driven by a
// single worker; concurrent calls are safe but share one pacing budget.
type Service struct {
	cfg     Config
	sender  kit.Sender
	limiter *rate.Limiter
	bus     eventbus.Bus
	log     logx.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Pacing == 0 {
		cfg.Pacing = DefaultPacing
	}
	if cfg.FloodWaitMax <= 0 {
		cfg.FloodWaitMax = DefaultFloodWaitMax
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if strings.TrimSpace(cfg.AnnounceText) == "" {
		cfg.AnnounceText = DefaultAnnounceText
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	// Burst 1: the first send goes out at once, each following one waits a full interval.
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.Pacing > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.Pacing), 1)
	}
	return &Service{cfg: cfg, sender: sender, limiter: lim, bus: bus, log: log, sleep: sleepCtx}
}

// Format renders m as an HTML message. Titles too long for one message are
// shortened; the link is always kept whole.
func Format(m Message) string {
	titlePrefix, linkPrefix := "📰 ", ""
	if m.Translated {
		linkPrefix = "🌍 "
	}
	link := strings.TrimSpace(m.Link)
	budget := MaxMessageLen - textLen(titlePrefix+"\n"+linkPrefix+link)
	title := clipText(strings.TrimSpace(m.Title), budget)

	head := tgui.Concat(tgui.Raw(titlePrefix), tgui.B(title))
	return tgui.Lines(head, tgui.Concat(tgui.Raw(linkPrefix), tgui.Esc(link))).String()
}

// textLen counts s the way Telegram does, in UTF-16 code units.
func textLen(s string) int {
	n := 0
	for _, r := range s {
		n += max(utf16.RuneLen(r), 1)
	}
	return n
}

// clipText shortens s to at most n UTF-16 units, ending it with "…".
func clipText(s string, n int) string {
	if textLen(s) <= n {
		return s
	}
	if n <= 1 {
		return ""
	}
	var b strings.Builder
	used := 0
	for _, r := range s {
		l := max(utf16.RuneLen(r), 1)
		if used+l > n-1 {
			break
		}
		b.WriteRune(r)
		used += l
	}
	return strings.TrimRightFunc(b.String(), unicode.IsSpace) + "…"
}

// Deliver sends m to the configured chat.
func (s *Service) Deliver(ctx context.Context, m Message) error {
	err := s.send(ctx, Format(m))
	s.publish("item", m.Link, err)
	if err != nil {
		return &DeliveryError{Link: m.Link, Err: err}
	}
	return nil
}

// Announce sends the startup announcement.
func (s *Service) Announce(ctx context.Context) error {
	err := s.send(ctx, s.cfg.AnnounceText)
	s.publish("announce", "", err)
	if err != nil {
		return &AnnouncementError{Err: err}
	}
	return nil
}

func (s *Service) send(ctx context.Context, text string) error {
	if s.cfg.Target.ChatID == 0 {
		return ErrNoTarget
	}
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: s.cfg.DisablePreview}

	retried := false
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		_, err := s.sender.SendText(callCtx, s.cfg.Target, text, opt)
		cancel()
		if err == nil {
			return nil
		}

		wait, limited := kit.RetryAfter(err)
		if !limited || retried || wait > s.cfg.FloodWaitMax {
			return err
		}
		retried = true
		s.log.Warn("channel flood control; retrying once", logx.Duration("retry_after", wait))
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) publish(kind, link string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := Event{Kind: kind, ChatID: s.cfg.Target.ChatID, ThreadID: s.cfg.Target.ThreadID, Link: link, At: now}
	typ := "notifier.sent"
	if err != nil {
		typ = "notifier.failed"
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
