package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "fxcalbot/pkg/logx"

	kit "fxcalbot/internal/transport"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter wraps telebot behind the transport contract.
//
// The core only sends through it; inbound command handling is registered by
// the presentation layer against Bot() before Start().
type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	done    chan struct{}
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// Bot exposes the underlying telebot instance so the command/UI layer can
// register handlers. Call before Start().
func (a *Adapter) Bot() *tele.Bot { return a.bot }

func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.done = make(chan struct{})
	done := a.done
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()

	go func() {
		defer close(done)
		a.log.Info("polling started")
		// Start blocks until Stop() is called.
		a.bot.Start()
		a.log.Info("polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	done := a.done
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}

	// telebot Stop is expected to be fast; run it async just in case.
	go a.bot.Stop()

	// Grace window: keep shutdown snappy even if getUpdates long-poll is
	// still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	select {
	case <-done:
	case <-time.After(grace):
		a.log.Warn("telegram stop timed out")
	case <-ctx.Done():
	}
	return nil
}

const telegramTextLimit = 4000

// splitText splits long messages into chunks that are safe to send to
// Telegram. It prefers newline boundaries and (best-effort) avoids splitting
// inside HTML tags when ParseMode is HTML.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid extremely small chunks.
					if i-start >= limit/3 {
						cut = i + 1
						break
					}
				}
			}
			if cut != -1 {
				end = cut
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen := -1
			lastClose := -1
			for i := start; i < end; i++ {
				if rs[i] == '<' {
					lastOpen = i
				} else if rs[i] == '>' {
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				// Move end to the start of the dangling tag.
				end = lastOpen
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chunks := splitText(text, telegramTextLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if ctx != nil {
			select {
			case <-ctx.Done():
				if first.ChatID != 0 {
					return first, ctx.Err()
				}
				return kit.MessageRef{}, ctx.Err()
			default:
			}
		}

		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}

		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			if first.ChatID != 0 {
				return first, err
			}
			return kit.MessageRef{}, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}

	return first, nil
}
