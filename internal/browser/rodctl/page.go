package rodctl

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"bumpbot/internal/browser"
	"bumpbot/internal/clock"
)

// clickTimeout bounds the implicit wait before Click and TextOf.
const clickTimeout = 10 * time.Second

// Page wraps a rod page.
type Page struct {
	p      *rod.Page
	owner  *Browser
	closed atomic.Bool
}

func (pg *Page) Alive() bool { return !pg.closed.Load() && pg.owner.Alive() }

func (pg *Page) check() error {
	if !pg.Alive() {
		return browser.ErrDisconnected
	}
	return nil
}

func (pg *Page) Goto(ctx context.Context, url string) error {
	if err := pg.check(); err != nil {
		return err
	}
	p := pg.p.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return pg.owner.wrap(fmt.Errorf("navigate %s: %w", url, err))
	}
	if err := p.WaitLoad(); err != nil {
		return pg.owner.wrap(fmt.Errorf("wait load %s: %w", url, err))
	}
	return nil
}

func (pg *Page) URL(ctx context.Context) (string, error) {
	if err := pg.check(); err != nil {
		return "", err
	}
	info, err := pg.p.Context(ctx).Info()
	if err != nil {
		return "", pg.owner.wrap(err)
	}
	return info.URL, nil
}

func (pg *Page) element(ctx context.Context, r browser.Role, timeout time.Duration) (*rod.Element, error) {
	if err := pg.check(); err != nil {
		return nil, err
	}
	sel, err := pg.owner.selector(r)
	if err != nil {
		return nil, err
	}
	el, err := pg.p.Context(ctx).Timeout(timeout).Element(sel)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, r)
		}
		return nil, pg.owner.wrap(err)
	}
	return el, nil
}

func (pg *Page) WaitFor(ctx context.Context, r browser.Role, timeout time.Duration) error {
	_, err := pg.element(ctx, r, timeout)
	return err
}

func (pg *Page) Has(ctx context.Context, r browser.Role) (bool, error) {
	if err := pg.check(); err != nil {
		return false, err
	}
	sel, err := pg.owner.selector(r)
	if err != nil {
		return false, err
	}
	ok, _, err := pg.p.Context(ctx).Has(sel)
	if err != nil {
		return false, pg.owner.wrap(err)
	}
	return ok, nil
}

func (pg *Page) Click(ctx context.Context, r browser.Role) error {
	el, err := pg.element(ctx, r, clickTimeout)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return pg.owner.wrap(fmt.Errorf("click %s: %w", r, err))
	}
	return nil
}

func (pg *Page) ClickMatching(ctx context.Context, r browser.Role, re *regexp.Regexp) (bool, error) {
	if err := pg.check(); err != nil {
		return false, err
	}
	sel, err := pg.owner.selector(r)
	if err != nil {
		return false, err
	}
	els, err := pg.p.Context(ctx).Elements(sel)
	if err != nil {
		return false, pg.owner.wrap(err)
	}
	for _, el := range els {
		txt, err := el.Text()
		if err != nil || !re.MatchString(txt) {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return true, pg.owner.wrap(fmt.Errorf("click %s: %w", r, err))
		}
		return true, nil
	}
	return false, nil
}

func (pg *Page) TextOf(ctx context.Context, r browser.Role) (string, error) {
	el, err := pg.element(ctx, r, clickTimeout)
	if err != nil {
		return "", err
	}
	txt, err := el.Text()
	if err != nil {
		return "", pg.owner.wrap(err)
	}
	return txt, nil
}

func (pg *Page) Type(ctx context.Context, text string, keyDelay time.Duration) error {
	if err := pg.check(); err != nil {
		return err
	}
	p := pg.p.Context(ctx)
	for _, r := range text {
		var err error
		if r < 0x80 && r >= 0x20 {
			err = p.Keyboard.Type(input.Key(r))
		} else {
			err = p.InsertText(string(r))
		}
		if err != nil {
			return pg.owner.wrap(fmt.Errorf("type: %w", err))
		}
		if err := (clock.Real{}).Sleep(ctx, keyDelay); err != nil {
			return err
		}
	}
	return nil
}

func (pg *Page) Press(ctx context.Context, key browser.Key) error {
	if err := pg.check(); err != nil {
		return err
	}
	var k input.Key
	switch key {
	case browser.KeyEnter:
		k = input.Enter
	case browser.KeyArrowDown:
		k = input.ArrowDown
	default:
		return fmt.Errorf("unsupported key %q", key)
	}
	if err := pg.p.Context(ctx).Keyboard.Press(k); err != nil {
		return pg.owner.wrap(fmt.Errorf("press %s: %w", key, err))
	}
	return nil
}

func (pg *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := pg.check(); err != nil {
		return nil, err
	}
	b, err := pg.p.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, pg.owner.wrap(err)
	}
	return b, nil
}

func (pg *Page) BringToFront(ctx context.Context) error {
	if err := pg.check(); err != nil {
		return err
	}
	if _, err := pg.p.Context(ctx).Activate(); err != nil {
		return pg.owner.wrap(err)
	}
	return nil
}

func (pg *Page) Close() error {
	if pg.closed.Swap(true) {
		return nil
	}
	if !pg.owner.Alive() {
		return nil
	}
	return pg.p.Close()
}
