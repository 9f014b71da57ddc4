package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/staleguard/internal/backend"
	"github.com/standardbeagle/staleguard/internal/config"
	"github.com/standardbeagle/staleguard/internal/criteria"
	"github.com/standardbeagle/staleguard/internal/display"
	"github.com/standardbeagle/staleguard/internal/governor"
	"github.com/standardbeagle/staleguard/internal/session"
)

const defaultSettleWait = 10 * time.Second

// newSession starts a governor session over searcher configured from cfg
func newSession(cfg *config.Config, searcher backend.Searcher, observer governor.Observer) (*session.Session, error) {
	cls, err := cfg.NewClassifier()
	if err != nil {
		return nil, err
	}
	return session.New(searcher, session.Options{
		Policy:         cfg.Policy(),
		Classifier:     cls,
		Observer:       observer,
		RequestTimeout: cfg.RequestTimeout(),
	})
}

// searchCommand runs one query, or an interactive session when no query is given
func searchCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	client, err := ensureServerRunning(c, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	sess, err := newSession(cfg, client, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	r := &repl{
		sess: sess,
		out:  c.App.Writer,
		formatter: display.NewViewFormatter(display.FormatterOptions{
			Format:   c.String("format"),
			MaxItems: c.Int("max-items"),
		}),
		wait: c.Duration("wait"),
	}

	if c.NArg() > 0 {
		query := strings.Join(c.Args().Slice(), " ")
		if !c.Bool("follow") {
			return r.search(c.Context, query)
		}
		updates, unsubscribe := sess.Subscribe()
		defer unsubscribe()
		if err := r.search(c.Context, query); err != nil {
			return err
		}
		return r.follow(c.Context, updates)
	}

	fmt.Fprintf(c.App.Writer, "staleguard search over %s. Type a query, or :help.\n", cfg.Project.Root)
	return r.run(c.Context, c.App.Reader)
}

// repl drives a session from text commands. Every command prints the
// resulting view state.
type repl struct {
	sess      *session.Session
	out       io.Writer
	formatter *display.ViewFormatter
	wait      time.Duration
}

const replHelp = `Type a query to search. Filters: folder:/path preview:ready aspect:text prop:key=value
after:2024-01-01 before:2024-12-31 size:>10KB size:<2MB "exact phrase"
Commands: :hide :reveal :retry :retry-error :dismiss :state :quit`

var errQuit = errors.New("quit")

func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	r.prompt()
	for scanner.Scan() {
		err := r.exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		r.prompt()
	}
	return scanner.Err()
}

func (r *repl) prompt() {
	fmt.Fprint(r.out, "> ")
}

// exec runs one line. errQuit ends the session.
func (r *repl) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, ":") {
		return r.search(ctx, line)
	}

	switch cmd := strings.ToLower(line); cmd {
	case ":quit", ":q", ":exit":
		return errQuit
	case ":help", ":h", ":?":
		fmt.Fprintln(r.out, replHelp)
		return nil
	case ":state":
		return r.print(r.sess.View())
	case ":hide":
		return r.command(ctx, "nothing to hide", r.sess.Hide, false)
	case ":reveal":
		return r.command(ctx, "nothing to reveal", r.sess.Reveal, false)
	case ":retry":
		return r.command(ctx, "nothing to retry", r.sess.RetryNow, true)
	case ":retry-error":
		return r.command(ctx, "no retryable error", r.sess.RetryError, true)
	case ":dismiss":
		return r.command(ctx, "no error to dismiss", r.sess.DismissError, false)
	default:
		return fmt.Errorf("unknown command %s (try :help)", cmd)
	}
}

func (r *repl) search(ctx context.Context, line string) error {
	c, err := criteria.Parse(line)
	if err != nil {
		return err
	}
	if err := r.sess.Submit(c); err != nil {
		return err
	}
	fp := c.Fingerprint()
	return r.settleAndPrint(ctx, func(v governor.ViewState) bool {
		return v.Fingerprint == fp && !v.Loading
	})
}

func (r *repl) command(ctx context.Context, notApplied string, f func() bool, waits bool) error {
	if !f() {
		fmt.Fprintln(r.out, notApplied)
		return nil
	}
	if !waits {
		return r.print(r.sess.View())
	}
	return r.settleAndPrint(ctx, func(v governor.ViewState) bool { return !v.Loading })
}

func (r *repl) settleAndPrint(ctx context.Context, pred func(governor.ViewState) bool) error {
	wait := r.wait
	if wait <= 0 {
		wait = defaultSettleWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	v, err := r.sess.WaitFor(waitCtx, pred)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	return r.print(v)
}

// follow prints every settled change from updates until the results are
// current or retries run out. States equal to the one already shown are skipped.
func (r *repl) follow(ctx context.Context, updates <-chan governor.ViewState) error {
	last := r.sess.View()
	for !followDone(last) {
		select {
		case v, ok := <-updates:
			if !ok {
				return nil
			}
			if v.Loading || sameDisplay(last, v) {
				continue
			}
			last = v
			if err := r.print(v); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func followDone(v governor.ViewState) bool {
	if v.Loading {
		return false
	}
	switch v.Kind {
	case governor.Fresh, governor.Exhausted, governor.Dismissed:
		return true
	}
	return false
}

func sameDisplay(a, b governor.ViewState) bool {
	return a.Kind == b.Kind && a.Attempt == b.Attempt && a.NextRetryInMs == b.NextRetryInMs && a.Alert == b.Alert
}

func (r *repl) print(v governor.ViewState) error {
	out, err := r.formatter.Format(v)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, strings.TrimRight(out, "\n"))
	return nil
}
