// File: internal/mailbox/retriever.go
package mailbox

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/config"
)

// ErrCodeNotFound is returned when the poll window closes with no message
// yielding a code. Callers distinguish it from transport failures.
var ErrCodeNotFound = errors.New("mailbox: no verification code found before deadline")

// listMax bounds a single search; newest-only narrows further after listing.
const (
	listMax         = 20
	newestOnlyLimit = 5
)

// Retriever polls a mailbox for the one-time verification code. Per-iteration
// mailbox errors are treated as transient: logged and retried on the next
// tick. Only the deadline ends the loop.
type Retriever struct {
	client Client
	cfg    config.OTPConfig
	logger *zap.Logger

	subjectRe *regexp.Regexp
	codeRe    *regexp.Regexp
}

// NewRetriever builds a retriever over an authorized mailbox client. The
// configuration must already be validated; pattern compilation here is a
// formality, not a recovery path.
func NewRetriever(client Client, cfg config.OTPConfig, logger *zap.Logger) (*Retriever, error) {
	codeRe, err := regexp.Compile(cfg.CodeRegex)
	if err != nil {
		return nil, err
	}

	var subjectRe *regexp.Regexp
	if cfg.SubjectMode == config.SubjectRegex {
		subjectRe, err = regexp.Compile("(?i)" + cfg.SubjectRegex)
		if err != nil {
			return nil, err
		}
	}

	return &Retriever{
		client:    client,
		cfg:       cfg,
		logger:    logger,
		subjectRe: subjectRe,
		codeRe:    codeRe,
	}, nil
}

// Fetch polls until a matching message yields a code or the window closes.
// Each iteration lists candidates, filters by subject, and scans bodies for
// the code pattern; the first capture group of the first hit wins.
func (r *Retriever) Fetch(ctx context.Context) (string, error) {
	query := r.buildQuery()
	deadline := time.Now().Add(r.cfg.Timeout)

	r.logger.Info("Polling mailbox for verification code.",
		zap.String("account", r.cfg.InboxAccount),
		zap.String("query", query),
		zap.Duration("timeout", r.cfg.Timeout))

	for {
		code, err := r.scanOnce(ctx, query)
		if err != nil {
			r.logger.Warn("Mailbox scan failed; will retry.", zap.Error(err))
		} else if code != "" {
			return code, nil
		}

		if time.Now().After(deadline) {
			return "", ErrCodeNotFound
		}
		if !sleepCtx(ctx, r.cfg.PollInterval) {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", ErrCodeNotFound
		}
		if time.Now().After(deadline) {
			return "", ErrCodeNotFound
		}
	}
}

// buildQuery narrows the configured search to unread messages when requested,
// unless the operator already scoped it by hand.
func (r *Retriever) buildQuery() string {
	query := strings.TrimSpace(r.cfg.SearchQuery)
	if r.cfg.UnreadOnly && !strings.Contains(query, "label:unread") {
		query += " label:unread"
	}
	return strings.TrimSpace(query)
}

// scanOnce runs a single list-and-inspect pass. An empty code with nil error
// means no candidate matched this pass.
func (r *Retriever) scanOnce(ctx context.Context, query string) (string, error) {
	refs, err := r.client.List(ctx, query, listMax)
	if err != nil {
		return "", err
	}
	if r.cfg.NewestOnly && len(refs) > newestOnlyLimit {
		refs = refs[:newestOnlyLimit]
	}

	for _, ref := range refs {
		msg, err := r.client.Get(ctx, ref.ID)
		if err != nil {
			r.logger.Debug("Message fetch failed; skipping.", zap.String("id", ref.ID), zap.Error(err))
			continue
		}
		if !r.subjectMatches(msg.Subject()) {
			continue
		}

		code := r.extractCode(msg.PlainText())
		if code == "" {
			r.logger.Debug("Subject matched but no code in body.", zap.String("id", ref.ID))
			continue
		}

		if r.cfg.MarkReadAfter {
			// Read-state cleanup is cosmetic; the code is already in hand.
			if err := r.client.MarkRead(ctx, ref.ID); err != nil {
				r.logger.Warn("Failed to mark message read.", zap.String("id", ref.ID), zap.Error(err))
			}
		}

		r.logger.Info("Verification code retrieved.", zap.String("message_id", ref.ID))
		return code, nil
	}
	return "", nil
}

// subjectMatches applies the configured comparison mode. The modes normalize
// differently on purpose: exact trims and casefolds both sides, substring
// casefolds without trimming, regex searches case-insensitively as-is.
func (r *Retriever) subjectMatches(subject string) bool {
	switch r.cfg.SubjectMode {
	case config.SubjectExact:
		return strings.EqualFold(strings.TrimSpace(subject), strings.TrimSpace(r.cfg.SubjectExact))
	case config.SubjectRegex:
		return r.subjectRe.MatchString(subject)
	case config.SubjectSubstring:
		return strings.Contains(strings.ToLower(subject), strings.ToLower(r.cfg.SubjectExact))
	default:
		return false
	}
}

// extractCode returns the first capture group of the first pattern hit, or "".
func (r *Retriever) extractCode(body string) string {
	if body == "" {
		return ""
	}
	m := r.codeRe.FindStringSubmatch(body)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
