// Package router assigns a complexity class to each incoming query before
// retrieval runs. Classification is rule-based and deterministic: an
// exact-id probe, an out-of-domain probe, then a simple/complex split.
// The router never calls the generative provider, so it stays cheap,
// offline-testable, and free of feedback loops with the provider gate.
package router

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/kioku/internal/entity"
	"github.com/ashita-ai/kioku/internal/model"
)

// Corpus is the slice of the corpus manager the router needs: id
// verification and anchor-term harvesting.
type Corpus interface {
	Has(ctx context.Context, id string) bool
	Tags(ctx context.Context) ([]string, error)
}

// anchorTTL bounds how stale the harvested tag set may get. Tags only
// change on ingest, so a coarse TTL keeps the store off the query path.
const anchorTTL = time.Minute

// idRe matches the incident id families the corpus uses, anywhere in
// prose. Extraction is by first match, not whole-string equality.
var idRe = regexp.MustCompile(
	`(?i)\b((?:JSP|EUL|JIRA|INC|TICKET|BUG|ISSUE)-\d+|SLACK-[A-Za-z0-9_]+-\d+(?:\.\d+)?)\b`)

// complexRe marks analytical queries that need a wider evidence set:
// cause-seeking questions and pattern or frequency asks.
var complexRe = regexp.MustCompile(
	`(?i)\b(?:why|how\s+often|how\s+frequently|patterns?|common\s+causes?|root\s+causes?|what\s+causes|trends?|most\s+(?:common|frequent))\b`)

// tokenRe splits query text into comparable tokens. Underscores stay so
// technical tags like internal_server_error survive whole.
var tokenRe = regexp.MustCompile(`[a-z0-9_]+`)

// builtinAnchors seed the domain vocabulary so an empty or unreachable
// corpus still classifies obvious payment queries as in-domain. Harvested
// corpus tags extend this set at runtime.
var builtinAnchors = []string{
	"payment", "payments", "refund", "refunds", "transaction",
	"transactions", "checkout", "settlement", "settlements", "gateway",
	"gateways", "upi", "wallet", "wallets", "card", "cards", "webhook",
	"webhooks", "callback", "callbacks", "merchant", "merchants", "bank",
	"banks", "mandate", "mandates", "payout", "payouts", "tokenization",
	"acquirer", "issuer", "psp", "chargeback", "chargebacks",
}

// Router classifies raw query text. Safe for concurrent use.
type Router struct {
	corpus Corpus
	logger *slog.Logger

	sf        singleflight.Group
	anchors   atomic.Value // map[string]bool
	anchorsAt atomic.Int64 // unix nanos of the last harvest attempt
}

// New creates a Router over the given corpus. The anchor set starts with
// the builtin vocabulary and picks up corpus tags on first use.
func New(corpus Corpus, logger *slog.Logger) *Router {
	r := &Router{corpus: corpus, logger: logger}
	r.anchors.Store(buildAnchorSet(nil))
	return r
}

// Classify assigns a complexity to the query. Probe order is fixed:
// a verified incident id wins outright, then the out-of-domain check,
// then the analytical split.
func (r *Router) Classify(ctx context.Context, text string) model.Classification {
	text = strings.TrimSpace(text)

	if id, ok := r.exactID(ctx, text); ok {
		return model.Classification{Complexity: model.ComplexityExactID, IncidentID: id}
	}

	if r.outOfDomain(ctx, text) {
		return model.Classification{Complexity: model.ComplexityOutOfDomain}
	}

	if complexRe.MatchString(text) {
		return model.Classification{Complexity: model.ComplexityComplex}
	}
	return model.Classification{Complexity: model.ComplexitySimple}
}

// exactID extracts the first incident id named in prose and verifies it
// against the corpus. An unverified id falls through to the other probes
// so a typo'd id still gets a semantic answer instead of a dead end.
func (r *Router) exactID(ctx context.Context, text string) (string, bool) {
	m := idRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}

	// Ticket-style ids are stored upper-case; chat-derived ids keep their
	// channel segment as ingested. Probe the raw match first.
	raw := m[1]
	if r.corpus.Has(ctx, raw) {
		return raw, true
	}
	if upper := strings.ToUpper(raw); upper != raw && r.corpus.Has(ctx, upper) {
		return upper, true
	}

	r.logger.Debug("router: id pattern matched but not in corpus", "id", raw)
	return "", false
}

// outOfDomain reports whether the query mentions nothing the corpus
// knows: no anchor term and no extractable payment entity.
func (r *Router) outOfDomain(ctx context.Context, text string) bool {
	anchors := r.anchorSet(ctx)
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		if anchors[tok] {
			return false
		}
		// Naive plural fold: "timeouts" hits a "timeout" tag.
		if strings.HasSuffix(tok, "s") && anchors[strings.TrimSuffix(tok, "s")] {
			return false
		}
	}
	return len(entity.Entities(text)) == 0
}

// anchorSet returns the current anchor vocabulary, re-harvesting corpus
// tags at most once per TTL window. Failed harvests also reset the clock
// so a broken store is not polled on every query.
func (r *Router) anchorSet(ctx context.Context) map[string]bool {
	if time.Now().UnixNano()-r.anchorsAt.Load() < int64(anchorTTL) {
		return r.anchors.Load().(map[string]bool)
	}

	v, _, _ := r.sf.Do("anchors", func() (any, error) {
		tags, err := r.corpus.Tags(ctx)
		if err != nil {
			r.logger.Warn("router: anchor harvest failed, keeping previous set", "error", err)
			r.anchorsAt.Store(time.Now().UnixNano())
			return r.anchors.Load().(map[string]bool), nil
		}
		set := buildAnchorSet(tags)
		r.anchors.Store(set)
		r.anchorsAt.Store(time.Now().UnixNano())
		return set, nil
	})
	return v.(map[string]bool)
}

func buildAnchorSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(builtinAnchors)+len(tags))
	for _, a := range builtinAnchors {
		set[a] = true
	}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = true
		}
	}
	return set
}
