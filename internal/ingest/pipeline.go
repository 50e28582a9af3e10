package ingest

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/candidate-intake/internal/classify"
	"github.com/sells-group/candidate-intake/internal/extract"
	"github.com/sells-group/candidate-intake/internal/model"
)

// ErrNotCandidate is returned for messages rejected by the candidate filter.
var ErrNotCandidate = eris.New("ingest: not a candidate message")

// jst is used for timestamps that carry no zone.
var jst = time.FixedZone("JST", 9*60*60)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
}

// ParseDate parses an email date header or an export timestamp. Zone-less
// layouts are read as JST.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := mail.ParseDate(s); err == nil {
		return t, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, jst); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Pipeline runs filter, extractor and classifier in front of the Engine.
type Pipeline struct {
	rules     classify.Rules
	extractor *extract.Extractor
	engine    *Engine
}

// NewPipeline wires rules and the engine. The extractor excludes every
// vendor and relay domain the rules know about.
func NewPipeline(rules classify.Rules, engine *Engine) *Pipeline {
	return &Pipeline{
		rules:     rules,
		extractor: extract.New(rules.ExcludedDomains()),
		engine:    engine,
	}
}

// Engine returns the underlying ingestion engine.
func (p *Pipeline) Engine() *Engine {
	return p.engine
}

// Candidate filters and extracts msg. It reports false when the message is
// not a candidate application. inflow_date is taken from the message date
// and falls back to now only when the message has none.
func (p *Pipeline) Candidate(msg model.Message) (model.Candidate, bool) {
	if !p.rules.IsCandidate(msg.Subject, msg.Body, msg.From) {
		return nil, false
	}
	c := p.extractor.Extract(msg.Body)
	c[model.FieldMedia] = string(p.rules.Media(msg.From, msg.Body))
	c[model.FieldRoute] = model.RouteEmail

	inflow := msg.Date
	if inflow.IsZero() {
		inflow = p.engine.now()
	}
	c[model.FieldInflowDate] = inflow.UTC()
	return c, true
}

// ProcessEmail runs one forwarded email through the strict path.
func (p *Pipeline) ProcessEmail(ctx context.Context, msg model.Message) (*Result, error) {
	c, ok := p.Candidate(msg)
	if !ok {
		zap.L().Debug("ingest: message ignored",
			zap.String("subject", msg.Subject),
			zap.String("from", msg.From),
		)
		return nil, ErrNotCandidate
	}
	return p.engine.IngestOne(ctx, c)
}

// Reprocess runs one message through the batch path. Messages rejected by
// the filter are reported as Skipped.
func (p *Pipeline) Reprocess(ctx context.Context, msg model.Message, policy Policy) (*Result, error) {
	c, ok := p.Candidate(msg)
	if !ok {
		return &Result{Outcome: model.OutcomeSkipped}, nil
	}
	return p.engine.IngestOrUpdate(ctx, c, policy)
}
