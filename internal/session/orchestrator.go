// Package session drives one trading session end to end: market window and
// competition checks, then each active participant in turn through context
// building, the provider call, parsing, decision audit, validation and
// execution, and finally a valuation pass when anything traded.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/decision"
	"github.com/atmx/arena-engine/internal/journal"
	"github.com/atmx/arena-engine/internal/ledger"
	"github.com/atmx/arena-engine/internal/marketdata"
	"github.com/atmx/arena-engine/internal/metrics"
	"github.com/atmx/arena-engine/internal/mode"
	"github.com/atmx/arena-engine/internal/model"
	"github.com/atmx/arena-engine/internal/provider"
	"github.com/atmx/arena-engine/internal/ranking"
	"github.com/atmx/arena-engine/internal/store"
)

var (
	ErrMarketClosed        = errors.New("session: market is closed")
	ErrNoConfig            = errors.New("session: no active competition config")
	ErrCompetitionInactive = errors.New("session: competition is not active")
	ErrOutsideWindow       = errors.New("session: outside competition date range")
	ErrSessionRunning      = errors.New("session: another session is running")
)

// ParseFailure is the participant error recorded when a response holds no
// structured decision.
const ParseFailure = "parse failure"

// Orchestrator runs sessions. At most one session runs at a time.
type Orchestrator struct {
	store      store.Store
	providers  *provider.Registry
	aggregator *marketdata.Aggregator
	executor   *ledger.Executor
	valuator   *ranking.Valuator
	hours      *marketdata.Hours
	journal    journal.Journal
	publisher  Publisher
	now        func() time.Time
	running    atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJournal records decisions and reports to j as well as the store.
func WithJournal(j journal.Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithPublisher streams session events to p.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithClock overrides the session clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithHours replaces the default exchange calendar.
func WithHours(h *marketdata.Hours) Option {
	return func(o *Orchestrator) { o.hours = h }
}

// New creates an orchestrator. The executor and valuator are built over st.
func New(st store.Store, providers *provider.Registry, agg *marketdata.Aggregator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      st,
		providers:  providers,
		aggregator: agg,
		executor:   ledger.NewExecutor(st),
		valuator:   ranking.NewValuator(st, agg.Feed()),
		hours:      marketdata.ChinaAShareHours(time.UTC),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	o.executor.WithClock(o.now)
	return o
}

func (o *Orchestrator) publish(e Event) {
	if o.publisher != nil {
		o.publisher.Publish(e)
	}
}

// Run executes one session. Window and configuration failures abort before
// any participant is touched; they are returned as the error and also
// listed in the report. Everything else is reported per participant.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Report, error) {
	if !o.running.CompareAndSwap(false, true) {
		metrics.SessionsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrSessionRunning
	}
	defer o.running.Store(false)

	start := o.now()
	report := &Report{
		SessionID: NewID(start),
		Timestamp: start,
		DryRun:    opts.DryRun,
		Results:   []ParticipantResult{},
		Errors:    []string{},
	}
	log := slog.With("session", report.SessionID, "dry_run", opts.DryRun)

	report.MarketHours = o.hours.IsOpen(start)
	comp, err := o.precheck(ctx, start, opts, report)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		metrics.SessionsTotal.WithLabelValues("aborted").Inc()
		log.Warn("session aborted", "err", err)
		return report, err
	}

	filter := store.ParticipantFilter{Status: model.StatusActive, ModelID: opts.SingleModel}
	participants, err := o.store.ListParticipants(ctx, filter)
	if err != nil {
		err = fmt.Errorf("load participants: %w", err)
		report.Errors = append(report.Errors, err.Error())
		metrics.SessionsTotal.WithLabelValues("aborted").Inc()
		log.Error("session aborted", "err", err)
		return report, err
	}

	log.Info("session started", "participants", len(participants), "model", opts.SingleModel)
	o.publish(Event{Type: EventSessionStarted, SessionID: report.SessionID, Payload: opts})

	snap := o.aggregator.Snapshot(ctx, o.heldCodes(ctx, participants))
	if len(snap.Degraded) > 0 {
		log.Warn("market snapshot degraded", "sources", snap.Degraded)
	}

	for _, p := range participants {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("session cancelled before %s: %v", p.ModelID, err))
			break
		}
		res := o.runParticipant(ctx, report.SessionID, &p, comp, &snap, opts)
		report.ModelsProcessed++
		report.TradesExecuted += res.TradesExecuted
		report.TotalTokensUsed += res.TokensUsed
		report.Results = append(report.Results, res)
		o.publish(Event{Type: EventParticipantDone, SessionID: report.SessionID, ParticipantID: p.ID, Payload: res})
	}

	if report.TradesExecuted > 0 && !opts.DryRun {
		if _, err := o.valuator.Valuate(ctx, snapshotPrices(&snap)); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("valuation: %v", err))
			log.Error("valuation failed", "err", err)
		}
	}

	finished := o.now()
	o.recordSession(ctx, report, start, finished)

	outcome := "ok"
	if opts.DryRun {
		outcome = "dry_run"
	}
	metrics.SessionsTotal.WithLabelValues(outcome).Inc()
	metrics.SessionDuration.Observe(finished.Sub(start).Seconds())
	log.Info("session finished",
		"models", report.ModelsProcessed,
		"trades", report.TradesExecuted,
		"tokens", report.TotalTokensUsed,
		"duration", finished.Sub(start).String(),
	)
	o.publish(Event{Type: EventSessionFinished, SessionID: report.SessionID, Payload: report})
	return report, nil
}

// precheck runs the session-level gates in order and loads the config.
func (o *Orchestrator) precheck(ctx context.Context, now time.Time, opts Options, report *Report) (*model.CompetitionConfig, error) {
	if !opts.DryRun && !report.MarketHours {
		return nil, ErrMarketClosed
	}
	comp, err := o.store.GetActiveCompetition(ctx)
	if errors.Is(err, store.ErrNoActiveCompetition) || errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoConfig
	}
	if err != nil {
		return nil, fmt.Errorf("load competition: %w", err)
	}
	if !comp.IsActive {
		return nil, ErrCompetitionInactive
	}
	loc := o.hours.Loc()
	if !comp.Covers(now, loc) {
		return nil, fmt.Errorf("%w: %s to %s", ErrOutsideWindow,
			comp.StartDate.In(loc).Format("2006-01-02"), comp.EndDate.In(loc).Format("2006-01-02"))
	}
	report.CompetitionActive = true
	return comp, nil
}

// heldCodes lists every stock any participant holds so the shared snapshot
// can price them.
func (o *Orchestrator) heldCodes(ctx context.Context, participants []model.Participant) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, p := range participants {
		hs, err := o.store.ListHoldings(ctx, p.ID)
		if err != nil {
			slog.Warn("list holdings for snapshot failed", "participant", p.ID, "err", err)
			continue
		}
		for _, h := range hs {
			if !seen[h.StockCode] {
				seen[h.StockCode] = true
				codes = append(codes, h.StockCode)
			}
		}
	}
	sort.Strings(codes)
	return codes
}

func (o *Orchestrator) runParticipant(ctx context.Context, sessionID string, p *model.Participant, comp *model.CompetitionConfig, snap *marketdata.Snapshot, opts Options) ParticipantResult {
	res := ParticipantResult{
		ModelID:       p.ModelID,
		ParticipantID: p.ID,
		Mode:          p.Mode,
		Trades:        []model.Trade{},
	}
	log := slog.With("session", sessionID, "participant", p.ID, "model", p.ModelID, "mode", p.Mode)

	strategy, err := mode.For(p.Mode)
	if err != nil {
		res.Error = err.Error()
		log.Error("no strategy for participant", "err", err)
		return res
	}

	mctx, err := o.buildContext(ctx, p, comp, snap, strategy.Rules())
	if err != nil {
		res.Error = err.Error()
		log.Error("build context failed", "err", err)
		return res
	}

	adapter, err := o.providers.Get(p.ModelID)
	if err != nil {
		res.Error = err.Error()
		log.Error("resolve provider failed", "err", err)
		return res
	}

	resp := adapter.Chat(ctx, strategy.SystemPrompt(), strategy.UserPrompt(mctx))
	res.TokensUsed = resp.TokensUsed
	res.LatencyMs = resp.LatencyMs

	audit := &model.AIDecision{
		ID:            uuid.New().String(),
		ParticipantID: p.ID,
		SessionID:     sessionID,
		ModelID:       p.ModelID,
		Mode:          p.Mode,
		RawResponse:   resp.Content,
		TokensUsed:    resp.TokensUsed,
		LatencyMs:     resp.LatencyMs,
		CreatedAt:     o.now(),
	}

	if !resp.Success {
		res.Error = resp.Error
		audit.Error = resp.Error
		o.recordDecision(ctx, audit)
		log.Warn("provider call failed", "err", resp.Error)
		return res
	}

	dec, ok := decision.Parse(resp.Content)
	if !ok {
		res.Error = ParseFailure
		audit.Error = ParseFailure
		o.recordDecision(ctx, audit)
		metrics.ParseFailures.WithLabelValues(p.ModelID).Inc()
		log.Warn("response had no parseable decision", "chars", len(resp.Content))
		return res
	}

	res.Success = true
	res.Sentiment = dec.Sentiment
	audit.Parsed = true
	audit.Sentiment = dec.Sentiment
	audit.AnalyzedStocks = dec.AnalyzedStocks
	o.recordDecision(ctx, audit)

	o.executeActions(ctx, log, sessionID, p, comp, snap, strategy, mctx.Account, dec.Actions, opts, &res)
	return res
}

func (o *Orchestrator) buildContext(ctx context.Context, p *model.Participant, comp *model.CompetitionConfig, snap *marketdata.Snapshot, rules mode.RuleSet) (*mode.Context, error) {
	holdings, err := o.store.ListHoldings(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}

	today, err := o.store.ListTradesSince(ctx, p.ID, o.hours.StartOfDay(o.now()))
	if err != nil {
		return nil, fmt.Errorf("load today's trades: %w", err)
	}
	realizedToday := decimal.Zero
	for _, t := range today {
		if t.RealizedPnL != nil {
			realizedToday = realizedToday.Add(*t.RealizedPnL)
		}
	}

	recent, err := o.store.ListTrades(ctx, p.ID, rules.RecentTradeLimit)
	if err != nil {
		return nil, fmt.Errorf("load recent trades: %w", err)
	}

	c := &mode.Context{
		Participant:  *p,
		Account:      mode.NewAccount(p, holdings, realizedToday, comp, snap),
		RecentTrades: recent,
		Snapshot:     snap,
		Competition:  *comp,
	}

	if rules.CompetitorVisibility {
		rivals, err := o.store.ListParticipants(ctx, store.ParticipantFilter{Mode: p.Mode})
		if err != nil {
			return nil, fmt.Errorf("load competitors: %w", err)
		}
		rivalHoldings := make(map[string][]model.Holding, len(rivals))
		for _, r := range rivals {
			if r.ID == p.ID {
				continue
			}
			hs, err := o.store.ListHoldings(ctx, r.ID)
			if err != nil {
				return nil, fmt.Errorf("load competitor holdings: %w", err)
			}
			rivalHoldings[r.ID] = hs
		}
		c.Competitors = mode.BuildCompetitors(p.ID, p.Mode, rivals, rivalHoldings, rules.CompetitorLimit)
	}
	return c, nil
}

// executeActions validates and fills each proposal in order. A failing
// action is skipped; the rest still run. The account is updated after each
// fill so later proposals see the new cash and holdings. Dry runs simulate
// fills against that same account view instead of the store.
func (o *Orchestrator) executeActions(ctx context.Context, log *slog.Logger, sessionID string, p *model.Participant, comp *model.CompetitionConfig, snap *marketdata.Snapshot, strategy mode.Strategy, acct *mode.Account, actions []decision.Proposal, opts Options, res *ParticipantResult) {
	maxTrades := strategy.Rules().MaxTradesPerSession
	quotes := make(map[string]decimal.Decimal) // off-snapshot prices, this participant only
	sim := *p
	for i, action := range actions {
		if maxTrades > 0 && res.TradesExecuted >= maxTrades {
			msg := fmt.Sprintf("%s %s: session trade limit %d reached", action.Action, action.StockCode, maxTrades)
			res.Rejected = append(res.Rejected, msg)
			metrics.ValidationRejections.WithLabelValues(string(p.Mode)).Inc()
			log.Warn("action skipped", "index", i, "reason", msg)
			continue
		}

		price, err := o.livePrice(ctx, snap, quotes, action.StockCode)
		if err != nil {
			msg := fmt.Sprintf("%s %s: no live price: %v", action.Action, action.StockCode, err)
			res.Rejected = append(res.Rejected, msg)
			log.Warn("action skipped", "index", i, "stock", action.StockCode, "err", err)
			continue
		}

		verdict := strategy.Validate(action, price, acct)
		if !verdict.Valid {
			msg := fmt.Sprintf("%s %s: %s", action.Action, action.StockCode, verdict.Error)
			res.Rejected = append(res.Rejected, msg)
			metrics.ValidationRejections.WithLabelValues(string(p.Mode)).Inc()
			log.Warn("action rejected", "index", i, "stock", action.StockCode, "reason", verdict.Error)
			continue
		}

		order := ledger.Order{
			ParticipantID: p.ID,
			SessionID:     sessionID,
			Proposal:      verdict.Proposal,
			Price:         price,
			FeeRate:       comp.FeeRate(),
		}
		var fill *ledger.Fill
		if opts.DryRun {
			var held *model.Holding
			if h, ok := acct.Holdings[order.Proposal.StockCode]; ok {
				held = &h
			}
			if fill, err = o.executor.Simulate(order, sim, held); err == nil {
				sim = fill.Participant
			}
		} else {
			fill, err = o.executor.Execute(ctx, order)
		}
		if err != nil {
			msg := fmt.Sprintf("%s %s: %v", action.Action, action.StockCode, err)
			res.Rejected = append(res.Rejected, msg)
			log.Error("execution failed", "index", i, "stock", action.StockCode, "err", err)
			continue
		}

		res.TradesExecuted++
		res.Trades = append(res.Trades, fill.Trade)
		applyFill(acct, fill)
		o.publish(Event{Type: EventTrade, SessionID: sessionID, ParticipantID: p.ID, Payload: fill.Trade})
	}
}

func applyFill(a *mode.Account, f *ledger.Fill) {
	a.Cash = f.Participant.CashBalance
	if f.Trade.RealizedPnL != nil {
		a.RealizedToday = a.RealizedToday.Add(*f.Trade.RealizedPnL)
	}
	if f.Holding != nil {
		a.Holdings[f.Trade.StockCode] = *f.Holding
	} else {
		delete(a.Holdings, f.Trade.StockCode)
	}
}

// livePrice prices code from the shared snapshot, falling back to a feed
// quote cached in quotes. The snapshot itself is never modified, so every
// participant's prompt is built from the same data.
func (o *Orchestrator) livePrice(ctx context.Context, snap *marketdata.Snapshot, quotes map[string]decimal.Decimal, code string) (decimal.Decimal, error) {
	if price, ok := snap.Price(code); ok {
		return price, nil
	}
	if price, ok := quotes[code]; ok {
		return price, nil
	}
	q, err := o.aggregator.Feed().Quote(ctx, code)
	if err != nil {
		return decimal.Zero, err
	}
	if !q.Price.IsPositive() {
		return decimal.Zero, marketdata.ErrNoQuote
	}
	quotes[code] = q.Price
	return q.Price, nil
}

func snapshotPrices(snap *marketdata.Snapshot) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(snap.Prices))
	for code, q := range snap.Prices {
		if q.Price.IsPositive() {
			prices[code] = q.Price
		}
	}
	return prices
}

// recordDecision writes the audit record. Failures are logged, never fatal.
func (o *Orchestrator) recordDecision(ctx context.Context, d *model.AIDecision) {
	if err := o.store.InsertDecision(ctx, d); err != nil {
		slog.Error("store decision failed", "participant", d.ParticipantID, "err", err)
	}
	if o.journal != nil {
		if err := o.journal.RecordDecision(ctx, d); err != nil {
			slog.Error("journal decision failed", "participant", d.ParticipantID, "err", err)
		}
	}
}

func (o *Orchestrator) recordSession(ctx context.Context, r *Report, start, finished time.Time) {
	if o.journal == nil {
		return
	}
	err := o.journal.RecordSession(ctx, journal.SessionRecord{
		ID:              r.SessionID,
		StartedAt:       start,
		FinishedAt:      finished,
		DryRun:          r.DryRun,
		ModelsProcessed: r.ModelsProcessed,
		TradesExecuted:  r.TradesExecuted,
		TokensUsed:      r.TotalTokensUsed,
		Report:          r,
	})
	if err != nil {
		slog.Error("journal session failed", "session", r.SessionID, "err", err)
	}
}
