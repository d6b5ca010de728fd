package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/drawdown-screener/internal/brokerage"
	"github.com/trogers1052/drawdown-screener/internal/database"
	"github.com/trogers1052/drawdown-screener/internal/models"
	"github.com/trogers1052/drawdown-screener/internal/scheduler"
)

// Reader is the read side of the reporting store used by the bot
type Reader interface {
	GetLatestCandidates(ctx context.Context, limit int) ([]models.RankedCandidate, error)
	GetLatestSnapshot(ctx context.Context, symbol string) (*models.DrawdownSnapshot, error)
	GetLatestPortfolio(ctx context.Context) ([]models.PortfolioPosition, error)
	GetLatestRun(ctx context.Context) (*models.RunReport, error)
	GetLatestBar(ctx context.Context, symbol string) (*models.Bar, error)
	CountBars(ctx context.Context) (bars int64, symbols int64, err error)
}

// Trigger starts a screening run in the background
type Trigger interface {
	TriggerAsync() error
}

// Commands answers bot commands. Portfolio and Trigger are optional.
type Commands struct {
	store     Reader
	portfolio brokerage.Client
	trigger   Trigger
	topN      int
}

// NewCommands creates the command set
func NewCommands(store Reader, portfolio brokerage.Client, trigger Trigger, topN int) *Commands {
	if topN <= 0 {
		topN = 10
	}
	return &Commands{store: store, portfolio: portfolio, trigger: trigger, topN: topN}
}

// parseCommand splits "/Cmd@bot arg1 arg2" into ("/cmd", [arg1 arg2]).
// Text that is not a command yields an empty name.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	name := fields[0]
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:]
}

// Handle returns the reply for a message. Non-command text gets no reply.
func (c *Commands) Handle(ctx context.Context, text string) string {
	name, args := parseCommand(text)
	if name == "" {
		return ""
	}

	log.Info().Str("command", name).Strs("args", args).Msg("bot command received")

	switch name {
	case "/start", "/help":
		return helpText
	case "/screen":
		return c.screen(ctx)
	case "/drawdown":
		return c.drawdown(ctx, args)
	case "/portfolio":
		return c.portfolioReply(ctx)
	case "/monitor":
		return c.monitor(ctx)
	case "/account":
		return c.account(ctx)
	case "/health":
		return c.health(ctx)
	case "/run":
		return c.run()
	}
	return fmt.Sprintf("Unknown command %s. Send /help for the list.", html.EscapeString(name))
}

func (c *Commands) screen(ctx context.Context) string {
	candidates, err := c.store.GetLatestCandidates(ctx, c.topN)
	if err != nil {
		return failure("load candidates", err)
	}
	return FormatCandidates(candidates)
}

func (c *Commands) drawdown(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /drawdown SYMBOL"
	}
	symbol := strings.ToUpper(args[0])
	snap, err := c.store.GetLatestSnapshot(ctx, symbol)
	if errors.Is(err, database.ErrNotFound) {
		return c.latestBar(ctx, symbol)
	}
	if err != nil {
		return failure("load snapshot", err)
	}
	return FormatSnapshot(snap)
}

// latestBar answers for a symbol that has stored prices but no snapshot,
// e.g. one still short of the minimum history.
func (c *Commands) latestBar(ctx context.Context, symbol string) string {
	none := fmt.Sprintf("No drawdown snapshot for %s.", html.EscapeString(symbol))
	bar, err := c.store.GetLatestBar(ctx, symbol)
	if errors.Is(err, database.ErrNotFound) {
		return none
	}
	if err != nil {
		return failure("load latest bar", err)
	}
	return none + "\n" + FormatLatestBar(bar)
}

// positions prefers the live brokerage and falls back to the last stored
// snapshot.
func (c *Commands) positions(ctx context.Context) ([]models.PortfolioPosition, error) {
	if c.portfolio != nil {
		positions, err := c.portfolio.ListPositions(ctx)
		if err == nil {
			return positions, nil
		}
		log.Warn().Err(err).Msg("live positions unavailable, using stored snapshot")
	}
	return c.store.GetLatestPortfolio(ctx)
}

func (c *Commands) portfolioReply(ctx context.Context) string {
	positions, err := c.positions(ctx)
	if err != nil {
		return failure("load portfolio", err)
	}
	return FormatPortfolio(positions)
}

func (c *Commands) monitor(ctx context.Context) string {
	positions, err := c.positions(ctx)
	if err != nil {
		return failure("load portfolio", err)
	}
	target := decimal.NewFromInt(brokerage.ProfitTargetPct)
	check := brokerage.EvaluateProfitTarget(positions, brokerage.ProfitTargetPositions, target)
	return FormatProfitCheck(check, brokerage.ProfitTargetPositions, target)
}

func (c *Commands) account(ctx context.Context) string {
	if c.portfolio == nil {
		return "Brokerage account is not configured."
	}
	acct, err := c.portfolio.GetAccount(ctx)
	if err != nil {
		return failure("load account", err)
	}
	return FormatAccount(acct)
}

func (c *Commands) health(ctx context.Context) string {
	run, err := c.store.GetLatestRun(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return "No screening runs recorded yet."
	}
	if err != nil {
		return failure("load run report", err)
	}
	reply := FormatRunReport(run)
	if bars, symbols, err := c.store.CountBars(ctx); err == nil {
		reply += fmt.Sprintf("Stored: %d bars across %d symbols\n", bars, symbols)
	} else {
		log.Warn().Err(err).Msg("failed to count stored bars")
	}
	return reply
}

func (c *Commands) run() string {
	if c.trigger == nil {
		return "Manual runs are not enabled."
	}
	if err := c.trigger.TriggerAsync(); err != nil {
		if errors.Is(err, scheduler.ErrBusy) {
			return "A screening run is already in progress."
		}
		return failure("start run", err)
	}
	return "🚀 Screening run started. Send /health for the result."
}

func failure(action string, err error) string {
	log.Error().Err(err).Str("action", action).Msg("bot command failed")
	return fmt.Sprintf("❌ Failed to %s: %s", action, html.EscapeString(err.Error()))
}
