package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// PriceSource is the aggregator's non-blocking price view.
type PriceSource interface {
	Latest(pair domain.Pair) (domain.PriceObservation, bool)
}

// Service loads the collaborators a score needs.
type Service struct {
	scorer      *Scorer
	catalog     domain.CatalogStore
	settings    domain.SettingsStore
	opps        domain.OpportunityStore
	prices      PriceSource
	quoteSymbol string
	logger      *slog.Logger
}

// NewService creates a risk Service. prices may be nil, in which case
// portfolio holdings other than the quote token are valued at zero.
func NewService(
	scorer *Scorer,
	catalog domain.CatalogStore,
	settings domain.SettingsStore,
	opps domain.OpportunityStore,
	prices PriceSource,
	quoteSymbol string,
	logger *slog.Logger,
) *Service {
	return &Service{
		scorer:      scorer,
		catalog:     catalog,
		settings:    settings,
		opps:        opps,
		prices:      prices,
		quoteSymbol: quoteSymbol,
		logger:      logger.With(slog.String("component", "risk")),
	}
}

// AssessOpportunity scores oppID for userID. It never fails: anything that
// cannot be loaded yields a non-executable maximum score.
func (s *Service) AssessOpportunity(ctx context.Context, userID, oppID int64) Assessment {
	opp, err := s.opps.GetByID(ctx, oppID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.scorer.Score(nil, OpportunityInfo{}, nil)
		}
		return s.failClosed(ctx, "load opportunity", err)
	}

	settings, err := s.settings.Trading(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.scorer.Score(&opp, OpportunityInfo{}, nil)
		}
		return s.failClosed(ctx, "load trading settings", err)
	}

	return s.scorer.Score(&opp, s.describe(ctx, opp), &settings)
}

func (s *Service) failClosed(ctx context.Context, op string, err error) Assessment {
	s.logger.ErrorContext(ctx, "risk: "+op+" failed", slog.String("error", err.Error()))
	return Assessment{Score: maxScore, Recommendation: fmt.Sprintf("Error assessing risk: %v", err)}
}

// describe resolves names for the class and venue adjustments. Lookups
// that fail leave the field empty.
func (s *Service) describe(ctx context.Context, opp domain.Opportunity) OpportunityInfo {
	var info OpportunityInfo
	if t, err := s.catalog.GetToken(ctx, opp.TokenID); err == nil {
		info.TokenSymbol = t.Symbol
	}
	if v, err := s.catalog.GetVenue(ctx, opp.BuyVenueID); err == nil {
		info.BuyVenue = v.Name
	}
	if v, err := s.catalog.GetVenue(ctx, opp.SellVenueID); err == nil {
		info.SellVenue = v.Name
	}
	return info
}

// Portfolio levels.
const (
	LevelLow     = "Low"
	LevelMedium  = "Medium"
	LevelHigh    = "High"
	LevelUnknown = "Unknown"
)

// Portfolio is the diversification assessment of a user's holdings.
type Portfolio struct {
	RiskLevel             string          `json:"risk_level"`
	Recommendation        string          `json:"recommendation"`
	DiversificationScore  int             `json:"diversification_score"`
	TotalValue            decimal.Decimal `json:"total_value_usd"`
	TokenCount            int             `json:"token_count"`
	MaxConcentration      decimal.Decimal `json:"max_concentration"`
	MostConcentratedToken string          `json:"most_concentrated_token,omitempty"`
}

// AssessPortfolio scores how diversified the user's wallet balances are.
// Holdings are valued in the quote token using the latest aggregator price;
// unpriced holdings count toward the token total at zero value.
func (s *Service) AssessPortfolio(ctx context.Context, userID int64) (Portfolio, error) {
	wallets, err := s.catalog.ListActiveWallets(ctx, userID)
	if err != nil {
		return Portfolio{}, fmt.Errorf("risk: list wallets: %w", err)
	}
	if len(wallets) == 0 {
		return Portfolio{RiskLevel: LevelUnknown, Recommendation: "Add a wallet to assess portfolio risk"}, nil
	}

	balances, err := s.catalog.ListBalances(ctx, userID)
	if err != nil {
		return Portfolio{}, fmt.Errorf("risk: list balances: %w", err)
	}
	if len(balances) == 0 {
		return Portfolio{RiskLevel: LevelUnknown, Recommendation: "No token balances found"}, nil
	}

	var quote *domain.Token
	if q, err := s.catalog.GetTokenBySymbol(ctx, s.quoteSymbol); err == nil {
		quote = &q
	}

	values := make(map[string]decimal.Decimal)
	var order []string
	total := decimal.Zero
	for _, b := range balances {
		tok, err := s.catalog.GetToken(ctx, b.TokenID)
		if err != nil {
			continue
		}
		v := b.Balance.Mul(s.unitPrice(tok, quote))
		if _, seen := values[tok.Symbol]; !seen {
			order = append(order, tok.Symbol)
		}
		values[tok.Symbol] = values[tok.Symbol].Add(v)
		total = total.Add(v)
	}

	maxConc := decimal.Zero
	var top string
	if total.IsPositive() {
		for _, sym := range order {
			c := values[sym].Div(total)
			if c.GreaterThan(maxConc) {
				maxConc, top = c, sym
			}
		}
	}

	score := diversification(len(values), maxConc)
	p := Portfolio{
		DiversificationScore:  score,
		TotalValue:            total,
		TokenCount:            len(values),
		MaxConcentration:      maxConc,
		MostConcentratedToken: top,
	}
	switch {
	case score >= 8:
		p.RiskLevel, p.Recommendation = LevelLow, "Well-diversified portfolio"
	case score <= 4:
		p.RiskLevel, p.Recommendation = LevelHigh, "Portfolio heavily concentrated in "+top
	default:
		p.RiskLevel, p.Recommendation = LevelMedium, "Consider diversifying your portfolio"
	}
	return p, nil
}

func (s *Service) unitPrice(tok domain.Token, quote *domain.Token) decimal.Decimal {
	if strings.EqualFold(tok.Symbol, s.quoteSymbol) {
		return decimal.NewFromInt(1)
	}
	if quote == nil || s.prices == nil {
		return decimal.Zero
	}
	if obs, ok := s.prices.Latest(domain.Pair{Base: tok.Mint, Quote: quote.Mint}); ok && obs.Usable() {
		return obs.Price
	}
	return decimal.Zero
}

func diversification(tokens int, concentration decimal.Decimal) int {
	var score int
	switch {
	case tokens >= 5:
		score = 10
	case tokens >= 3:
		score = 7
	case tokens >= 2:
		score = 5
	default:
		score = 3
	}
	switch {
	case concentration.GreaterThan(decimal.RequireFromString("0.8")):
		score -= 3
	case concentration.GreaterThan(decimal.RequireFromString("0.6")):
		score -= 2
	case concentration.GreaterThan(decimal.RequireFromString("0.4")):
		score--
	}
	return score
}
