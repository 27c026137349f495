package agents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dyluth/mirror/pkg/ledger"
)

// Stance biases a scripted agent's confidence and probability nudges.
type Stance string

const (
	StanceBullish Stance = "bullish"
	StanceBearish Stance = "bearish"
	StanceNeutral Stance = "neutral"
)

// DefaultHorizon is how far ahead scripted forecasts resolve.
const DefaultHorizon = 30 * 24 * time.Hour

var riskWords = []string{
	"crisis", "risk", "war", "default", "inflation", "recession", "collapse",
	"strike", "sanction", "fall", "drop", "cut", "warn", "shortage", "outage",
}

// Scripted is a deterministic council member. Its output depends only on the
// input documents, the snapshot and the run time.
type Scripted struct {
	name    string
	role    Role
	persona string
	stance  Stance
	horizon time.Duration
}

// NewScripted creates a scripted agent.
func NewScripted(name string, role Role, persona string, stance Stance) (*Scripted, error) {
	if name == "" {
		return nil, fmt.Errorf("agent name cannot be empty")
	}
	if err := role.Validate(); err != nil {
		return nil, err
	}
	switch stance {
	case "":
		stance = StanceNeutral
	case StanceBullish, StanceBearish, StanceNeutral:
	default:
		return nil, fmt.Errorf("invalid stance for agent %s: %q", name, stance)
	}
	if persona == "" {
		persona = strings.ToUpper(name[:1]) + name[1:]
	}
	return &Scripted{name: name, role: role, persona: persona, stance: stance, horizon: DefaultHorizon}, nil
}

// DefaultCouncil returns the standard six-seat council.
func DefaultCouncil() []Agent {
	seats := []struct {
		name    string
		role    Role
		persona string
		stance  Stance
	}{
		{"sentinel", RoleSentinel, "The Sentinel", StanceNeutral},
		{"bull", RoleBull, "The Bull", StanceBullish},
		{"bear", RoleBear, "The Bear", StanceBearish},
		{"skeptic", RoleSkeptic, "The Skeptic", StanceBearish},
		{"historian", RoleHistorian, "The Historian", StanceNeutral},
		{"forecaster", RoleForecaster, "The Forecaster", StanceNeutral},
	}
	out := make([]Agent, 0, len(seats))
	for _, s := range seats {
		a, _ := NewScripted(s.name, s.role, s.persona, s.stance)
		out = append(out, a)
	}
	return out
}

func (s *Scripted) Name() string { return s.name }
func (s *Scripted) Role() Role   { return s.role }

func (s *Scripted) confidence() float64 {
	switch s.stance {
	case StanceBullish:
		return 0.7
	case StanceBearish:
		return 0.35
	default:
		return 0.5
	}
}

func (s *Scripted) nudge() float64 {
	switch s.stance {
	case StanceBullish:
		return 0.05
	case StanceBearish:
		return -0.05
	default:
		return 0
	}
}

// Deliberate writes the agent's take in the line protocol read by the arbiter.
func (s *Scripted) Deliberate(ctx context.Context, in Input) (Output, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	docs := make([]ledger.IngestPayload, len(in.Documents))
	for i, d := range in.Documents {
		d.Title = sanitize(d.Title)
		d.Feed = sanitize(d.Feed)
		docs[i] = d
	}
	in.Documents = docs

	var b strings.Builder
	lead := "no new material"
	if len(in.Documents) > 0 {
		lead = in.Documents[0].Title
	}
	risky := riskyDocuments(in.Documents)

	fmt.Fprintf(&b, "TAKE: %s reads %d new documents; lead signal: %s\n", s.persona, len(in.Documents), lead)
	fmt.Fprintf(&b, "CONFIDENCE: %.2f\n", s.confidence())
	if len(risky) > 0 {
		titles := make([]string, 0, 3)
		for i, d := range risky {
			if i == 3 {
				break
			}
			titles = append(titles, d.Title)
		}
		fmt.Fprintf(&b, "RISKS: %s\n", strings.Join(titles, " | "))
	}

	switch s.role {
	case RoleSentinel:
		s.writeBeliefs(&b, in)
	case RoleSkeptic:
		for _, d := range risky {
			severity := "medium"
			if d.Tier == 1 {
				severity = "high"
			}
			fmt.Fprintf(&b, "RISK: %s | SEVERITY: %s | COMPOUND: If this continues, %s coverage escalates\n", d.Title, severity, feedName(d))
		}
	case RoleHistorian:
		for i, d := range in.Documents {
			if i == 3 {
				break
			}
			mag, sentiment := 10, "positive"
			if isRisky(d.Title) {
				mag, sentiment = -10, "alert"
			}
			fmt.Fprintf(&b, "DELTA: %s | MAGNITUDE: %+d | SENTIMENT: %s\n", d.Title, mag, sentiment)
		}
	case RoleForecaster:
		s.writeForecasts(&b, in)
	}

	if s.stance != StanceNeutral && in.Snapshot != nil {
		for _, f := range ledger.SortedForecasts(in.Snapshot.Forecasts) {
			if f.Status != ledger.ForecastOpen {
				continue
			}
			p := math.Round(clamp(f.Probability+s.nudge(), 0.01, 0.99)*100) / 100
			fmt.Fprintf(&b, "UPDATE: %s | PROB: %.2f\n", f.ID, p)
		}
	}

	return Output{Agent: s.name, Role: s.role, Raw: b.String(), Duration: time.Since(start)}, nil
}

func (s *Scripted) writeBeliefs(b *strings.Builder, in Input) {
	counts := map[string]int{}
	var order []string
	for _, d := range in.Documents {
		name := feedName(d)
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
	}
	for i, name := range order {
		if i == 2 {
			break
		}
		conf := 40 + 10*counts[name]
		if conf > 90 {
			conf = 90
		}
		fmt.Fprintf(b, "BELIEF: %s remains a primary driver of the news cycle | CONFIDENCE: %d | STATUS: active\n", name, conf)
	}
}

func (s *Scripted) writeForecasts(b *strings.Builder, in Input) {
	date := in.Now.UTC().Add(s.horizon).Format("2006-01-02")
	for i, d := range in.Documents {
		if i == 2 {
			break
		}
		p := 0.6
		if isRisky(d.Title) {
			p = 0.35
		}
		fmt.Fprintf(b, "FORECAST: Will %q still be developing on %s? | PROB: %.2f | DATE: %s | CRITERIA: A tier-1 source reports new developments on or after %s\n",
			d.Title, date, p, date, date)
	}

	if in.Snapshot == nil {
		return
	}
	today := in.Now.UTC().Format("2006-01-02")
	for _, f := range ledger.SortedForecasts(in.Snapshot.Forecasts) {
		if f.Status != ledger.ForecastOpen || f.ResolutionDate == "" || f.ResolutionDate > today {
			continue
		}
		outcome := "no"
		for _, d := range in.Documents {
			if d.Title != "" && strings.Contains(f.Question, d.Title) {
				outcome = "yes"
				break
			}
		}
		fmt.Fprintf(b, "RESOLVE: %s | OUTCOME: %s\n", f.ID, outcome)
	}
}

func riskyDocuments(docs []ledger.IngestPayload) []ledger.IngestPayload {
	var out []ledger.IngestPayload
	for _, d := range docs {
		if isRisky(d.Title) {
			out = append(out, d)
		}
	}
	return out
}

func isRisky(title string) bool {
	lower := strings.ToLower(title)
	for _, w := range riskWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// sanitize keeps text on one line and free of field separators.
func sanitize(s string) string {
	s = strings.NewReplacer("|", "/", "\n", " ", "\r", " ").Replace(s)
	return strings.TrimSpace(s)
}

func feedName(d ledger.IngestPayload) string {
	if d.Feed != "" {
		return d.Feed
	}
	return "unattributed"
}
