package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/focusmate/internal/classify"
	"github.com/thebtf/focusmate/internal/clock"
	"github.com/thebtf/focusmate/pkg/models"
	"github.com/thebtf/focusmate/pkg/similarity"
)

// DefaultInsightTTL bounds how often the narrative is regenerated.
const DefaultInsightTTL = 6 * time.Hour

// maxRecurring caps the distraction descriptions included in the prompt.
const maxRecurring = 3

// Insight is a generated narrative with cache metadata.
type Insight struct {
	GeneratedAt  time.Time `json:"generated_at"`
	Text         string    `json:"text"`
	Cached       bool      `json:"cached"`
	PromptTokens int       `json:"prompt_tokens,omitempty"`
}

// InsightService generates the weekly narrative and caches it for a TTL.
// Concurrent misses share one outbound call.
type InsightService struct {
	cachedAt  time.Time
	generator classify.TextGenerator
	clock     clock.Clock
	codec     tokenizer.Codec
	cached    string
	group     singleflight.Group
	ttl       time.Duration
	mu        sync.Mutex
}

// NewInsightService creates the service. A zero ttl uses DefaultInsightTTL.
func NewInsightService(gen classify.TextGenerator, clk clock.Clock, ttl time.Duration) *InsightService {
	if ttl <= 0 {
		ttl = DefaultInsightTTL
	}
	if clk == nil {
		clk = clock.System{}
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		log.Warn().Err(err).Msg("Tokenizer unavailable, insight prompt tokens will not be counted")
	}
	return &InsightService{generator: gen, clock: clk, ttl: ttl, codec: codec}
}

// Insight returns the cached narrative when fresh, otherwise generates a new one.
func (s *InsightService) Insight(ctx context.Context, sessions []*models.Session, settings models.Settings) (Insight, error) {
	if cached, ok := s.fresh(); ok {
		return cached, nil
	}

	v, err, _ := s.group.Do("insight", func() (interface{}, error) {
		// Another caller may have refreshed the cache while we waited
		if cached, ok := s.fresh(); ok {
			return cached, nil
		}

		prompt := BuildInsightPrompt(sessions)
		tokens := s.countTokens(prompt)
		log.Debug().Int("promptTokens", tokens).Int("sessions", len(sessions)).Msg("Generating insight")

		text, err := s.generator.GenerateText(ctx, prompt, settings.APIKey, settings.Model, settings.Provider)
		if err != nil {
			return Insight{}, fmt.Errorf("generate insight: %w", err)
		}

		now := s.clock.Now()
		s.mu.Lock()
		s.cached = text
		s.cachedAt = now
		s.mu.Unlock()
		return Insight{Text: text, GeneratedAt: now, PromptTokens: tokens}, nil
	})
	if err != nil {
		return Insight{}, err
	}
	return v.(Insight), nil
}

// Invalidate drops the cached narrative.
func (s *InsightService) Invalidate() {
	s.mu.Lock()
	s.cached = ""
	s.cachedAt = time.Time{}
	s.mu.Unlock()
}

func (s *InsightService) fresh() (Insight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == "" || s.clock.Now().Sub(s.cachedAt) >= s.ttl {
		return Insight{}, false
	}
	return Insight{Text: s.cached, GeneratedAt: s.cachedAt, Cached: true}, true
}

func (s *InsightService) countTokens(prompt string) int {
	if s.codec == nil {
		return 0
	}
	ids, _, err := s.codec.Encode(prompt)
	if err != nil {
		return 0
	}
	return len(ids)
}

// BuildInsightPrompt summarizes sessions into the narrative request.
func BuildInsightPrompt(sessions []*models.Session) string {
	checks := AllChecks(sessions)

	primary := "general distractions"
	if top := TopDistractions(sessions, 1); len(top) > 0 {
		primary = top[0].Category
	}

	peak := "None"
	if h, ok := BestHour(PeakHours(sessions)); ok {
		peak = fmt.Sprintf("%02d:00 - %02d:00", h, h+1)
	}

	var b strings.Builder
	b.WriteString("Analyze this weekly productivity data for an ADHD user:\n")
	fmt.Fprintf(&b, "- Total Sessions: %d\n", len(sessions))
	fmt.Fprintf(&b, "- Focus Score: %d%%\n", int(FocusScore(checks)*100))
	fmt.Fprintf(&b, "- Primary Distraction: %s\n", primary)
	fmt.Fprintf(&b, "- Peak Focus Hours: %s\n", peak)
	if recurring := RecurringDistractions(checks, maxRecurring); len(recurring) > 0 {
		fmt.Fprintf(&b, "- Recurring Distractions: %s\n", strings.Join(recurring, "; "))
	}
	b.WriteString("\n")
	b.WriteString("Write a SHORT (2 sentences max) insight.\n")
	b.WriteString("Sentence 1: Observation about their focus pattern or distraction.\n")
	b.WriteString("Sentence 2: A gentle, specific tip or encouragement.\n")
	b.WriteString("Tone: Empathetic, non-judgmental, encouraging.")
	return b.String()
}

// RecurringDistractions returns up to limit slack reasons that occurred more than once,
// most frequent first, each suffixed with its count.
func RecurringDistractions(checks []*models.Check, limit int) []string {
	var slack []*models.Check
	for _, c := range sortedChecks(checks) {
		if c.IsSlack() && strings.TrimSpace(c.Reason) != "" {
			slack = append(slack, c)
		}
	}

	clusters := similarity.ClusterChecks(slack, similarity.DefaultThreshold)
	sort.SliceStable(clusters, func(i, j int) bool { return clusters[i].Count > clusters[j].Count })

	var out []string
	for _, cl := range clusters {
		if cl.Count < 2 || len(out) >= limit {
			break
		}
		out = append(out, fmt.Sprintf("%s (x%d)", cl.Representative.Reason, cl.Count))
	}
	return out
}
