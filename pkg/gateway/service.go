package gateway

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/polyglot-dispatch/internal/budget"
	"github.com/tjfontaine/polyglot-dispatch/internal/citation"
	"github.com/tjfontaine/polyglot-dispatch/internal/config"
	"github.com/tjfontaine/polyglot-dispatch/internal/dispatch"
	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/fetch"
	"github.com/tjfontaine/polyglot-dispatch/internal/prompt"
	"github.com/tjfontaine/polyglot-dispatch/internal/provider"
	"github.com/tjfontaine/polyglot-dispatch/internal/search"
	"github.com/tjfontaine/polyglot-dispatch/internal/trigger"
)

// MaxURLsPerRequest caps how many URLs found in a message are fetched.
const MaxURLsPerRequest = 3

// Dispatcher runs an assembled call against a provider's model chain.
type Dispatcher interface {
	Generate(ctx context.Context, call dispatch.Call) (*domain.DispatchOutcome, error)
	Stream(ctx context.Context, call dispatch.Call) iter.Seq2[domain.Fragment, error]
}

// Catalog reports which provider clients were built.
type Catalog interface {
	Get(id domain.ProviderIdentity) (domain.Provider, bool)
	Reason(id domain.ProviderIdentity) string
}

// Searcher returns formatted web results, or nil when there are none.
type Searcher interface {
	Search(ctx context.Context, query string, n int) *search.Result
}

// Fetcher downloads the readable text of one URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) fetch.Result
}

// Option configures a Service.
type Option func(*Service)

// WithSearch enables web search.
func WithSearch(s Searcher, results int) Option {
	return func(svc *Service) {
		svc.search = s
		if results > 0 {
			svc.searchResults = results
		}
	}
}

// WithFetcher enables fetching URLs pasted into the message.
func WithFetcher(f Fetcher) Option {
	return func(svc *Service) {
		svc.fetch = f
	}
}

// WithInstructionSource sets where the base system instruction is read from.
// fallback is used when the source is empty or fails.
func WithInstructionSource(src domain.InstructionSource, fallback string) Option {
	return func(svc *Service) {
		svc.instructions = src
		svc.baseInstruction = fallback
	}
}

// WithBudget sets the token budgets for context and chunks.
func WithBudget(b config.BudgetConfig) Option {
	return func(svc *Service) {
		if b.ContextTokens > 0 {
			svc.budget.ContextTokens = b.ContextTokens
		}
		if b.ChunkTokens > 0 {
			svc.budget.ChunkTokens = b.ChunkTokens
		}
		if b.MaxChunks > 0 {
			svc.budget.MaxChunks = b.MaxChunks
		}
	}
}

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(svc *Service) {
		svc.logger = logger
	}
}

// Service implements the inbound generation contract. It is safe for
// concurrent use.
type Service struct {
	dispatcher      Dispatcher
	resolver        *provider.Resolver
	catalog         Catalog
	chains          dispatch.Chains
	search          Searcher
	fetch           Fetcher
	instructions    domain.InstructionSource
	baseInstruction string
	budget          config.BudgetConfig
	searchResults   int
	logger          *slog.Logger
}

// NewService creates a Service around a dispatcher.
func NewService(dispatcher Dispatcher, resolver *provider.Resolver, catalog Catalog, chains dispatch.Chains, opts ...Option) *Service {
	s := &Service{
		dispatcher: dispatcher,
		resolver:   resolver,
		catalog:    catalog,
		chains:     chains,
		budget: config.BudgetConfig{
			ContextTokens: 8000,
			ChunkTokens:   12000,
			MaxChunks:     10,
		},
		searchResults: search.DefaultResults,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = provider.NewResolver(domain.ProviderGemini, s.logger)
	}
	return s
}

// prepared is a request ready for dispatch.
type prepared struct {
	call      dispatch.Call
	prompt    domain.AssembledPrompt
	citations []domain.CitationEntry
	decision  trigger.Decision
}

// Generate answers req in one shot. Web citations, when present, are
// appended to the text and returned structured.
func (s *Service) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.DispatchOutcome, error) {
	p := s.prepare(ctx, req)

	outcome, err := s.dispatcher.Generate(ctx, p.call)
	if err != nil {
		return nil, err
	}
	outcome.Text = citation.Attach(outcome.Text, p.citations)
	outcome.Citations = p.citations

	s.logger.Info("generation complete",
		slog.String("provider", outcome.Provider),
		slog.String("model", outcome.UsedModel),
		slog.Int("input_tokens", outcome.InputTokens),
		slog.Int("output_tokens", outcome.OutputTokens),
		slog.Int("citations", len(p.citations)),
	)
	return outcome, nil
}

// Stream is a prepared streaming answer.
type Stream struct {
	Provider domain.ProviderIdentity
	// Citations are not appended to the streamed text; callers surface
	// them separately.
	Citations []domain.CitationEntry
	Fragments iter.Seq2[domain.Fragment, error]
}

// GenerateStream gathers context for req and returns the answer as a lazy
// fragment sequence. Context gathering happens before it returns; the
// provider call starts when Fragments is first ranged over.
func (s *Service) GenerateStream(ctx context.Context, req domain.GenerationRequest) *Stream {
	p := s.prepare(ctx, req)
	return &Stream{
		Provider:  p.call.Provider,
		Citations: p.citations,
		Fragments: s.dispatcher.Stream(ctx, p.call),
	}
}

func (s *Service) prepare(ctx context.Context, req domain.GenerationRequest) prepared {
	res := s.resolver.ResolveAlias(req.ProviderAlias)

	question := strings.TrimSpace(req.OriginalQuestion)
	if question == "" {
		question = req.UserMessage
	}

	profile := budget.Trim(req.FreeContext, s.budget.ContextTokens)
	documents := budget.Trim(budget.JoinChunks(s.selectChunks(req.RetrievedChunks, question)), s.budget.ChunkTokens)

	decision := trigger.Classify(trigger.Input{
		Query:   req.UserMessage,
		Context: profile,
		Chunks:  documents,
	})

	urls := fetch.ExtractURLs(req.UserMessage)
	if len(urls) > MaxURLsPerRequest {
		urls = urls[:MaxURLsPerRequest]
	}

	var (
		web   *search.Result
		base  = s.baseInstruction
		pages = make([]prompt.URLContent, len(urls))
	)

	g, gctx := errgroup.WithContext(ctx)
	if decision.NeedsWeb && s.search != nil {
		g.Go(func() error {
			web = s.search.Search(gctx, question, s.searchResults)
			return nil
		})
	}
	if s.fetch != nil {
		for i, u := range urls {
			g.Go(func() error {
				if r := s.fetch.Fetch(gctx, u); r.Success {
					pages[i] = prompt.URLContent{URL: r.URL, Title: r.Title, Content: r.Content}
				}
				return nil
			})
		}
	}
	if s.instructions != nil {
		g.Go(func() error {
			if latest := s.latestInstruction(gctx); latest != "" {
				base = latest
			}
			return nil
		})
	}
	_ = g.Wait()

	sources := prompt.Sources{
		Question:  req.UserMessage,
		Documents: documents,
		Profile:   profile,
		Explicit:  decision.Explicit || len(urls) > 0,
	}
	for _, page := range pages {
		if page.Content != "" {
			sources.URLs = append(sources.URLs, page)
		}
	}
	var citations []domain.CitationEntry
	if web != nil {
		sources.WebResults = web.FormattedText
		citations = web.Citations
	}

	assembled := prompt.Assemble(base, sources)

	s.logger.Debug("prompt assembled",
		slog.String("provider", string(res.Identity)),
		slog.String("rule", string(decision.Rule)),
		slog.Bool("needs_web", decision.NeedsWeb),
		slog.Bool("explicit", sources.Explicit),
		slog.Int("urls", len(sources.URLs)),
		slog.Int("body_bytes", len(assembled.Body)),
	)

	return prepared{
		call: dispatch.Call{
			Provider:       res.Identity,
			PreferredModel: res.Model,
			System:         assembled.SystemInstruction,
			Prompt:         assembled.Body,
		},
		prompt:    assembled,
		citations: citations,
		decision:  decision,
	}
}

// selectChunks normalizes chunk input and keeps the most relevant ones. A
// single unlabelled chunk is treated as pre-joined text.
func (s *Service) selectChunks(chunks []domain.Chunk, query string) []domain.Chunk {
	if len(chunks) == 1 && chunks[0].SourceLabel == "" {
		chunks = budget.SplitJoined(chunks[0].Content)
	}
	return budget.FilterChunks(chunks, query, s.budget.MaxChunks)
}

func (s *Service) latestInstruction(ctx context.Context) string {
	latest, err := s.instructions.GetLatest(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("system instruction source unavailable, using configured default",
				slog.String("error", domain.ErrUpstreamUnavailable("system instruction", err).Error()),
			)
		}
		return ""
	}
	return strings.TrimSpace(latest)
}

// ResolveProviderAlias returns the canonical identity for alias. It never
// fails: unknown aliases resolve to the configured default.
func (s *Service) ResolveProviderAlias(alias string) domain.ProviderIdentity {
	return s.resolver.Resolve(alias)
}

// Resolution is a resolved alias plus the model that would be tried first.
type Resolution struct {
	Provider domain.ProviderIdentity `json:"provider"`
	Model    string                  `json:"model"`
	Fallback bool                    `json:"fallback,omitempty"`
}

// Resolve reports the identity and first model alias would dispatch to.
func (s *Service) Resolve(alias string) Resolution {
	res := s.resolver.ResolveAlias(alias)
	return Resolution{
		Provider: res.Identity,
		Model:    s.firstModel(res),
		Fallback: res.Fallback,
	}
}

func (s *Service) firstModel(res provider.Resolution) string {
	if s.chains == nil {
		return res.Model
	}
	chain, ok := s.chains.ChainFor(res.Identity)
	if !ok {
		return res.Model
	}
	chain = provider.Pin(chain, res.Model)
	return chain[0].ID
}

// ListAvailableProviders reports, per provider identity, whether a client is
// configured and which model would be tried first. Availability reflects
// configured credentials, not a live health check.
func (s *Service) ListAvailableProviders() map[string]domain.ProviderStatus {
	ids := []domain.ProviderIdentity{
		domain.ProviderGemini,
		domain.ProviderAnthropic,
		domain.ProviderOpenAI,
		domain.ProviderDeepSeek,
	}
	out := make(map[string]domain.ProviderStatus, len(ids))
	for _, id := range ids {
		status := domain.ProviderStatus{
			Model:  s.firstModel(provider.Resolution{Identity: id}),
			Reason: "not registered",
		}
		if s.catalog != nil {
			_, status.Available = s.catalog.Get(id)
			status.Reason = s.catalog.Reason(id)
		}
		out[string(id)] = status
	}
	return out
}
