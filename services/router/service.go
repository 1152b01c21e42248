package router

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/services"
	"github.com/botmesh/model-gateway/services/adapters"
)

// errAdapterMismatch aborts a single attempt without a health mark when the
// registered adapter cannot serve the requested capability
var errAdapterMismatch = errors.New("adapter cannot serve capability")

// ProviderDirectory supplies the candidate table and absorbs health marks.
// Satisfied by the registry service.
type ProviderDirectory interface {
	GetProviders(ctx context.Context, capability models.Capability) ([]models.ModelProviderEntry, error)
	MarkHealthy(ctx context.Context, adapter string)
	MarkUnhealthy(ctx context.Context, adapter string)
}

// MarginReporter receives one record per billable routed request. Recording
// must not block the request path.
type MarginReporter interface {
	RecordMargin(record models.MarginRecord)
}

// Service walks failover chains across registered adapters.
type Service struct {
	directory ProviderDirectory
	margins   MarginReporter
	logger    *zap.Logger

	mu       sync.RWMutex
	adapters map[string]adapters.Adapter

	statsMu   sync.Mutex
	routed    map[string]uint64
	failed    map[string]uint64
	exhausted uint64
}

// NewService creates a routing service. The margin reporter may be nil when
// margin capture is disabled.
func NewService(directory ProviderDirectory, margins MarginReporter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		directory: directory,
		margins:   margins,
		logger:    logger,
		adapters:  make(map[string]adapters.Adapter),
		routed:    make(map[string]uint64),
		failed:    make(map[string]uint64),
	}
}

// RegisterAdapter adds or replaces the adapter under its reported name. The
// adapter must implement the operation interface for every capability it
// advertises.
func (s *Service) RegisterAdapter(adapter adapters.Adapter) error {
	if err := adapters.ValidateCapabilities(adapter); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := adapter.Name()
	_, replaced := s.adapters[name]
	s.adapters[name] = adapter
	s.logger.Info("adapter registered",
		zap.String("adapter", name),
		zap.Bool("replaced", replaced),
		zap.Any("capabilities", adapter.Capabilities()))
	return nil
}

// AdapterNames lists the registered adapter names.
func (s *Service) AdapterNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.adapters))
	for name := range s.adapters {
		names = append(names, name)
	}
	return names
}

func (s *Service) adapter(name string) (adapters.Adapter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.adapters[name]
	return a, ok
}

// SelectProvider returns the entry a request for the capability would be
// served by right now, with the reason it leads the chain. No request is
// sent and no health state changes.
func (s *Service) SelectProvider(ctx context.Context, capability models.Capability, opts Options) (models.ModelProviderEntry, string, error) {
	entries, err := s.directory.GetProviders(ctx, capability)
	if err != nil {
		return models.ModelProviderEntry{}, "", err
	}

	chain := buildChain(entries, opts.PreferLowLatency)
	if len(chain) == 0 {
		return models.ModelProviderEntry{}, "", services.NewNoProviderAvailableError(capability)
	}
	return chain[0], chainReason(chain[0], opts, 1), nil
}

// invokeFunc runs one capability operation against one adapter.
type invokeFunc func(ctx context.Context, adapter adapters.Adapter) (adapters.Output, error)

// route walks the failover chain until an attempt succeeds. Client-class
// provider errors abort the walk; everything else marks the adapter
// unhealthy and moves on.
func (s *Service) route(ctx context.Context, capability models.Capability, opts Options, invoke invokeFunc) (adapters.Output, Decision, error) {
	entries, err := s.directory.GetProviders(ctx, capability)
	if err != nil {
		return nil, Decision{}, err
	}

	chain := buildChain(entries, opts.PreferLowLatency)
	if len(chain) == 0 {
		return nil, Decision{}, services.NewNoProviderAvailableError(capability)
	}

	attempt := 0
	for _, entry := range chain {
		adapter, ok := s.adapter(entry.Adapter)
		if !ok {
			s.logger.Debug("no adapter registered for provider entry",
				zap.String("adapter", entry.Adapter),
				zap.String("capability", string(capability)))
			continue
		}

		attempt++
		out, err := invoke(ctx, adapter)
		if err == nil {
			decision := Decision{
				Adapter:  entry.Adapter,
				Tier:     entry.Tier,
				Reason:   chainReason(entry, opts, attempt),
				Attempts: attempt,
			}
			s.directory.MarkHealthy(ctx, entry.Adapter)
			s.recordSuccess(entry.Adapter)
			s.reportMargin(capability, entry, opts, out)
			return out, decision, nil
		}

		if errors.Is(err, errAdapterMismatch) {
			s.logger.Debug("adapter cannot serve capability",
				zap.String("adapter", entry.Adapter),
				zap.String("capability", string(capability)))
			attempt--
			continue
		}

		var provErr *adapters.ProviderError
		if errors.As(err, &provErr) && !provErr.Retryable() {
			// the upstream rejected the request itself; the next provider
			// would reject it the same way
			return nil, Decision{}, err
		}

		s.logger.Warn("provider attempt failed, trying next in chain",
			zap.String("adapter", entry.Adapter),
			zap.String("capability", string(capability)),
			zap.Error(err))
		s.directory.MarkUnhealthy(ctx, entry.Adapter)
		s.recordFailure(entry.Adapter)
	}

	s.recordExhausted()
	s.logger.Error("failover chain exhausted",
		zap.String("capability", string(capability)),
		zap.Int("candidates", len(chain)),
		zap.Int("attempts", attempt))
	return nil, Decision{}, services.NewNoProviderAvailableError(capability)
}

func (s *Service) reportMargin(capability models.Capability, entry models.ModelProviderEntry, opts Options, out adapters.Output) {
	if s.margins == nil || opts.SellPriceUSD <= 0 {
		return
	}
	cost := out.Cost()
	s.margins.RecordMargin(models.NewMarginRecord(
		opts.TenantID, capability, entry.Adapter, entry.Tier,
		cost.AmountUSD, opts.SellPriceUSD,
	))
}

// GenerateText routes a canonical chat request to the best text provider.
func (s *Service) GenerateText(ctx context.Context, req *models.OpenAIChatRequest, opts Options) (*adapters.TextGenerationResult, Decision, error) {
	out, decision, err := s.route(ctx, models.CapabilityTextGeneration, opts, func(ctx context.Context, a adapters.Adapter) (adapters.Output, error) {
		gen, ok := a.(adapters.TextGenerator)
		if !ok || !adapters.Supports(a, models.CapabilityTextGeneration) {
			return nil, errAdapterMismatch
		}
		return gen.GenerateText(ctx, req)
	})
	if err != nil {
		return nil, decision, err
	}
	return out.(*adapters.TextGenerationResult), decision, nil
}

// GenerateTextStream routes a streaming chat request. Only adapters that can
// stream the canonical dialect participate; failover stops once a provider
// accepts the request, because bytes may already have reached the client.
func (s *Service) GenerateTextStream(ctx context.Context, req *models.OpenAIChatRequest, opts Options) (*adapters.TextStream, Decision, error) {
	out, decision, err := s.route(ctx, models.CapabilityTextGeneration, opts, func(ctx context.Context, a adapters.Adapter) (adapters.Output, error) {
		st, ok := a.(adapters.TextStreamer)
		if !ok || !adapters.Supports(a, models.CapabilityTextGeneration) {
			return nil, errAdapterMismatch
		}
		return st.GenerateTextStream(ctx, req)
	})
	if err != nil {
		return nil, decision, err
	}
	return out.(*adapters.TextStream), decision, nil
}

// Embed routes an embeddings request.
func (s *Service) Embed(ctx context.Context, req *models.OpenAIEmbeddingsRequest, opts Options) (*adapters.EmbeddingsResult, Decision, error) {
	out, decision, err := s.route(ctx, models.CapabilityEmbeddings, opts, func(ctx context.Context, a adapters.Adapter) (adapters.Output, error) {
		emb, ok := a.(adapters.Embedder)
		if !ok || !adapters.Supports(a, models.CapabilityEmbeddings) {
			return nil, errAdapterMismatch
		}
		return emb.Embed(ctx, req)
	})
	if err != nil {
		return nil, decision, err
	}
	return out.(*adapters.EmbeddingsResult), decision, nil
}

// Synthesize routes a text-to-speech request.
func (s *Service) Synthesize(ctx context.Context, req *adapters.SpeechRequest, opts Options) (*adapters.SpeechResult, Decision, error) {
	out, decision, err := s.route(ctx, models.CapabilityTTS, opts, func(ctx context.Context, a adapters.Adapter) (adapters.Output, error) {
		syn, ok := a.(adapters.SpeechSynthesizer)
		if !ok || !adapters.Supports(a, models.CapabilityTTS) {
			return nil, errAdapterMismatch
		}
		return syn.Synthesize(ctx, req)
	})
	if err != nil {
		return nil, decision, err
	}
	return out.(*adapters.SpeechResult), decision, nil
}

// Transcribe routes a speech-to-text request.
func (s *Service) Transcribe(ctx context.Context, req *adapters.TranscriptionRequest, opts Options) (*adapters.TranscriptionResult, Decision, error) {
	out, decision, err := s.route(ctx, models.CapabilityTranscription, opts, func(ctx context.Context, a adapters.Adapter) (adapters.Output, error) {
		tr, ok := a.(adapters.Transcriber)
		if !ok || !adapters.Supports(a, models.CapabilityTranscription) {
			return nil, errAdapterMismatch
		}
		return tr.Transcribe(ctx, req)
	})
	if err != nil {
		return nil, decision, err
	}
	return out.(*adapters.TranscriptionResult), decision, nil
}

// GenerateImage routes an image generation request.
func (s *Service) GenerateImage(ctx context.Context, req *adapters.ImageRequest, opts Options) (*adapters.ImageResult, Decision, error) {
	out, decision, err := s.route(ctx, models.CapabilityImageGeneration, opts, func(ctx context.Context, a adapters.Adapter) (adapters.Output, error) {
		gen, ok := a.(adapters.ImageGenerator)
		if !ok || !adapters.Supports(a, models.CapabilityImageGeneration) {
			return nil, errAdapterMismatch
		}
		return gen.GenerateImage(ctx, req)
	})
	if err != nil {
		return nil, decision, err
	}
	return out.(*adapters.ImageResult), decision, nil
}

// Stats reports per-adapter routing counters.
type Stats struct {
	Routed    map[string]uint64 `json:"routed"`
	Failed    map[string]uint64 `json:"failed"`
	Exhausted uint64            `json:"exhausted"`
}

// Snapshot returns a copy of the routing counters.
func (s *Service) Snapshot() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	stats := Stats{
		Routed:    make(map[string]uint64, len(s.routed)),
		Failed:    make(map[string]uint64, len(s.failed)),
		Exhausted: s.exhausted,
	}
	for adapter, n := range s.routed {
		stats.Routed[adapter] = n
	}
	for adapter, n := range s.failed {
		stats.Failed[adapter] = n
	}
	return stats
}

func (s *Service) recordSuccess(adapter string) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.routed[adapter]++
}

func (s *Service) recordFailure(adapter string) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.failed[adapter]++
}

func (s *Service) recordExhausted() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.exhausted++
}
