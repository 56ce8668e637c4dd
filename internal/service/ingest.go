package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ellen/internal/domain"
	"ellen/internal/logging"
	"ellen/internal/metrics"
	"ellen/internal/repository"
	"ellen/internal/retention"
)

var (
	// ErrInvalidPayload means the notification is not a usable Gorilla event
	ErrInvalidPayload = errors.New("invalid gorilla payload")

	// ErrStorageUnavailable means the backing store could not be recreated
	ErrStorageUnavailable = errors.New("storage missing")

	// ErrProcessing means the store rejected the write
	ErrProcessing = errors.New("failed to process event")
)

// Settings are the ingestion options not owned by a store
type Settings struct {
	Store         repository.Options
	PruneInterval time.Duration
}

// Ingester serializes all access to the active backing store
type Ingester struct {
	mu       sync.Mutex
	store    repository.Store
	settings Settings
	cadence  retention.Cadence
	eventBus *EventBus
}

// NewIngester creates an ingester over store. Call Start before Receive.
func NewIngester(store repository.Store, settings Settings, eventBus *EventBus) *Ingester {
	return &Ingester{
		store:    store,
		settings: settings,
		cadence:  retention.Cadence{Interval: settings.PruneInterval},
		eventBus: eventBus,
	}
}

// Start configures and ensures the store, then runs a first prune
func (i *Ingester) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.store.Configure(i.settings.Store)
	if _, err := i.ensureLocked(ctx); err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", i.store.Kind(), err)
	}
	if _, err := i.pruneLocked(ctx); err != nil {
		return err
	}
	return nil
}

// Store returns the active backing store
func (i *Ingester) Store() repository.Store {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.store
}

// Settings returns the active settings
func (i *Ingester) Settings() Settings {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.settings
}

// Receive decodes, normalizes and stores one raw notification
func (i *Ingester) Receive(ctx context.Context, raw []byte) (*domain.Event, error) {
	started := time.Now()

	payload, err := Decode(raw)
	if err != nil {
		metrics.RecordFailure(metrics.FailureInvalidPayload)
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	opts := i.settings.Store
	normalizer := Normalizer{
		TimeZone:         opts.TimeZone,
		StoreImage:       opts.StoreImage,
		ImageKind:        opts.ImageKind,
		StoreFullPayload: opts.StoreFullPayload,
	}
	event, candidates, err := normalizer.Normalize(ctx, payload, raw)
	if err != nil {
		metrics.RecordFailure(metrics.FailureInvalidPayload)
		return nil, err
	}

	log := logging.Ctx(ctx)

	if i.cadence.Due(i.now()) {
		// A failed prune must not cost the event
		if _, err := i.pruneLocked(ctx); err != nil {
			log.Error().Err(err).Msg("retention pass failed")
		}
	}

	if err := i.write(ctx, event, candidates); err != nil {
		return nil, err
	}

	metrics.CandidatesSeen.Add(float64(len(candidates)))
	metrics.RecordStored(string(i.store.Kind()), time.Since(started))

	log.Info().
		Str("event_id", event.ID).
		Str("event_type", event.EventType).
		Int("candidates", len(candidates)).
		Bool("image", event.Image != nil).
		Msg("stored event")

	i.eventBus.Publish(Event{Type: EventStored, Payload: storedPayload(event, i.store.Kind())})
	return event, nil
}

// write re-ensures the store and appends. A store that vanished between
// ensure and append is ensured once more and the write retried.
func (i *Ingester) write(ctx context.Context, event *domain.Event, candidates []domain.Candidate) error {
	for attempt := 0; ; attempt++ {
		if _, err := i.ensureLocked(ctx); err != nil {
			metrics.RecordFailure(metrics.FailureStorageMissing)
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}

		err := i.store.UpsertCandidates(ctx, candidates)
		if err == nil {
			err = i.store.AppendEvent(ctx, event)
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, repository.ErrStoreMissing) && attempt == 0:
			logging.Ctx(ctx).Warn().Err(err).Msg("store vanished during write, retrying")
			continue
		case errors.Is(err, repository.ErrDuplicateEvent):
			metrics.RecordFailure(metrics.FailureDuplicate)
		default:
			metrics.RecordFailure(metrics.FailureProcessing)
		}
		return fmt.Errorf("%w: %w", ErrProcessing, err)
	}
}

// Ensure re-runs store creation
func (i *Ingester) Ensure(ctx context.Context) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ensureLocked(ctx)
}

func (i *Ingester) ensureLocked(ctx context.Context) (bool, error) {
	created, err := i.store.Ensure(ctx)
	if err != nil {
		return false, err
	}
	metrics.RecordEnsure(string(i.store.Kind()), created)
	if created {
		i.eventBus.Publish(Event{Type: EventStoreCreated, Payload: map[string]string{
			"store": string(i.store.Kind()),
			"path":  i.store.Path(),
		}})
	}
	return created, nil
}

// Prune runs the retention policy now, regardless of cadence
func (i *Ingester) Prune(ctx context.Context) (repository.PruneResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pruneLocked(ctx)
}

func (i *Ingester) pruneLocked(ctx context.Context) (repository.PruneResult, error) {
	now := i.now()
	result, err := i.store.Prune(ctx)
	i.cadence.Mark(now)
	if err != nil {
		return result, fmt.Errorf("failed to prune %s store: %w", i.store.Kind(), err)
	}

	kind := string(i.store.Kind())
	metrics.RecordPrune(kind, result.Removed, result.RolledOver(), now)

	if result.Removed > 0 {
		i.eventBus.Publish(Event{Type: EventStorePruned, Payload: map[string]interface{}{
			"store":   kind,
			"removed": result.Removed,
		}})
	}
	if result.RolledOver() {
		logging.Info().Str("rollover", result.RolloverFile).Msg("store rolled over")
		i.eventBus.Publish(Event{Type: EventStoreRolled, Payload: map[string]string{
			"store":         kind,
			"rollover_file": result.RolloverFile,
		}})
	}
	return result, nil
}

// Reconfigure applies new settings to the active store. The change takes
// effect on the next call; the store file is re-ensured then.
func (i *Ingester) Reconfigure(settings Settings) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.settings = settings
	i.cadence.Interval = settings.PruneInterval
	i.store.Configure(settings.Store)
	logging.Info().Str("store", string(i.store.Kind())).Msg("applied new configuration")
	i.eventBus.Publish(Event{Type: EventConfigReloaded})
}

// SwitchStore makes next the active store. It is configured and ensured
// before the previous store is closed; on failure the previous store stays.
func (i *Ingester) SwitchStore(ctx context.Context, next repository.Store) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	next.Configure(i.settings.Store)
	if _, err := next.Ensure(ctx); err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", next.Kind(), err)
	}

	prev := i.store
	i.store = next
	if err := prev.Close(); err != nil {
		logging.Warn().Err(err).Str("store", string(prev.Kind())).Msg("failed to close previous store")
	}

	logging.Info().Str("from", string(prev.Kind())).Str("to", string(next.Kind())).Msg("switched backing store")
	i.eventBus.Publish(Event{Type: EventStoreSwitched, Payload: map[string]string{
		"from": string(prev.Kind()),
		"to":   string(next.Kind()),
	}})
	return nil
}

// Close releases the active store
func (i *Ingester) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.store.Close()
}

func (i *Ingester) now() time.Time {
	return i.settings.Store.Now()
}

func storedPayload(e *domain.Event, kind repository.Kind) map[string]interface{} {
	p := map[string]interface{}{
		"id":         e.ID,
		"event_type": e.EventType,
		"timestamp":  e.Timestamp,
		"store":      string(kind),
	}
	if e.Candidate != nil {
		p["person_id"] = e.Candidate.ID
		if e.Candidate.DisplayName != "" {
			p["display_name"] = e.Candidate.DisplayName
		}
		if e.Candidate.SimilarityScore != nil {
			p["confidence"] = *e.Candidate.SimilarityScore
		}
	}
	return p
}
