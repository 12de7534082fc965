// Package syncer orchestrates collection-log synchronization: it owns the
// debounce countdown, the backoff gate, the full-versus-diff upload
// decision and the merge of confirmed uploads into the local mirror.
//
// All engine state is mutated from a single serial loop. Game signals and
// network completions are posted onto the loop's mailbox; network and
// cache I/O runs on a bounded worker pool and never blocks the loop.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joemckie/collogsync/internal/backoff"
	"github.com/joemckie/collogsync/internal/catalog"
	"github.com/joemckie/collogsync/internal/player"
	"github.com/joemckie/collogsync/internal/remote"
	"github.com/joemckie/collogsync/internal/tracker"
	"go.uber.org/zap"
)

var (
	errMissingRemote = errors.New("remote client is required")
	errMissingStore  = errors.New("cache store is required")
	// ErrCatalogNotReady is returned by lookups before the manifest loads.
	ErrCatalogNotReady = errors.New("syncer: catalog not ready")
	// ErrUnknownCategory is returned for lookups against an undefined category.
	ErrUnknownCategory = errors.New("syncer: unknown category")
)

// RemoteClient is the slice of the remote API the coordinator needs.
type RemoteClient interface {
	Upload(ctx context.Context, request remote.UploadRequest) error
	FetchManifest(ctx context.Context) (*catalog.Manifest, error)
	FetchPlayerInfo(ctx context.Context, playerKey string) (remote.PlayerInfo, error)
	FetchPlayerLog(ctx context.Context, playerKey string) (remote.PlayerLog, error)
}

// CacheStore is the slice of the local cache the coordinator needs.
type CacheStore interface {
	UpsertMirror(ctx context.Context, playerKey string, items []tracker.ObtainedItem) error
	MirrorItems(ctx context.Context, playerKey string) ([]tracker.ObtainedItem, error)
	HasMirror(ctx context.Context, playerKey string) (bool, error)
	UpsertCached(ctx context.Context, playerKey string, categoryID catalog.CategoryID, items []tracker.ObtainedItem) error
	ItemsByCategory(ctx context.Context, playerKey string, itemIDs []catalog.ItemID) ([]tracker.ObtainedItem, error)
	IsFresh(ctx context.Context, playerKey string, remoteLastChanged time.Time) (bool, error)
	Prune(ctx context.Context, exemptPlayer string, maxPlayers int) (int, error)
	ClearCached(ctx context.Context) error
}

// PlayerRegistry records seen player profiles.
type PlayerRegistry interface {
	Touch(profile player.Profile) error
}

// SessionState enumerates session transition events from the game client.
type SessionState string

const (
	SessionLogin  SessionState = "login"
	SessionLogout SessionState = "logout"
	SessionHop    SessionState = "hop"
)

// SessionEvent is a session-state transition signal.
type SessionEvent struct {
	State       SessionState
	Username    string
	AccountType string
	AccountID   int64
}

type coordinatorState int

const (
	stateIdle coordinatorState = iota
	stateArmed
	stateSubmitting
	stateRetrying
)

// CoordinatorConfig describes the dependencies of a Coordinator.
type CoordinatorConfig struct {
	Remote           RemoteClient
	Store            CacheStore
	Registry         PlayerRegistry
	Events           *Dispatcher
	Clock            func() time.Time
	Logger           *zap.Logger
	DebounceTicks    int
	MaxCachedPlayers int
	WorkerLimit      int
}

type session struct {
	id      string
	profile player.Profile
}

// Coordinator runs the synchronization engine for one local player.
type Coordinator struct {
	remote   RemoteClient
	store    CacheStore
	registry PlayerRegistry
	events   *Dispatcher
	clock    func() time.Time
	logger   *zap.Logger

	debounceTicks    int64
	maxCachedPlayers int

	aggregator *tracker.Aggregator
	strategy   *backoff.Strategy
	catalog    *catalog.Catalog

	session       *session
	state         coordinatorState
	currentTick   int64
	scheduledTick *int64
	forceFull     bool

	mailbox chan func()
	workers chan struct{}

	// shared guards the few fields the request-scoped lookup path reads
	// while the serial loop writes: the built catalog and the local
	// player key. Everything else stays single-writer, lock-free.
	shared struct {
		sync.RWMutex
		catalog  *catalog.Catalog
		localKey string
	}
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := cfg.Events
	if events == nil {
		events = NewDispatcher()
	}
	debounce := cfg.DebounceTicks
	if debounce <= 0 {
		debounce = 30
	}
	maxPlayers := cfg.MaxCachedPlayers
	if maxPlayers <= 0 {
		maxPlayers = 50
	}
	workerLimit := cfg.WorkerLimit
	if workerLimit <= 0 {
		workerLimit = 4
	}

	built := catalog.Build(nil)
	coordinator := &Coordinator{
		remote:           cfg.Remote,
		store:            cfg.Store,
		registry:         cfg.Registry,
		events:           events,
		clock:            clock,
		logger:           logger,
		debounceTicks:    int64(debounce),
		maxCachedPlayers: maxPlayers,
		aggregator:       tracker.NewAggregator(tracker.AggregatorConfig{Catalog: built, Clock: clock, Logger: logger}),
		strategy:         backoff.New(),
		catalog:          built,
		state:            stateIdle,
		mailbox:          make(chan func(), 256),
		workers:          make(chan struct{}, workerLimit),
	}
	coordinator.shared.catalog = built
	return coordinator, nil
}

func (c *Coordinator) catalogRef() *catalog.Catalog {
	c.shared.RLock()
	defer c.shared.RUnlock()
	return c.shared.catalog
}

func (c *Coordinator) localPlayerKey() string {
	c.shared.RLock()
	defer c.shared.RUnlock()
	return c.shared.localKey
}

// Events exposes the lifecycle event dispatcher.
func (c *Coordinator) Events() *Dispatcher {
	return c.events
}

// Run executes the serial loop until the context is done. It kicks off
// the manifest bootstrap before consuming the mailbox.
func (c *Coordinator) Run(ctx context.Context) {
	c.bootstrapCatalog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-c.mailbox:
			task()
		}
	}
}

func (c *Coordinator) post(task func()) {
	c.mailbox <- task
}

func (c *Coordinator) runAsync(ctx context.Context, task func()) {
	select {
	case c.workers <- struct{}{}:
	case <-ctx.Done():
		return
	}
	go func() {
		defer func() { <-c.workers }()
		task()
	}()
}

func (c *Coordinator) bootstrapCatalog(ctx context.Context) {
	c.runAsync(ctx, func() {
		manifest, err := c.remote.FetchManifest(ctx)
		if err != nil {
			// Not ready: every dependent operation stays a no-op.
			c.logger.Warn("manifest fetch failed, catalog not ready", zap.Error(err))
			return
		}
		built := catalog.Build(manifest)
		c.post(func() {
			c.catalog = built
			c.shared.Lock()
			c.shared.catalog = built
			c.shared.Unlock()
			c.aggregator.SetCatalog(built)
			c.logger.Info("catalog built",
				zap.Int("items", built.Size()),
				zap.Int("categories", built.Categories()))
		})
	})
}

// OnSession posts a session transition onto the serial loop.
func (c *Coordinator) OnSession(ctx context.Context, event SessionEvent) {
	c.post(func() { c.handleSession(ctx, event) })
}

// OnAnnouncement posts a chat announcement onto the serial loop.
func (c *Coordinator) OnAnnouncement(message string) {
	c.post(func() { c.aggregator.ObserveAnnouncement(message) })
}

// OnTick posts one game-tick heartbeat onto the serial loop.
func (c *Coordinator) OnTick(ctx context.Context) {
	c.post(func() {
		c.currentTick++
		c.heartbeat(ctx)
	})
}

// OnInventory posts an inventory snapshot onto the serial loop.
func (c *Coordinator) OnInventory(stacks []tracker.ItemStack) {
	c.post(func() { c.noteResolved(c.aggregator.ObserveInventory(stacks)) })
}

// OnLoot posts a loot-grant batch onto the serial loop.
func (c *Coordinator) OnLoot(grants []tracker.ItemStack) {
	c.post(func() { c.noteResolved(c.aggregator.ObserveLoot(grants)) })
}

// RequestResync posts a user-triggered full resync onto the serial loop.
func (c *Coordinator) RequestResync(ctx context.Context) {
	c.post(func() { c.handleResync(ctx) })
}

func (c *Coordinator) handleSession(ctx context.Context, event SessionEvent) {
	switch event.State {
	case SessionLogin:
		profile, err := player.NewProfile(event.Username, player.ParseAccountType(event.AccountType), event.AccountID)
		if err != nil {
			c.logger.Warn("login with unusable player name", zap.String("username", event.Username), zap.Error(err))
			return
		}
		// A login implicitly ends any previous episode, including state
		// left behind by an outcome that landed after teardown.
		c.resetEpisode()
		sessionID := newSessionID()
		c.session = &session{id: sessionID, profile: profile}
		c.shared.Lock()
		c.shared.localKey = profile.Key
		c.shared.Unlock()
		c.logger.Info("session started",
			zap.String("session_id", sessionID),
			zap.String("player", profile.Key),
			zap.String("account_type", string(profile.AccountType)))
		c.runAsync(ctx, func() {
			if c.registry != nil {
				if err := c.registry.Touch(profile); err != nil {
					c.logger.Warn("player registry update failed", zap.Error(err))
				}
			}
			if _, err := c.store.Prune(ctx, profile.Key, c.maxCachedPlayers); err != nil {
				c.logger.Warn("query cache prune failed", zap.Error(err))
			}
		})
	case SessionLogout, SessionHop:
		// Teardown clears all in-memory pending state synchronously,
		// regardless of any request still in flight.
		c.resetEpisode()
		if c.session != nil {
			c.logger.Info("session ended", zap.String("session_id", c.session.id))
		}
		c.session = nil
		c.shared.Lock()
		c.shared.localKey = ""
		c.shared.Unlock()
	}
}

// noteResolved re-arms the debounce countdown after any resolution. A
// burst of near-simultaneous resolutions collapses into one submission
// scheduled at last-resolution-tick + K. Once a submission episode has
// started, late resolutions join the pending set without touching the
// countdown; the backoff gate alone paces the episode.
func (c *Coordinator) noteResolved(resolved []tracker.ObtainedItem) {
	if len(resolved) == 0 {
		return
	}
	if c.state == stateIdle || c.state == stateArmed {
		scheduled := c.currentTick + c.debounceTicks
		c.scheduledTick = &scheduled
		c.state = stateArmed
	}

	ids := make([]int, 0, len(resolved))
	for _, item := range resolved {
		ids = append(ids, item.ID.Int())
	}
	c.publish(Event{Type: EventItemResolved, ItemIDs: ids})
}

func (c *Coordinator) handleResync(ctx context.Context) {
	c.forceFull = true
	if c.state == stateIdle || c.state == stateArmed {
		scheduled := c.currentTick
		c.scheduledTick = &scheduled
		c.state = stateArmed
	}
	c.runAsync(ctx, func() {
		if err := c.store.ClearCached(ctx); err != nil {
			c.logger.Warn("query cache clear failed", zap.Error(err))
		}
	})
	c.logger.Info("full resync requested")
}

// heartbeat runs once per game tick on the serial loop.
func (c *Coordinator) heartbeat(ctx context.Context) {
	if c.state == stateSubmitting {
		return
	}
	if c.aggregator.PendingCount() == 0 && !c.forceFull {
		return
	}
	if c.state == stateArmed {
		if c.scheduledTick == nil || c.currentTick < *c.scheduledTick {
			return
		}
		c.scheduledTick = nil
		c.state = stateRetrying
	}
	if c.state != stateRetrying {
		return
	}

	// Identity failures abort the attempt without consuming a backoff cycle.
	if c.session == nil {
		c.logger.Debug("submission skipped, no player identity")
		return
	}

	if c.strategy.IsRequestLimitReached() {
		c.abortEpisode()
		return
	}
	if c.strategy.ShouldSkipRequest() {
		c.logger.Debug("submission gated by backoff", zap.Int("cycle", c.strategy.CycleCount()))
		c.publish(Event{Type: EventUploadSkipped, Player: c.session.profile.Key})
		return
	}

	c.dispatchSubmission(ctx)
}

func (c *Coordinator) abortEpisode() {
	profileKey := ""
	if c.session != nil {
		profileKey = c.session.profile.Key
	}
	forced := c.forceFull
	dropped := c.aggregator.PendingCount()
	c.aggregator.ClearPending()
	c.forceFull = false
	c.state = stateIdle
	c.logger.Warn("submission retries exhausted, dropping pending items",
		zap.Int("dropped", dropped),
		zap.String("player", profileKey))
	// Background aborts stay silent by design; subscribers may choose to
	// surface them. A user-requested resync announces its failure.
	c.publish(Event{Type: EventSyncAborted, Player: profileKey})
	if forced {
		c.publish(Event{Type: EventResyncFailed, Player: profileKey})
	}
}

// resetEpisode returns the engine to a clean slate between sessions. A
// submission still in flight keeps its state until the outcome drains;
// handleUploadOutcome discards outcomes whose session has ended.
func (c *Coordinator) resetEpisode() {
	c.aggregator.Reset()
	c.scheduledTick = nil
	c.forceFull = false
	c.strategy.Reset()
	if c.state != stateSubmitting {
		c.state = stateIdle
	}
}

func (c *Coordinator) dispatchSubmission(ctx context.Context) {
	profile := c.session.profile
	sessionID := c.session.id
	pending := c.aggregator.Pending()
	forceFull := c.forceFull
	totalAvailable := c.catalog.Size()
	attempt := c.strategy.AttemptCount()

	c.state = stateSubmitting
	c.strategy.MarkSubmitting(true)
	c.logger.Info("dispatching submission",
		zap.String("session_id", sessionID),
		zap.String("player", profile.Key),
		zap.Int("pending", len(pending)),
		zap.Bool("full_upload", forceFull),
		zap.Int("attempt", attempt))

	c.runAsync(ctx, func() {
		uploaded, err := c.performUpload(ctx, profile, pending, forceFull, totalAvailable)
		c.post(func() { c.handleUploadOutcome(sessionID, profile, uploaded, err) })
	})
}

// performUpload runs on a worker. It decides full versus diff upload,
// submits, and merges confirmed items into the authoritative mirror.
// A crash between upload success and mirror merge leaves the mirror one
// submission behind; the next diff simply re-sends the unmerged items.
func (c *Coordinator) performUpload(ctx context.Context, profile player.Profile, pending []tracker.ObtainedItem, forceFull bool, totalAvailable int) ([]tracker.ObtainedItem, error) {
	full := forceFull
	if !full {
		hasMirror, err := c.store.HasMirror(ctx, profile.Key)
		if err != nil {
			// Persistence trouble degrades to a full upload rather than
			// guessing at a diff against unknown state.
			c.logger.Warn("mirror existence check failed", zap.Error(err))
			full = true
		} else if !hasMirror {
			full = true
		}
	}

	toUpload := pending
	mirror, mirrorErr := c.store.MirrorItems(ctx, profile.Key)
	if mirrorErr != nil {
		c.logger.Warn("mirror read failed, uploading pending set only", zap.Error(mirrorErr))
	} else if full {
		// A forced or first-time upload carries the entire obtained set:
		// the confirmed mirror overlaid with the fresh pending records.
		toUpload = mergeByItem(mirror, pending)
	} else {
		toUpload = Diff(pending, mirror)
	}

	if len(toUpload) == 0 && !forceFull {
		return nil, nil
	}

	items := make([]remote.UploadItem, 0, len(toUpload))
	for _, item := range toUpload {
		items = append(items, remote.UploadItem{ID: item.ID.Int(), Count: item.Count})
	}

	err := c.remote.Upload(ctx, remote.UploadRequest{
		Username:       profile.Key,
		ProfileVariant: string(profile.AccountType),
		AccountID:      profile.AccountID,
		Items:          items,
		TotalAvailable: totalAvailable,
	})
	if err != nil {
		return nil, err
	}

	if err := c.store.UpsertMirror(ctx, profile.Key, toUpload); err != nil {
		// Best-effort merge; the accepted bounded inconsistency.
		c.logger.Warn("mirror merge failed after upload", zap.Error(err))
	}
	return toUpload, nil
}

func (c *Coordinator) handleUploadOutcome(sessionID string, profile player.Profile, uploaded []tracker.ObtainedItem, err error) {
	c.strategy.MarkSubmitting(false)

	// The session that dispatched this request may have ended while it
	// was in flight. Its outcome must not bleed into whatever session is
	// active now: teardown already dropped the episode's state.
	if c.session == nil || c.session.id != sessionID {
		if c.state == stateSubmitting {
			c.state = stateIdle
		}
		c.logger.Debug("upload outcome for ended session discarded",
			zap.String("session_id", sessionID),
			zap.String("player", profile.Key))
		return
	}

	if err != nil {
		// Pending set stays intact; the backoff gate paces the retry.
		c.state = stateRetrying
		c.logUploadFailure(profile, err)
		return
	}

	c.aggregator.ClearPending()
	c.strategy.OnSuccess()
	c.forceFull = false
	c.scheduledTick = nil
	c.state = stateIdle

	ids := make([]int, 0, len(uploaded))
	for _, item := range uploaded {
		ids = append(ids, item.ID.Int())
	}
	c.logger.Info("upload confirmed",
		zap.String("player", profile.Key),
		zap.Int("items", len(uploaded)))
	c.publish(Event{Type: EventUploadDone, Player: profile.Key, ItemIDs: ids})
}

func (c *Coordinator) logUploadFailure(profile player.Profile, err error) {
	var rejection *remote.RequestError
	switch {
	case errors.As(err, &rejection):
		c.logger.Warn("upload rejected by remote service",
			zap.String("player", profile.Key),
			zap.Int("code", rejection.Code),
			zap.String("message", rejection.Message))
	case errors.Is(err, remote.ErrMalformedResponse):
		c.logger.Warn("upload response unparseable", zap.String("player", profile.Key), zap.Error(err))
	default:
		c.logger.Debug("upload failed, will retry under backoff",
			zap.String("player", profile.Key),
			zap.Error(err))
	}
}

func (c *Coordinator) publish(event Event) {
	event.Timestamp = c.clock().UTC()
	c.events.Publish(event)
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Lookup answers a category lookup for an arbitrary player on behalf of
// UI/chat collaborators. Fresh cached rows are served locally; otherwise
// the full log is fetched, cached under the category, and filtered.
func (c *Coordinator) Lookup(ctx context.Context, categoryID catalog.CategoryID, playerName string) ([]tracker.ObtainedItem, error) {
	built := c.catalogRef()
	if !built.Ready() {
		return nil, ErrCatalogNotReady
	}
	category, ok := built.Category(categoryID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, categoryID)
	}
	playerKey := player.Normalize(playerName)
	if playerKey == "" {
		return nil, player.ErrInvalidUsername
	}

	if fresh, err := c.checkFreshness(ctx, playerKey); err == nil && fresh {
		cached, err := c.store.ItemsByCategory(ctx, playerKey, category.Items)
		if err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	log, err := c.remote.FetchPlayerLog(ctx, playerKey)
	if err != nil {
		// Storage is best-effort, not authoritative: serve stale rows
		// when the remote end is down.
		cached, cacheErr := c.store.ItemsByCategory(ctx, playerKey, category.Items)
		if cacheErr == nil && len(cached) > 0 {
			return cached, nil
		}
		return nil, err
	}

	obtained := make([]tracker.ObtainedItem, 0, len(log.Items))
	for _, item := range log.Items {
		itemID, err := catalog.NewItemID(item.ID)
		if err != nil {
			continue
		}
		canonical, tracked := built.Canonical(itemID)
		if !tracked || !category.Contains(canonical) {
			continue
		}
		record := tracker.ObtainedItem{ID: canonical, Name: item.Name, Count: item.Count}
		if item.DateSeconds > 0 {
			stamp := time.Unix(item.DateSeconds, 0).UTC()
			record.ObtainedAt = &stamp
		}
		obtained = append(obtained, record)
	}

	if err := c.store.UpsertCached(ctx, playerKey, categoryID, obtained); err != nil {
		c.logger.Warn("query cache write failed", zap.Error(err))
	}
	if c.registry != nil {
		profile, err := player.NewProfile(log.Player, player.AccountTypeNormal, 0)
		if err == nil {
			if err := c.registry.Touch(profile); err != nil {
				c.logger.Warn("player registry update failed", zap.Error(err))
			}
		}
	}
	if _, err := c.store.Prune(ctx, c.localPlayerKey(), c.maxCachedPlayers); err != nil {
		c.logger.Warn("query cache prune failed", zap.Error(err))
	}

	return obtained, nil
}

// Freshness reports whether the local cache for a player is at least as
// recent as the remote service's last-changed stamp.
func (c *Coordinator) Freshness(ctx context.Context, playerName string) (bool, error) {
	playerKey := player.Normalize(playerName)
	if playerKey == "" {
		return false, player.ErrInvalidUsername
	}
	return c.checkFreshness(ctx, playerKey)
}

func (c *Coordinator) checkFreshness(ctx context.Context, playerKey string) (bool, error) {
	info, err := c.remote.FetchPlayerInfo(ctx, playerKey)
	if err != nil {
		return false, err
	}
	remoteChanged := time.Unix(info.LastChangedSeconds, 0).UTC()
	return c.store.IsFresh(ctx, playerKey, remoteChanged)
}
