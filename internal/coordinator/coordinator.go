// Package coordinator wires one session instance's ports and adapters
// together: the per-session store, the prompt queue, the connection hub,
// the sandbox event router, the lifecycle controller, and the outbound
// integrations (code host, identity, callbacks, repo secrets). It is the
// only package that imports every other internal package, matching the
// reference's internal/sessions.Manager role as the thing cmd/ constructs
// and starts.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentforge/coordinator/internal/callback"
	"github.com/agentforge/coordinator/internal/codehost"
	"github.com/agentforge/coordinator/internal/config"
	"github.com/agentforge/coordinator/internal/eventrouter"
	"github.com/agentforge/coordinator/internal/httpapi"
	"github.com/agentforge/coordinator/internal/hub"
	"github.com/agentforge/coordinator/internal/identity"
	"github.com/agentforge/coordinator/internal/lifecycle"
	"github.com/agentforge/coordinator/internal/provider"
	"github.com/agentforge/coordinator/internal/queue"
	"github.com/agentforge/coordinator/internal/reposecrets"
	"github.com/agentforge/coordinator/internal/store"
)

// Coordinator owns every long-lived piece of one session instance and the
// two background tickers that drive timer-based lifecycle transitions
// (heartbeat staleness, inactivity shutdown) — spec.md §4.4.5/§4.4.6's
// "alarm scheduling" suspension points.
type Coordinator struct {
	cfg   *config.Config
	store *store.Store

	hub        *hub.Hub
	queue      *queue.Driver
	router     *eventrouter.Router
	controller *lifecycle.Controller
	sender     *callback.Sender

	App *httpapi.App

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Coordinator for a single session instance. secretsDB may
// be nil when the deployment has no repo secrets configured for this repo
// yet; repoSecrets are then simply not materialized into the sandbox
// environment.
func New(cfg *config.Config, st *store.Store, secretsDB *reposecrets.DB, codeHostPort codehost.Port, identityPort identity.Port, sealer httpapi.Sealer) (*Coordinator, error) {
	prov, err := provider.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("coordinator: selecting provider: %w", err)
	}

	extraEnv, err := loadRepoSecrets(secretsDB, st)
	if err != nil {
		return nil, fmt.Errorf("coordinator: loading repo secrets: %w", err)
	}

	sessionID, owner, name := sessionLabels(st)

	c := &Coordinator{cfg: cfg, store: st, stopCh: make(chan struct{})}

	lifecycleCfg := lifecycle.Config{
		CircuitBreakerThreshold: cfg.CircuitBreakerThreshold,
		CircuitBreakerWindow:    cfg.CircuitBreakerWindow,
		SpawnCooldown:           cfg.SpawnCooldown,
		SpawnReadyWait:          cfg.SpawnReadyWait,
		InactivityTimeout:       cfg.InactivityTimeout,
		InactivityExtension:     cfg.InactivityExtension,
		InactivityMinCheck:      cfg.InactivityMinCheck,
		HeartbeatInterval:       cfg.HeartbeatInterval,
		HeartbeatStaleAfter:     cfg.HeartbeatStaleAfter,
	}

	realHub := hub.New(st, c, cfg.AuthDeadline)

	controller := lifecycle.NewController(&lifecycleStoreAdapter{st}, prov, realHub, realHub, lifecycleCfg,
		sessionID, owner, name, cfg.ControlPlaneURL, cfg.DefaultModel, extraEnv)

	resolver := &modelResolver{store: st, defaultModel: cfg.DefaultModel}
	driver := queue.New(&queueStoreAdapter{st}, realHub, controller, resolver)

	var sender *callback.Sender
	if cfg.CallbackSecret != "" {
		sender = callback.NewSender(cfg.CallbackSecret)
	}

	router := eventrouter.New(&eventrouterStoreAdapter{store: st, sender: sender, callbackURL: cfg.CallbackURL}, driver, realHub)

	c.hub = realHub
	c.queue = driver
	c.router = router
	c.controller = controller
	c.sender = sender

	c.App = &httpapi.App{
		Store:    st,
		Queue:    driver,
		Hub:      realHub,
		Events:   router,
		CodeHost: codeHostPort,
		Identity: identityPort,
		Sealer:   sealer,
		Config:   cfg,
	}

	return c, nil
}

// loadRepoSecrets decrypts every secret stored for this session's repo, if
// any exists yet (GetSession/Upsert may not have run if this is the first
// launch before /internal/init completes).
func loadRepoSecrets(secretsDB *reposecrets.DB, st *store.Store) (map[string]string, error) {
	if secretsDB == nil {
		return nil, nil
	}
	sess, err := st.GetSession()
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return secretsDB.DecryptAll(repoSecretsID(sess))
}

// repoSecretsID derives the repo_secrets keyspace id from a session's repo
// coordinates. Resolves the Open Question left by spec.md's Session entity
// never naming a source for reposecrets' repoID: owner/name is stable,
// globally unique per code host, and available the moment a session is
// initialized (see DESIGN.md).
func repoSecretsID(sess *store.Session) string {
	return sess.RepoOwner + "/" + sess.RepoName
}

// sessionLabels resolves the session id and pod-naming labels the lifecycle
// controller embeds in its expected sandbox id. Before /internal/init has
// ever run for this instance, no session row exists yet; the controller
// still constructs correctly with blank labels — CreateSession always
// arrives before the first prompt can be enqueued (there is no participant
// to author one), so by the time EnsureSandbox ever spawns anything these
// fall back only on a brand-new, not-yet-initialized instance.
func sessionLabels(st *store.Store) (sessionID, owner, name string) {
	sess, err := st.GetSession()
	if err != nil {
		return "", "", ""
	}
	return sess.ID, sess.RepoOwner, sess.SessionName
}

// Start launches the background heartbeat and inactivity tickers (spec.md
// §4.4.5, §4.4.6), mirroring the reference's Manager.Start/cleanupLoop
// ticker-plus-stop-channel shape.
func (c *Coordinator) Start() {
	c.wg.Add(2)
	go c.heartbeatLoop()
	go c.inactivityLoop()
	slog.Info("coordinator started", slog.Duration("heartbeat_interval", c.cfg.HeartbeatInterval), slog.Duration("inactivity_min_check", c.cfg.InactivityMinCheck))
}

// Stop halts both background tickers and waits for them to exit.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Coordinator) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.controller.CheckHeartbeat(context.Background()); err != nil {
				slog.Error("heartbeat check failed", slog.Any("error", err))
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *Coordinator) inactivityLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.InactivityMinCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			count := c.hub.ClientCount()
			if _, err := c.controller.CheckInactivity(context.Background(), count); err != nil {
				slog.Error("inactivity check failed", slog.Any("error", err))
			}
		case <-c.stopCh:
			return
		}
	}
}
