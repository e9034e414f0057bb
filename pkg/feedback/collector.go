// Package feedback implements the continuous-learning loop: confirmed
// resolutions become golden paths, deduplicated by content fingerprint,
// searchable through the vector store, and pruned when their observed
// success rate decays.
package feedback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/config"
	"github.com/supportstack/orchestrad/pkg/events"
	"github.com/supportstack/orchestrad/pkg/models"
	"github.com/supportstack/orchestrad/pkg/store"
)

// fingerprintQueryLimit caps the query prefix that feeds the hash, so
// minor trailing differences in long tickets dedup to the same path.
const fingerprintQueryLimit = 200

// Fingerprint derives the stable 16-hex dedup key for a resolution.
func Fingerprint(blueprint, category, query string) string {
	q := strings.TrimSpace(strings.ToLower(query))
	if len(q) > fingerprintQueryLimit {
		q = q[:fingerprintQueryLimit]
	}
	sum := sha256.Sum256([]byte(blueprint + ":" + category + ":" + q))
	return hex.EncodeToString(sum[:])[:16]
}

// Collector maintains the golden-path catalog and mirrors retained
// paths into the vector store. It implements hitl.OutcomeRecorder so
// reviewer decisions feed the loop without extra wiring.
type Collector struct {
	cfg     *config.FeedbackConfig
	vectors store.VectorStore
	bus     *events.Bus
	durable store.GoldenPathStore

	mu      sync.Mutex
	catalog map[string]*models.GoldenPath
	pruned  map[string]bool
	locks   map[string]*sync.Mutex

	now func() time.Time
}

// NewCollector creates the learning-loop collector. The bus is optional.
func NewCollector(cfg *config.FeedbackConfig, vectors store.VectorStore, bus *events.Bus) *Collector {
	if cfg == nil {
		cfg = config.DefaultFeedbackConfig()
	}
	return &Collector{
		cfg:     cfg,
		vectors: vectors,
		bus:     bus,
		catalog: make(map[string]*models.GoldenPath),
		pruned:  make(map[string]bool),
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// SetStore attaches durable catalog persistence. Writes become
// best-effort write-through; failures are logged, the in-memory
// catalog stays authoritative.
func (c *Collector) SetStore(gs store.GoldenPathStore) { c.durable = gs }

// Load restores the persisted catalog, typically at startup. Collisions
// follow the Import supersede rule.
func (c *Collector) Load(ctx context.Context) (int, error) {
	if c.durable == nil {
		return 0, nil
	}
	paths, err := c.durable.ListGoldenPaths(ctx, "")
	if err != nil {
		return 0, err
	}
	return c.Import(ctx, paths), nil
}

// lockFor returns the per-fingerprint mutex, creating it on first use.
// Serializing per fingerprint keeps catalog updates and vector-store
// writes for one path atomic without a global write lock.
func (c *Collector) lockFor(fp string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[fp]
	if !ok {
		l = &sync.Mutex{}
		c.locks[fp] = l
	}
	return l
}

func (c *Collector) get(fp string) *models.GoldenPath {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog[fp]
}

func (c *Collector) put(g *models.GoldenPath) {
	c.mu.Lock()
	c.catalog[g.Fingerprint] = g
	c.mu.Unlock()
	if c.durable != nil {
		if err := c.durable.SaveGoldenPath(context.Background(), g); err != nil {
			slog.Warn("Failed to persist golden path",
				"fingerprint", g.Fingerprint, "error", err)
		}
	}
}

// RecordSuccess records one confirmed resolution. A repeat of a known
// path increments its success count; a higher-confidence repeat also
// replaces the stored resolution. New paths enter with one success.
func (c *Collector) RecordSuccess(ctx context.Context, tenantID string, trace *models.ResolutionTrace) (*models.GoldenPath, error) {
	if err := validateTrace(trace); err != nil {
		return nil, err
	}
	fp := Fingerprint(trace.Blueprint, trace.Category, trace.Query)

	l := c.lockFor(fp)
	l.Lock()
	defer l.Unlock()

	g := c.get(fp)
	if g == nil {
		g = &models.GoldenPath{
			Fingerprint: fp,
			TenantID:    tenantID,
			Blueprint:   trace.Blueprint,
			Category:    trace.Category,
			Query:       trace.Query,
			Resolution:  trace.Resolution,
			Steps:       trace.Steps,
			Sources:     trace.Sources,
			Confidence:  trace.Confidence,
			Outcome:     models.OutcomeApproved,
		}
	} else if trace.Confidence > g.Confidence {
		g.Resolution = trace.Resolution
		g.Steps = trace.Steps
		g.Sources = trace.Sources
		g.Confidence = trace.Confidence
	}
	g.SuccessCount++
	g.Outcome = models.OutcomeApproved
	g.UpdatedAt = c.now()
	c.put(g)

	c.syncVector(ctx, g)
	c.publish(events.EventTypeGoldenPathRecorded, g)
	slog.Info("Golden path recorded",
		"fingerprint", fp, "tenant_id", tenantID,
		"success_count", g.SuccessCount, "success_rate", g.SuccessRate())
	return g, nil
}

// RecordCorrection records a human-corrected resolution: the corrected
// content replaces the stored one at high confidence.
func (c *Collector) RecordCorrection(ctx context.Context, tenantID string, trace *models.ResolutionTrace) (*models.GoldenPath, error) {
	if err := validateTrace(trace); err != nil {
		return nil, err
	}
	fp := Fingerprint(trace.Blueprint, trace.Category, trace.Query)

	l := c.lockFor(fp)
	l.Lock()
	defer l.Unlock()

	g := c.get(fp)
	if g == nil {
		g = &models.GoldenPath{
			Fingerprint: fp,
			TenantID:    tenantID,
			Blueprint:   trace.Blueprint,
			Category:    trace.Category,
			Query:       trace.Query,
		}
	}
	g.Resolution = trace.Resolution
	g.Steps = trace.Steps
	g.Sources = trace.Sources
	g.Confidence = 0.95
	g.Outcome = models.OutcomeCorrected
	g.SuccessCount++
	g.UpdatedAt = c.now()
	c.put(g)

	c.syncVector(ctx, g)
	c.publish(events.EventTypeGoldenPathRecorded, g)
	return g, nil
}

// RecordFailure counts a failed reuse of a path. An unknown fingerprint
// enters the catalog as a failure-only row, so repeated bad patterns
// accumulate evidence before any success is ever recorded. When the
// success rate drops below the retention floor the path is removed from
// the vector store exactly once; the catalog row survives for audit.
func (c *Collector) RecordFailure(ctx context.Context, tenantID, blueprint, category, query string) error {
	fp := Fingerprint(blueprint, category, query)

	l := c.lockFor(fp)
	l.Lock()
	defer l.Unlock()

	g := c.get(fp)
	if g == nil {
		g = &models.GoldenPath{
			Fingerprint: fp,
			TenantID:    tenantID,
			Blueprint:   blueprint,
			Category:    category,
			Query:       query,
			Outcome:     models.OutcomeRejected,
		}
	}
	g.FailureCount++
	g.UpdatedAt = c.now()
	c.put(g)

	c.syncVector(ctx, g)
	return nil
}

// RecordCSAT maps a 1..5 satisfaction score onto the loop: 4 and above
// is a success, 2 and below a failure, 3 is neutral and ignored.
func (c *Collector) RecordCSAT(ctx context.Context, tenantID string, trace *models.ResolutionTrace, score int) error {
	switch {
	case score >= 4:
		_, err := c.RecordSuccess(ctx, tenantID, trace)
		return err
	case score <= 2:
		return c.RecordFailure(ctx, tenantID, trace.Blueprint, trace.Category, trace.Query)
	default:
		return nil
	}
}

// RecordHITLOutcome feeds reviewer decisions into the loop. Approvals
// count as successes, rejections as failures, and free-form feedback
// text becomes a correction. Requests without a traceable query are
// skipped.
func (c *Collector) RecordHITLOutcome(ctx context.Context, req *models.HITLRequest) error {
	if req == nil || req.Response == nil || req.Status != models.HITLStatusCompleted {
		return nil
	}
	trace := traceFromRequest(req)
	if trace == nil {
		return nil
	}

	switch req.Response.Decision {
	case models.DecisionApprove:
		_, err := c.RecordSuccess(ctx, req.TenantID, trace)
		return err
	case models.DecisionReject:
		return c.RecordFailure(ctx, req.TenantID, trace.Blueprint, trace.Category, trace.Query)
	default:
		if req.Response.Text == "" {
			return nil
		}
		trace.Resolution = req.Response.Text
		_, err := c.RecordCorrection(ctx, req.TenantID, trace)
		return err
	}
}

// SearchGoldenPaths retrieves retained paths relevant to the query.
// Results below minSuccessRate are filtered out; pass 0 or less for the
// configured default.
func (c *Collector) SearchGoldenPaths(ctx context.Context, tenantID, query string, topK int, minSuccessRate float64) ([]*models.GoldenPath, error) {
	if minSuccessRate <= 0 {
		minSuccessRate = c.cfg.SearchMinSuccessRateDefault
	}
	if topK <= 0 {
		topK = 5
	}
	filter := map[string]any{"type": "golden_path"}
	if tenantID != "" {
		filter["tenant_id"] = tenantID
	}

	hits, err := c.vectors.Search(ctx, query, topK, 0, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "golden path search failed")
	}

	out := make([]*models.GoldenPath, 0, len(hits))
	for _, hit := range hits {
		g := c.get(hit.ID)
		if g == nil {
			continue
		}
		if total := g.SuccessCount + g.FailureCount; total > 0 && g.SuccessRate() < minSuccessRate {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

// Get returns the catalog entry for a fingerprint, pruned or not.
func (c *Collector) Get(fingerprint string) (*models.GoldenPath, error) {
	g := c.get(fingerprint)
	if g == nil {
		return nil, apperr.New(apperr.KindNotFound, "no golden path for fingerprint %s", fingerprint)
	}
	return g, nil
}

// List returns the catalog filtered by tenant. Empty tenant lists all.
func (c *Collector) List(tenantID string) []*models.GoldenPath {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.GoldenPath, 0, len(c.catalog))
	for _, g := range c.catalog {
		if tenantID != "" && g.TenantID != tenantID {
			continue
		}
		out = append(out, g)
	}
	return out
}

// Import loads persisted paths into the catalog, typically at startup.
// On a fingerprint collision the path with the higher success count
// wins; ties go to the more recently updated one.
func (c *Collector) Import(ctx context.Context, paths []*models.GoldenPath) int {
	loaded := 0
	for _, incoming := range paths {
		if incoming == nil || incoming.Fingerprint == "" {
			continue
		}
		l := c.lockFor(incoming.Fingerprint)
		l.Lock()
		existing := c.get(incoming.Fingerprint)
		if existing == nil || supersedes(incoming, existing) {
			cp := *incoming
			c.put(&cp)
			c.syncVector(ctx, &cp)
			loaded++
		}
		l.Unlock()
	}
	return loaded
}

// supersedes decides a fingerprint collision in favor of the path with
// more confirmed successes, then the fresher one.
func supersedes(incoming, existing *models.GoldenPath) bool {
	if incoming.SuccessCount != existing.SuccessCount {
		return incoming.SuccessCount > existing.SuccessCount
	}
	return incoming.UpdatedAt.After(existing.UpdatedAt)
}

// syncVector reconciles the vector store with the path's current
// retention status. A retained path is upserted; a path below the floor
// is deleted once and stays out until its rate recovers. Vector-store
// failures are logged, never surfaced to the recording path.
func (c *Collector) syncVector(ctx context.Context, g *models.GoldenPath) {
	if c.vectors == nil {
		return
	}
	floor := c.cfg.MinSuccessRateRetain
	total := g.SuccessCount + g.FailureCount

	if floor > 0 && total > 0 && g.SuccessRate() < floor {
		c.mu.Lock()
		alreadyPruned := c.pruned[g.Fingerprint]
		c.pruned[g.Fingerprint] = true
		c.mu.Unlock()
		if alreadyPruned {
			return
		}
		if err := c.vectors.Delete(ctx, []string{g.Fingerprint}); err != nil {
			slog.Warn("Failed to prune golden path from vector store",
				"fingerprint", g.Fingerprint, "error", err)
			c.mu.Lock()
			c.pruned[g.Fingerprint] = false
			c.mu.Unlock()
			return
		}
		c.publish(events.EventTypeGoldenPathPruned, g)
		slog.Info("Golden path pruned",
			"fingerprint", g.Fingerprint, "success_rate", g.SuccessRate())
		return
	}

	c.mu.Lock()
	c.pruned[g.Fingerprint] = false
	c.mu.Unlock()

	doc := store.Document{
		ID:      g.Fingerprint,
		Content: g.Query + "\n" + g.Resolution,
		Source:  "golden_path",
		Metadata: map[string]any{
			"type":      "golden_path",
			"tenant_id": g.TenantID,
			"blueprint": g.Blueprint,
			"category":  g.Category,
			"outcome":   string(g.Outcome),
		},
	}
	if err := c.vectors.Upsert(ctx, []store.Document{doc}); err != nil {
		slog.Warn("Failed to upsert golden path",
			"fingerprint", g.Fingerprint, "error", err)
	}
}

func (c *Collector) publish(eventType string, g *models.GoldenPath) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.Event{
		Type:     eventType,
		TenantID: g.TenantID,
		Payload: map[string]any{
			"fingerprint":   g.Fingerprint,
			"blueprint":     g.Blueprint,
			"category":      g.Category,
			"success_count": g.SuccessCount,
			"failure_count": g.FailureCount,
			"success_rate":  g.SuccessRate(),
		},
		Timestamp: c.now(),
	})
}

func validateTrace(trace *models.ResolutionTrace) error {
	if trace == nil {
		return apperr.New(apperr.KindValidation, "resolution trace is required")
	}
	if trace.Blueprint == "" || trace.Query == "" || trace.Resolution == "" {
		return apperr.New(apperr.KindValidation,
			"resolution trace requires blueprint, query, and resolution")
	}
	return nil
}

// traceFromRequest rebuilds a trace from the agent snapshot captured at
// suspension time. Returns nil when the snapshot lacks a query.
func traceFromRequest(req *models.HITLRequest) *models.ResolutionTrace {
	blueprint, _ := req.Context["blueprint"].(string)
	input, _ := req.Context["input"].(map[string]any)
	query, _ := input["query"].(string)
	if blueprint == "" || query == "" {
		return nil
	}
	category, _ := input["category"].(string)
	resolution, _ := req.Context["action"].(string)
	if resolution == "" {
		resolution = req.Title
	}
	return &models.ResolutionTrace{
		Blueprint:  blueprint,
		Category:   category,
		Query:      query,
		Resolution: resolution,
	}
}
