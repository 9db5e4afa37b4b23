package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// DefaultArchivePrefix is the object prefix for registry snapshots.
const DefaultArchivePrefix = "registries"

// Committer persists a built registry and fans it out to the snapshot
// archive and the change feed. Only the store write can fail a commit.
type Committer struct {
	store     registry.RegistryStore
	archive   registry.BlobStore
	publisher registry.Publisher
	clock     registry.Clock
	prefix    string
	logger    *zap.Logger
}

// CommitterConfig wires the optional side outputs of a commit.
type CommitterConfig struct {
	Archive       registry.BlobStore
	Publisher     registry.Publisher
	ArchivePrefix string
}

// NewCommitter creates a Committer. Archive and Publisher may be nil.
func NewCommitter(store registry.RegistryStore, clock registry.Clock, cfg CommitterConfig, logger *zap.Logger) *Committer {
	prefix := strings.Trim(cfg.ArchivePrefix, "/")
	if prefix == "" {
		prefix = DefaultArchivePrefix
	}
	return &Committer{
		store:     store,
		archive:   cfg.Archive,
		publisher: cfg.Publisher,
		clock:     clock,
		prefix:    prefix,
		logger:    logging.OrNop(logger),
	}
}

// Commit saves reg, then archives a snapshot and publishes a change event.
func (c *Committer) Commit(ctx context.Context, reg registry.CapabilityRegistry, jobID string) error {
	if err := c.store.SaveRegistry(ctx, reg); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	uri := c.snapshot(ctx, reg)
	c.announce(ctx, reg, jobID, uri)
	return nil
}

// SnapshotPath is the archive object path for one crawl of a domain.
func (c *Committer) SnapshotPath(domain, crawlID string) string {
	return path.Join(c.prefix, domain, crawlID+".json")
}

func (c *Committer) snapshot(ctx context.Context, reg registry.CapabilityRegistry) string {
	if c.archive == nil {
		return ""
	}
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		c.logger.Warn("marshal registry snapshot", zap.String("domain", reg.Domain), zap.Error(err))
		return ""
	}
	objectPath := c.SnapshotPath(reg.Domain, reg.CrawlID)
	uri, err := c.archive.PutObject(ctx, objectPath, "application/json", bytes.NewReader(data))
	if err != nil {
		c.logger.Warn("archive registry snapshot",
			zap.String("domain", reg.Domain),
			zap.String("path", objectPath),
			zap.Error(err))
		return ""
	}
	return uri
}

func (c *Committer) announce(ctx context.Context, reg registry.CapabilityRegistry, jobID, uri string) {
	if c.publisher == nil {
		return
	}
	event := registry.RegistryEvent{
		Event:           registry.TopicRegistryUpdated,
		Domain:          reg.Domain,
		CrawlID:         reg.CrawlID,
		JobID:           jobID,
		Source:          reg.AIMetadata.Source,
		ConfidenceScore: reg.AIMetadata.ConfidenceScore,
		SnapshotURI:     uri,
		OccurredAt:      c.clock.Now(),
	}
	id, err := c.publisher.Publish(ctx, registry.TopicRegistryUpdated, event)
	if err != nil {
		c.logger.Warn("publish registry event", zap.String("domain", reg.Domain), zap.Error(err))
		return
	}
	c.logger.Debug("registry event published", zap.String("domain", reg.Domain), zap.String("message_id", id))
}
