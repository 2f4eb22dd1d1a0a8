// Package tags manages the labels attached to archived message groups while
// keeping every tag's usage count equal to its number of links.
package tags

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/wpp-archive/internal/store"
	"go.uber.org/zap"
)

// ErrInvalidTagName is returned for empty or blank tag names.
var ErrInvalidTagName = errors.New("invalid tag name")

// Result is the state after a tag operation.
type Result struct {
	// GroupTags are the tags of the group the call targeted, if any.
	GroupTags []string    `json:"group_tags"`
	AllTags   []store.Tag `json:"all_tags"`
}

// Manager applies tag operations, each in a single transaction.
type Manager struct {
	db     *store.DB
	logger *zap.Logger
}

// NewManager creates a tag manager.
func NewManager(db *store.DB, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: db, logger: logger}
}

func normalize(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, store.TagSeparator) {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidTagName)
	}
	return name, nil
}

// Add links a tag to a group, creating the tag if needed.
func (m *Manager) Add(ctx context.Context, name, groupedID string) (*Result, error) {
	name, err := normalize(name)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, groupedID, func(tx *store.Tx) error {
		if err := requireGroup(tx, groupedID); err != nil {
			return err
		}
		return add(tx, name, groupedID)
	})
}

// Remove unlinks a tag from a group, pruning it if no longer used.
func (m *Manager) Remove(ctx context.Context, name, groupedID string) (*Result, error) {
	name, err := normalize(name)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, groupedID, func(tx *store.Tx) error {
		if err := requireGroup(tx, groupedID); err != nil {
			return err
		}
		return remove(tx, name, groupedID)
	})
}

// Rename replaces one tag of a group with another.
func (m *Manager) Rename(ctx context.Context, oldName, newName, groupedID string) (*Result, error) {
	oldName, err := normalize(oldName)
	if err != nil {
		return nil, err
	}
	newName, err = normalize(newName)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, groupedID, func(tx *store.Tx) error {
		if err := requireGroup(tx, groupedID); err != nil {
			return err
		}
		return rename(tx, oldName, newName, groupedID)
	})
}

// RenameEverywhere renames a tag on every group carrying it. All groups are
// updated in one transaction that commits only after the last one.
func (m *Manager) RenameEverywhere(ctx context.Context, oldName, newName string) (*Result, error) {
	oldName, err := normalize(oldName)
	if err != nil {
		return nil, err
	}
	newName, err = normalize(newName)
	if err != nil {
		return nil, err
	}

	var renamed int
	res, err := m.run(ctx, "", func(tx *store.Tx) error {
		tag, err := tx.TagByName(oldName)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		groups, err := tx.GroupsWithTag(tag.ID)
		if err != nil {
			return fmt.Errorf("groups with tag: %w", err)
		}
		for _, g := range groups {
			if err := rename(tx, oldName, newName, g); err != nil {
				return fmt.Errorf("rename on %s: %w", g, err)
			}
		}
		renamed = len(groups)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("tag renamed everywhere",
		zap.String("from", oldName), zap.String("to", newName), zap.Int("groups", renamed))
	return res, nil
}

// List recomputes usage counts, prunes unused tags and returns the catalogue.
func (m *Manager) List(ctx context.Context, sort store.TagSort) ([]store.Tag, error) {
	if _, err := m.db.Maintain(ctx); err != nil {
		return nil, err
	}
	return m.db.ListTags(ctx, sort)
}

func (m *Manager) run(ctx context.Context, groupedID string, fn func(*store.Tx) error) (*Result, error) {
	res := &Result{}
	err := m.db.InTx(ctx, func(tx *store.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if _, err := tx.PruneTags(); err != nil {
			return err
		}
		var err error
		if groupedID != "" {
			if res.GroupTags, err = tx.GroupTags(groupedID); err != nil {
				return fmt.Errorf("group tags: %w", err)
			}
		}
		res.AllTags, err = tx.ListTags(store.TagSort{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func requireGroup(tx *store.Tx, groupedID string) error {
	ok, err := tx.GroupExists(groupedID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("group %s: %w", groupedID, store.ErrNotFound)
	}
	return nil
}

func add(tx *store.Tx, name, groupedID string) error {
	id, err := tx.UpsertTag(name)
	if err != nil {
		return err
	}
	linked, err := tx.LinkTag(groupedID, id)
	if err != nil {
		return err
	}
	if !linked {
		return nil
	}
	return tx.AddTagUsage(id, 1)
}

func remove(tx *store.Tx, name, groupedID string) error {
	tag, err := tx.TagByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	unlinked, err := tx.UnlinkTag(groupedID, tag.ID)
	if err != nil {
		return err
	}
	if !unlinked {
		return nil
	}
	return tx.AddTagUsage(tag.ID, -1)
}

func rename(tx *store.Tx, oldName, newName, groupedID string) error {
	if oldName == newName {
		return nil
	}
	if err := remove(tx, oldName, groupedID); err != nil {
		return err
	}
	return add(tx, newName, groupedID)
}
