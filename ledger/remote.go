package ledger

import (
	"context"
	"encoding/json"
	"fmt"
)

// Remote is the typed backend surface the Syncer depends on.
type Remote interface {
	Configured() bool
	FetchAll(ctx context.Context, c Collection) ([]Entity, error)
	Create(ctx context.Context, e Entity) (Entity, error)
	Update(ctx context.Context, e Entity) (Entity, error)
	Remove(ctx context.Context, c Collection, key string) error
}

var _ Remote = (*Client)(nil)

// FetchAll reads a whole collection ordered by its key. Rows that fail
// schema validation are logged and dropped.
func (c *Client) FetchAll(ctx context.Context, coll Collection) ([]Entity, error) {
	col, _ := ColumnFor(coll, keyField(coll))
	rows, err := c.Get(ctx, coll, Query{Order: col + ".asc"})
	if err != nil {
		return nil, err
	}
	return c.decodeRows(ctx, coll, rows), nil
}

// Create inserts e and returns the stored entity with its server id.
// Monthly notes are upserted on their month.
func (c *Client) Create(ctx context.Context, e Entity) (Entity, error) {
	row, err := toRow(e)
	if err != nil {
		return nil, err
	}
	var opts []PostOption
	if e.Collection() == CollectionNotes {
		opts = append(opts, Upsert("month"))
	}
	rows, err := c.Post(ctx, e.Collection(), row, opts...)
	if err != nil {
		return nil, err
	}
	return c.firstOr(ctx, e, rows), nil
}

// Update patches the row addressed by e's key.
func (c *Client) Update(ctx context.Context, e Entity) (Entity, error) {
	f, err := keyFilter(e.Collection(), e.Key())
	if err != nil {
		return nil, err
	}
	row, err := toRow(e)
	if err != nil {
		return nil, err
	}
	rows, err := c.Patch(ctx, e.Collection(), f, row)
	if err != nil {
		return nil, err
	}
	return c.firstOr(ctx, e, rows), nil
}

// Remove deletes the row addressed by key.
func (c *Client) Remove(ctx context.Context, coll Collection, key string) error {
	f, err := keyFilter(coll, key)
	if err != nil {
		return err
	}
	return c.Delete(ctx, coll, f)
}

func keyFilter(coll Collection, key string) (Filter, error) {
	if key == "" || key == "0" {
		return Filter{}, &ValidationError{Collection: coll, Problems: []string{"key is required"}}
	}
	return FieldFilter(coll, keyField(coll), key)
}

func (c *Client) decodeRows(ctx context.Context, coll Collection, rows []json.RawMessage) []Entity {
	entities, rejected := c.validator.decode(coll, rows)
	for _, err := range rejected {
		c.log.WarnContext(ctx, "dropping invalid row", "collection", string(coll), "error", err)
	}
	return entities
}

// firstOr returns the first valid returned row, or the submitted entity
// when the backend answered without content.
func (c *Client) firstOr(ctx context.Context, submitted Entity, rows []json.RawMessage) Entity {
	entities := c.decodeRows(ctx, submitted.Collection(), rows)
	if len(entities) == 0 {
		return submitted
	}
	return entities[0]
}

// String is used in log lines.
func (c *Client) String() string {
	if c.base == nil {
		return "remote(unconfigured)"
	}
	return fmt.Sprintf("remote(%s)", c.base.Host)
}
