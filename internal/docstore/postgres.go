package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vcmarket/apiserver/internal/mq"
)

const (
	// ChangesChannel carries the paths of committed writes between server
	// instances.
	ChangesChannel = "docstore.changes"

	attrOrigin = "origin"
)

// Postgres stores each record (a collection child or a top-level document)
// as one JSONB row and applies path writes with read-modify-write inside a
// transaction.
type Postgres struct {
	db          *sql.DB
	bus         *mq.MQ
	collections map[string]bool
	origin      string
	hub         *hub
	logger      *zap.Logger
}

// PostgresOption configures a Postgres store.
type PostgresOption func(*Postgres)

// WithBus fans change notifications out through bus.
func WithBus(bus *mq.MQ) PostgresOption {
	return func(p *Postgres) { p.bus = bus }
}

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) PostgresOption {
	return func(p *Postgres) { p.logger = logger }
}

// WithCollections declares which top-level names hold keyed children.
func WithCollections(names ...string) PostgresOption {
	return func(p *Postgres) {
		p.collections = make(map[string]bool, len(names))
		for _, n := range names {
			p.collections[n] = true
		}
	}
}

// NewPostgres constructs a Postgres-backed store over db.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{
		db:          db,
		collections: map[string]bool{"users": true, "items": true},
		origin:      NewPushKey(),
		hub:         newHub(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// location is where a path lands in the records table.
type location struct {
	root string
	key  string
	rest []string

	// collection is set when the path names a whole collection.
	collection bool
}

func (p *Postgres) locate(segs []string) location {
	loc := location{root: segs[0]}
	if !p.collections[loc.root] {
		loc.rest = segs[1:]
		return loc
	}
	if len(segs) == 1 {
		loc.collection = true
		return loc
	}
	loc.key = segs[1]
	loc.rest = segs[2:]
	return loc
}

func (p *Postgres) Subscribe(ctx context.Context, path string, q Query, fn func(Snapshot)) (Subscription, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	sub, seq := p.hub.add(path, segs, q, fn)
	snap, err := p.fetch(ctx, path, segs, q)
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	sub.deliver(seq, snap)
	return sub, nil
}

func (p *Postgres) FetchOnce(ctx context.Context, path string, q Query) (Snapshot, error) {
	segs, err := splitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	return p.fetch(ctx, path, segs, q)
}

func (p *Postgres) fetch(ctx context.Context, path string, segs []string, q Query) (Snapshot, error) {
	loc := p.locate(segs)
	if loc.collection {
		node, err := p.readCollection(ctx, loc.root, q)
		if err != nil {
			return Snapshot{}, err
		}
		return buildSnapshot(path, node, q)
	}

	const query = `SELECT value FROM records WHERE root = $1 AND key = $2`
	var raw []byte
	err := p.db.QueryRowContext(ctx, query, loc.root, loc.key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{Path: path}, nil
		}
		return Snapshot{}, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Snapshot{}, err
	}
	node, _ := getIn(doc, loc.rest)
	return buildSnapshot(path, node, q)
}

func (p *Postgres) readCollection(ctx context.Context, root string, q Query) (any, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if q.LimitToLast > 0 {
		const query = `
			SELECT key, value FROM (
				SELECT key, value FROM records
				WHERE root = $1
				ORDER BY key DESC
				LIMIT $2
			) AS recent
			ORDER BY key`
		rows, err = p.db.QueryContext(ctx, query, root, q.LimitToLast)
	} else {
		const query = `SELECT key, value FROM records WHERE root = $1 ORDER BY key`
		rows, err = p.db.QueryContext(ctx, query, root)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (p *Postgres) Write(ctx context.Context, path string, value any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	return p.mutate(ctx, path, segs, func(doc any, rest []string) (any, error) {
		return setIn(doc, rest, v), nil
	})
}

func (p *Postgres) Update(ctx context.Context, path string, fields map[string]any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	return p.mutate(ctx, path, segs, func(doc any, rest []string) (any, error) {
		return mergeIn(doc, rest, fields)
	})
}

func (p *Postgres) Push(ctx context.Context, path string, value any) (string, error) {
	segs, err := splitPath(path)
	if err != nil {
		return "", err
	}
	if loc := p.locate(segs); !loc.collection {
		return "", fmt.Errorf("%w: push requires a collection, got %q", ErrUnsupportedPath, path)
	}
	key := NewPushKey()
	if err := p.Write(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (p *Postgres) Delete(ctx context.Context, path string) error {
	return p.Write(ctx, path, nil)
}

func (p *Postgres) mutate(ctx context.Context, path string, segs []string, apply func(doc any, rest []string) (any, error)) error {
	loc := p.locate(segs)
	if loc.collection {
		return fmt.Errorf("%w: cannot overwrite collection %q", ErrUnsupportedPath, path)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const selectQuery = `SELECT value FROM records WHERE root = $1 AND key = $2 FOR UPDATE`
	var doc any
	var raw []byte
	err = tx.QueryRowContext(ctx, selectQuery, loc.root, loc.key).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
	}

	doc, err = apply(doc, loc.rest)
	if err != nil {
		return err
	}

	if doc == nil {
		const deleteQuery = `DELETE FROM records WHERE root = $1 AND key = $2`
		if _, err := tx.ExecContext(ctx, deleteQuery, loc.root, loc.key); err != nil {
			return err
		}
	} else {
		encoded, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		const upsertQuery = `
			INSERT INTO records (root, key, value, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (root, key) DO UPDATE
			SET value = EXCLUDED.value,
				updated_at = EXCLUDED.updated_at`
		if _, err := tx.ExecContext(ctx, upsertQuery, loc.root, loc.key, encoded); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	p.notify(context.WithoutCancel(ctx), segs)
	p.announce(ctx, path)
	return nil
}

// notify refreshes every local listener affected by a change at segs.
func (p *Postgres) notify(ctx context.Context, segs []string) {
	subs, seq := p.hub.affected(segs)
	for _, sub := range subs {
		snap, err := p.fetch(ctx, sub.path, sub.segs, sub.query)
		if err != nil {
			p.logger.Warn("refresh subscription failed", zap.String("path", sub.path), zap.Error(err))
			continue
		}
		sub.deliver(seq, snap)
	}
}

func (p *Postgres) announce(ctx context.Context, path string) {
	if p.bus == nil {
		return
	}
	attrs := map[string]string{attrOrigin: p.origin}
	if _, err := p.bus.Publish(ctx, ChangesChannel, []byte(path), attrs); err != nil {
		p.logger.Warn("publish change failed", zap.String("path", path), zap.Error(err))
	}
}

// Listen applies change notifications published by other instances until
// ctx is done. It returns immediately when no bus is configured.
func (p *Postgres) Listen(ctx context.Context) error {
	if p.bus == nil {
		return nil
	}
	return p.bus.Subscribe(ctx, ChangesChannel, func(ctx context.Context, msg mq.Message) error {
		if msg.Attributes[attrOrigin] == p.origin {
			return nil
		}
		segs, err := splitPath(string(msg.Data))
		if err != nil {
			p.logger.Warn("dropping malformed change", zap.ByteString("path", msg.Data))
			return nil
		}
		p.notify(ctx, segs)
		return nil
	})
}
