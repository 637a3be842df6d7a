package itemdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/copperd/piper/piper"
)

// Postgres is a lib/pq-backed piper.ItemDBOpener. It expects a schema of
// the shape:
//
//	datasets(id bigint primary key, name text)
//	classes(id bigint primary key, dataset_id bigint, name text, schema jsonb)
//	items(id bigserial primary key, class_id bigint, attrs jsonb)
//
// "schema" on classes holds a JSON-encoded map[string]AttrSchema; "attrs"
// on items holds a JSON-encoded map[string]AttrValue. Unique-attribute
// enforcement is done in application code rather than a SQL constraint,
// since the attribute set is dynamic per class.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an already-open connection pool.
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

type pgTx struct {
	tx *sql.Tx
}

func (p *Postgres) Open(ctx context.Context, _ string) (piper.ItemTx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &piper.DbError{Err: err}
	}
	return &pgTx{tx: tx}, nil
}

func (p *Postgres) Commit(_ context.Context, itx piper.ItemTx) error {
	tx, ok := itx.(*pgTx)
	if !ok {
		return fmt.Errorf("itemdb: Commit called with a non-Postgres ItemTx")
	}
	if err := tx.tx.Commit(); err != nil {
		return &piper.DbError{Err: err}
	}
	return nil
}

func (p *Postgres) Rollback(_ context.Context, itx piper.ItemTx) error {
	tx, ok := itx.(*pgTx)
	if !ok {
		return fmt.Errorf("itemdb: Rollback called with a non-Postgres ItemTx")
	}
	if err := tx.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return &piper.DbError{Err: err}
	}
	return nil
}

func (t *pgTx) GetDataset(ctx context.Context, datasetID int64) (piper.Dataset, error) {
	var d piper.Dataset
	row := t.tx.QueryRowContext(ctx, `SELECT id, name FROM datasets WHERE id = $1`, datasetID)
	if err := row.Scan(&d.DatasetID, &d.Name); err != nil {
		if err == sql.ErrNoRows {
			return piper.Dataset{}, &piper.ItemNotFoundError{What: "dataset"}
		}
		return piper.Dataset{}, &piper.DbError{Err: err}
	}
	return d, nil
}

func (t *pgTx) GetClass(ctx context.Context, classID int64) (piper.Class, error) {
	var (
		c          piper.Class
		schemaJSON []byte
	)
	row := t.tx.QueryRowContext(ctx, `SELECT id, dataset_id, name, schema FROM classes WHERE id = $1`, classID)
	if err := row.Scan(&c.ClassID, &c.DatasetID, &c.Name, &schemaJSON); err != nil {
		if err == sql.ErrNoRows {
			return piper.Class{}, &piper.ItemNotFoundError{What: "class"}
		}
		return piper.Class{}, &piper.DbError{Err: err}
	}

	var raw map[string]jsonAttrSchema
	if err := json.Unmarshal(schemaJSON, &raw); err != nil {
		return piper.Class{}, &piper.DbError{Err: err}
	}
	c.Attributes = make(map[string]piper.AttrSchema, len(raw))
	for name, a := range raw {
		stub, err := decodeStub(a.Stub)
		if err != nil {
			return piper.Class{}, &piper.DbError{Err: err}
		}
		c.Attributes[name] = piper.AttrSchema{Stub: stub, Unique: a.Unique, Nullable: a.Nullable}
	}
	return c, nil
}

func (t *pgTx) GetItem(ctx context.Context, classID, itemID int64) (piper.Item, error) {
	var attrsJSON []byte
	row := t.tx.QueryRowContext(ctx, `SELECT attrs FROM items WHERE class_id = $1 AND id = $2`, classID, itemID)
	if err := row.Scan(&attrsJSON); err != nil {
		if err == sql.ErrNoRows {
			return piper.Item{}, &piper.ItemNotFoundError{What: "item"}
		}
		return piper.Item{}, &piper.DbError{Err: err}
	}
	attrs, err := decodeAttrs(attrsJSON)
	if err != nil {
		return piper.Item{}, &piper.DbError{Err: err}
	}
	return piper.Item{ClassID: classID, ItemID: itemID, Attrs: attrs}, nil
}

func (t *pgTx) AddItem(ctx context.Context, classID int64, attrs map[string]piper.AttrValue, onConflict piper.UniqueViolationPolicy) (int64, error) {
	class, err := t.GetClass(ctx, classID)
	if err != nil {
		return 0, err
	}

	for name, schema := range class.Attributes {
		av, present := attrs[name]
		if !present || isNoneAttr(av) {
			if !schema.Nullable {
				return 0, &piper.NotNullViolatedError{Attribute: name}
			}
			continue
		}
		if !av.Stub.IsSubtypeOf(schema.Stub) {
			return 0, &piper.AttrTypeMismatchError{Attribute: name, Expected: schema.Stub, Got: av.Stub}
		}
		if schema.Unique {
			if existingID, found, err := t.findByAttr(ctx, classID, name, av.Value); err != nil {
				return 0, err
			} else if found {
				if onConflict == piper.OnUniqueViolationSelect {
					return existingID, nil
				}
				return 0, &piper.UniqueViolatedError{ConflictingIDs: []int64{existingID}}
			}
		}
	}

	payload, err := encodeAttrs(attrs)
	if err != nil {
		return 0, &piper.DbError{Err: err}
	}

	var id int64
	row := t.tx.QueryRowContext(ctx, `INSERT INTO items (class_id, attrs) VALUES ($1, $2) RETURNING id`, classID, payload)
	if err := row.Scan(&id); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, &piper.UniqueViolatedError{}
		}
		return 0, &piper.DbError{Err: err}
	}
	return id, nil
}

func (t *pgTx) findByAttr(ctx context.Context, classID int64, attribute string, want piper.Value) (int64, bool, error) {
	encoded, err := encodeValue(want)
	if err != nil {
		return 0, false, &piper.DbError{Err: err}
	}
	var id int64
	row := t.tx.QueryRowContext(ctx,
		`SELECT id FROM items WHERE class_id = $1 AND attrs->$2->'value' = $3::jsonb LIMIT 1`,
		classID, attribute, string(encoded))
	switch err := row.Scan(&id); err {
	case nil:
		return id, true, nil
	case sql.ErrNoRows:
		return 0, false, nil
	default:
		return 0, false, &piper.DbError{Err: err}
	}
}

func (t *pgTx) CountItems(ctx context.Context, classID int64) (int64, error) {
	var n int64
	row := t.tx.QueryRowContext(ctx, `SELECT count(*) FROM items WHERE class_id = $1`, classID)
	if err := row.Scan(&n); err != nil {
		return 0, &piper.DbError{Err: err}
	}
	return n, nil
}

func (t *pgTx) ListItems(ctx context.Context, classID int64, limit, offset int) ([]piper.Item, error) {
	if limit <= 0 {
		limit = 256
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, attrs FROM items WHERE class_id = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		classID, limit, offset)
	if err != nil {
		return nil, &piper.DbError{Err: err}
	}
	defer rows.Close()

	var out []piper.Item
	for rows.Next() {
		var (
			id        int64
			attrsJSON []byte
		)
		if err := rows.Scan(&id, &attrsJSON); err != nil {
			return nil, &piper.DbError{Err: err}
		}
		attrs, err := decodeAttrs(attrsJSON)
		if err != nil {
			return nil, &piper.DbError{Err: err}
		}
		out = append(out, piper.Item{ClassID: classID, ItemID: id, Attrs: attrs})
	}
	return out, rows.Err()
}
