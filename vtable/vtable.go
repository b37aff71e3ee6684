package vtable

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/viant/mtree/index/tree"
	"github.com/viant/mtree/internal/config"
	"github.com/viant/mtree/internal/logging"
	"github.com/viant/mtree/vector"
	"modernc.org/sqlite"
	"modernc.org/sqlite/vtab"
)

// ModuleName is the name used in CREATE VIRTUAL TABLE ... USING mtree(...).
const ModuleName = "mtree"

const defaultSource = "instances"

// Column positions of the declared schema.
const (
	colID = iota
	colLabel
	colScore
	colK
)

// Plan bits stored in IdxNum.
const (
	planMatch = 1 << iota
	planK
	planScore
)

// Module implements the mtree virtual table module.
type Module struct {
	db     *sql.DB
	logger *logging.Logger
}

// Option configures a Module.
type Option func(*Module)

// WithLogger sets the module logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Module) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Table is one mtree virtual table bound to a source table.
type Table struct {
	mod    *Module
	db     *sql.DB
	dbName string
	name   string
	source string
	cfg    config.Config
	logger *logging.Logger
}

type row struct {
	rowid int64
	id    string
	label sql.NullString
	score sql.NullFloat64
}

// Cursor iterates the rows produced by Filter.
type Cursor struct {
	table *Table
	rows  []row
	pos   int
}

var registerInvalidateOnce sync.Once

// Register registers the mtree and mtree_stats modules and the
// mtree_invalidate function with db.
func Register(db *sql.DB, opts ...Option) error {
	mod := &Module{db: db, logger: logging.NoopLogger()}
	for _, opt := range opts {
		opt(mod)
	}
	mod.logger = mod.logger.WithComponent("vtable")
	// Connections opened from here on see mtree_invalidate, including the
	// ones running trigger bodies.
	registerInvalidateOnce.Do(func() {
		_ = sqlite.RegisterDeterministicScalarFunction("mtree_invalidate", 1, invalidateFunc)
	})
	if err := vtab.RegisterModule(db, ModuleName, mod); err != nil {
		if !strings.Contains(err.Error(), "already registered") {
			return err
		}
	}
	if err := vtab.RegisterModule(db, StatsModuleName, &statsModule{owner: mod}); err != nil {
		if !strings.Contains(err.Error(), "already registered") {
			return err
		}
	}
	return nil
}

// Create declares a new mtree table.
func (m *Module) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.connect(ctx, "CREATE", args)
}

// Connect attaches to an existing mtree table.
func (m *Module) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.connect(ctx, "CONNECT", args)
}

// connect parses USING mtree([source][, key=value...]).
func (m *Module) connect(ctx vtab.Context, op string, args []string) (vtab.Table, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("mtree: %s expects at least 3 args, got %d", op, len(args))
	}
	if err := ctx.EnableConstraintSupport(); err != nil {
		return nil, fmt.Errorf("mtree: EnableConstraintSupport failed: %w", err)
	}
	source := defaultSource
	opts := args[3:]
	if len(opts) > 0 {
		if a := strings.TrimSpace(opts[0]); a != "" && !strings.Contains(a, "=") {
			source = a
			opts = opts[1:]
		}
	}
	cfg := config.Default()
	for i := range opts {
		opts[i] = unquote(strings.TrimSpace(opts[i]))
	}
	if err := cfg.Apply(opts...); err != nil {
		return nil, fmt.Errorf("mtree: %w", err)
	}
	if err := ctx.Declare(fmt.Sprintf("CREATE TABLE %s(id TEXT, label TEXT, score REAL, k INTEGER HIDDEN)", args[2])); err != nil {
		return nil, err
	}
	return &Table{
		mod:    m,
		db:     m.db,
		dbName: args[1],
		name:   args[2],
		source: source,
		cfg:    cfg,
		logger: m.logger,
	}, nil
}

// BestIndex pushes down MATCH on id, equality on k and a lower bound on score.
func (t *Table) BestIndex(info *vtab.IndexInfo) error {
	var match, k, score *vtab.Constraint
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if !c.Usable {
			continue
		}
		switch {
		case c.Column == colID && c.Op == vtab.OpMATCH:
			match = c
		case c.Column == colK && c.Op == vtab.OpEQ:
			k = c
		case c.Column == colScore && (c.Op == vtab.OpGE || c.Op == vtab.OpGT):
			score = c
		}
	}
	if match == nil {
		if k != nil {
			return fmt.Errorf("mtree: k requires a MATCH constraint")
		}
		info.IdxNum = 0
		return nil
	}
	plan, next := planMatch, 0
	match.ArgIndex, match.Omit = next, true
	next++
	if k != nil {
		k.ArgIndex, k.Omit = next, true
		next++
		plan |= planK
	}
	if score != nil {
		score.ArgIndex, score.Omit = next, score.Op == vtab.OpGE
		plan |= planScore
	}
	info.IdxNum = plan
	return nil
}

// Open allocates a new cursor.
func (t *Table) Open() (vtab.Cursor, error) { return &Cursor{table: t}, nil }

// Disconnect releases nothing; the index cache is shared across connections.
func (t *Table) Disconnect() error { return nil }

// Destroy drops the cached index of the table.
func (t *Table) Destroy() error {
	InvalidateCache(t.source)
	return nil
}

// Filter computes the rows for the chosen plan.
func (c *Cursor) Filter(idxNum int, _ string, vals []vtab.Value) error {
	c.rows, c.pos = nil, 0
	if c.table == nil || c.table.db == nil {
		return nil
	}
	ctx := context.Background()
	if idxNum&planMatch == 0 {
		rows, err := c.table.scan(ctx)
		if err != nil {
			return err
		}
		c.rows = rows
		return nil
	}

	arg := 0
	next := func() (vtab.Value, error) {
		if arg >= len(vals) {
			return nil, fmt.Errorf("mtree: missing constraint argument %d", arg)
		}
		v := vals[arg]
		arg++
		return v, nil
	}
	v, err := next()
	if err != nil {
		return err
	}
	query, err := decodeMatchArg(v)
	if err != nil {
		return err
	}
	k := 0
	if idxNum&planK != 0 {
		if v, err = next(); err != nil {
			return err
		}
		f, err := asFloat(v)
		if err != nil {
			return err
		}
		k = int(f)
	}
	minScore, hasMin := 0.0, false
	if idxNum&planScore != 0 {
		if v, err = next(); err != nil {
			return err
		}
		if minScore, err = asFloat(v); err != nil {
			return err
		}
		hasMin = true
	}

	entry, err := c.table.ensureIndex(ctx)
	if err != nil {
		return err
	}
	ids, scores, err := entry.idx.Query(query, k)
	if err != nil {
		return err
	}
	out := make([]row, 0, len(ids))
	for i, id := range ids {
		if hasMin && scores[i] < minScore {
			continue
		}
		r, ok := entry.rows[id]
		if !ok {
			continue
		}
		r.score = sql.NullFloat64{Float64: scores[i], Valid: true}
		out = append(out, r)
	}
	c.rows = out
	return nil
}

// Next advances the cursor.
func (c *Cursor) Next() error {
	if c.pos < len(c.rows) {
		c.pos++
	}
	return nil
}

// Eof reports end-of-rows.
func (c *Cursor) Eof() bool { return c.pos >= len(c.rows) }

// Column returns the value of a column in the current row.
func (c *Cursor) Column(col int) (vtab.Value, error) {
	if c.pos >= len(c.rows) {
		return nil, fmt.Errorf("mtree: Column out of range (pos=%d,len=%d)", c.pos, len(c.rows))
	}
	r := c.rows[c.pos]
	switch col {
	case colID:
		return r.id, nil
	case colLabel:
		if !r.label.Valid {
			return nil, nil
		}
		return r.label.String, nil
	case colScore:
		if !r.score.Valid {
			return nil, nil
		}
		return r.score.Float64, nil
	case colK:
		return nil, nil
	}
	return nil, fmt.Errorf("mtree: unsupported column %d", col)
}

// Rowid returns the source rowid of the current row.
func (c *Cursor) Rowid() (int64, error) {
	if c.pos >= len(c.rows) {
		return 0, fmt.Errorf("mtree: Rowid out of range (pos=%d,len=%d)", c.pos, len(c.rows))
	}
	return c.rows[c.pos].rowid, nil
}

// Close releases resources.
func (c *Cursor) Close() error { c.rows, c.pos = nil, 0; return nil }

func (t *Table) scan(ctx context.Context) ([]row, error) {
	q := fmt.Sprintf("SELECT rowid, id, label FROM %s ORDER BY rowid", t.source)
	rows, err := t.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.rowid, &r.id, &r.label); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ensureIndex returns the cached index of the source table, building it on
// first use or after invalidation.
func (t *Table) ensureIndex(ctx context.Context) (*snapshot, error) {
	entry := getCacheEntry(cacheKey(t.mod, t.dbName, t.source))
	if s := entry.get(); s != nil {
		return s, nil
	}
	if !entry.startBuild() {
		if s := entry.waitForBuild(); s != nil {
			return s, nil
		}
		return t.ensureIndex(ctx)
	}
	defer entry.finishBuild()
	s, err := t.build(ctx)
	if err != nil {
		return nil, err
	}
	entry.set(s)
	return s, nil
}

func (t *Table) build(ctx context.Context) (*snapshot, error) {
	q := fmt.Sprintf("SELECT rowid, id, label, embedding FROM %s WHERE embedding IS NOT NULL ORDER BY rowid", t.source)
	rows, err := t.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	s := &snapshot{source: t.source, rows: make(map[string]row)}
	var ids []string
	var vectors [][]float32
	for rows.Next() {
		var r row
		var blob []byte
		if err := rows.Scan(&r.rowid, &r.id, &r.label, &blob); err != nil {
			return nil, err
		}
		vec, err := vector.DecodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("mtree: %s row %q: %w", t.source, r.id, err)
		}
		if len(vec) == 0 {
			continue
		}
		ids = append(ids, r.id)
		vectors = append(vectors, vec)
		s.rows[r.id] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	idx, err := tree.New(t.cfg.Distance, tree.WithTreeOptions(t.cfg.TreeOptions()...), tree.WithLogger(t.logger))
	if err != nil {
		return nil, err
	}
	if err := idx.Build(ids, vectors); err != nil {
		return nil, err
	}
	s.idx = idx
	return s, nil
}

// InstallTriggers creates triggers on source that drop the cached index on
// every insert, update or delete.
func InstallTriggers(ctx context.Context, db *sql.DB, source string) error {
	base := sanitizeName("trg_mtree_" + source)
	inv := `SELECT mtree_invalidate(` + quoteLiteral(source) + `);`
	for _, ev := range []string{"INSERT", "UPDATE", "DELETE"} {
		stmt := fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_%s AFTER %s ON %s BEGIN %s END;`,
			base, strings.ToLower(ev[:3]), ev, source, inv)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mtree: trigger on %s: %w", source, err)
		}
	}
	return nil
}

// invalidateFunc implements mtree_invalidate(source TEXT) -> INT.
func invalidateFunc(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 1 {
		return int64(0), nil
	}
	s, err := asString(args[0])
	if err != nil {
		return int64(0), nil
	}
	return int64(InvalidateCache(s)), nil
}

func decodeMatchArg(v vtab.Value) ([]float32, error) {
	switch val := v.(type) {
	case []byte:
		return vector.DecodeEmbedding(val)
	case string:
		return decodeMatchString(val)
	default:
		return nil, fmt.Errorf("mtree: expected MATCH arg as BLOB or string, got %T", v)
	}
}

// decodeMatchString accepts a JSON array or a comma separated list of floats.
func decodeMatchString(raw string) ([]float32, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("mtree: MATCH string is empty")
	}
	if strings.HasPrefix(s, "[") {
		var floats []float32
		if err := json.Unmarshal([]byte(s), &floats); err != nil {
			return nil, fmt.Errorf("mtree: invalid MATCH array: %w", err)
		}
		return floats, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("mtree: invalid MATCH float %q: %w", p, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}

func asFloat(v vtab.Value) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int64:
		return float64(val), nil
	case []byte:
		return strconv.ParseFloat(string(val), 64)
	case string:
		return strconv.ParseFloat(val, 64)
	default:
		return 0, fmt.Errorf("mtree: unsupported numeric type %T", v)
	}
}

func asString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	default:
		return "", fmt.Errorf("mtree: unsupported text type %T", v)
	}
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func sanitizeName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
