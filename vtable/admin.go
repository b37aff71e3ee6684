package vtable

import (
	"fmt"
	"sort"
	"strings"

	"modernc.org/sqlite/vtab"
)

// StatsModuleName lists the indexes cached by the mtree module:
//
//	CREATE VIRTUAL TABLE mtree_stats USING mtree_stats;
//	SELECT source, size, height, status FROM mtree_stats;
//
// status is "ok" or the first structural violation found in the tree.
const StatsModuleName = "mtree_stats"

type statsModule struct{ owner *Module }

type statsTable struct{ owner *Module }

type statsRow struct {
	source string
	size   int64
	height int64
	status string
}

type statsCursor struct {
	table *statsTable
	rows  []statsRow
	pos   int
}

func (m *statsModule) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.Connect(ctx, args)
}

func (m *statsModule) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("mtree_stats: need at least 3 args")
	}
	if err := ctx.Declare(fmt.Sprintf("CREATE TABLE %s(source TEXT, size INTEGER, height INTEGER, status TEXT)", args[2])); err != nil {
		return nil, err
	}
	return &statsTable{owner: m.owner}, nil
}

func (t *statsTable) BestIndex(*vtab.IndexInfo) error { return nil }
func (t *statsTable) Open() (vtab.Cursor, error)      { return &statsCursor{table: t}, nil }
func (t *statsTable) Disconnect() error               { return nil }
func (t *statsTable) Destroy() error                  { return nil }

func (c *statsCursor) Filter(int, string, []vtab.Value) error {
	c.rows, c.pos = collectStats(c.table.owner), 0
	return nil
}

func (c *statsCursor) Next() error {
	if c.pos < len(c.rows) {
		c.pos++
	}
	return nil
}

func (c *statsCursor) Eof() bool { return c.pos >= len(c.rows) }

func (c *statsCursor) Column(col int) (vtab.Value, error) {
	if c.pos >= len(c.rows) {
		return nil, fmt.Errorf("mtree_stats: Column out of range")
	}
	r := c.rows[c.pos]
	switch col {
	case 0:
		return r.source, nil
	case 1:
		return r.size, nil
	case 2:
		return r.height, nil
	case 3:
		return r.status, nil
	}
	return nil, nil
}

func (c *statsCursor) Rowid() (int64, error) { return int64(c.pos + 1), nil }

func (c *statsCursor) Close() error { c.rows, c.pos = nil, 0; return nil }

// collectStats reports the built indexes owned by mod ordered by source.
func collectStats(mod *Module) []statsRow {
	prefix := fmt.Sprintf("%p|", mod)
	sharedCache.mu.RLock()
	var entries []*cacheEntry
	for k, entry := range sharedCache.byKey {
		if strings.HasPrefix(k, prefix) {
			entries = append(entries, entry)
		}
	}
	sharedCache.mu.RUnlock()

	var out []statsRow
	for _, entry := range entries {
		s := entry.get()
		if s == nil {
			continue
		}
		status := "ok"
		if err := s.idx.Validate(); err != nil {
			status = err.Error()
			if i := strings.IndexByte(status, '\n'); i >= 0 {
				status = status[:i]
			}
		}
		out = append(out, statsRow{
			source: s.source,
			size:   int64(s.idx.Len()),
			height: int64(s.idx.Height()),
			status: status,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].source < out[j].source })
	return out
}
