package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/viant/mtree/engine"
	"github.com/viant/mtree/index/bruteforce"
	"github.com/viant/mtree/index/tree"
	"github.com/viant/mtree/internal/config"
	"github.com/viant/mtree/mtree"
	"github.com/viant/mtree/store"
	"github.com/viant/mtree/vector"
	"github.com/viant/mtree/window"
)

func treeOptions(cmd *cobra.Command) ([]mtree.Option, error) {
	minCap, _ := cmd.Flags().GetInt("min")
	maxCap, _ := cmd.Flags().GetInt("max")
	split, _ := cmd.Flags().GetString("split")
	mode, err := mtree.ParseSplitMode(split)
	if err != nil {
		return nil, err
	}
	if err := mtree.CheckCapacity(minCap, maxCap); err != nil {
		return nil, err
	}
	return []mtree.Option{
		mtree.WithCapacity(minCap, maxCap),
		mtree.WithSplitMode(mode),
		mtree.WithLogger(newLogger(cmd).Logger),
	}, nil
}

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
		for j := range out[i] {
			out[i][j] = rng.Float32()
		}
	}
	return out
}

func runBench(cmd *cobra.Command, args []string) error {
	n, _ := cmd.Flags().GetInt("n")
	dim, _ := cmd.Flags().GetInt("dim")
	queries, _ := cmd.Flags().GetInt("queries")
	k, _ := cmd.Flags().GetInt("k")
	distance, _ := cmd.Flags().GetString("distance")
	seed, _ := cmd.Flags().GetInt64("seed")
	metric, err := vector.ParseDistanceFunction(distance)
	if err != nil {
		return err
	}
	opts, err := treeOptions(cmd)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(seed))
	vectors := randomVectors(rng, n, dim)
	ids := make([]string, n)
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}
	qs := randomVectors(rng, queries, dim)

	idx, err := tree.New(metric, tree.WithTreeOptions(opts...), tree.WithLogger(newLogger(cmd)))
	if err != nil {
		return err
	}
	started := time.Now()
	if err := idx.Build(ids, vectors); err != nil {
		return err
	}
	buildTime := time.Since(started)

	brute := bruteforce.New(metric)
	if err := brute.Build(ids, vectors); err != nil {
		return err
	}

	started = time.Now()
	results, err := idx.QueryBatch(cmd.Context(), qs, k)
	if err != nil {
		return err
	}
	treeTime := time.Since(started)

	started = time.Now()
	mismatches := 0
	for i, q := range qs {
		_, want, err := brute.Query(q, k)
		if err != nil {
			return err
		}
		got := results[i].Scores
		if len(got) != len(want) {
			mismatches++
			continue
		}
		for j := range want {
			if diff := want[j] - got[j]; diff > 1e-4 || diff < -1e-4 {
				mismatches++
				break
			}
		}
	}
	bruteTime := time.Since(started)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "vectors=%d dim=%d height=%d build=%s\n", n, dim, idx.Height(), buildTime)
	fmt.Fprintf(out, "queries=%d k=%d tree=%s brute=%s mismatches=%d\n", queries, k, treeTime, bruteTime, mismatches)
	if mismatches > 0 {
		return fmt.Errorf("bench: %d queries differ from brute force", mismatches)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	n, _ := cmd.Flags().GetInt("n")
	seed, _ := cmd.Flags().GetInt64("seed")
	opts, err := treeOptions(cmd)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(seed))
	opts = append(opts, mtree.WithRand(rng))
	t, err := mtree.New(func(a, b [2]float64) float64 {
		return math.Hypot(a[0]-b[0], a[1]-b[1])
	}, opts...)
	if err != nil {
		return err
	}

	var live [][2]float64
	adds, removes, evicted := 0, 0, 0
	for step := range n {
		switch r := rng.Float64(); {
		case r < 0.6 || len(live) == 0:
			p := [2]float64{rng.Float64(), rng.Float64()}
			t.Add(p)
			live = append(live, p)
			adds++
		case r < 0.95:
			i := rng.Intn(len(live))
			if !t.Remove(live[i]) {
				return fmt.Errorf("check: step %d: element %v not found", step, live[i])
			}
			live = slices.Delete(live, i, i+1)
			removes++
		default:
			removed := t.RemoveN(1+rng.Intn(5), nil)
			for _, p := range removed {
				if i := slices.Index(live, p); i >= 0 {
					live = slices.Delete(live, i, i+1)
				}
			}
			evicted += len(removed)
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("check: step %d: %w", step, err)
		}
		if t.Len() != len(live) {
			return fmt.Errorf("check: step %d: size %d, expected %d", step, t.Len(), len(live))
		}
	}
	stats := t.SplitStats()
	fmt.Fprintf(cmd.OutOrStdout(), "ok steps=%d adds=%d removes=%d evicted=%d size=%d height=%d splits=%d\n",
		n, adds, removes, evicted, t.Len(), t.Height(), stats.Count)
	return nil
}

func parseVector(fields []string) ([]float32, error) {
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}

func runStream(cmd *cobra.Command, args []string) error {
	k, _ := cmd.Flags().GetInt("k")
	path, _ := cmd.Flags().GetString("config")
	overrides, _ := cmd.Flags().GetStringArray("set")
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}
	if err := cfg.Apply(overrides...); err != nil {
		return err
	}
	w, err := window.New(cfg, newLogger(cmd))
	if err != nil {
		return err
	}

	reader := csv.NewReader(bufio.NewReader(cmd.InOrStdin()))
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	out := cmd.OutOrStdout()
	rows, correct := 0, 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if len(record) < 2 {
			return fmt.Errorf("stream: row %d: want label and at least one value", rows+1)
		}
		vec, err := parseVector(record[1:])
		if err != nil {
			return fmt.Errorf("stream: row %d: %w", rows+1, err)
		}
		label := strings.TrimSpace(record[0])
		predicted := vote(w.Nearest(vec, k))
		if predicted == label {
			correct++
		}
		fmt.Fprintf(out, "%d,%s,%s\n", rows, label, predicted)
		if _, err := w.Add(&window.Instance{
			Point: vector.NewPoint(strconv.Itoa(rows), vec),
			Label: label,
			Time:  time.Unix(int64(rows), 0),
		}); err != nil {
			return fmt.Errorf("stream: row %d: %w", rows+1, err)
		}
		rows++
	}
	if rows > 0 {
		fmt.Fprintf(out, "# rows=%d accuracy=%.4f window=%d\n", rows, float64(correct)/float64(rows), w.Len())
	}
	return nil
}

// vote returns the majority label, preferring the nearer neighbour on ties.
func vote(neighbours []window.Neighbour) string {
	counts := map[string]int{}
	best, bestCount := "", 0
	for _, n := range neighbours {
		counts[n.Label]++
	}
	for _, n := range neighbours {
		if c := counts[n.Label]; c > bestCount {
			best, bestCount = n.Label, c
		}
	}
	return best
}

func runLoad(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	query, _ := cmd.Flags().GetString("query")
	k, _ := cmd.Flags().GetInt("k")
	distance, _ := cmd.Flags().GetString("distance")
	importPath, _ := cmd.Flags().GetString("import")
	metric, err := vector.ParseDistanceFunction(distance)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := engine.RegisterVectorFunctions(nil); err != nil {
		return err
	}
	db, err := engine.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	idx, err := tree.New(metric, tree.WithLogger(newLogger(cmd)))
	if err != nil {
		return err
	}
	s, err := store.NewSQLiteStore(ctx, db, idx)
	if err != nil {
		return err
	}
	if importPath != "" {
		records, err := readRecords(importPath)
		if err != nil {
			return err
		}
		if err := s.Put(ctx, records); err != nil {
			return err
		}
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "records=%d height=%d\n", idx.Len(), idx.Height())
	if query == "" {
		return nil
	}
	q, err := parseVector(strings.Split(query, ","))
	if err != nil {
		return fmt.Errorf("load: query: %w", err)
	}
	matches, err := s.SimilaritySearch(ctx, q, k)
	if err != nil {
		return err
	}
	for _, m := range matches {
		fmt.Fprintf(out, "%s\t%s\t%s\t%.6f\n", m.ID, m.Label, m.Time.Format(time.RFC3339), m.Score)
	}
	return nil
}

func readRecords(path string) ([]store.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	records := make([]store.Record, 0, len(rows))
	for i, row := range rows {
		if len(row) < 4 {
			return nil, fmt.Errorf("load: row %d: want id,label,unix_seconds,values", i+1)
		}
		sec, err := strconv.ParseInt(strings.TrimSpace(row[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("load: row %d: time: %w", i+1, err)
		}
		vec, err := parseVector(row[3:])
		if err != nil {
			return nil, fmt.Errorf("load: row %d: %w", i+1, err)
		}
		records = append(records, store.Record{
			ID:        strings.TrimSpace(row[0]),
			Label:     strings.TrimSpace(row[1]),
			Time:      time.Unix(sec, 0).UTC(),
			Embedding: vec,
		})
	}
	return records, nil
}
