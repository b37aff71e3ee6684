package engine

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/viant/mtree/vector"
	sqlite "modernc.org/sqlite"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterVectorFunctions registers vec_cosine, vec_l2 and vec_angular with
// the driver so they are available on connections opened after the first
// call. Later calls are no-ops.
func RegisterVectorFunctions(_ *sql.DB) error {
	registerOnce.Do(func() {
		registerErr = errors.Join(
			sqlite.RegisterDeterministicScalarFunction("vec_cosine", 2, scalar("vec_cosine", vector.CosineSimilarity)),
			sqlite.RegisterDeterministicScalarFunction("vec_l2", 2, scalar("vec_l2", vector.L2Distance)),
			sqlite.RegisterDeterministicScalarFunction("vec_angular", 2, scalar("vec_angular", angular)),
		)
	})
	return registerErr
}

func angular(a, b []float32) (float64, error) {
	sim, err := vector.CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	return math.Acos(max(-1, min(1, sim))), nil
}

// scalar adapts a binary embedding function to a SQL function. NULL
// arguments yield NULL.
func scalar(name string, fn func(a, b []float32) (float64, error)) func(*sqlite.FunctionContext, []driver.Value) (driver.Value, error) {
	return func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("%s: expected 2 arguments, got %d", name, len(args))
		}
		a, err := asEmbedding(name, args[0])
		if err != nil {
			return nil, err
		}
		b, err := asEmbedding(name, args[1])
		if err != nil {
			return nil, err
		}
		if a == nil || b == nil {
			return nil, nil
		}
		return fn(a, b)
	}
}

func asEmbedding(name string, arg driver.Value) ([]float32, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case []byte:
		return vector.DecodeEmbedding(v)
	default:
		return nil, fmt.Errorf("%s: unsupported argument type %T for embedding; want BLOB", name, arg)
	}
}
