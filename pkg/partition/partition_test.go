package partition

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/require"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
	"github.com/grafana/arrow-dataset/pkg/expr"
)

func requireExprEqual(t *testing.T, want, got expr.Expression) {
	t.Helper()
	require.True(t, expr.Equal(want, got), "want %s, got %s", want, got)
}

func TestPositional_Parse(t *testing.T) {
	scheme := NewPositional(arrow.NewSchema([]arrow.Field{
		{Name: "year", Type: arrow.PrimitiveTypes.Int32},
		{Name: "month", Type: arrow.PrimitiveTypes.Int32},
		{Name: "country", Type: arrow.BinaryTypes.String},
	}, nil))

	tt := []struct {
		path string
		want expr.Expression
	}{
		{
			path: "/2019/01/CA/dat.json",
			want: expr.AndOf(expr.Col("year").Eq(int32(2019)), expr.Col("month").Eq(int32(1)), expr.Col("country").Eq("CA")),
		},
		{
			path: "2018//08",
			want: expr.AndOf(expr.Col("year").Eq(int32(2018)), expr.Col("month").Eq(int32(8))),
		},
		{
			path: "/2018",
			want: expr.Col("year").Eq(int32(2018)),
		},
		{
			path: "/not-a-year/02",
			want: expr.Col("month").Eq(int32(2)),
		},
		{path: "", want: expr.True()},
		{path: "/", want: expr.True()},
	}

	for _, tc := range tt {
		t.Run(tc.path, func(t *testing.T) {
			requireExprEqual(t, tc.want, scheme.Parse(tc.path))
			// Parsing is pure.
			requireExprEqual(t, tc.want, scheme.Parse(tc.path))
		})
	}
}

func TestKeyValue_Parse(t *testing.T) {
	scheme := NewKeyValue(arrow.NewSchema([]arrow.Field{
		{Name: "part_ds", Type: arrow.PrimitiveTypes.Int32},
		{Name: "part_df", Type: arrow.PrimitiveTypes.Int32},
		{Name: "country", Type: arrow.BinaryTypes.String},
	}, nil))

	tt := []struct {
		path string
		want expr.Expression
	}{
		{
			path: "/part_ds=1/part_df=2/file.json",
			want: expr.AndOf(expr.Col("part_ds").Eq(int32(1)), expr.Col("part_df").Eq(int32(2))),
		},
		{
			path: "part_df=2/part_ds=1",
			want: expr.AndOf(expr.Col("part_df").Eq(int32(2)), expr.Col("part_ds").Eq(int32(1))),
		},
		{
			path: "/unknown=3/country=CA/part_ds=x/=4/noequals",
			want: expr.Col("country").Eq("CA"),
		},
		{path: "/a/b/c", want: expr.True()},
	}

	for _, tc := range tt {
		t.Run(tc.path, func(t *testing.T) {
			requireExprEqual(t, tc.want, scheme.Parse(tc.path))
		})
	}
}

func TestStripPrefix(t *testing.T) {
	require.Equal(t, "2019/01/CA/dat.json", StripPrefix("/dataset", "/dataset/2019/01/CA/dat.json"))
	require.Equal(t, "2019/01", StripPrefix("dataset/", "dataset/2019/01"))
	require.Equal(t, "other/file", StripPrefix("/dataset", "/other/file"))
	require.Equal(t, "datasets/x", StripPrefix("/dataset", "/datasets/x"))
	require.Equal(t, "x/y", StripPrefix("", "/x/y"))
	require.Equal(t, "", StripPrefix("/dataset", "/dataset"))
}

func TestJoin(t *testing.T) {
	a := expr.Col("a").Eq(int32(1))
	b := expr.AndOf(expr.Col("b").Eq(int32(2)), expr.Col("c").Eq(int32(3)))

	requireExprEqual(t, expr.True(), Join())
	requireExprEqual(t, a, Join(nil, expr.True(), a))
	requireExprEqual(t,
		expr.AndOf(a, expr.Col("b").Eq(int32(2)), expr.Col("c").Eq(int32(3))),
		Join(a, b),
	)
}

func TestConfig(t *testing.T) {
	cfg := Config{Scheme: SchemePositional, Fields: []string{"year:int32", "month:int32", "country"}}
	require.NoError(t, cfg.Validate())

	scheme, err := New(cfg)
	require.NoError(t, err)
	require.Equal(t, "positional", scheme.Name())
	require.Equal(t, 3, scheme.Schema().NumFields())
	require.Equal(t, arrow.BinaryTypes.String, scheme.Schema().Field(2).Type)

	none, err := New(Config{Scheme: SchemeNone})
	require.NoError(t, err)
	require.Nil(t, none)

	require.Error(t, (&Config{Scheme: "glob"}).Validate())
	require.Error(t, (&Config{Scheme: SchemeKeyValue}).Validate())
	require.Error(t, (&Config{Scheme: SchemeKeyValue, Fields: []string{"x:decimal"}}).Validate())

	_, err = ParseFields([]string{"x:int32", "x:int64"})
	require.ErrorIs(t, err, dserrors.ErrInvalid)
}
