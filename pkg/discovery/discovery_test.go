package discovery

import (
	"context"
	"flag"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore"
	"go.uber.org/goleak"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
	"github.com/grafana/arrow-dataset/pkg/dataset"
	"github.com/grafana/arrow-dataset/pkg/expr"
	"github.com/grafana/arrow-dataset/pkg/filesystem"
	"github.com/grafana/arrow-dataset/pkg/format"
	"github.com/grafana/arrow-dataset/pkg/partition"
	"github.com/grafana/arrow-dataset/pkg/util/arrowtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func createFiles(t *testing.T, fs filesystem.FileSystem, files map[string]string) {
	t.Helper()
	for p, content := range files {
		require.NoError(t, filesystem.CreateFile(context.Background(), fs, p, content))
	}
}

func field(name string, dt arrow.DataType) arrow.Field {
	return arrow.Field{Name: name, Type: dt, Nullable: true}
}

func scanRows(t *testing.T, builder *dataset.ScannerBuilder) arrowtest.Rows {
	t.Helper()

	scanner, err := builder.Finish()
	require.NoError(t, err)

	tbl, err := scanner.ToTable(context.Background())
	require.NoError(t, err)
	defer tbl.Release()

	return arrowtest.TableRows(t, tbl)
}

var salesSchema = arrow.NewSchema([]arrow.Field{
	field("region", arrow.BinaryTypes.String),
	field("model", arrow.BinaryTypes.String),
	field("sales", arrow.PrimitiveTypes.Float64),
	field("year", arrow.PrimitiveTypes.Int32),
	field("month", arrow.PrimitiveTypes.Int32),
	field("country", arrow.BinaryTypes.String),
}, nil)

var salesFiles = map[string]string{
	"/dataset/2018/01/US/dat.json": `[
		{"region": "NY", "model": "3", "sales": 742.0},
		{"region": "NY", "model": "S", "sales": 304.125},
		{"region": "NY", "model": "X", "sales": 136.25},
		{"region": "NY", "model": "Y", "sales": 27.5}
	]`,
	"/dataset/2018/01/CA/dat.json": `[
		{"region": "CA", "model": "3", "sales": 512},
		{"region": "CA", "model": "S", "sales": 978},
		{"region": "CA", "model": "X", "sales": 1.0},
		{"region": "CA", "model": "Y", "sales": 69}
	]`,
	"/dataset/2019/01/US/dat.json": `[
		{"region": "QC", "model": "3", "sales": 273.5},
		{"region": "QC", "model": "S", "sales": 13},
		{"region": "QC", "model": "X", "sales": 54},
		{"region": "QC", "model": "Y", "sales": 21}
	]`,
	"/dataset/2019/01/CA/dat.json": `[
		{"region": "QC", "model": "3", "sales": 152.25},
		{"region": "QC", "model": "S", "sales": 10},
		{"region": "QC", "model": "X", "sales": 42},
		{"region": "QC", "model": "Y", "sales": 37}
	]`,
	"/dataset/.pesky": "garbage content",
}

func TestEndToEnd(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	ctx := context.Background()
	fs := filesystem.NewBucketFileSystem(objstore.NewInMemBucket())
	createFiles(t, fs, salesFiles)

	// Files hold the physical columns only; the partition scheme provides
	// the other ones from the directories.
	formatSchema := arrow.NewSchema(salesSchema.Fields()[:3], nil)
	discovery, err := New(ctx, fs,
		filesystem.Selector{BaseDir: "/dataset", Recursive: true},
		&format.JSON{Schema: formatSchema},
		Options{IgnorePrefixes: []string{"."}},
	)
	require.NoError(t, err)

	discovery.SetPartitionScheme(partition.NewPositional(arrow.NewSchema(salesSchema.Fields()[3:], nil)))

	inspected, err := discovery.Inspect(ctx)
	require.NoError(t, err)
	require.True(t, salesSchema.Equal(inspected), "got %s", inspected)

	source, err := discovery.Finish(ctx)
	require.NoError(t, err)
	require.Len(t, source.Fragments(), 4)

	ds, err := dataset.Make([]dataset.Source{source}, inspected)
	require.NoError(t, err)

	builder := ds.NewScan().Allocator(alloc)
	require.NoError(t, builder.Project([]string{"sales", "model", "country"}))
	require.NoError(t, builder.Filter(expr.AndOf(
		expr.Col("year").Eq(int32(2019)),
		expr.Col("sales").Gt(100.0),
	)))

	require.Equal(t, arrowtest.Rows{
		{"sales": 152.25, "model": "3", "country": "CA"},
		{"sales": 273.5, "model": "3", "country": "US"},
	}, scanRows(t, builder))
}

func TestFileSystemDiscovery_Files(t *testing.T) {
	ctx := context.Background()
	fs := filesystem.NewAferoFileSystem(afero.NewMemMapFs())
	createFiles(t, fs, map[string]string{
		"/data/year=2019/a.json":         "[]",
		"/data/year=2019/_SUCCESS":       "",
		"/data/year=2020/b.json":         "[]",
		"/data/year=2020/tmp/c.json":     "[]",
		"/data/year=2020/b.json.crc":     "",
		"/data/year=oops/d.json":         "[]",
		"/data/.hidden/year=2021/e.json": "[]",
	})

	discovery, err := New(ctx, fs,
		filesystem.Selector{BaseDir: "/data", Recursive: true},
		&format.JSON{},
		Options{ExcludeGlobs: []string{"**/tmp/**", "**/*.crc"}},
	)
	require.NoError(t, err)

	discovery.SetPartitionScheme(partition.NewKeyValue(arrow.NewSchema([]arrow.Field{
		field("year", arrow.PrimitiveTypes.Int32),
	}, nil)))

	var (
		paths      []string
		partitions []string
	)
	for _, f := range discovery.Files() {
		paths = append(paths, f.Path())
		partitions = append(partitions, f.Partition.String())
	}

	// Only base names are matched against the ignored prefixes.
	require.Equal(t, []string{
		"/data/.hidden/year=2021/e.json",
		"/data/year=2019/a.json",
		"/data/year=2020/b.json",
		"/data/year=oops/d.json",
	}, paths)
	require.Equal(t, []string{
		expr.Col("year").Eq(int32(2021)).String(),
		expr.Col("year").Eq(int32(2019)).String(),
		expr.Col("year").Eq(int32(2020)).String(),
		expr.True().String(),
	}, partitions)
}

func TestFileSystemDiscovery_PartitionBaseDir(t *testing.T) {
	ctx := context.Background()
	fs := filesystem.NewAferoFileSystem(afero.NewMemMapFs())
	createFiles(t, fs, map[string]string{
		"/root/2019/CA/a.json": "[]",
	})

	discovery, err := New(ctx, fs,
		filesystem.Selector{BaseDir: "/root/2019", Recursive: true},
		&format.JSON{},
		Options{PartitionBaseDir: "/root"},
	)
	require.NoError(t, err)

	discovery.SetPartitionScheme(partition.NewPositional(arrow.NewSchema([]arrow.Field{
		field("year", arrow.PrimitiveTypes.Int32),
		field("country", arrow.BinaryTypes.String),
	}, nil)))

	files := discovery.Files()
	require.Len(t, files, 1)
	require.True(t, expr.Equal(
		expr.AndOf(expr.Col("year").Eq(int32(2019)), expr.Col("country").Eq("CA")),
		files[0].Partition,
	), "got %s", files[0].Partition)
}

func TestFileSystemDiscovery_Errors(t *testing.T) {
	ctx := context.Background()
	fs := filesystem.NewAferoFileSystem(afero.NewMemMapFs())
	createFiles(t, fs, map[string]string{
		"/data/a.json": `[{"x": 1}]`,
		"/data/b.json": `[{"x": "one"}]`,
	})

	t.Run("missing base dir", func(t *testing.T) {
		_, err := New(ctx, fs, filesystem.Selector{BaseDir: "/nope"}, &format.JSON{}, Options{})
		require.ErrorIs(t, err, dserrors.ErrIO)

		discovery, err := New(ctx, fs, filesystem.Selector{BaseDir: "/nope", AllowNotFound: true}, &format.JSON{}, Options{})
		require.NoError(t, err)
		require.Empty(t, discovery.Files())
	})

	t.Run("invalid glob", func(t *testing.T) {
		_, err := New(ctx, fs, filesystem.Selector{BaseDir: "/data"}, &format.JSON{}, Options{ExcludeGlobs: []string{"[a-"}})
		require.ErrorIs(t, err, dserrors.ErrInvalid)
	})

	t.Run("conflicting file schemas", func(t *testing.T) {
		discovery, err := New(ctx, fs, filesystem.Selector{BaseDir: "/data"}, &format.JSON{}, Options{})
		require.NoError(t, err)

		_, err = discovery.Inspect(ctx)
		require.ErrorIs(t, err, dserrors.ErrType)
	})

	t.Run("partition type conflicts with file", func(t *testing.T) {
		discovery, err := New(ctx, fs, filesystem.Selector{BaseDir: "/data"}, &format.JSON{}, Options{
			ExcludeGlobs: []string{"b.json"},
		})
		require.NoError(t, err)
		discovery.SetPartitionScheme(partition.NewKeyValue(arrow.NewSchema([]arrow.Field{
			field("x", arrow.BinaryTypes.String),
		}, nil)))

		_, err = discovery.Inspect(ctx)
		require.ErrorIs(t, err, dserrors.ErrType)
	})
}

func TestFileSystemDiscovery_SchemaCache(t *testing.T) {
	ctx := context.Background()
	fs := filesystem.NewAferoFileSystem(afero.NewMemMapFs())
	createFiles(t, fs, map[string]string{
		"/data/a.json": `[{"x": 1}]`,
		"/data/b.json": `[{"y": true}]`,
	})

	cache, err := NewSchemaCache(16)
	require.NoError(t, err)

	for range 2 {
		discovery, err := New(ctx, fs, filesystem.Selector{BaseDir: "/data"}, &format.JSON{}, Options{SchemaCache: cache})
		require.NoError(t, err)

		schema, err := discovery.Inspect(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"x", "y"}, fieldNames(schema))
		require.Equal(t, 2, cache.Len())
	}

	// Rewriting a file invalidates its entry.
	createFiles(t, fs, map[string]string{"/data/a.json": `[{"x": 1, "z": 2}]`})

	discovery, err := New(ctx, fs, filesystem.Selector{BaseDir: "/data"}, &format.JSON{}, Options{SchemaCache: cache})
	require.NoError(t, err)
	schema, err := discovery.Inspect(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"x", "z", "y"}, fieldNames(schema))
}

func fieldNames(schema *arrow.Schema) []string {
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	return names
}

func TestUnify(t *testing.T) {
	a := arrow.NewSchema([]arrow.Field{
		{Name: "x", Type: arrow.PrimitiveTypes.Int32},
		field("y", arrow.BinaryTypes.String),
	}, nil)
	b := arrow.NewSchema([]arrow.Field{
		field("z", arrow.PrimitiveTypes.Int64),
		field("x", arrow.PrimitiveTypes.Int32),
	}, nil)

	unified, err := Unify(a, b)
	require.NoError(t, err)
	require.True(t, arrow.NewSchema([]arrow.Field{
		field("x", arrow.PrimitiveTypes.Int32),
		field("y", arrow.BinaryTypes.String),
		field("z", arrow.PrimitiveTypes.Int64),
	}, nil).Equal(unified), "got %s", unified)

	unified, err = Unify()
	require.NoError(t, err)
	require.Zero(t, unified.NumFields())

	_, err = Unify(a, arrow.NewSchema([]arrow.Field{field("x", arrow.PrimitiveTypes.Int64)}, nil))
	require.ErrorIs(t, err, dserrors.ErrType)
}

func TestConfig(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.PanicOnError)
	cfg.RegisterFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"-discovery.base-dir=/dataset",
		"-discovery.exclude-globs=**/tmp/**",
		"-discovery.partition.scheme=positional",
		"-discovery.partition.fields=year:int32,country",
	}))
	require.NoError(t, cfg.Validate())
	require.Equal(t, []string{".", "_"}, []string(cfg.IgnorePrefixes))
	require.Equal(t, filesystem.Selector{BaseDir: "/dataset", Recursive: true}, cfg.Selector())
	require.Equal(t, []string{"**/tmp/**"}, cfg.Options().ExcludeGlobs)

	cfg.ExcludeGlobs = []string{"[a-"}
	require.Error(t, cfg.Validate())
}

func int32Schema(names ...string) *arrow.Schema {
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		fields[i] = field(name, arrow.PrimitiveTypes.Int32)
	}
	return arrow.NewSchema(fields, nil)
}

// newUnificationDataset returns a dataset of two sources whose files each
// hold a different subset of the physical columns, partitioned by part_ds
// and part_df.
func newUnificationDataset(t *testing.T) *dataset.Dataset {
	t.Helper()

	const (
		ds1df1 = "/dataset/alpha/part_ds=1/part_df=1/data.json"
		ds1df2 = "/dataset/alpha/part_ds=1/part_df=2/data.json"
		ds2df1 = "/dataset/beta/part_ds=2/part_df=1/data.json"
		ds2df2 = "/dataset/beta/part_ds=2/part_df=2/data.json"
	)

	ctx := context.Background()
	fs := filesystem.NewBucketFileSystem(objstore.NewInMemBucket())
	createFiles(t, fs, map[string]string{
		ds1df1: `[{"phy_1": 111, "phy_2": 211}]`,
		ds1df2: `[{"phy_2": 212, "phy_3": 312}]`,
		ds2df1: `[{"phy_3": 321, "phy_4": 421}]`,
		ds2df2: `[{"phy_4": 422, "phy_2": 222}]`,
	})

	fileSchemas := map[string]*arrow.Schema{
		ds1df1: int32Schema("phy_1", "phy_2"),
		ds1df2: int32Schema("phy_2", "phy_3"),
		ds2df1: int32Schema("phy_3", "phy_4"),
		ds2df2: int32Schema("phy_4", "phy_2"),
	}
	jsonFormat := &format.JSON{Resolver: func(src format.FileSource) *arrow.Schema {
		return fileSchemas[src.Path]
	}}

	var sources []dataset.Source
	for _, base := range []string{"/dataset/alpha", "/dataset/beta"} {
		discovery, err := New(ctx, fs, filesystem.Selector{BaseDir: base, Recursive: true}, jsonFormat, Options{})
		require.NoError(t, err)
		discovery.SetPartitionScheme(partition.NewKeyValue(int32Schema("part_ds", "part_df")))

		source, err := discovery.Finish(ctx)
		require.NoError(t, err)
		sources = append(sources, source)
	}

	ds, err := dataset.Make(sources, int32Schema("phy_1", "phy_2", "phy_3", "phy_4", "part_ds", "part_df"))
	require.NoError(t, err)
	return ds
}

func TestSchemaUnification(t *testing.T) {
	ds := newUnificationDataset(t)

	tt := []struct {
		name    string
		project []string
		filter  expr.Expression
		want    arrowtest.Rows
	}{
		{
			name: "select star",
			want: arrowtest.Rows{
				{"phy_1": int32(111), "phy_2": int32(211), "phy_3": nil, "phy_4": nil, "part_ds": int32(1), "part_df": int32(1)},
				{"phy_1": nil, "phy_2": int32(212), "phy_3": int32(312), "phy_4": nil, "part_ds": int32(1), "part_df": int32(2)},
				{"phy_1": nil, "phy_2": nil, "phy_3": int32(321), "phy_4": int32(421), "part_ds": int32(2), "part_df": int32(1)},
				{"phy_1": nil, "phy_2": int32(222), "phy_3": nil, "phy_4": int32(422), "part_ds": int32(2), "part_df": int32(2)},
			},
		},
		{
			name:    "physical columns",
			project: []string{"phy_1", "phy_2", "phy_3", "phy_4"},
			want: arrowtest.Rows{
				{"phy_1": int32(111), "phy_2": int32(211), "phy_3": nil, "phy_4": nil},
				{"phy_1": nil, "phy_2": int32(212), "phy_3": int32(312), "phy_4": nil},
				{"phy_1": nil, "phy_2": nil, "phy_3": int32(321), "phy_4": int32(421)},
				{"phy_1": nil, "phy_2": int32(222), "phy_3": nil, "phy_4": int32(422)},
			},
		},
		{
			name:    "reordered physical columns",
			project: []string{"phy_2", "phy_1", "phy_4"},
			want: arrowtest.Rows{
				{"phy_2": int32(211), "phy_1": int32(111), "phy_4": nil},
				{"phy_2": int32(212), "phy_1": nil, "phy_4": nil},
				{"phy_2": nil, "phy_1": nil, "phy_4": int32(421)},
				{"phy_2": int32(222), "phy_1": nil, "phy_4": int32(422)},
			},
		},
		{
			name:    "physical columns filtered on partition columns",
			project: []string{"phy_2", "phy_3", "phy_4"},
			filter: expr.OrOf(
				expr.AndOf(expr.Col("part_df").Eq(int32(1)), expr.Col("phy_2").Eq(int32(211))),
				expr.AndOf(expr.Col("part_ds").Eq(int32(2)), expr.Col("phy_4").NotEq(int32(422))),
			),
			want: arrowtest.Rows{
				{"phy_2": int32(211), "phy_3": nil, "phy_4": nil},
				{"phy_2": nil, "phy_3": int32(321), "phy_4": int32(421)},
			},
		},
		{
			name:    "partition columns",
			project: []string{"part_ds", "part_df"},
			want: arrowtest.Rows{
				{"part_ds": int32(1), "part_df": int32(1)},
				{"part_ds": int32(1), "part_df": int32(2)},
				{"part_ds": int32(2), "part_df": int32(1)},
				{"part_ds": int32(2), "part_df": int32(2)},
			},
		},
		{
			name:    "partition columns filtered on physical column",
			project: []string{"part_df", "part_ds"},
			filter:  expr.Col("phy_1").Eq(int32(111)),
			want: arrowtest.Rows{
				{"part_df": int32(1), "part_ds": int32(1)},
			},
		},
		{
			name:    "mixed columns filtered on unselected column",
			project: []string{"part_df", "phy_3", "part_ds", "phy_1"},
			filter:  expr.Col("phy_2").GtEq(int32(212)),
			want: arrowtest.Rows{
				{"part_df": int32(2), "phy_3": int32(312), "part_ds": int32(1), "phy_1": nil},
				{"part_df": int32(2), "phy_3": nil, "part_ds": int32(2), "phy_1": nil},
			},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
			defer alloc.AssertSize(t, 0)

			builder := ds.NewScan().Allocator(alloc)
			if tc.project != nil {
				require.NoError(t, builder.Project(tc.project))
			}
			if tc.filter != nil {
				require.NoError(t, builder.Filter(tc.filter))
			}
			require.Equal(t, tc.want, scanRows(t, builder))
		})
	}
}
