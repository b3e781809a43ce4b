package engine

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/SystemsGenetics/ACE-sub002/internal/cluster"
	"github.com/SystemsGenetics/ACE-sub002/internal/example"
	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/config"
	"github.com/SystemsGenetics/ACE-sub002/pkg/data"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metadata"
	"github.com/SystemsGenetics/ACE-sub002/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name  string
		plan  Plan
		valid bool
	}{
		{"first", Plan{Index: 0, Size: 4}, true},
		{"last", Plan{Index: 3, Size: 4}, true},
		{"single", Plan{Index: 0, Size: 1}, true},
		{"zero size", Plan{Index: 0, Size: 0}, false},
		{"index past size", Plan{Index: 4, Size: 4}, false},
		{"negative index", Plan{Index: -1, Size: 4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument), "got %v", err)
		})
	}
}

func TestPlanRangeCoversAllBlocks(t *testing.T) {
	for _, total := range []int{0, 1, 3, 10, 17} {
		for size := 1; size <= 6; size++ {
			next := 0
			for i := 0; i < size; i++ {
				start, end := Plan{Index: i, Size: size}.Range(total)
				assert.Equal(t, next, start, "total %d size %d index %d", total, size, i)
				assert.LessOrEqual(t, start, end)
				next = end
			}
			assert.Equal(t, total, next, "total %d size %d", total, size)
		}
	}

	start, end := Plan{Index: 1, Size: 4}.Range(10)
	assert.Equal(t, 3, start)
	assert.Equal(t, 6, end)
}

func TestChunkPath(t *testing.T) {
	cfg := config.Default().Chunk
	assert.Equal(t, filepath.Join("/data", "out.num.chunk2.abd"), ChunkPath(&cfg, "/data/out.num", 2))

	cfg.Dir = "/scratch"
	cfg.Prefix = "part"
	assert.Equal(t, filepath.Join("/scratch", "out.num.part0.abd"), ChunkPath(&cfg, "/data/out.num", 0))
}

// rejectName fails Execute for the block named by "at".
const rejectName = "reject"

type rejectAnalytic struct {
	at  int
	out *os.File
}

func (a *rejectAnalytic) Inputs() []analytic.Input {
	return []analytic.Input{
		{Name: "out", Type: analytic.FileOut, Required: true},
		{Name: "at", Type: analytic.Integer, Default: "3"},
	}
}

func (a *rejectAnalytic) Initialize(env *analytic.Env) error {
	a.at = int(env.Args.Int("at"))
	if env.HasOutputs() {
		f, err := env.File("out")
		if err != nil {
			return err
		}
		a.out = f
	}
	return nil
}

func (a *rejectAnalytic) Size() int { return 8 }

func (a *rejectAnalytic) MakeWork(index int) (analytic.Block, error) {
	return analytic.Block{Index: index, Data: []byte{byte(index)}}, nil
}

func (a *rejectAnalytic) Execute(_ context.Context, work analytic.Block) (analytic.Block, error) {
	if work.Index == a.at {
		return analytic.Block{}, errors.Newf(errors.ErrorTypeInvalidArgument, "block %d rejected", work.Index)
	}
	return work, nil
}

func (a *rejectAnalytic) Process(result analytic.Block) error {
	_, err := a.out.Write(result.Data)
	return err
}

func (a *rejectAnalytic) Finish() error { return nil }

type EngineSuite struct {
	testutil.WorkspaceSuite
	kinds  *data.Kinds
	engine *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.WorkspaceSuite.SetupTest()
	kinds, err := example.Kinds()
	s.Require().NoError(err)
	s.kinds = kinds

	registry := analytic.NewRegistry()
	s.Require().NoError(example.Register(registry))
	s.Require().NoError(registry.Register(rejectName, "fails one block", func() analytic.Analytic { return &rejectAnalytic{} }))

	cfg := config.Default()
	cfg.Execution.Threads = 3
	cfg.Execution.BufferSize = 2
	cfg.Cluster.Compression = "lz4"
	cfg.Chunk.Compression = "zstd"
	manager := data.NewManager(kinds, data.WithLogger(s.Logger()))
	s.engine = New(manager, registry, cfg, WithLogger(s.Logger()))
}

func (s *EngineSuite) job(name string, raw map[string]string) Job {
	job, err := s.engine.NewJob(name, raw)
	s.Require().NoError(err)
	return job
}

// importNumbers runs the import analytic over values and returns the
// integer array path.
func (s *EngineSuite) importNumbers(name string, values []int32) string {
	var text strings.Builder
	for _, v := range values {
		text.WriteString(strconv.Itoa(int(v)))
		text.WriteByte(' ')
	}
	in := s.CreateTempFile(name+".txt", []byte(text.String()))
	out := s.Path(name + ".num")
	job := s.job(example.ImportName, map[string]string{"in": in, "out": out, "increment": "3"})
	s.Require().NoError(s.engine.RunSingle(s.Context(), job))
	return out
}

func (s *EngineSuite) readNumbers(path string) []int32 {
	obj, err := data.OpenReadOnly(path, s.kinds, s.Logger())
	s.Require().NoError(err)
	defer obj.Close()
	s.Require().NoError(obj.Expect(example.IntegerArrayID))
	return obj.Payload().(*example.IntegerArray).Numbers
}

func sequence(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(i*7 - 20)
	}
	return out
}

func shifted(values []int32, amount int32) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = v + amount
	}
	return out
}

func (s *EngineSuite) transformJob(in, out string, amount int) Job {
	return s.job(example.MathTransformName, map[string]string{
		"in": in, "out": out, "type": example.OpAddition, "amount": strconv.Itoa(amount),
	})
}

func (s *EngineSuite) TestSingleRun() {
	values := sequence(10)
	in := s.importNumbers("numbers", values)
	s.Equal(values, s.readNumbers(in))

	out := s.Path("shifted.num")
	job := s.transformJob(in, out, 5)
	s.Require().NoError(s.engine.RunSingle(s.Context(), job))
	s.Equal(shifted(values, 5), s.readNumbers(out))

	obj, err := data.OpenReadOnly(out, s.kinds, s.Logger())
	s.Require().NoError(err)
	defer obj.Close()
	name, ok := obj.SystemMeta().Lookup("run", "analytic")
	s.Require().True(ok)
	got, _ := name.AsString()
	s.Equal(example.MathTransformName, got)

	fp, err := job.Fingerprint()
	s.Require().NoError(err)
	stamped, ok := obj.SystemMeta().Lookup("run", "fingerprint")
	s.Require().True(ok)
	text, _ := stamped.AsString()
	s.Equal(fp.String(), text)
	s.Equal(0, s.engine.manager.Len())
}

func (s *EngineSuite) TestExportWritesText() {
	in := s.importNumbers("numbers", []int32{4, -2, 9})
	out := s.Path("numbers.txt")
	job := s.job(example.ExportName, map[string]string{"in": in, "out": out, "increment": "2"})
	s.Require().NoError(s.engine.RunSingle(s.Context(), job))

	content, err := os.ReadFile(out)
	s.Require().NoError(err)
	s.Equal("4\n-2\n9\n", string(content))
}

func (s *EngineSuite) TestMissingInput() {
	job := s.transformJob(s.Path("absent.num"), s.Path("out.num"), 1)
	err := s.engine.RunSingle(s.Context(), job)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeIO), "got %v", err)
}

func (s *EngineSuite) TestDivisionByZeroRejected() {
	in := s.importNumbers("numbers", sequence(3))
	job := s.job(example.MathTransformName, map[string]string{
		"in": in, "out": s.Path("out.num"), "type": example.OpDivision, "amount": "0",
	})
	err := s.engine.RunSingle(s.Context(), job)
	s.True(errors.IsType(err, errors.ErrorTypeInvalidArgument), "got %v", err)
}

func (s *EngineSuite) runChunks(job Job, size int, indices ...int) {
	for _, i := range indices {
		path, err := s.engine.RunChunk(s.Context(), job, Plan{Index: i, Size: size})
		s.Require().NoError(err)
		s.FileExists(path)
	}
}

func (s *EngineSuite) TestChunkMergeMatchesSingle() {
	values := sequence(11)
	in := s.importNumbers("numbers", values)
	out := s.Path("merged.num")
	job := s.transformJob(in, out, 3)

	s.runChunks(job, 4, 3, 0, 2, 1)
	s.NoFileExists(out)
	s.Require().NoError(s.engine.RunMerge(s.Context(), job, 4))
	s.Equal(shifted(values, 3), s.readNumbers(out))

	for i := 0; i < 4; i++ {
		s.NoFileExists(ChunkPath(&s.engine.cfg.Chunk, out, i))
	}
}

func (s *EngineSuite) TestMergeKeepsChunks() {
	s.engine.cfg.Chunk.Keep = true
	in := s.importNumbers("numbers", sequence(5))
	out := s.Path("merged.num")
	job := s.transformJob(in, out, 1)
	s.runChunks(job, 2, 0, 1)
	s.Require().NoError(s.engine.RunMerge(s.Context(), job, 2))
	s.FileExists(ChunkPath(&s.engine.cfg.Chunk, out, 1))
}

func (s *EngineSuite) TestMergeMissingChunk() {
	in := s.importNumbers("numbers", sequence(8))
	out := s.Path("merged.num")
	job := s.transformJob(in, out, 1)
	s.runChunks(job, 4, 0, 1, 3)

	err := s.engine.RunMerge(s.Context(), job, 4)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeMissingChunk), "got %v", err)
	s.NoFileExists(out)
}

func (s *EngineSuite) TestMergeFingerprintMismatch() {
	in := s.importNumbers("numbers", sequence(8))
	out := s.Path("merged.num")
	job := s.transformJob(in, out, 1)
	s.runChunks(job, 4, 0, 2, 3)
	s.runChunks(s.transformJob(in, out, 2), 4, 1)

	err := s.engine.RunMerge(s.Context(), job, 4)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeArgumentMismatch), "got %v", err)
	s.NoFileExists(out)
}

func (s *EngineSuite) TestMergeWrongSize() {
	in := s.importNumbers("numbers", sequence(8))
	out := s.Path("merged.num")
	job := s.transformJob(in, out, 1)
	s.runChunks(job, 2, 0, 1)

	err := s.engine.RunMerge(s.Context(), job, 3)
	s.Require().Error(err)
	s.NoFileExists(out)
}

// editChunk rewrites one field of a chunk file's run record.
func (s *EngineSuite) editChunk(path, key string, v *metadata.Value) {
	obj, err := data.Open(path, s.kinds, s.Logger())
	s.Require().NoError(err)
	defer obj.Close()
	sys := obj.SystemMeta().Clone()
	record, ok := sys.Get(metaChunk)
	s.Require().True(ok)
	s.Require().NoError(record.Set(key, v))
	s.Require().NoError(obj.SetSystemMeta(sys))
	s.Require().NoError(obj.Flush())
}

// failedMergeKeepsOutput runs a good single transform into out, then a
// merge whose chunk 1 was damaged by damage, and checks the merge fails
// with corrupt_data while out still holds the single run's result.
func (s *EngineSuite) failedMergeKeepsOutput(damage func(chunk string)) {
	values := sequence(8)
	in := s.importNumbers("numbers", values)
	out := s.Path("merged.num")
	s.Require().NoError(s.engine.RunSingle(s.Context(), s.transformJob(in, out, 1)))

	job := s.transformJob(in, out, 1)
	s.runChunks(job, 2, 0, 1)
	damage(ChunkPath(&s.engine.cfg.Chunk, out, 1))

	err := s.engine.RunMerge(s.Context(), job, 2)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeCorruptData), "got %v", err)
	s.Equal(shifted(values, 1), s.readNumbers(out))
	s.NoFileExists(out + ".tmp")
	s.Equal(0, s.engine.manager.Len())
}

func (s *EngineSuite) TestMergeOverlappingChunkKeepsOutput() {
	s.failedMergeKeepsOutput(func(chunk string) {
		s.editChunk(chunk, metaStart, metadata.Double(0))
	})
}

func (s *EngineSuite) TestMergeUndecodableRecordKeepsOutput() {
	// records were written with zstd; claiming lz4 fails only during the fold
	s.failedMergeKeepsOutput(func(chunk string) {
		s.editChunk(chunk, metaCompression, metadata.String("lz4"))
	})
}

func (s *EngineSuite) TestMergeRejectsOpenOutput() {
	in := s.importNumbers("numbers", sequence(4))
	out := s.Path("merged.num")
	job := s.transformJob(in, out, 1)
	s.runChunks(job, 2, 0, 1)

	ref, err := s.engine.manager.Open(out)
	s.Require().NoError(err)
	defer ref.Release()
	err = s.engine.RunMerge(s.Context(), job, 2)
	s.True(errors.IsType(err, errors.ErrorTypeConflict), "got %v", err)
}

func (s *EngineSuite) TestFailedChunkPublishesNothing() {
	out := s.Path("rejected.bin")
	job := s.job(rejectName, map[string]string{"out": out, "at": "1"})

	_, err := s.engine.RunChunk(s.Context(), job, Plan{Index: 0, Size: 2})
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeInvalidArgument), "got %v", err)
	path := ChunkPath(&s.engine.cfg.Chunk, out, 0)
	s.NoFileExists(path)
	s.NoFileExists(path + ".tmp")

	// the second half never reaches block 1
	_, err = s.engine.RunChunk(s.Context(), job, Plan{Index: 1, Size: 2})
	s.NoError(err)
}

func (s *EngineSuite) TestRunLocalMatchesSingle() {
	values := sequence(40)
	in := s.importNumbers("numbers", values)
	out := s.Path("local.num")
	s.Require().NoError(s.engine.RunLocal(s.Context(), s.transformJob(in, out, -4), 3))
	s.Equal(shifted(values, -4), s.readNumbers(out))
	s.Equal(0, s.engine.manager.Len())
}

func (s *EngineSuite) TestRunLocalWorkerFailure() {
	job := s.job(rejectName, map[string]string{"out": s.Path("rejected.bin"), "at": "5"})
	err := s.engine.RunLocal(s.Context(), job, 2)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeInvalidArgument), "got %v", err)
}

func (s *EngineSuite) TestServeRejectsFingerprintMismatch() {
	in := s.importNumbers("numbers", sequence(4))
	job := s.transformJob(in, s.Path("out.num"), 1)
	canon, err := job.Args.Canonical()
	s.Require().NoError(err)

	coordinator, worker := cluster.Pipe()
	defer coordinator.Close()
	served := make(chan error, 1)
	go func() { served <- s.engine.Serve(s.Context(), worker, 1) }()

	s.Require().NoError(coordinator.Send(s.Context(), &cluster.Message{
		Kind:        cluster.Assign,
		Rank:        1,
		Analytic:    job.Analytic,
		Args:        canon,
		Fingerprint: make([]byte, 32),
		Compression: "none",
	}))
	m, err := coordinator.Recv(s.Context())
	s.Require().NoError(err)
	s.Equal(cluster.Failure, m.Kind)
	s.Equal(-1, m.Index)
	s.Equal(string(errors.ErrorTypeArgumentMismatch), m.ErrorType)

	err = <-served
	s.True(errors.IsType(err, errors.ErrorTypeArgumentMismatch), "got %v", err)
}

func (s *EngineSuite) TestCoordinateOverTCP() {
	testutil.IntegrationTest(s.T())
	values := sequence(12)
	in := s.importNumbers("numbers", values)
	out := s.Path("tcp.num")
	job := s.transformJob(in, out, 9)

	ln, err := cluster.Listen("127.0.0.1:0", s.Logger())
	s.Require().NoError(err)
	defer ln.Close()

	served := make(chan error, 2)
	for rank := 1; rank <= 2; rank++ {
		go func(rank int) {
			c, err := cluster.Dial(s.Context(), ln.Addr().String())
			if err != nil {
				served <- err
				return
			}
			defer c.Close()
			served <- s.engine.Serve(s.Context(), c, rank)
		}(rank)
	}

	conns, err := s.engine.Gather(s.Context(), ln, 2)
	s.Require().NoError(err)
	s.Require().NoError(s.engine.Coordinate(s.Context(), job, conns))
	for _, c := range conns {
		c.Close()
	}
	s.NoError(<-served)
	s.NoError(<-served)
	s.Equal(shifted(values, 9), s.readNumbers(out))
}

func TestCoordinateWithoutWorkersRunsSingle(t *testing.T) {
	kinds, err := example.Kinds()
	require.NoError(t, err)
	registry := analytic.NewRegistry()
	require.NoError(t, example.Register(registry))
	e := New(data.NewManager(kinds), registry, nil, WithLogger(testutil.TestLogger(t)))

	dir := t.TempDir()
	in := testutil.WriteFile(t, dir, "in.txt", []byte("1 2 3"))
	job, err := e.NewJob(example.ImportName, map[string]string{"in": in, "out": filepath.Join(dir, "out.num")})
	require.NoError(t, err)

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	require.NoError(t, e.Coordinate(ctx, job, nil))
	assert.True(t, testutil.FileExists(filepath.Join(dir, "out.num")))
}
