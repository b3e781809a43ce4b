package example

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/data"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArray(t *testing.T, path string, values []int32) {
	t.Helper()
	kinds, err := Kinds()
	require.NoError(t, err)
	obj, err := data.Open(path, kinds, testutil.TestLogger(t))
	require.NoError(t, err)
	defer obj.Close()
	require.NoError(t, obj.Clear(IntegerArrayID))
	obj.Payload().(*IntegerArray).Numbers = values
	require.NoError(t, obj.Finish())
}

func readArray(t *testing.T, path string) (*data.Object, *IntegerArray) {
	t.Helper()
	kinds, err := Kinds()
	require.NoError(t, err)
	obj, err := data.OpenReadOnly(path, kinds, testutil.TestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { obj.Close() })
	return obj, obj.Payload().(*IntegerArray)
}

func TestIntegerArrayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.num")
	writeArray(t, path, []int32{3, -1, 2147483647})

	obj, arr := readArray(t, path)
	assert.Equal(t, []int32{3, -1, 2147483647}, arr.Numbers)
	assert.Equal(t, int64(16), obj.Size())
	assert.Equal(t, "integer_array", obj.Kind().Name)
}

func TestIntegerArrayShrinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.num")
	writeArray(t, path, []int32{1, 2, 3, 4, 5})
	writeArray(t, path, []int32{9})

	obj, arr := readArray(t, path)
	assert.Equal(t, []int32{9}, arr.Numbers)
	assert.Equal(t, int64(8), obj.Size())
}

func TestIntegerArrayCountBeyondPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.num")
	writeArray(t, path, []int32{1, 2})

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-4))

	kinds, err := Kinds()
	require.NoError(t, err)
	_, err = data.OpenReadOnly(path, kinds, testutil.TestLogger(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCorruptData), "got %v", err)
}

func TestRegister(t *testing.T) {
	r := analytic.NewRegistry()
	require.NoError(t, Register(r))

	var names []string
	for _, info := range r.List() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{ExportName, ImportName, MathTransformName}, names)
	assert.True(t, errors.IsType(Register(r), errors.ErrorTypeConflict))
}

func TestBlocks(t *testing.T) {
	assert.Equal(t, 0, blocks(0, 3))
	assert.Equal(t, 1, blocks(3, 3))
	assert.Equal(t, 4, blocks(10, 3))
	assert.Equal(t, []int32{10}, slice([]int32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 3, 3))
}

func TestDecodeIntsRejectsPartialValue(t *testing.T) {
	_, err := decodeInts([]byte{1, 2, 3})
	assert.True(t, errors.IsType(err, errors.ErrorTypeCorruptData))

	values, err := decodeInts(encodeInts([]int32{-5, 0, 7}))
	require.NoError(t, err)
	assert.Equal(t, []int32{-5, 0, 7}, values)
}

func TestMathTransformOperations(t *testing.T) {
	tests := []struct {
		op     string
		amount int32
		want   []int32
	}{
		{OpAddition, 3, []int32{13, -4, 3}},
		{OpSubtraction, 3, []int32{7, -10, -3}},
		{OpMultiplication, -2, []int32{-20, 14, 0}},
		{OpDivision, 3, []int32{3, -2, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			a := &MathTransform{op: tt.op, amount: tt.amount}
			res, err := a.Execute(context.Background(), analytic.Block{Index: 4, Data: encodeInts([]int32{10, -7, 0})})
			require.NoError(t, err)
			assert.Equal(t, 4, res.Index)
			got, err := decodeInts(res.Data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImportRejectsNonInteger(t *testing.T) {
	dir := t.TempDir()
	in := testutil.WriteFile(t, dir, "in.txt", []byte("1 2 three"))
	f, err := os.Open(in)
	require.NoError(t, err)
	defer f.Close()

	a := &Import{}
	args, err := analytic.Parse(a.Inputs(), map[string]string{"in": in, "out": filepath.Join(dir, "out.num")})
	require.NoError(t, err)
	err = a.Initialize(&analytic.Env{Args: args, Files: map[string]*os.File{"in": f}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument), "got %v", err)
}

func TestImportWithoutOutputs(t *testing.T) {
	dir := t.TempDir()
	in := testutil.WriteFile(t, dir, "in.txt", []byte("1\n2\n3\n4\n5\n"))
	f, err := os.Open(in)
	require.NoError(t, err)
	defer f.Close()

	a := &Import{}
	args, err := analytic.Parse(a.Inputs(), map[string]string{"in": in, "out": filepath.Join(dir, "out.num"), "increment": "2"})
	require.NoError(t, err)
	require.NoError(t, a.Initialize(&analytic.Env{Args: args, Files: map[string]*os.File{"in": f}}))
	assert.Equal(t, 3, a.Size())

	work, err := a.MakeWork(2)
	require.NoError(t, err)
	values, err := decodeInts(work.Data)
	require.NoError(t, err)
	assert.Equal(t, []int32{5}, values)
}
