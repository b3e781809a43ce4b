package example

import (
	"bufio"
	"context"
	"strconv"

	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
)

// ImportName is the command name of the import analytic.
const ImportName = "import-integer-array"

// Import reads whitespace separated integers from a text file into an
// integer array, increment values per block.
type Import struct {
	numbers []int32
	inc     int
	out     *IntegerArray
}

func (a *Import) Inputs() []analytic.Input {
	return []analytic.Input{
		{Name: "in", Title: "Input", Description: "Text file of integers.", Type: analytic.FileIn, Required: true},
		{Name: "out", Title: "Output", Description: "Integer array to create.", Type: analytic.DataOut, Kind: IntegerArrayID, Required: true},
		{Name: "increment", Title: "Increment", Description: "Values per block.", Type: analytic.Integer, Default: "1000", Bounded: true, Min: 1, Max: 1 << 20},
	}
}

func (a *Import) Initialize(env *analytic.Env) error {
	f, err := env.File("in")
	if err != nil {
		return err
	}
	a.inc = int(env.Args.Int("increment"))
	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		v, err := strconv.ParseInt(sc.Text(), 10, 32)
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeInvalidArgument, "value %d of %s is not a 32-bit integer", len(a.numbers), f.Name()).
				WithDetail("field", "in")
		}
		a.numbers = append(a.numbers, int32(v))
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to read integers")
	}
	a.out, err = outputArray(env, "out")
	return err
}

func (a *Import) Size() int { return blocks(len(a.numbers), a.inc) }

func (a *Import) MakeWork(index int) (analytic.Block, error) {
	return analytic.Block{Index: index, Data: encodeInts(slice(a.numbers, index, a.inc))}, nil
}

func (a *Import) Execute(_ context.Context, work analytic.Block) (analytic.Block, error) {
	return work, nil
}

func (a *Import) Process(result analytic.Block) error {
	values, err := decodeInts(result.Data)
	if err != nil {
		return err
	}
	a.out.Numbers = append(a.out.Numbers, values...)
	return nil
}

func (a *Import) Finish() error { return nil }
