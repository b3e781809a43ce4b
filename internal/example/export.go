package example

import (
	"context"
	"os"
	"strconv"

	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
)

// ExportName is the command name of the export analytic.
const ExportName = "export-integer-array"

// Export writes an integer array to a text file, one value per line.
type Export struct {
	numbers []int32
	inc     int
	out     *os.File
}

func (a *Export) Inputs() []analytic.Input {
	return []analytic.Input{
		{Name: "in", Title: "Input", Description: "Integer array to export.", Type: analytic.DataIn, Kind: IntegerArrayID, Required: true},
		{Name: "out", Title: "Output", Description: "Text file to write.", Type: analytic.FileOut, Required: true},
		{Name: "increment", Title: "Increment", Description: "Values per block.", Type: analytic.Integer, Default: "1000", Bounded: true, Min: 1, Max: 1 << 20},
	}
}

func (a *Export) Initialize(env *analytic.Env) error {
	in, err := inputArray(env, "in")
	if err != nil {
		return err
	}
	a.numbers = in.Numbers
	a.inc = int(env.Args.Int("increment"))
	if env.HasOutputs() {
		if a.out, err = env.File("out"); err != nil {
			return err
		}
	}
	return nil
}

func (a *Export) Size() int { return blocks(len(a.numbers), a.inc) }

func (a *Export) MakeWork(index int) (analytic.Block, error) {
	return analytic.Block{Index: index, Data: encodeInts(slice(a.numbers, index, a.inc))}, nil
}

func (a *Export) Execute(_ context.Context, work analytic.Block) (analytic.Block, error) {
	values, err := decodeInts(work.Data)
	if err != nil {
		return analytic.Block{}, err
	}
	var text []byte
	for _, v := range values {
		text = strconv.AppendInt(text, int64(v), 10)
		text = append(text, '\n')
	}
	return analytic.Block{Index: work.Index, Data: text}, nil
}

func (a *Export) Process(result analytic.Block) error {
	if _, err := a.out.Write(result.Data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to write integers")
	}
	return nil
}

func (a *Export) Finish() error { return nil }
