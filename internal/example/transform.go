package example

import (
	"context"

	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
)

// MathTransformName is the command name of the transform analytic.
const MathTransformName = "math-transform"

// Operations accepted by MathTransform.
const (
	OpAddition       = "addition"
	OpSubtraction    = "subtraction"
	OpMultiplication = "multiplication"
	OpDivision       = "division"
)

// MathTransform applies one arithmetic operation with a constant amount to
// every value of an integer array. Each value is its own block.
type MathTransform struct {
	numbers []int32
	op      string
	amount  int32
	out     *IntegerArray
}

func (a *MathTransform) Inputs() []analytic.Input {
	return []analytic.Input{
		{Name: "in", Title: "Input", Description: "Integer array to transform.", Type: analytic.DataIn, Kind: IntegerArrayID, Required: true},
		{Name: "out", Title: "Output", Description: "Integer array to create.", Type: analytic.DataOut, Kind: IntegerArrayID, Required: true},
		{Name: "type", Title: "Operation", Description: "Arithmetic operation to apply.", Type: analytic.Selection, Default: OpAddition,
			Options: []string{OpAddition, OpSubtraction, OpMultiplication, OpDivision}},
		{Name: "amount", Title: "Amount", Description: "Right hand operand.", Type: analytic.Integer, Default: "0", Bounded: true, Min: -(1 << 31), Max: 1<<31 - 1},
	}
}

func (a *MathTransform) Initialize(env *analytic.Env) error {
	in, err := inputArray(env, "in")
	if err != nil {
		return err
	}
	a.numbers = in.Numbers
	a.op = env.Args.String("type")
	a.amount = int32(env.Args.Int("amount"))
	if a.op == OpDivision && a.amount == 0 {
		return errors.New(errors.ErrorTypeInvalidArgument, "division by zero").WithDetail("field", "amount")
	}
	a.out, err = outputArray(env, "out")
	return err
}

func (a *MathTransform) Size() int { return len(a.numbers) }

func (a *MathTransform) MakeWork(index int) (analytic.Block, error) {
	return analytic.Block{Index: index, Data: encodeInts(a.numbers[index : index+1])}, nil
}

func (a *MathTransform) Execute(_ context.Context, work analytic.Block) (analytic.Block, error) {
	values, err := decodeInts(work.Data)
	if err != nil {
		return analytic.Block{}, err
	}
	for i, v := range values {
		switch a.op {
		case OpAddition:
			values[i] = v + a.amount
		case OpSubtraction:
			values[i] = v - a.amount
		case OpMultiplication:
			values[i] = v * a.amount
		case OpDivision:
			values[i] = v / a.amount
		default:
			return analytic.Block{}, errors.Newf(errors.ErrorTypeInvalidArgument, "unknown operation %q", a.op)
		}
	}
	return analytic.Block{Index: work.Index, Data: encodeInts(values)}, nil
}

func (a *MathTransform) Process(result analytic.Block) error {
	values, err := decodeInts(result.Data)
	if err != nil {
		return err
	}
	a.out.Numbers = append(a.out.Numbers, values...)
	return nil
}

func (a *MathTransform) Finish() error { return nil }
