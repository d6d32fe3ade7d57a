// etool inspects, runs and generates serialized program files.
//
//	etool info model.etpg     # method table and memory plans
//	etool run model.etpg      # execute a method with zero-filled inputs
//	etool gen model.etpg      # write a small demo program
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/mcr229/executorch/backends/portable"
	"github.com/mcr229/executorch/events"
	"github.com/mcr229/executorch/module"
	"github.com/mcr229/executorch/program"
	"github.com/mcr229/executorch/types"
	"github.com/mcr229/executorch/types/evalue"
	"github.com/mcr229/executorch/types/shapes"
	"github.com/mcr229/executorch/types/tensors"
)

var (
	flagMethod string
	flagTrace  bool
	flagMmap   bool
)

func main() {
	root := &cobra.Command{
		Use:   "etool",
		Short: "Inspect, run and generate serialized program files",
	}

	infoCmd := &cobra.Command{
		Use:   "info <program-file>",
		Short: "Print the program's method table and memory plans",
		Args:  cobra.ExactArgs(1),
		Run:   func(_ *cobra.Command, args []string) { info(args[0]) },
	}

	runCmd := &cobra.Command{
		Use:   "run <program-file>",
		Short: "Execute a method with zero-filled inputs and print its outputs",
		Args:  cobra.ExactArgs(1),
		Run:   func(_ *cobra.Command, args []string) { run(args[0]) },
	}
	runCmd.Flags().StringVar(&flagMethod, "method", module.DefaultMethodName, "Method to execute.")
	runCmd.Flags().BoolVar(&flagTrace, "trace", false, "Log spans for execution phases.")
	runCmd.Flags().BoolVar(&flagMmap, "mmap", false, "Memory-map the program file instead of reading it.")

	genCmd := &cobra.Command{
		Use:   "gen <program-file>",
		Short: "Write a small demo program exercising kernels and the portable delegate",
		Args:  cobra.ExactArgs(1),
		Run:   func(_ *cobra.Command, args []string) { gen(args[0]) },
	}

	root.AddCommand(infoCmd, runCmd, genCmd)
	if err := root.Execute(); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	rowStyle = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
)

func newModule(path string) *module.Module {
	options := []module.Option{module.WithLoadMode(program.LoadModeFile)}
	if flagMmap {
		options = []module.Option{module.WithLoadMode(program.LoadModeMmapUseMlockIgnoreErrors)}
	}
	if flagTrace {
		options = append(options, module.WithTracer(events.NewKlogTracer()))
	}
	return module.New(path, options...)
}

func info(path string) {
	m := newModule(path)
	defer func() { _ = m.Close() }()
	must.M(m.Load(program.VerifyInternalConsistency))
	names := must.M1(m.MethodNames())

	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row < 0 {
				return headerRowStyle
			}
			return rowStyle
		}).
		Headers("Method", "Inputs", "Outputs", "Planned memory")
	for _, name := range types.SortedKeys(names) {
		meta := must.M1(m.MethodMeta(name))
		table.Row(name,
			strconv.Itoa(meta.NumInputs()),
			strconv.Itoa(meta.NumOutputs()),
			humanize.IBytes(uint64(meta.TotalPlannedMemory())))
	}
	fmt.Println(table.Render())

	for _, name := range types.SortedKeys(names) {
		meta := must.M1(m.MethodMeta(name))
		fmt.Println(meta)
		for i := 0; i < meta.NumInputs(); i++ {
			fmt.Printf("  input %d: %s\n", i, must.M1(meta.InputMeta(i)))
		}
		for i := 0; i < meta.NumOutputs(); i++ {
			fmt.Printf("  output %d: %s\n", i, must.M1(meta.OutputMeta(i)))
		}
	}
}

func run(path string) {
	m := newModule(path)
	defer func() { _ = m.Close() }()
	meta := must.M1(m.MethodMeta(flagMethod))

	inputs := make([]evalue.EValue, 0, meta.NumInputs())
	for i := 0; i < meta.NumInputs(); i++ {
		info := must.M1(meta.InputMeta(i))
		if info.Tag != evalue.TagTensor {
			klog.Exitf("method %q input %d is a %s; only tensor inputs are supported by etool run",
				flagMethod, i, info.Tag)
		}
		buf := make([]byte, info.Shape.Memory())
		inputs = append(inputs, evalue.FromTensor(must.M1(tensors.NewInBuffer(info.Shape, buf))))
	}

	outputs := must.M1(m.Execute(flagMethod, inputs...))
	for i, out := range outputs {
		fmt.Printf("output %d: %s\n", i, out)
		if out.IsTensor() && out.Tensor().DType() == dtypes.Float32 {
			fmt.Printf("  %v\n", out.Tensor().Float32s())
		}
	}
}

// gen writes a two-method demo program: "forward" routes its [1 4] input
// through an identity subgraph delegated to the portable backend, "scale"
// multiplies the input by a constant through the plain kernel path.
func gen(path string) {
	b := program.NewBuilder()

	sub := portable.NewSubgraphBuilder()
	subIn := sub.AddInput(dtypes.Float32, 2)
	subOut := sub.AddOutput(dtypes.Float32, 2)
	sub.AddNode("clone", []uint32{subIn}, subOut)
	payload := must.M1(sub.Serialize())

	shape := shapes.Make(dtypes.Float32, 1, 4)
	forward := b.AddMethod(module.DefaultMethodName)
	in := forward.AddInput(shape)
	out := forward.AddPlanned(shape, 0)
	forward.AddDelegateCall(portable.BackendName, payload, nil, []int{in}, []int{out})
	forward.SetOutputs(out)

	scale := b.AddMethod("scale")
	scaleIn := scale.AddInput(shape)
	factor := must.M1(tensors.FromFlatData([]float32{2, 2, 2, 2}, 1, 4))
	factorID := must.M1(scale.AddConstant(shape, factor.Bytes()))
	scaleOut := scale.AddPlanned(shape, 0)
	scale.AddKernel("mul", []int{scaleIn, factorID}, []int{scaleOut})
	scale.SetOutputs(scaleOut)

	must.M(b.WriteFile(path))
	fmt.Printf("wrote demo program to %s\n", path)
}
