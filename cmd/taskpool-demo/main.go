// Command taskpool-demo exercises the pool package against a handful of
// small, visible workloads: a fan-out-by-index task, a group-limited pair
// of tasks competing for the same concurrency budget, and a persistent
// batch task coalescing individual requests into batched generator calls.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"

	"github.com/taskpool-go/taskpool/pool"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	blue   = color.New(color.FgBlue)
)

func colorPrintLn(c *color.Color, a ...any) {
	_, _ = c.Println(a...)
}

func colorPrintf(c *color.Color, format string, a ...any) {
	_, _ = c.Printf(format, a...)
}

func printSectionHeader(title string) {
	colorPrintLn(bold, strings.Repeat("=", 60))
	colorPrintLn(bold, title)
	colorPrintLn(bold, strings.Repeat("=", 60))
}

func main() {
	runEachTaskDemo()
	fmt.Println()
	runGroupLimitDemo()
	fmt.Println()
	runBatchDemo()
}

// runEachTaskDemo fans a slice of "rows" out across a task whose generator
// visits one element per invocation, tracking progress with a bar.
func runEachTaskDemo() {
	printSectionHeader("FAN-OUT DEMO")

	rows := make([]int, 200)
	for i := range rows {
		rows[i] = i
	}

	bar := progressbar.NewOptions(len(rows),
		progressbar.OptionSetDescription("processing rows"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "#",
			SaucerHead:    "#",
			SaucerPadding: "-",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
	)

	p, err := pool.New(pool.WithPoolConcurrencyLimit(8))
	if err != nil {
		colorPrintf(red, "pool.New failed: %v\n", err)
		return
	}
	defer func() {
		if err := p.Shutdown(5 * time.Second); err != nil {
			colorPrintf(red, "shutdown error: %v\n", err)
		}
	}()

	start := time.Now()
	task, err := pool.AddEachTask(context.Background(), p, rows,
		func(ctx context.Context, row int, index int) (int, error) {
			time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
			_ = bar.Add(1)
			return row * row, nil
		}, pool.WithTaskConcurrencyLimit(8))
	if err != nil {
		colorPrintf(red, "AddEachTask failed: %v\n", err)
		return
	}

	results, err := task.Promise().Wait(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		colorPrintf(red, "task failed: %v\n", err)
		return
	}

	colorPrintf(green, "\nprocessed %d rows in %s\n", len(results), elapsed.Round(time.Millisecond))
}

// runGroupLimitDemo starts two tasks sharing a group with a concurrency
// limit of 2, then renders a table of when each invocation started and
// finished, measured from the start of the demo.
func runGroupLimitDemo() {
	printSectionHeader("GROUP CONCURRENCY LIMIT DEMO")

	p, err := pool.New()
	if err != nil {
		colorPrintf(red, "pool.New failed: %v\n", err)
		return
	}
	defer func() {
		if err := p.Shutdown(5 * time.Second); err != nil {
			colorPrintf(red, "shutdown error: %v\n", err)
		}
	}()

	g, err := p.AddGroup(pool.WithGroupConcurrencyLimit(2))
	if err != nil {
		colorPrintf(red, "AddGroup failed: %v\n", err)
		return
	}

	type row struct {
		worker     string
		invocation int
		startedAt  time.Duration
		finishedAt time.Duration
	}
	rowsCh := make(chan row, 16)
	start := time.Now()

	worker := func(name string) func(ctx context.Context, invocation int) (any, error) {
		return func(ctx context.Context, invocation int) (any, error) {
			if invocation >= 3 {
				return nil, pool.ErrNoMoreWork
			}
			startedAt := time.Since(start)
			time.Sleep(15 * time.Millisecond)
			rowsCh <- row{worker: name, invocation: invocation, startedAt: startedAt, finishedAt: time.Since(start)}
			return invocation, nil
		}
	}

	task1, err := p.AddGenericTask(context.Background(), worker("alpha"), pool.WithTaskGroups(g))
	if err != nil {
		colorPrintf(red, "AddGenericTask failed: %v\n", err)
		return
	}
	task2, err := p.AddGenericTask(context.Background(), worker("beta"), pool.WithTaskGroups(g))
	if err != nil {
		colorPrintf(red, "AddGenericTask failed: %v\n", err)
		return
	}

	if _, err := task1.Promise().Wait(context.Background()); err != nil {
		colorPrintf(red, "alpha failed: %v\n", err)
	}
	if _, err := task2.Promise().Wait(context.Background()); err != nil {
		colorPrintf(red, "beta failed: %v\n", err)
	}
	close(rowsCh)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Worker", "Invocation", "Started", "Finished")
	for r := range rowsCh {
		_ = table.Append(
			r.worker,
			fmt.Sprintf("%d", r.invocation),
			r.startedAt.Round(time.Millisecond).String(),
			r.finishedAt.Round(time.Millisecond).String(),
		)
	}
	if err := table.Render(); err != nil {
		colorPrintLn(red, "error rendering table")
	}
}

// runBatchDemo coalesces individually submitted lookups into batches of up
// to 5 through a persistent batch task. A full batch dispatches at once; a
// partial one dispatches 30ms after its first lookup was queued.
func runBatchDemo() {
	printSectionHeader("PERSISTENT BATCH TASK DEMO")

	p, err := pool.New()
	if err != nil {
		colorPrintf(red, "pool.New failed: %v\n", err)
		return
	}
	defer func() {
		if err := p.Shutdown(5 * time.Second); err != nil {
			colorPrintf(red, "shutdown error: %v\n", err)
		}
	}()

	var dispatchCount atomic.Int64
	gen := func(ctx context.Context, inputs []int) ([]any, error) {
		dispatchCount.Add(1)
		colorPrintf(yellow, "dispatching batch of %d: %v\n", len(inputs), inputs)
		out := make([]any, len(inputs))
		for i, v := range inputs {
			out[i] = v * v
		}
		return out, nil
	}

	batch, err := pool.NewPersistentBatchTask[int, int](p, gen,
		pool.WithMaxBatchSize(5),
		pool.WithQueuingDelay(30*time.Millisecond),
	)
	if err != nil {
		colorPrintf(red, "NewPersistentBatchTask failed: %v\n", err)
		return
	}
	defer batch.End()

	var waiters []*pool.Resolvable[int]
	for i := 1; i <= 12; i++ {
		w, err := batch.GetResult(i)
		if err != nil {
			colorPrintf(red, "GetResult failed: %v\n", err)
			return
		}
		waiters = append(waiters, w)
		time.Sleep(5 * time.Millisecond)
	}

	for i, w := range waiters {
		v, err := w.Wait(context.Background())
		if err != nil {
			colorPrintf(red, "waiter %d failed: %v\n", i+1, err)
			continue
		}
		colorPrintf(blue, "result for %d: %d\n", i+1, v)
	}

	colorPrintf(green, "\ncoalesced 12 requests into %d dispatch(es)\n", dispatchCount.Load())
}
