package main

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/blockgc/heap/callback"
	"github.com/joshuapare/blockgc/heap/gc"
	"github.com/joshuapare/blockgc/heap/graph"
	"github.com/joshuapare/blockgc/heap/interp"
)

var (
	simNodes  int
	simRounds int
	simRoots  int
	simEdges  int
	simSeed   int64
	simDump   bool
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().IntVar(&simNodes, "nodes", 1000, "Nodes created per round")
	cmd.Flags().IntVar(&simRounds, "rounds", 4, "Number of rounds")
	cmd.Flags().IntVar(&simRoots, "roots", 10, "Nodes kept alive from each round")
	cmd.Flags().IntVar(&simEdges, "edges", 3, "Maximum outgoing edges per node")
	cmd.Flags().Int64Var(&simSeed, "seed", 1, "Random seed")
	cmd.Flags().BoolVar(&simDump, "dump", false, "Dump allocator and collector state at the end")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a seeded object graph simulation",
		Long: `The simulate command builds random reference-counted object graphs in
rounds. Each round allocates nodes, links them at random (creating cycles),
keeps a few roots and drops every other reference. The collector runs
whenever its allocation threshold schedules it, at the end-of-round safe
point, and once more after the last roots are dropped.

Example:
  heapctl simulate --nodes 5000 --rounds 10
  heapctl simulate --seed 7 --dump
  heapctl simulate --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate()
		},
	}
	return cmd
}

// RoundReport is the heap state at the end of one round.
type RoundReport struct {
	Round         int `json:"round"`
	Live          int `json:"live"`
	Pages         int `json:"pages"`
	ReservedBytes int `json:"reserved_bytes"`
	Cycles        int `json:"cycles"`
}

// SimReport is the simulate command output.
type SimReport struct {
	Seed          int64         `json:"seed"`
	Created       int           `json:"created"`
	Cycles        int           `json:"cycles"`
	Destroyed     int           `json:"destroyed"`
	Freed         int           `json:"freed"`
	Live          int           `json:"live"`
	Pages         int           `json:"pages"`
	ReservedBytes int           `json:"reserved_bytes"`
	Threshold     int           `json:"threshold"`
	Duration      time.Duration `json:"duration_ns"`
	Rounds        []RoundReport `json:"rounds"`
}

func validateSimFlags() error {
	switch {
	case simNodes <= 0:
		return errors.New("--nodes must be positive")
	case simRounds <= 0:
		return errors.New("--rounds must be positive")
	case simRoots < 0 || simRoots > simNodes:
		return fmt.Errorf("--roots must be between 0 and %d", simNodes)
	case simEdges <= 0:
		return errors.New("--edges must be positive")
	}
	return nil
}

func runSimulate() error {
	if err := validateSimFlags(); err != nil {
		return err
	}

	var lock interp.Lock
	lock.Acquire()
	defer lock.Release()

	var evaluators callback.List
	defer evaluators.Free()

	gopts := cfg.GCOptions()
	gopts.Lock = &lock
	gopts.Evaluators = &evaluators
	c := gc.New(gopts)
	c.OnCycle(func(_ *callback.Callback, arg any) {
		s := arg.(*gc.Collector).Stats()
		printVerbose("Collection %d: %d objects, %d allocations since the last one\n",
			s.Cycles+1, s.NumObjects, s.NumAllocs)
	}, nil, nil)

	g, err := graph.New(c, graph.Options{
		Name:          "nodes",
		MaxEdges:      simEdges,
		InitialBlocks: cfg.Alloc.InitialBlocks,
		Debug:         cfg.Alloc.Debug,
	})
	if err != nil {
		return err
	}
	defer g.Close()

	printVerbose("Simulating %d rounds of %d nodes (seed %d)\n", simRounds, simNodes, simSeed)

	start := time.Now()
	rng := rand.New(rand.NewSource(simSeed))
	report := SimReport{Seed: simSeed}
	var roots []graph.Node

	for round := range simRounds {
		nodes := make([]graph.Node, simNodes)
		for i := range nodes {
			n, err := g.NewNode(uint64(report.Created))
			if err != nil {
				return fmt.Errorf("round %d: %w", round, err)
			}
			nodes[i] = n
			report.Created++
		}

		// Link among this round's nodes and the surviving roots.
		targets := append(nodes[:len(nodes):len(nodes)], roots...)
		for _, n := range nodes {
			for range rng.Intn(simEdges + 1) {
				if err := g.Link(n, targets[rng.Intn(len(targets))]); err != nil {
					return fmt.Errorf("round %d: %w", round, err)
				}
			}
		}

		// Previous roots are dropped; new ones are picked from this round.
		for _, r := range roots {
			r.Decref()
		}
		roots = roots[:0]
		keep := rng.Perm(simNodes)[:simRoots]
		isRoot := make(map[int]bool, len(keep))
		for _, k := range keep {
			isRoot[k] = true
			roots = append(roots, nodes[k])
		}
		for i, n := range nodes {
			if !isRoot[i] {
				n.Decref()
			}
		}

		// Safe point.
		evaluators.Call(nil)

		num, size := g.Allocator().CountAll()
		report.Rounds = append(report.Rounds, RoundReport{
			Round:         round,
			Live:          num,
			Pages:         g.Allocator().PageCount(),
			ReservedBytes: size,
			Cycles:        c.Stats().Cycles,
		})
		printVerbose("Round %d: %d live nodes\n", round, num)
	}

	for _, r := range roots {
		r.Decref()
	}
	c.Collect()

	s := c.Stats()
	report.Cycles = s.Cycles
	report.Destroyed = s.TotalDestroyed
	report.Freed = s.TotalFreed
	report.Live = g.Count()
	report.Pages = g.Allocator().PageCount()
	_, report.ReservedBytes = g.Allocator().CountAll()
	report.Threshold = s.Threshold
	report.Duration = time.Since(start)

	if simDump {
		g.Allocator().Dump(os.Stdout)
		g.Allocator().PrintStats(os.Stdout)
		c.Dump(os.Stdout)
	}

	if jsonOut {
		return printJSON(report)
	}
	printSimReport(report)
	return nil
}

func printSimReport(r SimReport) {
	printInfo("\n%s\n", render(titleStyle, "Simulation Report"))
	printField("Seed", fmt.Sprintf("%d", r.Seed))
	printField("Nodes created", fmtInt(r.Created))
	printField("Collections", fmtInt(r.Cycles))
	printField("Destroyed", fmtInt(r.Destroyed))
	printField("Freed by gc", fmtInt(r.Freed))
	live := fmtInt(r.Live)
	if r.Live == 0 {
		live = render(goodStyle, live)
	}
	printField("Live nodes", live)
	printField("Pages", fmtInt(r.Pages))
	printField("Reserved", fmtBytes(r.ReservedBytes))
	printField("Next threshold", fmtInt(r.Threshold))
	printField("Duration", r.Duration.Round(time.Microsecond).String())

	printInfo("\n  %-6s %10s %6s %12s %8s\n", "ROUND", "LIVE", "PAGES", "RESERVED", "CYCLES")
	for _, rr := range r.Rounds {
		printInfo("  %-6d %10s %6d %12s %8d\n",
			rr.Round, fmtInt(rr.Live), rr.Pages, fmtBytes(rr.ReservedBytes), rr.Cycles)
	}
	printInfo("\n")
}
