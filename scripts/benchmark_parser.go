// Command benchmark_parser turns `go test -bench` output into a markdown
// report comparing the blockgc allocator and collector against the Go
// runtime. Benchmarks are expected to be named Benchmark<Op>/<impl>/<size>
// with impl either "blockgc" or "runtime".
//
//	go test -run '^$' -bench . -benchmem ./heap/... | go run ./scripts/benchmark_parser.go
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/inhies/go-bytesize"
)

const (
	implBlock   = "blockgc"
	implRuntime = "runtime"
)

// BenchmarkResult represents a parsed benchmark result.
type BenchmarkResult struct {
	Name        string
	Operation   string
	Size        string
	Impl        string // implBlock or implRuntime
	Iterations  int
	NsPerOp     float64
	BytesPerOp  int64
	AllocsPerOp int64
}

// ComparisonResult pairs the blockgc and runtime variants of one benchmark.
type ComparisonResult struct {
	Operation     string
	Size          string
	BlockNs       float64
	RuntimeNs     float64
	Speedup       float64
	BlockMem      int64
	RuntimeMem    int64
	BlockAllocs   int64
	RuntimeAllocs int64
	BlockOnly     bool
}

var (
	inputFile = flag.String(
		"input",
		"",
		"Input file with benchmark output (stdin if not specified)",
	)
	outputFile = flag.String("output", "", "Output markdown file (stdout if not specified)")
	quiet      = flag.Bool("quiet", false, "Suppress progress output")
)

func main() {
	flag.Parse()

	var in io.Reader = os.Stdin
	if *inputFile != "" {
		f, err := os.Open(*inputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening input file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	results := parseBenchmarks(bufio.NewScanner(in))
	if !*quiet {
		fmt.Fprintf(os.Stderr, "Parsed %d benchmark results\n", len(results))
	}

	comparisons := generateComparisons(results)
	if !*quiet {
		fmt.Fprintf(os.Stderr, "Generated %d comparisons\n", len(comparisons))
	}

	report := generateMarkdownReport(comparisons, time.Now())

	if *outputFile == "" {
		fmt.Fprint(os.Stdout, report)
		return
	}
	if err := os.WriteFile(*outputFile, []byte(report), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
		os.Exit(1)
	}
	if !*quiet {
		fmt.Fprintf(os.Stderr, "Report written to %s\n", *outputFile)
	}
}

// BenchmarkAlloc/blockgc/32-8    10000    12.4 ns/op    0 B/op    0 allocs/op
var benchmarkRegex = regexp.MustCompile(
	`^(Benchmark\S+)\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+([\d.]+)\s+B/op)?(?:\s+([\d.]+)\s+allocs/op)?`,
)

func parseBenchmarks(scanner *bufio.Scanner) []BenchmarkResult {
	var results []BenchmarkResult

	for scanner.Scan() {
		line := scanner.Text()

		// Lines from `go test -json` carry the text in Output.
		var testEvent map[string]any
		if err := json.Unmarshal([]byte(line), &testEvent); err == nil {
			if output, ok := testEvent["Output"].(string); ok {
				line = output
			}
		}

		matches := benchmarkRegex.FindStringSubmatch(strings.TrimSpace(line))
		if matches == nil {
			continue
		}

		r := BenchmarkResult{Name: matches[1]}
		r.Iterations, _ = strconv.Atoi(matches[2])
		r.NsPerOp, _ = strconv.ParseFloat(matches[3], 64)
		if matches[4] != "" {
			b, _ := strconv.ParseFloat(matches[4], 64)
			r.BytesPerOp = int64(b)
		}
		if matches[5] != "" {
			a, _ := strconv.ParseFloat(matches[5], 64)
			r.AllocsPerOp = int64(a)
		}
		r.Operation, r.Impl, r.Size = splitName(r.Name)
		results = append(results, r)
	}

	return results
}

// splitName parses Benchmark<Op>[/<impl>][/<size>]-<procs>. A name without
// an impl segment is a blockgc-only benchmark.
func splitName(name string) (op, impl, size string) {
	parts := strings.Split(name, "/")
	last := len(parts) - 1
	if i := strings.LastIndex(parts[last], "-"); i > 0 {
		parts[last] = parts[last][:i]
	}

	op = strings.TrimPrefix(parts[0], "Benchmark")
	impl = implBlock
	switch len(parts) {
	case 1:
	case 2:
		if parts[1] == implBlock || parts[1] == implRuntime {
			impl = parts[1]
		} else {
			size = parts[1]
		}
	default:
		impl = parts[1]
		size = strings.Join(parts[2:], "/")
	}
	return op, impl, size
}

func generateComparisons(results []BenchmarkResult) []ComparisonResult {
	type key struct {
		operation string
		size      string
	}

	grouped := make(map[key]map[string]BenchmarkResult)
	for _, result := range results {
		k := key{result.Operation, result.Size}
		if grouped[k] == nil {
			grouped[k] = make(map[string]BenchmarkResult)
		}
		grouped[k][result.Impl] = result
	}

	var comparisons []ComparisonResult
	for k, impls := range grouped {
		block, hasBlock := impls[implBlock]
		if !hasBlock {
			continue
		}
		comp := ComparisonResult{
			Operation:   k.operation,
			Size:        k.size,
			BlockNs:     block.NsPerOp,
			BlockMem:    block.BytesPerOp,
			BlockAllocs: block.AllocsPerOp,
			BlockOnly:   true,
		}
		if rt, ok := impls[implRuntime]; ok {
			comp.BlockOnly = false
			comp.RuntimeNs = rt.NsPerOp
			comp.RuntimeMem = rt.BytesPerOp
			comp.RuntimeAllocs = rt.AllocsPerOp
			if block.NsPerOp > 0 {
				comp.Speedup = rt.NsPerOp / block.NsPerOp
			}
		}
		comparisons = append(comparisons, comp)
	}

	sort.Slice(comparisons, func(i, j int) bool {
		if comparisons[i].Operation != comparisons[j].Operation {
			return comparisons[i].Operation < comparisons[j].Operation
		}
		return sizeLess(comparisons[i].Size, comparisons[j].Size)
	})

	return comparisons
}

// sizeLess orders numeric sizes numerically and everything else lexically.
func sizeLess(a, b string) bool {
	x, errA := strconv.Atoi(a)
	y, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return x < y
	}
	return a < b
}

func generateMarkdownReport(comparisons []ComparisonResult, now time.Time) string {
	var sb strings.Builder

	sb.WriteString("# Benchmark Report\n\n")
	fmt.Fprintf(&sb, "Generated: %s\n\n", now.Format("2006-01-02 15:04:05"))

	blockFaster, runtimeFaster, blockOnly := 0, 0, 0
	totalSpeedup := 0.0
	for _, comp := range comparisons {
		if comp.BlockOnly {
			blockOnly++
			continue
		}
		if comp.Speedup > 1.0 {
			blockFaster++
		} else if comp.Speedup < 1.0 {
			runtimeFaster++
		}
		totalSpeedup += comp.Speedup
	}

	comparable := len(comparisons) - blockOnly
	avgSpeedup := 0.0
	if comparable > 0 {
		avgSpeedup = totalSpeedup / float64(comparable)
	}

	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- **Total benchmarks**: %d\n", len(comparisons))
	fmt.Fprintf(&sb, "- **Comparable** (blockgc and runtime): %d\n", comparable)
	if comparable > 0 {
		fmt.Fprintf(&sb, "  - blockgc faster: %d (%.1f%%)\n",
			blockFaster, float64(blockFaster)/float64(comparable)*100)
		fmt.Fprintf(&sb, "  - runtime faster: %d (%.1f%%)\n",
			runtimeFaster, float64(runtimeFaster)/float64(comparable)*100)
		fmt.Fprintf(&sb, "  - Average speedup: **%.2fx**\n", avgSpeedup)
	}
	fmt.Fprintf(&sb, "- **blockgc-only**: %d\n\n", blockOnly)

	sb.WriteString("## Detailed Results\n\n")
	sb.WriteString("| Operation | Size | blockgc (ns/op) | runtime (ns/op) | Speedup | Memory (B/op) | Allocs |\n")
	sb.WriteString("|-----------|------|-----------------|-----------------|---------|---------------|--------|\n")

	for _, comp := range comparisons {
		if comp.BlockOnly {
			fmt.Fprintf(&sb, "| %s | %s | %s | *N/A* | *blockgc only* | %s | %s |\n",
				comp.Operation,
				comp.Size,
				formatNumber(comp.BlockNs),
				formatBytes(comp.BlockMem),
				formatNumber(float64(comp.BlockAllocs)),
			)
			continue
		}

		indicator, speedupStyle := "✓", "**"
		if comp.Speedup < 1.0 {
			indicator, speedupStyle = "✗", ""
		}

		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s%.2fx%s %s | %s vs %s%s | %s vs %s%s |\n",
			comp.Operation,
			comp.Size,
			formatNumber(comp.BlockNs),
			formatNumber(comp.RuntimeNs),
			speedupStyle,
			comp.Speedup,
			speedupStyle,
			indicator,
			formatBytes(comp.BlockMem),
			formatBytes(comp.RuntimeMem),
			lowerMark(comp.BlockMem, comp.RuntimeMem),
			formatNumber(float64(comp.BlockAllocs)),
			formatNumber(float64(comp.RuntimeAllocs)),
			lowerMark(comp.BlockAllocs, comp.RuntimeAllocs),
		)
	}
	sb.WriteString("\n")

	sb.WriteString("## Performance by Category\n\n")
	categories := categorizeOperations(comparisons)
	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, category := range names {
		comps := categories[category]
		avg, count := 0.0, 0
		for _, comp := range comps {
			if !comp.BlockOnly {
				avg += comp.Speedup
				count++
			}
		}
		if count == 0 {
			fmt.Fprintf(&sb, "- **%s**: blockgc-only\n", category)
			continue
		}
		avg /= float64(count)
		status := "✓"
		if avg < 1.0 {
			status = "✗"
		}
		fmt.Fprintf(&sb, "- %s **%s**: %.2fx average speedup\n", status, category, avg)
	}
	sb.WriteString("\n")

	sb.WriteString("## Notes\n\n")
	sb.WriteString("- **Speedup > 1.0**: blockgc is faster ✓\n")
	sb.WriteString("- **Speedup < 1.0**: the Go runtime is faster ✗\n")
	sb.WriteString("- **Memory comparison**: Lower is better\n")
	sb.WriteString("- **Allocations**: Fewer is better\n")

	return sb.String()
}

func lowerMark(block, rt int64) string {
	switch {
	case block < rt:
		return " ✓"
	case block > rt:
		return " ✗"
	}
	return ""
}

func categorizeOperations(comparisons []ComparisonResult) map[string][]ComparisonResult {
	categories := make(map[string][]ComparisonResult)
	for _, comp := range comparisons {
		op := strings.ToLower(comp.Operation)
		var category string
		switch {
		case strings.Contains(op, "alloc") || strings.Contains(op, "free"):
			category = "Allocation"
		case strings.Contains(op, "walk"):
			category = "Iteration"
		case strings.Contains(op, "collect"):
			category = "Collection"
		default:
			category = "Other"
		}
		categories[category] = append(categories[category], comp)
	}
	return categories
}

func formatNumber(n float64) string {
	if n >= 1000000 {
		return fmt.Sprintf("%.2fM", n/1000000)
	} else if n >= 1000 {
		return fmt.Sprintf("%.1fK", n/1000)
	}
	return fmt.Sprintf("%.0f", n)
}

func formatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%dB", b)
	}
	return bytesize.New(float64(b)).String()
}
