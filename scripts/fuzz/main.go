// Fuzz runner for eldesmon.
//
// Finds every Fuzz* function under internal/, runs each one for FUZZ_TIME
// and writes a summary to target/reports/fuzz.txt. Exits non-zero when a
// target writes a failing input.
//
// Usage:
//
//	go run ./scripts/fuzz
//	FUZZ_TIME=60s go run ./scripts/fuzz
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"
)

type target struct {
	Name string
	Pkg  string // ./internal/eldes/
}

type result struct {
	target
	Elapsed time.Duration
	Execs   int64
	Passed  bool
}

var (
	reFuzzFunc = regexp.MustCompile(`^func (Fuzz\w+)\(f \*testing\.F\)`)
	reExecs    = regexp.MustCompile(`execs:\s+(\d+)`)
)

func main() {
	root := projectRoot()
	fuzzTime := os.Getenv("FUZZ_TIME")
	if fuzzTime == "" {
		fuzzTime = "30s"
	}

	targets, err := discover(root)
	if err != nil {
		log.Fatalf("discovering fuzz targets: %v", err)
	}
	if len(targets) == 0 {
		log.Fatal("no fuzz targets found")
	}
	fmt.Printf("%d fuzz targets, %s each\n\n", len(targets), fuzzTime)

	var results []result
	for _, t := range targets {
		results = append(results, run(root, t, fuzzTime))
	}

	reportDir := filepath.Join(root, "target", "reports")
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		log.Fatalf("creating report directory: %v", err)
	}
	path := filepath.Join(reportDir, "fuzz.txt")
	if err := os.WriteFile(path, []byte(report(fuzzTime, results)), 0o644); err != nil {
		log.Fatalf("writing fuzz report: %v", err)
	}
	fmt.Printf("\nFuzz report: %s\n", path)

	for _, r := range results {
		if !r.Passed {
			os.Exit(1)
		}
	}
}

// discover scans *_test.go files under internal/ for fuzz functions.
func discover(root string) ([]target, error) {
	var out []target
	err := filepath.WalkDir(filepath.Join(root, "internal"), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, "_test.go") {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if m := reFuzzFunc.FindStringSubmatch(sc.Text()); m != nil {
				out = append(out, target{Name: m[1], Pkg: "./" + filepath.ToSlash(rel) + "/"})
			}
		}
		return sc.Err()
	})
	slices.SortFunc(out, func(a, b target) int {
		return strings.Compare(a.Pkg+a.Name, b.Pkg+b.Name)
	})
	return out, err
}

func run(root string, t target, fuzzTime string) result {
	fmt.Printf("--- %s (%s)\n", t.Name, t.Pkg)
	start := time.Now()

	cmd := exec.Command("go", "test", "-run=^$", "-fuzz=^"+t.Name+"$", "-fuzztime="+fuzzTime, t.Pkg)
	cmd.Dir = root
	var buf bytes.Buffer
	cmd.Stdout = io.MultiWriter(os.Stdout, &buf)
	cmd.Stderr = io.MultiWriter(os.Stderr, &buf)
	err := cmd.Run()
	out := buf.String()

	r := result{target: t, Elapsed: time.Since(start)}
	if m := reExecs.FindAllStringSubmatch(out, -1); len(m) > 0 {
		r.Execs, _ = strconv.ParseInt(m[len(m)-1][1], 10, 64)
	}
	// The fuzz timer can race test shutdown and report a deadline error
	// without any failing input.
	r.Passed = err == nil ||
		(strings.Contains(out, "context deadline exceeded") && !strings.Contains(out, "Failing input written to"))
	return r
}

func report(fuzzTime string, results []result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "eldesmon fuzz report\n")
	fmt.Fprintf(&sb, "generated  %s\n", time.Now().Format(time.RFC1123))
	fmt.Fprintf(&sb, "platform   %s/%s %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	fmt.Fprintf(&sb, "fuzztime   %s per target\n\n", fuzzTime)
	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&sb, "%-4s  %-32s %-24s %12d execs  %s\n",
			status, r.Name, r.Pkg, r.Execs, r.Elapsed.Round(time.Second))
	}
	return sb.String()
}

func projectRoot() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		log.Fatal("could not determine script directory")
	}
	for dir := filepath.Dir(filename); ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			log.Fatal("could not find project root (no go.mod found)")
		}
		dir = parent
	}
}
