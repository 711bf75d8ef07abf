// Package archive implements the filesystem archive consolidator
// (spec.md component C6): daily CSV compression, daily->monthly and
// monthly->yearly rollups, all crash-safe via temp-file-then-rename.
package archive

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Consolidator runs the three opportunistic rollup stages of spec.md
// 4.6; internal/meter calls RunOnce on an hourly ticker.
type Consolidator struct {
	dir string
}

// New roots the consolidator at dir (the same root HourlySpooler writes
// under).
func New(dir string) *Consolidator {
	return &Consolidator{dir: dir}
}

func (c *Consolidator) dailyDir() string   { return filepath.Join(c.dir, "energy", "daily") }
func (c *Consolidator) monthlyDir() string { return filepath.Join(c.dir, "energy", "monthly") }
func (c *Consolidator) yearlyDir() string  { return filepath.Join(c.dir, "energy", "yearly") }

// RunOnce executes all three stages once, in order, logging and
// continuing past any single stage's failure (spec.md 4.6: "on any
// failure leaves the source files intact").
func (c *Consolidator) RunOnce(now time.Time) {
	if err := c.compressFinishedDaily(now); err != nil {
		slog.Error("archive: compress daily failed", "error", err)
	}
	if err := c.rollupDailyToMonthly(now); err != nil {
		slog.Error("archive: daily to monthly failed", "error", err)
	}
	if err := c.rollupMonthlyToYearly(now); err != nil {
		slog.Error("archive: monthly to yearly failed", "error", err)
	}
}

// compressFinishedDaily gzips every daily CSV not matching today's date
// (spec.md 4.6 stage 1).
func (c *Consolidator) compressFinishedDaily(now time.Time) error {
	today := now.UTC().Format("2006-01-02")
	entries, err := os.ReadDir(c.dailyDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, ent := range entries {
		name := ent.Name()
		if !strings.HasSuffix(name, ".csv") {
			continue
		}
		day := strings.TrimSuffix(name, ".csv")
		if day == today {
			continue
		}
		src := filepath.Join(c.dailyDir(), name)
		dst := filepath.Join(c.dailyDir(), name+".gz")
		if err := gzipFile(src, dst); err != nil {
			return fmt.Errorf("compress %s: %w", name, err)
		}
		if err := os.Remove(src); err != nil {
			return fmt.Errorf("remove source %s: %w", name, err)
		}
	}
	return nil
}

// rollupDailyToMonthly concatenates every non-current-month's daily
// .csv.gz files into a single monthly archive, appending to any
// existing one (spec.md 4.6 stage 2).
func (c *Consolidator) rollupDailyToMonthly(now time.Time) error {
	currentMonth := now.UTC().Format("2006-01")
	entries, err := os.ReadDir(c.dailyDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	byMonth := map[string][]string{}
	for _, ent := range entries {
		name := ent.Name()
		if !strings.HasSuffix(name, ".csv.gz") {
			continue
		}
		day := strings.TrimSuffix(name, ".csv.gz")
		if len(day) < 7 {
			continue
		}
		month := day[:7]
		if month == currentMonth {
			continue
		}
		byMonth[month] = append(byMonth[month], filepath.Join(c.dailyDir(), name))
	}

	for month, files := range byMonth {
		sort.Strings(files)
		if err := c.mergeInto(c.monthlyDir(), month, files); err != nil {
			return fmt.Errorf("rollup month %s: %w", month, err)
		}
		for _, f := range files {
			if err := os.Remove(f); err != nil {
				return fmt.Errorf("remove consumed daily %s: %w", f, err)
			}
		}
	}
	return nil
}

// rollupMonthlyToYearly is the yearly analogue of stage 2 (spec.md 4.6
// stage 3).
func (c *Consolidator) rollupMonthlyToYearly(now time.Time) error {
	currentYear := now.UTC().Format("2006")
	entries, err := os.ReadDir(c.monthlyDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	byYear := map[string][]string{}
	for _, ent := range entries {
		name := ent.Name()
		if !strings.HasSuffix(name, ".csv.gz") {
			continue
		}
		month := strings.TrimSuffix(name, ".csv.gz")
		if len(month) < 4 {
			continue
		}
		year := month[:4]
		if year == currentYear {
			continue
		}
		byYear[year] = append(byYear[year], filepath.Join(c.monthlyDir(), name))
	}

	for year, files := range byYear {
		sort.Strings(files)
		if err := c.mergeInto(c.yearlyDir(), year, files); err != nil {
			return fmt.Errorf("rollup year %s: %w", year, err)
		}
		for _, f := range files {
			if err := os.Remove(f); err != nil {
				return fmt.Errorf("remove consumed monthly %s: %w", f, err)
			}
		}
	}
	return nil
}

// mergeInto decompresses any existing `outDir/name.csv.gz` plus every
// file in inputs, keeping the CSV header only once, into
// `outDir/name.csv.tmp`, then gzips it to `outDir/name.csv.gz` and
// removes the tmp file. It verifies the result is non-trivially sized
// before returning, never deleting inputs itself (the caller does, only
// after this succeeds) (spec.md 4.6, 9 "Archive crash safety").
func (c *Consolidator) mergeInto(outDir, name string, inputs []string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	tmpPath := filepath.Join(outDir, name+".csv.tmp")
	finalPath := filepath.Join(outDir, name+".csv.gz")

	tmp, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	headerWritten := false

	existing := finalPath
	sources := inputs
	if _, err := os.Stat(existing); err == nil {
		sources = append([]string{existing}, inputs...)
	}

	for _, src := range sources {
		if err := appendGzippedCSV(w, src, &headerWritten); err != nil {
			tmp.Close()
			return fmt.Errorf("append %s: %w", src, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	gzPath := tmpPath + ".gz"
	if err := gzipFile(tmpPath, gzPath); err != nil {
		return err
	}
	if err := verifyNonTrivialSize(gzPath); err != nil {
		os.Remove(gzPath)
		return err
	}
	return os.Rename(gzPath, finalPath)
}

func appendGzippedCSV(w io.Writer, path string, headerWritten *bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	scanner := bufio.NewScanner(gr)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			if *headerWritten {
				continue
			}
			*headerWritten = true
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := verifyNonTrivialSize(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// verifyNonTrivialSize guards against truncated archives before any
// source deletion (spec.md 4.6 "verifies the output is non-trivially
// sized before deleting inputs").
func verifyNonTrivialSize(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() < minArchiveSize {
		return fmt.Errorf("archive: %s is suspiciously small (%d bytes)", path, info.Size())
	}
	return nil
}

// minArchiveSize is a gzip stream's fixed overhead (header + empty
// deflate block + trailer); anything smaller cannot be a valid archive.
const minArchiveSize = 20
