package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

// progressBar draws a single self-overwriting progress line
type progressBar struct {
	w           io.Writer
	description string
	unit        string
	total       int
	current     int
	startTime   time.Time
	width       int
	// metrics are shown in the order they were first set
	metricNames []string
	metrics     map[string]float64
}

func newProgressBar(w io.Writer, description, unit string, total int) *progressBar {
	return &progressBar{
		w:           w,
		description: description,
		unit:        unit,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		metrics:     make(map[string]float64),
	}
}

// Update moves the bar to step and merges metrics into the displayed ones
func (pb *progressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	for _, name := range sortedKeys(metrics) {
		if _, seen := pb.metrics[name]; !seen {
			pb.metricNames = append(pb.metricNames, name)
		}
		pb.metrics[name] = metrics[name]
	}
	pb.render()
}

func (pb *progressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.w)
}

func (pb *progressBar) render() {
	percentage := 1.0
	if pb.total > 0 {
		percentage = min(float64(pb.current)/float64(pb.total), 1.0)
	}
	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			eta = time.Duration(float64(elapsed)/percentage) - elapsed
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "\r%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description, percentage*100, bar, pb.current, pb.total,
		formatDuration(elapsed), formatDuration(max(eta, 0)))
	if rate > 0 {
		fmt.Fprintf(&sb, ", %.2f%s/s", rate, pb.unit)
	}
	for _, name := range pb.metricNames {
		value := pb.metrics[name]
		if strings.Contains(name, "acc") {
			fmt.Fprintf(&sb, ", %s=%.2f%%", name, value*100)
		} else {
			fmt.Fprintf(&sb, ", %s=%.3f", name, value)
		}
	}
	sb.WriteString("]")
	fmt.Fprint(pb.w, sb.String())
}

// formatDuration formats a duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
