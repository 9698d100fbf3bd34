// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/stackbind/stackbind/internal/config"
)

type (
	// statusReporter prints session transitions as styled lines.
	statusReporter struct {
		mu sync.Mutex
		w  io.Writer
	}

	// waitIndicator tells the user the session is waiting for a deployment.
	waitIndicator struct {
		mu    sync.Mutex
		w     io.Writer
		since time.Time
	}
)

// installLogger routes slog through a charmbracelet/log handler on w.
func installLogger(w io.Writer, verbose bool) {
	slog.SetDefault(newLogger(w, verbose))
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(w, log.Options{
		Prefix: config.AppName,
		Level:  level,
	})
	return slog.New(handler)
}

func newStatusReporter(w io.Writer) *statusReporter {
	return &statusReporter{w: w}
}

// Info implements reconcile.Reporter.
func (r *statusReporter) Info(msg string) {
	r.print(SubtitleStyle.Render(msg))
}

// Warn implements reconcile.Reporter.
func (r *statusReporter) Warn(msg string) {
	r.print(WarningStyle.Render("! " + msg))
}

func (r *statusReporter) print(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, TitleStyle.Render(config.AppName)+" "+line)
}

func newWaitIndicator(w io.Writer) *waitIndicator {
	return &waitIndicator{w: w}
}

// Waiting implements metadata.Waiter.
func (i *waitIndicator) Waiting(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.since = time.Now()
	fmt.Fprintln(i.w, TitleStyle.Render(config.AppName)+" "+
		SubtitleStyle.Render("Waiting for a deployment of ")+CmdStyle.Render(path)+
		SubtitleStyle.Render(", deploy the stack to continue"))
}

// Done implements metadata.Waiter.
func (i *waitIndicator) Done() {
	i.mu.Lock()
	defer i.mu.Unlock()
	waited := time.Since(i.since).Round(time.Second)
	fmt.Fprintln(i.w, TitleStyle.Render(config.AppName)+" "+
		SubtitleStyle.Render(fmt.Sprintf("Waited %s for the deployment", waited)))
}
