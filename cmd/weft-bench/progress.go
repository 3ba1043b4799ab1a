package main

import (
	"strconv"

	"github.com/pterm/pterm"
)

// progressDisplay is a combined spinner and progress bar for a load run.
type progressDisplay struct {
	multiprinter *pterm.MultiPrinter
	spinner      *pterm.SpinnerPrinter
	progressbar  *pterm.ProgressbarPrinter
}

func newProgressDisplay(label string, totalRequests, totalWorkers int) *progressDisplay {
	multi := pterm.DefaultMultiPrinter

	initialText := label +
		" - Workers: " + strconv.Itoa(totalWorkers) +
		" - Requests: 0/" + strconv.Itoa(totalRequests)

	spinner, _ := pterm.DefaultSpinner.WithWriter(multi.NewWriter()).Start(initialText)
	progressbar, _ := pterm.DefaultProgressbar.
		WithTotal(totalRequests).
		WithWriter(multi.NewWriter()).
		Start(label)

	multi.Start()

	return &progressDisplay{
		multiprinter: &multi,
		spinner:      spinner,
		progressbar:  progressbar,
	}
}

// Increment advances the progress bar by one step.
func (pd *progressDisplay) Increment() {
	pd.progressbar.Increment()
}

// UpdateText refreshes the spinner line from pool counters.
func (pd *progressDisplay) UpdateText(label string, activeWorkers int64, completed, submitted uint64) {
	pd.spinner.UpdateText(label +
		" - Active Workers: " + strconv.FormatInt(activeWorkers, 10) +
		" - Requests: " + strconv.FormatUint(completed, 10) +
		"/" + strconv.FormatUint(submitted, 10))
}

// Success marks the spinner as complete.
func (pd *progressDisplay) Success(label string, completed uint64) {
	pd.spinner.Success(label + " - Requests: " + strconv.FormatUint(completed, 10) + " done")
}

// Stop terminates the progress display.
func (pd *progressDisplay) Stop() {
	pd.multiprinter.Stop()
}
