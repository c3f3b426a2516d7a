package linker

import (
	"os"
	"os/signal"

	mobysignal "github.com/moby/sys/signal"
)

// installSignalHandler arranges for SIGTERM/SIGINT to run save (a resume
// checkpoint) and then exit(0), matching
// original_source/warden/src/iomux/iomux-link.c's sighandler. It returns a
// function that undoes the installation.
func installSignalHandler(save func()) (stop func()) {
	names := []string{"TERM", "INT"}
	sigs := make([]os.Signal, 0, len(names))
	for _, n := range names {
		sigs = append(sigs, mobysignal.SignalMap[n])
	}

	ch := make(chan os.Signal, len(sigs))
	signal.Notify(ch, sigs...)

	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			save()
			os.Exit(0)
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(ch)
	}
}
