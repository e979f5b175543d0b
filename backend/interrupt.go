package backend

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// interceptInterrupt marks the first SIGINT as an expected close and then
// re-raises it, so the process still terminates.
func (c *Client) interceptInterrupt() (stop func()) {
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, unix.SIGINT)
	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			c.expectClose.Store(true)
			c.log.Info("interrupted, connection errors are expected from now on")
			signal.Stop(sigs)
			if err := unix.Kill(unix.Getpid(), unix.SIGINT); err != nil {
				c.log.WithError(err).Error("cannot re-raise interrupt")
			}
		case <-done:
		}
	}()
	return func() { close(done) }
}
