// Package share configures the sg driver's kernel buffer-sharing feature
// between a reader ("master") and a writer ("slave") file descriptor, and
// handles the mid-flight fd swap a second output destination needs.
package share

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/sgtools/sgdd/pkg/sgio"
)

// ErrBusy is returned by SwapTo while the kernel still reports the slave fd
// as attached to its previous master; callers retry with a short backoff.
var ErrBusy = errors.New("share: slave fd busy, retry swap")

// Controller links one master (reader) fd to one slave (writer) fd so the
// kernel can hand write commands the same reserved buffer a matching read
// filled, without the payload ever crossing into user space.
type Controller struct {
	masterFd uintptr
	slaveFd  uintptr
	active   bool
}

// New returns a Controller for the given master/slave pair. It does not
// touch the kernel until Prepare is called.
func New(masterFd, slaveFd uintptr) *Controller {
	return &Controller{masterFd: masterFd, slaveFd: slaveFd}
}

// Prepare configures the share link. On failure it logs the cause and
// returns false. cmd/sgdd calls it once per worker before the copy starts,
// so a failure leaves that worker unshared for every segment it processes
// (Segment.HasShare stays false); it is not retried per segment.
func (c *Controller) Prepare() bool {
	if err := sgio.ShareAsMaster(c.masterFd, int32(c.slaveFd)); err != nil {
		log.Warn().Err(err).Msg("share: failed to link master/slave, falling back to unshared buffers")
		return false
	}
	c.active = true
	return true
}

// SwapTo redirects the slave fd's shared buffer to newMasterFd, used for
// oflag=of2's dual-output path. before=true is called prior to writing the
// second destination (releasing the primary master's finished state first);
// before=false restores the link to the primary output afterward.
//
// A transient EBUSY from the kernel (the previous master hasn't released
// yet) surfaces as ErrBusy; the caller retries after a short backoff rather
// than treating it as fatal.
func (c *Controller) SwapTo(newMasterFd uintptr, before bool) error {
	if before {
		if err := sgio.MasterFinish(c.masterFd); err != nil {
			return err
		}
	}
	err := sgio.ChangeShareTo(c.slaveFd, int32(newMasterFd))
	if err != nil {
		if errors.Is(err, unix.EBUSY) {
			return ErrBusy
		}
		return err
	}
	if !before {
		c.masterFd = newMasterFd
	}
	return nil
}

// SwapWithRetry calls SwapTo in a loop, backing off on ErrBusy, up to the
// given deadline. Used by the worker engine so a transient kernel-side
// share teardown race doesn't fail a whole segment.
func (c *Controller) SwapWithRetry(newMasterFd uintptr, before bool, deadline time.Duration) error {
	start := time.Now()
	backoff := time.Millisecond
	for {
		err := c.SwapTo(newMasterFd, before)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrBusy) {
			return err
		}
		if time.Since(start) > deadline {
			return err
		}
		time.Sleep(backoff)
		if backoff < 50*time.Millisecond {
			backoff *= 2
		}
	}
}

// Finish releases the master's share role, letting the slave's buffer be
// reclaimed on its own next close. Called once when a shared worker
// terminates its final segment.
func (c *Controller) Finish() error {
	if !c.active {
		return nil
	}
	c.active = false
	return sgio.MasterFinish(c.masterFd)
}
