package systems

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/resources"
)

// upload is the transfer state shared by mesh and texture records: the
// completion armed by the submission, the staging resources it reads from,
// and a channel closed once the submission happened.
type upload struct {
	completion *resources.Completion
	staging    resources.StagingHandle
	submitted  chan struct{}
	timeout    time.Duration
}

func newUpload(ctx *resources.Context) upload {
	return upload{
		completion: ctx.NewCompletion(),
		submitted:  make(chan struct{}),
		timeout:    ctx.Config().TransferTimeout,
	}
}

func (u *upload) markSubmitted(staging *resources.Staging) {
	u.staging.Store(staging)
	close(u.submitted)
}

// IsFinished reports whether the device finished the copy. It never blocks.
func (u *upload) IsFinished() bool {
	return u.completion.IsFinished()
}

// WaitUntilFinished blocks until the upload is submitted and retired. Not
// getting there within the transfer timeout is fatal.
func (u *upload) WaitUntilFinished() {
	timer := time.NewTimer(u.timeout)
	defer timer.Stop()
	select {
	case <-u.submitted:
	case <-timer.C:
		core.Fatal(errors.Wrapf(resources.ErrTransferTimeout, "upload not submitted after %s", u.timeout))
		return
	}
	u.completion.WaitUntilFinished()
}

// takeStaging returns the staging frees once the copy retired, or nil.
func (u *upload) takeStaging() []resources.PendingFree {
	if !u.IsFinished() {
		return nil
	}
	if s := u.staging.Take(); s != nil {
		return s.Frees()
	}
	return nil
}

// releaseFrees returns what is left of the upload to free with the record.
func (u *upload) releaseFrees() []resources.PendingFree {
	var frees []resources.PendingFree
	if s := u.staging.Take(); s != nil {
		frees = append(frees, s.Frees()...)
	}
	if t := u.completion.Timeline(); t != nil {
		frees = append(frees, resources.PendingFree{Kind: resources.FreeTimeline, Timeline: t})
	}
	return frees
}
