package session

import (
	"context"
	"fmt"
	"log"

	"croquis-timer/src/store"
)

type saveOutcome struct {
	res SaveResult
	err error
}

// pendingSave is the one in-flight save of a visit. Saves requested while it
// runs join its waiters.
type pendingSave struct {
	session uint64
	visit   uint64
	waiters []chan saveOutcome
}

// Save records history for the current image and, when the policy asks for
// it, captures the drawing. It is idempotent per visit: once saved, it
// returns the earlier result without touching the gateway. A failed capture
// keeps the history and is reported in SaveResult.CaptureErr.
func (c *Controller) Save(ctx context.Context, manual bool) (SaveResult, error) {
	var (
		wait    chan saveOutcome
		initErr error
	)
	if err := c.do(ctx, func() {
		if c.state == Idle {
			initErr = ErrNotStarted
			return
		}
		wait = make(chan saveOutcome, 1)
		if c.saved && (c.pending == nil || c.pending.visit != c.visit) {
			wait <- saveOutcome{res: c.lastSave}
			return
		}
		p, err := c.beginSave(manual)
		if err != nil {
			wait <- saveOutcome{err: err}
			return
		}
		p.waiters = append(p.waiters, wait)
	}); err != nil {
		return SaveResult{}, err
	}
	if initErr != nil {
		return SaveResult{}, initErr
	}

	select {
	case out := <-wait:
		return out.res, out.err
	case <-ctx.Done():
		return SaveResult{}, ctx.Err()
	case <-c.done:
		return SaveResult{}, ErrClosed
	}
}

// beginSave joins the visit's in-flight save or starts a new one.
func (c *Controller) beginSave(manual bool) (*pendingSave, error) {
	if c.pending != nil && c.pending.visit == c.visit {
		return c.pending, nil
	}

	p := &pendingSave{session: c.session, visit: c.visit}
	c.pending = p

	entry := store.HistoryEntry{
		Date:      c.clock.Now(),
		MaxTime:   int(c.policy.MaxTime.Seconds()),
		RealTime:  c.timer.Elapsed().Seconds(),
		ImagePath: c.queue[c.index],
		FolderID:  c.policy.FolderID,
	}
	capture := c.policy.wantsCapture(manual)
	savePath := c.policy.SavePath
	ctx := c.runCtx

	log.Printf("Session: saving image %d (%s), manual=%v capture=%v", c.index, entry.ImagePath, manual, capture)
	go func() {
		id, err := c.gateway.RecordHistory(ctx, entry)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrSaveFailed, err)
			c.post(func() { c.saveFinished(p, SaveResult{}, err) })
			return
		}
		c.post(func() { c.historyRecorded(p, id) })

		res := SaveResult{HistoryID: id}
		if capture {
			res.ImagePath, res.CaptureErr = c.captureAndAttach(ctx, id, savePath)
		}
		c.post(func() { c.saveFinished(p, res, nil) })
	}()
	return p, nil
}

// captureAndAttach runs on the save goroutine.
func (c *Controller) captureAndAttach(ctx context.Context, historyID int64, savePath string) (string, error) {
	if c.capturer == nil {
		return "", fmt.Errorf("%w: no capture surface available", ErrCaptureFailed)
	}
	path, err := c.capturer.Capture(ctx, savePath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	if err := c.gateway.AttachImage(ctx, historyID, path); err != nil {
		return "", fmt.Errorf("%w: attach %s: %w", ErrCaptureFailed, path, err)
	}
	return path, nil
}

func (c *Controller) historyRecorded(p *pendingSave, id int64) {
	if p.session != c.session {
		log.Printf("Session: history %d belongs to a previous session", id)
		return
	}
	c.historyIDs = append(c.historyIDs, id)
	if p.visit == c.visit {
		c.saved = true
		c.lastSave = SaveResult{HistoryID: id}
	}
}

func (c *Controller) saveFinished(p *pendingSave, res SaveResult, err error) {
	if c.pending == p {
		c.pending = nil
	}
	current := p.visit == c.visit

	switch {
	case err != nil:
		log.Printf("Session: %v", err)
		c.notifier.Notify("Save failed", err.Error())
	case res.CaptureErr != nil:
		log.Printf("Session: history %d kept without drawing: %v", res.HistoryID, res.CaptureErr)
		c.notifier.Notify("Capture failed", res.CaptureErr.Error())
	default:
		log.Printf("Session: history %d saved", res.HistoryID)
	}
	if err == nil && current {
		c.lastSave = res
	}

	for _, w := range p.waiters {
		w <- saveOutcome{res: res, err: err}
	}

	if c.advance != p || !current || c.state != Advancing {
		return
	}
	if err != nil {
		// never drop an image whose data was not saved
		log.Printf("Session: advance aborted on image %d", c.index)
		c.resume()
		return
	}
	c.advanceNext()
}

// abandonSaves answers the waiters of the in-flight save once Run is gone.
func (c *Controller) abandonSaves() {
	if c.pending == nil {
		return
	}
	for _, w := range c.pending.waiters {
		select {
		case w <- saveOutcome{err: ErrClosed}:
		default:
		}
	}
	c.pending = nil
}
