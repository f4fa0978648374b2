package service

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
	"golang.org/x/sync/errgroup"
)

// RunPollBatch reconciles every live link whose order has not been looked at
// within the poll staleness window.
func (s *SettlementService) RunPollBatch(ctx context.Context) error {
	now := s.now()
	before := now.Add(-s.cfg.PollStaleAfter)
	items, err := s.linkRepo.ListForPolling(ctx, before, s.batchSize())
	if err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.PollConcurrency)
	for _, link := range items {
		if link == nil || link.Status.Terminal() || link.OrderRef == "" {
			continue
		}

		linkID := link.ID
		g.Go(func() error {
			if _, err := s.Reconcile(gctx, linkID, SourcePoll); err != nil {
				s.logger.WithError(err).WithField("link_id", linkID).Warn("Poll reconciliation failed")
				mu.Lock()
				firstErr = keepFirstErr(firstErr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return firstErr
}

// RunAlertScanBatch reports links parked on a failed or unverifiable release.
func (s *SettlementService) RunAlertScanBatch(ctx context.Context) error {
	items, err := s.linkRepo.ListBlocked(ctx, []entity.BlockingReason{
		entity.BlockingTransferFailed,
		entity.BlockingManualReview,
	}, s.batchSize())
	if err != nil {
		return err
	}

	for _, link := range items {
		if link == nil {
			continue
		}
		detail := ""
		if link.BlockingDetail != nil {
			detail = *link.BlockingDetail
		}
		s.logger.WithFields(logrus.Fields{
			"alert":            string(link.BlockingReason),
			"link_id":          link.ID,
			"status":           link.Status,
			"release_attempts": link.ReleaseAttempts,
			"blocking_detail":  detail,
		}).Error("Link requires operator attention")
	}

	return nil
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
