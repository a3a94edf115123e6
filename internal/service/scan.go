package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Dan9191/ledger-service/internal/repository"
)

const maxReceiptSize = 5 << 20

// ScanReceipt reads a receipt image through the configured scanner and
// returns transaction form defaults for it. Nothing is recorded: the caller
// submits the returned input through CreateTransaction like any other form.
func (s *Service) ScanReceipt(ctx context.Context, owner string, image []byte, contentType string) (*TransactionInput, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if s.scanner == nil {
		return nil, errors.New("receipt scanning is not configured")
	}
	if len(image) == 0 {
		return nil, invalid("receipt image is empty")
	}
	if len(image) > maxReceiptSize {
		return nil, invalid("receipt image too large (max %d bytes)", maxReceiptSize)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, invalid("unsupported receipt content type %q", contentType)
	}

	draft, err := s.scanner.Scan(ctx, image, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to scan receipt: %w", err)
	}

	in := &TransactionInput{
		Type:        string(models.Expense),
		Description: draft.Description,
		Category:    draft.Category,
	}
	if draft.Amount.IsPositive() {
		in.Amount = draft.Amount.StringFixed(amountScale)
	}
	date := draft.Date
	if date.IsZero() {
		date = s.now()
	}
	in.Date = date.In(s.loc).Format("2006-01-02")

	err = s.store.Atomic(ctx, func(q repository.Queries) error {
		account, err := q.GetDefaultAccount(ctx, owner)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		in.AccountID = account.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Receipt scanned for user %s: amount %q, category %q", owner, in.Amount, in.Category)
	return in, nil
}
