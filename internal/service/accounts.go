package service

import (
	"context"
	"fmt"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Dan9191/ledger-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CreateAccount creates a new account for the owner. The owner's first
// account always becomes the default; a new default displaces the old one.
func (s *Service) CreateAccount(ctx context.Context, owner string, in AccountInput) (*models.Account, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	intent, err := in.Validate()
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		ID:        uuid.NewString(),
		UserID:    owner,
		Name:      intent.Name,
		Type:      intent.Type,
		Balance:   intent.Balance,
		IsDefault: intent.IsDefault,
	}
	err = s.store.Atomic(ctx, func(q repository.Queries) error {
		existing, err := q.ListAccounts(ctx, owner)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			account.IsDefault = true
		}
		if account.IsDefault {
			if err := q.ClearDefault(ctx, owner); err != nil {
				return err
			}
		}
		return q.CreateAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Account created for user %s: %s (%s)", owner, account.ID, account.Type)
	return account, nil
}

// GetAccount returns one of the owner's accounts
func (s *Service) GetAccount(ctx context.Context, owner, id string) (*models.Account, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if err := validateID(id, "account"); err != nil {
		return nil, err
	}
	var account *models.Account
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		var err error
		account, err = ownedAccount(ctx, q, id, owner)
		return err
	})
	return account, err
}

// ListAccounts returns the owner's accounts, oldest first
func (s *Service) ListAccounts(ctx context.Context, owner string) ([]models.Account, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	var accounts []models.Account
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		var err error
		accounts, err = q.ListAccounts(ctx, owner)
		return err
	})
	return accounts, err
}

// GetAccountWithTransactions returns an account with its transactions, newest first
func (s *Service) GetAccountWithTransactions(ctx context.Context, owner, id string) (*models.AccountDetail, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if err := validateID(id, "account"); err != nil {
		return nil, err
	}
	detail := &models.AccountDetail{}
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		account, err := ownedAccount(ctx, q, id, owner)
		if err != nil {
			return err
		}
		txs, err := q.ListTransactions(ctx, owner, models.TransactionFilter{AccountID: id})
		if err != nil {
			return err
		}
		detail.Account = *account
		detail.Transactions = txs
		detail.TransactionCount = len(txs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// DeleteAccount removes an account and all of its transactions. The owner's
// only account and the default account cannot be deleted.
func (s *Service) DeleteAccount(ctx context.Context, owner, id string) error {
	if err := requireOwner(owner); err != nil {
		return err
	}
	if err := validateID(id, "account"); err != nil {
		return err
	}

	var removed int64
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		account, err := ownedAccount(ctx, q, id, owner)
		if err != nil {
			return err
		}
		accounts, err := q.ListAccounts(ctx, owner)
		if err != nil {
			return err
		}
		if len(accounts) <= 1 {
			return fmt.Errorf("cannot delete the only account: %w", models.ErrConflict)
		}
		if account.IsDefault {
			return fmt.Errorf("cannot delete the default account, set another account as default first: %w", models.ErrConflict)
		}
		if removed, err = q.DeleteAccountTransactions(ctx, id); err != nil {
			return err
		}
		return q.DeleteAccount(ctx, id)
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":              owner,
		"account_id":           id,
		"transactions_removed": removed,
	}).Info("Account deleted")
	return nil
}

// SetDefaultAccount makes id the owner's only default account
func (s *Service) SetDefaultAccount(ctx context.Context, owner, id string) (*models.Account, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if err := validateID(id, "account"); err != nil {
		return nil, err
	}

	var account *models.Account
	err := s.store.Atomic(ctx, func(q repository.Queries) error {
		a, err := q.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if a.UserID != owner {
			return fmt.Errorf("account %s does not belong to the user: %w", id, models.ErrConflict)
		}
		if err := q.ClearDefault(ctx, owner); err != nil {
			return err
		}
		if err := q.MarkDefault(ctx, id); err != nil {
			return err
		}
		a.IsDefault = true
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Default account for user %s set to %s", owner, id)
	return account, nil
}

// UpdateBalance overwrites an account balance without touching its
// transactions. This is the one operation allowed to move a balance away
// from the sum of its transactions, and only on explicit user request.
func (s *Service) UpdateBalance(ctx context.Context, owner, id, newBalance string) (*models.Account, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if err := validateID(id, "account"); err != nil {
		return nil, err
	}
	balance, err := ParseBalance(newBalance)
	if err != nil {
		return nil, err
	}

	var account *models.Account
	err = s.store.Atomic(ctx, func(q repository.Queries) error {
		a, err := ownedAccount(ctx, q, id, owner)
		if err != nil {
			return err
		}
		if err := q.SetBalance(ctx, id, balance); err != nil {
			return err
		}
		a.Balance = balance
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":    owner,
		"account_id": id,
		"balance":    balance.StringFixed(2),
	}).Warn("Account balance overridden manually")
	return account, nil
}
