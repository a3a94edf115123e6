package email

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"github.com/Dan9191/ledger-service/internal/config"
	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Rhymond/go-money"
	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg      config.SMTP
	currency string
	logger   *logrus.Logger
	send     func(e *email.Email) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{
		cfg:      cfg.SMTP,
		currency: cfg.Currency,
		logger:   logger,
	}
	s.send = func(e *email.Email) error {
		addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		return e.Send(addr, auth)
	}
	return s
}

// SendMonthlyReport emails the monthly report
func (s *Sender) SendMonthlyReport(_ context.Context, user models.User, report models.MonthlyReport) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{user.Email}
	e.Subject = fmt.Sprintf("Your Monthly Financial Report - %s", report.Month)
	e.Text = []byte(s.monthlyReportBody(user, report))
	return s.deliver(e, user)
}

// SendBudgetAlert emails a budget alert
func (s *Sender) SendBudgetAlert(_ context.Context, user models.User, alert models.BudgetAlert) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{user.Email}
	e.Subject = "Budget Alert"
	e.Text = []byte(s.budgetAlertBody(user, alert))
	return s.deliver(e, user)
}

func (s *Sender) monthlyReportBody(user models.User, report models.MonthlyReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", user.Username)
	fmt.Fprintf(&b, "Here is your financial summary for %s.\n\n", report.Month)
	fmt.Fprintf(&b, "Total income:   %s\n", s.format(report.TotalIncome))
	fmt.Fprintf(&b, "Total expenses: %s\n", s.format(report.TotalExpenses))
	fmt.Fprintf(&b, "Net:            %s\n", s.format(report.TotalIncome.Sub(report.TotalExpenses)))

	if len(report.ByCategory) > 0 {
		b.WriteString("\nExpenses by category:\n")
		categories := make([]string, 0, len(report.ByCategory))
		for c := range report.ByCategory {
			categories = append(categories, c)
		}
		sort.Slice(categories, func(i, j int) bool {
			if c := report.ByCategory[categories[i]].Cmp(report.ByCategory[categories[j]]); c != 0 {
				return c > 0
			}
			return categories[i] < categories[j]
		})
		for _, c := range categories {
			fmt.Fprintf(&b, "  %s: %s\n", c, s.format(report.ByCategory[c]))
		}
	}

	if len(report.Insights) > 0 {
		b.WriteString("\nInsights:\n")
		for _, insight := range report.Insights {
			fmt.Fprintf(&b, "  - %s\n", insight)
		}
	}
	b.WriteString("\nBest regards,\nLedger Service")
	return b.String()
}

func (s *Sender) budgetAlertBody(user models.User, alert models.BudgetAlert) string {
	remaining := decimal.Max(alert.BudgetAmount.Sub(alert.TotalExpenses), decimal.Zero)
	return fmt.Sprintf(
		"Dear %s,\n\n"+
			"You have used %s%% of your monthly budget.\n"+
			"Budget:    %s\n"+
			"Spent:     %s\n"+
			"Remaining: %s\n"+
			"\nBest regards,\nLedger Service",
		user.Username, alert.PercentageUsed.StringFixed(1),
		s.format(alert.BudgetAmount), s.format(alert.TotalExpenses), s.format(remaining),
	)
}

// format renders an amount in the configured currency
func (s *Sender) format(amount decimal.Decimal) string {
	// the constructor is the only way to get a never nil currency
	cur := money.New(0, s.currency).Currency()
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return cur.Formatter().Format(minor)
}

func (s *Sender) deliver(e *email.Email, user models.User) error {
	if err := s.send(e); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", user.Email, err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Infof("Email sent to %s: %s", user.Email, e.Subject)
	return nil
}
