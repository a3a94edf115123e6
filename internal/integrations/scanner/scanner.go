package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Dan9191/ledger-service/internal/config"
	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const maxResponseSize = 1 << 20

// dateLayouts are the receipt date formats the scanner is known to produce
var dateLayouts = []string{"2006-01-02", time.RFC3339, "02.01.2006", "01/02/2006"}

// Client handles integration with the receipt scanning service. The service
// takes the raw image and answers with an XML document:
//
//	<receipt>
//	  <amount>12.50</amount>
//	  <date>2025-03-09</date>
//	  <merchant>Corner Shop</merchant>
//	  <category>groceries</category>
//	</receipt>
type Client struct {
	url    string
	client *http.Client
	log    *logrus.Logger
}

// NewClient initializes a new scanner client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url: cfg.ScannerURL,
		client: &http.Client{
			Timeout: cfg.ScannerTimeout,
		},
		log: log,
	}
}

// Scan sends the receipt image to the scanner and returns what it extracted
func (c *Client) Scan(ctx context.Context, image []byte, contentType string) (*models.ReceiptDraft, error) {
	body, err := c.sendRequest(ctx, image, contentType)
	if err != nil {
		return nil, err
	}
	draft, err := parseXMLResponse(body)
	if err != nil {
		return nil, err
	}

	c.log.Infof("Receipt scanned: amount %s, merchant %q", draft.Amount.StringFixed(2), draft.Description)
	return draft, nil
}

// sendRequest posts the image to the scanner
func (c *Client) sendRequest(ctx context.Context, image []byte, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Log the raw XML response for debugging
	c.log.Debugf("Scanner XML response: %s", string(body))

	return body, nil
}

// parseXMLResponse extracts the receipt draft from the scanner response
func parseXMLResponse(rawBody []byte) (*models.ReceiptDraft, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	receipt := doc.FindElement("//receipt")
	if receipt == nil {
		return nil, fmt.Errorf("no receipt data found in XML")
	}

	draft := &models.ReceiptDraft{
		Description: text(receipt, "merchant"),
		Category:    strings.ToLower(text(receipt, "category")),
	}
	if draft.Description == "" {
		draft.Description = text(receipt, "description")
	}

	if raw := text(receipt, "amount"); raw != "" {
		amount, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount %q: %w", raw, err)
		}
		draft.Amount = amount.Abs()
	}

	if raw := text(receipt, "date"); raw != "" {
		for _, layout := range dateLayouts {
			if d, err := time.Parse(layout, raw); err == nil {
				draft.Date = d
				break
			}
		}
	}
	return draft, nil
}

func text(parent *etree.Element, tag string) string {
	el := parent.FindElement("./" + tag)
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}
