package detect

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ringsight/ringsight/pkg/models"
)

// ErrInvalidInput marks artifacts that cannot be parsed as transaction data.
var ErrInvalidInput = models.ErrInvalidInput

var requiredColumns = []string{"transaction_id", "sender_id", "receiver_id", "amount", "timestamp"}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Transaction is one directed money movement between two accounts.
type Transaction struct {
	ID        string
	Sender    string
	Receiver  string
	Amount    float64
	Timestamp time.Time
}

// ParseCSV decodes the uploaded artifact. The header must contain the five
// required columns; extra columns are ignored.
func ParseCSV(data []byte) ([]Transaction, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrInvalidInput, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns: %s", ErrInvalidInput, strings.Join(missing, ", "))
	}

	var txs []Transaction
	for row := 2; ; row++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidInput, row, err)
		}

		amount, err := strconv.ParseFloat(strings.TrimSpace(record[cols["amount"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: bad amount %q", ErrInvalidInput, row, record[cols["amount"]])
		}
		ts, err := parseTimestamp(strings.TrimSpace(record[cols["timestamp"]]))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: bad timestamp %q", ErrInvalidInput, row, record[cols["timestamp"]])
		}

		txs = append(txs, Transaction{
			ID:        strings.TrimSpace(record[cols["transaction_id"]]),
			Sender:    strings.TrimSpace(record[cols["sender_id"]]),
			Receiver:  strings.TrimSpace(record[cols["receiver_id"]]),
			Amount:    amount,
			Timestamp: ts,
		})
	}

	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: no transactions", ErrInvalidInput)
	}
	return txs, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
