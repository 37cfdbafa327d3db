// Package tabular reads and writes the CSV and XLSX files used to load and
// export research cache state.
package tabular

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune            // default ','
	HasHeader  bool            // if true, first row is skipped but sent to HeaderCh
	HeaderCh   chan<- []string // optional: receives the header row
	Comment    rune            // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV reads CSV records and sends rows to a channel.
// Caller must consume the returned row channel. Errors are sent on the error channel.
// Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			if first && opts.HasHeader {
				first = false
				if opts.HeaderCh != nil {
					select {
					case opts.HeaderCh <- record:
					case <-ctx.Done():
						errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled sending header")
						return
					}
				}
				continue
			}
			first = false

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV parses a CSV document whose first record is the header.
func ReadCSV(ctx context.Context, r io.Reader) (*Table, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(ctx, r, CSVOptions{
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
		TrimSpace:  true,
	})

	var records [][]string
	for rec := range rowCh {
		records = append(records, rec)
	}
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}

	var header []string
	select {
	case header = <-headerCh:
	default:
		return nil, eris.New("csv: missing header row")
	}

	return newTable(header, records), nil
}

// WriteCSV writes header followed by one record per row.
func WriteCSV(w io.Writer, header []string, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "csv: write header")
	}
	for _, row := range rows {
		if err := cw.Write(row.Values(header)); err != nil {
			return eris.Wrap(err, "csv: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}

func readCSVFile(ctx context.Context, path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadCSV(ctx, f)
}

func writeCSVFile(path string, header []string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "csv: create %s", path)
	}
	if err := WriteCSV(f, header, rows); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "csv: close")
}
